package planner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
)

func entityFetchSequence(rootID *int) *plan.SequenceNode {
	return &plan.SequenceNode{Nodes: []plan.PlanNode{
		&plan.FetchNode{
			ServiceName:   "A",
			ID:            rootID,
			Operation:     "{t{__typename id v1}}",
			OperationKind: plan.OperationKindQuery,
		},
		&plan.FlattenNode{
			Path: []string{"t"},
			Node: &plan.FetchNode{
				ServiceName:   "B",
				Operation:     entitiesPrefix + "...on T{v2}}}",
				OperationKind: plan.OperationKindQuery,
				Requires:      entityRequires("T", "__typename", "id"),
			},
		},
	}}
}

func deferredEntityPlan() *plan.DeferNode {
	return &plan.DeferNode{
		Primary: &plan.PrimaryDeferBlock{
			SubSelection: "{t{v1}}",
			Node: &plan.FetchNode{
				ServiceName:   "A",
				ID:            intPtr(0),
				Operation:     "{t{__typename id v1}}",
				OperationKind: plan.OperationKindQuery,
			},
		},
		Deferred: []*plan.DeferredNode{{
			Depends:      []plan.DeferredDependency{{ID: 0}},
			Label:        "qp__0",
			QueryPath:    []string{"t"},
			SubSelection: "{v2}",
			Node: &plan.FlattenNode{
				Path: []string{"t"},
				Node: &plan.FetchNode{
					ServiceName:   "B",
					Operation:     entitiesPrefix + "...on T{v2}}}",
					OperationKind: plan.OperationKindQuery,
					Requires:      entityRequires("T", "__typename", "id"),
				},
			},
		}},
	}
}

func TestPlanner_DeferIgnoredWithoutIncrementalDelivery(t *testing.T) {
	p := planner.New(newSuperGraph(t, entitySchemas), planner.Config{})

	got := buildPlan(t, p, `{ t { v1 ... @defer { v2 } } }`, "")

	diffPlan(t, &plan.QueryPlan{Node: entityFetchSequence(nil)}, got)
}

func TestPlanner_DeferEntityFields(t *testing.T) {
	p := planner.New(newSuperGraph(t, entitySchemas), planner.Config{IncrementalDelivery: true})

	got := buildPlan(t, p, `{ t { v1 ... @defer { v2 } } }`, "")

	diffPlan(t, &plan.QueryPlan{Node: deferredEntityPlan()}, got)
}

func TestPlanner_DeferLiteralFalse(t *testing.T) {
	p := planner.New(newSuperGraph(t, entitySchemas), planner.Config{IncrementalDelivery: true})

	got := buildPlan(t, p, `{ t { v1 ... @defer(if: false) { v2 } } }`, "")

	diffPlan(t, &plan.QueryPlan{Node: entityFetchSequence(nil)}, got)
}

func TestPlanner_DeferConditionVariable(t *testing.T) {
	p := planner.New(newSuperGraph(t, entitySchemas), planner.Config{IncrementalDelivery: true})

	got := buildPlan(t, p, `query($d: Boolean!) { t { v1 ... @defer(if: $d) { v2 } } }`, "")

	want := &plan.QueryPlan{Node: &plan.ConditionNode{
		Condition:  "d",
		IfClause:   deferredEntityPlan(),
		ElseClause: entityFetchSequence(nil),
	}}
	diffPlan(t, want, got)

	// one plan per value of $d
	if n := p.LastGeneratedPlanStatistics().EvaluatedPlanCount; n != 2 {
		t.Errorf("EvaluatedPlanCount = %d, want 2", n)
	}
}

var subscriptionSchemas = map[string]string{
	"A": `
		type Query {
			t: T
		}

		type Subscription {
			onT: T
		}

		type T @key(fields: "id") {
			id: ID!
			v1: Int
		}
	`,
	"B": entitySchemas["B"],
}

func TestPlanner_Subscription(t *testing.T) {
	p := planner.New(newSuperGraph(t, subscriptionSchemas), planner.Config{})

	got := buildPlan(t, p, `subscription { onT { v1 v2 } }`, "")

	want := &plan.QueryPlan{Node: &plan.SubscriptionNode{
		Primary: &plan.FetchNode{
			ServiceName:   "A",
			Operation:     "subscription{onT{__typename id v1}}",
			OperationKind: plan.OperationKindSubscription,
		},
		Rest: &plan.FlattenNode{
			Path: []string{"onT"},
			Node: &plan.FetchNode{
				ServiceName:   "B",
				Operation:     entitiesPrefix + "...on T{v2}}}",
				OperationKind: plan.OperationKindQuery,
				Requires:      entityRequires("T", "__typename", "id"),
			},
		},
	}}
	diffPlan(t, want, got)
}

func TestPlanner_DeferInSubscription(t *testing.T) {
	p := planner.New(newSuperGraph(t, subscriptionSchemas), planner.Config{IncrementalDelivery: true})

	_, err := p.Plan(context.Background(), `subscription { onT { v1 ... @defer { v2 } } }`, "")
	if !errors.Is(err, planner.ErrDeferInSubscription) {
		t.Errorf("error = %v, want %v", err, planner.ErrDeferInSubscription)
	}
}
