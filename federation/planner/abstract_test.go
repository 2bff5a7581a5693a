package planner_test

import (
	"context"
	"testing"
	"time"

	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
	"github.com/stretchr/testify/require"
)

// SearchResult is a union served by A. Book is an entity whose rating lives in B, where it
// also implements Reviewable.
var searchSchemas = map[string]string{
	"A": `
		type Query {
			search: [SearchResult]
		}

		union SearchResult = Book | Author

		type Book @key(fields: "id") {
			id: ID!
			title: String
		}

		type Author {
			name: String
		}
	`,
	"B": `
		interface Reviewable {
			rating: Int
		}

		type Book implements Reviewable @key(fields: "id") {
			id: ID!
			rating: Int
		}
	`,
}

// Book is the only implementation of Item.
var singleImplementationSchemas = map[string]string{
	"A": `
		type Query {
			items: [Item]
		}

		interface Item {
			id: ID!
		}

		type Book implements Item {
			id: ID!
			title: String
		}
	`,
}

// Item is an entity interface in A and an @interfaceObject in B, which adds rating to every
// implementation.
var interfaceObjectSchemas = map[string]string{
	"A": `
		type Query {
			items: [Item]
		}

		interface Item @key(fields: "id") {
			id: ID!
		}

		type Book implements Item @key(fields: "id") {
			id: ID!
			title: String
		}
	`,
	"B": `
		type Item @key(fields: "id") @interfaceObject {
			id: ID!
			rating: Int
		}
	`,
}

func bookRatingPlan(mergeAt ...string) *plan.QueryPlan {
	return &plan.QueryPlan{Node: &plan.SequenceNode{Nodes: []plan.PlanNode{
		&plan.FetchNode{
			ServiceName:   "A",
			Operation:     "{search{__typename...on Book{__typename id}}}",
			OperationKind: plan.OperationKindQuery,
		},
		&plan.FlattenNode{
			Path: mergeAt,
			Node: &plan.FetchNode{
				ServiceName:   "B",
				Operation:     entitiesPrefix + "...on Book{rating}}}",
				OperationKind: plan.OperationKindQuery,
				Requires:      entityRequires("Book", "__typename", "id"),
			},
		},
	}}}
}

func TestPlanner_AbstractTypes(t *testing.T) {
	superGraph := newSuperGraph(t, searchSchemas)

	tests := []struct {
		name  string
		cfg   planner.Config
		query string
		want  *plan.QueryPlan
	}{
		{
			name:  "union member selected locally",
			query: `{ search { ... on Book { title } } }`,
			want: &plan.QueryPlan{Node: &plan.FetchNode{
				ServiceName:   "A",
				Operation:     "{search{__typename...on Book{title}}}",
				OperationKind: plan.OperationKindQuery,
			}},
		},
		{
			name:  "several union members",
			query: `{ search { ... on Author { name } ... on Book { title } } }`,
			want: &plan.QueryPlan{Node: &plan.FetchNode{
				ServiceName:   "A",
				Operation:     "{search{__typename...on Author{name}...on Book{title}}}",
				OperationKind: plan.OperationKindQuery,
			}},
		},
		{
			name:  "union member jumps to another subgraph",
			query: `{ search { ... on Book { rating } } }`,
			want:  bookRatingPlan("search", "@"),
		},
		{
			name:  "interface unknown to the subgraph is split per runtime type",
			query: `{ search { ... on Reviewable { rating } } }`,
			want:  bookRatingPlan("search", "@"),
		},
		{
			name:  "fragment without a common runtime type is dropped",
			query: `{ search { ... on Reviewable { ... on Author { name } } } }`,
			want: &plan.QueryPlan{Node: &plan.FetchNode{
				ServiceName:   "A",
				Operation:     "{search{__typename}}",
				OperationKind: plan.OperationKindQuery,
			}},
		},
		{
			name:  "type conditioned fetching marks the merge path",
			cfg:   planner.Config{TypeConditionedFetching: true},
			query: `{ search { ... on Book { rating } } }`,
			want:  bookRatingPlan("search", "@|[Book]"),
		},
		{
			name:  "type conditioned fetching after a split",
			cfg:   planner.Config{TypeConditionedFetching: true},
			query: `{ search { ... on Reviewable { rating } } }`,
			want:  bookRatingPlan("search", "@|[Book]"),
		},
		{
			name:  "type conditioned fetching leaves local fetches alone",
			cfg:   planner.Config{TypeConditionedFetching: true},
			query: `{ search { ... on Book { title } } }`,
			want: &plan.QueryPlan{Node: &plan.FetchNode{
				ServiceName:   "A",
				Operation:     "{search{__typename...on Book{title}}}",
				OperationKind: plan.OperationKindQuery,
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := planner.New(superGraph, tt.cfg)
			diffPlan(t, tt.want, buildPlan(t, p, tt.query, ""))
		})
	}
}

func TestPlanner_DowncastToOnlyImplementation(t *testing.T) {
	p := planner.New(newSuperGraph(t, singleImplementationSchemas), planner.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := p.Plan(ctx, `{ items { ... on Book { title } } }`, "")
	require.NoError(t, err)

	want := &plan.QueryPlan{Node: &plan.FetchNode{
		ServiceName:   "A",
		Operation:     "{items{__typename...on Book{title}}}",
		OperationKind: plan.OperationKindQuery,
	}}
	diffPlan(t, want, got)
}

func TestPlanner_InterfaceObject(t *testing.T) {
	p := planner.New(newSuperGraph(t, interfaceObjectSchemas), planner.Config{})

	tests := []struct {
		name  string
		query string
		want  *plan.QueryPlan
	}{
		{
			name:  "interface field from the interface object",
			query: `{ items { rating } }`,
			want: &plan.QueryPlan{Node: &plan.SequenceNode{Nodes: []plan.PlanNode{
				&plan.FetchNode{
					ServiceName:   "A",
					Operation:     "{items{__typename id}}",
					OperationKind: plan.OperationKindQuery,
				},
				&plan.FlattenNode{
					Path: []string{"items", "@"},
					Node: &plan.FetchNode{
						ServiceName:   "B",
						Operation:     entitiesPrefix + "...on Item{rating}}}",
						OperationKind: plan.OperationKindQuery,
						Requires:      entityRequires("Item", "__typename", "id"),
						InputRewrites: []*plan.InputRewrite{{
							Path:       []string{"... on Item", "__typename"},
							SetValueTo: "Item",
						}},
					},
				},
			}}},
		},
		{
			name:  "only implementation narrowed before the jump",
			query: `{ items { ... on Book { rating } } }`,
			want: &plan.QueryPlan{Node: &plan.SequenceNode{Nodes: []plan.PlanNode{
				&plan.FetchNode{
					ServiceName:   "A",
					Operation:     "{items{__typename...on Book{__typename id}}}",
					OperationKind: plan.OperationKindQuery,
				},
				&plan.FlattenNode{
					Path: []string{"items", "@"},
					Node: &plan.FetchNode{
						ServiceName:   "B",
						Operation:     entitiesPrefix + "...on Item{rating}}}",
						OperationKind: plan.OperationKindQuery,
						Requires:      entityRequires("Book", "__typename", "id"),
						InputRewrites: []*plan.InputRewrite{{
							Path:       []string{"... on Book", "__typename"},
							SetValueTo: "Item",
						}},
					},
				},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			got, err := p.Plan(ctx, tt.query, "")
			require.NoError(t, err)
			diffPlan(t, tt.want, got)
		})
	}
}
