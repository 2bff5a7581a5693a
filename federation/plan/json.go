package plan

import (
	"github.com/goccy/go-json"
)

// MarshalJSON encodes the plan with a "kind" discriminator on every node.
func (p *QueryPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string   `json:"kind"`
		Node PlanNode `json:"node,omitempty"`
	}{Kind: "QueryPlan", Node: p.Node})
}

type inputRewriteJSON struct {
	Kind       string   `json:"kind"`
	Path       []string `json:"path"`
	SetValueTo string   `json:"setValueTo"`
}

func (n *FetchNode) MarshalJSON() ([]byte, error) {
	rewrites := make([]inputRewriteJSON, 0, len(n.InputRewrites))
	for _, r := range n.InputRewrites {
		rewrites = append(rewrites, inputRewriteJSON{Kind: "ValueSetter", Path: r.Path, SetValueTo: r.SetValueTo})
	}
	variables := n.VariableUsages
	if variables == nil {
		variables = []string{}
	}
	return json.Marshal(struct {
		Kind                string                 `json:"kind"`
		ServiceName         string                 `json:"serviceName"`
		ID                  *int                   `json:"id,omitempty"`
		VariableUsages      []string               `json:"variableUsages"`
		Operation           string                 `json:"operation"`
		OperationName       string                 `json:"operationName,omitempty"`
		OperationKind       OperationKind          `json:"operationKind"`
		Requires            []*Selection           `json:"requires,omitempty"`
		InputRewrites       []inputRewriteJSON     `json:"inputRewrites,omitempty"`
		InclusionConditions [][]InclusionCondition `json:"inclusionConditions,omitempty"`
	}{
		Kind:                "Fetch",
		ServiceName:         n.ServiceName,
		ID:                  n.ID,
		VariableUsages:      variables,
		Operation:           n.Operation,
		OperationName:       n.OperationName,
		OperationKind:       n.OperationKind,
		Requires:            n.Requires,
		InputRewrites:       rewrites,
		InclusionConditions: n.InclusionConditions,
	})
}

func (s *Selection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind          SelectionKind `json:"kind"`
		Name          string        `json:"name,omitempty"`
		TypeCondition string        `json:"typeCondition,omitempty"`
		Selections    []*Selection  `json:"selections,omitempty"`
	}{s.Kind, s.Name, s.TypeCondition, s.Selections})
}

func (c InclusionCondition) MarshalJSON() ([]byte, error) {
	directive := "include"
	if c.Negated {
		directive = "skip"
	}
	return json.Marshal(struct {
		Variable  string `json:"variable"`
		Directive string `json:"directive"`
	}{c.Variable, directive})
}

func (n *FlattenNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string   `json:"kind"`
		Path []string `json:"path"`
		Node PlanNode `json:"node"`
	}{"Flatten", n.Path, n.Node})
}

func (n *SequenceNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string     `json:"kind"`
		Nodes []PlanNode `json:"nodes"`
	}{"Sequence", n.Nodes})
}

func (n *ParallelNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string     `json:"kind"`
		Nodes []PlanNode `json:"nodes"`
	}{"Parallel", n.Nodes})
}

func (n *ConditionNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind       string   `json:"kind"`
		Condition  string   `json:"condition"`
		IfClause   PlanNode `json:"ifClause,omitempty"`
		ElseClause PlanNode `json:"elseClause,omitempty"`
	}{"Condition", n.Condition, n.IfClause, n.ElseClause})
}

type primaryDeferBlockJSON struct {
	SubSelection string   `json:"subselection,omitempty"`
	Node         PlanNode `json:"node,omitempty"`
}

type deferredDependencyJSON struct {
	ID         int    `json:"id"`
	DeferLabel string `json:"deferLabel,omitempty"`
}

type deferredNodeJSON struct {
	Depends      []deferredDependencyJSON `json:"depends"`
	Label        string                   `json:"label,omitempty"`
	QueryPath    []string                 `json:"queryPath"`
	SubSelection string                   `json:"subselection,omitempty"`
	Node         PlanNode                 `json:"node,omitempty"`
}

func (n *DeferNode) MarshalJSON() ([]byte, error) {
	var primary primaryDeferBlockJSON
	if n.Primary != nil {
		primary = primaryDeferBlockJSON{SubSelection: n.Primary.SubSelection, Node: n.Primary.Node}
	}
	deferred := make([]deferredNodeJSON, 0, len(n.Deferred))
	for _, d := range n.Deferred {
		depends := make([]deferredDependencyJSON, 0, len(d.Depends))
		for _, dep := range d.Depends {
			depends = append(depends, deferredDependencyJSON(dep))
		}
		queryPath := d.QueryPath
		if queryPath == nil {
			queryPath = []string{}
		}
		deferred = append(deferred, deferredNodeJSON{
			Depends:      depends,
			Label:        d.Label,
			QueryPath:    queryPath,
			SubSelection: d.SubSelection,
			Node:         d.Node,
		})
	}
	return json.Marshal(struct {
		Kind     string                `json:"kind"`
		Primary  primaryDeferBlockJSON `json:"primary"`
		Deferred []deferredNodeJSON    `json:"deferred"`
	}{"Defer", primary, deferred})
}

func (n *SubscriptionNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    string     `json:"kind"`
		Primary *FetchNode `json:"primary"`
		Rest    PlanNode   `json:"rest,omitempty"`
	}{"Subscription", n.Primary, n.Rest})
}
