// Package plan defines the query plan produced by the planner and consumed by an execution layer.
package plan

// OperationKind is the kind of a subgraph operation.
type OperationKind string

const (
	OperationKindQuery        OperationKind = "query"
	OperationKindMutation     OperationKind = "mutation"
	OperationKindSubscription OperationKind = "subscription"
)

// QueryPlan is the root of a plan. A nil Node means there is nothing to fetch.
type QueryPlan struct {
	Node PlanNode
}

// PlanNode is implemented by every plan node kind.
type PlanNode interface {
	isPlanNode()
	Accept(v Visitor)
}

// FetchNode is one request to one subgraph.
type FetchNode struct {
	ServiceName string
	// ID is only set when a deferred block depends on this fetch.
	ID             *int
	VariableUsages []string
	Operation      string
	OperationName  string
	OperationKind  OperationKind
	// Requires is the representation selection sent as _entities input.
	Requires            []*Selection
	InputRewrites       []*InputRewrite
	InclusionConditions [][]InclusionCondition
}

// SelectionKind discriminates Selection.
type SelectionKind string

const (
	SelectionKindField          SelectionKind = "Field"
	SelectionKindInlineFragment SelectionKind = "InlineFragment"
)

// Selection is a trimmed selection tree: names and type conditions only.
type Selection struct {
	Kind          SelectionKind
	Name          string
	TypeCondition string
	Selections    []*Selection
}

// InputRewrite overwrites a value of an entity representation before it is sent.
type InputRewrite struct {
	Path       []string
	SetValueTo string
}

// InclusionCondition is a variable bound by @skip (Negated) or @include.
type InclusionCondition struct {
	Variable string
	Negated  bool
}

// FlattenNode applies Node at a nested response path. "@" marks a list level.
type FlattenNode struct {
	Path []string
	Node PlanNode
}

// SequenceNode runs its nodes one after the other.
type SequenceNode struct {
	Nodes []PlanNode
}

// ParallelNode runs its nodes concurrently.
type ParallelNode struct {
	Nodes []PlanNode
}

// ConditionNode picks one of two precomputed plans from a boolean variable.
type ConditionNode struct {
	Condition  string
	IfClause   PlanNode
	ElseClause PlanNode
}

// DeferNode splits a plan into a primary part and incrementally delivered parts.
type DeferNode struct {
	Primary  *PrimaryDeferBlock
	Deferred []*DeferredNode
}

// PrimaryDeferBlock is the non-deferred part of a DeferNode.
type PrimaryDeferBlock struct {
	SubSelection string
	Node         PlanNode
}

// DeferredNode is one @defer block. Node is nil when its fields were fetched by the primary part.
type DeferredNode struct {
	Depends      []DeferredDependency
	Label        string
	QueryPath    []string
	SubSelection string
	Node         PlanNode
}

// DeferredDependency references a FetchNode ID a deferred block waits for.
type DeferredDependency struct {
	ID         int
	DeferLabel string
}

// SubscriptionNode starts a subscription with Primary and runs Rest for every event.
type SubscriptionNode struct {
	Primary *FetchNode
	Rest    PlanNode
}

func (*FetchNode) isPlanNode()        {}
func (*FlattenNode) isPlanNode()      {}
func (*SequenceNode) isPlanNode()     {}
func (*ParallelNode) isPlanNode()     {}
func (*ConditionNode) isPlanNode()    {}
func (*DeferNode) isPlanNode()        {}
func (*SubscriptionNode) isPlanNode() {}
