package plan

// Visitor has one method per plan node kind. Adding a node kind breaks every implementation
// at compile time.
type Visitor interface {
	VisitFetch(n *FetchNode)
	VisitFlatten(n *FlattenNode)
	VisitSequence(n *SequenceNode)
	VisitParallel(n *ParallelNode)
	VisitCondition(n *ConditionNode)
	VisitDefer(n *DeferNode)
	VisitSubscription(n *SubscriptionNode)
}

func (n *FetchNode) Accept(v Visitor)        { v.VisitFetch(n) }
func (n *FlattenNode) Accept(v Visitor)      { v.VisitFlatten(n) }
func (n *SequenceNode) Accept(v Visitor)     { v.VisitSequence(n) }
func (n *ParallelNode) Accept(v Visitor)     { v.VisitParallel(n) }
func (n *ConditionNode) Accept(v Visitor)    { v.VisitCondition(n) }
func (n *DeferNode) Accept(v Visitor)        { v.VisitDefer(n) }
func (n *SubscriptionNode) Accept(v Visitor) { v.VisitSubscription(n) }

// Walk dispatches node to v. A nil node is ignored.
func Walk(node PlanNode, v Visitor) {
	if node == nil {
		return
	}
	node.Accept(v)
}

// Children returns the direct child nodes of node in document order.
func Children(node PlanNode) []PlanNode {
	c := &childCollector{}
	Walk(node, c)
	return c.children
}

type childCollector struct {
	children []PlanNode
}

func (c *childCollector) add(nodes ...PlanNode) {
	for _, n := range nodes {
		if n != nil {
			c.children = append(c.children, n)
		}
	}
}

func (c *childCollector) VisitFetch(*FetchNode)           {}
func (c *childCollector) VisitFlatten(n *FlattenNode)     { c.add(n.Node) }
func (c *childCollector) VisitSequence(n *SequenceNode)   { c.add(n.Nodes...) }
func (c *childCollector) VisitParallel(n *ParallelNode)   { c.add(n.Nodes...) }
func (c *childCollector) VisitCondition(n *ConditionNode) { c.add(n.IfClause, n.ElseClause) }
func (c *childCollector) VisitSubscription(n *SubscriptionNode) {
	if n.Primary != nil {
		c.add(n.Primary)
	}
	c.add(n.Rest)
}
func (c *childCollector) VisitDefer(n *DeferNode) {
	if n.Primary != nil {
		c.add(n.Primary.Node)
	}
	for _, d := range n.Deferred {
		c.add(d.Node)
	}
}

// Inspect traverses the plan depth-first. fn returning false stops the descent into a node.
func Inspect(node PlanNode, fn func(PlanNode) bool) {
	if node == nil || !fn(node) {
		return
	}
	for _, child := range Children(node) {
		Inspect(child, fn)
	}
}

// FetchNodes returns every fetch of the plan in document order.
func FetchNodes(node PlanNode) []*FetchNode {
	var fetches []*FetchNode
	Inspect(node, func(n PlanNode) bool {
		if f, ok := n.(*FetchNode); ok {
			fetches = append(fetches, f)
		}
		return true
	})
	return fetches
}
