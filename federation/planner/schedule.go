package planner

import (
	"sort"
	"strconv"
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/vektah/gqlparser/v2/ast"
)

// emitter renders an optimized fetch dependency graph as plan nodes.
type emitter struct {
	op        *operation
	graph     *FetchDependencyGraph
	fallbacks map[string]map[int]bool
	printer   *operationPrinter

	byLabel map[string][]*FetchGroup
	depends map[string][]*FetchGroup
	needsID map[int]bool
	counter int
}

func newEmitter(pc *planningContext, b *builder) *emitter {
	e := &emitter{
		op:        pc.op,
		graph:     b.graph,
		fallbacks: b.deferFallbacks,
		printer:   newOperationPrinter(pc.op, pc.cfg.ReuseQueryFragments),
		byLabel:   make(map[string][]*FetchGroup),
		depends:   make(map[string][]*FetchGroup),
		needsID:   make(map[int]bool),
	}
	for _, g := range b.graph.Groups() {
		e.byLabel[g.deferRef] = append(e.byLabel[g.deferRef], g)
	}
	e.collectDeferDependencies()
	return e
}

// collectDeferDependencies computes the fetches every deferred block waits for: the
// dependencies of its groups outside the block and the groups fetching its fields early.
func (e *emitter) collectDeferDependencies() {
	for _, block := range e.op.defers {
		ids := make(map[int]bool)
		for _, g := range e.byLabel[block.label] {
			for _, dep := range e.graph.Dependencies(g) {
				if dep.deferRef != block.label {
					ids[dep.id] = true
				}
			}
		}
		for id := range e.fallbacks[block.label] {
			if g := e.graph.group(id); !g.removed && g.deferRef != block.label {
				ids[id] = true
			}
		}
		for _, id := range sortedIDs(ids) {
			e.needsID[id] = true
			e.depends[block.label] = append(e.depends[block.label], e.graph.group(id))
		}
	}
}

func (e *emitter) emit() plan.PlanNode {
	if len(e.graph.Groups()) == 0 {
		return nil
	}
	if e.op.kind == ast.Subscription {
		return e.subscription()
	}
	return e.deferNode("", e.op.selection)
}

func (e *emitter) subscription() plan.PlanNode {
	var primary *FetchGroup
	var rest []*FetchGroup
	for _, g := range e.byLabel[""] {
		if primary == nil && g.root {
			primary = g
			continue
		}
		rest = append(rest, g)
	}
	if primary == nil {
		return e.schedule(rest)
	}
	return &plan.SubscriptionNode{
		Primary: e.fetch(primary),
		Rest:    e.schedule(rest),
	}
}

// deferNode emits the groups of label and wraps them with the blocks deferred directly
// below it.
func (e *emitter) deferNode(label string, selection ast.SelectionSet) plan.PlanNode {
	var children []*deferBlock
	for _, block := range e.op.defers {
		if block.parent == label {
			children = append(children, block)
		}
	}
	primary := e.schedule(e.byLabel[label])
	if len(children) == 0 {
		return primary
	}

	node := &plan.DeferNode{
		Primary: &plan.PrimaryDeferBlock{
			SubSelection: printSelectionSet(withoutDefers(selection)),
			Node:         primary,
		},
	}
	for _, block := range children {
		deferred := &plan.DeferredNode{
			Label:        block.label,
			QueryPath:    block.queryPath,
			SubSelection: printSelectionSet(withoutDefers(block.selection)),
			Node:         e.deferNode(block.label, block.selection),
		}
		for _, dep := range e.depends[block.label] {
			deferred.Depends = append(deferred.Depends, plan.DeferredDependency{ID: dep.id, DeferLabel: dep.deferRef})
		}
		node.Deferred = append(node.Deferred, deferred)
	}
	return node
}

// schedule orders groups topologically and cuts the order into stages of independent
// groups: Sequence over stages, Parallel inside a stage.
func (e *emitter) schedule(groups []*FetchGroup) plan.PlanNode {
	if len(groups) == 0 {
		return nil
	}
	ordered := e.order(groups)

	var stages [][]*FetchGroup
	var current []*FetchGroup
	inCurrent := make(map[int]bool)
	for _, g := range ordered {
		for _, dep := range e.graph.Dependencies(g) {
			if inCurrent[dep.id] {
				stages = append(stages, current)
				current = nil
				inCurrent = make(map[int]bool)
				break
			}
		}
		current = append(current, g)
		inCurrent[g.id] = true
	}
	stages = append(stages, current)

	nodes := make([]plan.PlanNode, 0, len(stages))
	for _, stage := range stages {
		members := make([]plan.PlanNode, 0, len(stage))
		for _, g := range stage {
			members = append(members, e.node(g))
		}
		if len(members) == 1 {
			nodes = append(nodes, members[0])
		} else {
			nodes = append(nodes, &plan.ParallelNode{Nodes: members})
		}
	}
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &plan.SequenceNode{Nodes: nodes}
}

// order is a Coffman-Graham style topological sort. Among the ready groups, the one whose
// latest dependency was placed last goes first, so a dependent follows its dependency and
// independent groups join the later stage. Ties prefer fewer dependencies, then the lower id.
func (e *emitter) order(groups []*FetchGroup) []*FetchGroup {
	member := make(map[int]bool, len(groups))
	for _, g := range groups {
		member[g.id] = true
	}
	position := make(map[int]int, len(groups))
	remaining := append([]*FetchGroup(nil), groups...)
	ordered := make([]*FetchGroup, 0, len(groups))

	for len(remaining) > 0 {
		type readyGroup struct {
			group  *FetchGroup
			latest int
			deps   int
		}
		var ready []readyGroup
		for _, g := range remaining {
			latest, deps, ok := -1, 0, true
			for _, dep := range e.graph.Dependencies(g) {
				if !member[dep.id] {
					continue
				}
				p, placed := position[dep.id]
				if !placed {
					ok = false
					break
				}
				deps++
				if p > latest {
					latest = p
				}
			}
			if ok {
				ready = append(ready, readyGroup{group: g, latest: latest, deps: deps})
			}
		}
		if len(ready) == 0 {
			// unreachable for a validated graph
			return append(ordered, remaining...)
		}
		sort.SliceStable(ready, func(i, j int) bool {
			if ready[i].latest != ready[j].latest {
				return ready[i].latest > ready[j].latest
			}
			if ready[i].deps != ready[j].deps {
				return ready[i].deps < ready[j].deps
			}
			return ready[i].group.id < ready[j].group.id
		})

		next := ready[0].group
		position[next.id] = len(ordered)
		ordered = append(ordered, next)
		for i, g := range remaining {
			if g == next {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return ordered
}

func (e *emitter) node(g *FetchGroup) plan.PlanNode {
	fetch := e.fetch(g)
	if g.root {
		return fetch
	}
	return &plan.FlattenNode{Path: append([]string(nil), g.mergeAt...), Node: fetch}
}

func (e *emitter) fetch(g *FetchGroup) *plan.FetchNode {
	var name string
	if e.op.name != "" {
		name = e.op.name + "__" + sanitizeName(g.subGraph) + "__" + strconv.Itoa(e.counter)
		e.counter++
	}
	kind := ast.Query
	if g.root {
		kind = g.rootKind
	}
	fetch := &plan.FetchNode{
		ServiceName:         g.subGraph,
		VariableUsages:      e.printer.variableUsages(g),
		Operation:           e.printer.print(g, name),
		OperationName:       name,
		OperationKind:       plan.OperationKind(kind),
		InputRewrites:       g.rewrites,
		InclusionConditions: groupInclusionConditions(g),
	}
	if !g.root {
		fetch.Requires = g.inputs.trimmed()
	}
	if e.needsID[g.id] {
		id := g.id
		fetch.ID = &id
	}
	return fetch
}

// groupInclusionConditions returns the alternatives of @skip/@include bindings under which
// g fetches something. nil when some selection of g is unconditional.
func groupInclusionConditions(g *FetchGroup) [][]plan.InclusionCondition {
	var alternatives [][]plan.InclusionCondition
	seen := make(map[string]bool)
	add := func(conditions []plan.InclusionCondition) bool {
		all := appendConditions(g.conditions, conditions)
		if len(all) == 0 {
			return false
		}
		key := conditionsKey(all)
		if !seen[key] {
			seen[key] = true
			alternatives = append(alternatives, all)
		}
		return true
	}

	for _, item := range g.selection.items {
		conditions := itemConditions(item)
		if g.root || item.field != nil || item.children.isEmpty() {
			if !add(conditions) {
				return nil
			}
			continue
		}
		// entity groups select through one fragment per entity type
		for _, child := range item.children.items {
			if !add(appendConditions(conditions, itemConditions(child))) {
				return nil
			}
		}
	}
	return alternatives
}

func itemConditions(item *selectionNode) []plan.InclusionCondition {
	if item.field != nil {
		return inclusionConditions(item.field.Directives)
	}
	return inclusionConditions(item.directives)
}

func conditionsKey(conditions []plan.InclusionCondition) string {
	parts := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if c.Negated {
			parts = append(parts, "!"+c.Variable)
		} else {
			parts = append(parts, c.Variable)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

// withoutDefers drops the @defer fragments of a normalized selection.
func withoutDefers(set ast.SelectionSet) ast.SelectionSet {
	var out ast.SelectionSet
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			f := *s
			if len(s.SelectionSet) > 0 {
				f.SelectionSet = withoutDefers(s.SelectionSet)
			}
			out = append(out, &f)
		case *ast.InlineFragment:
			if _, ok := isDeferFragment(s.Directives); ok {
				continue
			}
			frag := *s
			frag.SelectionSet = withoutDefers(s.SelectionSet)
			out = append(out, &frag)
		default:
			out = append(out, sel)
		}
	}
	return out
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 128 && isNameByte(byte(r)) {
			return r
		}
		return '_'
	}, name)
}
