package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/vektah/gqlparser/v2/ast"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// FetchGroup is one planned request to one subgraph.
//
// A root group has no mergeAt, parent and pathInParent. Every other group has all three.
type FetchGroup struct {
	id         int
	subGraph   string
	parentType string
	root       bool
	rootKind   ast.Operation

	mergeAt      []string
	parent       *FetchGroup
	pathInParent []pathElement

	selection *selectionSet
	inputs    *selectionSet
	rewrites  []*plan.InputRewrite
	deferRef  string
	// conditions are the @skip/@include bound variables guarding the position of the group.
	conditions []plan.InclusionCondition
	// typeConditioned marks a mergeAt carrying a type condition.
	typeConditioned bool

	removed bool
}

// ID returns the stable identifier of the group.
func (g *FetchGroup) ID() int { return g.id }

// SubGraph returns the name of the subgraph the group fetches from.
func (g *FetchGroup) SubGraph() string { return g.subGraph }

// MergeAt returns the response path the group result is merged at. nil for root groups.
func (g *FetchGroup) MergeAt() []string { return g.mergeAt }

// IsRoot reports whether the group fetches root fields.
func (g *FetchGroup) IsRoot() bool { return g.root }

// SelectionSize returns the number of fields the group selects.
func (g *FetchGroup) SelectionSize() int { return g.selection.fieldCount() }

// DeferLabel returns the @defer label the group belongs to, "" for the primary part.
func (g *FetchGroup) DeferLabel() string { return g.deferRef }

func (g *FetchGroup) String() string {
	if g.root {
		return fmt.Sprintf("%d:%s(%s)", g.id, g.subGraph, g.parentType)
	}
	return fmt.Sprintf("%d:%s(%s@%s)", g.id, g.subGraph, g.parentType, strings.Join(g.mergeAt, "."))
}

// FetchDependencyGraph owns the fetch groups of a plan and their dependencies.
// Groups are stored in slots addressed by their id; a removed group leaves a tombstone so ids
// never change.
type FetchDependencyGraph struct {
	groups       []*FetchGroup
	dependencies map[int]map[int]bool
	dependents   map[int]map[int]bool
}

func newFetchDependencyGraph() *FetchDependencyGraph {
	return &FetchDependencyGraph{
		dependencies: make(map[int]map[int]bool),
		dependents:   make(map[int]map[int]bool),
	}
}

func (d *FetchDependencyGraph) newGroup(g *FetchGroup) *FetchGroup {
	g.id = len(d.groups)
	g.selection = newSelectionSet()
	if !g.root {
		g.inputs = newSelectionSet()
	}
	d.groups = append(d.groups, g)
	return g
}

func (d *FetchDependencyGraph) newRootGroup(subGraph, typeName string, kind ast.Operation, deferRef string) *FetchGroup {
	return d.newGroup(&FetchGroup{
		subGraph:   subGraph,
		parentType: typeName,
		root:       true,
		rootKind:   kind,
		deferRef:   deferRef,
	})
}

func (d *FetchDependencyGraph) newKeyGroup(subGraph, typeName string, pos position) *FetchGroup {
	return d.newGroup(&FetchGroup{
		subGraph:        subGraph,
		parentType:      typeName,
		mergeAt:         append([]string{}, pos.mergeAt...),
		parent:          pos.group,
		pathInParent:    append([]pathElement(nil), pos.path...),
		deferRef:        pos.deferRef,
		conditions:      append([]plan.InclusionCondition(nil), pos.conditions...),
		typeConditioned: pos.typeConditioned,
	})
}

// Groups returns the live groups in id order.
func (d *FetchDependencyGraph) Groups() []*FetchGroup {
	out := make([]*FetchGroup, 0, len(d.groups))
	for _, g := range d.groups {
		if !g.removed {
			out = append(out, g)
		}
	}
	return out
}

// groupsBetween returns the live groups with from <= id < to.
func (d *FetchDependencyGraph) groupsBetween(from, to int) []*FetchGroup {
	var out []*FetchGroup
	for _, g := range d.groups[from:to] {
		if !g.removed {
			out = append(out, g)
		}
	}
	return out
}

func (d *FetchDependencyGraph) group(id int) *FetchGroup {
	return d.groups[id]
}

// addDependency records that g needs the result of on.
func (d *FetchDependencyGraph) addDependency(g, on *FetchGroup) {
	if g == on {
		return
	}
	if d.dependencies[g.id] == nil {
		d.dependencies[g.id] = make(map[int]bool)
	}
	if d.dependents[on.id] == nil {
		d.dependents[on.id] = make(map[int]bool)
	}
	d.dependencies[g.id][on.id] = true
	d.dependents[on.id][g.id] = true
}

func (d *FetchDependencyGraph) removeDependency(g, on *FetchGroup) {
	delete(d.dependencies[g.id], on.id)
	delete(d.dependents[on.id], g.id)
}

func (d *FetchDependencyGraph) sortedGroups(ids map[int]bool) []*FetchGroup {
	out := make([]*FetchGroup, 0, len(ids))
	for id := range ids {
		out = append(out, d.groups[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Dependencies returns the groups g waits for, in id order.
func (d *FetchDependencyGraph) Dependencies(g *FetchGroup) []*FetchGroup {
	return d.sortedGroups(d.dependencies[g.id])
}

// Dependents returns the groups waiting for g, in id order.
func (d *FetchDependencyGraph) Dependents(g *FetchGroup) []*FetchGroup {
	return d.sortedGroups(d.dependents[g.id])
}

// dependsOn reports whether g transitively depends on on.
func (d *FetchDependencyGraph) dependsOn(g, on *FetchGroup) bool {
	seen := make(map[int]bool)
	stack := []int{g.id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dep := range d.dependencies[id] {
			if dep == on.id {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// Depth returns the length of the longest dependency chain ending at every group.
func (d *FetchDependencyGraph) Depth() map[int]int {
	depth := make(map[int]int)
	var visit func(id int, onStack map[int]bool) int
	visit = func(id int, onStack map[int]bool) int {
		if v, ok := depth[id]; ok {
			return v
		}
		if onStack[id] {
			return 0
		}
		onStack[id] = true
		best := 0
		for dep := range d.dependencies[id] {
			if v := visit(dep, onStack) + 1; v > best {
				best = v
			}
		}
		delete(onStack, id)
		depth[id] = best
		return best
	}
	for _, g := range d.Groups() {
		visit(g.id, make(map[int]bool))
	}
	return depth
}

// remove tombstones g and drops its edges. Dependents of g inherit its dependencies.
func (d *FetchDependencyGraph) remove(g *FetchGroup) {
	deps := d.Dependencies(g)
	for _, dependent := range d.Dependents(g) {
		d.removeDependency(dependent, g)
		for _, dep := range deps {
			d.addDependency(dependent, dep)
		}
	}
	for _, dep := range deps {
		d.removeDependency(g, dep)
	}
	g.removed = true
}

// mergeIn folds from into into at path, a position of into's selection. Edges of from move
// to into and the children of from are re-parented.
func (d *FetchDependencyGraph) mergeIn(into, from *FetchGroup, path []pathElement) {
	into.selection.at(path).merge(from.selection)
	if into.inputs != nil && from.inputs != nil && len(path) == 0 {
		into.inputs.merge(from.inputs)
	}
	into.rewrites = appendRewrites(into.rewrites, from.rewrites...)

	for _, dep := range d.Dependencies(from) {
		d.removeDependency(from, dep)
		d.addDependency(into, dep)
	}
	for _, dependent := range d.Dependents(from) {
		d.removeDependency(dependent, from)
		d.addDependency(dependent, into)
	}
	for _, g := range d.Groups() {
		if g.parent == from {
			g.parent = into
			g.pathInParent = append(append([]pathElement(nil), path...), g.pathInParent...)
		}
	}
	from.removed = true
}

func appendRewrites(dst []*plan.InputRewrite, rewrites ...*plan.InputRewrite) []*plan.InputRewrite {
	for _, r := range rewrites {
		found := false
		for _, existing := range dst {
			if existing.SetValueTo == r.SetValueTo && strings.Join(existing.Path, ".") == strings.Join(r.Path, ".") {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, r)
		}
	}
	return dst
}

// reduce removes every dependency already implied by a longer chain.
func (d *FetchDependencyGraph) reduce() {
	for _, g := range d.Groups() {
		deps := d.Dependencies(g)
		for _, via := range deps {
			for _, other := range deps {
				if other == via || !d.dependencies[g.id][other.id] || !d.dependencies[g.id][via.id] {
					continue
				}
				if d.dependsOn(via, other) {
					d.removeDependency(g, other)
				}
			}
		}
	}
}

// Validate checks the root/non-root invariant of every group and that dependencies are acyclic.
func (d *FetchDependencyGraph) Validate() error {
	dg := simple.NewDirectedGraph()
	for _, g := range d.Groups() {
		if g.root != (g.mergeAt == nil && g.parent == nil) {
			return fmt.Errorf("%w: group %s mixes root and entity attributes", ErrUnresolvablePlan, g)
		}
		if !g.root && g.parent != nil && g.parent.removed {
			return fmt.Errorf("%w: group %s has a removed parent", ErrUnresolvablePlan, g)
		}
		dg.AddNode(simple.Node(g.id))
	}
	for _, g := range d.Groups() {
		for _, dep := range d.Dependencies(g) {
			if dep.removed {
				return fmt.Errorf("%w: group %s depends on removed group %d", ErrUnresolvablePlan, g, dep.id)
			}
			dg.SetEdge(dg.NewEdge(simple.Node(dep.id), simple.Node(g.id)))
		}
	}
	if _, err := topo.Sort(dg); err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvablePlan, err)
	}
	return nil
}
