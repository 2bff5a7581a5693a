package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/vektah/gqlparser/v2/ast"
)

// position is a place inside the selection of a fetch group while walking a path tree.
type position struct {
	group           *FetchGroup
	mergeAt         []string
	path            []pathElement
	deferRef        string
	conditions      []plan.InclusionCondition
	typeConditioned bool
	// typeName is the type at the position in the group's subgraph.
	typeName string
}

func (p position) descend(e pathElement) position {
	next := p
	next.path = append(append([]pathElement(nil), p.path...), e)
	return next
}

// builder turns path trees into a fetch dependency graph.
type builder struct {
	pc    *planningContext
	graph *FetchDependencyGraph
	kind  ast.Operation

	rootGroups map[string]*FetchGroup
	// touched records the groups receiving selections while resolving conditions.
	touched map[int]bool
	// deferFallbacks are the groups fetching deferred fields that have no entity boundary.
	deferFallbacks map[string]map[int]bool

	err error
}

func newBuilder(pc *planningContext, kind ast.Operation) *builder {
	return &builder{
		pc:             pc,
		graph:          newFetchDependencyGraph(),
		kind:           kind,
		rootGroups:     make(map[string]*FetchGroup),
		deferFallbacks: make(map[string]map[int]bool),
	}
}

// build creates the fetch groups of a complete operation and optimizes them.
func (b *builder) build(forest *pathForest) (*FetchDependencyGraph, error) {
	if b.kind == ast.Mutation {
		b.buildSequential(forest)
	} else {
		for _, root := range forest.sortedRoots() {
			pos := position{
				group:    b.rootGroup(root.vertex, ""),
				typeName: root.vertex.TypeName,
			}
			b.walk(root, pos)
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	b.optimize()
	return b.graph, nil
}

// buildSequential chains root groups in root field order. Consecutive root fields of one
// subgraph share a group. A new root group waits for every group created for the previous
// root fields, their entity fetches included.
func (b *builder) buildSequential(forest *pathForest) {
	type rootChild struct {
		vertex *graph.Vertex
		child  *pathTreeChild
	}
	var children []rootChild
	for _, root := range forest.sortedRoots() {
		for _, c := range root.orderedChildren() {
			children = append(children, rootChild{vertex: root.vertex, child: c})
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].child.order < children[j].child.order
	})

	var last *FetchGroup
	for _, rc := range children {
		if last == nil || last.subGraph != rc.vertex.SubGraph.Name {
			g := b.graph.newRootGroup(rc.vertex.SubGraph.Name, rc.vertex.TypeName, b.kind, "")
			if last != nil {
				for _, prev := range b.graph.groupsBetween(last.id, g.id) {
					b.graph.addDependency(g, prev)
				}
			}
			last = g
		}
		b.handleChild(rc.child, position{group: last, typeName: rc.vertex.TypeName})
	}
}

// buildConditions creates the groups needed to resolve a condition tree from v. It is used to
// score condition resolutions.
func (b *builder) buildConditions(v *graph.Vertex, tree *pathTree) *FetchDependencyGraph {
	g := b.graph.newRootGroup(v.SubGraph.Name, v.TypeName, ast.Query, "")
	b.walk(tree, position{group: g, typeName: v.TypeName})
	return b.graph
}

func (b *builder) rootGroup(v *graph.Vertex, deferRef string) *FetchGroup {
	key := v.SubGraph.Name + "|" + deferRef
	if g, ok := b.rootGroups[key]; ok {
		return g
	}
	g := b.graph.newRootGroup(v.SubGraph.Name, v.TypeName, b.kind, deferRef)
	b.rootGroups[key] = g
	return g
}

func (b *builder) walk(tree *pathTree, pos position) {
	for _, c := range tree.orderedChildren() {
		if b.err != nil {
			return
		}
		b.handleChild(c, pos)
	}
}

func (b *builder) handleChild(c *pathTreeChild, pos position) {
	switch c.step.kind {
	case stepKey:
		b.handleKey(c, pos)
	case stepFragment:
		b.handleFragment(c, pos)
	case stepField:
		b.handleField(c, pos)
	}
}

// selectAt adds e under path in the selection of g.
func (b *builder) selectAt(g *FetchGroup, path []pathElement, e pathElement) {
	g.selection.add(path, e)
	if b.touched != nil {
		b.touched[g.id] = true
	}
}

func (b *builder) addTypename(pos position) {
	b.selectAt(pos.group, pos.path, typenameElement())
}

// addFieldSet adds a federation field set relative to typeName under path.
func (b *builder) addFieldSet(set *selectionSet, path []pathElement, typeName, fieldSet string) {
	sel, err := b.pc.parseFieldSet(fieldSet)
	if err != nil {
		b.err = fmt.Errorf("%w: %v", ErrUnresolvablePlan, err)
		return
	}
	b.addSelections(set, path, typeName, sel)
}

func (b *builder) addSelections(set *selectionSet, path []pathElement, typeName string, sel ast.SelectionSet) {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			fd, ok := b.pc.superGraph.FieldDefinition(typeName, s.Name)
			if !ok {
				b.err = &FieldResolutionError{TypeName: typeName, FieldName: s.Name}
				return
			}
			returnType := fd.Type.Name()
			leaf := len(s.SelectionSet) == 0
			e := fieldElement(s, returnType, b.pc.superGraph.IsAbstract(returnType), leaf)
			set.add(path, e)
			if !leaf {
				b.addSelections(set, append(append([]pathElement(nil), path...), e), returnType, s.SelectionSet)
			}
		case *ast.InlineFragment:
			tc := s.TypeCondition
			if tc == "" {
				tc = typeName
			}
			e := fragmentElement(tc, s.Directives)
			b.addSelections(set, append(append([]pathElement(nil), path...), e), tc, s.SelectionSet)
		}
	}
}

// handleConditions walks a condition tree at pos and returns the groups that received
// selections.
func (b *builder) handleConditions(tree *pathTree, pos position) map[int]bool {
	if tree.isEmpty() {
		return nil
	}
	outer := b.touched
	b.touched = make(map[int]bool)
	b.walk(tree, pos)
	touched := b.touched
	b.touched = outer
	for id := range touched {
		if outer != nil {
			outer[id] = true
		}
	}
	return touched
}

func (b *builder) handleKey(c *pathTreeChild, pos position) {
	e := c.step.edge
	b.addTypename(pos)
	touched := b.handleConditions(c.step.conditions, pos)

	g := b.keyGroup(e.Head.SubGraph.Name, e.Head.TypeName, pos, touched)
	inputType := e.Tail.TypeName
	inputPath := []pathElement{fragmentElement(inputType, nil)}
	g.inputs.add(inputPath, typenameElement())
	b.addFieldSet(g.inputs, inputPath, inputType, e.Conditions)
	if e.Head.IsInterfaceObject() {
		g.rewrites = appendRewrites(g.rewrites, &plan.InputRewrite{
			Path:       []string{"... on " + inputType, "__typename"},
			SetValueTo: e.Head.TypeName,
		})
	}

	b.walk(c.tree, position{
		group:           g,
		mergeAt:         pos.mergeAt,
		path:            []pathElement{fragmentElement(e.Head.TypeName, nil)},
		deferRef:        g.deferRef,
		conditions:      pos.conditions,
		typeConditioned: pos.typeConditioned,
		typeName:        e.Head.TypeName,
	})
}

// keyGroup returns an entity group of subGraph at pos, reusing an existing one when this
// does not create a cycle with the condition groups.
func (b *builder) keyGroup(subGraph, typeName string, pos position, conditionGroups map[int]bool) *FetchGroup {
	var found *FetchGroup
	for _, g := range b.graph.Groups() {
		if g.root || g.subGraph != subGraph || g.parent != pos.group || g.deferRef != pos.deferRef || g.parentType != typeName {
			continue
		}
		if strings.Join(g.mergeAt, ".") != strings.Join(pos.mergeAt, ".") || pathKey(g.pathInParent) != pathKey(pos.path) {
			continue
		}
		cyclic := false
		for id := range conditionGroups {
			cg := b.graph.group(id)
			if cg == g || b.graph.dependsOn(cg, g) {
				cyclic = true
				break
			}
		}
		if !cyclic {
			found = g
			break
		}
	}
	if found == nil {
		found = b.graph.newKeyGroup(subGraph, typeName, pos)
	}
	b.graph.addDependency(found, pos.group)
	for _, id := range sortedIDs(conditionGroups) {
		b.graph.addDependency(found, b.graph.group(id))
	}
	return found
}

func (b *builder) handleField(c *pathTreeChild, pos position) {
	f := c.step.field
	if c.step.conditions != nil {
		pos = b.handleRequires(c, pos)
		if b.err != nil {
			return
		}
	}

	if f.isTypename() {
		b.selectAt(pos.group, pos.path, fieldElement(f.node, "String", false, true))
		return
	}

	sg := b.pc.superGraph
	returnType := f.def.Type.Name()
	leaf := f.isLeaf(sg)
	e := fieldElement(f.node, returnType, sg.IsAbstract(returnType), leaf)
	b.selectAt(pos.group, pos.path, e)
	if leaf {
		return
	}

	next := pos.descend(e)
	next.mergeAt = append(append([]string(nil), pos.mergeAt...), f.ResponseName())
	for t := f.def.Type; t.Elem != nil; t = t.Elem {
		next.mergeAt = append(next.mergeAt, "@")
	}
	next.conditions = appendConditions(pos.conditions, inclusionConditions(f.node.Directives))
	next.typeConditioned = false
	next.typeName = c.tree.vertex.TypeName
	b.walk(c.tree, next)
}

// handleRequires resolves the @requires of a field step and returns the position the field is
// fetched at.
func (b *builder) handleRequires(c *pathTreeChild, pos position) position {
	cond := c.step.conditions
	requires := c.step.edge.Conditions
	entityType := pos.typeName
	g := pos.group

	if c.step.conditionsFromParent && !g.root && g.parent != nil && len(pos.path) == 1 {
		inputType := cond.vertex.TypeName
		parentPos := position{
			group:      g.parent,
			mergeAt:    pos.mergeAt,
			path:       g.pathInParent,
			deferRef:   g.parent.deferRef,
			conditions: pos.conditions,
			typeName:   inputType,
		}
		touched := b.handleConditions(cond, parentPos)
		for _, id := range sortedIDs(touched) {
			if dep := b.graph.group(id); dep != g && !b.graph.dependsOn(dep, g) {
				b.graph.addDependency(g, dep)
			}
		}
		b.addFieldSet(g.inputs, []pathElement{fragmentElement(inputType, nil)}, inputType, requires)
		return pos
	}

	touched := b.handleConditions(cond, pos)
	local := true
	for id := range touched {
		if id != g.id {
			local = false
		}
	}
	if local {
		return pos
	}

	sub, _ := b.pc.superGraph.SubGraph(g.subGraph)
	keys := sub.ResolvableKeys(entityType)
	if len(keys) == 0 {
		b.err = fmt.Errorf("%w: %s.%s requires fields from another subgraph but %s has no resolvable key in %q",
			ErrUnresolvablePlan, entityType, c.step.field.node.Name, entityType, g.subGraph)
		return pos
	}
	key := keys[0].FieldSet

	b.addTypename(pos)
	b.addFieldSet(g.selection, pos.path, entityType, key)
	if touched == nil {
		touched = make(map[int]bool)
	}
	touched[g.id] = true
	ng := b.keyGroup(g.subGraph, entityType, pos, touched)

	inputPath := []pathElement{fragmentElement(entityType, nil)}
	ng.inputs.add(inputPath, typenameElement())
	b.addFieldSet(ng.inputs, inputPath, entityType, key)
	b.addFieldSet(ng.inputs, inputPath, entityType, requires)

	return position{
		group:           ng,
		mergeAt:         pos.mergeAt,
		path:            inputPath,
		deferRef:        ng.deferRef,
		conditions:      pos.conditions,
		typeConditioned: pos.typeConditioned,
		typeName:        entityType,
	}
}

func (b *builder) handleFragment(c *pathTreeChild, pos position) {
	step := c.step
	directives := step.directives
	if label, ok := isDeferFragment(directives); ok {
		if label != pos.deferRef {
			b.handleDefer(c, pos, label)
			return
		}
		directives = withoutDirective(directives, "defer")
	}

	next := pos
	if step.typeCondition != pos.typeName || len(directives) > 0 {
		next = pos.descend(fragmentElement(step.typeCondition, directives))
	}
	if step.edge != nil && b.pc.cfg.TypeConditionedFetching && b.pc.superGraph.IsAbstract(pos.typeName) && len(pos.mergeAt) > 0 {
		next.mergeAt = withTypeCondition(pos.mergeAt, step.typeCondition)
		next.typeConditioned = true
	}
	next.conditions = appendConditions(pos.conditions, inclusionConditions(directives))
	next.typeName = c.tree.vertex.TypeName
	b.walk(c.tree, next)
}

// handleDefer places a @defer fragment. Entities with a key in the current subgraph are
// fetched by a new deferred group; other selections stay in the enclosing group and the
// deferred block only waits for it.
func (b *builder) handleDefer(c *pathTreeChild, pos position, label string) {
	step := c.step
	directives := withoutDirective(step.directives, "defer")
	entityType := c.tree.vertex.TypeName
	conditions := appendConditions(pos.conditions, inclusionConditions(directives))

	if pos.group.root && len(pos.path) == 0 {
		g := b.rootGroup(c.tree.vertex, label)
		next := position{group: g, deferRef: label, conditions: conditions, typeName: pos.typeName}
		if len(directives) > 0 {
			next = next.descend(fragmentElement(step.typeCondition, directives))
		}
		b.walk(c.tree, next)
		return
	}

	hasLocal := false
	for _, child := range c.tree.children {
		if child.step.kind != stepKey {
			hasLocal = true
		}
	}

	sub, _ := b.pc.superGraph.SubGraph(pos.group.subGraph)
	keys := sub.ResolvableKeys(entityType)
	if hasLocal && len(keys) > 0 && len(pos.path) > 0 {
		b.addTypename(pos)
		b.addFieldSet(pos.group.selection, pos.path, entityType, keys[0].FieldSet)

		deferPos := pos
		deferPos.deferRef = label
		g := b.keyGroup(pos.group.subGraph, entityType, deferPos, nil)
		inputPath := []pathElement{fragmentElement(entityType, nil)}
		g.inputs.add(inputPath, typenameElement())
		b.addFieldSet(g.inputs, inputPath, entityType, keys[0].FieldSet)

		next := position{
			group:      g,
			mergeAt:    pos.mergeAt,
			path:       inputPath,
			deferRef:   label,
			conditions: conditions,
			typeName:   entityType,
		}
		if len(directives) > 0 {
			next = next.descend(fragmentElement(entityType, directives))
		}
		b.walk(c.tree, next)
		return
	}

	if hasLocal {
		if b.deferFallbacks[label] == nil {
			b.deferFallbacks[label] = make(map[int]bool)
		}
		b.deferFallbacks[label][pos.group.id] = true
	}
	next := pos
	next.deferRef = label
	if step.typeCondition != pos.typeName || len(directives) > 0 {
		next = next.descend(fragmentElement(step.typeCondition, directives))
	}
	next.conditions = conditions
	next.typeName = entityType
	b.walk(c.tree, next)
}

// optimize merges and removes groups that do not need to exist, then drops redundant edges.
func (b *builder) optimize() {
	b.removeUselessGroups()
	b.mergeChildrenIntoParents()
	b.mergeSiblings()
	b.graph.reduce()
}

func (b *builder) removeUselessGroups() {
	for _, g := range b.graph.Groups() {
		useless := g.selection.isEmpty()
		if !g.root && !useless {
			useless = g.inputs.contains(g.selection)
		}
		if !useless {
			continue
		}
		for _, child := range b.graph.Groups() {
			if child.parent == g {
				child.parent = g.parent
				child.pathInParent = append(append([]pathElement(nil), g.pathInParent...), child.pathInParent...)
			}
		}
		b.graph.remove(g)
		b.forgetDeferFallback(g)
	}
}

func (b *builder) mergeChildrenIntoParents() {
	for _, g := range b.graph.Groups() {
		if g.removed || g.root || g.parent == nil || g.parent.removed {
			continue
		}
		p := g.parent
		if p.subGraph != g.subGraph || p.deferRef != g.deferRef || len(g.rewrites) > 0 {
			continue
		}
		deps := b.graph.Dependencies(g)
		if len(deps) != 1 || deps[0] != p {
			continue
		}
		b.graph.mergeIn(p, g, g.pathInParent)
		b.moveDeferFallback(g, p)
	}
}

func (b *builder) mergeSiblings() {
	groups := b.graph.Groups()
	for i, a := range groups {
		if a.removed {
			continue
		}
		for _, c := range groups[i+1:] {
			if c.removed || !b.siblings(a, c) {
				continue
			}
			b.graph.mergeIn(a, c, nil)
			b.moveDeferFallback(c, a)
		}
	}
}

func (b *builder) siblings(a, c *FetchGroup) bool {
	if a.subGraph != c.subGraph || a.root != c.root || a.deferRef != c.deferRef || a.parent != c.parent {
		return false
	}
	if a.root && a.rootKind == ast.Mutation {
		return false
	}
	if strings.Join(a.mergeAt, ".") != strings.Join(c.mergeAt, ".") || pathKey(a.pathInParent) != pathKey(c.pathInParent) {
		return false
	}
	if !sameIDs(b.graph.dependencies[a.id], b.graph.dependencies[c.id]) {
		return false
	}
	return !b.graph.dependsOn(a, c) && !b.graph.dependsOn(c, a)
}

func (b *builder) forgetDeferFallback(g *FetchGroup) {
	for _, groups := range b.deferFallbacks {
		if groups[g.id] {
			delete(groups, g.id)
			if g.parent != nil {
				groups[g.parent.id] = true
			}
		}
	}
}

func (b *builder) moveDeferFallback(from, into *FetchGroup) {
	for _, groups := range b.deferFallbacks {
		if groups[from.id] {
			delete(groups, from.id)
			groups[into.id] = true
		}
	}
}

func pathKey(path []pathElement) string {
	keys := make([]string, 0, len(path))
	for _, e := range path {
		keys = append(keys, e.key())
	}
	return strings.Join(keys, "/")
}

func withTypeCondition(mergeAt []string, typeCondition string) []string {
	out := append([]string(nil), mergeAt...)
	last := out[len(out)-1]
	if i := strings.Index(last, "|"); i >= 0 {
		last = last[:i]
	}
	out[len(out)-1] = last + "|[" + typeCondition + "]"
	return out
}

func appendConditions(base, extra []plan.InclusionCondition) []plan.InclusionCondition {
	if len(extra) == 0 {
		return base
	}
	out := append([]plan.InclusionCondition(nil), base...)
	for _, c := range extra {
		found := false
		for _, existing := range out {
			if existing == c {
				found = true
				break
			}
		}
		if !found {
			out = append(out, c)
		}
	}
	return out
}

func sortedIDs(ids map[int]bool) []int {
	out := make([]int, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func sameIDs(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
