package planner

import (
	"fmt"
	"sort"

	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// ctxCheckInterval is the number of search steps between two context checks.
const ctxCheckInterval = 64

// openBranch is a selection still to resolve together with the paths it may continue from.
type openBranch struct {
	fields  FieldSet
	options []*opPath
}

// searchState is one frame of the search stack. open is itself a stack: the last branch is
// resolved next.
type searchState struct {
	open   []*openBranch
	closed []*opPath
	// checkBound marks states created by a choice between candidates. They are compared
	// against the best complete plan before going deeper.
	checkBound bool
}

type candidate struct {
	closed []*opPath
	cost   float64
}

// evaluator scores the closed paths of a state. ok is false when they cannot form a plan.
type evaluator func(closed []*opPath) (cost float64, ok bool)

type advance int

const (
	advanced advance = iota
	unsatisfiable
	// trivial means no runtime type the selection applies to can come from the subgraph.
	trivial
	// explode means the selection must be resolved separately per runtime type.
	explode
)

type outcome int

const (
	outcomeDead outcome = iota
	outcomeResolved
	outcomeTrivial
	outcomeExplode
)

// traversal is the explicit stack search over the query graph.
type traversal struct {
	pc       *planningContext
	excluded map[string]bool
	depth    int
	evaluate evaluator
	main     bool

	best      *candidate
	terminals int
	// unresolved is the last selection no path could resolve.
	unresolved *Field
	err        error
}

func (t *traversal) run(initial *searchState) *candidate {
	stack := []*searchState{initial}
	for steps := 0; len(stack) > 0 && t.err == nil; steps++ {
		if steps%ctxCheckInterval == 0 {
			if err := t.pc.ctx.Err(); err != nil {
				t.err = fmt.Errorf("%w: %w", ErrPlanningAborted, err)
				return nil
			}
		}
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.checkBound && t.best != nil && t.pc.monotone {
			if cost, ok := t.evaluate(s.closed); ok && cost >= t.best.cost {
				continue
			}
		}

		if len(s.open) == 0 {
			t.terminals++
			if t.main {
				t.pc.evaluated++
			}
			cost, ok := t.evaluate(s.closed)
			if !ok {
				continue
			}
			if t.best == nil || cost < t.best.cost {
				t.best = &candidate{closed: s.closed, cost: cost}
				if t.main {
					t.pc.logger.Debug("federation planner: new best plan",
						abstractlogger.Any("cost", cost),
						abstractlogger.Int("evaluated", t.pc.evaluated),
					)
				}
			}
			continue
		}

		next := t.advance(s)
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return t.best
}

func (t *traversal) advance(s *searchState) []*searchState {
	n := len(s.open) - 1
	b := s.open[n]
	rest := s.open[:n:n]
	f := b.fields[0]

	paths, out := t.resolve(b)
	switch out {
	case outcomeDead:
		t.dead(b)
		return nil
	case outcomeTrivial:
		return []*searchState{{open: rest, closed: s.closed}}
	case outcomeExplode:
		branches := t.explode(b)
		if len(branches) == 0 {
			t.dead(b)
			return nil
		}
		return []*searchState{{open: append(rest, branches...), closed: s.closed}}
	}

	paths = keepShortest(paths)
	if f.isLeaf(t.pc.superGraph) {
		window := t.pc.cfg.Debug.CandidateWindow
		if t.terminals >= t.pc.cfg.Debug.MaxEvaluatedPlans && len(paths) > window {
			paths = paths[:window]
		}
		states := make([]*searchState, 0, len(paths))
		m := len(s.closed)
		for _, p := range paths {
			closed := append(s.closed[:m:m], p)
			states = append(states, &searchState{open: rest, closed: closed, checkBound: len(paths) > 1})
		}
		return states
	}

	children, err := t.childBranches(b, paths)
	if err != nil {
		t.err = err
		return nil
	}
	return []*searchState{{open: append(rest, children...), closed: s.closed}}
}

// dead records b as the last selection no path resolves.
func (t *traversal) dead(b *openBranch) {
	t.unresolved = b.fields[0]
	if t.main {
		t.pc.logger.Debug("federation planner: dead branch",
			abstractlogger.String("fields", fieldsString(b.fields)),
			abstractlogger.Int("options", len(b.options)),
		)
	}
}

// resolve advances every option of b. Direct paths win over a trivially satisfied
// selection, which wins over key jumps, which win over a per runtime type explosion.
func (t *traversal) resolve(b *openBranch) ([]*opPath, outcome) {
	f := b.fields[0]
	var (
		direct    []*opPath
		jumpFrom  []*opPath
		isTrivial bool
		exploding bool
	)
	for _, o := range b.options {
		scoped, st := t.applyScope(o, f.scope)
		switch st {
		case trivial:
			isTrivial = true
			continue
		case explode:
			exploding = true
			continue
		case unsatisfiable:
			jumpFrom = append(jumpFrom, o)
			continue
		}
		next, st := t.fieldStep(scoped, f)
		switch st {
		case advanced:
			direct = append(direct, next)
		case explode:
			exploding = true
		default:
			jumpFrom = append(jumpFrom, scoped)
		}
	}

	if len(direct) > 0 {
		return direct, outcomeResolved
	}
	if isTrivial {
		return nil, outcomeTrivial
	}
	if paths := t.jump(jumpFrom, f); len(paths) > 0 {
		return paths, outcomeResolved
	}
	if exploding {
		return nil, outcomeExplode
	}
	return nil, outcomeDead
}

func (t *traversal) applyScope(p *opPath, scope *Scope) (*opPath, advance) {
	for _, link := range scope.links() {
		var st advance
		p, st = t.applyLink(p, link, scope)
		if st != advanced {
			return p, st
		}
	}
	return p, advanced
}

func (t *traversal) applyLink(p *opPath, link, scope *Scope) (*opPath, advance) {
	sg := t.pc.superGraph
	qg := t.pc.queryGraph
	v := p.vertex
	lt := link.parentType.Name

	if lt == v.TypeName || (!v.IsInterfaceObject() && sg.IsSubType(lt, v.TypeName)) {
		if len(link.directives) == 0 {
			return p, advanced
		}
		step := &pathStep{kind: stepFragment, typeCondition: lt, directives: link.directives}
		return p.extend(step, v, p.provided), advanced
	}
	if v.IsInterfaceObject() {
		// the runtime type was narrowed before jumping to the interface object
		if p.narrowedAtPosition(lt) {
			return p, advanced
		}
		return p, unsatisfiable
	}
	if target, ok := qg.Vertex(v.SubGraph.Name, lt); ok {
		edge, _ := qg.DowncastEdge(v, lt)
		step := &pathStep{kind: stepFragment, edge: edge, typeCondition: lt, directives: link.directives}
		return p.extend(step, target, providedFor(p.provided, lt)), advanced
	}

	if len(link.directives) > 0 {
		return p, unsatisfiable
	}
	local := t.localRuntimeTypes(v)
	for _, rt := range scope.PossibleRuntimeTypes() {
		if containsName(local, rt) {
			return p, explode
		}
	}
	return p, trivial
}

func (t *traversal) localRuntimeTypes(v *graph.Vertex) []string {
	if v.Def != nil && v.Def.Kind == ast.Object {
		return []string{v.TypeName}
	}
	var out []string
	for _, e := range t.pc.queryGraph.OutEdges(v) {
		if e.Kind == graph.DowncastEdge {
			out = append(out, e.Head.TypeName)
		}
	}
	return out
}

func (t *traversal) fieldStep(p *opPath, f *Field) (*opPath, advance) {
	qg := t.pc.queryGraph
	v := p.vertex

	if f.isTypename() {
		if v.IsInterfaceObject() {
			return p, unsatisfiable
		}
		return p.extend(&pathStep{kind: stepField, field: f}, v, nil), advanced
	}

	e, ok := qg.FieldEdge(v, f.node.Name)
	if !ok {
		if v.Def != nil && v.Def.IsAbstractType() {
			possible := f.scope.PossibleRuntimeTypes()
			for _, rt := range t.localRuntimeTypes(v) {
				rv, ok := qg.Vertex(v.SubGraph.Name, rt)
				if !ok || !containsName(possible, rt) {
					continue
				}
				if _, ok := qg.FieldEdge(rv, f.node.Name); ok {
					return p, explode
				}
			}
		}
		return p, unsatisfiable
	}
	if !e.Traversable(t.pc.cfg.OverrideLabels) {
		return p, unsatisfiable
	}
	if e.Field != nil && e.Field.IsExternal() && !providedHas(p.provided, f.node.Name) {
		return p, unsatisfiable
	}

	step := &pathStep{kind: stepField, edge: e, field: f}
	if e.Conditions != "" {
		excluded := withSubGraph(t.excluded, v.SubGraph.Name)
		var res *conditionResult
		if parent, ok := p.lastKeyStep(); ok {
			res = t.pc.resolveConditions(parent.vertex, e.Conditions, excluded, t.depth+1)
			step.conditionsFromParent = res.ok
		}
		if res == nil || !res.ok {
			res = t.pc.resolveConditions(v, e.Conditions, excluded, t.depth+1)
		}
		if !res.ok {
			return p, unsatisfiable
		}
		step.conditions = res.tree
	}

	var provided ast.SelectionSet
	if e.Field != nil && e.Field.Provides != "" {
		sel, err := t.pc.parseFieldSet(e.Field.Provides)
		if err == nil {
			provided = sel
		}
	} else {
		provided = providedChild(p.provided, f.node.Name)
	}
	return p.extend(step, e.Head, provided), advanced
}

// jump moves the options to other subgraphs through key edges, one layer of jumps at a time,
// and returns the paths of the first layer from which f resolves directly.
func (t *traversal) jump(from []*opPath, f *Field) []*opPath {
	qg := t.pc.queryGraph
	visited := make(map[string]bool, len(t.excluded)+len(from))
	for name := range t.excluded {
		visited[name] = true
	}
	for _, p := range from {
		visited[p.vertex.SubGraph.Name] = true
	}

	layer := from
	for len(layer) > 0 {
		var next []*opPath
		reached := make(map[string]bool)
		for _, p := range layer {
			type keyChoice struct {
				edge *graph.Edge
				res  *conditionResult
			}
			var heads []string
			best := make(map[string]keyChoice)
			for _, e := range qg.KeyEdges(p.vertex) {
				head := e.Head.SubGraph.Name
				if visited[head] || p.visitsSubGraphAtPosition(head) {
					continue
				}
				res := t.pc.resolveConditions(p.vertex, e.Conditions, withSubGraph(t.excluded, head), t.depth+1)
				if !res.ok {
					continue
				}
				current, seen := best[e.Head.ID]
				if !seen {
					heads = append(heads, e.Head.ID)
				}
				if !seen || res.cost < current.res.cost {
					best[e.Head.ID] = keyChoice{edge: e, res: res}
				}
			}
			for _, id := range heads {
				choice := best[id]
				step := &pathStep{kind: stepKey, edge: choice.edge, conditions: choice.res.tree}
				next = append(next, p.extend(step, choice.edge.Head, nil))
				reached[choice.edge.Head.SubGraph.Name] = true
			}
		}

		var results []*opPath
		for _, p := range next {
			scoped, st := t.applyScope(p, f.scope)
			if st != advanced {
				continue
			}
			if out, st := t.fieldStep(scoped, f); st == advanced {
				results = append(results, out)
			}
		}
		if len(results) > 0 {
			return results
		}
		for name := range reached {
			visited[name] = true
		}
		layer = next
	}
	return nil
}

// explode splits b into one branch per runtime type of its scope. A runtime type that does
// not narrow the scope yields no branch, so a selection that cannot be split any further is dead.
func (t *traversal) explode(b *openBranch) []*openBranch {
	sg := t.pc.superGraph
	f := b.fields[0]
	var out []*openBranch
	for _, rt := range f.scope.PossibleRuntimeTypes() {
		def, ok := sg.Type(rt)
		if !ok {
			continue
		}
		fd, ok := sg.FieldDefinition(rt, f.node.Name)
		if !ok {
			continue
		}
		scope := f.scope.Refine(def, nil)
		if scope.key == f.scope.key {
			continue
		}
		fields := make(FieldSet, 0, len(b.fields))
		for _, orig := range b.fields {
			fields = append(fields, &Field{scope: scope, node: orig.node, def: fd, order: orig.order})
		}
		out = append(out, &openBranch{fields: fields, options: b.options})
	}
	// the first runtime type is resolved first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// childBranches opens the sub-selection of a composite field at the given paths.
func (t *traversal) childBranches(b *openBranch, options []*opPath) ([]*openBranch, error) {
	sg := t.pc.superGraph
	f := b.fields[0]
	def, ok := sg.Type(f.def.Type.Name())
	if !ok {
		return nil, &FieldResolutionError{TypeName: f.scope.parentType.Name, FieldName: f.node.Name}
	}
	scope := t.pc.scopes.create(def)
	children, err := t.pc.collector.collectFields(scope, subSelection(b.fields))
	if err != nil {
		return nil, err
	}
	groups := groupFields(children)

	hasRootScope := false
	for _, g := range groups {
		if g[0].scope.key == scope.key {
			hasRootScope = true
			break
		}
	}
	if !hasRootScope {
		td, _ := sg.FieldDefinition(def.Name, "__typename")
		typename := &Field{scope: scope, node: &ast.Field{Name: "__typename"}, def: td, order: f.order}
		groups = append([]FieldSet{{typename}}, groups...)
	}
	return branchesFor(groups, options), nil
}

// branchesFor returns the branches of groups as a stack: the first group is resolved first.
func branchesFor(groups []FieldSet, options []*opPath) []*openBranch {
	out := make([]*openBranch, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		out = append(out, &openBranch{fields: groups[i], options: options})
	}
	return out
}

// keepShortest keeps one path per end vertex, the one with the fewest jumps, ordered by jumps.
func keepShortest(paths []*opPath) []*opPath {
	index := make(map[string]int)
	var out []*opPath
	for _, p := range paths {
		i, ok := index[p.vertex.ID]
		if !ok {
			index[p.vertex.ID] = len(out)
			out = append(out, p)
			continue
		}
		if p.jumps < out[i].jumps {
			out[i] = p
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].jumps < out[j].jumps })
	return out
}

func withSubGraph(set map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(set)+1)
	for k := range set {
		out[k] = true
	}
	out[name] = true
	return out
}

// providedFor returns the part of a @provides selection applying to typeName.
func providedFor(provided ast.SelectionSet, typeName string) ast.SelectionSet {
	if len(provided) == 0 {
		return nil
	}
	var out ast.SelectionSet
	for _, sel := range provided {
		switch s := sel.(type) {
		case *ast.Field:
			out = append(out, s)
		case *ast.InlineFragment:
			if s.TypeCondition == "" || s.TypeCondition == typeName {
				out = append(out, s.SelectionSet...)
			}
		}
	}
	return out
}

func providedHas(provided ast.SelectionSet, name string) bool {
	for _, sel := range provided {
		if f, ok := sel.(*ast.Field); ok && f.Name == name {
			return true
		}
	}
	return false
}

func providedChild(provided ast.SelectionSet, name string) ast.SelectionSet {
	var out ast.SelectionSet
	for _, sel := range provided {
		if f, ok := sel.(*ast.Field); ok && f.Name == name {
			out = append(out, f.SelectionSet...)
		}
	}
	return out
}
