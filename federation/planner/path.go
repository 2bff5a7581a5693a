package planner

import (
	"sort"
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

type stepKind int

const (
	stepField stepKind = iota
	stepKey
	stepFragment
)

// pathStep is one transition of an operation path.
type pathStep struct {
	kind stepKind
	// edge is the field, key or downcast edge. nil for __typename and for fragments that keep
	// the current type.
	edge *graph.Edge
	// field is the operation field of a field step.
	field *Field
	// typeCondition and directives describe a fragment step.
	typeCondition string
	directives    ast.DirectiveList
	// conditions resolve the key fields of a key step or the @requires of a field step.
	conditions *pathTree
	// conditionsFromParent is set on a field step whose @requires were resolved before the
	// key step that led to it.
	conditionsFromParent bool

	id string
}

func (s *pathStep) identity() string {
	if s.id != "" {
		return s.id
	}
	switch s.kind {
	case stepField:
		s.id = "f:" + s.field.scope.key + "#" + fieldKey(s.field.node)
		if s.edge != nil {
			s.id += "@" + s.edge.ID
		}
	case stepKey:
		s.id = "k:" + s.edge.ID
	case stepFragment:
		s.id = "t:" + s.typeCondition + directivesKey(s.directives)
	}
	return s.id
}

// opPath is a persistent operation path: extending a path never changes it.
type opPath struct {
	parent *opPath
	step   *pathStep
	vertex *graph.Vertex
	// provided is the @provides selection available at vertex.
	provided ast.SelectionSet
	jumps    int
}

func rootPath(v *graph.Vertex) *opPath {
	return &opPath{vertex: v}
}

func (p *opPath) extend(step *pathStep, vertex *graph.Vertex, provided ast.SelectionSet) *opPath {
	next := &opPath{parent: p, step: step, vertex: vertex, provided: provided, jumps: p.jumps}
	if step.kind == stepKey {
		next.jumps++
	}
	return next
}

// steps returns the steps from the root of the path.
func (p *opPath) steps() []*pathStep {
	var out []*pathStep
	for cur := p; cur.step != nil; cur = cur.parent {
		out = append(out, cur.step)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (p *opPath) root() *opPath {
	cur := p
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// lastKeyStep returns the path ending right before the trailing key step, if the path ends with one.
func (p *opPath) lastKeyStep() (*opPath, bool) {
	if p.step != nil && p.step.kind == stepKey {
		return p.parent, true
	}
	return nil, false
}

// visitsSubGraphAtPosition reports whether the path already visited subgraph at the current
// response position, i.e. since the last field step.
func (p *opPath) visitsSubGraphAtPosition(subGraph string) bool {
	for cur := p; cur != nil; cur = cur.parent {
		if cur.vertex.SubGraph.Name == subGraph {
			return true
		}
		if cur.step == nil || cur.step.kind == stepField {
			return false
		}
	}
	return false
}

// narrowedAtPosition reports whether a fragment step on typeName was taken since the last
// field step.
func (p *opPath) narrowedAtPosition(typeName string) bool {
	for cur := p; cur != nil && cur.step != nil; cur = cur.parent {
		switch cur.step.kind {
		case stepField:
			return false
		case stepFragment:
			if cur.step.typeCondition == typeName {
				return true
			}
		}
	}
	return false
}

func (p *opPath) String() string {
	parts := []string{p.root().vertex.ID}
	for _, s := range p.steps() {
		switch s.kind {
		case stepField:
			parts = append(parts, s.field.ResponseName())
		case stepKey:
			parts = append(parts, "key("+s.edge.Head.SubGraph.Name+")")
		case stepFragment:
			parts = append(parts, "... on "+s.typeCondition)
		}
	}
	return strings.Join(parts, " -> ")
}

// pathTree merges operation paths sharing a prefix.
type pathTree struct {
	vertex   *graph.Vertex
	children []*pathTreeChild
	index    map[string]*pathTreeChild
}

type pathTreeChild struct {
	step  *pathStep
	tree  *pathTree
	order int
}

func newPathTree(v *graph.Vertex) *pathTree {
	return &pathTree{vertex: v, index: make(map[string]*pathTreeChild)}
}

// add inserts the steps of a path whose root vertex is t.vertex.
func (t *pathTree) add(p *opPath) {
	var chain []*opPath
	for node := p; node.step != nil; node = node.parent {
		chain = append(chain, node)
	}
	// orders[i] is the operation order of the first field step at or below chain[i].
	orders := make([]int, len(chain))
	next := -1
	for i := range chain {
		if f := chain[i].step.field; f != nil {
			next = f.order
		}
		orders[i] = next
	}
	cur := t
	for i := len(chain) - 1; i >= 0; i-- {
		cur = cur.child(chain[i].step, chain[i].vertex, orders[i])
	}
}

func (t *pathTree) child(step *pathStep, vertex *graph.Vertex, order int) *pathTree {
	id := step.identity()
	if c, ok := t.index[id]; ok {
		if order < c.order {
			c.order = order
		}
		return c.tree
	}
	c := &pathTreeChild{step: step, tree: newPathTree(vertex), order: order}
	t.index[id] = c
	t.children = append(t.children, c)
	return c.tree
}

// orderedChildren returns key steps first, then the other steps in operation order.
func (t *pathTree) orderedChildren() []*pathTreeChild {
	out := append([]*pathTreeChild(nil), t.children...)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := out[i].step.kind == stepKey, out[j].step.kind == stepKey
		if ki != kj {
			return ki
		}
		return out[i].order < out[j].order
	})
	return out
}

func (t *pathTree) isEmpty() bool {
	return t == nil || len(t.children) == 0
}

// pathForest holds one tree per root vertex.
type pathForest struct {
	roots []*pathTree
	index map[string]*pathTree
}

func newPathForest() *pathForest {
	return &pathForest{index: make(map[string]*pathTree)}
}

func (f *pathForest) add(p *opPath) {
	root := p.root().vertex
	t, ok := f.index[root.ID]
	if !ok {
		t = newPathTree(root)
		f.index[root.ID] = t
		f.roots = append(f.roots, t)
	}
	t.add(p)
}

// sortedRoots returns the root trees ordered by subgraph name.
func (f *pathForest) sortedRoots() []*pathTree {
	out := append([]*pathTree(nil), f.roots...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].vertex.SubGraph.Name < out[j].vertex.SubGraph.Name
	})
	return out
}

func buildForest(paths []*opPath) *pathForest {
	f := newPathForest()
	for _, p := range paths {
		f.add(p)
	}
	return f
}
