package graph

import (
	"container/heap"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
)

// EdgeKind classifies the transitions of the query graph.
type EdgeKind int

const (
	// FieldEdge collects a field inside one subgraph.
	FieldEdge EdgeKind = iota
	// KeyEdge moves an entity to another subgraph through one of its @key.
	KeyEdge
	// DowncastEdge narrows an abstract type to one of its runtime types inside one subgraph.
	DowncastEdge
	// RootEdge enters a subgraph at one of its root types.
	RootEdge
)

func (k EdgeKind) String() string {
	switch k {
	case FieldEdge:
		return "field"
	case KeyEdge:
		return "key"
	case DowncastEdge:
		return "downcast"
	case RootEdge:
		return "root"
	}
	return "unknown"
}

// Vertex is a type inside a subgraph.
type Vertex struct {
	ID       string          // "{SubGraphName}:{TypeName}"
	SubGraph *SubGraph       // The subgraph this vertex belongs to
	TypeName string          // Type name (e.g., "Review")
	Def      *ast.Definition // Subgraph-local definition
	Root     ast.Operation   // Root kind when the type is a root type of its subgraph
}

// IsInterfaceObject reports whether the vertex is an @interfaceObject type.
func (v *Vertex) IsInterfaceObject() bool {
	entity, ok := v.SubGraph.GetEntity(v.TypeName)
	return ok && entity.IsInterfaceObject()
}

// Edge is a transition between two vertices.
type Edge struct {
	ID         string
	Kind       EdgeKind
	Tail       *Vertex
	Head       *Vertex
	FieldName  string     // FieldEdge
	Field      *Field     // FieldEdge metadata
	Key        *EntityKey // KeyEdge
	Conditions string     // @key field set for KeyEdge, @requires field set for FieldEdge

	overriddenBy *OverrideMetadata
}

// Traversable reports whether a field edge is served by its subgraph under the given
// progressive override labels.
func (e *Edge) Traversable(labels map[string]bool) bool {
	if e.Kind != FieldEdge || e.Field == nil {
		return true
	}
	if o := e.Field.Override; o != nil && o.Label != "" && !labels[o.Label] {
		return false
	}
	if o := e.overriddenBy; o != nil {
		if o.Label == "" || labels[o.Label] {
			return false
		}
	}
	return true
}

// QueryGraph is the federation query graph: vertices are types in subgraphs and edges are
// field, key, downcast and root transitions.
type QueryGraph struct {
	Vertices map[string]*Vertex
	Roots    map[ast.Operation][]*Vertex

	out   map[string][]*Edge
	field map[string]*Edge
}

// VertexID returns the vertex identifier of a type inside a subgraph.
func VertexID(subGraphName, typeName string) string {
	return subGraphName + ":" + typeName
}

// BuildQueryGraph constructs the query graph from the subgraphs' schema metadata.
// This is called once during NewSuperGraph.
//
// Construction rules:
//   - every type of every subgraph becomes a vertex
//   - every field of a composite type becomes a field edge inside its subgraph
//   - every abstract type gets a downcast edge to each of its runtime types in the same subgraph
//   - every resolvable @key adds a key edge from each other subgraph knowing the type
//     (or one of its @interfaceObject interfaces) into the keyed subgraph
func BuildQueryGraph(sg *SuperGraph) *QueryGraph {
	g := &QueryGraph{
		Vertices: make(map[string]*Vertex),
		Roots:    make(map[ast.Operation][]*Vertex),
		out:      make(map[string][]*Edge),
		field:    make(map[string]*Edge),
	}

	for _, sub := range sg.SubGraphs {
		for _, name := range builtinScalars {
			if _, ok := sub.Type(name); !ok {
				g.addVertex(sub, &ast.Definition{Kind: ast.Scalar, Name: name, BuiltIn: true})
			}
		}
		for _, typeName := range sub.TypeNames() {
			def, _ := sub.Type(typeName)
			g.addVertex(sub, def)
		}
		for _, op := range []ast.Operation{ast.Query, ast.Mutation, ast.Subscription} {
			if name := sub.RootTypeName(op); name != "" {
				if v, ok := g.Vertices[VertexID(sub.Name, name)]; ok {
					v.Root = op
					g.Roots[op] = append(g.Roots[op], v)
				}
			}
		}
	}

	overrides := make(map[string]*OverrideMetadata)
	for _, sub := range sg.SubGraphs {
		for _, typeName := range sub.TypeNames() {
			def, _ := sub.Type(typeName)
			for _, fd := range def.Fields {
				if f, ok := sub.Field(typeName, fd.Name); ok && f.Override != nil {
					overrides[f.Override.From+":"+typeName+"."+fd.Name] = f.Override
				}
			}
		}
	}

	for _, sub := range sg.SubGraphs {
		for _, typeName := range sub.TypeNames() {
			def, _ := sub.Type(typeName)
			tail := g.Vertices[VertexID(sub.Name, typeName)]
			if !def.IsCompositeType() {
				continue
			}
			for _, fd := range def.Fields {
				meta, _ := sub.Field(typeName, fd.Name)
				head, ok := g.Vertices[VertexID(sub.Name, fd.Type.Name())]
				if !ok {
					continue
				}
				e := &Edge{
					ID:           tail.ID + "." + fd.Name,
					Kind:         FieldEdge,
					Tail:         tail,
					Head:         head,
					FieldName:    fd.Name,
					Field:        meta,
					overriddenBy: overrides[sub.Name+":"+typeName+"."+fd.Name],
				}
				if meta != nil {
					e.Conditions = meta.Requires
				}
				g.addEdge(e)
				g.field[e.ID] = e
			}
			for _, runtimeType := range localRuntimeTypes(sub, def) {
				head := g.Vertices[VertexID(sub.Name, runtimeType)]
				g.addEdge(&Edge{
					ID:   tail.ID + "->" + runtimeType,
					Kind: DowncastEdge,
					Tail: tail,
					Head: head,
				})
			}
		}
	}

	for _, target := range sg.SubGraphs {
		for _, typeName := range target.TypeNames() {
			keys := target.ResolvableKeys(typeName)
			if len(keys) == 0 {
				continue
			}
			head := g.Vertices[VertexID(target.Name, typeName)]
			interfaceObject := head.IsInterfaceObject()
			for _, source := range sg.SubGraphs {
				if source.Name == target.Name {
					continue
				}
				var tails []*Vertex
				if _, ok := source.Type(typeName); ok {
					tails = append(tails, g.Vertices[VertexID(source.Name, typeName)])
				}
				if interfaceObject {
					for _, implName := range source.TypeNames() {
						impl, _ := source.Type(implName)
						if impl.Kind == ast.Object && containsString(impl.Interfaces, typeName) {
							tails = append(tails, g.Vertices[VertexID(source.Name, implName)])
						}
					}
				}
				for _, tail := range tails {
					for i := range keys {
						key := keys[i]
						g.addEdge(&Edge{
							ID:         tail.ID + "=>" + head.ID + "(" + key.FieldSet + ")",
							Kind:       KeyEdge,
							Tail:       tail,
							Head:       head,
							Key:        &key,
							Conditions: key.FieldSet,
						})
					}
				}
			}
		}
	}

	return g
}

// localRuntimeTypes returns the object types implementing (or belonging to) an abstract
// definition inside one subgraph, sorted by name.
func localRuntimeTypes(sub *SubGraph, def *ast.Definition) []string {
	var names []string
	switch def.Kind {
	case ast.Union:
		for _, member := range def.Types {
			if _, ok := sub.Type(member); ok {
				names = append(names, member)
			}
		}
	case ast.Interface:
		for _, typeName := range sub.TypeNames() {
			t, _ := sub.Type(typeName)
			if t.Kind == ast.Object && containsString(t.Interfaces, def.Name) {
				names = append(names, typeName)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (g *QueryGraph) addVertex(sub *SubGraph, def *ast.Definition) *Vertex {
	id := VertexID(sub.Name, def.Name)
	if existing, ok := g.Vertices[id]; ok {
		return existing
	}
	v := &Vertex{ID: id, SubGraph: sub, TypeName: def.Name, Def: def}
	g.Vertices[id] = v
	return v
}

func (g *QueryGraph) addEdge(e *Edge) {
	g.out[e.Tail.ID] = append(g.out[e.Tail.ID], e)
}

// Vertex returns the vertex of typeName in a subgraph.
func (g *QueryGraph) Vertex(subGraphName, typeName string) (*Vertex, bool) {
	v, ok := g.Vertices[VertexID(subGraphName, typeName)]
	return v, ok
}

// OutEdges returns the edges leaving a vertex in construction order.
func (g *QueryGraph) OutEdges(v *Vertex) []*Edge {
	return g.out[v.ID]
}

// FieldEdge returns the field edge collecting fieldName at v.
func (g *QueryGraph) FieldEdge(v *Vertex, fieldName string) (*Edge, bool) {
	e, ok := g.field[v.ID+"."+fieldName]
	return e, ok
}

// KeyEdges returns the key edges leaving v.
func (g *QueryGraph) KeyEdges(v *Vertex) []*Edge {
	var edges []*Edge
	for _, e := range g.out[v.ID] {
		if e.Kind == KeyEdge {
			edges = append(edges, e)
		}
	}
	return edges
}

// DowncastEdge returns the downcast edge from v to runtimeType.
func (g *QueryGraph) DowncastEdge(v *Vertex, runtimeType string) (*Edge, bool) {
	for _, e := range g.out[v.ID] {
		if e.Kind == DowncastEdge && e.Head.TypeName == runtimeType {
			return e, true
		}
	}
	return nil, false
}

// weight is 0 for same-subgraph traversal and 1 for cross-subgraph traversal.
func (e *Edge) weight() int {
	if e.Kind == KeyEdge {
		return 1
	}
	return 0
}

// -----------------------------------------------------------------------
// Dijkstra priority queue implementation
// -----------------------------------------------------------------------

type dijkstraItem struct {
	vertexID string
	cost     int
	index    int
}

type dijkstraPQ []*dijkstraItem

func (pq dijkstraPQ) Len() int           { return len(pq) }
func (pq dijkstraPQ) Less(i, j int) bool { return pq[i].cost < pq[j].cost }
func (pq dijkstraPQ) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *dijkstraPQ) Push(x any) {
	item := x.(*dijkstraItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *dijkstraPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// HopIndex holds the minimum number of subgraph hops needed to reach each vertex.
type HopIndex struct {
	Dist map[string]int
	Prev map[string]string
}

// Hops runs Dijkstra from the given entry vertices; key edges cost one hop and every
// other edge is free. Field edges that are never served under labels are skipped.
func (g *QueryGraph) Hops(entries []*Vertex, labels map[string]bool) *HopIndex {
	idx := &HopIndex{
		Dist: make(map[string]int, len(g.Vertices)),
		Prev: make(map[string]string),
	}

	pq := &dijkstraPQ{}
	heap.Init(pq)
	for _, v := range entries {
		idx.Dist[v.ID] = 0
		heap.Push(pq, &dijkstraItem{vertexID: v.ID})
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*dijkstraItem)
		if item.cost > idx.Dist[item.vertexID] {
			continue // stale entry
		}
		for _, e := range g.out[item.vertexID] {
			if !e.Traversable(labels) || (e.Field != nil && e.Field.IsExternal()) {
				continue
			}
			cost := item.cost + e.weight()
			if existing, ok := idx.Dist[e.Head.ID]; !ok || cost < existing {
				idx.Dist[e.Head.ID] = cost
				idx.Prev[e.Head.ID] = item.vertexID
				heap.Push(pq, &dijkstraItem{vertexID: e.Head.ID, cost: cost})
			}
		}
	}

	return idx
}

// Reachable reports whether a vertex was reached and at which cost.
func (h *HopIndex) Reachable(vertexID string) (int, bool) {
	d, ok := h.Dist[vertexID]
	return d, ok
}

// SubGraphs returns the names of the subgraphs having at least one reached vertex, sorted.
func (h *HopIndex) SubGraphs(g *QueryGraph) []string {
	seen := make(map[string]bool)
	for id := range h.Dist {
		if v, ok := g.Vertices[id]; ok {
			seen[v.SubGraph.Name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReconstructPath returns the vertex ids from an entry vertex to dst.
// Returns nil if dst is unreachable.
func (h *HopIndex) ReconstructPath(dst string) []string {
	if _, ok := h.Dist[dst]; !ok {
		return nil
	}
	var path []string
	visited := make(map[string]bool)
	for cur := dst; cur != ""; {
		if visited[cur] {
			break
		}
		visited[cur] = true
		path = append([]string{cur}, path...)
		prev, ok := h.Prev[cur]
		if !ok {
			break
		}
		cur = prev
	}
	return path
}
