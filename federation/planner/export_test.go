package planner

import (
	"context"
	"fmt"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// FetchGraphViolationsForTest plans the single operation of query and returns what is wrong
// with the optimized fetch dependency graph: dependencies implied by another dependency, and
// entity groups that do not wait for the group selecting their representation.
func FetchGraphViolationsForTest(superGraph *graph.SuperGraph, cfg Config, query string) ([]string, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: query})
	if err != nil {
		return nil, err
	}
	opDef, err := selectOperation(doc, "")
	if err != nil {
		return nil, err
	}
	op, err := normalizeOperation(superGraph, doc, opDef, cfg.IncrementalDelivery, map[string]bool{})
	if err != nil {
		return nil, err
	}
	pc := newPlanningContext(context.Background(), superGraph, cfg.withDefaults(), cfg.CostFunction == nil, op)
	b, err := pc.plan()
	if err != nil {
		return nil, err
	}
	return fetchGraphViolations(b.graph), nil
}

func fetchGraphViolations(d *FetchDependencyGraph) []string {
	var out []string
	for _, g := range d.Groups() {
		deps := d.Dependencies(g)
		for _, via := range deps {
			for _, other := range deps {
				if via != other && d.dependsOn(via, other) {
					out = append(out, fmt.Sprintf("%s: dependency on %s is implied by %s", g, other, via))
				}
			}
		}
		if g.root {
			continue
		}
		if g.parent == nil || g.parent.removed || !d.dependsOn(g, g.parent) {
			out = append(out, fmt.Sprintf("%s: does not wait for its parent", g))
			continue
		}
		sel, ok := lookupSelection(g.parent.selection, g.pathInParent)
		if !ok || sel.index[typenameElement().key()] == nil {
			out = append(out, fmt.Sprintf("%s: %s does not select __typename where the group merges", g, g.parent))
		}
	}
	return out
}

// lookupSelection is selectionSet.at without creating missing items.
func lookupSelection(s *selectionSet, path []pathElement) (*selectionSet, bool) {
	cur := s
	for _, e := range path {
		if cur == nil {
			return nil, false
		}
		n, ok := cur.index[e.key()]
		if !ok {
			return nil, false
		}
		cur = n.children
	}
	return cur, cur != nil
}
