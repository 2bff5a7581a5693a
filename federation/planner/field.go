package planner

import (
	"fmt"
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// Field is one field access of the operation with the scope it was collected under.
type Field struct {
	scope *Scope
	node  *ast.Field
	def   *ast.FieldDefinition
	order int
}

// FieldSet is an ordered list of fields.
type FieldSet []*Field

// Scope returns the scope the field was collected under.
func (f *Field) Scope() *Scope { return f.scope }

// ResponseName returns the alias of the field, or its name.
func (f *Field) ResponseName() string { return responseName(f.node) }

func (f *Field) isTypename() bool { return f.node.Name == "__typename" }

// isLeaf reports whether the field has no sub-selection.
func (f *Field) isLeaf(sg *graph.SuperGraph) bool {
	if f.isTypename() {
		return true
	}
	def, ok := sg.Type(f.def.Type.Name())
	return !ok || def.IsLeafType()
}

type collector struct {
	superGraph *graph.SuperGraph
	fragments  ast.FragmentDefinitionList
	order      int
}

// collectFields flattens set under scope: fragments are expanded into refined scopes and
// fragments that cannot apply to any runtime type of the scope are discarded.
func (c *collector) collectFields(scope *Scope, set ast.SelectionSet) (FieldSet, error) {
	var out FieldSet
	if err := c.collect(scope, set, make(map[string]bool), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *collector) collect(scope *Scope, set ast.SelectionSet, visited map[string]bool, out *FieldSet) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			def, ok := c.superGraph.FieldDefinition(scope.parentType.Name, s.Name)
			if !ok {
				if s.Name == "__schema" || s.Name == "__type" {
					continue
				}
				return &FieldResolutionError{TypeName: scope.parentType.Name, FieldName: s.Name}
			}
			*out = append(*out, &Field{scope: scope, node: s, def: def, order: c.order})
			c.order++

		case *ast.InlineFragment:
			if err := c.fragment(scope, s.TypeCondition, s.Directives, s.SelectionSet, visited, out); err != nil {
				return err
			}

		case *ast.FragmentSpread:
			def := c.fragments.ForName(s.Name)
			if def == nil {
				return fmt.Errorf("%w: unknown fragment %q", ErrFieldResolution, s.Name)
			}
			if visited[s.Name] {
				continue
			}
			visited[s.Name] = true
			err := c.fragment(scope, def.TypeCondition, s.Directives, def.SelectionSet, visited, out)
			delete(visited, s.Name)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *collector) fragment(scope *Scope, typeCondition string, directives ast.DirectiveList, body ast.SelectionSet, visited map[string]bool, out *FieldSet) error {
	if typeCondition == "" {
		typeCondition = scope.parentType.Name
	}
	def, ok := c.superGraph.Type(typeCondition)
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrFieldResolution, typeCondition)
	}
	if !scope.intersects(typeCondition) {
		return nil
	}
	return c.collect(scope.Refine(def, directives), body, visited, out)
}

// groupFields groups fields that are merged into one selection: same response name, same
// arguments and directives, same scope.
func groupFields(fs FieldSet) []FieldSet {
	return groupBy(fs, func(f *Field) string { return f.scope.key + "#" + fieldKey(f.node) })
}

func groupByScope(fs FieldSet) []FieldSet {
	return groupBy(fs, func(f *Field) string { return f.scope.key })
}

func groupBy(fs FieldSet, key func(*Field) string) []FieldSet {
	index := make(map[string]int)
	var groups []FieldSet
	for _, f := range fs {
		k := key(f)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], f)
	}
	return groups
}

// subSelection concatenates the sub-selections of a group of merged fields.
func subSelection(group FieldSet) ast.SelectionSet {
	var out ast.SelectionSet
	for _, f := range group {
		out = append(out, f.node.SelectionSet...)
	}
	return out
}

// selectionSetFromFieldSet rebuilds a selection set from collected fields. Fields collected
// under a scope other than parentType are wrapped in inline fragments carrying the scope
// directives.
func selectionSetFromFieldSet(fs FieldSet, parentType *ast.Definition) ast.SelectionSet {
	var out ast.SelectionSet
	for _, group := range groupByScope(fs) {
		var sel ast.SelectionSet
		for _, f := range group {
			sel = append(sel, f.node)
		}
		out = append(out, wrapInScope(group[0].scope, parentType, mergeSelectionSet(sel))...)
	}
	return mergeSelectionSet(out)
}

func wrapInScope(scope *Scope, parentType *ast.Definition, sel ast.SelectionSet) ast.SelectionSet {
	links := scope.links()
	start := 0
	if len(links) > 0 && links[0].parentType.Name == parentType.Name && len(links[0].directives) == 0 {
		start = 1
	}
	for i := len(links) - 1; i >= start; i-- {
		sel = ast.SelectionSet{&ast.InlineFragment{
			TypeCondition: links[i].parentType.Name,
			Directives:    links[i].directives,
			SelectionSet:  sel,
		}}
	}
	return sel
}

// mergeSelectionSet merges fields with the same response name, arguments and directives and
// fragments with the same type condition and directives, recursively. Occurrences with
// different directives stay separate.
func mergeSelectionSet(set ast.SelectionSet) ast.SelectionSet {
	var out ast.SelectionSet
	fields := make(map[string]*ast.Field)
	fragments := make(map[string]*ast.InlineFragment)
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			key := fieldKey(s)
			if existing, ok := fields[key]; ok {
				existing.SelectionSet = append(existing.SelectionSet, s.SelectionSet...)
				continue
			}
			f := &ast.Field{
				Alias:        s.Alias,
				Name:         s.Name,
				Arguments:    s.Arguments,
				Directives:   s.Directives,
				SelectionSet: append(ast.SelectionSet(nil), s.SelectionSet...),
				Position:     s.Position,
			}
			fields[key] = f
			out = append(out, f)
		case *ast.InlineFragment:
			key := s.TypeCondition + directivesKey(s.Directives)
			if existing, ok := fragments[key]; ok {
				existing.SelectionSet = append(existing.SelectionSet, s.SelectionSet...)
				continue
			}
			frag := &ast.InlineFragment{
				TypeCondition: s.TypeCondition,
				Directives:    s.Directives,
				SelectionSet:  append(ast.SelectionSet(nil), s.SelectionSet...),
				Position:      s.Position,
			}
			fragments[key] = frag
			out = append(out, frag)
		default:
			out = append(out, sel)
		}
	}
	for _, sel := range out {
		switch s := sel.(type) {
		case *ast.Field:
			if len(s.SelectionSet) > 0 {
				s.SelectionSet = mergeSelectionSet(s.SelectionSet)
			}
		case *ast.InlineFragment:
			s.SelectionSet = mergeSelectionSet(s.SelectionSet)
		}
	}
	return out
}

// fieldsString renders fs as Type.responseName pairs for log output.
func fieldsString(fs FieldSet) string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.scope.parentType.Name+"."+f.ResponseName())
	}
	return strings.Join(names, ",")
}
