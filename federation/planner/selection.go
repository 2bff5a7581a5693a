package planner

import (
	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/vektah/gqlparser/v2/ast"
)

// selectionSet is the mutable selection of a fetch group. Items keep insertion order and
// identical items are merged.
type selectionSet struct {
	items []*selectionNode
	index map[string]*selectionNode
}

type selectionNode struct {
	// field is nil for inline fragments.
	field         *ast.Field
	typeCondition string
	directives    ast.DirectiveList
	// returnType is the named type of a field.
	returnType string
	children   *selectionSet
	key        string
}

// pathElement is one step of a position inside a selection.
type pathElement struct {
	field         *ast.Field
	returnType    string
	abstract      bool
	leaf          bool
	typeCondition string
	directives    ast.DirectiveList
}

func fieldElement(f *ast.Field, returnType string, abstract, leaf bool) pathElement {
	return pathElement{
		field: &ast.Field{
			Alias:      f.Alias,
			Name:       f.Name,
			Arguments:  f.Arguments,
			Directives: f.Directives,
		},
		returnType: returnType,
		abstract:   abstract,
		leaf:       leaf,
	}
}

func fragmentElement(typeCondition string, directives ast.DirectiveList) pathElement {
	return pathElement{typeCondition: typeCondition, directives: directives}
}

func typenameElement() pathElement {
	return pathElement{field: &ast.Field{Name: "__typename"}, returnType: "String", leaf: true}
}

func (e pathElement) key() string {
	if e.field != nil {
		return fieldKey(e.field)
	}
	return "..." + e.typeCondition + directivesKey(e.directives)
}

// typeName returns the type the children of the node select on.
func (n *selectionNode) typeName() string {
	if n.field != nil {
		return n.returnType
	}
	return n.typeCondition
}

func newSelectionSet() *selectionSet {
	return &selectionSet{index: make(map[string]*selectionNode)}
}

func (s *selectionSet) isEmpty() bool {
	return s == nil || len(s.items) == 0
}

// child returns the item for e, creating it when missing. Abstract fields start with __typename.
func (s *selectionSet) child(e pathElement) *selectionNode {
	k := e.key()
	if n, ok := s.index[k]; ok {
		return n
	}
	n := &selectionNode{
		field:         e.field,
		typeCondition: e.typeCondition,
		directives:    e.directives,
		returnType:    e.returnType,
		key:           k,
	}
	if e.field == nil || !e.leaf {
		n.children = newSelectionSet()
		if e.abstract {
			n.children.child(typenameElement())
		}
	}
	s.index[k] = n
	s.items = append(s.items, n)
	return n
}

// at returns the selection set at path, creating the missing items.
func (s *selectionSet) at(path []pathElement) *selectionSet {
	cur := s
	for _, e := range path {
		cur = cur.child(e).children
	}
	return cur
}

// add inserts e under path.
func (s *selectionSet) add(path []pathElement, e pathElement) {
	s.at(path).child(e)
}

// merge folds other into s.
func (s *selectionSet) merge(other *selectionSet) {
	if other == nil {
		return
	}
	for _, item := range other.items {
		n, ok := s.index[item.key]
		if !ok {
			n = &selectionNode{
				field:         item.field,
				typeCondition: item.typeCondition,
				directives:    item.directives,
				returnType:    item.returnType,
				key:           item.key,
			}
			if item.children != nil {
				n.children = newSelectionSet()
			}
			s.index[item.key] = n
			s.items = append(s.items, n)
		}
		if item.children != nil {
			if n.children == nil {
				n.children = newSelectionSet()
			}
			n.children.merge(item.children)
		}
	}
}

// contains reports whether every item of other is in s.
func (s *selectionSet) contains(other *selectionSet) bool {
	if other == nil {
		return true
	}
	if s == nil {
		return other.isEmpty()
	}
	for _, item := range other.items {
		n, ok := s.index[item.key]
		if !ok {
			return false
		}
		if item.children != nil && !n.children.contains(item.children) {
			return false
		}
	}
	return true
}

// fieldCount returns the number of fields of the selection, recursively.
func (s *selectionSet) fieldCount() int {
	if s == nil {
		return 0
	}
	count := 0
	for _, item := range s.items {
		if item.field != nil {
			count++
		}
		count += item.children.fieldCount()
	}
	return count
}

// toAST converts the selection to gqlparser nodes.
func (s *selectionSet) toAST() ast.SelectionSet {
	if s == nil {
		return nil
	}
	out := make(ast.SelectionSet, 0, len(s.items))
	for _, item := range s.items {
		if item.field != nil {
			f := *item.field
			f.SelectionSet = item.children.toAST()
			out = append(out, &f)
			continue
		}
		out = append(out, &ast.InlineFragment{
			TypeCondition: item.typeCondition,
			Directives:    item.directives,
			SelectionSet:  item.children.toAST(),
		})
	}
	return out
}

// trimmed converts an input selection to the plan representation: names and type conditions.
func (s *selectionSet) trimmed() []*plan.Selection {
	if s.isEmpty() {
		return nil
	}
	out := make([]*plan.Selection, 0, len(s.items))
	for _, item := range s.items {
		if item.field != nil {
			out = append(out, &plan.Selection{
				Kind:       plan.SelectionKindField,
				Name:       item.field.Name,
				Selections: item.children.trimmed(),
			})
			continue
		}
		out = append(out, &plan.Selection{
			Kind:          plan.SelectionKindInlineFragment,
			TypeCondition: item.typeCondition,
			Selections:    item.children.trimmed(),
		})
	}
	return out
}

// variables returns the variables referenced by the selection in first use order.
func (s *selectionSet) variables() []string {
	seen := make(map[string]bool)
	var out []string
	var visitValue func(v *ast.Value)
	visitValue = func(v *ast.Value) {
		if v == nil {
			return
		}
		if v.Kind == ast.Variable {
			if !seen[v.Raw] {
				seen[v.Raw] = true
				out = append(out, v.Raw)
			}
			return
		}
		for _, c := range v.Children {
			visitValue(c.Value)
		}
	}
	fromDirectives := func(list ast.DirectiveList) {
		for _, d := range list {
			for _, a := range d.Arguments {
				visitValue(a.Value)
			}
		}
	}
	var walk func(*selectionSet)
	walk = func(set *selectionSet) {
		if set == nil {
			return
		}
		for _, item := range set.items {
			if item.field != nil {
				for _, a := range item.field.Arguments {
					visitValue(a.Value)
				}
				fromDirectives(item.field.Directives)
			} else {
				fromDirectives(item.directives)
			}
			walk(item.children)
		}
	}
	walk(s)
	return out
}
