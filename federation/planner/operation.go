package planner

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// operation is the normalized form of the operation being planned: named fragment spreads are
// inlined, literal @skip/@include are applied and every kept @defer carries a unique label.
type operation struct {
	kind      ast.Operation
	name      string
	rootType  *ast.Definition
	selection ast.SelectionSet
	variables ast.VariableDefinitionList
	fragments ast.FragmentDefinitionList

	defers       []*deferBlock
	deferByLabel map[string]*deferBlock
}

// deferBlock is one kept @defer fragment.
type deferBlock struct {
	label         string
	parent        string
	queryPath     []string
	typeCondition string
	selection     ast.SelectionSet
}

type normalizer struct {
	superGraph   *graph.SuperGraph
	fragments    ast.FragmentDefinitionList
	deferEnabled bool
	assignment   map[string]bool
	op           *operation
	visiting     map[string]bool
	labelCounter int
}

// normalizeOperation normalizes opDef. assignment fixes the value of @defer(if: $var) variables.
func normalizeOperation(superGraph *graph.SuperGraph, doc *ast.QueryDocument, opDef *ast.OperationDefinition, deferEnabled bool, assignment map[string]bool) (*operation, error) {
	rootType := superGraph.RootType(opDef.Operation)
	if rootType == nil {
		return nil, fmt.Errorf("%w: the supergraph has no %s root type", ErrUnresolvablePlan, opDef.Operation)
	}
	op := &operation{
		kind:         opDef.Operation,
		name:         opDef.Name,
		rootType:     rootType,
		variables:    opDef.VariableDefinitions,
		fragments:    doc.Fragments,
		deferByLabel: make(map[string]*deferBlock),
	}
	n := &normalizer{
		superGraph:   superGraph,
		fragments:    doc.Fragments,
		deferEnabled: deferEnabled,
		assignment:   assignment,
		op:           op,
		visiting:     make(map[string]bool),
	}
	sel, err := n.normalize(opDef.SelectionSet, rootType.Name, nil, "")
	if err != nil {
		return nil, err
	}
	op.selection = sel
	return op, nil
}

func (n *normalizer) normalize(set ast.SelectionSet, parentType string, path []string, deferParent string) (ast.SelectionSet, error) {
	var out ast.SelectionSet
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if included, _ := staticInclusion(s.Directives); !included {
				continue
			}
			if n.superGraph.IsInaccessible(parentType, s.Name) {
				return nil, fmt.Errorf("%w: %s.%s", ErrInaccessibleField, parentType, s.Name)
			}
			f := &ast.Field{
				Alias:      s.Alias,
				Name:       s.Name,
				Arguments:  s.Arguments,
				Directives: withoutStaticInclusion(s.Directives),
				Position:   s.Position,
			}
			if len(s.SelectionSet) > 0 {
				fd, ok := n.superGraph.FieldDefinition(parentType, s.Name)
				if !ok {
					return nil, &FieldResolutionError{TypeName: parentType, FieldName: s.Name}
				}
				sub, err := n.normalize(s.SelectionSet, fd.Type.Name(), appendPath(path, responseName(s)), deferParent)
				if err != nil {
					return nil, err
				}
				f.SelectionSet = sub
			}
			out = append(out, f)

		case *ast.InlineFragment:
			frag, err := n.fragment(s.TypeCondition, s.Directives, s.SelectionSet, parentType, path, deferParent)
			if err != nil {
				return nil, err
			}
			if frag != nil {
				out = append(out, frag)
			}

		case *ast.FragmentSpread:
			def := n.fragments.ForName(s.Name)
			if def == nil {
				return nil, fmt.Errorf("%w: unknown fragment %q", ErrFieldResolution, s.Name)
			}
			if n.visiting[s.Name] {
				continue
			}
			n.visiting[s.Name] = true
			frag, err := n.fragment(def.TypeCondition, s.Directives, def.SelectionSet, parentType, path, deferParent)
			delete(n.visiting, s.Name)
			if err != nil {
				return nil, err
			}
			if frag != nil {
				out = append(out, frag)
			}
		}
	}
	return out, nil
}

func (n *normalizer) fragment(typeCondition string, directives ast.DirectiveList, body ast.SelectionSet, parentType string, path []string, deferParent string) (*ast.InlineFragment, error) {
	if included, _ := staticInclusion(directives); !included {
		return nil, nil
	}
	directives = withoutStaticInclusion(directives)
	innerType := typeCondition
	if innerType == "" {
		innerType = parentType
	}

	if d := directives.ForName("defer"); d != nil {
		directives = withoutDirective(directives, "defer")
		if label, ok := n.deferLabel(d); ok {
			block := &deferBlock{
				label:         label,
				parent:        deferParent,
				queryPath:     append([]string(nil), path...),
				typeCondition: innerType,
			}
			n.op.defers = append(n.op.defers, block)
			n.op.deferByLabel[label] = block

			sub, err := n.normalize(body, innerType, path, label)
			if err != nil {
				return nil, err
			}
			block.selection = sub
			directives = append(directives, &ast.Directive{
				Name: "defer",
				Arguments: ast.ArgumentList{{
					Name:  "label",
					Value: &ast.Value{Kind: ast.StringValue, Raw: label},
				}},
			})
			return &ast.InlineFragment{TypeCondition: typeCondition, Directives: directives, SelectionSet: sub}, nil
		}
	}

	sub, err := n.normalize(body, innerType, path, deferParent)
	if err != nil {
		return nil, err
	}
	return &ast.InlineFragment{TypeCondition: typeCondition, Directives: directives, SelectionSet: sub}, nil
}

// deferLabel decides whether a @defer is kept and returns its label.
func (n *normalizer) deferLabel(d *ast.Directive) (string, bool) {
	if !n.deferEnabled {
		return "", false
	}
	if arg := d.Arguments.ForName("if"); arg != nil && arg.Value != nil {
		switch arg.Value.Kind {
		case ast.Variable:
			if v, ok := n.assignment[arg.Value.Raw]; ok && !v {
				return "", false
			}
		case ast.BooleanValue:
			if arg.Value.Raw == "false" {
				return "", false
			}
		}
	}
	if arg := d.Arguments.ForName("label"); arg != nil && arg.Value != nil && arg.Value.Raw != "" {
		return arg.Value.Raw, true
	}
	label := "qp__" + strconv.Itoa(n.labelCounter)
	n.labelCounter++
	return label, true
}

// isDeferFragment returns the label of a normalized @defer fragment.
func isDeferFragment(directives ast.DirectiveList) (string, bool) {
	d := directives.ForName("defer")
	if d == nil {
		return "", false
	}
	arg := d.Arguments.ForName("label")
	if arg == nil || arg.Value == nil {
		return "", false
	}
	return arg.Value.Raw, true
}

// deferIfVariables returns the variables used by @defer(if:) in opDef, sorted.
func deferIfVariables(doc *ast.QueryDocument, opDef *ast.OperationDefinition) []string {
	seen := make(map[string]bool)
	visitDirectives(doc, opDef.SelectionSet, func(directives ast.DirectiveList) {
		for _, d := range directives.ForNames("defer") {
			if arg := d.Arguments.ForName("if"); arg != nil && arg.Value != nil && arg.Value.Kind == ast.Variable {
				seen[arg.Value.Raw] = true
			}
		}
	})
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// containsDefer reports whether opDef uses a @defer that is not statically disabled.
func containsDefer(doc *ast.QueryDocument, opDef *ast.OperationDefinition) bool {
	found := false
	visitDirectives(doc, opDef.SelectionSet, func(directives ast.DirectiveList) {
		for _, d := range directives.ForNames("defer") {
			arg := d.Arguments.ForName("if")
			if arg == nil || arg.Value == nil || arg.Value.Kind == ast.Variable || arg.Value.Raw != "false" {
				found = true
			}
		}
	})
	return found
}

func visitDirectives(doc *ast.QueryDocument, set ast.SelectionSet, fn func(ast.DirectiveList)) {
	visited := make(map[string]bool)
	var walk func(ast.SelectionSet)
	walk = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				fn(s.Directives)
				walk(s.SelectionSet)
			case *ast.InlineFragment:
				fn(s.Directives)
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				fn(s.Directives)
				if visited[s.Name] {
					continue
				}
				visited[s.Name] = true
				if def := doc.Fragments.ForName(s.Name); def != nil {
					walk(def.SelectionSet)
				}
			}
		}
	}
	walk(set)
}

func appendPath(path []string, elems ...string) []string {
	out := make([]string, 0, len(path)+len(elems))
	out = append(out, path...)
	return append(out, elems...)
}
