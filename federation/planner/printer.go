package planner

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// tokenWriter writes a minified GraphQL document. A space is only written between two tokens
// that would otherwise merge into one name or between two adjacent string values.
type tokenWriter struct {
	sb   strings.Builder
	last byte
}

func isNameByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (w *tokenWriter) token(s string) {
	if s == "" {
		return
	}
	if w.last != 0 && (isNameByte(w.last) || w.last == '"') && (isNameByte(s[0]) || s[0] == '"') {
		w.sb.WriteByte(' ')
	}
	w.sb.WriteString(s)
	w.last = s[len(s)-1]
}

func (w *tokenWriter) String() string { return w.sb.String() }

func (w *tokenWriter) value(v *ast.Value) {
	if v == nil {
		w.token("null")
		return
	}
	switch v.Kind {
	case ast.Variable:
		w.token("$" + v.Raw)
	case ast.StringValue, ast.BlockValue:
		w.token(quoteString(v.Raw))
	case ast.ListValue:
		w.token("[")
		for _, c := range v.Children {
			w.value(c.Value)
		}
		w.token("]")
	case ast.ObjectValue:
		w.token("{")
		for _, c := range v.Children {
			w.token(c.Name)
			w.token(":")
			w.value(c.Value)
		}
		w.token("}")
	default:
		w.token(v.Raw)
	}
}

// quoteString renders s as a GraphQL string literal. Control characters use \uXXXX escapes.
func quoteString(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				sb.WriteString(`\u00`)
				sb.WriteByte(hex[r>>4])
				sb.WriteByte(hex[r&0xf])
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (w *tokenWriter) arguments(args ast.ArgumentList) {
	if len(args) == 0 {
		return
	}
	w.token("(")
	for _, a := range args {
		w.token(a.Name)
		w.token(":")
		w.value(a.Value)
	}
	w.token(")")
}

func (w *tokenWriter) directives(list ast.DirectiveList) {
	for _, d := range list {
		w.token("@" + d.Name)
		w.arguments(d.Arguments)
	}
}

func (w *tokenWriter) typeRef(t *ast.Type) {
	if t.Elem != nil {
		w.token("[")
		w.typeRef(t.Elem)
		w.token("]")
	} else {
		w.token(t.NamedType)
	}
	if t.NonNull {
		w.token("!")
	}
}

// astSelection writes a gqlparser selection set. Fragment spreads are written as spreads.
func (w *tokenWriter) astSelection(set ast.SelectionSet) {
	w.token("{")
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Alias != "" && s.Alias != s.Name {
				w.token(s.Alias)
				w.token(":")
			}
			w.token(s.Name)
			w.arguments(s.Arguments)
			w.directives(s.Directives)
			if len(s.SelectionSet) > 0 {
				w.astSelection(s.SelectionSet)
			}
		case *ast.InlineFragment:
			w.token("...")
			if s.TypeCondition != "" {
				w.token("on")
				w.token(s.TypeCondition)
			}
			w.directives(s.Directives)
			w.astSelection(s.SelectionSet)
		case *ast.FragmentSpread:
			w.token("..." + s.Name)
			w.directives(s.Directives)
		}
	}
	w.token("}")
}

// printSelectionSet returns the minified form of a selection set.
func printSelectionSet(set ast.SelectionSet) string {
	var w tokenWriter
	w.astSelection(set)
	return w.String()
}

// reusableFragment is a named fragment of the source operation that sub-operations may spread.
type reusableFragment struct {
	name          string
	typeCondition string
	printed       string
	selection     ast.SelectionSet
}

// operationPrinter prints the subgraph operation of fetch groups.
type operationPrinter struct {
	op        *operation
	fragments []*reusableFragment
}

func newOperationPrinter(op *operation, reuseFragments bool) *operationPrinter {
	p := &operationPrinter{op: op}
	if !reuseFragments {
		return p
	}
	for _, def := range op.fragments {
		sel := inlineSpreads(def.SelectionSet, op.fragments, map[string]bool{def.Name: true})
		p.fragments = append(p.fragments, &reusableFragment{
			name:          def.Name,
			typeCondition: def.TypeCondition,
			printed:       printSelectionSet(mergeSelectionSet(sel)),
			selection:     sel,
		})
	}
	return p
}

// inlineSpreads replaces fragment spreads by inline fragments.
func inlineSpreads(set ast.SelectionSet, fragments ast.FragmentDefinitionList, visiting map[string]bool) ast.SelectionSet {
	out := make(ast.SelectionSet, 0, len(set))
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			f := *s
			if len(s.SelectionSet) > 0 {
				f.SelectionSet = inlineSpreads(s.SelectionSet, fragments, visiting)
			}
			out = append(out, &f)
		case *ast.InlineFragment:
			frag := *s
			frag.SelectionSet = inlineSpreads(s.SelectionSet, fragments, visiting)
			out = append(out, &frag)
		case *ast.FragmentSpread:
			def := fragments.ForName(s.Name)
			if def == nil || visiting[s.Name] {
				continue
			}
			visiting[s.Name] = true
			out = append(out, &ast.InlineFragment{
				TypeCondition: def.TypeCondition,
				Directives:    s.Directives,
				SelectionSet:  inlineSpreads(def.SelectionSet, fragments, visiting),
			})
			delete(visiting, s.Name)
		}
	}
	return out
}

// print returns the operation of g. name is empty for anonymous operations.
func (p *operationPrinter) print(g *FetchGroup, name string) string {
	used := p.reused(g.selection)

	var w tokenWriter
	kind := ast.Query
	if g.root {
		kind = g.rootKind
	}
	vars := p.variableDefinitions(g)
	if !g.root || name != "" || len(vars) > 0 || kind != ast.Query {
		w.token(string(kind))
		w.token(name)
	}

	if !g.root || len(vars) > 0 {
		w.token("(")
		if !g.root {
			w.token("$representations")
			w.token(":")
			w.token("[_Any!]!")
		}
		for _, v := range vars {
			w.token("$" + v.Variable)
			w.token(":")
			w.typeRef(v.Type)
			if v.DefaultValue != nil {
				w.token("=")
				w.value(v.DefaultValue)
			}
		}
		w.token(")")
	}

	if g.root {
		p.selection(&w, g.selection, used)
	} else {
		w.token("{")
		w.token("_entities")
		w.token("(")
		w.token("representations")
		w.token(":")
		w.token("$representations")
		w.token(")")
		p.selection(&w, g.selection, used)
		w.token("}")
	}

	for _, f := range p.fragments {
		if !used[f.name] {
			continue
		}
		w.token("fragment")
		w.token(f.name)
		w.token("on")
		w.token(f.typeCondition)
		w.astSelection(mergeSelectionSet(f.selection))
	}
	return w.String()
}

// variableDefinitions returns the definitions of the variables g uses, in definition order.
func (p *operationPrinter) variableDefinitions(g *FetchGroup) ast.VariableDefinitionList {
	used := g.selection.variables()
	if len(used) == 0 {
		return nil
	}
	var out ast.VariableDefinitionList
	for _, v := range p.op.variables {
		if containsName(used, v.Variable) {
			out = append(out, v)
		}
	}
	return out
}

// variableUsages returns the names of the variables g uses, in definition order.
func (p *operationPrinter) variableUsages(g *FetchGroup) []string {
	defs := p.variableDefinitions(g)
	out := make([]string, 0, len(defs))
	for _, v := range defs {
		out = append(out, v.Variable)
	}
	return out
}

// reused returns the fragments whose selection occurs at least twice in set.
func (p *operationPrinter) reused(set *selectionSet) map[string]bool {
	if len(p.fragments) == 0 {
		return nil
	}
	counts := make(map[string]int)
	var walk func(set *selectionSet)
	walk = func(set *selectionSet) {
		for _, item := range set.items {
			if item.children.isEmpty() {
				continue
			}
			if f := p.matchFragment(item.children, item.typeName()); f != nil {
				counts[f.name]++
			}
			walk(item.children)
		}
	}
	walk(set)

	used := make(map[string]bool)
	for name, n := range counts {
		if n >= 2 {
			used[name] = true
		}
	}
	return used
}

func (p *operationPrinter) matchFragment(children *selectionSet, typeName string) *reusableFragment {
	printed := printSelectionSet(children.toAST())
	for _, f := range p.fragments {
		if f.printed == printed && typeName == f.typeCondition {
			return f
		}
	}
	return nil
}

// selection writes set, replacing the sub-selections equal to a used fragment by a spread.
func (p *operationPrinter) selection(w *tokenWriter, set *selectionSet, used map[string]bool) {
	if len(used) == 0 {
		w.astSelection(set.toAST())
		return
	}
	w.token("{")
	for _, item := range set.items {
		if item.field != nil {
			if item.field.Alias != "" && item.field.Alias != item.field.Name {
				w.token(item.field.Alias)
				w.token(":")
			}
			w.token(item.field.Name)
			w.arguments(item.field.Arguments)
			w.directives(item.field.Directives)
		} else {
			w.token("...")
			w.token("on")
			w.token(item.typeCondition)
			w.directives(item.directives)
		}
		if item.children.isEmpty() {
			if item.field == nil {
				w.token("{")
				w.token("}")
			}
			continue
		}
		if f := p.matchFragment(item.children, item.typeName()); f != nil && used[f.name] {
			w.token("{")
			w.token("..." + f.name)
			w.token("}")
			continue
		}
		p.selection(w, item.children, used)
	}
	w.token("}")
}
