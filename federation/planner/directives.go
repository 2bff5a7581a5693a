package planner

import (
	"sort"
	"strconv"
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/vektah/gqlparser/v2/ast"
)

// directivesKey is a canonical encoding of a directive list: directives and their arguments
// are sorted by name and object values by field name. List order is kept.
func directivesKey(directives ast.DirectiveList) string {
	if len(directives) == 0 {
		return ""
	}
	encoded := make([]string, 0, len(directives))
	for _, d := range directives {
		encoded = append(encoded, "@"+d.Name+argumentsKey(d.Arguments))
	}
	sort.Strings(encoded)
	return strings.Join(encoded, "")
}

func argumentsKey(args ast.ArgumentList) string {
	if len(args) == 0 {
		return ""
	}
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		encoded = append(encoded, a.Name+":"+valueKey(a.Value))
	}
	sort.Strings(encoded)
	return "(" + strings.Join(encoded, ",") + ")"
}

func valueKey(v *ast.Value) string {
	if v == nil {
		return "null"
	}
	switch v.Kind {
	case ast.Variable:
		return "$" + v.Raw
	case ast.StringValue, ast.BlockValue:
		return strconv.Quote(v.Raw)
	case ast.ListValue:
		items := make([]string, 0, len(v.Children))
		for _, c := range v.Children {
			items = append(items, valueKey(c.Value))
		}
		return "[" + strings.Join(items, ",") + "]"
	case ast.ObjectValue:
		items := make([]string, 0, len(v.Children))
		for _, c := range v.Children {
			items = append(items, c.Name+":"+valueKey(c.Value))
		}
		sort.Strings(items)
		return "{" + strings.Join(items, ",") + "}"
	default:
		return v.Raw
	}
}

// fieldKey identifies a field occurrence: response name, arguments and directives.
func fieldKey(f *ast.Field) string {
	return responseName(f) + "|" + f.Name + argumentsKey(f.Arguments) + directivesKey(f.Directives)
}

func responseName(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// staticInclusion evaluates @skip/@include with literal arguments. static is false when a
// condition depends on a variable.
func staticInclusion(directives ast.DirectiveList) (included bool, static bool) {
	included, static = true, true
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil || arg.Value == nil {
			continue
		}
		if arg.Value.Kind == ast.Variable {
			static = false
			continue
		}
		value := arg.Value.Raw == "true"
		if (d.Name == "skip" && value) || (d.Name == "include" && !value) {
			return false, true
		}
	}
	return included, static
}

// withoutStaticInclusion drops @skip/@include directives with literal arguments.
// It is only called on selections that staticInclusion kept.
func withoutStaticInclusion(directives ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range directives {
		if d.Name == "skip" || d.Name == "include" {
			if arg := d.Arguments.ForName("if"); arg != nil && arg.Value != nil && arg.Value.Kind != ast.Variable {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// inclusionConditions returns the variable bound @skip/@include of a directive list.
func inclusionConditions(directives ast.DirectiveList) []plan.InclusionCondition {
	var out []plan.InclusionCondition
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil || arg.Value == nil || arg.Value.Kind != ast.Variable {
			continue
		}
		out = append(out, plan.InclusionCondition{Variable: arg.Value.Raw, Negated: d.Name == "skip"})
	}
	return out
}

func withoutDirective(directives ast.DirectiveList, name string) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range directives {
		if d.Name != name {
			out = append(out, d)
		}
	}
	return out
}
