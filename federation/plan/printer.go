package plan

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

const indentUnit = "  "

// String renders the plan in an indented, human readable form.
func (p *QueryPlan) String() string {
	pr := &printer{}
	pr.line("QueryPlan {")
	pr.depth++
	Walk(p.Node, pr)
	pr.depth--
	pr.line("}")
	return pr.sb.String()
}

type printer struct {
	sb    strings.Builder
	depth int
}

func (p *printer) line(s string) {
	p.sb.WriteString(strings.Repeat(indentUnit, p.depth))
	p.sb.WriteString(s)
	p.sb.WriteByte('\n')
}

// block writes a multi-line text at the current depth.
func (p *printer) block(text string) {
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		p.line(l)
	}
}

func (p *printer) nodes(nodes []PlanNode) {
	p.depth++
	for _, n := range nodes {
		Walk(n, p)
	}
	p.depth--
}

func (p *printer) VisitFetch(n *FetchNode) {
	header := fmt.Sprintf("Fetch(service: %q", n.ServiceName)
	if n.ID != nil {
		header += fmt.Sprintf(", id: %d", *n.ID)
	}
	p.line(header + ") {")
	p.depth++
	if len(n.Requires) > 0 {
		p.line("{")
		p.depth++
		p.selections(n.Requires)
		p.depth--
		p.line("} =>")
	}
	p.block(prettyOperation(n.Operation))
	p.depth--
	p.line("},")
}

func (p *printer) selections(sels []*Selection) {
	for _, s := range sels {
		name := s.Name
		if s.Kind == SelectionKindInlineFragment {
			name = "... on " + s.TypeCondition
		}
		if len(s.Selections) == 0 {
			p.line(name)
			continue
		}
		p.line(name + " {")
		p.depth++
		p.selections(s.Selections)
		p.depth--
		p.line("}")
	}
}

func (p *printer) VisitFlatten(n *FlattenNode) {
	p.line(fmt.Sprintf("Flatten(path: %q) {", strings.Join(n.Path, ".")))
	p.nodes([]PlanNode{n.Node})
	p.line("},")
}

func (p *printer) VisitSequence(n *SequenceNode) {
	p.line("Sequence {")
	p.nodes(n.Nodes)
	p.line("},")
}

func (p *printer) VisitParallel(n *ParallelNode) {
	p.line("Parallel {")
	p.nodes(n.Nodes)
	p.line("},")
}

func (p *printer) VisitCondition(n *ConditionNode) {
	p.line(fmt.Sprintf("Include(if: $%s) {", n.Condition))
	p.nodes([]PlanNode{n.IfClause})
	if n.ElseClause != nil {
		p.line("} Else {")
		p.nodes([]PlanNode{n.ElseClause})
	}
	p.line("},")
}

func (p *printer) VisitDefer(n *DeferNode) {
	p.line("Defer {")
	p.depth++
	p.line("Primary {")
	if n.Primary != nil {
		p.depth++
		if n.Primary.SubSelection != "" {
			p.line(n.Primary.SubSelection + ":")
		}
		p.depth--
		p.nodes([]PlanNode{n.Primary.Node})
	}
	p.line("}, [")
	p.depth++
	for _, d := range n.Deferred {
		depends := make([]string, 0, len(d.Depends))
		for _, dep := range d.Depends {
			if dep.DeferLabel != "" {
				depends = append(depends, fmt.Sprintf("%d:%s", dep.ID, dep.DeferLabel))
			} else {
				depends = append(depends, fmt.Sprint(dep.ID))
			}
		}
		p.line(fmt.Sprintf("Deferred(depends: [%s], path: %q, label: %q) {",
			strings.Join(depends, ", "), strings.Join(d.QueryPath, "/"), d.Label))
		p.depth++
		if d.SubSelection != "" {
			p.line(d.SubSelection + ":")
		}
		p.depth--
		p.nodes([]PlanNode{d.Node})
		p.line("},")
	}
	p.depth--
	p.line("]")
	p.depth--
	p.line("},")
}

func (p *printer) VisitSubscription(n *SubscriptionNode) {
	p.line("Subscription {")
	p.depth++
	p.line("Primary: {")
	if n.Primary != nil {
		p.nodes([]PlanNode{n.Primary})
	}
	p.line("},")
	p.line("Rest: {")
	p.nodes([]PlanNode{n.Rest})
	p.line("}")
	p.depth--
	p.line("},")
}

// prettyOperation re-indents a minified subgraph operation. Entity fetches only show the
// selection under _entities.
func prettyOperation(operation string) string {
	doc, err := parser.ParseQuery(&ast.Source{Input: operation})
	if err != nil || len(doc.Operations) != 1 {
		return operation
	}
	op := doc.Operations[0]
	if len(op.SelectionSet) == 1 {
		if f, ok := op.SelectionSet[0].(*ast.Field); ok && f.Name == "_entities" {
			op = &ast.OperationDefinition{Operation: ast.Query, SelectionSet: f.SelectionSet}
			doc = &ast.QueryDocument{Operations: ast.OperationList{op}}
		}
	}

	var sb strings.Builder
	formatter.NewFormatter(&sb, formatter.WithIndent(indentUnit)).FormatQueryDocument(doc)
	out := sb.String()
	if op.Operation == ast.Query && op.Name == "" && len(op.VariableDefinitions) == 0 && len(op.Directives) == 0 {
		out = strings.TrimPrefix(out, "query ")
	}
	return out
}
