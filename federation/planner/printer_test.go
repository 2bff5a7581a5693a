package planner

import (
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func TestPrintSelectionSet(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "names are separated by one space",
			query: `{ a b { c   d } }`,
			want:  "{a b{c d}}",
		},
		{
			name:  "arguments and aliases",
			query: `{ x: a(id: 1, tags: ["p", "q"], f: {k: $v}) }`,
			want:  `{x:a(id:1 tags:["p" "q"] f:{k:$v})}`,
		},
		{
			name:  "fragments and directives",
			query: `{ ... on T @include(if: $i) { a } ... @skip(if: $s) { b } }`,
			want:  "{...on T@include(if:$i){a}...@skip(if:$s){b}}",
		},
		{
			name:  "strings use GraphQL escapes",
			query: `{ a(s: "x\u0001y\u007f\"\\\n\t é") }`,
			want:  `{a(s:"x\u0001y\u007F\"\\\n\t é")}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parser.ParseQuery(&ast.Source{Input: tt.query})
			if err != nil {
				t.Fatalf("ParseQuery failed: %v", err)
			}
			if got := printSelectionSet(doc.Operations[0].SelectionSet); got != tt.want {
				t.Errorf("printSelectionSet() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName("product-service.v2"); got != "product_service_v2" {
		t.Errorf("sanitizeName() = %q", got)
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: `"plain"`},
		{in: "", want: `""`},
		{in: "a\"b\\c", want: `"a\"b\\c"`},
		{in: "\b\f\n\r\t", want: `"\b\f\n\r\t"`},
		{in: "\x00\x01\x1f\x7f", want: `"\u0000\u0001\u001F\u007F"`},
		{in: "héllo ✓", want: `"héllo ✓"`},
	}
	for _, tt := range tests {
		if got := quoteString(tt.in); got != tt.want {
			t.Errorf("quoteString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
