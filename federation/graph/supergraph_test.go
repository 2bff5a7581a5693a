package graph_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

const (
	productSchema = `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Float!
		}

		type Query {
			product(id: ID!): Product
		}
	`

	reviewSchema = `
		extend type Product @key(fields: "id") {
			id: ID! @external
			reviews: [Review!]!
		}

		type Review {
			id: ID!
			rating: Int!
		}

		extend type Query {
			review(id: ID!): Review
		}
	`
)

func newTestSuperGraph(t *testing.T, subGraphs ...*graph.SubGraph) *graph.SuperGraph {
	t.Helper()
	sg, err := graph.NewSuperGraph(subGraphs)
	if err != nil {
		t.Fatalf("NewSuperGraph failed: %v", err)
	}
	return sg
}

func subGraphNames(subs []*graph.SubGraph) []string {
	names := make([]string, 0, len(subs))
	for _, s := range subs {
		names = append(names, s.Name)
	}
	return names
}

func TestNewSuperGraph(t *testing.T) {
	superGraph := newTestSuperGraph(t,
		newTestSubGraph(t, "review", reviewSchema, "http://review.example.com"),
		newTestSubGraph(t, "product", productSchema, "http://product.example.com"),
	)

	if diff := cmp.Diff([]string{"product", "review"}, subGraphNames(superGraph.SubGraphs)); diff != "" {
		t.Errorf("subgraphs must be sorted by name (-want +got):\n%s", diff)
	}

	tests := []struct {
		typeName, fieldName string
		want                []string
	}{
		{"Product", "id", []string{"product", "review"}},
		{"Product", "name", []string{"product"}},
		{"Product", "reviews", []string{"review"}},
		{"Query", "product", []string{"product"}},
		{"Query", "review", []string{"review"}},
	}
	for _, tt := range tests {
		got := subGraphNames(superGraph.GetSubGraphsForField(tt.typeName, tt.fieldName))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("owners of %s.%s (-want +got):\n%s", tt.typeName, tt.fieldName, diff)
		}
	}

	owner := superGraph.GetEntityOwnerSubGraph("Product")
	if owner == nil || owner.Name != "product" {
		t.Errorf("expected product to own Product, got %v", owner)
	}
}

func TestNewSuperGraph_SchemaComposition(t *testing.T) {
	superGraph := newTestSuperGraph(t,
		newTestSubGraph(t, "product", productSchema, ""),
		newTestSubGraph(t, "review", reviewSchema, ""),
	)

	if superGraph.Schema.Query == nil || superGraph.Schema.Query.Name != "Query" {
		t.Fatal("expected Query root type")
	}
	if superGraph.RootType(ast.Mutation) != nil {
		t.Error("expected no mutation root type")
	}

	product, ok := superGraph.Type("Product")
	if !ok {
		t.Fatal("Product not composed")
	}
	var fields []string
	for _, f := range product.Fields {
		fields = append(fields, f.Name)
	}
	if diff := cmp.Diff([]string{"id", "name", "price", "reviews"}, fields); diff != "" {
		t.Errorf("Product fields (-want +got):\n%s", diff)
	}

	fd, ok := superGraph.FieldDefinition("Product", "reviews")
	if !ok || fd.Type.String() != "[Review!]!" {
		t.Errorf("unexpected Product.reviews definition: %v", fd)
	}
	if fd, ok := superGraph.FieldDefinition("Product", "__typename"); !ok || fd.Type.Name() != "String" {
		t.Error("expected __typename on composite types")
	}
	if _, ok := superGraph.FieldDefinition("Product", "missing"); ok {
		t.Error("expected missing field lookup to fail")
	}
}

func TestNewSuperGraph_EmptySubGraphs(t *testing.T) {
	_, err := graph.NewSuperGraph(nil)
	if !errors.Is(err, graph.ErrNoSubGraphs) {
		t.Fatalf("expected ErrNoSubGraphs, got %v", err)
	}
}

func TestNewSuperGraph_KindConflict(t *testing.T) {
	a := newTestSubGraph(t, "a", `type Thing { id: ID } type Query { thing: Thing }`, "")
	b := newTestSubGraph(t, "b", `enum Thing { ONE }`, "")
	if _, err := graph.NewSuperGraph([]*graph.SubGraph{a, b}); err == nil {
		t.Fatal("expected a composition error")
	}
}

func TestNewSuperGraph_DuplicateName(t *testing.T) {
	a := newTestSubGraph(t, "a", `type Query { a: Int }`, "")
	b := newTestSubGraph(t, "a", `type Query { b: Int }`, "")
	if _, err := graph.NewSuperGraph([]*graph.SubGraph{a, b}); err == nil {
		t.Fatal("expected a duplicate name error")
	}
}

func TestSuperGraph_PossibleRuntimeTypes(t *testing.T) {
	superGraph := newTestSuperGraph(t, newTestSubGraph(t, "a", `
		interface Node { id: ID! }
		type User implements Node { id: ID! }
		type Post implements Node { id: ID! }
		type Comment { id: ID! }
		union Content = Post | Comment
		type Query { node: Node content: [Content] }
	`, ""))

	names := func(defs []*ast.Definition) []string {
		var out []string
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}

	if diff := cmp.Diff([]string{"Post", "User"}, names(superGraph.PossibleRuntimeTypes("Node"))); diff != "" {
		t.Errorf("Node runtime types (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Comment", "Post"}, names(superGraph.PossibleRuntimeTypes("Content"))); diff != "" {
		t.Errorf("Content runtime types (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"User"}, names(superGraph.PossibleRuntimeTypes("User"))); diff != "" {
		t.Errorf("User runtime types (-want +got):\n%s", diff)
	}

	if !superGraph.IsAbstract("Node") || superGraph.IsAbstract("User") {
		t.Error("IsAbstract mismatch")
	}
	if !superGraph.IsSubType("Node", "User") {
		t.Error("expected User to be a subtype of Node")
	}
	if superGraph.IsSubType("Node", "Content") {
		t.Error("Content is not a subtype of Node")
	}
	if !superGraph.IsSubType("Node", "Node") {
		t.Error("a type is a subtype of itself")
	}
}

func TestSuperGraph_InterfaceObjectFields(t *testing.T) {
	superGraph := newTestSuperGraph(t,
		newTestSubGraph(t, "a", `
			interface Media @key(fields: "id") { id: ID! title: String! }
			type Book implements Media @key(fields: "id") { id: ID! title: String! }
			type Query { media: [Media] }
		`, ""),
		newTestSubGraph(t, "b", `
			type Media @key(fields: "id") @interfaceObject { id: ID! reviews: [String!]! }
		`, ""),
	)

	media, _ := superGraph.Type("Media")
	if media.Kind != ast.Interface {
		t.Fatalf("expected Media to stay an interface, got %s", media.Kind)
	}
	if media.Fields.ForName("reviews") == nil {
		t.Error("expected interface to receive @interfaceObject fields")
	}
	book, _ := superGraph.Type("Book")
	if book.Fields.ForName("reviews") == nil {
		t.Error("expected implementations to receive @interfaceObject fields")
	}
}

func TestSuperGraph_OverrideOwnership(t *testing.T) {
	superGraph := newTestSuperGraph(t,
		newTestSubGraph(t, "a", `
			type T @key(fields: "id") { id: ID! x: Int y: Int }
			type Query { t: T }
		`, ""),
		newTestSubGraph(t, "b", `
			type T @key(fields: "id") {
				id: ID!
				x: Int @override(from: "a")
				y: Int @override(from: "a", label: "percent(10)")
			}
		`, ""),
	)

	if diff := cmp.Diff([]string{"b"}, subGraphNames(superGraph.GetSubGraphsForField("T", "x"))); diff != "" {
		t.Errorf("unlabelled override must move ownership (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, subGraphNames(superGraph.GetSubGraphsForField("T", "y"))); diff != "" {
		t.Errorf("labelled override keeps both owners (-want +got):\n%s", diff)
	}
}

func TestSuperGraph_IsInaccessible(t *testing.T) {
	superGraph := newTestSuperGraph(t, newTestSubGraph(t, "a", `
		type User { id: ID! password: String @inaccessible }
		type Query { me: User }
	`, ""))

	if !superGraph.IsInaccessible("User", "password") {
		t.Error("expected User.password to be inaccessible")
	}
	if superGraph.IsInaccessible("User", "id") {
		t.Error("expected User.id to be accessible")
	}
}

func TestSuperGraph_IsSubType(t *testing.T) {
	superGraph := newTestSuperGraph(t, newTestSubGraph(t, "a", `
		interface Entity { id: ID! }
		interface Item implements Entity { id: ID! }
		type Book implements Item & Entity { id: ID! title: String }
		type Author { id: ID! }
		union Shelf = Book
		type Query { items: [Item] shelf: [Shelf] author: Author }
	`, ""))

	tests := []struct {
		name     string
		typeName string
		maybeSub string
		want     bool
	}{
		{name: "object implementing the interface", typeName: "Item", maybeSub: "Book", want: true},
		{name: "only implementation is not a supertype", typeName: "Book", maybeSub: "Item", want: false},
		{name: "interface implementing an interface", typeName: "Entity", maybeSub: "Item", want: true},
		{name: "union member", typeName: "Shelf", maybeSub: "Book", want: true},
		{name: "union with the same runtime types", typeName: "Item", maybeSub: "Shelf", want: false},
		{name: "interface with the same runtime types as a union", typeName: "Shelf", maybeSub: "Item", want: false},
		{name: "unrelated object", typeName: "Item", maybeSub: "Author", want: false},
		{name: "unknown type", typeName: "Item", maybeSub: "Missing", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := superGraph.IsSubType(tt.typeName, tt.maybeSub); got != tt.want {
				t.Errorf("IsSubType(%q, %q) = %v, want %v", tt.typeName, tt.maybeSub, got, tt.want)
			}
		})
	}
}
