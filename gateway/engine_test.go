package gateway_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/n9te9/go-graphql-federation-planner/gateway"
)

const sdlProducts = `
extend schema @link(url: "https://specs.apollo.dev/federation/v2.3", import: ["@key", "@shareable"])

type Query {
	product(id: ID!): Product
}

type Product @key(fields: "id") {
	id: ID!
	name: String @shareable
}`

const sdlReviews = `
extend schema @link(url: "https://specs.apollo.dev/federation/v2.3", import: ["@key"])

type Query {
	reviews: [Review]
}

type Review {
	body: String
	product: Product
}

type Product @key(fields: "id") {
	id: ID!
	rating: Int
}`

func TestBuildEngine(t *testing.T) {
	engine, err := gateway.BuildEngineForTest(
		map[string]string{"reviews": sdlReviews, "products": sdlProducts},
		map[string]string{"products": "http://products.internal/query", "reviews": "http://reviews.internal/query"},
	)
	if err != nil {
		t.Fatalf("BuildEngine failed: %v", err)
	}
	// composition runs in name order regardless of map iteration
	if diff := cmp.Diff([]string{"products", "reviews"}, engine.SubGraphNamesForTest()); diff != "" {
		t.Errorf("subgraphs (-want +got):\n%s", diff)
	}
}

func TestBuildEngine_Errors(t *testing.T) {
	tests := []struct {
		name string
		sdls map[string]string
		is   error
	}{
		{name: "no subgraphs", sdls: map[string]string{}, is: graph.ErrNoSubGraphs},
		{name: "unparsable sdl", sdls: map[string]string{"broken": `type Query { a: Int`}},
		{
			name: "conflicting kinds",
			sdls: map[string]string{
				"a": "type Query { x: X }\ntype X { id: ID }",
				"b": "enum X { ONE }",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gateway.BuildEngineForTest(tt.sdls, map[string]string{})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestPlanEngine_Cache(t *testing.T) {
	engine, err := gateway.BuildEngineForTest(map[string]string{
		"products": sdlProducts,
		"reviews":  sdlReviews,
	}, map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	query := `{ reviews { body product { name } } }`
	evaluated, hit, err := engine.PlanForTest(query, "")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if hit {
		t.Error("first call should miss the cache")
	}

	again, hit, err := engine.PlanForTest(query, "")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !hit {
		t.Error("second call should hit the cache")
	}
	if again != evaluated {
		t.Errorf("cached statistics = %d, want %d", again, evaluated)
	}

	// errors are not cached
	if _, _, err := engine.PlanForTest(`{ reviews { nope } }`, ""); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
	if n := engine.CachedPlansForTest(); n != 1 {
		t.Errorf("cached plans = %d, want 1", n)
	}

	// the cache is bounded to two entries
	for _, q := range []string{`{ product(id: 1) { name } }`, `{ reviews { body } }`} {
		if _, _, err := engine.PlanForTest(q, ""); err != nil {
			t.Fatalf("plan %s failed: %v", q, err)
		}
	}
	if n := engine.CachedPlansForTest(); n != 2 {
		t.Errorf("cached plans = %d, want 2", n)
	}
}

func TestPlanCacheKey(t *testing.T) {
	if gateway.PlanCacheKeyForTest("{a}", "") == gateway.PlanCacheKeyForTest("{a}", "A") {
		t.Error("operation name must be part of the key")
	}
	if gateway.PlanCacheKeyForTest("{a}", "") != gateway.PlanCacheKeyForTest("{a}", "") {
		t.Error("keys must be stable")
	}
}

func TestCopyMap(t *testing.T) {
	sdls := map[string]string{"products": sdlProducts, "reviews": sdlReviews}
	next := gateway.CopyMapForTest(sdls)
	if diff := cmp.Diff(sdls, next); diff != "" {
		t.Fatalf("copy (-want +got):\n%s", diff)
	}

	next["reviews"] = "type Query { reviews: [String] }"
	if sdls["reviews"] != sdlReviews {
		t.Error("writing the copy changed the source map")
	}
}
