package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
)

// planEngine bundles the supergraph, its planner and the plan cache for one schema version.
// Engines are replaced as a whole, never mutated after construction except for the cache.
type planEngine struct {
	superGraph *graph.SuperGraph
	planner    *planner.Planner
	cache      *planCache
}

// schemaStore is one schema version: the SDL and host of every subgraph and the engine built
// from them. Values live in an atomic.Value and are never modified once stored.
type schemaStore struct {
	sdls   map[string]string // by subgraph name
	hosts  map[string]string // by subgraph name
	engine *planEngine
}

// buildEngine composes a new SuperGraph from sdls and wraps it with a planner and an empty
// plan cache. Subgraphs are composed in name order.
func buildEngine(sdls, hosts map[string]string, cfg planner.Config, cacheSetting PlanCacheSetting) (*planEngine, error) {
	names := make([]string, 0, len(sdls))
	for name := range sdls {
		names = append(names, name)
	}
	sort.Strings(names)

	subGraphs := make([]*graph.SubGraph, 0, len(sdls))
	for _, name := range names {
		sub, err := graph.NewSubGraph(name, []byte(sdls[name]), hosts[name])
		if err != nil {
			return nil, err
		}
		subGraphs = append(subGraphs, sub)
	}

	superGraph, err := graph.NewSuperGraph(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("compose supergraph: %w", err)
	}

	cache, err := newPlanCache(cacheSetting)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	return &planEngine{
		superGraph: superGraph,
		planner:    planner.New(superGraph, cfg),
		cache:      cache,
	}, nil
}

// plan returns the cached plan for the operation or builds and caches a new one. The bool
// reports a cache hit.
func (e *planEngine) plan(ctx context.Context, query, operationName string) (*plan.QueryPlan, int, bool, error) {
	if cached, ok := e.cache.get(query, operationName); ok {
		return cached.plan, cached.evaluated, true, nil
	}

	qp, stats, err := e.planner.PlanWithStatistics(ctx, query, operationName)
	if err != nil {
		return nil, 0, false, err
	}
	evaluated := stats.EvaluatedPlanCount
	e.cache.add(query, operationName, cachedPlan{plan: qp, evaluated: evaluated})
	return qp, evaluated, false, nil
}

func (e *planEngine) subGraphNames() []string {
	names := make([]string, 0, len(e.superGraph.SubGraphs))
	for _, sg := range e.superGraph.SubGraphs {
		names = append(names, sg.Name)
	}
	return names
}

func copyMap(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m)+1)
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
