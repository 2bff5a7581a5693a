package planner

import (
	"context"
	"sort"
	"strings"

	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// planningContext holds the inputs and the caches of one planning call.
type planningContext struct {
	// ctx aborts the search once done.
	ctx        context.Context
	superGraph *graph.SuperGraph
	queryGraph *graph.QueryGraph
	cfg        Config
	// monotone allows pruning partial states with the cost of their closed paths.
	monotone bool
	logger   abstractlogger.Logger

	op        *operation
	scopes    *scopeCache
	collector *collector

	fieldSets  map[string]ast.SelectionSet
	conditions map[string]*conditionResult
	evaluated  int
}

func newPlanningContext(ctx context.Context, superGraph *graph.SuperGraph, cfg Config, monotone bool, op *operation) *planningContext {
	return &planningContext{
		ctx:        ctx,
		superGraph: superGraph,
		queryGraph: superGraph.QueryGraph,
		cfg:        cfg,
		monotone:   monotone,
		logger:     cfg.Logger,
		op:         op,
		scopes:     newScopeCache(superGraph),
		collector:  &collector{superGraph: superGraph, fragments: op.fragments},
		fieldSets:  make(map[string]ast.SelectionSet),
		conditions: make(map[string]*conditionResult),
	}
}

func (pc *planningContext) parseFieldSet(fieldSet string) (ast.SelectionSet, error) {
	if sel, ok := pc.fieldSets[fieldSet]; ok {
		return sel, nil
	}
	sel, err := graph.ParseFieldSet(fieldSet)
	if err != nil {
		return nil, err
	}
	pc.fieldSets[fieldSet] = sel
	return sel, nil
}

// conditionResult is the cheapest way to fetch a field set from a vertex.
type conditionResult struct {
	tree *pathTree
	cost float64
	ok   bool
}

// resolveConditions finds the cheapest path tree fetching fieldSet relative to v without
// jumping into an excluded subgraph. Results are memoized per vertex, field set and exclusion.
// A resolution already in progress for the same key is unsatisfiable, which breaks cycles.
func (pc *planningContext) resolveConditions(v *graph.Vertex, fieldSet string, excluded map[string]bool, depth int) *conditionResult {
	key := conditionKey(v, fieldSet, excluded)
	if res, ok := pc.conditions[key]; ok {
		return res
	}
	if depth > maxConditionDepth {
		return &conditionResult{}
	}
	pc.conditions[key] = &conditionResult{}
	res := pc.computeConditions(v, fieldSet, excluded, depth)
	pc.conditions[key] = res
	if !res.ok {
		pc.logger.Debug("federation planner: unsatisfiable conditions",
			abstractlogger.String("vertex", v.ID),
			abstractlogger.String("fields", fieldSet),
		)
	}
	return res
}

func (pc *planningContext) computeConditions(v *graph.Vertex, fieldSet string, excluded map[string]bool, depth int) *conditionResult {
	sel, err := pc.parseFieldSet(fieldSet)
	if err != nil {
		return &conditionResult{}
	}
	def, ok := pc.superGraph.Type(v.TypeName)
	if !ok {
		return &conditionResult{}
	}
	scope := pc.scopes.create(def)
	c := &collector{superGraph: pc.superGraph}
	fields, err := c.collectFields(scope, sel)
	if err != nil {
		return &conditionResult{}
	}

	t := &traversal{
		pc:       pc,
		excluded: excluded,
		depth:    depth,
		evaluate: pc.conditionEvaluator(v),
	}
	best := t.run(&searchState{open: branchesFor(groupFields(fields), []*opPath{rootPath(v)})})
	if best == nil {
		return &conditionResult{}
	}
	tree := newPathTree(v)
	for _, p := range best.closed {
		tree.add(p)
	}
	return &conditionResult{tree: tree, cost: best.cost, ok: true}
}

// conditionEvaluator scores condition paths by the groups they add below a group at v.
func (pc *planningContext) conditionEvaluator(v *graph.Vertex) evaluator {
	return func(closed []*opPath) (float64, bool) {
		tree := newPathTree(v)
		for _, p := range closed {
			tree.add(p)
		}
		b := newBuilder(pc, ast.Query)
		g := b.buildConditions(v, tree)
		if b.err != nil {
			return 0, false
		}
		return pc.cfg.CostFunction(g), true
	}
}

// operationEvaluator scores closed paths by the plan they produce.
func (pc *planningContext) operationEvaluator() evaluator {
	return func(closed []*opPath) (float64, bool) {
		b := newBuilder(pc, pc.op.kind)
		g, err := b.build(buildForest(closed))
		if err != nil {
			return 0, false
		}
		return pc.cfg.CostFunction(g), true
	}
}

func conditionKey(v *graph.Vertex, fieldSet string, excluded map[string]bool) string {
	names := make([]string, 0, len(excluded))
	for name := range excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	return v.ID + "|" + fieldSet + "|" + strings.Join(names, ",")
}
