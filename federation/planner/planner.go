// Package planner compiles GraphQL operations against a federated supergraph into query plans.
package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/n9te9/go-graphql-federation-planner/federation/planner"

// PlanningStatistics describes the last planning call.
type PlanningStatistics struct {
	// EvaluatedPlanCount is the number of complete plans scored. It is 0 only when the search
	// was bypassed.
	EvaluatedPlanCount int
}

// Planner builds query plans for one supergraph. It is safe for concurrent use; every call
// plans with its own state.
type Planner struct {
	superGraph *graph.SuperGraph
	cfg        Config
	monotone   bool
	tracer     trace.Tracer

	mu    sync.Mutex
	stats PlanningStatistics
}

// New creates a Planner for superGraph.
func New(superGraph *graph.SuperGraph, cfg Config) *Planner {
	return &Planner{
		superGraph: superGraph,
		monotone:   cfg.CostFunction == nil,
		cfg:        cfg.withDefaults(),
		tracer:     otel.Tracer(tracerName),
	}
}

// LastGeneratedPlanStatistics returns the statistics of the last successful planning call.
func (p *Planner) LastGeneratedPlanStatistics() PlanningStatistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Plan parses query and plans the operation named operationName.
func (p *Planner) Plan(ctx context.Context, query, operationName string) (*plan.QueryPlan, error) {
	qp, _, err := p.PlanWithStatistics(ctx, query, operationName)
	return qp, err
}

// PlanWithStatistics is Plan returning the statistics of this call. Unlike
// LastGeneratedPlanStatistics it cannot observe a concurrent call.
func (p *Planner) PlanWithStatistics(ctx context.Context, query, operationName string) (*plan.QueryPlan, PlanningStatistics, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "operation", Input: query})
	if err != nil {
		return nil, PlanningStatistics{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return p.buildWithStatistics(ctx, doc, operationName)
}

// BuildQueryPlan plans one operation of doc. operationName may be empty when doc holds a
// single operation.
func (p *Planner) BuildQueryPlan(ctx context.Context, doc *ast.QueryDocument, operationName string) (*plan.QueryPlan, error) {
	qp, _, err := p.buildWithStatistics(ctx, doc, operationName)
	return qp, err
}

func (p *Planner) buildWithStatistics(ctx context.Context, doc *ast.QueryDocument, operationName string) (*plan.QueryPlan, PlanningStatistics, error) {
	ctx, span := p.tracer.Start(ctx, "federation.planner.build_query_plan")
	defer span.End()

	qp, evaluated, err := p.buildQueryPlan(ctx, doc, operationName, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, PlanningStatistics{}, err
	}
	span.SetAttributes(attribute.Int("federation.planner.evaluated_plans", evaluated))

	stats := PlanningStatistics{EvaluatedPlanCount: evaluated}
	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()
	return qp, stats, nil
}

func (p *Planner) buildQueryPlan(ctx context.Context, doc *ast.QueryDocument, operationName string, span trace.Span) (*plan.QueryPlan, int, error) {
	opDef, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, 0, err
	}
	span.SetAttributes(
		attribute.String("graphql.operation.type", string(opDef.Operation)),
		attribute.String("graphql.operation.name", opDef.Name),
	)

	if opDef.Operation == ast.Subscription && p.cfg.IncrementalDelivery && containsDefer(doc, opDef) {
		return nil, 0, ErrDeferInSubscription
	}

	var conditions []string
	if p.cfg.IncrementalDelivery {
		conditions = deferIfVariables(doc, opDef)
	}
	node, evaluated, err := p.buildConditional(ctx, doc, opDef, conditions, map[string]bool{})
	if err != nil {
		return nil, evaluated, err
	}
	return &plan.QueryPlan{Node: node}, evaluated, nil
}

// buildConditional plans every assignment of the @defer(if:) variables and joins the plans
// with Condition nodes.
func (p *Planner) buildConditional(ctx context.Context, doc *ast.QueryDocument, opDef *ast.OperationDefinition, variables []string, assignment map[string]bool) (plan.PlanNode, int, error) {
	if len(variables) == 0 {
		return p.buildVariant(ctx, doc, opDef, assignment)
	}
	variable := variables[0]
	branch := func(value bool) (plan.PlanNode, int, error) {
		next := make(map[string]bool, len(assignment)+1)
		for k, v := range assignment {
			next[k] = v
		}
		next[variable] = value
		return p.buildConditional(ctx, doc, opDef, variables[1:], next)
	}

	ifClause, ifCount, err := branch(true)
	if err != nil {
		return nil, ifCount, err
	}
	elseClause, elseCount, err := branch(false)
	if err != nil {
		return nil, ifCount + elseCount, err
	}
	return &plan.ConditionNode{
		Condition:  variable,
		IfClause:   ifClause,
		ElseClause: elseClause,
	}, ifCount + elseCount, nil
}

func (p *Planner) buildVariant(ctx context.Context, doc *ast.QueryDocument, opDef *ast.OperationDefinition, assignment map[string]bool) (plan.PlanNode, int, error) {
	op, err := normalizeOperation(p.superGraph, doc, opDef, p.cfg.IncrementalDelivery, assignment)
	if err != nil {
		return nil, 0, err
	}
	pc := newPlanningContext(ctx, p.superGraph, p.cfg, p.monotone, op)
	b, err := pc.plan()
	if err != nil {
		return nil, pc.evaluated, err
	}
	return newEmitter(pc, b).emit(), pc.evaluated, nil
}

func selectOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if operationName == "" {
		if len(doc.Operations) != 1 {
			return nil, fmt.Errorf("%w: the document has %d operations and no operation name was given", ErrOperationNotFound, len(doc.Operations))
		}
		return doc.Operations[0], nil
	}
	opDef := doc.Operations.ForName(operationName)
	if opDef == nil {
		return nil, fmt.Errorf("%w: %q", ErrOperationNotFound, operationName)
	}
	return opDef, nil
}

// plan searches the cheapest path set of the operation and builds its fetch groups.
func (pc *planningContext) plan() (*builder, error) {
	roots := pc.queryGraph.Roots[pc.op.kind]
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no subgraph serves %s operations", ErrUnresolvablePlan, pc.op.kind)
	}
	if pc.cfg.Debug.BypassPlannerForSingleSubgraph && len(pc.op.defers) == 0 && pc.singleSubGraph(roots) {
		return pc.bypass(roots[0])
	}

	scope := pc.scopes.create(pc.op.rootType)
	fields, err := pc.collector.collectFields(scope, pc.op.selection)
	if err != nil {
		return nil, err
	}
	var groups []FieldSet
	for _, g := range groupFields(fields) {
		if !g[0].isTypename() {
			groups = append(groups, g)
		}
	}
	options := make([]*opPath, 0, len(roots))
	for _, v := range roots {
		options = append(options, rootPath(v))
	}

	t := &traversal{
		pc:       pc,
		excluded: map[string]bool{},
		evaluate: pc.operationEvaluator(),
		main:     true,
	}
	best := t.run(&searchState{open: branchesFor(groups, options)})
	if t.err != nil {
		return nil, t.err
	}
	if best == nil {
		if f := t.unresolved; f != nil {
			return nil, fmt.Errorf("%w: no subgraph can resolve %s.%s", ErrUnresolvablePlan, f.scope.parentType.Name, f.node.Name)
		}
		return nil, ErrUnresolvablePlan
	}

	b := newBuilder(pc, pc.op.kind)
	if _, err := b.build(buildForest(best.closed)); err != nil {
		return nil, err
	}
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	pc.logger.Debug("federation planner: plan selected",
		abstractlogger.Any("cost", best.cost),
		abstractlogger.Int("evaluated", pc.evaluated),
		abstractlogger.Int("groups", len(b.graph.Groups())),
	)
	return b, nil
}

// singleSubGraph reports whether everything reachable from the roots lives in one subgraph.
func (pc *planningContext) singleSubGraph(roots []*graph.Vertex) bool {
	hops := pc.queryGraph.Hops(roots, pc.cfg.OverrideLabels)
	return len(hops.SubGraphs(pc.queryGraph)) == 1
}

// bypass fetches the whole operation from the root subgraph without searching.
func (pc *planningContext) bypass(root *graph.Vertex) (*builder, error) {
	b := newBuilder(pc, pc.op.kind)
	scope := pc.scopes.create(pc.op.rootType)
	fields, err := pc.collector.collectFields(scope, pc.op.selection)
	if err != nil {
		return nil, err
	}
	var kept FieldSet
	for _, f := range fields {
		if !f.isTypename() {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return b, nil
	}
	g := b.graph.newRootGroup(root.SubGraph.Name, root.TypeName, pc.op.kind, "")
	b.addSelections(g.selection, nil, pc.op.rootType.Name, selectionSetFromFieldSet(kept, pc.op.rootType))
	if b.err != nil {
		return nil, b.err
	}
	return b, nil
}
