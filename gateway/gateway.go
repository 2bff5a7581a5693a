package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	registrationPath = "/schema/registration"
	requestIDHeader  = "X-Request-Id"
)

// Error codes reported in extensions.code.
const (
	CodeParseFailed         = "GRAPHQL_PARSE_FAILED"
	CodeInaccessibleField   = "INACCESSIBLE_FIELD"
	CodeOperationNotFound   = "OPERATION_NOT_FOUND"
	CodeDeferInSubscription = "DEFER_IN_SUBSCRIPTION"
	CodePlanningFailed      = "PLANNING_FAILED"
	CodeInvalidSchema       = "INVALID_SCHEMA"
)

type gateway struct {
	planEndpoint string
	serviceName  string
	logger       abstractlogger.Logger
	plannerCfg   planner.Config
	cacheSetting PlanCacheSetting
	// planTimeout bounds one planning call.
	planTimeout time.Duration

	store    atomic.Value // *schemaStore
	registry *registry
}

var _ http.Handler = (*gateway)(nil)

// NewGateway loads every configured subgraph SDL and builds the first plan engine.
func NewGateway(ctx context.Context, settings GatewayOption, logger abstractlogger.Logger) (*gateway, error) {
	if logger == nil {
		logger = abstractlogger.NoopLogger
	}

	store, err := loadSchemaStore(ctx, settings, logger)
	if err != nil {
		return nil, err
	}

	g := &gateway{
		planEndpoint: settings.Endpoint,
		serviceName:  settings.ServiceName,
		logger:       logger,
		plannerCfg:   settings.PlannerConfig(logger),
		cacheSetting: settings.PlanCache,
		planTimeout:  settings.Timeout(),
	}
	store.engine, err = buildEngine(store.sdls, store.hosts, g.plannerCfg, g.cacheSetting)
	if err != nil {
		return nil, err
	}
	g.store.Store(store)
	g.registry = newRegistry(g)

	logger.Info("plan engine ready",
		abstractlogger.String("service", settings.ServiceName),
		abstractlogger.Int("subgraphs", len(store.sdls)),
	)
	return g, nil
}

// NewPlanner loads every configured subgraph SDL and returns a planner for the composed
// supergraph.
func NewPlanner(ctx context.Context, settings GatewayOption, logger abstractlogger.Logger) (*planner.Planner, error) {
	if logger == nil {
		logger = abstractlogger.NoopLogger
	}
	store, err := loadSchemaStore(ctx, settings, logger)
	if err != nil {
		return nil, err
	}
	engine, err := buildEngine(store.sdls, store.hosts, settings.PlannerConfig(logger), PlanCacheSetting{})
	if err != nil {
		return nil, err
	}
	return engine.planner, nil
}

func loadSchemaStore(ctx context.Context, settings GatewayOption, logger abstractlogger.Logger) (*schemaStore, error) {
	httpClient := &http.Client{Timeout: settings.Timeout()}
	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	store := &schemaStore{
		sdls:  make(map[string]string, len(settings.Services)),
		hosts: make(map[string]string, len(settings.Services)),
	}
	for _, s := range settings.Services {
		sdl, err := loadSDL(ctx, s, httpClient, logger)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", s.Name, err)
		}
		store.sdls[s.Name] = sdl
		store.hosts[s.Name] = s.Host
	}
	return store, nil
}

func (g *gateway) current() *schemaStore {
	return g.store.Load().(*schemaStore)
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)

	switch r.URL.Path {
	case registrationPath:
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		g.registry.RegisterSubGraph(w, r, requestID)
	case g.planEndpoint:
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		g.servePlan(w, r, requestID)
	default:
		http.NotFound(w, r)
	}
}

type planRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

type planStatistics struct {
	EvaluatedPlanCount int `json:"evaluatedPlanCount"`
}

type planResponse struct {
	QueryPlan  *plan.QueryPlan `json:"queryPlan"`
	Statistics planStatistics  `json:"statistics"`
}

type graphQLError struct {
	Message    string            `json:"message"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

type errorResponse struct {
	Errors []graphQLError `json:"errors"`
}

func (g *gateway) servePlan(w http.ResponseWriter, r *http.Request, requestID string) {
	start := time.Now()

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeParseFailed, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, CodeParseFailed, "query is required")
		return
	}

	ctx := r.Context()
	if g.planTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.planTimeout)
		defer cancel()
	}
	engine := g.current().engine
	qp, evaluated, hit, err := engine.plan(ctx, req.Query, req.OperationName)
	if err != nil {
		code := errorCode(err)
		g.logger.Error("planning failed",
			abstractlogger.String("request_id", requestID),
			abstractlogger.String("operation_name", req.OperationName),
			abstractlogger.String("code", code),
			abstractlogger.Error(err),
		)
		writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}

	g.logger.Info("plan served",
		abstractlogger.String("request_id", requestID),
		abstractlogger.String("operation_name", req.OperationName),
		abstractlogger.Int("evaluated_plans", evaluated),
		abstractlogger.Any("cache_hit", hit),
		abstractlogger.String("elapsed", time.Since(start).String()),
	)

	if acceptsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, qp.String())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(planResponse{
		QueryPlan:  qp,
		Statistics: planStatistics{EvaluatedPlanCount: evaluated},
	}); err != nil {
		g.logger.Error("failed to write plan",
			abstractlogger.String("request_id", requestID),
			abstractlogger.Error(err),
		)
	}
}

func acceptsText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

// errorCode maps planner errors to extensions.code values.
func errorCode(err error) string {
	switch {
	case errors.Is(err, planner.ErrInvalidOperation):
		return CodeParseFailed
	case errors.Is(err, planner.ErrInaccessibleField):
		return CodeInaccessibleField
	case errors.Is(err, planner.ErrOperationNotFound):
		return CodeOperationNotFound
	case errors.Is(err, planner.ErrDeferInSubscription):
		return CodeDeferInSubscription
	default:
		return CodePlanningFailed
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{ //nolint:errcheck
		Errors: []graphQLError{{
			Message:    message,
			Extensions: map[string]string{"code": code},
		}},
	})
}
