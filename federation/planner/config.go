package planner

import (
	"github.com/jensneuse/abstractlogger"
)

const (
	defaultMaxEvaluatedPlans = 10000
	defaultCandidateWindow   = 1
	maxConditionDepth        = 8
)

// Config holds the planning options.
type Config struct {
	// IncrementalDelivery enables @defer. When disabled @defer is ignored.
	IncrementalDelivery bool
	// OverrideLabels resolves progressive @override(label:) at plan time.
	OverrideLabels map[string]bool
	// TypeConditionedFetching keeps entity fetches of different runtime types apart.
	TypeConditionedFetching bool
	// ReuseQueryFragments re-emits named fragments used more than once in a sub-operation.
	ReuseQueryFragments bool

	Debug DebugConfig

	// CostFunction scores a fetch dependency graph. nil selects DefaultCost.
	CostFunction CostFunction
	// Logger receives debug output of the search. nil disables logging.
	Logger abstractlogger.Logger
}

// DebugConfig holds options bounding or short-cutting the search.
type DebugConfig struct {
	// BypassPlannerForSingleSubgraph skips the search when one subgraph serves the whole operation.
	BypassPlannerForSingleSubgraph bool
	// MaxEvaluatedPlans is the number of complete plans evaluated before the search narrows
	// to CandidateWindow candidates per choice. 0 selects 10000.
	MaxEvaluatedPlans int
	// CandidateWindow is the number of candidates kept per choice once MaxEvaluatedPlans is hit.
	// 0 selects 1.
	CandidateWindow int
}

func (c Config) withDefaults() Config {
	if c.Debug.MaxEvaluatedPlans <= 0 {
		c.Debug.MaxEvaluatedPlans = defaultMaxEvaluatedPlans
	}
	if c.Debug.CandidateWindow <= 0 {
		c.Debug.CandidateWindow = defaultCandidateWindow
	}
	if c.CostFunction == nil {
		c.CostFunction = DefaultCost
	}
	if c.Logger == nil {
		c.Logger = abstractlogger.NoopLogger
	}
	if c.OverrideLabels == nil {
		c.OverrideLabels = map[string]bool{}
	}
	return c
}
