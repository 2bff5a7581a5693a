package gateway

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
)

const (
	defaultEndpoint      = "/query/plan"
	defaultPort          = 4000
	defaultTimeout       = 5 * time.Second
	defaultPlanCacheSize = 512
	defaultRetryAttempts = 3
)

var ErrInvalidOption = errors.New("invalid gateway option")

type GatewayService struct {
	Name        string      `yaml:"name"`
	Host        string      `yaml:"host"`
	SchemaFiles []string    `yaml:"schema_files"`
	Retry       RetryOption `yaml:"retry"`
}

type GatewayOption struct {
	Endpoint        string               `yaml:"endpoint"`
	ServiceName     string               `yaml:"service_name"`
	Port            int                  `yaml:"port"`
	TimeoutDuration string               `yaml:"timeout_duration" default:"5s"`
	LogLevel        string               `yaml:"log_level" default:"info"`
	Services        []GatewayService     `yaml:"services"`
	Planner         PlannerSetting       `yaml:"planner"`
	PlanCache       PlanCacheSetting     `yaml:"plan_cache"`
	Opentelemetry   OpentelemetrySetting `yaml:"opentelemetry"`
}

// PlannerSetting mirrors planner.Config in the configuration file.
type PlannerSetting struct {
	IncrementalDelivery            bool            `yaml:"incremental_delivery"`
	TypeConditionedFetching        bool            `yaml:"type_conditioned_fetching"`
	ReuseQueryFragments            bool            `yaml:"reuse_query_fragments"`
	BypassPlannerForSingleSubgraph bool            `yaml:"bypass_planner_for_single_subgraph"`
	MaxEvaluatedPlans              int             `yaml:"max_evaluated_plans" default:"10000"`
	OverrideLabels                 map[string]bool `yaml:"override_labels"`
}

type PlanCacheSetting struct {
	Enable bool `yaml:"enable" default:"true"`
	Size   int  `yaml:"size" default:"512"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

// LoadOption reads a YAML gateway option file, fills defaults and validates it.
func LoadOption(path string) (GatewayOption, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return GatewayOption{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseOption(src)
}

// ParseOption decodes a YAML gateway option.
func ParseOption(src []byte) (GatewayOption, error) {
	opt := GatewayOption{
		PlanCache: PlanCacheSetting{Enable: true},
	}
	if err := yaml.Unmarshal(src, &opt); err != nil {
		return GatewayOption{}, fmt.Errorf("failed to decode gateway option: %w", err)
	}
	opt.setDefaults()
	if err := opt.Validate(); err != nil {
		return GatewayOption{}, err
	}
	return opt, nil
}

func (o *GatewayOption) setDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = defaultEndpoint
	}
	if o.Port == 0 {
		o.Port = defaultPort
	}
	if o.TimeoutDuration == "" {
		o.TimeoutDuration = defaultTimeout.String()
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.PlanCache.Size <= 0 {
		o.PlanCache.Size = defaultPlanCacheSize
	}
	for i := range o.Services {
		if o.Services[i].Retry.Attempts <= 0 {
			o.Services[i].Retry.Attempts = defaultRetryAttempts
		}
		if o.Services[i].Retry.Timeout == "" {
			o.Services[i].Retry.Timeout = defaultTimeout.String()
		}
	}
}

// Validate reports the first inconsistency of the option.
func (o GatewayOption) Validate() error {
	if len(o.Services) == 0 {
		return fmt.Errorf("%w: no services configured", ErrInvalidOption)
	}
	if o.Endpoint == "/schema/registration" {
		return fmt.Errorf("%w: endpoint %s is reserved", ErrInvalidOption, o.Endpoint)
	}
	if _, err := time.ParseDuration(o.TimeoutDuration); err != nil {
		return fmt.Errorf("%w: timeout_duration: %v", ErrInvalidOption, err)
	}
	if o.Planner.MaxEvaluatedPlans < 0 {
		return fmt.Errorf("%w: max_evaluated_plans must not be negative", ErrInvalidOption)
	}

	seen := make(map[string]bool, len(o.Services))
	for _, s := range o.Services {
		if s.Name == "" {
			return fmt.Errorf("%w: service without name", ErrInvalidOption)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate service %q", ErrInvalidOption, s.Name)
		}
		seen[s.Name] = true
		if s.Host == "" && len(s.SchemaFiles) == 0 {
			return fmt.Errorf("%w: service %q needs a host or schema_files", ErrInvalidOption, s.Name)
		}
		if _, err := time.ParseDuration(s.Retry.Timeout); s.Retry.Timeout != "" && err != nil {
			return fmt.Errorf("%w: service %q retry timeout: %v", ErrInvalidOption, s.Name, err)
		}
	}
	return nil
}

// Timeout returns the parsed timeout_duration, falling back to 5s.
func (o GatewayOption) Timeout() time.Duration {
	d, err := time.ParseDuration(o.TimeoutDuration)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

// PlannerConfig converts the planner section into a planner.Config.
func (o GatewayOption) PlannerConfig(logger abstractlogger.Logger) planner.Config {
	labels := make(map[string]bool, len(o.Planner.OverrideLabels))
	for k, v := range o.Planner.OverrideLabels {
		labels[k] = v
	}
	return planner.Config{
		IncrementalDelivery:     o.Planner.IncrementalDelivery,
		OverrideLabels:          labels,
		TypeConditionedFetching: o.Planner.TypeConditionedFetching,
		ReuseQueryFragments:     o.Planner.ReuseQueryFragments,
		Debug: planner.DebugConfig{
			BypassPlannerForSingleSubgraph: o.Planner.BypassPlannerForSingleSubgraph,
			MaxEvaluatedPlans:              o.Planner.MaxEvaluatedPlans,
		},
		Logger: logger,
	}
}

// SampleOption is written by the init command.
const SampleOption = `endpoint: /query/plan
service_name: federation-planner
port: 4000
timeout_duration: 5s
log_level: info
services:
  - name: products
    host: http://localhost:4001/query
    retry:
      attempts: 3
      timeout: 5s
  - name: reviews
    host: http://localhost:4002/query
    schema_files:
      - ./schemas/reviews.graphql
planner:
  incremental_delivery: true
  type_conditioned_fetching: false
  reuse_query_fragments: false
  bypass_planner_for_single_subgraph: true
  max_evaluated_plans: 10000
  override_labels: {}
plan_cache:
  enable: true
  size: 512
opentelemetry:
  tracing:
    enable: false
`
