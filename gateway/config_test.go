package gateway_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-federation-planner/gateway"
	"github.com/stretchr/testify/require"
)

func TestParseOption_Defaults(t *testing.T) {
	opt, err := gateway.ParseOption([]byte(`
services:
  - name: products
    host: http://localhost:4001/query
`))
	require.NoError(t, err)

	want := gateway.GatewayOption{
		Endpoint:        "/query/plan",
		Port:            4000,
		TimeoutDuration: "5s",
		LogLevel:        "info",
		Services: []gateway.GatewayService{{
			Name:  "products",
			Host:  "http://localhost:4001/query",
			Retry: gateway.RetryOption{Attempts: 3, Timeout: "5s"},
		}},
		PlanCache: gateway.PlanCacheSetting{Enable: true, Size: 512},
	}
	if diff := cmp.Diff(want, opt); diff != "" {
		t.Errorf("option (-want +got):\n%s", diff)
	}
	if opt.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v", opt.Timeout())
	}
}

func TestParseOption_Sample(t *testing.T) {
	opt, err := gateway.ParseOption([]byte(gateway.SampleOption))
	require.NoError(t, err)

	cfg := opt.PlannerConfig(nil)
	if !cfg.IncrementalDelivery {
		t.Error("IncrementalDelivery should be enabled")
	}
	if !cfg.Debug.BypassPlannerForSingleSubgraph {
		t.Error("BypassPlannerForSingleSubgraph should be enabled")
	}
	if cfg.Debug.MaxEvaluatedPlans != 10000 {
		t.Errorf("MaxEvaluatedPlans = %d", cfg.Debug.MaxEvaluatedPlans)
	}
	if diff := cmp.Diff([]string{"./schemas/reviews.graphql"}, opt.Services[1].SchemaFiles); diff != "" {
		t.Errorf("schema files (-want +got):\n%s", diff)
	}
}

func TestParseOption_OverrideLabels(t *testing.T) {
	opt, err := gateway.ParseOption([]byte(`
services:
  - name: a
    host: http://a
planner:
  override_labels:
    percent(50): true
plan_cache:
  enable: false
`))
	require.NoError(t, err)

	if opt.PlanCache.Enable {
		t.Error("plan cache should be disabled")
	}
	cfg := opt.PlannerConfig(nil)
	if diff := cmp.Diff(map[string]bool{"percent(50)": true}, cfg.OverrideLabels); diff != "" {
		t.Errorf("override labels (-want +got):\n%s", diff)
	}

	// the planner config owns its label map
	cfg.OverrideLabels["other"] = true
	if _, ok := opt.Planner.OverrideLabels["other"]; ok {
		t.Error("PlannerConfig shares the label map with the option")
	}
}

func TestParseOption_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "no services", src: `port: 4000`},
		{name: "service without name", src: "services:\n  - host: http://a\n"},
		{name: "duplicate service", src: "services:\n  - name: a\n    host: http://a\n  - name: a\n    host: http://b\n"},
		{name: "service without source", src: "services:\n  - name: a\n"},
		{name: "bad timeout", src: "timeout_duration: soon\nservices:\n  - name: a\n    host: http://a\n"},
		{name: "bad retry timeout", src: "services:\n  - name: a\n    host: http://a\n    retry:\n      timeout: later\n"},
		{name: "reserved endpoint", src: "endpoint: /schema/registration\nservices:\n  - name: a\n    host: http://a\n"},
		{name: "negative max evaluated plans", src: "planner:\n  max_evaluated_plans: -1\nservices:\n  - name: a\n    host: http://a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gateway.ParseOption([]byte(tt.src))
			if !errors.Is(err, gateway.ErrInvalidOption) {
				t.Errorf("error = %v, want %v", err, gateway.ErrInvalidOption)
			}
		})
	}

	if _, err := gateway.ParseOption([]byte("services: [")); err == nil {
		t.Error("expected a decode error")
	}
}

func TestLoadOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gateway.SampleOption), 0o644))

	opt, err := gateway.LoadOption(path)
	require.NoError(t, err)
	if opt.ServiceName != "federation-planner" {
		t.Errorf("ServiceName = %q", opt.ServiceName)
	}

	if _, err := gateway.LoadOption(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
