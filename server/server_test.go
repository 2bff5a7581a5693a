package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/n9te9/go-graphql-federation-planner/gateway"
	"github.com/n9te9/go-graphql-federation-planner/server"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, sync, err := server.NewLogger(level)
			require.NoError(t, err)
			require.NotNil(t, logger)
			require.NotNil(t, sync)
		})
	}

	if _, _, err := server.NewLogger("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner.yaml")

	require.NoError(t, server.Init(path))
	src, err := os.ReadFile(path)
	require.NoError(t, err)
	if string(src) != gateway.SampleOption {
		t.Errorf("unexpected content:\n%s", src)
	}

	if err := server.Init(path); !errors.Is(err, server.ErrConfigExists) {
		t.Errorf("second Init = %v, want %v", err, server.ErrConfigExists)
	}
}

func TestNewHandler(t *testing.T) {
	subgraph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { hello: String }"}}}`)) //nolint:errcheck
	}))
	defer subgraph.Close()

	for _, tracing := range []bool{false, true} {
		opt, err := gateway.ParseOption([]byte("services:\n  - name: hello\n    host: " + subgraph.URL + "\n"))
		require.NoError(t, err)
		opt.Opentelemetry.TracingSetting.Enable = tracing

		h, err := server.NewHandler(context.Background(), opt, nil)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/plan", strings.NewReader(`{"query":"{ hello }"}`)))
		if rec.Code != http.StatusOK {
			t.Errorf("tracing=%v: status = %d, body = %s", tracing, rec.Code, rec.Body.String())
		}
	}
}

func TestNewHandler_UnreachableSubgraph(t *testing.T) {
	subgraph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer subgraph.Close()

	opt, err := gateway.ParseOption([]byte("services:\n  - name: hello\n    host: " + subgraph.URL + "\n    retry:\n      attempts: 2\n"))
	require.NoError(t, err)

	if _, err := server.NewHandler(context.Background(), opt, nil); err == nil {
		t.Fatal("expected an error")
	}
}
