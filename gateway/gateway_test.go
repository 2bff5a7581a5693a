package gateway_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
	"github.com/n9te9/go-graphql-federation-planner/gateway"
	"github.com/stretchr/testify/require"
)

const sdlA = `
type Query {
	t: T
}

type T @key(fields: "id") {
	id: ID!
	v1: Int
	secret: String @inaccessible
}`

const sdlB = `
type T @key(fields: "id") {
	id: ID!
	v2: Int
}`

func writeSchema(t *testing.T, dir, name, sdl string) string {
	t.Helper()

	path := filepath.Join(dir, name+".graphql")
	require.NoError(t, os.WriteFile(path, []byte(sdl), 0o644))
	return path
}

func newTestGateway(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()
	opt, err := gateway.ParseOption([]byte(`
endpoint: /query/plan
services:
  - name: A
    host: http://a.example.com/query
    schema_files: [` + writeSchema(t, dir, "a", sdlA) + `]
  - name: B
    host: http://b.example.com/query
    schema_files: [` + writeSchema(t, dir, "b", sdlB) + `]
`))
	require.NoError(t, err)

	gw, err := gateway.NewGateway(context.Background(), opt, nil)
	require.NoError(t, err)
	return gw
}

type planResult struct {
	QueryPlan struct {
		Kind string `json:"kind"`
		Node struct {
			Kind  string `json:"kind"`
			Nodes []struct {
				Kind        string `json:"kind"`
				ServiceName string `json:"serviceName"`
			} `json:"nodes"`
		} `json:"node"`
	} `json:"queryPlan"`
	Statistics struct {
		EvaluatedPlanCount int `json:"evaluatedPlanCount"`
	} `json:"statistics"`
}

type errorResult struct {
	Errors []struct {
		Message    string            `json:"message"`
		Extensions map[string]string `json:"extensions"`
	} `json:"errors"`
}

func post(t *testing.T, h http.Handler, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func planQuery(t *testing.T, h http.Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	return post(t, h, "/query/plan", map[string]string{"query": query}, nil)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var res errorResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Errors, 1)
	return res.Errors[0].Extensions["code"]
}

func TestGateway_Plan(t *testing.T) {
	gw := newTestGateway(t)

	rec := planQuery(t, gw, `{ t { v1 v2 } }`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res planResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	if res.QueryPlan.Kind != "QueryPlan" || res.QueryPlan.Node.Kind != "Sequence" {
		t.Fatalf("unexpected plan: %s", rec.Body.String())
	}
	var kinds []string
	for _, n := range res.QueryPlan.Node.Nodes {
		kinds = append(kinds, n.Kind+":"+n.ServiceName)
	}
	if diff := cmp.Diff([]string{"Fetch:A", "Flatten:"}, kinds); diff != "" {
		t.Errorf("sequence (-want +got):\n%s", diff)
	}
	if res.Statistics.EvaluatedPlanCount != 1 {
		t.Errorf("evaluatedPlanCount = %d, want 1", res.Statistics.EvaluatedPlanCount)
	}
}

func TestGateway_PlanText(t *testing.T) {
	gw := newTestGateway(t)

	rec := post(t, gw, "/query/plan", map[string]string{"query": `{ t { v1 v2 } }`}, map[string]string{"Accept": "text/plain"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	out := rec.Body.String()
	for _, want := range []string{"QueryPlan {", "Sequence {", `Fetch(service: "A"`, `Flatten(path: "t")`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in\n%s", want, out)
		}
	}
}

func TestGateway_PlanCache(t *testing.T) {
	gw := newTestGateway(t)

	for i := 0; i < 3; i++ {
		rec := planQuery(t, gw, `{ t { v1 v2 } }`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	cached, ok := gw.(interface{ CachedPlansForTest() int })
	require.True(t, ok)
	if n := cached.CachedPlansForTest(); n != 1 {
		t.Errorf("cached plans = %d, want 1", n)
	}
}

func TestGateway_Errors(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name          string
		query         string
		operationName string
		want          string
	}{
		{name: "syntax error", query: `{ t {`, want: gateway.CodeParseFailed},
		{name: "empty query", query: ``, want: gateway.CodeParseFailed},
		{name: "unknown operation", query: `query Q { t { v1 } }`, operationName: "Other", want: gateway.CodeOperationNotFound},
		{name: "inaccessible field", query: `{ t { secret } }`, want: gateway.CodeInaccessibleField},
		{name: "unknown field", query: `{ t { nope } }`, want: gateway.CodePlanningFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, gw, "/query/plan", map[string]string{
				"query":         tt.query,
				"operationName": tt.operationName,
			}, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := errorCode(t, rec); got != tt.want {
				t.Errorf("code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGateway_InvalidBody(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/query/plan", strings.NewReader(`{"query":`))
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
	if got := errorCode(t, rec); got != gateway.CodeParseFailed {
		t.Errorf("code = %q", got)
	}
}

func TestGateway_Routing(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/query/plan", want: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/schema/registration", want: http.StatusMethodNotAllowed},
		{method: http.MethodPost, path: "/unknown", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			gw.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGateway_RequestID(t *testing.T) {
	gw := newTestGateway(t)

	rec := post(t, gw, "/query/plan", map[string]string{"query": `{ t { v1 } }`}, map[string]string{"X-Request-Id": "req-1"})
	if got := rec.Header().Get("X-Request-Id"); got != "req-1" {
		t.Errorf("X-Request-Id = %q, want req-1", got)
	}

	rec = planQuery(t, gw, `{ t { v1 } }`)
	if got := rec.Header().Get("X-Request-Id"); got == "" {
		t.Error("expected a generated X-Request-Id")
	}
}

func TestGateway_Registration(t *testing.T) {
	gw := newTestGateway(t)

	if got := errorCode(t, planQuery(t, gw, `{ t { v3 } }`)); got != gateway.CodePlanningFailed {
		t.Fatalf("code before registration = %q", got)
	}

	rec := post(t, gw, "/schema/registration", map[string]string{
		"name": "B",
		"sdl": `
			type T @key(fields: "id") {
				id: ID!
				v2: Int
				v3: Int
			}`,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reg struct {
		Name      string   `json:"name"`
		SubGraphs []string `json:"subgraphs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	if diff := cmp.Diff([]string{"A", "B"}, reg.SubGraphs); diff != "" {
		t.Errorf("subgraphs (-want +got):\n%s", diff)
	}

	rec = planQuery(t, gw, `{ t { v3 } }`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGateway_RegistrationFailureKeepsEngine(t *testing.T) {
	gw := newTestGateway(t)

	rec := post(t, gw, "/schema/registration", map[string]string{
		"name": "B",
		"sdl":  `type T @key(fields: "id") {`,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if got := errorCode(t, rec); got != gateway.CodeInvalidSchema {
		t.Errorf("code = %q", got)
	}

	rec = planQuery(t, gw, `{ t { v1 v2 } }`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(t, gw, "/schema/registration", map[string]string{"name": "B"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing sdl: status = %d", rec.Code)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: planner.ErrInvalidOperation, want: gateway.CodeParseFailed},
		{err: planner.ErrInaccessibleField, want: gateway.CodeInaccessibleField},
		{err: planner.ErrOperationNotFound, want: gateway.CodeOperationNotFound},
		{err: planner.ErrDeferInSubscription, want: gateway.CodeDeferInSubscription},
		{err: planner.ErrUnresolvablePlan, want: gateway.CodePlanningFailed},
		{err: &planner.FieldResolutionError{TypeName: "T", FieldName: "x"}, want: gateway.CodePlanningFailed},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := gateway.ErrorCodeForTest(tt.err); got != tt.want {
				t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
