package gateway

import (
	"context"
	"net/http"

	"github.com/jensneuse/abstractlogger"
	"github.com/n9te9/go-graphql-federation-planner/federation/planner"
)

var (
	CopyMapForTest         = copyMap
	ReadSchemaFilesForTest = readSchemaFiles
	PlanCacheKeyForTest    = planCacheKey
	ErrorCodeForTest       = errorCode
)

func BuildEngineForTest(sdls, hosts map[string]string) (*planEngine, error) {
	return buildEngine(sdls, hosts, planner.Config{}, PlanCacheSetting{Enable: true, Size: 2})
}

func FetchSDLForTest(host string, httpClient *http.Client, retry RetryOption) (string, error) {
	return fetchSDL(context.Background(), host, httpClient, retry, abstractlogger.NoopLogger)
}

func (e *planEngine) PlanForTest(query, operationName string) (int, bool, error) {
	_, evaluated, hit, err := e.plan(context.Background(), query, operationName)
	return evaluated, hit, err
}

func (e *planEngine) CachedPlansForTest() int {
	return e.cache.len()
}

func (e *planEngine) SubGraphNamesForTest() []string {
	return e.subGraphNames()
}

func (g *gateway) CachedPlansForTest() int {
	return g.current().engine.cache.len()
}
