package gateway

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/n9te9/go-graphql-federation-planner/federation/plan"
)

// cachedPlan is a plan together with the statistics of the call that produced it.
type cachedPlan struct {
	plan      *plan.QueryPlan
	evaluated int
}

// planCache is a bounded LRU of plans keyed by operation text and name. A nil planCache
// caches nothing.
type planCache struct {
	entries *lru.Cache
}

func newPlanCache(setting PlanCacheSetting) (*planCache, error) {
	if !setting.Enable {
		return nil, nil
	}
	size := setting.Size
	if size <= 0 {
		size = defaultPlanCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &planCache{entries: entries}, nil
}

func planCacheKey(query, operationName string) uint64 {
	return xxhash.Sum64String(operationName + "\x00" + query)
}

func (c *planCache) get(query, operationName string) (cachedPlan, bool) {
	if c == nil {
		return cachedPlan{}, false
	}
	v, ok := c.entries.Get(planCacheKey(query, operationName))
	if !ok {
		return cachedPlan{}, false
	}
	p, ok := v.(cachedPlan)
	return p, ok
}

func (c *planCache) add(query, operationName string, p cachedPlan) {
	if c == nil {
		return
	}
	c.entries.Add(planCacheKey(query, operationName), p)
}

func (c *planCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
