package planner

// CostFunction scores a fetch dependency graph. Lower is better.
type CostFunction func(*FetchDependencyGraph) float64

const (
	fetchCost        = 1000
	pipeliningFactor = 0.5
)

// DefaultCost charges every group a fixed fetch cost plus one per selected field, scaled up by
// the length of the dependency chain the group waits for. Adding groups or fields never
// lowers it.
func DefaultCost(g *FetchDependencyGraph) float64 {
	depth := g.Depth()
	var total float64
	for _, group := range g.Groups() {
		cost := float64(fetchCost + group.selection.fieldCount())
		total += cost * (1 + pipeliningFactor*float64(depth[group.id]))
	}
	return total
}
