package dag

import (
	"sort"

	"github.com/metalagman/phasekit/internal/model"
)

// ResolveOrder returns a phase-local execution order. Agents are visited in
// ascending priority and each visit first recurses into same-phase
// dependencies, so every dependency precedes its dependent. Priority only seeds
// the traversal: it breaks ties but never overrides dependency order.
func ResolveOrder(agents []model.AgentMapping) []model.AgentMapping {
	byKey := make(map[string]model.AgentMapping, len(agents))
	for _, a := range agents {
		if _, ok := byKey[a.Key]; !ok {
			byKey[a.Key] = a
		}
	}

	seeds := make([]model.AgentMapping, len(agents))
	copy(seeds, agents)
	sort.SliceStable(seeds, func(i, j int) bool {
		return seeds[i].Priority < seeds[j].Priority
	})

	visited := make(map[string]bool, len(agents))
	order := make([]model.AgentMapping, 0, len(agents))

	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		agent := byKey[key]
		for _, dep := range agent.DependsOn {
			if _, samePhase := byKey[dep]; samePhase {
				visit(dep)
			}
		}
		order = append(order, agent)
	}

	for _, seed := range seeds {
		visit(seed.Key)
	}
	return order
}
