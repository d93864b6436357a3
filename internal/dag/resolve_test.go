package dag

import (
	"testing"

	"github.com/metalagman/phasekit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(agents []model.AgentMapping) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Key
	}
	return out
}

func TestResolveOrder_DependenciesPrecedeDependents(t *testing.T) {
	t.Parallel()

	// Priority would put "c" first, but it depends on "b" which depends on "a".
	agents := []model.AgentMapping{
		agent("p", "a", 3),
		agent("p", "b", 2, "a"),
		agent("p", "c", 1, "b"),
		agent("p", "d", 4),
	}
	order := ResolveOrder(agents)
	require.Len(t, order, 4)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys(order))
}

func TestResolveOrder_PriorityIsSeedOnly(t *testing.T) {
	t.Parallel()

	agents := []model.AgentMapping{
		agent("p", "x", 2),
		agent("p", "y", 1),
		agent("p", "z", 3, "x"),
	}
	assert.Equal(t, []string{"y", "x", "z"}, keys(ResolveOrder(agents)))

	agents[2].Priority = 0
	assert.Equal(t, []string{"x", "z", "y"}, keys(ResolveOrder(agents)))
}

func TestResolveOrder_IgnoresCrossPhaseDependencies(t *testing.T) {
	t.Parallel()

	agents := []model.AgentMapping{
		agent("design", "architect", 2, "requirement-extractor"),
		agent("design", "reviewer", 1),
	}
	assert.Equal(t, []string{"reviewer", "architect"}, keys(ResolveOrder(agents)))
}

func TestResolveOrder_EveryAgentOnce(t *testing.T) {
	t.Parallel()

	d := Build(sampleMappings())
	for _, phase := range d.PhaseOrder {
		agents := d.PhaseAgents(phase)
		order := ResolveOrder(agents)
		assert.ElementsMatch(t, keys(agents), keys(order))

		pos := make(map[string]int)
		for i, a := range order {
			pos[a.Key] = i
		}
		for _, a := range order {
			for _, dep := range a.DependsOn {
				if p, ok := pos[dep]; ok {
					assert.Less(t, p, pos[a.Key])
				}
			}
		}
	}
}

func TestResolveOrder_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ResolveOrder(nil))
}
