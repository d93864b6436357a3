package dag

import (
	"errors"
	"testing"

	"github.com/metalagman/phasekit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent(phase, key string, priority int, deps ...string) model.AgentMapping {
	return model.AgentMapping{Phase: phase, Key: key, Priority: priority, DependsOn: deps, Parallelizable: true}
}

func sampleMappings() []model.AgentMapping {
	return []model.AgentMapping{
		agent("understand", "task-analyzer", 1),
		agent("understand", "requirement-extractor", 2, "task-analyzer"),
		agent("understand", "scope-definer", 3, "task-analyzer"),
		agent("design", "architect", 1, "requirement-extractor", "scope-definer"),
		agent("design", "interface-designer", 2, "architect"),
		agent("implement", "coder", 1, "interface-designer"),
	}
}

func TestBuild_AcyclicOrderCoversAllAgents(t *testing.T) {
	t.Parallel()

	mappings := sampleMappings()
	d := Build(mappings)

	require.Len(t, d.TopologicalOrder, len(mappings))
	assert.True(t, d.Acyclic())
	assertTopological(t, d)
	assert.Equal(t, []string{"understand", "design", "implement"}, d.PhaseOrder)
	assert.Equal(t, []string{"task-analyzer", "requirement-extractor", "scope-definer"}, d.Phases["understand"])
}

func TestBuild_ReverseEdges(t *testing.T) {
	t.Parallel()

	d := Build(sampleMappings())
	assert.ElementsMatch(t, []string{"requirement-extractor", "scope-definer"}, d.Nodes["task-analyzer"].Dependents)
	assert.ElementsMatch(t, []string{"requirement-extractor", "scope-definer"}, d.Nodes["architect"].DependsOn)
	assert.Empty(t, d.Nodes["coder"].Dependents)
}

func TestBuild_CycleShortensOrder(t *testing.T) {
	t.Parallel()

	mappings := []model.AgentMapping{
		agent("p", "a", 1),
		agent("p", "b", 1, "a", "c"),
		agent("p", "c", 1, "b"),
	}
	d := Build(mappings)
	assert.Less(t, len(d.TopologicalOrder), len(mappings))
	assert.False(t, d.Acyclic())
	assert.Equal(t, []string{"a"}, d.TopologicalOrder)
}

func TestBuild_DuplicateDependencyCountedOnce(t *testing.T) {
	t.Parallel()

	d := Build([]model.AgentMapping{
		agent("p", "a", 1),
		agent("p", "b", 1, "a", "a"),
	})
	assert.Equal(t, []string{"a", "b"}, d.TopologicalOrder)
}

func TestValidate_ValidDefinition(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Validate(sampleMappings()))
}

func TestValidate_UnknownDependency(t *testing.T) {
	t.Parallel()

	errs := Validate([]model.AgentMapping{
		agent("p", "a", 1, "ghost"),
	})
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrUnknownDependency))

	var depErr *DependencyError
	require.True(t, errors.As(errs[0], &depErr))
	assert.Equal(t, "a", depErr.Agent)
	assert.Equal(t, "ghost", depErr.Dependency)
}

func TestValidate_Cycle(t *testing.T) {
	t.Parallel()

	errs := Validate([]model.AgentMapping{
		agent("p", "a", 1, "b"),
		agent("p", "b", 1, "a"),
		agent("p", "c", 1),
	})
	require.Len(t, errs, 1)

	var cycleErr *CycleError
	require.True(t, errors.As(errs[0], &cycleErr))
	assert.Equal(t, []string{"a", "b"}, cycleErr.Unplaced)
	assert.Equal(t, 1, cycleErr.Ordered)
	assert.Equal(t, 3, cycleErr.Total)
	assert.ErrorIs(t, errs[0], ErrCycle)
}

func TestValidate_DuplicateAndEmpty(t *testing.T) {
	t.Parallel()

	errs := Validate([]model.AgentMapping{
		agent("p", "a", 1),
		agent("p", "a", 2),
		agent("p", "", 1),
		agent("", "b", 1),
	})
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], ErrDuplicateAgent)
	assert.ErrorIs(t, errs[1], ErrEmptyKey)
	assert.ErrorIs(t, errs[2], ErrEmptyPhase)
}

func TestPhaseAgents(t *testing.T) {
	t.Parallel()

	d := Build(sampleMappings())
	agents := d.PhaseAgents("design")
	require.Len(t, agents, 2)
	assert.Equal(t, "architect", agents[0].Key)
	assert.Empty(t, d.PhaseAgents("missing"))
}

func assertTopological(t *testing.T, d *PipelineDAG) {
	t.Helper()
	pos := make(map[string]int, len(d.TopologicalOrder))
	for i, key := range d.TopologicalOrder {
		pos[key] = i
	}
	for key, node := range d.Nodes {
		for _, dep := range node.DependsOn {
			assert.Less(t, pos[dep], pos[key], "%s must come after %s", key, dep)
		}
	}
}
