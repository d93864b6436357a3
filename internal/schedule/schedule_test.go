package schedule

import (
	"testing"

	"github.com/metalagman/phasekit/internal/dag"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parallel(key string, deps ...string) model.AgentMapping {
	return model.AgentMapping{Phase: "p", Key: key, DependsOn: deps, Parallelizable: true}
}

func serial(key string, deps ...string) model.AgentMapping {
	return model.AgentMapping{Phase: "p", Key: key, DependsOn: deps}
}

func TestBatch_TwoIndependentAgentsShareABatch(t *testing.T) {
	t.Parallel()

	plan := Batch([]model.AgentMapping{parallel("a"), parallel("b")}, Options{ParallelEnabled: true, MaxParallel: 2})
	assert.Equal(t, [][]string{{"a", "b"}}, plan.Keys())
	assert.Zero(t, plan.Forced)
}

func TestBatch_ParallelDisabledYieldsSingletons(t *testing.T) {
	t.Parallel()

	agents := []model.AgentMapping{parallel("a"), parallel("b"), serial("c", "a")}
	plan := Batch(agents, Options{ParallelEnabled: false, MaxParallel: 8})
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, plan.Keys())
}

func TestBatch_RespectsMaxParallel(t *testing.T) {
	t.Parallel()

	agents := []model.AgentMapping{parallel("a"), parallel("b"), parallel("c"), parallel("d"), parallel("e")}
	plan := Batch(agents, Options{ParallelEnabled: true, MaxParallel: 2})
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, plan.Keys())
}

func TestBatch_NonParallelAgentRunsAlone(t *testing.T) {
	t.Parallel()

	agents := []model.AgentMapping{serial("a"), parallel("b"), parallel("c")}
	plan := Batch(agents, Options{ParallelEnabled: true, MaxParallel: 4})
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, plan.Keys())
}

func TestBatch_NonParallelAgentWaitsForEmptyBatch(t *testing.T) {
	t.Parallel()

	agents := []model.AgentMapping{parallel("a"), serial("b"), parallel("c")}
	plan := Batch(agents, Options{ParallelEnabled: true, MaxParallel: 4})
	assert.Equal(t, [][]string{{"a", "c"}, {"b"}}, plan.Keys())
}

func TestBatch_DependenciesLandInEarlierBatches(t *testing.T) {
	t.Parallel()

	agents := dag.ResolveOrder([]model.AgentMapping{
		parallel("root"),
		parallel("left", "root"),
		parallel("right", "root"),
		serial("merge", "left", "right"),
		parallel("tail", "merge"),
		parallel("outside", "other-phase-agent"),
	})
	plan := Batch(agents, Options{ParallelEnabled: true, MaxParallel: 3})
	require.Zero(t, plan.Forced)
	assertValidPlan(t, agents, plan)
}

func TestBatch_ZeroMaxParallelTreatedAsOne(t *testing.T) {
	t.Parallel()

	plan := Batch([]model.AgentMapping{parallel("a"), parallel("b")}, Options{ParallelEnabled: true})
	assert.Equal(t, [][]string{{"a"}, {"b"}}, plan.Keys())
}

func TestBatch_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Batch(nil, Options{ParallelEnabled: true, MaxParallel: 2}).Batches)
	assert.Empty(t, Batch(nil, Options{}).Batches)
}

func TestBatch_ValidatedDefinitionsNeverForce(t *testing.T) {
	t.Parallel()

	mappings := []model.AgentMapping{
		{Phase: "one", Key: "a", Priority: 2, Parallelizable: true},
		{Phase: "one", Key: "b", Priority: 1, DependsOn: []string{"a"}, Parallelizable: true},
		{Phase: "one", Key: "c", Priority: 3, DependsOn: []string{"a"}},
		{Phase: "one", Key: "d", Priority: 0, DependsOn: []string{"b", "c"}, Parallelizable: true},
		{Phase: "two", Key: "e", Priority: 0, DependsOn: []string{"d"}, Parallelizable: true},
		{Phase: "two", Key: "f", Priority: 1, DependsOn: []string{"e"}},
	}
	require.Empty(t, dag.Validate(mappings))
	d := dag.Build(mappings)

	for _, maxParallel := range []int{1, 2, 5} {
		for _, phase := range d.PhaseOrder {
			ordered := dag.ResolveOrder(d.PhaseAgents(phase))
			plan := Batch(ordered, Options{ParallelEnabled: true, MaxParallel: maxParallel})
			assert.Zero(t, plan.Forced)
			assertValidPlan(t, ordered, plan)
		}
	}
}

func assertValidPlan(t *testing.T, input []model.AgentMapping, plan Plan) {
	t.Helper()

	batchOf := make(map[string]int)
	var flat []string
	for i, batch := range plan.Batches {
		require.NotEmpty(t, batch)
		for _, a := range batch {
			_, dup := batchOf[a.Key]
			require.False(t, dup, "agent %s scheduled twice", a.Key)
			batchOf[a.Key] = i
			flat = append(flat, a.Key)
		}
	}

	want := make([]string, len(input))
	for i, a := range input {
		want[i] = a.Key
	}
	assert.ElementsMatch(t, want, flat)

	for _, a := range input {
		for _, dep := range a.DependsOn {
			if depBatch, ok := batchOf[dep]; ok {
				assert.Less(t, depBatch, batchOf[a.Key], "%s must run after %s", a.Key, dep)
			}
		}
	}
}
