package report

import (
	"testing"
	"time"

	"github.com/metalagman/phasekit/internal/db"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() model.RunResult {
	return model.RunResult{
		RunID:           "20260101-120000-abc123",
		Pipeline:        "sdlc",
		Status:          model.RunStatusFailed,
		TotalReward:     10,
		RollbackApplied: true,
		Duration:        2 * time.Second,
		Phases: []model.PhaseResult{
			{
				Phase:    "understand",
				Success:  true,
				Reward:   10,
				Batches:  1,
				Attempts: 1,
				Results:  []model.AgentResult{{AgentKey: "analyst", Success: true, Quality: 0.9, RewardEarned: 10, ExecutionTimeMs: 12}},
			},
			{
				Phase:       "build",
				Success:     false,
				Batches:     1,
				Attempts:    2,
				GateOutcome: "HARD_REJECT",
				Error:       "quality gate build rejected phase",
				Results:     []model.AgentResult{{AgentKey: "builder", Error: "crashed"}},
			},
		},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleRun())

	assert.Contains(t, md, "# Run 20260101-120000-abc123")
	assert.Contains(t, md, "- **Status:** failed")
	assert.Contains(t, md, "## build (failed)")
	assert.Contains(t, md, "Gate outcome `HARD_REJECT` after 2 attempt(s).")
	assert.Contains(t, md, "| analyst | ok | 0.90 | 10 | 12ms |")
	assert.Contains(t, md, "| builder | failed | 0.00 | 0 | 0ms |")
}

func TestRender(t *testing.T) {
	out, err := Render(Markdown(sampleRun()), 80)
	require.NoError(t, err)
	assert.Contains(t, out, "Run 20260101-120000-abc123")
	assert.Contains(t, out, "analyst")
}

func TestSummary(t *testing.T) {
	out := Summary(sampleRun())
	assert.Contains(t, out, "run 20260101-120000-abc123")
	assert.Contains(t, out, "understand")
	assert.Contains(t, out, "gate HARD_REJECT")
	assert.Contains(t, out, "rolled back")
}

func TestFromRecord(t *testing.T) {
	run := sampleRun()
	rec := db.RunRecord{RunID: run.RunID, Pipeline: "sdlc", Status: run.Status, TotalReward: 10, RollbackApplied: true}
	phases := []db.PhaseRecord{{Index: 0, Result: run.Phases[0]}, {Index: 1, Result: run.Phases[1]}}

	got := FromRecord(rec, phases)
	assert.Equal(t, []string{"understand"}, got.CompletedPhases)
	assert.Equal(t, []string{"build"}, got.FailedPhases)
	assert.Len(t, got.Phases, 2)
}

func TestRunsTable(t *testing.T) {
	assert.Contains(t, RunsTable(nil), "no runs recorded")

	out := RunsTable([]db.RunRecord{{RunID: "r1", Status: model.RunStatusPassed, Pipeline: "sdlc", TotalReward: 5, CreatedAt: time.Now()}})
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "sdlc")
}
