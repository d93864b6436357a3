package pipeline

import (
	"context"

	"github.com/metalagman/phasekit/internal/gate"
	"github.com/metalagman/phasekit/internal/model"
)

// Verdict is an external validator's judgement of a phase.
type Verdict struct {
	Approved bool           `json:"approved"`
	Reason   string         `json:"reason,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// PhaseValidator is an optional external reviewer consulted after a phase
// passes its quality gate.
type PhaseValidator interface {
	ValidatePhase(ctx context.Context, phase string, result model.PhaseResult, retryCount int) (Verdict, error)
	HandleGuiltyVerdict(ctx context.Context, phase string, verdict Verdict) error
}

// Scorer turns a phase result into a quality score breakdown for the gate.
type Scorer interface {
	Score(ctx context.Context, phase string, result model.PhaseResult) (gate.ScoreBreakdown, error)
}

// MeanQualityScorer scores every component with the mean quality of the
// phase's successful agents.
type MeanQualityScorer struct{}

// Score implements Scorer.
func (MeanQualityScorer) Score(_ context.Context, _ string, result model.PhaseResult) (gate.ScoreBreakdown, error) {
	q := result.MeanQuality()
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	return gate.Uniform(q), nil
}

// RunRecorder persists run progress.
type RunRecorder interface {
	CreateRun(ctx context.Context, runID, pipeline, runDir string) error
	RecordPhase(ctx context.Context, runID string, index int, result model.PhaseResult) error
	FinishRun(ctx context.Context, result model.RunResult) error
}
