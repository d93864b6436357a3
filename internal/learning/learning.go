// Package learning forwards execution quality to an optional feedback consumer.
package learning

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Feedback consumes quality signals for a trajectory.
type Feedback interface {
	ProvideFeedback(ctx context.Context, trajectoryID string, quality float64, metadata map[string]any) error
}

// NewTrajectoryID returns a fresh trajectory identifier.
func NewTrajectoryID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// Provide sends feedback when fb is configured. Failures are logged and
// swallowed; feedback never affects pipeline outcome.
func Provide(ctx context.Context, fb Feedback, trajectoryID string, quality float64, metadata map[string]any) {
	if fb == nil {
		return
	}
	if err := fb.ProvideFeedback(ctx, trajectoryID, quality, metadata); err != nil {
		log.Warn().
			Err(err).
			Str("trajectory_id", trajectoryID).
			Float64("quality", quality).
			Msg("learning feedback failed")
	}
}

// LogFeedback records feedback in the log instead of a learning backend.
type LogFeedback struct{}

// ProvideFeedback implements Feedback.
func (LogFeedback) ProvideFeedback(_ context.Context, trajectoryID string, quality float64, metadata map[string]any) error {
	log.Debug().
		Str("trajectory_id", trajectoryID).
		Float64("quality", quality).
		Fields(metadata).
		Msg("learning feedback")
	return nil
}
