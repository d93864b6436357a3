package db

import (
	"context"
	"time"

	"github.com/metalagman/phasekit/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// EventSink persists telemetry events into the events table. Failures are
// logged; telemetry never interrupts a run.
type EventSink struct {
	store   *Store
	timeout time.Duration
}

var _ telemetry.Sink = (*EventSink)(nil)

// NewEventSink returns a sink writing through store.
func NewEventSink(store *Store) *EventSink {
	return &EventSink{store: store, timeout: 5 * time.Second}
}

// Emit implements telemetry.Sink.
func (s *EventSink) Emit(ev telemetry.Event) {
	if ev.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Str("run_id", ev.RunID).Msg("persist event failed")
	}
}
