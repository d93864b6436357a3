// Package telemetry emits fire-and-forget pipeline lifecycle events.
package telemetry

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event types emitted by the pipeline.
const (
	PipelineStarted   = "pipeline_started"
	PipelineCompleted = "pipeline_completed"
	PhaseStarted      = "phase_started"
	PhaseCompleted    = "phase_completed"
	AgentStarted      = "agent_started"
	AgentCompleted    = "agent_completed"
	CheckpointCreated = "checkpoint_created"
	RollbackApplied   = "rollback_applied"
	GateValidated     = "gate_validated"
)

// Event is a single lifecycle event.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	AgentKey  string         `json:"agent_key,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives events. Emit must not block the caller for long and never
// reports failure; the core never reads events back.
type Sink interface {
	Emit(ev Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}

// LogSink writes events to the global zerolog logger at debug level.
type LogSink struct {
	Level zerolog.Level
}

// Emit implements Sink.
func (s LogSink) Emit(ev Event) {
	entry := log.WithLevel(s.Level).
		Str("event", ev.Type).
		Time("at", ev.Timestamp)
	if ev.RunID != "" {
		entry = entry.Str("run_id", ev.RunID)
	}
	if ev.Phase != "" {
		entry = entry.Str("phase", ev.Phase)
	}
	if ev.AgentKey != "" {
		entry = entry.Str("agent", ev.AgentKey)
	}
	if len(ev.Data) > 0 {
		entry = entry.Fields(ev.Data)
	}
	entry.Msg(ev.Message)
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Emitter stamps events with a run id and timestamp before handing them to a sink.
type Emitter struct {
	Sink  Sink
	RunID string
	Now   func() time.Time
}

// Emit sends an event, filling RunID and Timestamp when unset.
func (e Emitter) Emit(ev Event) {
	if e.Sink == nil {
		return
	}
	if ev.RunID == "" {
		ev.RunID = e.RunID
	}
	if ev.Timestamp.IsZero() {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		ev.Timestamp = now().UTC()
	}
	e.Sink.Emit(ev)
}
