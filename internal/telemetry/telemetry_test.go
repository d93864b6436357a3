package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestEmitter_StampsRunIDAndTime(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	em := Emitter{Sink: sink, RunID: "run-1", Now: func() time.Time { return fixed }}

	em.Emit(Event{Type: AgentStarted, AgentKey: "coder"})
	em.Emit(Event{Type: AgentCompleted, RunID: "other"})

	require.Len(t, sink.events, 2)
	assert.Equal(t, "run-1", sink.events[0].RunID)
	assert.Equal(t, fixed, sink.events[0].Timestamp)
	assert.Equal(t, "other", sink.events[1].RunID)
}

func TestEmitter_NilSinkIsNoop(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		Emitter{}.Emit(Event{Type: PipelineStarted})
	})
}

func TestMulti_FansOut(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	Multi{a, nil, b, Nop{}, LogSink{}}.Emit(Event{Type: PhaseStarted, Phase: "design", Data: map[string]any{"agents": 2}})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
