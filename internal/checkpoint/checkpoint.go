// Package checkpoint snapshots execution state at phase boundaries and
// restores the newest snapshot on failure.
package checkpoint

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/metalagman/phasekit/internal/bounded"
	"github.com/metalagman/phasekit/internal/memory"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/rs/zerolog/log"
)

// CheckpointError wraps a memory failure during create or rollback.
type CheckpointError struct {
	Op    string
	Phase string
	Err   error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s for phase %s: %v", e.Op, e.Phase, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// Manager creates and restores checkpoints against a memory namespace.
type Manager struct {
	store          memory.Store
	namespace      string
	maxCheckpoints int
	now            func() time.Time
}

// NewManager returns a manager. maxCheckpoints <= 0 leaves the state's own cap in charge.
func NewManager(store memory.Store, namespace string, maxCheckpoints int) *Manager {
	return &Manager{
		store:          store,
		namespace:      namespace,
		maxCheckpoints: maxCheckpoints,
		now:            time.Now,
	}
}

// Create snapshots completed agents, total reward and the namespace's memory,
// stores the checkpoint under phase and trims to the cap.
func (m *Manager) Create(ctx context.Context, phase string, state *model.ExecutionState) (model.Checkpoint, error) {
	snapshot := map[string]any{}
	v, ok, err := m.store.Read(ctx, memory.Wildcard(m.namespace))
	if err != nil {
		return model.Checkpoint{}, &CheckpointError{Op: "create", Phase: phase, Err: err}
	}
	if ok {
		entries, isMap := v.(map[string]any)
		if !isMap {
			return model.Checkpoint{}, &CheckpointError{
				Op:    "create",
				Phase: phase,
				Err:   fmt.Errorf("namespace read returned %T", v),
			}
		}
		snapshot = maps.Clone(entries)
	}

	cp := model.Checkpoint{
		Phase:           phase,
		Timestamp:       m.now().UTC(),
		MemorySnapshot:  snapshot,
		CompletedAgents: state.CompletedAgents(),
		TotalReward:     state.TotalReward,
	}
	state.Checkpoints.Set(phase, cp)
	if m.maxCheckpoints > 0 {
		Trim(state.Checkpoints, m.maxCheckpoints)
	}

	log.Debug().
		Str("phase", phase).
		Int("completed_agents", len(cp.CompletedAgents)).
		Int("memory_keys", len(snapshot)).
		Int("total_reward", cp.TotalReward).
		Msg("checkpoint created")
	return cp, nil
}

// Rollback restores the newest checkpoint. It returns false without touching
// state when no checkpoint exists or when the memory restore fails.
func (m *Manager) Rollback(ctx context.Context, state *model.ExecutionState) (bool, error) {
	_, cp, ok := state.Checkpoints.Newest()
	if !ok {
		return false, nil
	}
	for key, value := range cp.MemorySnapshot {
		if err := m.store.Write(ctx, key, value); err != nil {
			return false, &CheckpointError{Op: "rollback", Phase: cp.Phase, Err: err}
		}
	}

	state.TotalReward = cp.TotalReward
	removed := 0
	for _, key := range state.Results.Keys() {
		if _, kept := cp.CompletedAgents[key]; !kept {
			state.Results.Delete(key)
			removed++
		}
	}

	log.Info().
		Str("phase", cp.Phase).
		Int("restored_keys", len(cp.MemorySnapshot)).
		Int("removed_results", removed).
		Int("total_reward", cp.TotalReward).
		Msg("rolled back to checkpoint")
	return true, nil
}

// Newest returns the most recent checkpoint.
func Newest(state *model.ExecutionState) (model.Checkpoint, bool) {
	_, cp, ok := state.Checkpoints.Newest()
	return cp, ok
}

// Trim evicts the oldest checkpoints beyond max and returns how many were removed.
func Trim(checkpoints *bounded.Map[string, model.Checkpoint], max int) int {
	return checkpoints.Trim(max)
}
