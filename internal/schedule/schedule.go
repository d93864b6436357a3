// Package schedule partitions a phase's ordered agents into parallel batches.
package schedule

import (
	"github.com/metalagman/phasekit/internal/model"
	"github.com/rs/zerolog/log"
)

// Options controls batching.
type Options struct {
	ParallelEnabled bool
	MaxParallel     int
}

// Plan is the ordered list of batches for one phase.
type Plan struct {
	Batches [][]model.AgentMapping
	// Forced counts batches that had to force-admit an agent whose
	// dependencies were not yet satisfied. It stays zero for a validated graph.
	Forced int
}

// Keys returns the agent keys of every batch.
func (p Plan) Keys() [][]string {
	out := make([][]string, len(p.Batches))
	for i, batch := range p.Batches {
		keys := make([]string, len(batch))
		for j, a := range batch {
			keys[j] = a.Key
		}
		out[i] = keys
	}
	return out
}

// Batch splits ordered agents into sequential batches. Within a batch every
// agent has its same-phase dependencies satisfied by earlier batches, and a
// batch holds at most MaxParallel parallelizable agents or exactly one
// non-parallelizable agent.
func Batch(ordered []model.AgentMapping, opts Options) Plan {
	if !opts.ParallelEnabled {
		plan := Plan{Batches: make([][]model.AgentMapping, 0, len(ordered))}
		for _, a := range ordered {
			plan.Batches = append(plan.Batches, []model.AgentMapping{a})
		}
		return plan
	}

	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	inPhase := make(map[string]bool, len(ordered))
	for _, a := range ordered {
		inPhase[a.Key] = true
	}

	executed := make(map[string]bool, len(ordered))
	remaining := make([]model.AgentMapping, len(ordered))
	copy(remaining, ordered)

	var plan Plan
	for len(remaining) > 0 {
		batch := make([]model.AgentMapping, 0, maxParallel)
		admitted := make(map[int]bool)

		for i, a := range remaining {
			if !depsSatisfied(a, inPhase, executed) {
				continue
			}
			if !a.Parallelizable {
				if len(batch) == 0 {
					batch = append(batch, a)
					admitted[i] = true
					break
				}
				continue
			}
			if len(batch) < maxParallel {
				batch = append(batch, a)
				admitted[i] = true
			}
		}

		if len(batch) == 0 {
			log.Warn().
				Str("agent", remaining[0].Key).
				Str("phase", remaining[0].Phase).
				Msg("no agent ready; forcing progress")
			batch = append(batch, remaining[0])
			admitted[0] = true
			plan.Forced++
		}

		next := remaining[:0:0]
		for i, a := range remaining {
			if !admitted[i] {
				next = append(next, a)
			}
		}
		for _, a := range batch {
			executed[a.Key] = true
		}
		remaining = next
		plan.Batches = append(plan.Batches, batch)
	}
	return plan
}

func depsSatisfied(a model.AgentMapping, inPhase, executed map[string]bool) bool {
	for _, dep := range a.DependsOn {
		if inPhase[dep] && !executed[dep] {
			return false
		}
	}
	return true
}
