// Package model holds the pipeline data types shared across packages.
package model

import (
	"sort"
	"time"

	"github.com/metalagman/phasekit/internal/bounded"
)

// AgentMapping describes one schedulable agent. Mappings are immutable once a
// definition has been loaded.
type AgentMapping struct {
	Phase          string   `json:"phase"                   mapstructure:"phase"           yaml:"phase"`
	Key            string   `json:"key"                     mapstructure:"key"             yaml:"key"`
	Priority       int      `json:"priority"                mapstructure:"priority"        yaml:"priority"`
	DependsOn      []string `json:"depends_on,omitempty"    mapstructure:"depends_on"      yaml:"depends_on,omitempty"`
	MemoryReads    []string `json:"memory_reads,omitempty"  mapstructure:"memory_reads"    yaml:"memory_reads,omitempty"`
	MemoryWrites   []string `json:"memory_writes,omitempty" mapstructure:"memory_writes"   yaml:"memory_writes,omitempty"`
	RewardPoints   int      `json:"reward_points"           mapstructure:"reward_points"   yaml:"reward_points"`
	Parallelizable bool     `json:"parallelizable"          mapstructure:"parallelizable"  yaml:"parallelizable"`
	Critical       bool     `json:"critical"                mapstructure:"critical"        yaml:"critical"`
	Description    string   `json:"description,omitempty"   mapstructure:"description"     yaml:"description,omitempty"`
}

// AgentResult is the outcome of a single agent execution.
type AgentResult struct {
	AgentKey        string  `json:"agent_key"`
	Success         bool    `json:"success"`
	Output          string  `json:"output,omitempty"`
	Quality         float64 `json:"quality"`
	RewardEarned    int     `json:"reward_earned"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	Error           string  `json:"error,omitempty"`
}

// PhaseResult summarizes one phase execution.
type PhaseResult struct {
	Phase       string        `json:"phase"`
	Success     bool          `json:"success"`
	Results     []AgentResult `json:"results"`
	Reward      int           `json:"reward"`
	Batches     int           `json:"batches"`
	FailedAgent string        `json:"failed_agent,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	GateOutcome string        `json:"gate_outcome,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// MeanQuality returns the average quality of successful agent results.
func (r PhaseResult) MeanQuality() float64 {
	var (
		sum   float64
		count int
	)
	for _, res := range r.Results {
		if !res.Success {
			continue
		}
		sum += res.Quality
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Checkpoint is a snapshot taken at a phase boundary.
type Checkpoint struct {
	Phase           string              `json:"phase"`
	Timestamp       time.Time           `json:"timestamp"`
	MemorySnapshot  map[string]any      `json:"memory_snapshot"`
	CompletedAgents map[string]struct{} `json:"completed_agents"`
	TotalReward     int                 `json:"total_reward"`
}

// CompletedKeys returns the completed agent keys sorted.
func (c Checkpoint) CompletedKeys() []string {
	keys := make([]string, 0, len(c.CompletedAgents))
	for k := range c.CompletedAgents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExecutionState is the per-run mutable state. It is owned by the orchestrator
// goroutine and must not be shared across goroutines.
type ExecutionState struct {
	Results     *bounded.Map[string, AgentResult]
	Checkpoints *bounded.Map[string, Checkpoint]
	TotalReward int
}

// NewExecutionState creates state bounded by the given caps.
func NewExecutionState(maxResults, maxCheckpoints int) *ExecutionState {
	return &ExecutionState{
		Results:     bounded.New[string, AgentResult](maxResults),
		Checkpoints: bounded.New[string, Checkpoint](maxCheckpoints),
	}
}

// RecordResult stores an agent result, evicting the oldest beyond the cap.
func (s *ExecutionState) RecordResult(res AgentResult) {
	s.Results.Set(res.AgentKey, res)
}

// CompletedAgents returns the set of agents with a recorded successful result.
func (s *ExecutionState) CompletedAgents() map[string]struct{} {
	out := make(map[string]struct{}, s.Results.Len())
	s.Results.Range(func(key string, res AgentResult) bool {
		if res.Success {
			out[key] = struct{}{}
		}
		return true
	})
	return out
}

// Run statuses.
const (
	RunStatusRunning     = "running"
	RunStatusPassed      = "passed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

// RunResult is the aggregate outcome of a pipeline run.
type RunResult struct {
	RunID           string        `json:"run_id"`
	Pipeline        string        `json:"pipeline"`
	Status          string        `json:"status"`
	Phases          []PhaseResult `json:"phases"`
	TotalReward     int           `json:"total_reward"`
	CompletedPhases []string      `json:"completed_phases"`
	FailedPhases    []string      `json:"failed_phases"`
	RollbackApplied bool          `json:"rollback_applied"`
	Duration        time.Duration `json:"duration"`
}
