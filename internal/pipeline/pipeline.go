// Package pipeline runs a definition's phases in order with checkpointing,
// quality gating and rollback.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/metalagman/phasekit/internal/agent"
	"github.com/metalagman/phasekit/internal/checkpoint"
	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/dag"
	"github.com/metalagman/phasekit/internal/engine"
	"github.com/metalagman/phasekit/internal/gate"
	"github.com/metalagman/phasekit/internal/learning"
	"github.com/metalagman/phasekit/internal/memory"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/metalagman/phasekit/internal/run"
	"github.com/metalagman/phasekit/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("phasekit.pipeline")

// Caps applied when Options leave them at zero. Run state is always bounded.
const (
	DefaultMaxResults     = 500
	DefaultMaxCheckpoints = 10
)

// Options wires an orchestrator's collaborators and limits.
type Options struct {
	Executor  agent.Executor
	Memory    memory.Store
	Telemetry telemetry.Sink
	Feedback  learning.Feedback
	Validator PhaseValidator
	Scorer    Scorer
	Recorder  RunRecorder
	Emergency *gate.Emergency

	RunID  string
	RunDir string

	AgentTimeout      time.Duration
	MaxParallel       int
	ParallelEnabled   bool
	EnableCheckpoints bool
	Namespace         string
	MaxResults        int
	MaxCheckpoints    int
	MaxGateHistory    int
}

// OptionsFromConfig copies the tunables from cfg. Collaborators are left for
// the caller to set.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		AgentTimeout:      cfg.AgentTimeout,
		MaxParallel:       cfg.MaxParallelAgents,
		ParallelEnabled:   cfg.EnableParallelExecution,
		EnableCheckpoints: cfg.EnableCheckpoints,
		Namespace:         cfg.MemoryNamespace,
		MaxResults:        cfg.MaxResults,
		MaxCheckpoints:    cfg.MaxCheckpoints,
		MaxGateHistory:    cfg.MaxGateHistory,
	}
}

// Orchestrator executes one pipeline definition.
type Orchestrator struct {
	def   config.Definition
	graph *dag.PipelineDAG
	opts  Options
	gates *gate.Validator
	now   func() time.Time
}

// New validates the definition and collaborators. It returns
// *engine.ConfigurationError when no executor is configured.
func New(def config.Definition, opts Options) (*Orchestrator, error) {
	if opts.Executor == nil {
		return nil, &engine.ConfigurationError{Field: "executor", Reason: "an agent executor is required"}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline %q: %w", def.Name, err)
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemory()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop{}
	}
	if opts.Scorer == nil {
		opts.Scorer = MeanQualityScorer{}
	}
	if opts.Namespace == "" {
		opts.Namespace = engine.DefaultNamespace
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = engine.DefaultAgentTimeout
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.MaxCheckpoints <= 0 {
		opts.MaxCheckpoints = DefaultMaxCheckpoints
	}
	gates, err := gate.NewValidator(def.GateDefinitions(), opts.MaxGateHistory)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		def:   def,
		graph: dag.Build(def.Agents),
		opts:  opts,
		gates: gates,
		now:   time.Now,
	}, nil
}

// Gates exposes the gate validator and its history.
func (o *Orchestrator) Gates() *gate.Validator {
	return o.gates
}

// runContext carries the per-run collaborators and state. It is confined to the
// goroutine calling Run.
type runContext struct {
	id      string
	engine  *engine.Engine
	state   *model.ExecutionState
	ckpts   *checkpoint.Manager
	events  telemetry.Emitter
	started time.Time
}

// Run executes every declared phase in order. It stops at the first failed
// phase, rolling back to the newest checkpoint when checkpoints are enabled.
// The returned result always reflects the phases that ran; the error is
// non-nil only when the run could not start or ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context) (model.RunResult, error) {
	rc, err := o.newRun()
	if err != nil {
		return model.RunResult{}, err
	}
	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("phasekit.pipeline", o.def.Name),
			attribute.String("phasekit.run_id", rc.id),
			attribute.Int("phasekit.phases", len(o.def.Phases)),
		),
	)
	defer span.End()

	result := model.RunResult{
		RunID:           rc.id,
		Pipeline:        o.def.Name,
		Status:          model.RunStatusRunning,
		Phases:          []model.PhaseResult{},
		CompletedPhases: []string{},
		FailedPhases:    []string{},
	}
	if o.opts.Recorder != nil {
		if err := o.opts.Recorder.CreateRun(ctx, rc.id, o.def.Name, o.opts.RunDir); err != nil {
			log.Warn().Err(err).Str("run_id", rc.id).Msg("record run start failed")
		}
	}
	rc.events.Emit(telemetry.Event{
		Type:    telemetry.PipelineStarted,
		Message: o.def.Name,
		Data:    map[string]any{"phases": o.def.PhaseNames()},
	})
	log.Info().Str("run_id", rc.id).Str("pipeline", o.def.Name).Msg("pipeline started")

	var runErr error
	for i, phase := range o.def.PhaseNames() {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		pr := o.executePhase(ctx, rc, phase)
		result.Phases = append(result.Phases, pr)
		if o.opts.Recorder != nil {
			if err := o.opts.Recorder.RecordPhase(ctx, rc.id, i, pr); err != nil {
				log.Warn().Err(err).Str("phase", phase).Msg("record phase failed")
			}
		}

		if pr.Success {
			rc.state.TotalReward += pr.Reward
			result.CompletedPhases = append(result.CompletedPhases, phase)
			continue
		}

		result.FailedPhases = append(result.FailedPhases, phase)
		if o.opts.EnableCheckpoints && rc.state.Checkpoints.Len() > 0 {
			result.RollbackApplied = o.rollback(ctx, rc, phase)
		}
		if err := ctx.Err(); err != nil {
			runErr = err
		}
		break
	}

	result.TotalReward = rc.state.TotalReward
	result.Duration = o.now().Sub(rc.started)
	switch {
	case runErr != nil:
		result.Status = model.RunStatusInterrupted
	case len(result.FailedPhases) > 0:
		result.Status = model.RunStatusFailed
	default:
		result.Status = model.RunStatusPassed
	}
	o.finish(ctx, rc, result)

	if result.Status == model.RunStatusPassed {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, result.Status)
	}
	return result, runErr
}

func (o *Orchestrator) newRun() (*runContext, error) {
	started := o.now()
	id := o.opts.RunID
	if id == "" {
		var err error
		if id, err = run.NewID(started); err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
	}
	eng, err := engine.New(o.opts.Executor,
		engine.WithAgentTimeout(o.opts.AgentTimeout),
		engine.WithParallelism(o.opts.ParallelEnabled, o.opts.MaxParallel),
		engine.WithMemory(o.opts.Memory, o.opts.Namespace),
		engine.WithTelemetry(o.opts.Telemetry),
		engine.WithFeedback(o.opts.Feedback),
		engine.WithRunID(id),
	)
	if err != nil {
		return nil, err
	}
	return &runContext{
		id:      id,
		engine:  eng,
		state:   model.NewExecutionState(o.opts.MaxResults, o.opts.MaxCheckpoints),
		ckpts:   checkpoint.NewManager(o.opts.Memory, o.opts.Namespace, o.opts.MaxCheckpoints),
		events:  telemetry.Emitter{Sink: o.opts.Telemetry, RunID: id, Now: o.now},
		started: started,
	}, nil
}

// executePhase checkpoints, runs the phase and applies the gate and the
// external validator. A soft gate rejection re-runs the phase while
// remediation attempts remain.
func (o *Orchestrator) executePhase(ctx context.Context, rc *runContext, phase string) model.PhaseResult {
	ctx, span := tracer.Start(ctx, "pipeline.Phase", trace.WithAttributes(attribute.String("phasekit.phase", phase)))
	defer span.End()

	if o.opts.EnableCheckpoints {
		if cp, err := rc.ckpts.Create(ctx, phase, rc.state); err != nil {
			log.Warn().Err(err).Str("phase", phase).Msg("checkpoint failed; continuing without it")
		} else {
			rc.events.Emit(telemetry.Event{
				Type:  telemetry.CheckpointCreated,
				Phase: phase,
				Data: map[string]any{
					"completed_agents": len(cp.CompletedAgents),
					"total_reward":     cp.TotalReward,
				},
			})
		}
	}

	rc.events.Emit(telemetry.Event{Type: telemetry.PhaseStarted, Phase: phase})
	log.Info().Str("phase", phase).Msg("phase started")

	agents := o.graph.PhaseAgents(phase)
	gateID := o.def.GateFor(phase)
	var (
		pr       model.PhaseResult
		attempts int
		history  []gate.Result
	)
	for {
		pr = rc.engine.RunPhase(ctx, phase, agents, rc.state)
		pr.Attempts = attempts + 1
		if !pr.Success || gateID == "" {
			break
		}
		gr, err := o.applyGate(ctx, rc, phase, gateID, pr, attempts, history)
		if err != nil {
			pr.Success = false
			pr.Error = err.Error()
			break
		}
		pr.GateOutcome = string(gr.Outcome)
		history = append(history, gr)
		if gr.Outcome == gate.SoftReject {
			attempts++
			log.Warn().
				Str("phase", phase).
				Int("attempt", attempts).
				Strs("remediation", gr.RemediationActions).
				Msg("quality gate soft reject; re-running phase")
			continue
		}
		if !gr.Outcome.Allows() {
			pr.Success = false
			pr.Error = fmt.Sprintf("quality gate %s rejected phase: %s", gateID, gr.RejectReason)
		}
		break
	}

	if pr.Success && o.opts.Validator != nil {
		if err := o.validate(ctx, phase, pr, attempts); err != nil {
			pr.Success = false
			pr.Error = err.Error()
		}
	}

	rc.events.Emit(telemetry.Event{
		Type:    telemetry.PhaseCompleted,
		Phase:   phase,
		Message: pr.Error,
		Data: map[string]any{
			"success":  pr.Success,
			"reward":   pr.Reward,
			"batches":  pr.Batches,
			"attempts": pr.Attempts,
		},
	})
	ev := log.Info()
	if !pr.Success {
		ev = log.Error().Str("error", pr.Error)
		span.SetStatus(codes.Error, pr.Error)
	}
	ev.Str("phase", phase).
		Bool("success", pr.Success).
		Int("reward", pr.Reward).
		Int("attempts", pr.Attempts).
		Dur("duration", pr.Duration).
		Msg("phase completed")
	return pr
}

func (o *Orchestrator) applyGate(ctx context.Context, rc *runContext, phase, gateID string, pr model.PhaseResult, attempts int, history []gate.Result) (gate.Result, error) {
	score, err := o.opts.Scorer.Score(ctx, phase, pr)
	if err != nil {
		return gate.Result{}, fmt.Errorf("score phase %s: %w", phase, err)
	}
	gr, err := o.gates.Validate(gateID, score, gate.Context{
		RemediationAttempts: attempts,
		ActiveEmergency:     o.opts.Emergency,
		PreviousValidations: history,
	})
	if err != nil {
		return gate.Result{}, fmt.Errorf("validate gate %s: %w", gateID, err)
	}
	rc.events.Emit(telemetry.Event{
		Type:    telemetry.GateValidated,
		Phase:   phase,
		Message: string(gr.Outcome),
		Data: map[string]any{
			"gate":       gateID,
			"composite":  gr.Score.Composite,
			"violations": len(gr.Violations),
			"attempts":   attempts,
		},
	})
	return gr, nil
}

func (o *Orchestrator) validate(ctx context.Context, phase string, pr model.PhaseResult, retryCount int) error {
	verdict, err := o.opts.Validator.ValidatePhase(ctx, phase, pr, retryCount)
	if err != nil {
		return fmt.Errorf("validate phase %s: %w", phase, err)
	}
	if verdict.Approved {
		return nil
	}
	if err := o.opts.Validator.HandleGuiltyVerdict(ctx, phase, verdict); err != nil {
		log.Warn().Err(err).Str("phase", phase).Msg("handle guilty verdict failed")
	}
	return fmt.Errorf("phase %s rejected by validator: %s", phase, verdict.Reason)
}

func (o *Orchestrator) rollback(ctx context.Context, rc *runContext, phase string) bool {
	// Restoring memory must not be skipped because the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	target, _ := checkpoint.Newest(rc.state)
	ok, err := rc.ckpts.Rollback(ctx, rc.state)
	if err != nil {
		log.Error().Err(err).Str("phase", phase).Msg("rollback failed")
		return false
	}
	if ok {
		rc.events.Emit(telemetry.Event{
			Type:  telemetry.RollbackApplied,
			Phase: phase,
			Data: map[string]any{
				"checkpoint":   target.Phase,
				"total_reward": target.TotalReward,
			},
		})
	}
	return ok
}

func (o *Orchestrator) finish(ctx context.Context, rc *runContext, result model.RunResult) {
	ctx = context.WithoutCancel(ctx)
	rc.events.Emit(telemetry.Event{
		Type:    telemetry.PipelineCompleted,
		Message: result.Status,
		Data: map[string]any{
			"total_reward":     result.TotalReward,
			"completed_phases": len(result.CompletedPhases),
			"failed_phases":    len(result.FailedPhases),
			"rollback_applied": result.RollbackApplied,
		},
	})
	learning.Provide(ctx, o.opts.Feedback, learning.NewTrajectoryID("pipeline-"+rc.id), meanQuality(result), map[string]any{
		"run_id":   rc.id,
		"pipeline": o.def.Name,
		"status":   result.Status,
	})
	if o.opts.Recorder != nil {
		if err := o.opts.Recorder.FinishRun(ctx, result); err != nil {
			log.Warn().Err(err).Str("run_id", rc.id).Msg("record run finish failed")
		}
	}
	log.Info().
		Str("run_id", rc.id).
		Str("status", result.Status).
		Int("total_reward", result.TotalReward).
		Bool("rollback_applied", result.RollbackApplied).
		Dur("duration", result.Duration).
		Msg("pipeline completed")
}

func meanQuality(result model.RunResult) float64 {
	var (
		sum   float64
		count int
	)
	for _, pr := range result.Phases {
		for _, r := range pr.Results {
			if r.Success {
				sum += r.Quality
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
