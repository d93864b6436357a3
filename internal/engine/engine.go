// Package engine executes a phase's agents batch by batch behind a join barrier.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/phasekit/internal/agent"
	"github.com/metalagman/phasekit/internal/dag"
	"github.com/metalagman/phasekit/internal/learning"
	"github.com/metalagman/phasekit/internal/memory"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/metalagman/phasekit/internal/schedule"
	"github.com/metalagman/phasekit/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("phasekit.engine")

// Defaults applied by New.
const (
	DefaultAgentTimeout = 5 * time.Minute
	DefaultMaxParallel  = 3
	DefaultNamespace    = "pipeline"
)

type options struct {
	agentTimeout    time.Duration
	maxParallel     int
	parallelEnabled bool
	namespace       string
	runID           string
	memory          memory.Store
	sink            telemetry.Sink
	feedback        learning.Feedback
}

// Option configures an Engine.
type Option func(*options)

// WithAgentTimeout bounds each agent call.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *options) { o.agentTimeout = d }
}

// WithParallelism sets whether batches run concurrently and their size cap.
func WithParallelism(enabled bool, maxParallel int) Option {
	return func(o *options) {
		o.parallelEnabled = enabled
		o.maxParallel = maxParallel
	}
}

// WithMemory sets the shared memory store and the namespace agents read and write under.
func WithMemory(store memory.Store, namespace string) Option {
	return func(o *options) {
		o.memory = store
		o.namespace = namespace
	}
}

// WithTelemetry sets the event sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithFeedback enables per-agent learning feedback.
func WithFeedback(fb learning.Feedback) Option {
	return func(o *options) { o.feedback = fb }
}

// WithRunID tags requests and events with a run id.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// Engine runs agents through an executor.
type Engine struct {
	executor agent.Executor
	opts     options
	events   telemetry.Emitter
}

// New constructs an Engine. It fails with *ConfigurationError when executor is nil.
func New(executor agent.Executor, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, &ConfigurationError{Field: "executor", Reason: "an agent executor is required"}
	}
	o := options{
		agentTimeout:    DefaultAgentTimeout,
		maxParallel:     DefaultMaxParallel,
		parallelEnabled: true,
		namespace:       DefaultNamespace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.agentTimeout <= 0 {
		return nil, &ConfigurationError{Field: "agent_timeout", Reason: "must be positive"}
	}
	if o.maxParallel <= 0 {
		o.maxParallel = 1
	}
	if o.memory == nil {
		o.memory = memory.NewInMemory()
	}
	if o.sink == nil {
		o.sink = telemetry.Nop{}
	}
	return &Engine{
		executor: executor,
		opts:     o,
		events:   telemetry.Emitter{Sink: o.sink, RunID: o.runID},
	}, nil
}

// RunPhase resolves, batches and executes the given agents. Batch results are
// recorded into state after the whole batch has joined. A failed critical
// agent stops the phase once its batch has finished.
func (e *Engine) RunPhase(ctx context.Context, phase string, agents []model.AgentMapping, state *model.ExecutionState) model.PhaseResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.RunPhase",
		trace.WithAttributes(
			attribute.String("phasekit.phase", phase),
			attribute.String("phasekit.run_id", e.opts.runID),
			attribute.Int("phasekit.agents", len(agents)),
		),
	)
	defer span.End()

	plan := schedule.Batch(dag.ResolveOrder(agents), schedule.Options{
		ParallelEnabled: e.opts.parallelEnabled,
		MaxParallel:     e.opts.maxParallel,
	})
	span.SetAttributes(attribute.Int("phasekit.batches", len(plan.Batches)))

	res := model.PhaseResult{Phase: phase, Success: true, Results: []model.AgentResult{}}
	for i, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.Error = fmt.Sprintf("phase interrupted: %v", err)
			break
		}
		log.Debug().
			Str("phase", phase).
			Int("batch", i).
			Int("size", len(batch)).
			Msg("executing batch")

		results := e.runBatch(ctx, i, batch)
		res.Batches++
		for j, r := range results {
			state.RecordResult(r)
			res.Results = append(res.Results, r)
			res.Reward += r.RewardEarned
			if !r.Success && batch[j].Critical && res.FailedAgent == "" {
				res.FailedAgent = r.AgentKey
				res.Error = fmt.Sprintf("critical agent %s failed: %s", r.AgentKey, r.Error)
			}
		}
		if res.FailedAgent != "" {
			res.Success = false
			log.Error().
				Str("phase", phase).
				Int("batch", i).
				Str("agent", res.FailedAgent).
				Msg("critical agent failed; stopping phase")
			break
		}
	}
	res.Duration = time.Since(start)

	if res.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (e *Engine) runBatch(ctx context.Context, index int, batch []model.AgentMapping) []model.AgentResult {
	ctx, span := tracer.Start(ctx, "engine.Batch",
		trace.WithAttributes(
			attribute.Int("phasekit.batch", index),
			attribute.Int("phasekit.batch_size", len(batch)),
		),
	)
	defer span.End()

	results := make([]model.AgentResult, len(batch))
	// The scheduler already caps batches; the limit keeps a hand-built batch
	// within maxParallel too.
	var g errgroup.Group
	g.SetLimit(e.opts.maxParallel)
	for i, m := range batch {
		g.Go(func() error {
			results[i] = e.ExecuteAgent(ctx, m)
			return nil
		})
	}
	// Agents report failure through their results; Wait is the join barrier.
	_ = g.Wait()
	return results
}

// ExecuteAgent runs one agent with the configured timeout. It never returns an
// error: failures and timeouts yield a failed result with zero reward.
func (e *Engine) ExecuteAgent(ctx context.Context, m model.AgentMapping) model.AgentResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Agent",
		trace.WithAttributes(
			attribute.String("phasekit.agent", m.Key),
			attribute.String("phasekit.phase", m.Phase),
			attribute.StringSlice("phasekit.depends_on", m.DependsOn),
			attribute.Bool("phasekit.critical", m.Critical),
		),
	)
	defer span.End()

	e.events.Emit(telemetry.Event{Type: telemetry.AgentStarted, Phase: m.Phase, AgentKey: m.Key})

	inputs := e.readInputs(ctx, m)
	req := agent.Request{
		RunID:    e.opts.runID,
		Phase:    m.Phase,
		AgentKey: m.Key,
		Prompt:   agent.Prompt(m.Phase, m.Key, m.Description, inputs),
		Inputs:   inputs,
		Timeout:  e.opts.agentTimeout,
	}

	res := model.AgentResult{AgentKey: m.Key}
	resp, err := e.call(ctx, req)
	if err == nil {
		err = e.writeOutputs(ctx, m, resp)
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().
			Err(err).
			Str("phase", m.Phase).
			Str("agent", m.Key).
			Int64("duration_ms", res.ExecutionTimeMs).
			Msg("agent failed")
	} else {
		res.Success = true
		res.Output = resp.Output
		res.Quality = resp.Quality
		res.RewardEarned = m.RewardPoints
		span.SetStatus(codes.Ok, "")
		log.Debug().
			Str("phase", m.Phase).
			Str("agent", m.Key).
			Float64("quality", resp.Quality).
			Int64("duration_ms", res.ExecutionTimeMs).
			Msg("agent completed")
	}

	e.events.Emit(telemetry.Event{
		Type:     telemetry.AgentCompleted,
		Phase:    m.Phase,
		AgentKey: m.Key,
		Message:  res.Error,
		Data: map[string]any{
			"success":           res.Success,
			"quality":           res.Quality,
			"reward":            res.RewardEarned,
			"execution_time_ms": res.ExecutionTimeMs,
		},
	})
	learning.Provide(ctx, e.opts.feedback, learning.NewTrajectoryID(m.Key), res.Quality, map[string]any{
		"run_id":  e.opts.runID,
		"phase":   m.Phase,
		"agent":   m.Key,
		"success": res.Success,
	})
	return res
}

type callResult struct {
	resp agent.Response
	err  error
}

// call races the executor against the agent timeout. The executor's context
// is cancelled at the deadline, and the engine stops waiting at that point
// even if the executor ignores cancellation.
func (e *Engine) call(ctx context.Context, req agent.Request) (agent.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.agentTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("agent %s panicked: %v", req.AgentKey, r)}
			}
		}()
		resp, err := e.executor.Execute(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return agent.Response{}, fmt.Errorf("%w after %s: %s", ErrAgentTimeout, e.opts.agentTimeout, req.AgentKey)
		}
		return out.resp, out.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return agent.Response{}, err
		}
		return agent.Response{}, fmt.Errorf("%w after %s: %s", ErrAgentTimeout, e.opts.agentTimeout, req.AgentKey)
	}
}

func (e *Engine) readInputs(ctx context.Context, m model.AgentMapping) map[string]any {
	if len(m.MemoryReads) == 0 {
		return nil
	}
	inputs := make(map[string]any, len(m.MemoryReads))
	for _, name := range m.MemoryReads {
		v, ok, err := e.opts.memory.Read(ctx, memory.Key(e.opts.namespace, name))
		if err != nil {
			log.Warn().Err(err).Str("agent", m.Key).Str("key", name).Msg("memory read failed")
			continue
		}
		if ok {
			inputs[name] = v
		}
	}
	return inputs
}

func (e *Engine) writeOutputs(ctx context.Context, m model.AgentMapping, resp agent.Response) error {
	for _, name := range m.MemoryWrites {
		value := map[string]any{
			"agent":   m.Key,
			"output":  resp.Output,
			"quality": resp.Quality,
		}
		if err := e.opts.memory.Write(ctx, memory.Key(e.opts.namespace, name), value); err != nil {
			return fmt.Errorf("write memory %s: %w", name, err)
		}
	}
	return nil
}
