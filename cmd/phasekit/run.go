package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/metalagman/phasekit/internal/agent"
	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/db"
	"github.com/metalagman/phasekit/internal/gate"
	"github.com/metalagman/phasekit/internal/learning"
	"github.com/metalagman/phasekit/internal/logging"
	"github.com/metalagman/phasekit/internal/memory"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/metalagman/phasekit/internal/pipeline"
	"github.com/metalagman/phasekit/internal/reconcile"
	"github.com/metalagman/phasekit/internal/report"
	"github.com/metalagman/phasekit/internal/run"
	"github.com/metalagman/phasekit/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const (
	memoryBackendSQLite = "sqlite"
	memoryBackendMemory = "memory"
)

// runParams are the per-invocation values resolved before the app is built.
type runParams struct {
	Root          string
	RunID         string
	RunDir        string
	MemoryBackend string
	Emergency     *gate.Emergency
}

func runCmd() *cobra.Command {
	var (
		pipelineFile     string
		memoryBackend    string
		emergencyID      string
		emergencyTrigger string
		showReport       bool
		asJSON           bool
	)
	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the pipeline definition",
		Long:         "Run every phase of the pipeline definition in order. Exits non-zero unless the run passes.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if memoryBackend != memoryBackendSQLite && memoryBackend != memoryBackendMemory {
				return fmt.Errorf("unknown memory backend %q", memoryBackend)
			}
			root, err := workingDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			def, _, err := loadDefinition(root, cfg, pipelineFile)
			if err != nil {
				return err
			}

			now := time.Now()
			runID, err := run.NewID(now)
			if err != nil {
				return err
			}

			dir := stateDir(root)
			lock, ok, err := run.TryAcquireLock(dir, runID)
			if err != nil {
				return err
			}
			if !ok {
				holder, _ := run.Holder(dir)
				return fmt.Errorf("run lock in %s is held by %q", dir, holder)
			}
			defer func() { _ = lock.Release() }()
			params := runParams{
				Root:          root,
				RunID:         runID,
				RunDir:        run.Dir(dir, runID),
				MemoryBackend: memoryBackend,
			}
			if emergencyTrigger != "" {
				if emergencyID == "" {
					emergencyID = "cli-" + runID
				}
				params.Emergency = &gate.Emergency{ID: emergencyID, Trigger: emergencyTrigger, Timestamp: now.UTC()}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := executeRun(ctx, cfg, def, params)
			if res.RunID != "" {
				if outErr := writeResult(cmd.OutOrStdout(), res, showReport, asJSON); outErr != nil {
					return outErr
				}
			}
			if err != nil {
				return err
			}
			if res.Status != model.RunStatusPassed {
				return fmt.Errorf("run %s finished with status %s", res.RunID, res.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelineFile, "pipeline", "", "pipeline definition file (defaults to pipeline_file from config)")
	cmd.Flags().StringVar(&memoryBackend, "memory", memoryBackendSQLite, "shared memory backend: sqlite or memory")
	cmd.Flags().StringVar(&emergencyID, "emergency-id", "", "incident id recorded with gate bypasses")
	cmd.Flags().StringVar(&emergencyTrigger, "emergency-trigger", "", "declare an active emergency with this trigger")
	cmd.Flags().BoolVar(&showReport, "report", false, "print the full markdown report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}

// executeRun wires the run's collaborators with fx and runs the pipeline.
func executeRun(ctx context.Context, cfg config.Config, def config.Definition, params runParams) (model.RunResult, error) {
	var orch *pipeline.Orchestrator
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, def, params),
		fx.Provide(
			newDatabase,
			db.NewStore,
			newMemory,
			newTelemetry,
			newExecutor,
			newOrchestrator,
		),
		fx.Invoke(registerReconcile),
		fx.Populate(&orch),
	)
	if err := app.Err(); err != nil {
		return model.RunResult{}, fmt.Errorf("wire run: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return model.RunResult{}, fmt.Errorf("start run: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("stop run")
		}
	}()
	// Created after reconciliation so the new directory is not reported as
	// orphaned.
	if err := os.MkdirAll(params.RunDir, 0o755); err != nil {
		return model.RunResult{}, fmt.Errorf("create run dir: %w", err)
	}

	return orch.Run(ctx)
}

func newDatabase(lc fx.Lifecycle, params runParams) (*sql.DB, error) {
	storeDB, err := db.Open(filepath.Join(stateDir(params.Root), db.FileName))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return storeDB.Close()
		},
	})
	return storeDB, nil
}

func newMemory(storeDB *sql.DB, params runParams) memory.Store {
	if params.MemoryBackend == memoryBackendMemory {
		return memory.NewInMemory()
	}
	return db.NewKVStore(storeDB)
}

func newTelemetry(store *db.Store) telemetry.Sink {
	return telemetry.Multi{
		db.NewEventSink(store),
		telemetry.LogSink{Level: zerolog.DebugLevel},
	}
}

func newExecutor(cfg config.Config, params runParams) (agent.Executor, error) {
	ex, err := agent.NewExecExecutor(cfg.Executor, params.RunDir)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	log.Debug().Strs("cmd", ex.Cmd()).Str("type", cfg.Executor.Type).Msg("agent executor ready")
	if logging.DebugEnabled() {
		ex = ex.WithStderr(os.Stderr)
	}
	return ex, nil
}

type orchestratorDeps struct {
	fx.In

	Config     config.Config
	Definition config.Definition
	Params     runParams
	Executor   agent.Executor
	Memory     memory.Store
	Telemetry  telemetry.Sink
	Store      *db.Store
}

func newOrchestrator(deps orchestratorDeps) (*pipeline.Orchestrator, error) {
	opts := pipeline.OptionsFromConfig(deps.Config)
	opts.Executor = deps.Executor
	opts.Memory = deps.Memory
	opts.Telemetry = deps.Telemetry
	opts.Recorder = deps.Store
	opts.Emergency = deps.Params.Emergency
	opts.RunID = deps.Params.RunID
	opts.RunDir = deps.Params.RunDir
	// Runs share one database, so each run reads and writes under its own
	// namespace.
	opts.Namespace = memory.Key(deps.Config.MemoryNamespace, deps.Params.RunID)
	if deps.Config.EnableLearning {
		opts.Feedback = learning.LogFeedback{}
	}
	return pipeline.New(deps.Definition, opts)
}

// registerReconcile repairs state left by crashed runs once the database is
// open and before the pipeline starts.
func registerReconcile(lc fx.Lifecycle, storeDB *sql.DB, params runParams) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			res, err := reconcile.Run(ctx, storeDB, stateDir(params.Root))
			if err != nil {
				return fmt.Errorf("reconcile runs: %w", err)
			}
			if len(res.Interrupted) > 0 || len(res.Orphaned) > 0 {
				log.Info().
					Strs("interrupted", res.Interrupted).
					Strs("orphaned", res.Orphaned).
					Msg("reconciled previous runs")
			}
			return nil
		},
	})
}

func writeResult(w io.Writer, res model.RunResult, showReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, _ = fmt.Fprintln(w, report.Summary(res))
	if !showReport {
		return nil
	}
	out, err := report.Render(report.Markdown(res), 0)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(w, out)
	return nil
}
