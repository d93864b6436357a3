package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/dag"
	"github.com/metalagman/phasekit/internal/gate"
	"github.com/metalagman/phasekit/internal/schedule"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	var pipelineFile string
	cmd := &cobra.Command{
		Use:          "validate",
		Short:        "Validate the config and pipeline definition and print the execution plan",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			def, path, err := loadDefinition(root, cfg, pipelineFile)
			if err != nil {
				return err
			}
			if _, err := gate.NewValidator(def.GateDefinitions(), cfg.MaxGateHistory); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			printPlan(cmd.OutOrStdout(), cfg, def)
			return nil
		},
	}
	cmd.Flags().StringVar(&pipelineFile, "pipeline", "", "pipeline definition file (defaults to pipeline_file from config)")
	return cmd
}

func printPlan(w io.Writer, cfg config.Config, def config.Definition) {
	graph := dag.Build(def.Agents)
	opts := schedule.Options{
		ParallelEnabled: cfg.EnableParallelExecution,
		MaxParallel:     cfg.MaxParallelAgents,
	}
	_, _ = fmt.Fprintf(w, "pipeline %s: %d phases, %d agents\n", def.Name, len(def.Phases), len(def.Agents))
	for i, phase := range def.PhaseNames() {
		gateID := def.GateFor(phase)
		if gateID == "" {
			gateID = "-"
		}
		_, _ = fmt.Fprintf(w, "%d. %s (gate: %s)\n", i+1, phase, gateID)
		plan := schedule.Batch(dag.ResolveOrder(graph.PhaseAgents(phase)), opts)
		for j, keys := range plan.Keys() {
			_, _ = fmt.Fprintf(w, "   batch %d: %s\n", j+1, strings.Join(keys, ", "))
		}
	}
}
