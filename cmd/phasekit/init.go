package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/phasekit/internal/config"
	"github.com/metalagman/phasekit/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new phasekit project",
		Long:  "Initialize a new phasekit project by creating the .phasekit directory with a default config and a sample pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workingDir()
			if err != nil {
				return err
			}
			return initProject(root)
		},
	}
}

func initProject(root string) error {
	dir := stateDir(root)
	log.Info().Str("dir", dir).Msg("creating phasekit directory")
	for _, sub := range []string{"runs", "locks"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	configData, err := json.MarshalIndent(defaultSettings(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := writeIfMissing(filepath.Join(dir, "config.json"), append(configData, '\n')); err != nil {
		return err
	}

	pipelineData, err := yaml.Marshal(samplePipeline())
	if err != nil {
		return fmt.Errorf("marshal sample pipeline: %w", err)
	}
	if err := writeIfMissing(filepath.Join(dir, "pipeline.yaml"), pipelineData); err != nil {
		return err
	}

	log.Info().Msg("phasekit initialized successfully")
	return nil
}

func writeIfMissing(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		log.Info().Str("path", path).Msg("file already exists, skipping")
		return nil
	}
	log.Info().Str("path", path).Msg("writing file")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func defaultSettings() map[string]any {
	cfg := config.Default()
	return map[string]any{
		"agent_timeout":             cfg.AgentTimeout.String(),
		"max_parallel_agents":       cfg.MaxParallelAgents,
		"enable_parallel_execution": cfg.EnableParallelExecution,
		"enable_checkpoints":        cfg.EnableCheckpoints,
		"memory_namespace":          cfg.MemoryNamespace,
		"enable_learning":           cfg.EnableLearning,
		"max_results":               cfg.MaxResults,
		"max_checkpoints":           cfg.MaxCheckpoints,
		"max_gate_history":          cfg.MaxGateHistory,
		"pipeline_file":             cfg.PipelineFile,
		"executor": map[string]any{
			"type": cfg.Executor.Type,
		},
		"retention": map[string]any{
			"keep_last": cfg.Retention.KeepLast,
			"keep_days": cfg.Retention.KeepDays,
		},
	}
}

func samplePipeline() config.Definition {
	return config.Definition{
		Name: "feature-delivery",
		Phases: []config.PhaseDefinition{
			{Name: "understanding", Gate: "understanding"},
			{Name: "design", Gate: "design"},
			{Name: "implementation", Gate: "implementation"},
			{Name: "verification", Gate: "verification"},
		},
		Agents: []model.AgentMapping{
			{
				Phase:        "understanding",
				Key:          "requirements-analyst",
				Priority:     1,
				MemoryWrites: []string{"requirements"},
				RewardPoints: 10,
				Critical:     true,
				Description:  "Collect requirements and acceptance criteria",
			},
			{
				Phase:        "design",
				Key:          "architect",
				Priority:     1,
				MemoryReads:  []string{"requirements"},
				MemoryWrites: []string{"design"},
				RewardPoints: 15,
				Critical:     true,
				Description:  "Produce the technical design",
			},
			{
				Phase:          "design",
				Key:            "risk-reviewer",
				Priority:       2,
				MemoryReads:    []string{"requirements"},
				MemoryWrites:   []string{"risks"},
				RewardPoints:   5,
				Parallelizable: true,
				Description:    "List delivery and security risks",
			},
			{
				Phase:        "implementation",
				Key:          "coder",
				Priority:     1,
				MemoryReads:  []string{"design"},
				MemoryWrites: []string{"code"},
				RewardPoints: 25,
				Critical:     true,
				Description:  "Implement the design",
			},
			{
				Phase:        "implementation",
				Key:          "test-writer",
				Priority:     2,
				DependsOn:    []string{"coder"},
				MemoryReads:  []string{"code"},
				MemoryWrites: []string{"tests"},
				RewardPoints: 10,
				Description:  "Write tests for the implementation",
			},
			{
				Phase:        "verification",
				Key:          "verifier",
				Priority:     1,
				MemoryReads:  []string{"requirements", "design", "code", "tests"},
				RewardPoints: 15,
				Critical:     true,
				Description:  "Verify the change against the requirements",
			},
		},
	}
}
