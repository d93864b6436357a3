package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/metalagman/ainvoke"
	"github.com/metalagman/phasekit/internal/config"
	"github.com/rs/zerolog/log"
)

type agentSpec struct {
	defaultSubcommand string
	extraFlags        []string
}

var agentSpecs = map[string]agentSpec{
	"codex": {
		defaultSubcommand: "exec",
		extraFlags:        []string{"--full-auto", "--skip-git-repo-check"},
	},
	"opencode": {
		defaultSubcommand: "run",
	},
	"gemini": {
		extraFlags: []string{"--output-format", "text", "--approval-mode", "yolo"},
	},
	"claude": {
		extraFlags: []string{"--output-format", "text", "--print", "--dangerously-skip-permissions"},
	},
}

// ExecExecutor runs agents as external commands through ainvoke. Each call
// gets its own directory holding input.json and the agent's output.json.
type ExecExecutor struct {
	runner  ainvoke.Runner
	workDir string
	cmd     []string
	stderr  io.Writer
}

// NewExecExecutor constructs an executor for the given agent config.
func NewExecExecutor(cfg config.AgentConfig, workDir string) (*ExecExecutor, error) {
	var cmd []string
	switch spec, known := agentSpecs[cfg.Type]; {
	case cfg.Type == config.AgentTypeExec:
		if len(cfg.Cmd) == 0 {
			return nil, fmt.Errorf("exec agent requires cmd")
		}
		cmd = cfg.Cmd
	case known:
		cmd = prepareCmd(cfg.Type, spec, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
	}

	useTTY := false
	if cfg.UseTTY != nil {
		useTTY = *cfg.UseTTY
	}
	ar, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd:    cmd,
		UseTTY: useTTY,
	})
	if err != nil {
		return nil, err
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ExecExecutor{runner: ar, workDir: workDir, cmd: cmd}, nil
}

// Cmd returns the resolved command line.
func (e *ExecExecutor) Cmd() []string {
	return e.cmd
}

// WithStderr mirrors agent stderr to w.
func (e *ExecExecutor) WithStderr(w io.Writer) *ExecExecutor {
	e.stderr = w
	return e
}

// Execute implements Executor.
func (e *ExecExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return Response{}, fmt.Errorf("create agent work dir: %w", err)
	}
	runDir, err := os.MkdirTemp(e.workDir, req.AgentKey+"-*")
	if err != nil {
		return Response{}, fmt.Errorf("create agent run dir: %w", err)
	}

	inv := ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: req.Prompt,
		Input:        req,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	}
	stderr := e.stderr
	if stderr == nil {
		stderr = io.Discard
	}
	out, _, exitCode, err := e.runner.Run(ctx, inv, ainvoke.WithStdout(io.Discard), ainvoke.WithStderr(stderr))
	if err != nil {
		return Response{}, fmt.Errorf("run agent %s (exit code %d): %w", req.AgentKey, exitCode, err)
	}

	if data, readErr := os.ReadFile(filepath.Join(runDir, "output.json")); readErr == nil {
		out = data
	} else {
		log.Debug().Err(readErr).Str("agent", req.AgentKey).Msg("output.json missing; parsing stdout")
	}
	return ParseResponse(out)
}

func prepareCmd(baseCmd string, spec agentSpec, model string) []string {
	out := []string{baseCmd}
	if spec.defaultSubcommand != "" {
		out = append(out, spec.defaultSubcommand)
	}
	if model != "" {
		out = append(out, "--model", model)
	}
	return append(out, spec.extraFlags...)
}

const inputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "run_id": { "type": "string" },
    "phase": { "type": "string" },
    "agent_key": { "type": "string" },
    "prompt": { "type": "string" },
    "inputs": { "type": "object" }
  },
  "required": ["phase", "agent_key", "prompt"]
}`

const outputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "output": { "type": "string" },
    "quality": { "type": "number", "minimum": 0, "maximum": 1 }
  },
  "required": ["output", "quality"]
}`
