package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/phasekit/internal/dag"
	"github.com/metalagman/phasekit/internal/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.AgentTimeout)
	assert.Equal(t, 3, cfg.MaxParallelAgents)
	assert.True(t, cfg.EnableParallelExecution)
	assert.True(t, cfg.EnableCheckpoints)
	assert.Equal(t, "pipeline", cfg.MemoryNamespace)
	assert.False(t, cfg.EnableLearning)
	assert.Equal(t, 500, cfg.MaxResults)
	assert.Equal(t, 10, cfg.MaxCheckpoints)
	assert.Equal(t, 200, cfg.MaxGateHistory)
	assert.Equal(t, filepath.Join(".phasekit", "pipeline.yaml"), cfg.PipelineFile)
	assert.Equal(t, cfg, Default())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "agent_timeout": "90s",
  "max_parallel_agents": 5,
  "enable_checkpoints": false,
  "executor": {"type": "exec", "cmd": ["./agent.sh", "--json"], "use_tty": false},
  "retention": {"keep_last": 3}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 5, cfg.MaxParallelAgents)
	assert.False(t, cfg.EnableCheckpoints)
	assert.True(t, cfg.EnableParallelExecution)
	assert.Equal(t, AgentTypeExec, cfg.Executor.Type)
	assert.Equal(t, []string{"./agent.sh", "--json"}, cfg.Executor.Cmd)
	require.NotNil(t, cfg.Executor.UseTTY)
	assert.False(t, *cfg.Executor.UseTTY)
	assert.Equal(t, 3, cfg.Retention.KeepLast)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PHASEKIT_MAX_PARALLEL_AGENTS", "7")
	t.Setenv("PHASEKIT_AGENT_TIMEOUT", "2s")
	t.Setenv("PHASEKIT_ENABLE_LEARNING", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxParallelAgents)
	assert.Equal(t, 2*time.Second, cfg.AgentTimeout)
	assert.True(t, cfg.EnableLearning)
}

func TestLoad_SchemaRejectsInvalidSettings(t *testing.T) {
	tests := map[string]string{
		"unknown key":       `{"max_parallel": 2}`,
		"zero parallelism":  `{"max_parallel_agents": 0}`,
		"bad duration":      `{"agent_timeout": "soon"}`,
		"bad executor type": `{"executor": {"type": "robot"}}`,
		"unbounded results": `{"max_results": 0}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.json", content))
			require.Error(t, err)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.NotEmpty(t, schemaErr.Problems)
			assert.Contains(t, err.Error(), "config schema validation failed")
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.AgentTimeout = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MemoryNamespace = " "
	require.Error(t, bad.Validate())

	for name, mutate := range map[string]func(*Config){
		"max_results":      func(c *Config) { c.MaxResults = 0 },
		"max_checkpoints":  func(c *Config) { c.MaxCheckpoints = 0 },
		"max_gate_history": func(c *Config) { c.MaxGateHistory = 0 },
	} {
		bad = cfg
		mutate(&bad)
		err := bad.Validate()
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), name)
	}
}

const sampleDefinition = `
name: sdlc
phases:
  - name: understand
  - name: design
    gate: design-review
gates:
  - id: design-review
    min_composite: 0.7
    component_thresholds:
      security: 0.6
    critical_components: [security]
    allowed_remediation_attempts: 2
agents:
  - phase: understand
    key: task-analyzer
    priority: 1
    reward_points: 10
    memory_writes: [analysis]
    critical: true
  - phase: design
    key: architect
    priority: 1
    depends_on: [task-analyzer]
    memory_reads: [analysis]
    reward_points: 20
    parallelizable: true
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleDefinition))
	require.NoError(t, err)

	assert.Equal(t, "sdlc", def.Name)
	assert.Equal(t, []string{"understand", "design"}, def.PhaseNames())
	assert.Equal(t, "design-review", def.GateFor("design"))
	assert.Empty(t, def.GateFor("understand"))
	require.Len(t, def.Agents, 2)
	assert.Equal(t, []string{"task-analyzer"}, def.Agents[1].DependsOn)
	assert.True(t, def.Agents[0].Critical)

	require.Len(t, def.Gates, 1)
	assert.InDelta(t, 0.6, def.Gates[0].ComponentThresholds[gate.Security], 1e-9)

	gates := def.GateDefinitions()
	assert.Len(t, gates, len(gate.DefaultGates())+1)
}

func TestParseDefinition_DerivesPhasesFromAgents(t *testing.T) {
	def, err := ParseDefinition([]byte(`
agents:
  - {phase: b, key: x}
  - {phase: a, key: y}
  - {phase: b, key: z}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, def.PhaseNames())
}

func TestParseDefinition_ReportsProblems(t *testing.T) {
	_, err := ParseDefinition([]byte(`
phases:
  - name: one
    gate: nowhere
agents:
  - {phase: one, key: a, depends_on: [ghost]}
  - {phase: two, key: b}
`))
	require.Error(t, err)
	require.ErrorIs(t, err, dag.ErrUnknownDependency)
	require.ErrorIs(t, err, gate.ErrUnknownGate)
	assert.Contains(t, err.Error(), `undeclared phase "two"`)
}

func TestParseDefinition_Cycle(t *testing.T) {
	_, err := ParseDefinition([]byte(`
agents:
  - {phase: p, key: a, depends_on: [b]}
  - {phase: p, key: b, depends_on: [a]}
`))
	require.ErrorIs(t, err, dag.ErrCycle)
}

func TestLoadDefinition_MissingFile(t *testing.T) {
	_, err := LoadDefinition(filepath.Join(t.TempDir(), "pipeline.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
