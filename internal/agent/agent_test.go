package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/phasekit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	t.Parallel()

	resp, err := ParseResponse([]byte(`{"output":"done","quality":0.75}`))
	require.NoError(t, err)
	assert.Equal(t, Response{Output: "done", Quality: 0.75}, resp)

	resp, err = ParseResponse([]byte("agent log line\n{\"output\":\"x\",\"quality\":1}\ntrailer"))
	require.NoError(t, err)
	assert.Equal(t, "x", resp.Output)

	_, err = ParseResponse([]byte("no json here"))
	assert.Error(t, err)

	_, err = ParseResponse([]byte(`{"output":"x","quality":1.5}`))
	assert.Error(t, err)
}

func TestPromptListsInputsSorted(t *testing.T) {
	t.Parallel()

	p := Prompt("design", "architect", "draft the architecture", map[string]any{
		"pipeline/scope":        "small",
		"pipeline/requirements": "r1",
	})
	assert.Equal(t, "Phase: design\nAgent: architect\nTask: draft the architecture\nInputs:\n- pipeline/requirements: r1\n- pipeline/scope: small\n", p)
	assert.Equal(t, "Phase: p\nAgent: a\n", Prompt("p", "a", "", nil))
}

func TestFuncAdapter(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var exec Executor = Func(func(_ context.Context, req Request) (Response, error) {
		if req.AgentKey == "bad" {
			return Response{}, boom
		}
		return Response{Output: req.AgentKey}, nil
	})

	resp, err := exec.Execute(context.Background(), Request{AgentKey: "good"})
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Output)

	_, err = exec.Execute(context.Background(), Request{AgentKey: "bad"})
	assert.ErrorIs(t, err, boom)
}

func TestNewExecExecutor_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewExecExecutor(config.AgentConfig{Type: config.AgentTypeExec}, t.TempDir())
	assert.Error(t, err)

	_, err = NewExecExecutor(config.AgentConfig{Type: "mystery"}, t.TempDir())
	assert.Error(t, err)

	exec, err := NewExecExecutor(config.AgentConfig{Type: "codex", Model: "gpt-5-codex"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"codex", "exec", "--model", "gpt-5-codex", "--full-auto", "--skip-git-repo-check"}, exec.Cmd())
}

func TestExecExecutor_Execute(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	content := `#!/bin/sh
cat > /dev/null
RESP='{"output":"architecture drafted","quality":0.9}'
echo "$RESP" > output.json
echo "$RESP"
`
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))

	exec, err := NewExecExecutor(config.AgentConfig{Type: config.AgentTypeExec, Cmd: []string{script}}, filepath.Join(dir, "work"))
	require.NoError(t, err)

	resp, err := exec.Execute(context.Background(), Request{Phase: "design", AgentKey: "architect", Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "architecture drafted", resp.Output)
	assert.InDelta(t, 0.9, resp.Quality, 1e-9)
}

func TestExecExecutor_WithStderrMirrorsAgentStderr(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	content := `#!/bin/sh
cat > /dev/null
echo "drafting design" 1>&2
RESP='{"output":"ok","quality":1}'
echo "$RESP" > output.json
echo "$RESP"
`
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))

	exec, err := NewExecExecutor(config.AgentConfig{Type: config.AgentTypeExec, Cmd: []string{script}}, filepath.Join(dir, "work"))
	require.NoError(t, err)
	assert.Equal(t, []string{script}, exec.Cmd())

	var stderr bytes.Buffer
	resp, err := exec.WithStderr(&stderr).Execute(context.Background(), Request{Phase: "design", AgentKey: "architect", Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Output)
	assert.Contains(t, stderr.String(), "drafting design")
}

func TestExecExecutor_ExecuteFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho boom 1>&2\nexit 1\n"), 0o755))

	exec, err := NewExecExecutor(config.AgentConfig{Type: config.AgentTypeExec, Cmd: []string{script}}, dir)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), Request{Phase: "design", AgentKey: "architect", Prompt: "go"})
	assert.Error(t, err)
}
