// Package agent defines the step executor collaborator and its implementations.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Request is a single agent invocation.
type Request struct {
	RunID    string         `json:"run_id"`
	Phase    string         `json:"phase"`
	AgentKey string         `json:"agent_key"`
	Prompt   string         `json:"prompt"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Timeout  time.Duration  `json:"-"`
}

// Response is what an executor returns on success.
type Response struct {
	Output  string  `json:"output"`
	Quality float64 `json:"quality"`
}

// Executor runs one agent. Implementations must honour ctx cancellation where
// they can; the engine stops waiting at the timeout regardless.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req Request) (Response, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Prompt renders the minimal instruction text handed to an executor: the agent
// identity followed by the memory inputs it declared.
func Prompt(phase, agentKey, description string, inputs map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\nAgent: %s\n", phase, agentKey)
	if description != "" {
		fmt.Fprintf(&b, "Task: %s\n", description)
	}
	if len(inputs) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("Inputs:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, inputs[k])
	}
	return b.String()
}

// ParseResponse decodes an executor's JSON output, tolerating surrounding noise.
func ParseResponse(out []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(out, &resp)
	if err != nil {
		if extracted, ok := ExtractJSON(out); ok {
			err = json.Unmarshal(extracted, &resp)
		}
	}
	if err != nil {
		return Response{}, fmt.Errorf("parse agent response: %w", err)
	}
	if resp.Quality < 0 || resp.Quality > 1 {
		return Response{}, fmt.Errorf("agent quality %v out of range [0,1]", resp.Quality)
	}
	return resp, nil
}

// ExtractJSON returns the outermost {...} span of data.
func ExtractJSON(data []byte) ([]byte, bool) {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start == -1 || end == -1 || start >= end {
		return nil, false
	}
	return data[start : end+1], true
}
