package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownDependency is returned when a mapping depends on an undefined agent.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrCycle is returned when the dependency graph is not acyclic.
	ErrCycle = errors.New("dependency cycle detected")
	// ErrDuplicateAgent is returned when two mappings share a key.
	ErrDuplicateAgent = errors.New("duplicate agent key")
	// ErrEmptyKey is returned for a mapping without a key.
	ErrEmptyKey = errors.New("agent key must not be empty")
	// ErrEmptyPhase is returned for a mapping without a phase.
	ErrEmptyPhase = errors.New("agent phase must not be empty")
)

// DependencyError reports an unresolved dependsOn reference.
type DependencyError struct {
	Agent      string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("agent %q depends on %q: %v", e.Agent, e.Dependency, ErrUnknownDependency)
}

// Unwrap returns ErrUnknownDependency.
func (e *DependencyError) Unwrap() error {
	return ErrUnknownDependency
}

// CycleError lists the agents Kahn's algorithm could not place.
type CycleError struct {
	Unplaced []string
	Ordered  int
	Total    int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: ordered %d of %d agents, unplaced [%s]", ErrCycle, e.Ordered, e.Total, strings.Join(e.Unplaced, ", "))
}

// Unwrap returns ErrCycle.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// AgentError wraps a per-agent definition error.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %q: %v", e.Agent, e.Err)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Err
}
