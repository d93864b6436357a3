package engine

import (
	"errors"
	"fmt"
)

// ErrAgentTimeout marks an agent that did not finish within the agent timeout.
var ErrAgentTimeout = errors.New("agent timed out")

// ConfigurationError reports an unusable engine or orchestrator setup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
