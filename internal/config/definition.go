package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/metalagman/phasekit/internal/dag"
	"github.com/metalagman/phasekit/internal/gate"
	"github.com/metalagman/phasekit/internal/model"
	"gopkg.in/yaml.v3"
)

// Definition is a pipeline loaded from YAML.
type Definition struct {
	Name   string               `yaml:"name"`
	Phases []PhaseDefinition    `yaml:"phases"`
	Agents []model.AgentMapping `yaml:"agents"`
	Gates  []gate.Definition    `yaml:"gates,omitempty"`
}

// PhaseDefinition declares a phase and the gate guarding it.
type PhaseDefinition struct {
	Name string `yaml:"name"`
	Gate string `yaml:"gate,omitempty"`
}

// LoadDefinition reads and validates a pipeline definition file.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pipeline definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes and validates a YAML definition. When no phases
// are declared, they are derived from the agents in declaration order.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse pipeline definition: %w", err)
	}
	if len(def.Phases) == 0 {
		for _, name := range dag.Build(def.Agents).PhaseOrder {
			def.Phases = append(def.Phases, PhaseDefinition{Name: name})
		}
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate reports every structural problem found in the definition.
func (d Definition) Validate() error {
	var errs []error
	if len(d.Agents) == 0 {
		errs = append(errs, errors.New("pipeline declares no agents"))
	}
	errs = append(errs, dag.Validate(d.Agents)...)

	gates := make(map[string]struct{})
	for _, g := range append(gate.DefaultGates(), d.Gates...) {
		gates[g.ID] = struct{}{}
	}
	for _, g := range d.Gates {
		if err := g.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	declared := make(map[string]struct{}, len(d.Phases))
	for _, p := range d.Phases {
		if p.Name == "" {
			errs = append(errs, errors.New("phase name must not be empty"))
			continue
		}
		if _, dup := declared[p.Name]; dup {
			errs = append(errs, fmt.Errorf("phase %q declared twice", p.Name))
		}
		declared[p.Name] = struct{}{}
		if p.Gate == "" {
			continue
		}
		if _, ok := gates[p.Gate]; !ok {
			errs = append(errs, fmt.Errorf("phase %q references %w %q", p.Name, gate.ErrUnknownGate, p.Gate))
		}
	}
	for _, a := range d.Agents {
		if a.Phase == "" {
			continue
		}
		if _, ok := declared[a.Phase]; !ok {
			errs = append(errs, fmt.Errorf("agent %q belongs to undeclared phase %q", a.Key, a.Phase))
		}
	}
	return errors.Join(errs...)
}

// PhaseNames returns the declared phase order.
func (d Definition) PhaseNames() []string {
	out := make([]string, 0, len(d.Phases))
	for _, p := range d.Phases {
		out = append(out, p.Name)
	}
	return out
}

// GateFor returns the gate id guarding phase, if any.
func (d Definition) GateFor(phase string) string {
	for _, p := range d.Phases {
		if p.Name == phase {
			return p.Gate
		}
	}
	return ""
}

// GateDefinitions returns the built-in gates overlaid with the definition's own.
func (d Definition) GateDefinitions() []gate.Definition {
	return append(gate.DefaultGates(), d.Gates...)
}
