// Package dag builds and validates the agent dependency graph and resolves
// per-phase execution order.
package dag

import (
	"sort"

	"github.com/metalagman/phasekit/internal/model"
)

// Node holds the edges of one agent.
type Node struct {
	Mapping    model.AgentMapping
	DependsOn  []string
	Dependents []string
}

// PipelineDAG is the graph induced by a set of agent mappings.
type PipelineDAG struct {
	Nodes            map[string]*Node
	Phases           map[string][]string
	PhaseOrder       []string
	TopologicalOrder []string
}

// Acyclic reports whether every node was placed in the topological order.
func (d *PipelineDAG) Acyclic() bool {
	return len(d.TopologicalOrder) == len(d.Nodes)
}

// PhaseAgents returns the mappings of a phase in declaration order.
func (d *PipelineDAG) PhaseAgents(phase string) []model.AgentMapping {
	keys := d.Phases[phase]
	out := make([]model.AgentMapping, 0, len(keys))
	for _, key := range keys {
		out = append(out, d.Nodes[key].Mapping)
	}
	return out
}

// Build constructs the graph and a global topological order using Kahn's
// algorithm. Duplicate keys keep their first definition and dependencies on
// unknown agents are not turned into edges; Validate reports both. A cyclic
// input still yields a graph whose TopologicalOrder is shorter than Nodes.
func Build(mappings []model.AgentMapping) *PipelineDAG {
	d := &PipelineDAG{
		Nodes:  make(map[string]*Node, len(mappings)),
		Phases: make(map[string][]string),
	}
	declared := make([]string, 0, len(mappings))
	for _, m := range mappings {
		if _, exists := d.Nodes[m.Key]; exists {
			continue
		}
		d.Nodes[m.Key] = &Node{Mapping: m}
		declared = append(declared, m.Key)
		if _, seen := d.Phases[m.Phase]; !seen {
			d.PhaseOrder = append(d.PhaseOrder, m.Phase)
		}
		d.Phases[m.Phase] = append(d.Phases[m.Phase], m.Key)
	}

	inDegree := make(map[string]int, len(d.Nodes))
	for _, key := range declared {
		node := d.Nodes[key]
		seen := make(map[string]bool, len(node.Mapping.DependsOn))
		for _, dep := range node.Mapping.DependsOn {
			parent, ok := d.Nodes[dep]
			if !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			node.DependsOn = append(node.DependsOn, dep)
			parent.Dependents = append(parent.Dependents, key)
			inDegree[key]++
		}
	}

	queue := make([]string, 0, len(declared))
	for _, key := range declared {
		if inDegree[key] == 0 {
			queue = append(queue, key)
		}
	}
	order := make([]string, 0, len(declared))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		order = append(order, key)
		for _, child := range d.Nodes[key].Dependents {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	d.TopologicalOrder = order
	return d
}

// Validate reports every definition error: empty or duplicate keys, unknown
// dependency references, and a cycle when the topological order does not
// cover all agents.
func Validate(mappings []model.AgentMapping) []error {
	var errs []error
	keys := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if m.Key == "" {
			errs = append(errs, ErrEmptyKey)
			continue
		}
		if m.Phase == "" {
			errs = append(errs, &AgentError{Agent: m.Key, Err: ErrEmptyPhase})
		}
		if keys[m.Key] {
			errs = append(errs, &AgentError{Agent: m.Key, Err: ErrDuplicateAgent})
		}
		keys[m.Key] = true
	}
	for _, m := range mappings {
		for _, dep := range m.DependsOn {
			if !keys[dep] {
				errs = append(errs, &DependencyError{Agent: m.Key, Dependency: dep})
			}
		}
	}

	d := Build(mappings)
	if !d.Acyclic() {
		placed := make(map[string]bool, len(d.TopologicalOrder))
		for _, key := range d.TopologicalOrder {
			placed[key] = true
		}
		unplaced := make([]string, 0, len(d.Nodes)-len(d.TopologicalOrder))
		for key := range d.Nodes {
			if !placed[key] {
				unplaced = append(unplaced, key)
			}
		}
		sort.Strings(unplaced)
		errs = append(errs, &CycleError{
			Unplaced: unplaced,
			Ordered:  len(d.TopologicalOrder),
			Total:    len(d.Nodes),
		})
	}
	return errs
}
