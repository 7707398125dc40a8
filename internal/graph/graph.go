// Package graph resolves the inter-service dependency DAG into an ordered
// deployment plan.
//
// Resolution uses Kahn's algorithm with a lexicographic tie-break inside
// each phase, so the phase partition is deterministic for a fixed graph.
// A phase is the maximal set of services whose dependencies are already
// deployed; services in one phase share no edges and may be promoted
// concurrently. The rollback order is the flattened phase sequence
// reversed: dependents roll back before their dependencies, mirroring
// that they were deployed after them.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Node declares one service and the services it depends on.
type Node struct {
	Name      string   `json:"name" yaml:"name"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Plan is the ordered deployment schedule for one release.
type Plan struct {
	// Phases is the ordered partition of participating services. Every
	// dependency of a service in phase k lives in some phase < k.
	Phases [][]string `json:"phases"`

	// RollbackOrder is the flattened phases reversed.
	RollbackOrder []string `json:"rollback_order"`
}

// Flatten returns the phases concatenated in deployment order.
func (p *Plan) Flatten() []string {
	var out []string
	for _, phase := range p.Phases {
		out = append(out, phase...)
	}
	return out
}

// PhaseOf returns the zero-based phase index containing service, or -1.
func (p *Plan) PhaseOf(service string) int {
	for i, phase := range p.Phases {
		for _, s := range phase {
			if s == service {
				return i
			}
		}
	}
	return -1
}

// CycleError reports that the participating subgraph is not a DAG. It
// names the services left over after every acyclic prefix was scheduled.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency among services: %s", strings.Join(e.Remaining, ", "))
}

// Resolve computes the deployment plan for the participating services.
//
// Edges to services outside participating are ignored for ordering: a
// dependency on a service that is not part of this release imposes no
// scheduling constraint (its compatibility is checked separately).
// Participating services without a Node entry are treated as isolated
// nodes and land in phase one.
func Resolve(nodes []Node, participating []string) (*Plan, error) {
	inSet := make(map[string]bool, len(participating))
	for _, name := range participating {
		inSet[name] = true
	}

	// In-degree and dependents restricted to participating services.
	indegree := make(map[string]int, len(participating))
	dependents := make(map[string][]string)
	for _, name := range participating {
		indegree[name] = 0
	}
	for _, n := range nodes {
		if !inSet[n.Name] {
			continue
		}
		for _, dep := range n.DependsOn {
			if !inSet[dep] || dep == n.Name {
				continue
			}
			indegree[n.Name]++
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	plan := &Plan{}
	scheduled := 0
	remaining := len(indegree)

	for remaining > 0 {
		var phase []string
		for name, deg := range indegree {
			if deg == 0 {
				phase = append(phase, name)
			}
		}
		if len(phase) == 0 {
			break // every remaining node waits on another remaining node
		}
		sort.Strings(phase)

		for _, name := range phase {
			delete(indegree, name)
			for _, dep := range dependents[name] {
				if _, ok := indegree[dep]; ok {
					indegree[dep]--
				}
			}
		}

		plan.Phases = append(plan.Phases, phase)
		scheduled += len(phase)
		remaining -= len(phase)
	}

	if scheduled < len(participating) {
		leftover := make([]string, 0, remaining)
		for name := range indegree {
			leftover = append(leftover, name)
		}
		sort.Strings(leftover)
		return nil, &CycleError{Remaining: leftover}
	}

	flat := plan.Flatten()
	plan.RollbackOrder = make([]string, len(flat))
	for i, s := range flat {
		plan.RollbackOrder[len(flat)-1-i] = s
	}

	return plan, nil
}

// ReverseOf returns the given deployment-ordered services reversed. Used
// when rolling back a partially promoted set, whose order is a prefix of
// the full plan rather than the whole plan.
func ReverseOf(deployed []string) []string {
	out := make([]string, len(deployed))
	for i, s := range deployed {
		out[len(deployed)-1-i] = s
	}
	return out
}
