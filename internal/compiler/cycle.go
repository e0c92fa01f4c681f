package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/chainer/internal/network"
)

// CycleWarning represents a potential firing cycle between rules.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - Counters that stop on a test condition
//   - Rules that retract what triggered them
//   - Goal chains that bottom out in asserted facts
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on rules.
//
// The algorithm:
//  1. Build a rule -> rule graph: an edge A -> B when A asserts a template
//     that some condition of B matches
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(rules []*network.RuleDef) []CycleWarning {
	warnings := []CycleWarning{}
	if len(rules) == 0 {
		return warnings
	}

	graph := buildDependencyGraph(rules)
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps rule name -> rules its actions could activate.
type dependencyGraph map[string][]string

func buildDependencyGraph(rules []*network.RuleDef) dependencyGraph {
	graph := make(dependencyGraph)

	// template -> rules with a condition on it
	matchers := make(map[string][]string)
	for _, r := range rules {
		seen := make(map[string]bool)
		for _, t := range conditionTemplates(r.Conditions) {
			if !seen[t] {
				seen[t] = true
				matchers[t] = append(matchers[t], r.Name)
			}
		}
	}

	for _, r := range rules {
		if graph[r.Name] == nil {
			graph[r.Name] = []string{}
		}
		for _, a := range r.Actions {
			if a.Kind != network.ActionAssert {
				continue
			}
			for _, target := range matchers[a.Template] {
				if !slices.Contains(graph[r.Name], target) {
					graph[r.Name] = append(graph[r.Name], target)
				}
			}
		}
	}
	return graph
}

func conditionTemplates(conds []network.Condition) []string {
	var out []string
	for _, c := range conds {
		if c.Pattern != nil {
			out = append(out, c.Pattern.Template)
		}
		out = append(out, conditionTemplates(c.Group)...)
	}
	return out
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in name order so results are deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-activating rule detected: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
