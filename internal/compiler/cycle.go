package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
)

// LoopWarning describes a loop in a flow graph that the driver can spin
// around without ever stopping for input.
//
// Loops are warnings, not errors, because a condition node inside the loop
// may route out of it once variables change. Without an instruction in the
// loop that can never happen, and the session ends with the step budget
// exhausted.
type LoopWarning struct {
	Path    []ir.ID `json:"path"`    // Loop path: ["a", "b", "a"]
	Message string  `json:"message"` // Human-readable description
}

// AnalyzeLoops finds the strongly connected components of a flow graph
// (connections plus jump→hub transfers) and reports each one containing
// no dialogue, subflow or exit node.
//
// The algorithm:
//  1. Build node → successor graph in declaration order
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each non-interactive SCC with size > 1, or a self-loop
//
// Results follow node declaration order, so output is stable.
func AnalyzeLoops(g *ir.Graph) []LoopWarning {
	nodes := g.Ordered()
	if len(nodes) == 0 {
		return []LoopWarning{}
	}

	graph := buildSuccessorGraph(g)
	order := make(map[ir.ID]int, len(nodes))
	ids := make([]ir.ID, 0, len(nodes))
	for i, n := range nodes {
		order[n.ID] = i
		ids = append(ids, n.ID)
	}

	warnings := []LoopWarning{}
	for _, scc := range tarjanSCC(ids, graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		if containsInteractive(g, scc) {
			continue
		}
		slices.SortFunc(scc, func(a, b ir.ID) int { return order[a] - order[b] })
		warnings = append(warnings, loopWarning(scc, graph))
	}
	slices.SortFunc(warnings, func(a, b LoopWarning) int { return order[a.Path[0]] - order[b.Path[0]] })
	return warnings
}

// successorGraph maps node id → node ids control can move to next.
type successorGraph map[ir.ID][]ir.ID

func buildSuccessorGraph(g *ir.Graph) successorGraph {
	graph := make(successorGraph, len(g.Nodes))
	for _, c := range g.Connections {
		if _, ok := g.Node(c.TargetNodeID); !ok {
			continue
		}
		graph[c.SourceNodeID] = append(graph[c.SourceNodeID], c.TargetNodeID)
	}
	for _, n := range g.Ordered() {
		if d, ok := n.Data.(ir.JumpData); ok {
			if hub, found := g.FindHub(d.TargetHubID); found {
				graph[n.ID] = append(graph[n.ID], hub.ID)
			}
		}
	}
	return graph
}

func containsInteractive(g *ir.Graph, scc []ir.ID) bool {
	for _, id := range scc {
		n, _ := g.Node(id)
		switch n.Type {
		case ir.NodeDialogue, ir.NodeSubflow, ir.NodeExit:
			return true
		}
	}
	return false
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node ir.ID, graph successorGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order.
func tarjanSCC(roots []ir.ID, graph successorGraph) [][]ir.ID {
	var (
		index   = 0
		stack   []ir.ID
		indices = make(map[ir.ID]int)
		lowlink = make(map[ir.ID]int)
		onStack = make(map[ir.ID]bool)
		sccs    [][]ir.ID
	)

	var strongConnect func(ir.ID)
	strongConnect = func(v ir.ID) {
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

		// v is the root of an SCC: pop it
		if lowlink[v] == indices[v] {
			var scc []ir.ID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range roots {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func loopWarning(scc []ir.ID, graph successorGraph) LoopWarning {
	var path []ir.ID
	if len(scc) == 1 {
		path = []ir.ID{scc[0], scc[0]}
	} else {
		path = reconstructLoopPath(scc, graph)
	}
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return LoopWarning{
		Path:    path,
		Message: fmt.Sprintf("loop never waits for input: %s", strings.Join(parts, " -> ")),
	}
}

// reconstructLoopPath walks from the first SCC member along edges inside
// the SCC until it returns to the start.
func reconstructLoopPath(scc []ir.ID, graph successorGraph) []ir.ID {
	members := make(map[ir.ID]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}

	start := scc[0]
	current := start
	path := []ir.ID{current}
	visited := map[ir.ID]bool{}
	for {
		visited[current] = true

		var next ir.ID
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
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
