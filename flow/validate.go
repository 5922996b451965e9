package flow

import "fmt"

// ValidationResult is the outcome of a static graph check.
//
// Errors make the graph unrunnable; warnings surface suspicious structure
// (unreachable nodes, undeclared cycles) without blocking execution.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate runs the static checks a graph must pass before a Run is created
// from it. Validation runs once, never mid-run.
//
// Checks, in order:
//  1. the graph is not empty and has exactly one entry node
//  2. every node ID is unique and non-empty
//  3. every edge references existing node IDs
//  4. every edge ID is unique
//  5. no two edges feed the same (target, targetSlot) pair; last-wins is
//     not a valid resolution, so duplicates are an error, not an overwrite.
//     Control-flow edges converging on a loop node are exempt: a loop's
//     input slot legitimately receives both the upstream sequence edge and
//     its own body's return edge
//  6. nodes unreachable from the entry node are warned about
//  7. control-flow cycles outside a declared loop construct are warned
//     about; they are executed only under the run's step ceiling
func Validate(g *Graph) ValidationResult {
	res := ValidationResult{}

	if g == nil || len(g.Nodes) == 0 {
		res.errorf("graph has no nodes")
		res.Valid = false
		return res
	}

	// Exactly one entry node.
	entries := 0
	for i := range g.Nodes {
		if g.Nodes[i].Entry {
			entries++
		}
	}
	switch {
	case entries == 0:
		res.errorf("graph has no entry node")
	case entries > 1:
		res.errorf("graph has %d entry nodes, want exactly 1", entries)
	}

	// Unique, non-empty node IDs.
	nodeIDs := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if id == "" {
			res.errorf("node at index %d has an empty ID", i)
			continue
		}
		if nodeIDs[id] {
			res.errorf("duplicate node ID: %s", id)
			continue
		}
		nodeIDs[id] = true
	}

	// Edges reference existing nodes.
	for i := range g.Edges {
		e := &g.Edges[i]
		if !nodeIDs[e.From] {
			res.errorf("edge %s references unknown source node %q", e.ID, e.From)
		}
		if !nodeIDs[e.To] {
			res.errorf("edge %s references unknown target node %q", e.ID, e.To)
		}
	}

	// Unique edge IDs.
	edgeIDs := make(map[string]bool, len(g.Edges))
	for i := range g.Edges {
		id := g.Edges[i].ID
		if id == "" {
			res.errorf("edge at index %d has an empty ID", i)
			continue
		}
		if edgeIDs[id] {
			res.errorf("duplicate edge ID: %s", id)
			continue
		}
		edgeIDs[id] = true
	}

	// At most one edge per (target, targetSlot) pair. Control-flow edges
	// converging on a loop node are the one sanctioned exception: the
	// upstream sequence edge and the loop body's return edge both feed the
	// loop's input slot.
	targets := make(map[string]string, len(g.Edges))
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.IsControlFlow() {
			if tgt := g.NodeByID(e.To); tgt != nil && tgt.Type == NodeLoop {
				continue
			}
		}
		key := e.To + "\x00" + e.TargetSlot
		if prev, dup := targets[key]; dup {
			res.errorf("edges %s and %s both feed (%s, %s)", prev, e.ID, e.To, e.TargetSlot)
			continue
		}
		targets[key] = e.ID
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		// Reachability and cycle analysis assume a structurally sound graph.
		return res
	}

	// Reachability from the entry node over control-flow edges.
	adj := make(map[string][]string)
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.IsControlFlow() {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}

	entry := g.EntryNode()
	reachable := map[string]bool{entry.ID: true}
	stack := []string{entry.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[id] {
			if !reachable[next] {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}
	for i := range g.Nodes {
		if !reachable[g.Nodes[i].ID] {
			res.warnf("node %s is unreachable from the entry node", g.Nodes[i].ID)
		}
	}

	// Cycle detection. Cycles are not inherently invalid: a loop node's
	// body edge deliberately re-enters earlier nodes. Cycles that never
	// pass through a loop node are undeclared and get surfaced, never
	// silently executed. Loop nodes' outgoing edges are excluded so that
	// declared body cycles do not trip the check.
	strict := make(map[string][]string)
	for i := range g.Edges {
		e := &g.Edges[i]
		if !e.IsControlFlow() {
			continue
		}
		if src := g.NodeByID(e.From); src != nil && src.Type == NodeLoop {
			continue
		}
		strict[e.From] = append(strict[e.From], e.To)
	}
	for i := range g.Nodes {
		if selfReachable(g.Nodes[i].ID, strict) {
			res.warnf("node %s is part of a control-flow cycle outside a loop construct", g.Nodes[i].ID)
		}
	}

	return res
}

// selfReachable reports whether following adj from id can return to id.
func selfReachable(id string, adj map[string][]string) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), adj[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == id {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, adj[cur]...)
	}
	return false
}
