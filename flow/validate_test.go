package flow_test

import (
	"strings"
	"testing"

	"github.com/flowgraph/flowgraph-go/flow"
)

func linearGraph() *flow.Graph {
	return &flow.Graph{
		Nodes: []flow.Node{
			{ID: "a", Type: flow.NodeAction, Entry: true},
			{ID: "b", Type: flow.NodeAction},
			{ID: "c", Type: flow.NodeAction},
		},
		Edges: []flow.Edge{
			{ID: "e1", From: "a", To: "b", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput},
			{ID: "e2", From: "b", To: "c", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid linear graph", func(t *testing.T) {
		res := flow.Validate(linearGraph())
		if !res.Valid {
			t.Fatalf("expected valid, got errors %v", res.Errors)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("unexpected warnings: %v", res.Warnings)
		}
	})

	t.Run("nil and empty graphs", func(t *testing.T) {
		if res := flow.Validate(nil); res.Valid {
			t.Error("nil graph must be invalid")
		}
		if res := flow.Validate(&flow.Graph{}); res.Valid {
			t.Error("empty graph must be invalid")
		}
	})

	t.Run("missing entry node", func(t *testing.T) {
		g := linearGraph()
		g.Nodes[0].Entry = false
		res := flow.Validate(g)
		if res.Valid {
			t.Fatal("expected invalid")
		}
		if !containsError(res.Errors, "no entry node") {
			t.Errorf("errors %v missing entry complaint", res.Errors)
		}
	})

	t.Run("multiple entry nodes", func(t *testing.T) {
		g := linearGraph()
		g.Nodes[1].Entry = true
		if res := flow.Validate(g); res.Valid {
			t.Error("expected invalid")
		}
	})

	t.Run("duplicate node IDs", func(t *testing.T) {
		g := linearGraph()
		g.Nodes[2].ID = "b"
		res := flow.Validate(g)
		if res.Valid {
			t.Fatal("expected invalid")
		}
		if !containsError(res.Errors, "duplicate node ID") {
			t.Errorf("errors %v missing duplicate complaint", res.Errors)
		}
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		g := linearGraph()
		g.Edges[1].To = "ghost"
		res := flow.Validate(g)
		if res.Valid {
			t.Fatal("expected invalid")
		}
		if !containsError(res.Errors, "unknown target node") {
			t.Errorf("errors %v missing unknown-node complaint", res.Errors)
		}
	})

	t.Run("duplicate edge IDs", func(t *testing.T) {
		g := linearGraph()
		g.Edges[1].ID = "e1"
		if res := flow.Validate(g); res.Valid {
			t.Error("expected invalid")
		}
	})

	t.Run("two edges into one target slot", func(t *testing.T) {
		g := linearGraph()
		g.Edges = append(g.Edges, flow.Edge{
			ID: "e3", From: "a", To: "c", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput,
		})
		res := flow.Validate(g)
		if res.Valid {
			t.Fatal("expected invalid")
		}
		if !containsError(res.Errors, "both feed") {
			t.Errorf("errors %v missing duplicate-target complaint", res.Errors)
		}
	})

	t.Run("control edges may converge on a loop node", func(t *testing.T) {
		// A mid-graph loop receives the upstream sequence edge and its
		// body's return edge on the same input slot.
		g := &flow.Graph{
			Nodes: []flow.Node{
				{ID: "seed", Type: flow.NodeAction, Entry: true},
				{ID: "each", Type: flow.NodeLoop, Config: flow.LoopConfig{Items: []any{1, 2}, ItemVar: "n"}},
				{ID: "work", Type: flow.NodeAction},
				{ID: "done", Type: flow.NodeAction},
			},
			Edges: []flow.Edge{
				{ID: "e1", From: "seed", To: "each", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput},
				{ID: "e2", From: "each", To: "work", SourceSlot: flow.SlotBody, TargetSlot: flow.SlotInput},
				{ID: "e3", From: "work", To: "each", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput},
				{ID: "e4", From: "each", To: "done", SourceSlot: flow.SlotExit, TargetSlot: flow.SlotInput},
			},
		}
		res := flow.Validate(g)
		if !res.Valid {
			t.Fatalf("loop convergence must validate, got errors %v", res.Errors)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("unexpected warnings: %v", res.Warnings)
		}
	})

	t.Run("duplicate property input on a loop node still errors", func(t *testing.T) {
		g := linearGraph()
		g.Nodes = append(g.Nodes, flow.Node{ID: "each", Type: flow.NodeLoop, Config: flow.LoopConfig{Source: "items", ItemVar: "n"}})
		g.Edges = append(g.Edges,
			flow.Edge{ID: "p1", From: "b", To: "each", SourceSlot: flow.SlotOutput, TargetSlot: "collection"},
			flow.Edge{ID: "p2", From: "c", To: "each", SourceSlot: flow.SlotOutput, TargetSlot: "collection"},
		)
		res := flow.Validate(g)
		if res.Valid {
			t.Fatal("expected invalid")
		}
		if !containsError(res.Errors, "both feed") {
			t.Errorf("errors %v missing duplicate-target complaint", res.Errors)
		}
	})

	t.Run("unreachable node warns", func(t *testing.T) {
		g := linearGraph()
		g.Nodes = append(g.Nodes, flow.Node{ID: "island", Type: flow.NodeAction})
		res := flow.Validate(g)
		if !res.Valid {
			t.Fatalf("unreachable nodes must not invalidate: %v", res.Errors)
		}
		if !containsError(res.Warnings, "unreachable") {
			t.Errorf("warnings %v missing unreachable complaint", res.Warnings)
		}
	})

	t.Run("undeclared cycle warns", func(t *testing.T) {
		g := linearGraph()
		g.Edges = append(g.Edges, flow.Edge{
			ID: "back", From: "c", To: "a", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput,
		})
		// a already has no inbound control edge, so no duplicate target.
		res := flow.Validate(g)
		if !res.Valid {
			t.Fatalf("cycles must not invalidate: %v", res.Errors)
		}
		if !containsError(res.Warnings, "cycle") {
			t.Errorf("warnings %v missing cycle complaint", res.Warnings)
		}
	})

	t.Run("loop body cycle does not warn", func(t *testing.T) {
		g := &flow.Graph{
			Nodes: []flow.Node{
				{ID: "each", Type: flow.NodeLoop, Entry: true, Config: flow.LoopConfig{Items: []any{1}}},
				{ID: "work", Type: flow.NodeAction},
			},
			Edges: []flow.Edge{
				{ID: "e1", From: "each", To: "work", SourceSlot: flow.SlotBody, TargetSlot: flow.SlotInput},
				{ID: "e2", From: "work", To: "each", SourceSlot: flow.SlotOutput, TargetSlot: flow.SlotInput},
			},
		}
		res := flow.Validate(g)
		if !res.Valid {
			t.Fatalf("expected valid, got %v", res.Errors)
		}
		if containsError(res.Warnings, "cycle") {
			t.Errorf("declared loop cycle must not warn: %v", res.Warnings)
		}
	})

	t.Run("property edges stay out of traversal analysis", func(t *testing.T) {
		g := linearGraph()
		// Data wiring from c back to a would be a cycle if treated as control
		// flow.
		g.Edges = append(g.Edges, flow.Edge{
			ID: "data", From: "c", To: "a", SourceSlot: flow.SlotOutput, TargetSlot: "selector",
		})
		res := flow.Validate(g)
		if !res.Valid {
			t.Fatalf("expected valid, got %v", res.Errors)
		}
		if containsError(res.Warnings, "cycle") {
			t.Errorf("property edge produced a cycle warning: %v", res.Warnings)
		}
	})
}

func containsError(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
