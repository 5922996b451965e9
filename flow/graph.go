package flow

import "time"

// NodeType tags a node with the kind of work it performs. The engine
// resolves most types to a registered executor capability; NodeBranch and
// NodeLoop are control-flow types resolved by the run-state machine itself.
type NodeType string

const (
	// NodeAction is a driver-backed unit of work (browser action, database
	// operation, ...). Executed via a registered executor.
	NodeAction NodeType = "action"

	// NodeBranch evaluates its declared cases in order and routes down the
	// edge labeled with the first matching case, or the default edge.
	NodeBranch NodeType = "branch"

	// NodeLoop re-enters its body edge once per element of a bound
	// collection, in collection order, then proceeds along its exit edge.
	NodeLoop NodeType = "loop"

	// NodeAssertion verifies a condition against runtime state and fails
	// the step when the condition does not pass.
	NodeAssertion NodeType = "assertion"

	// NodeValueSource writes a literal or computed value into runtime
	// variables for downstream steps to consume.
	NodeValueSource NodeType = "value-source"

	// NodeTerminalCall performs a final external call; reaching it with no
	// pending hard failure completes the run.
	NodeTerminalCall NodeType = "terminal-call"
)

// Edge slot names. Control flow runs over the "output"->"input" slot class;
// any other target slot is property-input wiring and never participates in
// graph traversal or cycle analysis.
const (
	// SlotOutput is the default source slot for sequential control flow.
	SlotOutput = "output"

	// SlotInput is the control-flow target slot. An edge is a control-flow
	// edge if and only if its TargetSlot is SlotInput.
	SlotInput = "input"

	// SlotBody is the source slot a loop node follows for each element of
	// its bound collection.
	SlotBody = "body"

	// SlotExit is the source slot a loop node follows after the collection
	// is exhausted.
	SlotExit = "exit"

	// SlotDefault is the source slot a branch node falls back to when no
	// declared case matches.
	SlotDefault = "default"
)

// Node is a typed unit of work in the graph. Nodes are created and edited
// externally; the engine consumes them read-only for the duration of a run.
type Node struct {
	// ID uniquely and stably identifies the node within its graph.
	ID string

	// Type selects the executor capability (or control-flow handling) for
	// this node.
	Type NodeType

	// Config is the payload specific to Type: BranchConfig for NodeBranch,
	// LoopConfig for NodeLoop, AssertConfig for NodeAssertion, ValueConfig
	// for NodeValueSource. Action and terminal-call configs are owned by
	// their executors.
	Config any

	// Entry marks the single node a run starts from. Exactly one node per
	// graph must set it.
	Entry bool

	// Bypass skips the node entirely while treating it as successfully
	// passed through. Bypassed nodes are never executed and never retried.
	Bypass bool

	// FailSilently converts executor failures into soft failures: the run
	// continues along the normal edge and the failure is recorded in
	// RunState.Failures.
	FailSilently bool

	// BreakpointMarked qualifies the node for pausing when the run's
	// breakpoint scope is BreakMarked.
	BreakpointMarked bool

	// Retry, when non-nil, wraps this node's executor invocation in the
	// retry policy engine.
	Retry *RetryPolicy

	// Timeout bounds a single executor attempt. Zero means unlimited.
	Timeout time.Duration
}

// Edge is a directed connection from a source node's named output slot to a
// target node's named input slot.
type Edge struct {
	// ID uniquely identifies the edge within its graph.
	ID string

	// From is the source node ID.
	From string

	// To is the target node ID.
	To string

	// SourceSlot names the output being followed: SlotOutput for plain
	// sequencing, a case label or SlotDefault on branch nodes, SlotBody or
	// SlotExit on loop nodes.
	SourceSlot string

	// TargetSlot is SlotInput for control flow, or a named property-input
	// slot for data wiring.
	TargetSlot string
}

// IsControlFlow reports whether the edge participates in graph traversal.
func (e Edge) IsControlFlow() bool {
	return e.TargetSlot == SlotInput
}

// Graph is the static shape a run walks: a set of uniquely identified nodes
// and an ordered sequence of edges. Graphs must pass Validate before a Run
// is created from them; the engine never re-validates mid-run.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// EntryNode returns the node marked as entry, or nil if there is none.
// Validation guarantees exactly one entry node on any graph a Run accepts.
func (g *Graph) EntryNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Entry {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NodeByID returns the node with the given ID, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// ControlEdge returns the first control-flow edge leaving from with the
// given source slot, or nil. Edge order in the graph is declaration order,
// so "first" is deterministic.
func (g *Graph) ControlEdge(from, sourceSlot string) *Edge {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.From == from && e.SourceSlot == sourceSlot && e.IsControlFlow() {
			return e
		}
	}
	return nil
}

// BranchCase is one declared case of a branch node. Cases are evaluated in
// declaration order; the first passing case wins.
type BranchCase struct {
	// Label names the source slot of the edge to follow when the case
	// condition passes.
	Label string

	// Condition is evaluated against runtime state while the run is in the
	// running state.
	Condition Condition
}

// BranchConfig is the typed payload of a NodeBranch node.
type BranchConfig struct {
	Cases []BranchCase
}

// LoopConfig is the typed payload of a NodeLoop node.
//
// The bound collection is either the Items literal or, when Items is nil,
// the value of the runtime variable (then data key) named by Source.
type LoopConfig struct {
	// Source names the runtime variable or data key holding the collection.
	Source string

	// Items is a literal collection taking precedence over Source.
	Items []any

	// ItemVar, when set, receives the current element before each body
	// iteration.
	ItemVar string

	// IndexVar, when set, receives the zero-based iteration index before
	// each body iteration.
	IndexVar string
}

// AssertConfig is the typed payload of a NodeAssertion node.
type AssertConfig struct {
	Condition Condition
}

// ValueConfig is the typed payload of a NodeValueSource node. Exactly one
// of Value or Expression should be set; Expression is evaluated on the
// automation-context scripting surface.
type ValueConfig struct {
	// Variable names the runtime variable to write.
	Variable string

	// Value is a literal to store.
	Value any

	// Expression, when non-empty, is evaluated and its result stored
	// instead of Value.
	Expression string
}
