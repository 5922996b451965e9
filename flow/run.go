package flow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph/flowgraph-go/flow/emit"
)

// Status is the run lifecycle state.
//
// Transitions: idle -> running -> {paused <-> running} -> {completed |
// errored | stopped}. The three rightmost states are terminal.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusErrored, StatusStopped:
		return true
	}
	return false
}

// PauseReason records why a paused run suspended.
type PauseReason string

const (
	PauseBreakpoint PauseReason = "breakpoint"
	PauseManual     PauseReason = "manual"
)

// BreakpointPhase selects where around a node the run may pause.
type BreakpointPhase string

const (
	BreakPre  BreakpointPhase = "pre"
	BreakPost BreakpointPhase = "post"
	BreakBoth BreakpointPhase = "both"
)

// BreakpointScope selects which nodes qualify for pausing.
type BreakpointScope string

const (
	// BreakAll pauses at every node.
	BreakAll BreakpointScope = "all"

	// BreakMarked pauses only at nodes with BreakpointMarked set.
	BreakMarked BreakpointScope = "marked"
)

// BreakpointConfig is the run-wide breakpoint policy.
type BreakpointConfig struct {
	// Enabled turns breakpoints on. When false the other fields are
	// ignored.
	Enabled bool

	// At selects the pre/post/both phase. Defaults to BreakPre.
	At BreakpointPhase

	// For selects the node scope. Defaults to BreakAll.
	For BreakpointScope
}

func (c BreakpointConfig) qualifies(node *Node, phase BreakpointPhase) bool {
	if !c.Enabled {
		return false
	}
	at := c.At
	if at == "" {
		at = BreakPre
	}
	if at != phase && at != BreakBoth {
		return false
	}
	if c.For == BreakMarked && !node.BreakpointMarked {
		return false
	}
	return true
}

// FailureRecord captures one step failure for display and audit.
type FailureRecord struct {
	// Message is human-readable and requires no further processing.
	Message string `json:"message"`

	// Trace is the executor's ordered log of what happened before the
	// failure.
	Trace []string `json:"trace,omitempty"`

	// DebugSnapshot is the opaque diagnostic payload the executor
	// supplied, if any.
	DebugSnapshot any `json:"debug_snapshot,omitempty"`
}

// RunState is the externally observable state of a run. It is created at
// run start, mutated exclusively by the run's own walk, and archived at
// completion. Monitor callers always receive copies.
type RunState struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// CurrentNodeID is the node the walk is at (or was at when it
	// finished).
	CurrentNodeID string `json:"current_node_id,omitempty"`

	// PausedNodeID is set only while Status is paused.
	PausedNodeID string `json:"paused_node_id,omitempty"`

	// PauseReason is set only while Status is paused.
	PauseReason PauseReason `json:"pause_reason,omitempty"`

	// Failures maps node IDs to their recorded failures, both soft and
	// hard.
	Failures map[string]FailureRecord `json:"failures,omitempty"`

	// VisitedOrder is the audit trail of nodes the walk passed through,
	// in execution order. Bypassed nodes are included.
	VisitedOrder []string `json:"visited_order,omitempty"`
}

// Run executes one traversal of a validated graph from its entry node to a
// terminal state.
//
// A run walks its graph strictly sequentially; concurrency exists only at
// the caller boundary (independent runs, monitoring, Stop/Resume calls).
// The walk observes Stop at the next safe checkpoint between two steps, or
// immediately while paused, so no step is ever left half-applied.
type Run struct {
	id    string
	graph *Graph
	disp  *Dispatcher
	rt    RuntimeState
	opts  runOptions

	mu       sync.Mutex
	state    RunState
	seq      int
	pauseReq bool
	resumeCh chan struct{}
	cancel   context.CancelFunc
	started  bool
	finished bool
	subs     map[int]func(emit.Event)
	nextSub  int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewRun validates the graph and prepares a run over it.
//
// The registry supplies executor capabilities for the graph's node types
// (nil for a registry with only the built-in executors). Validation errors
// are reported before any run starts; a graph that validates with warnings
// is runnable.
func NewRun(graph *Graph, reg *Registry, opts ...Option) (*Run, error) {
	result := Validate(graph)
	if !result.Valid {
		return nil, &FlowError{
			Message: "graph is invalid: " + strings.Join(result.Errors, "; "),
			Code:    "INVALID_GRAPH",
		}
	}
	if reg == nil {
		reg = NewRegistry()
	}

	var options runOptions
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, err
		}
	}
	if options.id == "" {
		options.id = uuid.NewString()
	}
	if options.runtime == nil {
		options.runtime = NewMemoryRuntime(nil)
	}

	return &Run{
		id:    options.id,
		graph: graph,
		disp:  NewDispatcher(reg),
		rt:    options.runtime,
		opts:  options,
		state: RunState{
			RunID:    options.id,
			Status:   StatusIdle,
			Failures: make(map[string]FailureRecord),
		},
		subs:   make(map[int]func(emit.Event)),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// ID returns the run's identifier.
func (r *Run) ID() string {
	return r.id
}

// Runtime returns the run's runtime state.
func (r *Run) Runtime() RuntimeState {
	return r.rt
}

// Start transitions idle -> running and begins walking the graph from the
// entry node in a background goroutine. It returns an error if the run has
// already started or was stopped before starting.
func (r *Run) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.finished {
		r.mu.Unlock()
		return &FlowError{Message: "run already started", Code: "ALREADY_STARTED"}
	}
	r.started = true
	r.state.Status = StatusRunning
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.opts.metrics.RunStarted()
	go r.walk(ctx)
	return nil
}

// Pause requests a manual pause. The walk honors it at the next checkpoint
// between two steps, so the current step always finishes whole. Returns
// ErrNotRunning when the run is not in the running state.
func (r *Run) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status != StatusRunning || r.finished {
		return ErrNotRunning
	}
	r.pauseReq = true
	return nil
}

// Resume transitions paused -> running. Returns ErrNotRunning when the run
// is not paused.
func (r *Run) Resume() error {
	r.mu.Lock()
	if r.state.Status != StatusPaused || r.resumeCh == nil {
		r.mu.Unlock()
		return ErrNotRunning
	}
	ch := r.resumeCh
	r.resumeCh = nil
	nodeID := r.state.PausedNodeID
	r.state.Status = StatusRunning
	r.state.PausedNodeID = ""
	r.state.PauseReason = ""
	r.mu.Unlock()

	close(ch)
	r.emit(emit.Event{RunID: r.id, NodeID: nodeID, Type: emit.TypeResume, Msg: "run resumed"})
	return nil
}

// Stop forces the run to the stopped terminal state. It is safe to call
// from any goroutine at any time, including repeatedly. The walk observes
// the stop at the next checkpoint between steps, or immediately while
// paused; in-flight retry waits are abandoned.
func (r *Run) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		cancel := r.cancel
		started := r.started
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if !started {
			// Never started: there is no walk to observe the stop.
			r.finishWith(StatusStopped, "", "run stopped before start", nil)
		}
	})
}

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run reaches a terminal state or the context is
// done, and returns the final state snapshot.
func (r *Run) Wait(ctx context.Context) (RunState, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of the latest committed run state. Safe to call
// at any rate from any goroutine; it never blocks the walk.
func (r *Run) Snapshot() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() RunState {
	snap := r.state
	snap.VisitedOrder = append([]string(nil), r.state.VisitedOrder...)
	snap.Failures = make(map[string]FailureRecord, len(r.state.Failures))
	for k, v := range r.state.Failures {
		snap.Failures[k] = v
	}
	return snap
}

// subscribe registers a handler for the discrete terminal notifications
// (NODE_ERROR, EXECUTION_COMPLETE, EXECUTION_STOPPED) and returns a token
// for unsubscribe. Handlers run on their own goroutines so observation
// never blocks the walk.
func (r *Run) subscribe(h func(emit.Event)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = h
	return id
}

func (r *Run) unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

func (r *Run) notify(ev emit.Event) {
	if !ev.Type.Notification() {
		return
	}
	r.mu.Lock()
	handlers := make([]func(emit.Event), 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		go h(ev)
	}
}

func (r *Run) emit(ev emit.Event) {
	if r.opts.emitter != nil {
		r.opts.emitter.Emit(ev)
	}
}

func (r *Run) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// walk is the run's single execution goroutine.
func (r *Run) walk(ctx context.Context) {
	node := r.graph.EntryNode()
	loopIdx := make(map[string]int)
	loopItems := make(map[string][]any)
	steps := 0

	for {
		if r.stopRequested() || ctx.Err() != nil {
			r.finishWith(StatusStopped, node.ID, "run stopped", nil)
			return
		}
		steps++
		if r.opts.maxSteps > 0 && steps > r.opts.maxSteps {
			r.failHard(ctx, node.ID, Fail(&FatalRunError{NodeID: node.ID, Message: ErrMaxStepsExceeded.Error()}))
			return
		}

		r.mu.Lock()
		r.state.CurrentNodeID = node.ID
		r.seq++
		seq := r.seq
		r.state.VisitedOrder = append(r.state.VisitedOrder, node.ID)
		r.mu.Unlock()

		r.mu.Lock()
		manual := r.pauseReq
		r.pauseReq = false
		r.mu.Unlock()
		if manual {
			if !r.pause(ctx, node.ID, PauseManual) {
				r.finishWith(StatusStopped, node.ID, "run stopped while paused", nil)
				return
			}
		}

		if r.opts.breakpoints.qualifies(node, BreakPre) {
			if !r.pause(ctx, node.ID, PauseBreakpoint) {
				r.finishWith(StatusStopped, node.ID, "run stopped while paused", nil)
				return
			}
		}

		slot := SlotOutput
		switch node.Type {
		case NodeBranch:
			chosen, res, ok := r.resolveBranch(ctx, node)
			if !ok {
				r.failHard(ctx, node.ID, res)
				return
			}
			slot = chosen
		case NodeLoop:
			chosen, res, ok := r.resolveLoop(ctx, node, loopIdx, loopItems)
			if !ok {
				if res.Soft {
					r.recordFailure(node.ID, res)
					slot = SlotExit
					break
				}
				r.failHard(ctx, node.ID, res)
				return
			}
			slot = chosen
		default:
			if !r.executeStep(ctx, node, seq) {
				return
			}
		}

		if r.opts.breakpoints.qualifies(node, BreakPost) {
			if !r.pause(ctx, node.ID, PauseBreakpoint) {
				r.finishWith(StatusStopped, node.ID, "run stopped while paused", nil)
				return
			}
		}

		if node.Type == NodeTerminalCall {
			r.finishWith(StatusCompleted, node.ID, "run completed", nil)
			return
		}

		edge := r.graph.ControlEdge(node.ID, slot)
		if edge == nil {
			// A matched branch case or a loop body must be wired; the
			// default and exit slots may simply end the graph.
			if slot == SlotOutput || slot == SlotDefault || slot == SlotExit {
				r.finishWith(StatusCompleted, node.ID, "run completed", nil)
				return
			}
			r.failHard(ctx, node.ID, Fail(&FatalRunError{
				NodeID:  node.ID,
				Message: fmt.Sprintf("no control edge wired for slot %q", slot),
			}))
			return
		}
		next := r.graph.NodeByID(edge.To)
		if next == nil {
			r.failHard(ctx, node.ID, Fail(&FatalRunError{
				NodeID:  node.ID,
				Message: fmt.Sprintf("edge %s targets unknown node %q", edge.ID, edge.To),
			}))
			return
		}
		node = next
	}
}

// executeStep dispatches one executor-backed node. Returns false when the
// run finished (hard failure or persistence error).
func (r *Run) executeStep(ctx context.Context, node *Node, seq int) bool {
	r.emit(emit.Event{
		RunID:  r.id,
		Seq:    seq,
		NodeID: node.ID,
		Type:   emit.TypeNodeStart,
		Msg:    "dispatching " + string(node.Type) + " node",
	})

	start := time.Now()
	res := r.disp.Dispatch(ctx, *node, r.rt)
	elapsed := time.Since(start)

	r.opts.metrics.RecordStep(node.Type, res.Status, elapsed)
	r.opts.metrics.RecordRetries(node.ID, res.Attempts-1)

	meta := map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"status":      string(res.Status),
	}
	if res.Bypassed {
		meta["bypassed"] = true
	}
	if res.Attempts > 1 {
		meta["attempts"] = res.Attempts
	}
	if res.Err != nil {
		meta["error"] = res.Err.Error()
	}
	r.emit(emit.Event{RunID: r.id, Seq: seq, NodeID: node.ID, Type: emit.TypeNodeEnd, Msg: "node finished", Meta: meta})

	if res.Status == StatusFailure && !res.Soft {
		r.failHard(ctx, node.ID, res)
		return false
	}
	if res.Soft {
		r.recordFailure(node.ID, res)
	}

	if r.opts.store != nil {
		snap := r.Snapshot()
		if err := r.opts.store.SaveStep(ctx, r.id, seq, node.ID, snap); err != nil {
			r.failHard(ctx, node.ID, Fail(&FatalRunError{
				NodeID:  node.ID,
				Message: "failed to persist snapshot: " + err.Error(),
			}))
			return false
		}
	}
	return true
}

// resolveBranch evaluates the branch's declared cases in order; the first
// passing case wins and evaluation short-circuits. Falls back to the
// default slot when none match. A bypassed branch passes straight through
// to its default edge.
func (r *Run) resolveBranch(ctx context.Context, node *Node) (string, StepResult, bool) {
	if node.Bypass {
		return SlotDefault, StepResult{}, true
	}
	cfg, ok := node.Config.(BranchConfig)
	if !ok {
		return "", Fail(&FatalRunError{NodeID: node.ID, Message: "branch node config is not a BranchConfig"}), false
	}
	for _, c := range cfg.Cases {
		eval := Evaluate(ctx, c.Condition, r.rt)
		if eval.Passed {
			return c.Label, StepResult{}, true
		}
	}
	return SlotDefault, StepResult{}, true
}

// resolveLoop advances the loop's iteration: once per element of the bound
// collection through the body slot, in collection order, then the exit
// slot. Iteration state resets on exit so a re-entered loop restarts.
func (r *Run) resolveLoop(ctx context.Context, node *Node, loopIdx map[string]int, loopItems map[string][]any) (string, StepResult, bool) {
	_ = ctx
	if node.Bypass {
		return SlotExit, StepResult{}, true
	}
	cfg, ok := node.Config.(LoopConfig)
	if !ok {
		return "", Fail(&FatalRunError{NodeID: node.ID, Message: "loop node config is not a LoopConfig"}), false
	}

	items, seen := loopItems[node.ID]
	if !seen {
		resolved, err := r.resolveCollection(cfg)
		if err != nil {
			res := Fail(&StepFailure{NodeID: node.ID, Message: err.Error(), Cause: err})
			res.Soft = node.FailSilently
			return "", res, false
		}
		loopItems[node.ID] = resolved
		items = resolved
	}

	i := loopIdx[node.ID]
	if i < len(items) {
		loopIdx[node.ID] = i + 1
		if cfg.ItemVar != "" {
			r.rt.SetVariable(cfg.ItemVar, items[i])
		}
		if cfg.IndexVar != "" {
			r.rt.SetVariable(cfg.IndexVar, i)
		}
		return SlotBody, StepResult{}, true
	}

	delete(loopIdx, node.ID)
	delete(loopItems, node.ID)
	return SlotExit, StepResult{}, true
}

func (r *Run) resolveCollection(cfg LoopConfig) ([]any, error) {
	if cfg.Items != nil {
		return cfg.Items, nil
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("loop node binds neither items nor a source")
	}
	v, ok := r.rt.GetVariable(cfg.Source)
	if !ok {
		v, ok = r.rt.GetData(cfg.Source)
	}
	if !ok {
		return nil, fmt.Errorf("loop source %q is not set", cfg.Source)
	}
	items, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("loop source %q does not hold a collection", cfg.Source)
	}
	return items, nil
}

// toSlice converts any slice or array value to []any.
func toSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// pause suspends the walk until Resume or Stop. Returns false when the run
// was stopped while paused.
func (r *Run) pause(ctx context.Context, nodeID string, reason PauseReason) bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	ch := make(chan struct{})
	r.resumeCh = ch
	r.state.Status = StatusPaused
	r.state.PausedNodeID = nodeID
	r.state.PauseReason = reason
	r.mu.Unlock()

	r.opts.metrics.RecordPause(reason)
	r.emit(emit.Event{
		RunID:  r.id,
		NodeID: nodeID,
		Type:   emit.TypePause,
		Msg:    "run paused",
		Meta:   map[string]any{"reason": string(reason)},
	})

	select {
	case <-ch:
		return true
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Run) recordFailure(nodeID string, res StepResult) {
	msg := "step failed"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	r.mu.Lock()
	r.state.Failures[nodeID] = FailureRecord{
		Message:       msg,
		Trace:         append([]string(nil), res.Trace...),
		DebugSnapshot: res.DebugSnapshot,
	}
	r.mu.Unlock()
}

// failHard records the failure and transitions the run to errored. A stop
// request outranks the failure: a step interrupted mid-execution or
// mid-retry by Stop reports stopped, with the attempt's staged writes
// already discarded.
func (r *Run) failHard(ctx context.Context, nodeID string, res StepResult) {
	if r.stopRequested() || ctx.Err() != nil {
		r.finishWith(StatusStopped, nodeID, "run stopped", nil)
		return
	}
	r.recordFailure(nodeID, res)
	msg := "step failed"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	r.finishWith(StatusErrored, nodeID, msg, map[string]any{"error": msg})
}

// finishWith commits a terminal transition exactly once: it archives the
// final state, updates metrics, emits the matching discrete event, and
// releases waiters.
func (r *Run) finishWith(status Status, nodeID, msg string, meta map[string]any) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.state.Status = status
	r.state.PausedNodeID = ""
	r.state.PauseReason = ""
	r.resumeCh = nil
	snapshot := r.snapshotLocked()
	started := r.started
	r.mu.Unlock()

	if r.opts.store != nil {
		// The walk context may already be canceled on stop; archiving is
		// best-effort against a fresh context.
		_ = r.opts.store.Archive(context.Background(), r.id, snapshot)
	}
	if started {
		r.opts.metrics.RunFinished(status)
	}

	var evType emit.EventType
	switch status {
	case StatusCompleted:
		evType = emit.TypeExecutionComplete
	case StatusStopped:
		evType = emit.TypeExecutionStopped
	default:
		evType = emit.TypeNodeError
	}
	ev := emit.Event{RunID: r.id, NodeID: nodeID, Type: evType, Msg: msg, Meta: meta}
	r.emit(ev)
	r.notify(ev)
	close(r.done)
}
