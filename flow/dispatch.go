package flow

import (
	"context"
	"fmt"
	"sync"
)

// StepStatus is the final outcome class of a dispatched step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailure StepStatus = "failure"
)

// StepResult is what an executor (or the dispatcher on its behalf) reports
// for a single node.
type StepResult struct {
	// Status is the outcome class.
	Status StepStatus

	// Output is the executor's result payload, if any.
	Output any

	// Trace is an ordered log of what the executor did, carried into the
	// FailureRecord on failure.
	Trace []string

	// DebugSnapshot is an opaque diagnostic payload for failures.
	DebugSnapshot any

	// Err carries the failure when Status is StatusFailure.
	Err error

	// Bypassed marks the pass-through result of a bypassed node. Bypassed
	// steps are never executed and apply no side effects.
	Bypassed bool

	// Soft marks a failure converted by the node's FailSilently flag: the
	// run continues as though the step succeeded, but the failure is
	// recorded in RunState.Failures.
	Soft bool

	// SideEffectsApplied reports whether the step's staged writes were
	// committed to the run's shared state.
	SideEffectsApplied bool

	// Attempts is the total number of executor attempts consumed,
	// including the initial one. Zero for bypassed nodes.
	Attempts int
}

// Success builds a successful StepResult with the given output.
func Success(output any) StepResult {
	return StepResult{Status: StatusSuccess, Output: output}
}

// Fail builds a failed StepResult from err.
func Fail(err error) StepResult {
	return StepResult{Status: StatusFailure, Err: err}
}

// Executor is the capability an external driver implements to make a node
// type runnable. New node types are added by registering a new executor,
// not by modifying the dispatcher.
//
// Executors receive the node (for its typed config and flags) and the
// runtime state. Writes to the runtime state are staged by the dispatcher
// and committed only once the step's final post-retry outcome is known.
type Executor interface {
	Execute(ctx context.Context, node Node, rs RuntimeState) StepResult
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, node Node, rs RuntimeState) StepResult

// Execute implements the Executor interface for ExecutorFunc.
func (f ExecutorFunc) Execute(ctx context.Context, node Node, rs RuntimeState) StepResult {
	return f(ctx, node, rs)
}

// Registry maps node types to executor capabilities. Built-in types
// (assertion, value-source) and externally registered driver types share
// the same lookup path.
type Registry struct {
	mu    sync.RWMutex
	execs map[NodeType]Executor
}

// NewRegistry creates a registry pre-populated with the built-in assertion
// and value-source executors. Register driver-backed types (action,
// terminal-call, ...) on top.
func NewRegistry() *Registry {
	r := &Registry{execs: make(map[NodeType]Executor)}
	r.execs[NodeAssertion] = ExecutorFunc(assertExecutor)
	r.execs[NodeValueSource] = ExecutorFunc(valueSourceExecutor)
	return r
}

// Register adds an executor for a node type.
//
// Returns an error if the type is empty, the executor is nil, or the type
// is already registered.
func (r *Registry) Register(t NodeType, e Executor) error {
	if t == "" {
		return &FlowError{Message: "node type cannot be empty"}
	}
	if e == nil {
		return &FlowError{Message: "executor cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.execs[t]; exists {
		return &FlowError{
			Message: "duplicate executor for node type: " + string(t),
			Code:    "DUPLICATE_EXECUTOR",
		}
	}
	r.execs[t] = e
	return nil
}

// Resolve returns the executor for a node type.
func (r *Registry) Resolve(t NodeType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.execs[t]
	return e, ok
}

// assertExecutor is the built-in executor for NodeAssertion: it verifies
// the configured condition and fails the step when it does not pass.
func assertExecutor(ctx context.Context, node Node, rs RuntimeState) StepResult {
	cfg, ok := node.Config.(AssertConfig)
	if !ok {
		return Fail(&FatalRunError{NodeID: node.ID, Message: "assertion node config is not an AssertConfig"})
	}

	eval := Evaluate(ctx, cfg.Condition, rs)
	if !eval.Passed {
		return StepResult{
			Status:        StatusFailure,
			Trace:         []string{"assertion evaluated: " + eval.Message},
			DebugSnapshot: eval.Details,
			Err: &StepFailure{
				NodeID:        node.ID,
				Message:       "assertion failed: " + eval.Message,
				DebugSnapshot: eval.Details,
			},
		}
	}
	return StepResult{
		Status: StatusSuccess,
		Output: eval.Details,
		Trace:  []string{"assertion passed: " + eval.Message},
	}
}

// valueSourceExecutor is the built-in executor for NodeValueSource: it
// stores a literal or computed value into runtime variables.
func valueSourceExecutor(_ context.Context, node Node, rs RuntimeState) StepResult {
	cfg, ok := node.Config.(ValueConfig)
	if !ok {
		return Fail(&FatalRunError{NodeID: node.ID, Message: "value-source node config is not a ValueConfig"})
	}
	if cfg.Variable == "" {
		return Fail(&StepFailure{NodeID: node.ID, Message: "value-source node is missing a variable name"})
	}

	value := cfg.Value
	if cfg.Expression != "" {
		computed, err := evalAutomationScript(cfg.Expression, rs)
		if err != nil {
			return Fail(&StepFailure{
				NodeID:  node.ID,
				Message: fmt.Sprintf("value expression failed: %v", err),
				Cause:   err,
			})
		}
		value = computed
	}

	rs.SetVariable(cfg.Variable, value)
	return Success(value)
}

// Dispatcher resolves a node's type to its executor and applies bypass,
// per-step timeouts, retry wrapping, side-effect staging, and the
// fail-silently policy.
type Dispatcher struct {
	reg *Registry
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Dispatch executes a single node to its final outcome.
//
// Algorithm:
//  1. a bypassed node returns success immediately, with a pass-through
//     marker and no side effects
//  2. the node type resolves to a registered executor; failure to resolve
//     is a FatalRunError
//  3. the executor runs under the node's retry policy, if any; each
//     attempt writes into a fresh staged overlay of the runtime state
//  4. staged writes commit only after the final post-retry outcome is
//     known, so exhausted attempts never leak partial writes
//  5. failures on fail-silently nodes are marked soft; fatal errors are
//     never softened
func (d *Dispatcher) Dispatch(ctx context.Context, node Node, rs RuntimeState) StepResult {
	if node.Bypass {
		return StepResult{
			Status:   StatusSuccess,
			Bypassed: true,
			Trace:    []string{"node bypassed"},
		}
	}

	exec, ok := d.reg.Resolve(node.Type)
	if !ok {
		return Fail(&FatalRunError{
			NodeID:  node.ID,
			Message: fmt.Sprintf("no executor registered for node type %q", node.Type),
		})
	}

	var (
		latest   *stagedRuntime
		attempts int
	)
	attempt := func(ctx context.Context) StepResult {
		attempts++
		staged := newStagedRuntime(rs)
		latest = staged
		return d.invoke(ctx, exec, node, staged)
	}

	var res StepResult
	if node.Retry != nil {
		// Until-conditions observe the latest attempt's pending writes
		// without committing them.
		view := pendingView{base: rs, latest: func() *stagedRuntime { return latest }}
		res = runWithPolicy(ctx, node.Retry, node, view, attempt)
	} else {
		res = attempt(ctx)
	}

	res.Attempts = attempts

	if res.Status == StatusSuccess {
		if latest != nil && latest.dirty() {
			latest.commit()
			res.SideEffectsApplied = true
		}
		return res
	}

	if !isFatal(res.Err) && node.FailSilently {
		res.Soft = true
	}
	return res
}

// invoke runs one executor attempt, enforcing the node's own timeout.
func (d *Dispatcher) invoke(ctx context.Context, exec Executor, node Node, rs RuntimeState) StepResult {
	if node.Timeout <= 0 {
		return normalize(node, exec.Execute(ctx, node, rs))
	}

	tctx, cancel := context.WithTimeout(ctx, node.Timeout)
	defer cancel()

	res := exec.Execute(tctx, node, rs)
	if tctx.Err() == context.DeadlineExceeded {
		return StepResult{
			Status: StatusFailure,
			Trace:  res.Trace,
			Err:    &TimeoutFailure{NodeID: node.ID, Op: "step", Budget: node.Timeout},
		}
	}
	return normalize(node, res)
}

// normalize reconciles an executor result's Status and Err so downstream
// policy code can rely on either alone.
func normalize(node Node, res StepResult) StepResult {
	if res.Err != nil && res.Status != StatusFailure {
		res.Status = StatusFailure
	}
	if res.Status == StatusFailure && res.Err == nil {
		res.Err = &StepFailure{NodeID: node.ID, Message: "executor reported failure"}
	}
	return res
}

// pendingView reads through the latest attempt's staged overlay when one
// exists, falling back to the shared run state.
type pendingView struct {
	base   RuntimeState
	latest func() *stagedRuntime
}

func (v pendingView) current() RuntimeState {
	if s := v.latest(); s != nil {
		return s
	}
	return v.base
}

func (v pendingView) GetData(key string) (any, bool) { return v.current().GetData(key) }

func (v pendingView) SetData(key string, value any) { v.current().SetData(key, value) }

func (v pendingView) GetVariable(key string) (any, bool) { return v.current().GetVariable(key) }

func (v pendingView) SetVariable(key string, value any) { v.current().SetVariable(key, value) }

func (v pendingView) Session() Session { return v.base.Session() }
