package exec

import (
	"context"
	"sync"

	"github.com/flowgraph/flowgraph-go/flow"
)

// MockExecutor is a test implementation of flow.Executor.
//
// It returns a configured sequence of results, tracks call history, and
// supports error injection, so graph traversal and retry behavior can be
// verified without real drivers.
//
// Example:
//
//	mock := &exec.MockExecutor{
//	    Results: []flow.StepResult{
//	        flow.Fail(errors.New("transient")),
//	        flow.Success("ok"),
//	    },
//	}
//	reg := flow.NewRegistry()
//	_ = reg.Register(flow.NodeAction, mock)
type MockExecutor struct {
	// Results is the sequence of results to return, one per call. When
	// consumed, the last result repeats.
	Results []flow.StepResult

	// Err, if set, is returned as a failure on every call instead of a
	// result.
	Err error

	// Stage, if set, runs on each call before the result is chosen.
	// Writes to rs land in the attempt's staged overlay.
	Stage func(call int, rs flow.RuntimeState)

	// Calls is the history of nodes this executor was invoked for.
	Calls []flow.Node

	mu        sync.Mutex
	callIndex int
}

// Execute implements flow.Executor.
func (m *MockExecutor) Execute(ctx context.Context, node flow.Node, rs flow.RuntimeState) flow.StepResult {
	if ctx.Err() != nil {
		return flow.Fail(ctx.Err())
	}

	m.mu.Lock()
	call := len(m.Calls)
	m.Calls = append(m.Calls, node)
	idx := m.callIndex
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	} else {
		m.callIndex++
	}
	stage := m.Stage
	m.mu.Unlock()

	if stage != nil {
		stage(call, rs)
	}
	if m.Err != nil {
		return flow.Fail(m.Err)
	}
	if idx < 0 {
		return flow.Success(nil)
	}
	return m.Results[idx]
}

// Reset clears the call history and restarts the result sequence.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Execute invocations so far.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
