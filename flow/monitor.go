package flow

import (
	"context"
	"time"

	"github.com/flowgraph/flowgraph-go/flow/emit"
)

// Monitor is the observation and control surface over a Run.
//
// Status is exposed two ways: polling (GetStatus, WaitForBreakpoint) reads
// the latest committed snapshot and is the source of truth; subscriptions
// deliver the discrete terminal notifications. Either may be used alone.
type Monitor struct {
	run *Run
}

// NewMonitor wraps a run for observation and control.
func NewMonitor(run *Run) *Monitor {
	return &Monitor{run: run}
}

// GetStatus returns a copy of the run's latest committed state. Callers may
// poll at any rate without slowing the run down; mutating the returned
// value has no effect on the run.
func (m *Monitor) GetStatus() RunState {
	return m.run.Snapshot()
}

// Subscribe registers a handler for the run's discrete notifications
// (NODE_ERROR, EXECUTION_COMPLETE, EXECUTION_STOPPED). The returned token
// cancels the subscription via Unsubscribe. Handlers run on their own
// goroutines.
func (m *Monitor) Subscribe(h func(emit.Event)) int {
	return m.run.subscribe(h)
}

// Unsubscribe cancels a subscription by its token. Unknown tokens are
// ignored.
func (m *Monitor) Unsubscribe(token int) {
	m.run.unsubscribe(token)
}

// Pause requests a manual pause, honored at the walk's next checkpoint.
// Returns ErrNotRunning when the run is not running.
func (m *Monitor) Pause() error {
	return m.run.Pause()
}

// Resume continues a paused run. Returns ErrNotRunning when the run is not
// paused.
func (m *Monitor) Resume() error {
	return m.run.Resume()
}

// Stop forces the run to the stopped terminal state. Safe to call in any
// state, including while paused.
func (m *Monitor) Stop() {
	m.run.Stop()
}

// WaitForBreakpoint blocks until the run pauses, polling the run state at a
// short interval.
//
// It returns the paused state snapshot on success. If the run reaches a
// terminal state first it returns ErrFailedWhileWaiting; if timeout elapses
// first (timeout > 0) it returns ErrWaitTimeout; context cancellation
// returns the context's error. The last observed snapshot accompanies every
// error so callers can report where the run ended up.
func (m *Monitor) WaitForBreakpoint(ctx context.Context, timeout time.Duration) (RunState, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		state := m.run.Snapshot()
		switch {
		case state.Status == StatusPaused:
			return state, nil
		case state.Status.Terminal():
			return state, ErrFailedWhileWaiting
		}

		select {
		case <-tick.C:
		case <-deadline:
			return m.run.Snapshot(), ErrWaitTimeout
		case <-ctx.Done():
			return m.run.Snapshot(), ctx.Err()
		}
	}
}
