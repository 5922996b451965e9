// Package flow provides the core execution orchestration engine for FlowGraph-Go.
package flow

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRetryPolicy is returned when a RetryPolicy fails validation,
// e.g. a count strategy with a negative count, or an exponential delay
// whose MaxDelay is smaller than Delay.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// ErrMaxStepsExceeded is returned when a run executes more steps than the
// configured ceiling without reaching a terminal node. This guards against
// unbounded structural cycles that slipped past validation as warnings.
var ErrMaxStepsExceeded = errors.New("run exceeded maximum steps limit")

// ErrNotRunning is returned by Resume when the run is not paused, and by
// Start when the run has already started.
var ErrNotRunning = errors.New("run is not in a resumable state")

// ErrFailedWhileWaiting is returned by Monitor.WaitForBreakpoint when the
// run reaches a terminal errored/stopped state before it ever pauses.
var ErrFailedWhileWaiting = errors.New("run reached a terminal state while waiting for breakpoint")

// ErrWaitTimeout is returned by Monitor.WaitForBreakpoint when neither a
// pause nor a terminal state is observed within the caller's budget.
var ErrWaitTimeout = errors.New("timed out waiting for breakpoint")

// FlowError represents a configuration or registry error from engine
// operations (duplicate executor registration, malformed options, ...).
type FlowError struct {
	Message string
	Code    string
}

func (e *FlowError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// StepFailure is an executor-reported failure for a single node.
//
// StepFailures are subject to retry when the node carries a RetryPolicy.
// After retries are exhausted the failure is either converted to a soft
// failure (node.FailSilently) or propagated as a hard failure that halts
// the run.
type StepFailure struct {
	// NodeID identifies the node whose executor failed.
	NodeID string

	// Message is the human-readable failure description.
	Message string

	// Trace is an ordered log of what the executor did before failing,
	// suitable for display without further processing.
	Trace []string

	// DebugSnapshot is an opaque diagnostic payload supplied by the
	// failing executor (screenshot reference, response dump, ...).
	DebugSnapshot any

	// Cause is the underlying error, if any.
	Cause error
}

func (e *StepFailure) Error() string {
	if e.NodeID != "" {
		return "step " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *StepFailure) Unwrap() error {
	return e.Cause
}

// TimeoutFailure reports that a step, condition, or retry policy exceeded
// its caller-configured budget. It is deliberately distinct from a generic
// StepFailure so callers can tell "it failed" from "it never resolved".
type TimeoutFailure struct {
	// NodeID identifies the node whose budget was exceeded (may be empty
	// for policy-level timeouts evaluated outside a node).
	NodeID string

	// Op names the operation that timed out ("step", "retry-until", ...).
	Op string

	// Budget is the configured timeout that elapsed.
	Budget time.Duration
}

func (e *TimeoutFailure) Error() string {
	return fmt.Sprintf("%s timed out after %v (node %s)", e.Op, e.Budget, e.NodeID)
}

// FatalRunError reports an internal invariant violation, e.g. dispatch
// resolving no executor for a node type, or a node config payload that does
// not match its declared type. Fatal errors halt the run immediately and
// are never retried or downgraded to soft failures.
type FatalRunError struct {
	NodeID  string
	Message string
}

func (e *FatalRunError) Error() string {
	if e.NodeID != "" {
		return "fatal: node " + e.NodeID + ": " + e.Message
	}
	return "fatal: " + e.Message
}

// NonRetriable is an optional capability an executor error may implement to
// signal that repeating the attempt cannot succeed (bad selector, malformed
// config). The retry engine consults it before scheduling another attempt.
type NonRetriable interface {
	NonRetriable() bool
}

// isNonRetriable reports whether err (or anything it wraps) declares itself
// non-retriable.
func isNonRetriable(err error) bool {
	var nr NonRetriable
	if errors.As(err, &nr) {
		return nr.NonRetriable()
	}
	return false
}

// isFatal reports whether err (or anything it wraps) is a FatalRunError.
// Fatal errors bypass retry and failSilently handling entirely.
func isFatal(err error) bool {
	var fe *FatalRunError
	return errors.As(err, &fe)
}
