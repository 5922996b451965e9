package emit

// EventType classifies an observability event.
//
// The three uppercase types are the discrete notifications delivered to
// monitor subscribers at terminal/error transitions; the lowercase types
// are ambient walk events for logging and tracing backends.
type EventType string

const (
	// TypeNodeStart fires before a node executes.
	TypeNodeStart EventType = "node_start"

	// TypeNodeEnd fires after a node reaches its final outcome.
	TypeNodeEnd EventType = "node_end"

	// TypePause fires when the run suspends at a breakpoint.
	TypePause EventType = "pause"

	// TypeResume fires when a paused run resumes.
	TypeResume EventType = "resume"

	// TypeNodeError fires when a hard step failure transitions the run to
	// errored.
	TypeNodeError EventType = "NODE_ERROR"

	// TypeExecutionComplete fires when the run reaches completed.
	TypeExecutionComplete EventType = "EXECUTION_COMPLETE"

	// TypeExecutionStopped fires when an external stop takes effect.
	TypeExecutionStopped EventType = "EXECUTION_STOPPED"
)

// Notification reports whether the type is one of the discrete events the
// monitor subscription surface delivers.
func (t EventType) Notification() bool {
	switch t {
	case TypeNodeError, TypeExecutionComplete, TypeExecutionStopped:
		return true
	}
	return false
}

// Event is an observability event emitted during a run.
//
// Events are a low-latency notification channel only: polling the run
// state is the source of truth, and a missed event is not a correctness
// problem as long as polling eventually observes the state.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Seq is the sequential step number within the run (1-indexed). Zero
	// for run-level events.
	Seq int

	// NodeID identifies the node involved. Empty for run-level events.
	NodeID string

	// Type classifies the event.
	Type EventType

	// Msg is a human-readable description.
	Msg string

	// Meta carries additional structured data, e.g. "duration_ms",
	// "error", "attempt", "pause_reason".
	Meta map[string]any
}
