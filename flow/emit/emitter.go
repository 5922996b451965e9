// Package emit provides observability event types and pluggable emitters
// for run execution.
package emit

// Emitter receives observability events from run execution.
//
// Implementations should be:
//   - Non-blocking: observation must never slow or suspend the walk
//   - Thread-safe: runs may emit concurrently
//   - Resilient: an emitter failure must not crash a run
//
// Emit must not panic; backend errors should be handled internally.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
