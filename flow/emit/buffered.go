package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, keyed by
// run ID. It backs tests, debugging sessions, and post-run analysis.
//
// All events stay in memory until cleared; long-lived processes with many
// runs should Clear finished runs or use a persistent backend instead.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter narrows History queries. Empty/nil fields match anything;
// set fields combine with AND.
type HistoryFilter struct {
	// NodeID filters by node.
	NodeID string

	// Type filters by event type.
	Type EventType

	// MinSeq and MaxSeq bound the step range (nil = unbounded).
	MinSeq *int
	MaxSeq *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit records the event in the run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns all recorded events for a run, in emission order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events[runID]...)
}

// HistoryWithFilter returns the run's events matching the filter, in
// emission order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[runID] {
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if filter.MinSeq != nil && ev.Seq < *filter.MinSeq {
			continue
		}
		if filter.MaxSeq != nil && ev.Seq > *filter.MaxSeq {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops the recorded history for a run.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll drops every recorded history.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
