package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for testing and short-lived single-process runs where
// persistence across restarts isn't required. Thread-safe.
type MemStore[S any] struct {
	mu       sync.RWMutex
	steps    map[string][]StepRecord[S]
	archives map[string]S
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps:    make(map[string][]StepRecord[S]),
		archives: make(map[string]S),
	}
}

// SaveStep implements Store.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, seq int, nodeID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[runID] = append(m.steps[runID], StepRecord[S]{Seq: seq, NodeID: nodeID, State: state})
	return nil
}

// LoadLatest implements Store. It returns the record with the highest seq,
// which handles out-of-order saves correctly.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, seq int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.steps[runID]
	if len(records) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}
	latest := records[0]
	for _, record := range records[1:] {
		if record.Seq > latest.Seq {
			latest = record
		}
	}
	return latest.State, latest.Seq, nil
}

// Archive implements Store.
func (m *MemStore[S]) Archive(_ context.Context, runID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[runID] = state
	return nil
}

// LoadArchive implements Store.
func (m *MemStore[S]) LoadArchive(_ context.Context, runID string) (S, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.archives[runID]
	if !ok {
		var zero S
		return zero, ErrNotFound
	}
	return state, nil
}

// DeleteRun implements Store.
func (m *MemStore[S]) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, runID)
	delete(m.archives, runID)
	return nil
}

// Steps returns a copy of the run's snapshot history, ordered as saved.
// Useful for tests and history inspection.
func (m *MemStore[S]) Steps(runID string) []StepRecord[S] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]StepRecord[S](nil), m.steps[runID]...)
}
