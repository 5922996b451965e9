package flow

import (
	"context"
	"sync"
)

// RuntimeState is the external context holder threaded into every executor
// and evaluator call. The engine never persists it and never reaches it
// through ambient globals; it is supplied fresh per run and each run owns
// its own instance exclusively.
//
// Data and variables are separate namespaces: data holds driver outputs
// (responses, element dumps), variables hold user-facing workflow values.
type RuntimeState interface {
	// GetData returns the driver-output value stored under key.
	GetData(key string) (any, bool)

	// SetData stores a driver-output value under key.
	SetData(key string, value any)

	// GetVariable returns the workflow variable stored under key.
	GetVariable(key string) (any, bool)

	// SetVariable stores a workflow variable under key.
	SetVariable(key string, value any)

	// Session returns the live automation-session handle for browser-backed
	// executors and rendered-page condition evaluation, or nil when the run
	// has no driver session.
	Session() Session
}

// Session is the automation driver's live-session capability. The engine
// only ever needs element-state probes and in-page script evaluation; how a
// click or a navigation is performed stays with the driver.
type Session interface {
	// ElementState resolves a locator and reports the element's state.
	ElementState(ctx context.Context, selector string) (ElementState, error)

	// EvalScript executes a script inside the rendered page and returns
	// its result.
	EvalScript(ctx context.Context, script string) (any, error)
}

// ElementState is a point-in-time snapshot of a located element.
type ElementState struct {
	Present bool
	Visible bool
	Enabled bool
	Text    string
}

// MemoryRuntime is the in-memory RuntimeState implementation.
//
// It is thread-safe so monitoring callers may read while the walk writes,
// but a single instance must never be shared between runs.
type MemoryRuntime struct {
	mu      sync.RWMutex
	data    map[string]any
	vars    map[string]any
	session Session
}

// NewMemoryRuntime creates an empty runtime state with an optional session
// handle (nil for runs without a driver session).
func NewMemoryRuntime(session Session) *MemoryRuntime {
	return &MemoryRuntime{
		data:    make(map[string]any),
		vars:    make(map[string]any),
		session: session,
	}
}

// GetData implements RuntimeState.
func (m *MemoryRuntime) GetData(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// SetData implements RuntimeState.
func (m *MemoryRuntime) SetData(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// GetVariable implements RuntimeState.
func (m *MemoryRuntime) GetVariable(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[key]
	return v, ok
}

// SetVariable implements RuntimeState.
func (m *MemoryRuntime) SetVariable(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[key] = value
}

// Session implements RuntimeState.
func (m *MemoryRuntime) Session() Session {
	return m.session
}

// stagedRuntime overlays pending writes on a base RuntimeState.
//
// The dispatcher hands each executor attempt a fresh overlay so that writes
// from exhausted retry attempts never leak into the run's shared state.
// Only the overlay belonging to the step's final outcome is committed.
type stagedRuntime struct {
	base RuntimeState
	mu   sync.RWMutex
	data map[string]any
	vars map[string]any
}

func newStagedRuntime(base RuntimeState) *stagedRuntime {
	return &stagedRuntime{
		base: base,
		data: make(map[string]any),
		vars: make(map[string]any),
	}
}

func (s *stagedRuntime) GetData(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	return s.base.GetData(key)
}

func (s *stagedRuntime) SetData(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *stagedRuntime) GetVariable(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.vars[key]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	return s.base.GetVariable(key)
}

func (s *stagedRuntime) SetVariable(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key] = value
}

func (s *stagedRuntime) Session() Session {
	return s.base.Session()
}

// commit applies the staged writes to the base state.
func (s *stagedRuntime) commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.data {
		s.base.SetData(k, v)
	}
	for k, v := range s.vars {
		s.base.SetVariable(k, v)
	}
}

// dirty reports whether the overlay holds any pending writes.
func (s *stagedRuntime) dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data) > 0 || len(s.vars) > 0
}
