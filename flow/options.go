package flow

import (
	"github.com/flowgraph/flowgraph-go/flow/emit"
	"github.com/flowgraph/flowgraph-go/flow/store"
)

// Option is a functional option for configuring a Run.
//
// Example:
//
//	run, err := flow.NewRun(graph, registry,
//	    flow.WithRuntime(flow.NewMemoryRuntime(session)),
//	    flow.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	    flow.WithBreakpoints(flow.BreakpointConfig{Enabled: true, For: flow.BreakMarked}),
//	    flow.WithMaxSteps(500),
//	)
type Option func(*runOptions) error

type runOptions struct {
	id          string
	runtime     RuntimeState
	emitter     emit.Emitter
	metrics     *Metrics
	store       store.Store[RunState]
	breakpoints BreakpointConfig
	maxSteps    int
}

// WithRunID sets the run's identifier. A random UUID is generated when the
// option is absent.
func WithRunID(id string) Option {
	return func(o *runOptions) error {
		if id == "" {
			return &FlowError{Message: "run ID cannot be empty"}
		}
		o.id = id
		return nil
	}
}

// WithRuntime supplies the run's runtime state (data, variables, session
// handle). Each run must own its own instance; sharing one between
// concurrent runs is not supported. An empty MemoryRuntime is created when
// the option is absent.
func WithRuntime(rs RuntimeState) Option {
	return func(o *runOptions) error {
		if rs == nil {
			return &FlowError{Message: "runtime state cannot be nil"}
		}
		o.runtime = rs
		return nil
	}
}

// WithEmitter attaches an observability emitter. Events are a notification
// channel only; polling the run state remains the source of truth.
func WithEmitter(e emit.Emitter) Option {
	return func(o *runOptions) error {
		o.emitter = e
		return nil
	}
}

// WithMetrics attaches Prometheus collectors for run/step/retry/pause
// accounting.
func WithMetrics(m *Metrics) Option {
	return func(o *runOptions) error {
		o.metrics = m
		return nil
	}
}

// WithStore attaches a persistence backend. Snapshots are saved after each
// step and the terminal state is archived when the run finishes.
func WithStore(s store.Store[RunState]) Option {
	return func(o *runOptions) error {
		o.store = s
		return nil
	}
}

// WithBreakpoints configures breakpoint behavior for the run.
func WithBreakpoints(cfg BreakpointConfig) Option {
	return func(o *runOptions) error {
		o.breakpoints = cfg
		return nil
	}
}

// WithMaxSteps limits the walk to n steps to contain undeclared cycles.
// Zero (the default) means no limit; validated graphs with loop constructs
// are already bounded by their collections.
func WithMaxSteps(n int) Option {
	return func(o *runOptions) error {
		if n < 0 {
			return &FlowError{Message: "max steps cannot be negative"}
		}
		o.maxSteps = n
		return nil
	}
}
