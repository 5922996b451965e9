package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowgraph/flowgraph-go/flow"
)

func TestRegistry(t *testing.T) {
	t.Run("built-ins are pre-registered", func(t *testing.T) {
		reg := flow.NewRegistry()
		if _, ok := reg.Resolve(flow.NodeAssertion); !ok {
			t.Error("assertion executor missing")
		}
		if _, ok := reg.Resolve(flow.NodeValueSource); !ok {
			t.Error("value-source executor missing")
		}
	})

	t.Run("rejects duplicates and bad input", func(t *testing.T) {
		reg := flow.NewRegistry()
		noop := flow.ExecutorFunc(func(context.Context, flow.Node, flow.RuntimeState) flow.StepResult {
			return flow.Success(nil)
		})

		if err := reg.Register(flow.NodeAction, noop); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		if err := reg.Register(flow.NodeAction, noop); err == nil {
			t.Error("duplicate registration must fail")
		}
		if err := reg.Register("", noop); err == nil {
			t.Error("empty type must fail")
		}
		if err := reg.Register("custom", nil); err == nil {
			t.Error("nil executor must fail")
		}
	})
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	newDispatcher := func(t *testing.T, exec flow.Executor) *flow.Dispatcher {
		t.Helper()
		reg := flow.NewRegistry()
		if err := reg.Register(flow.NodeAction, exec); err != nil {
			t.Fatal(err)
		}
		return flow.NewDispatcher(reg)
	}

	t.Run("bypassed node succeeds without executing", func(t *testing.T) {
		called := false
		d := newDispatcher(t, flow.ExecutorFunc(func(context.Context, flow.Node, flow.RuntimeState) flow.StepResult {
			called = true
			return flow.Success(nil)
		}))

		res := d.Dispatch(ctx, flow.Node{ID: "skip", Type: flow.NodeAction, Bypass: true}, flow.NewMemoryRuntime(nil))
		if res.Status != flow.StatusSuccess || !res.Bypassed {
			t.Errorf("got status=%s bypassed=%v, want success bypass marker", res.Status, res.Bypassed)
		}
		if called {
			t.Error("bypassed node must not execute")
		}
		if res.Attempts != 0 {
			t.Errorf("got %d attempts, want 0", res.Attempts)
		}
	})

	t.Run("unregistered type is fatal", func(t *testing.T) {
		d := flow.NewDispatcher(flow.NewRegistry())
		res := d.Dispatch(ctx, flow.Node{ID: "x", Type: "teleport"}, flow.NewMemoryRuntime(nil))
		if res.Status != flow.StatusFailure {
			t.Fatal("expected failure")
		}
		var fatal *flow.FatalRunError
		if !errors.As(res.Err, &fatal) {
			t.Errorf("expected FatalRunError, got %T", res.Err)
		}
	})

	t.Run("side effects commit on success", func(t *testing.T) {
		d := newDispatcher(t, flow.ExecutorFunc(func(_ context.Context, _ flow.Node, rs flow.RuntimeState) flow.StepResult {
			rs.SetVariable("written", true)
			return flow.Success(nil)
		}))

		rt := flow.NewMemoryRuntime(nil)
		res := d.Dispatch(ctx, flow.Node{ID: "w", Type: flow.NodeAction}, rt)
		if !res.SideEffectsApplied {
			t.Error("expected side effects applied")
		}
		if v, _ := rt.GetVariable("written"); v != true {
			t.Error("write did not reach shared state")
		}
	})

	t.Run("side effects discard on failure", func(t *testing.T) {
		d := newDispatcher(t, flow.ExecutorFunc(func(_ context.Context, _ flow.Node, rs flow.RuntimeState) flow.StepResult {
			rs.SetVariable("leak", true)
			return flow.Fail(errors.New("broke after writing"))
		}))

		rt := flow.NewMemoryRuntime(nil)
		res := d.Dispatch(ctx, flow.Node{ID: "w", Type: flow.NodeAction}, rt)
		if res.SideEffectsApplied {
			t.Error("failed step must not commit")
		}
		if _, ok := rt.GetVariable("leak"); ok {
			t.Error("failed attempt's write leaked into shared state")
		}
	})

	t.Run("only the final attempt's writes commit", func(t *testing.T) {
		attempts := 0
		d := newDispatcher(t, flow.ExecutorFunc(func(_ context.Context, _ flow.Node, rs flow.RuntimeState) flow.StepResult {
			attempts++
			rs.SetVariable("attempt", attempts)
			if attempts < 3 {
				return flow.Fail(errors.New("flaky"))
			}
			return flow.Success(nil)
		}))

		rt := flow.NewMemoryRuntime(nil)
		node := flow.Node{
			ID:    "retry-me",
			Type:  flow.NodeAction,
			Retry: &flow.RetryPolicy{Strategy: flow.StrategyCount, Count: 5},
		}
		res := d.Dispatch(ctx, node, rt)
		if res.Status != flow.StatusSuccess {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if res.Attempts != 3 {
			t.Errorf("got %d attempts, want 3", res.Attempts)
		}
		if v, _ := rt.GetVariable("attempt"); v != 3 {
			t.Errorf("committed attempt=%v, want 3 (only the final overlay)", v)
		}
	})

	t.Run("fail-silently marks soft", func(t *testing.T) {
		d := newDispatcher(t, flow.ExecutorFunc(func(context.Context, flow.Node, flow.RuntimeState) flow.StepResult {
			return flow.Fail(errors.New("optional step broke"))
		}))

		res := d.Dispatch(ctx, flow.Node{ID: "soft", Type: flow.NodeAction, FailSilently: true}, flow.NewMemoryRuntime(nil))
		if res.Status != flow.StatusFailure || !res.Soft {
			t.Errorf("got status=%s soft=%v, want soft failure", res.Status, res.Soft)
		}
	})

	t.Run("fatal errors are never softened", func(t *testing.T) {
		d := newDispatcher(t, flow.ExecutorFunc(func(context.Context, flow.Node, flow.RuntimeState) flow.StepResult {
			return flow.Fail(&flow.FatalRunError{NodeID: "soft", Message: "bad config"})
		}))

		res := d.Dispatch(ctx, flow.Node{ID: "soft", Type: flow.NodeAction, FailSilently: true}, flow.NewMemoryRuntime(nil))
		if res.Soft {
			t.Error("fatal error must not be converted to a soft failure")
		}
	})

	t.Run("node timeout yields TimeoutFailure", func(t *testing.T) {
		d := newDispatcher(t, flow.ExecutorFunc(func(ctx context.Context, _ flow.Node, _ flow.RuntimeState) flow.StepResult {
			<-ctx.Done()
			return flow.Fail(ctx.Err())
		}))

		node := flow.Node{ID: "slow", Type: flow.NodeAction, Timeout: 20 * time.Millisecond}
		res := d.Dispatch(ctx, node, flow.NewMemoryRuntime(nil))
		var timeout *flow.TimeoutFailure
		if !errors.As(res.Err, &timeout) {
			t.Fatalf("expected TimeoutFailure, got %T (%v)", res.Err, res.Err)
		}
		if timeout.Op != "step" {
			t.Errorf("got op %q, want step", timeout.Op)
		}
	})
}

func TestAssertExecutor(t *testing.T) {
	ctx := context.Background()
	d := flow.NewDispatcher(flow.NewRegistry())

	t.Run("passing assertion succeeds", func(t *testing.T) {
		rt := flow.NewMemoryRuntime(nil)
		rt.SetVariable("total", 6)
		node := flow.Node{
			ID:   "check",
			Type: flow.NodeAssertion,
			Config: flow.AssertConfig{Condition: flow.Condition{
				Type: flow.CondVariableComparison, Variable: "total", Operator: flow.OpEquals, Expected: "6",
			}},
		}
		if res := d.Dispatch(ctx, node, rt); res.Status != flow.StatusSuccess {
			t.Errorf("expected success, got %v", res.Err)
		}
	})

	t.Run("failing assertion carries details", func(t *testing.T) {
		rt := flow.NewMemoryRuntime(nil)
		rt.SetVariable("total", 5)
		node := flow.Node{
			ID:   "check",
			Type: flow.NodeAssertion,
			Config: flow.AssertConfig{Condition: flow.Condition{
				Type: flow.CondVariableComparison, Variable: "total", Operator: flow.OpEquals, Expected: "6",
			}},
		}
		res := d.Dispatch(ctx, node, rt)
		if res.Status != flow.StatusFailure {
			t.Fatal("expected failure")
		}
		var sf *flow.StepFailure
		if !errors.As(res.Err, &sf) {
			t.Fatalf("expected StepFailure, got %T", res.Err)
		}
		if res.DebugSnapshot == nil {
			t.Error("expected evaluation details in the debug snapshot")
		}
	})

	t.Run("wrong config type is fatal", func(t *testing.T) {
		node := flow.Node{ID: "check", Type: flow.NodeAssertion, Config: "not a config"}
		res := d.Dispatch(ctx, node, flow.NewMemoryRuntime(nil))
		var fatal *flow.FatalRunError
		if !errors.As(res.Err, &fatal) {
			t.Errorf("expected FatalRunError, got %T", res.Err)
		}
	})
}

func TestValueSourceExecutor(t *testing.T) {
	ctx := context.Background()
	d := flow.NewDispatcher(flow.NewRegistry())

	t.Run("stores a literal", func(t *testing.T) {
		rt := flow.NewMemoryRuntime(nil)
		node := flow.Node{
			ID:     "seed",
			Type:   flow.NodeValueSource,
			Config: flow.ValueConfig{Variable: "greeting", Value: "hello"},
		}
		if res := d.Dispatch(ctx, node, rt); res.Status != flow.StatusSuccess {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if v, _ := rt.GetVariable("greeting"); v != "hello" {
			t.Errorf("got %v, want hello", v)
		}
	})

	t.Run("computes an expression", func(t *testing.T) {
		rt := flow.NewMemoryRuntime(nil)
		rt.SetVariable("base", 40)
		node := flow.Node{
			ID:     "calc",
			Type:   flow.NodeValueSource,
			Config: flow.ValueConfig{Variable: "answer", Expression: `getVariable("base") + 2`},
		}
		if res := d.Dispatch(ctx, node, rt); res.Status != flow.StatusSuccess {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if v, _ := rt.GetVariable("answer"); v != 42 {
			t.Errorf("got %v, want 42", v)
		}
	})

	t.Run("missing variable name fails", func(t *testing.T) {
		node := flow.Node{ID: "bad", Type: flow.NodeValueSource, Config: flow.ValueConfig{Value: 1}}
		if res := d.Dispatch(ctx, node, flow.NewMemoryRuntime(nil)); res.Status != flow.StatusFailure {
			t.Error("expected failure without a variable name")
		}
	})
}
