package flow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyValidate(t *testing.T) {
	until := &Condition{Type: CondVariableComparison, Variable: "ready", Operator: OpEquals, Expected: "true"}

	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"count with retries", RetryPolicy{Strategy: StrategyCount, Count: 3}, false},
		{"count zero", RetryPolicy{Strategy: StrategyCount}, false},
		{"negative count", RetryPolicy{Strategy: StrategyCount, Count: -1}, true},
		{"until with timeout", RetryPolicy{Strategy: StrategyUntil, Until: until, Timeout: time.Second}, false},
		{"until without condition", RetryPolicy{Strategy: StrategyUntil, Timeout: time.Second}, true},
		{"until without timeout", RetryPolicy{Strategy: StrategyUntil, Until: until}, true},
		{"unknown strategy", RetryPolicy{Strategy: "forever"}, true},
		{"negative delay", RetryPolicy{Strategy: StrategyCount, Delay: -time.Second}, true},
		{"max below base delay", RetryPolicy{Strategy: StrategyCount, Delay: time.Second, MaxDelay: time.Millisecond}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Run("fixed is constant", func(t *testing.T) {
		p := RetryPolicy{Strategy: StrategyCount, Delay: 250 * time.Millisecond}
		for n := 1; n <= 4; n++ {
			if got := p.backoffDelay(n); got != 250*time.Millisecond {
				t.Errorf("retry %d: got %v, want 250ms", n, got)
			}
		}
	})

	t.Run("exponential doubles and caps", func(t *testing.T) {
		p := RetryPolicy{
			Strategy:      StrategyCount,
			Delay:         100 * time.Millisecond,
			DelayStrategy: DelayExponential,
			MaxDelay:      400 * time.Millisecond,
		}
		want := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			400 * time.Millisecond,
			400 * time.Millisecond,
		}
		for i, w := range want {
			if got := p.backoffDelay(i + 1); got != w {
				t.Errorf("retry %d: got %v, want %v", i+1, got, w)
			}
		}
	})

	t.Run("exponential uncapped", func(t *testing.T) {
		p := RetryPolicy{Strategy: StrategyCount, Delay: time.Millisecond, DelayStrategy: DelayExponential}
		if got := p.backoffDelay(5); got != 16*time.Millisecond {
			t.Errorf("got %v, want 16ms", got)
		}
	})

	t.Run("zero delay never waits", func(t *testing.T) {
		p := RetryPolicy{Strategy: StrategyCount, DelayStrategy: DelayExponential}
		if got := p.backoffDelay(3); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})
}

func TestRunCountRetries(t *testing.T) {
	ctx := context.Background()
	node := Node{ID: "step"}

	t.Run("count three means four attempts", func(t *testing.T) {
		attempts := 0
		res := runWithPolicy(ctx, &RetryPolicy{Strategy: StrategyCount, Count: 3}, node, nil, func(context.Context) StepResult {
			attempts++
			return Fail(errors.New("nope"))
		})
		if attempts != 4 {
			t.Errorf("got %d attempts, want 4", attempts)
		}
		if res.Status != StatusFailure {
			t.Errorf("expected failure, got %s", res.Status)
		}
	})

	t.Run("stops on first success", func(t *testing.T) {
		attempts := 0
		res := runWithPolicy(ctx, &RetryPolicy{Strategy: StrategyCount, Count: 5}, node, nil, func(context.Context) StepResult {
			attempts++
			if attempts == 2 {
				return Success("ok")
			}
			return Fail(errors.New("flaky"))
		})
		if attempts != 2 {
			t.Errorf("got %d attempts, want 2", attempts)
		}
		if res.Status != StatusSuccess {
			t.Errorf("expected success, got %v", res.Err)
		}
	})

	t.Run("fatal error is never retried", func(t *testing.T) {
		attempts := 0
		res := runWithPolicy(ctx, &RetryPolicy{Strategy: StrategyCount, Count: 5}, node, nil, func(context.Context) StepResult {
			attempts++
			return Fail(&FatalRunError{NodeID: "step", Message: "corrupt graph"})
		})
		if attempts != 1 {
			t.Errorf("got %d attempts, want 1", attempts)
		}
		if !isFatal(res.Err) {
			t.Errorf("expected fatal error, got %v", res.Err)
		}
	})

	t.Run("fail-silently skips retries for non-retriable errors", func(t *testing.T) {
		silent := Node{ID: "step", FailSilently: true}
		attempts := 0
		res := runWithPolicy(ctx, &RetryPolicy{Strategy: StrategyCount, Count: 5}, silent, nil, func(context.Context) StepResult {
			attempts++
			return Fail(nonRetriableErr{})
		})
		if attempts != 1 {
			t.Errorf("got %d attempts, want 1", attempts)
		}
		if res.Status != StatusFailure {
			t.Errorf("expected failure, got %s", res.Status)
		}
	})

	t.Run("invalid policy is a fatal failure", func(t *testing.T) {
		res := runWithPolicy(ctx, &RetryPolicy{Strategy: "forever"}, node, nil, func(context.Context) StepResult {
			t.Fatal("attempt must not run under an invalid policy")
			return StepResult{}
		})
		if !isFatal(res.Err) {
			t.Errorf("expected FatalRunError, got %v", res.Err)
		}
	})

	t.Run("canceled context returns last failure", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		attempts := 0
		res := runWithPolicy(cctx, &RetryPolicy{Strategy: StrategyCount, Count: 5, Delay: time.Hour}, node, nil, func(context.Context) StepResult {
			attempts++
			cancel()
			return Fail(errors.New("interrupted"))
		})
		if attempts != 1 {
			t.Errorf("got %d attempts, want 1", attempts)
		}
		if res.Status != StatusFailure {
			t.Errorf("expected failure, got %s", res.Status)
		}
	})
}

type nonRetriableErr struct{}

func (nonRetriableErr) Error() string { return "permanent" }

func (nonRetriableErr) NonRetriable() bool { return true }

func TestRunUntilCondition(t *testing.T) {
	ctx := context.Background()
	node := Node{ID: "wait-for-ready"}

	t.Run("passes once the condition holds", func(t *testing.T) {
		rs := NewMemoryRuntime(nil)
		policy := &RetryPolicy{
			Strategy: StrategyUntil,
			Until:    &Condition{Type: CondVariableComparison, Variable: "ready", Operator: OpEquals, Expected: "true"},
			Timeout:  time.Second,
		}

		attempts := 0
		res := runWithPolicy(ctx, policy, node, rs, func(context.Context) StepResult {
			attempts++
			if attempts == 3 {
				rs.SetVariable("ready", "true")
			}
			return Success(nil)
		})
		if res.Status != StatusSuccess {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if attempts != 3 {
			t.Errorf("got %d attempts, want 3", attempts)
		}
	})

	t.Run("condition is checked even after failed attempts", func(t *testing.T) {
		rs := NewMemoryRuntime(nil)
		rs.SetVariable("ready", "true")
		policy := &RetryPolicy{
			Strategy: StrategyUntil,
			Until:    &Condition{Type: CondVariableComparison, Variable: "ready", Operator: OpEquals, Expected: "true"},
			Timeout:  time.Second,
		}

		res := runWithPolicy(ctx, policy, node, rs, func(context.Context) StepResult {
			return Fail(errors.New("attempt failed, state is good anyway"))
		})
		if res.Status != StatusSuccess {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if res.Err != nil {
			t.Errorf("error must be cleared on condition pass, got %v", res.Err)
		}
	})

	t.Run("timeout yields a distinct failure", func(t *testing.T) {
		rs := NewMemoryRuntime(nil)
		policy := &RetryPolicy{
			Strategy: StrategyUntil,
			Until:    &Condition{Type: CondVariableComparison, Variable: "ready", Operator: OpEquals, Expected: "true"},
			Timeout:  30 * time.Millisecond,
			Delay:    10 * time.Millisecond,
		}

		res := runWithPolicy(ctx, policy, node, rs, func(context.Context) StepResult {
			return Fail(errors.New("still not ready"))
		})
		if res.Status != StatusFailure {
			t.Fatal("expected failure")
		}
		var timeout *TimeoutFailure
		if !errors.As(res.Err, &timeout) {
			t.Fatalf("expected TimeoutFailure, got %T (%v)", res.Err, res.Err)
		}
		if timeout.Op != "retry-until" {
			t.Errorf("got op %q, want retry-until", timeout.Op)
		}
	})
}
