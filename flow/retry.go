package flow

import (
	"context"
	"fmt"
	"time"
)

// RetryStrategy selects how a retry policy decides to stop.
type RetryStrategy string

const (
	// StrategyCount retries a fixed number of times after the initial
	// attempt.
	StrategyCount RetryStrategy = "count"

	// StrategyUntil retries until a condition passes or the policy's own
	// timeout elapses.
	StrategyUntil RetryStrategy = "untilCondition"
)

// DelayStrategy selects how the inter-attempt wait grows.
type DelayStrategy string

const (
	// DelayFixed waits Delay between every pair of attempts.
	DelayFixed DelayStrategy = "fixed"

	// DelayExponential waits Delay * 2^(n-1) before the nth retry, capped
	// at MaxDelay when set.
	DelayExponential DelayStrategy = "exponential"
)

// RetryPolicy wraps a step execution with bounded retry and backoff,
// independent of what is being retried. Policies attach per node; a node
// without one is attempted exactly once.
type RetryPolicy struct {
	// Strategy selects count-based or condition-based termination.
	Strategy RetryStrategy

	// Count is the number of additional attempts after the initial one
	// (count strategy). Count=3 means 4 attempts total.
	Count int

	// Until is evaluated after every attempt (until strategy); the policy
	// stops and reports success once it passes.
	Until *Condition

	// Timeout bounds the until strategy as a whole. Exceeding it yields a
	// TimeoutFailure distinct from the last attempt's own failure.
	Timeout time.Duration

	// Delay is the base inter-attempt wait.
	Delay time.Duration

	// DelayStrategy grows Delay between attempts. Defaults to fixed.
	DelayStrategy DelayStrategy

	// MaxDelay caps exponential growth. Zero means no cap.
	MaxDelay time.Duration
}

// Validate checks the policy configuration:
//   - the strategy must be count or untilCondition
//   - count strategy requires Count >= 0
//   - until strategy requires a condition and a positive timeout
//   - MaxDelay, when set alongside a positive Delay, must be >= Delay
func (p *RetryPolicy) Validate() error {
	switch p.Strategy {
	case StrategyCount:
		if p.Count < 0 {
			return ErrInvalidRetryPolicy
		}
	case StrategyUntil:
		if p.Until == nil || p.Timeout <= 0 {
			return ErrInvalidRetryPolicy
		}
	default:
		return ErrInvalidRetryPolicy
	}
	if p.Delay < 0 {
		return ErrInvalidRetryPolicy
	}
	if p.MaxDelay > 0 && p.Delay > 0 && p.MaxDelay < p.Delay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// backoffDelay computes the wait before the nth retry (1-based).
//
// Fixed strategy always waits Delay. Exponential waits Delay * 2^(n-1),
// capped at MaxDelay: with Delay=100ms and MaxDelay=400ms the successive
// waits are 100, 200, 400, 400, ...
func (p *RetryPolicy) backoffDelay(retry int) time.Duration {
	if p.Delay <= 0 || retry < 1 {
		return 0
	}
	if p.DelayStrategy != DelayExponential {
		return p.Delay
	}
	d := p.Delay
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// sleepCtx waits for d or until the context is done, whichever comes
// first. A canceled context (external stop) abandons the in-flight retry.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runWithPolicy executes attempt under the policy and returns the final
// outcome. The runtime state is consulted only for until-condition
// evaluation; attempts manage their own side-effect staging.
//
// Fatal errors are never retried. When the node is marked fail-silently
// and its first attempt reports a non-retriable executor error, the policy
// does not retry on its own.
func runWithPolicy(ctx context.Context, p *RetryPolicy, node Node, rs RuntimeState, attempt func(context.Context) StepResult) StepResult {
	if err := p.Validate(); err != nil {
		return StepResult{
			Status: StatusFailure,
			Err:    &FatalRunError{NodeID: node.ID, Message: "invalid retry policy: " + err.Error()},
		}
	}

	switch p.Strategy {
	case StrategyUntil:
		return runUntilCondition(ctx, p, node, rs, attempt)
	default:
		return runCountRetries(ctx, p, node, attempt)
	}
}

func runCountRetries(ctx context.Context, p *RetryPolicy, node Node, attempt func(context.Context) StepResult) StepResult {
	res := attempt(ctx)
	for n := 1; n <= p.Count; n++ {
		if res.Status != StatusFailure {
			return res
		}
		if isFatal(res.Err) {
			return res
		}
		if node.FailSilently && n == 1 && isNonRetriable(res.Err) {
			return res
		}
		if err := sleepCtx(ctx, p.backoffDelay(n)); err != nil {
			return res
		}
		res = attempt(ctx)
	}
	return res
}

func runUntilCondition(ctx context.Context, p *RetryPolicy, node Node, rs RuntimeState, attempt func(context.Context) StepResult) StepResult {
	deadline := time.Now().Add(p.Timeout)
	var res StepResult
	for n := 1; ; n++ {
		res = attempt(ctx)
		if isFatal(res.Err) {
			return res
		}

		// The condition is consulted after every attempt, success or
		// failure; passing stops the policy and counts as success.
		eval := Evaluate(ctx, *p.Until, rs)
		if eval.Passed {
			res.Status = StatusSuccess
			res.Err = nil
			res.Trace = append(res.Trace, "until-condition passed: "+eval.Message)
			return res
		}

		if !time.Now().Before(deadline) {
			break
		}
		if err := sleepCtx(ctx, p.backoffDelay(n)); err != nil {
			return res
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	// Report a timeout distinct from the last attempt's own failure so
	// callers can tell "it failed" from "it never resolved".
	trace := append(res.Trace, fmt.Sprintf("until-condition did not pass within %v", p.Timeout))
	return StepResult{
		Status: StatusFailure,
		Output: res.Output,
		Trace:  trace,
		Err:    &TimeoutFailure{NodeID: node.ID, Op: "retry-until", Budget: p.Timeout},
	}
}
