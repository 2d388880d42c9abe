// Package resilience provides the timeout, retry, and circuit-breaker
// primitives the service pipeline wraps every plugin invocation in, plus a
// parallel-composition helper for fanning work out across an errgroup.
package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrTimeout is returned when an operation is cancelled by WithTimeout,
// whether by deadline or by external cancellation of ctx.
var ErrTimeout = errors.New("resilience: operation timed out")

// WithTimeout runs fn with a derived context cancelled after d, translating
// context.DeadlineExceeded (and external cancellation of the parent ctx)
// into ErrTimeout so callers don't need to special-case the stdlib
// sentinel. The timer is guaranteed to be released on every exit path.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return ErrTimeout
	}
}

// RetryPolicy configures WithRetry's backoff.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first; 1 means no retry
	BaseDelay   time.Duration
	// BackoffMultiplier scales BaseDelay for each subsequent attempt
	// (delay(n) = BaseDelay * BackoffMultiplier^(n-1)). Defaults to 2 when
	// zero.
	BackoffMultiplier float64
	MaxDelay          time.Duration    // 0 means unbounded growth
	Retryable         func(error) bool // nil means retry every non-nil error
	// OnRetry is invoked after an attempt fails and before the backoff
	// sleep, with the 1-based attempt number that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (p RetryPolicy) isRetryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p RetryPolicy) multiplier() float64 {
	if p.BackoffMultiplier <= 0 {
		return 2
	}
	return p.BackoffMultiplier
}

// delayForAttempt returns the base (pre-jitter) delay before retry attempt
// n (1-based: the delay waited after attempt n fails, before attempt n+1).
func (p RetryPolicy) delayForAttempt(n int) time.Duration {
	d := float64(p.BaseDelay)
	mult := p.multiplier()
	for i := 1; i < n; i++ {
		d *= mult
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// jitter applies multiplicative jitter of +/-20% to base, per
// jitter = base * 0.2 * (rand*2-1), floored at 0.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := 0.2 * (rand.Float64()*2 - 1)
	d := time.Duration(float64(base) * (1 + factor))
	if d < 0 {
		d = 0
	}
	return d
}

// AttemptResult records one attempt's outcome for WithRetryDetailed.
type AttemptResult struct {
	Attempt  int
	Err      error
	Duration time.Duration
	Delay    time.Duration // delay slept after this attempt, before the next (0 for the last)
}

// WithRetry executes fn, retrying with jittered exponential backoff up to
// policy.MaxAttempts times while the error is retryable and ctx is alive.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	_, err := withRetryDetailed(ctx, policy, fn)
	return err
}

// WithRetryDetailed behaves like WithRetry but additionally returns the
// per-attempt duration, error, and delay for observability.
func WithRetryDetailed(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) ([]AttemptResult, error) {
	return withRetryDetailed(ctx, policy, fn)
}

func withRetryDetailed(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) ([]AttemptResult, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var attempts []AttemptResult
	var err error
	for n := 1; n <= policy.MaxAttempts; n++ {
		started := time.Now()
		err = fn(ctx)
		ar := AttemptResult{Attempt: n, Err: err, Duration: time.Since(started)}

		if err == nil || !policy.isRetryable(err) || n == policy.MaxAttempts {
			attempts = append(attempts, ar)
			break
		}

		delay := jitter(policy.delayForAttempt(n))
		ar.Delay = delay
		attempts = append(attempts, ar)

		if policy.OnRetry != nil {
			policy.OnRetry(n, err, delay)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return attempts, ctx.Err()
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
	}
	return attempts, err
}

// ParallelCompose runs fns concurrently over an errgroup bounded by limit
// (0 means unbounded), returning the first error encountered and cancelling
// the shared context for the rest, mirroring a bounded fan-out worker pool.
func ParallelCompose(ctx context.Context, limit int, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
