package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergeforge/resolve/internal/resilience"
)

func TestWithTimeoutReturnsErrTimeoutOnDeadline(t *testing.T) {
	err := resilience.WithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, resilience.ErrTimeout)
}

func TestWithTimeoutPassesThroughFastSuccess(t *testing.T) {
	err := resilience.WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWithRetryStopsOnSuccess(t *testing.T) {
	attempts := 0
	err := resilience.WithRetry(context.Background(), resilience.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryRespectsRetryablePredicate(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := resilience.WithRetry(context.Background(), resilience.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(ctx context.Context) error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	transient := errors.New("transient")
	attempts := 0
	err := resilience.WithRetry(context.Background(), resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return transient
	})
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, attempts)
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 2, OpenDuration: time.Hour})
	failing := errors.New("boom")
	for range 2 {
		err := b.Call(context.Background(), func(ctx context.Context) error { return failing })
		assert.ErrorIs(t, err, failing)
	}
	assert.Equal(t, resilience.Open, b.State())

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
}

func TestCircuitBreakerHalfOpenRecoversToClosedOnSuccess(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond, HalfOpenSuccesses: 1})
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	assert.Equal(t, resilience.Open, b.State())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, resilience.HalfOpen, b.State())

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, resilience.Closed, b.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 1, OpenDuration: 5 * time.Millisecond})
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, resilience.HalfOpen, b.State())

	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom again") })
	assert.Equal(t, resilience.Open, b.State())
}

func TestRegistryReusesBreakerPerName(t *testing.T) {
	r := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour})
	b1 := r.Get("svc-a")
	b2 := r.Get("svc-a")
	assert.Same(t, b1, b2)

	_ = b1.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	states := r.States()
	assert.Equal(t, resilience.Open, states["svc-a"])
}

func TestParallelComposeReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := resilience.ParallelCompose(context.Background(), 0,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	)
	assert.ErrorIs(t, err, boom)
}

func TestCircuitBreakerServiceUnavailableErrorCarriesResetAt(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour})
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	var sue *resilience.ServiceUnavailableError
	require.ErrorAs(t, err, &sue)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sue.ResetAt, 5*time.Second)
	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
}

func TestCircuitBreakerFailureWindowDecaysOldFailures(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 2,
		OpenDuration:      time.Hour,
		FailureWindow:     20 * time.Millisecond,
	})
	boom := errors.New("boom")
	_ = b.Call(context.Background(), func(ctx context.Context) error { return boom })
	time.Sleep(30 * time.Millisecond)
	// first failure aged out of the window, so this single failure shouldn't trip it
	_ = b.Call(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, resilience.Closed, b.State())
}

func TestCircuitBreakerIsFailurePredicateIgnoresClassifiedSuccesses(t *testing.T) {
	notFound := errors.New("not found")
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 1,
		OpenDuration:      time.Hour,
		IsFailure:         func(err error) bool { return err != nil && !errors.Is(err, notFound) },
	})
	err := b.Call(context.Background(), func(ctx context.Context) error { return notFound })
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, resilience.Closed, b.State())
}

func TestCircuitBreakerCallbacksFireOnStateChangeFailureAndSuccess(t *testing.T) {
	var failures, successes int
	var transitions []string
	var mu sync.Mutex
	done := make(chan struct{}, 4)

	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 1,
		OpenDuration:      5 * time.Millisecond,
		OnFailure:         func(err error) { mu.Lock(); failures++; mu.Unlock(); done <- struct{}{} },
		OnSuccess:         func() { mu.Lock(); successes++; mu.Unlock(); done <- struct{}{} },
		OnStateChange: func(from, to resilience.BreakerState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
			done <- struct{}{}
		},
	})

	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	<-done
	<-done

	time.Sleep(10 * time.Millisecond)
	_ = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, successes)
	assert.Contains(t, transitions, "closed->open")
	assert.Contains(t, transitions, "half-open->closed")
}

func TestCircuitBreakerManualTripResetAndForceHalfOpen(t *testing.T) {
	b := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 100, OpenDuration: time.Hour})
	assert.Equal(t, resilience.Closed, b.State())

	b.Trip()
	assert.Equal(t, resilience.Open, b.State())

	b.ForceHalfOpen()
	assert.Equal(t, resilience.HalfOpen, b.State())

	b.Reset()
	assert.Equal(t, resilience.Closed, b.State())
}

func TestRegistryOverrideAppliesOnlyToFreshBreakers(t *testing.T) {
	r := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 100, OpenDuration: time.Hour})
	r.SetOverride("svc-b", resilience.BreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour})

	b := r.Get("svc-b")
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	assert.Equal(t, resilience.Open, b.State())

	assert.Contains(t, r.GetOpenCircuits(), "svc-b")
	r.ResetAll()
	assert.Empty(t, r.GetOpenCircuits())
}

func TestRunComposesTimeoutRetryAndBreaker(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 10, OpenDuration: time.Hour})
	attempts := 0
	err := resilience.Run(context.Background(), resilience.Policy{
		Timeout: 50 * time.Millisecond,
		Retry:   resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Breaker: breaker,
	}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
