package resilience

import (
	"context"
	"time"
)

// Policy bundles the three primitives into the order every plugin call is
// wrapped in: the breaker decides whether to even attempt the call; each
// attempt it allows is retried per Retry; each retry attempt is individually
// bounded by Timeout. That is, breaker ⊃ retry ⊃ timeout.
type Policy struct {
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker *CircuitBreaker // nil disables the breaker layer
}

// Run executes fn through the full composition: breaker(retry(timeout(fn))).
func Run(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempt := func(c context.Context) error {
		return WithTimeout(c, p.Timeout, fn)
	}

	withRetry := func(c context.Context) error {
		return WithRetry(c, p.Retry, attempt)
	}

	if p.Breaker == nil {
		return withRetry(ctx)
	}
	return p.Breaker.Call(ctx, withRetry)
}
