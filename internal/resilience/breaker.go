package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrBreakerOpen is returned (wrapped in a *ServiceUnavailableError)
// immediately, without invoking the wrapped call, when the breaker is
// open.
var ErrBreakerOpen = errors.New("resilience: circuit breaker is open")

// ServiceUnavailableError is returned by Call when the breaker is open. It
// carries the time the breaker will next allow a probe call (half-open).
type ServiceUnavailableError struct {
	ResetAt time.Time
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("resilience: circuit breaker open, resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *ServiceUnavailableError) Unwrap() error { return ErrBreakerOpen }

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // failures within FailureWindow (closed) before tripping to Open
	OpenDuration     time.Duration // how long to stay Open before probing with HalfOpen
	HalfOpenSuccesses int          // consecutive HalfOpen successes required to close again
	// FailureWindow bounds how far back failures are counted toward
	// FailureThreshold while Closed. 0 means unbounded (every failure since
	// the last reset/success counts).
	FailureWindow time.Duration
	// IsFailure classifies whether an error returned by the wrapped call
	// counts as a breaker failure. nil means every non-nil error does.
	IsFailure func(error) bool
	// OnStateChange fires on its own goroutine, outside the breaker's
	// critical section; OnFailure and OnSuccess run synchronously while the
	// breaker's lock is held. Each fires after its event, if set.
	OnStateChange func(from, to BreakerState)
	OnFailure     func(err error)
	OnSuccess     func()
}

func (c BreakerConfig) classify(err error) bool {
	if c.IsFailure == nil {
		return err != nil
	}
	return c.IsFailure(err)
}

// CircuitBreaker implements the classic closed -> open -> half-open state
// machine around a downstream call. A Closed breaker counts failures within
// a sliding window of FailureWindow (or all failures since the last
// success/reset, if FailureWindow is 0); reaching FailureThreshold trips it
// to Open for OpenDuration, after which the next call probes in HalfOpen.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	failures []time.Time // failure timestamps within the current Closed window
	halfOK   int
	openedAt time.Time
}

// NewCircuitBreaker constructs a breaker starting Closed.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 1
	}
	return &CircuitBreaker{cfg: cfg, state: Closed}
}

// State returns the breaker's current state, transitioning Open -> HalfOpen
// if OpenDuration has elapsed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbeLocked()
	return b.state
}

// ResetAt returns when an Open breaker will next allow a half-open probe.
// Zero if the breaker isn't Open.
func (b *CircuitBreaker) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return time.Time{}
	}
	return b.openedAt.Add(b.cfg.OpenDuration)
}

func (b *CircuitBreaker) maybeProbeLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		b.transitionLocked(HalfOpen)
		b.halfOK = 0
	}
}

// Call invokes fn, guarded by the breaker's state. Returns a
// *ServiceUnavailableError without invoking fn when the breaker is
// tripped.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	b.maybeProbeLocked()
	if b.state == Open {
		resetAt := b.openedAt.Add(b.cfg.OpenDuration)
		b.mu.Unlock()
		return &ServiceUnavailableError{ResetAt: resetAt}
	}
	b.mu.Unlock()

	err := fn(ctx)
	isFailure := b.cfg.classify(err)

	b.mu.Lock()
	defer b.mu.Unlock()
	if isFailure {
		b.onFailureLocked(err)
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *CircuitBreaker) onFailureLocked(err error) {
	now := time.Now()
	switch b.state {
	case HalfOpen:
		b.tripLocked()
	case Closed:
		b.failures = append(b.failures, now)
		b.failures = pruneWindow(b.failures, now, b.cfg.FailureWindow)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.tripLocked()
		}
	}
	if b.cfg.OnFailure != nil {
		b.cfg.OnFailure(err)
	}
}

func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	if window <= 0 {
		return ts
	}
	cutoff := now.Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (b *CircuitBreaker) onSuccessLocked() {
	switch b.state {
	case HalfOpen:
		b.halfOK++
		if b.halfOK >= b.cfg.HalfOpenSuccesses {
			b.transitionLocked(Closed)
			b.failures = nil
			b.halfOK = 0
		}
	case Closed:
		b.failures = nil
	}
	if b.cfg.OnSuccess != nil {
		b.cfg.OnSuccess()
	}
}

func (b *CircuitBreaker) tripLocked() {
	b.transitionLocked(Open)
	b.openedAt = time.Now()
	b.failures = nil
	b.halfOK = 0
}

func (b *CircuitBreaker) transitionLocked(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		cb, fromState, toState := b.cfg.OnStateChange, from, to
		go cb(fromState, toState)
	}
}

// Trip forces the breaker directly to Open, as if FailureThreshold had just
// been reached.
func (b *CircuitBreaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked()
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.failures = nil
	b.halfOK = 0
}

// ForceHalfOpen moves an Open breaker directly into HalfOpen, skipping the
// remainder of OpenDuration.
func (b *CircuitBreaker) ForceHalfOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(HalfOpen)
	b.halfOK = 0
}

// Registry keeps one CircuitBreaker per named downstream service/plugin.
type Registry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	overrides map[string]BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewRegistry returns a registry that lazily creates breakers with cfg.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*CircuitBreaker), overrides: make(map[string]BreakerConfig)}
}

// SetOverride configures a per-key BreakerConfig used instead of the
// registry default the next time Get lazily creates that breaker. Has no
// effect on an already-created breaker.
func (r *Registry) SetOverride(name string, cfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = cfg
}

// Get returns (creating if necessary) the breaker for name.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		cfg := r.cfg
		if override, ok := r.overrides[name]; ok {
			cfg = override
		}
		b = NewCircuitBreaker(cfg)
		r.breakers[name] = b
	}
	return b
}

// States returns the current state of every breaker the registry has
// created, keyed by service name.
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// GetOpenCircuits returns the names of every created breaker currently
// Open.
func (r *Registry) GetOpenCircuits() []string {
	var out []string
	for name, state := range r.States() {
		if state == Open {
			out = append(out, name)
		}
	}
	return out
}

// ResetAll forces every created breaker back to Closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()
	for _, b := range breakers {
		b.Reset()
	}
}

// Clear removes every created breaker; subsequent Get calls start fresh.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}
