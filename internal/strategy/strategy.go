// Package strategy implements the merge-strategy registry: named pure
// functions that reconcile a vector of field values (one per source record)
// into a single chosen or derived value.
package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SourceMeta is the per-source-record metadata a strategy may consult
// (currently just the timestamp used by preferNewer/preferOlder).
type SourceMeta struct {
	ID        string
	UpdatedAt time.Time
}

// Options carries strategy-specific knobs. Only the fields relevant to a
// given strategy are consulted; zero values fall back to each strategy's
// documented default.
type Options struct {
	Separator    string             // concatenate: default ", "
	DateField    string             // preferNewer/preferOlder: override which per-source date to compare; default uses SourceMeta.UpdatedAt
	NullHandling string             // "skip" (default) or "include"
	CustomMerge  CustomFunc         // required when Strategy == "custom"
}

// CustomFunc is a user-supplied merge function for the "custom" strategy.
type CustomFunc func(values []any, sources []SourceMeta, opts Options) (any, bool)

// Func is the common signature every built-in strategy implements:
// (values, sourceRecords, options) -> (value, defined).
type Func func(values []any, sources []SourceMeta, opts Options) (any, bool)

// Registry maps strategy names to functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry pre-populated with all built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.RegisterBuiltIns()
	return r
}

// Register adds or replaces a named strategy. Registering an empty name is
// rejected.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("strategy: cannot register an empty strategy name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Lookup returns the named strategy, or an InvalidStrategyError listing the
// currently available names.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, &InvalidStrategyError{Strategy: name, Available: r.namesLocked()}
	}
	return fn, nil
}

// Names returns the sorted list of currently registered strategy names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registered strategy. Clear followed by
// RegisterBuiltIns is idempotent.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs = make(map[string]Func)
}

// RegisterBuiltIns (re-)registers every required built-in strategy. Safe to
// call repeatedly.
func (r *Registry) RegisterBuiltIns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fn := range builtins {
		r.funcs[name] = fn
	}
}

// InvalidStrategyError is raised when an unregistered strategy name is
// looked up.
type InvalidStrategyError struct {
	Strategy  string
	Available []string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("strategy: unknown merge strategy %q (available: %v)", e.Strategy, e.Available)
}
