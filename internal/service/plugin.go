// Package service implements the pluggable enrichment/validation pipeline
// that runs before and after matching: validation plugins veto or flag a
// record, lookup/custom plugins enrich it from external sources, all behind
// a cache-aside layer and the resilience composition (timeout/retry/
// breaker) so one flaky plugin can't stall or poison a whole pipeline run.
package service

import (
	"context"

	"github.com/mergeforge/resolve/internal/record"
)

// Kind classifies what a plugin's Result means.
type Kind string

const (
	// KindValidation plugins only ever set Result.Valid (and optionally
	// Errors); they never enrich the record.
	KindValidation Kind = "validation"
	// KindLookup plugins call an external system and merge structured data
	// back into the record via Result.Enrichment.
	KindLookup Kind = "lookup"
	// KindCustom plugins are user-supplied and may do either.
	KindCustom Kind = "custom"
)

// Phase selects when a plugin runs relative to the matching engine.
type Phase string

const (
	PhasePreMatch  Phase = "preMatch"
	PhasePostMatch Phase = "postMatch"
	// PhaseBoth plugins run in both the pre-match and post-match pipeline.
	PhaseBoth Phase = "both"
)

// OnFailure controls what happens when a plugin invocation fails (returns
// an error after exhausting its resilience policy) or a validation plugin
// reports Valid=false.
type OnFailure string

const (
	// OnFailureReject aborts the pipeline when the plugin is Required;
	// behaves like OnFailureContinue otherwise.
	OnFailureReject OnFailure = "reject"
	// OnFailureContinue records the failure/invalidity and proceeds.
	OnFailureContinue OnFailure = "continue"
	// OnFailureFlag adds "{name}:failed" (or "{name}:invalid",
	// "{name}:not_found", "{name}:rejected") to the run's Flags and proceeds.
	OnFailureFlag OnFailure = "flag"
)

// Result is what a plugin invocation produces.
type Result struct {
	Valid           *bool         // nil means "not applicable" (lookup/custom plugins usually leave this nil)
	Found           *bool         // lookup plugins: whether the external record was found
	Enrichment      record.Record // fields to merge into the working record; nil means no enrichment
	ScoreAdjustment float64       // custom plugins: additive adjustment surfaced to the caller
	Flags           []string      // flags the plugin itself wants attached, merged into the run's Flags
	Errors          []string
}

// Plugin is the contract every pipeline component implements.
type Plugin interface {
	Name() string
	Kind() Kind
	Execute(ctx context.Context, rec record.Record) (Result, error)
}

// HealthChecker is implemented by plugins that can report their own
// liveness independent of circuit-breaker state.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Disposable is implemented by plugins that hold resources (connections,
// background goroutines) needing explicit shutdown.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// Func adapts a plain function to the Plugin interface for simple/custom
// plugins that don't need their own type.
type Func struct {
	FuncName string
	FuncKind Kind
	Fn       func(ctx context.Context, rec record.Record) (Result, error)
}

func (f Func) Name() string { return f.FuncName }
func (f Func) Kind() Kind   { return f.FuncKind }
func (f Func) Execute(ctx context.Context, rec record.Record) (Result, error) {
	return f.Fn(ctx, rec)
}

// customParamsKey is the context key under which a RegisteredPlugin's
// CustomParams are stashed before Execute is called, so Custom-kind plugins
// can read their per-registration tuning without widening the Plugin
// interface.
type customParamsKey struct{}

// WithCustomParams attaches params to ctx for a Custom-kind plugin to read
// via CustomParamsFromContext.
func WithCustomParams(ctx context.Context, params map[string]any) context.Context {
	return context.WithValue(ctx, customParamsKey{}, params)
}

// CustomParamsFromContext returns the CustomParams a Custom-kind plugin's
// RegisteredPlugin was configured with, or nil if none were set.
func CustomParamsFromContext(ctx context.Context) map[string]any {
	v, _ := ctx.Value(customParamsKey{}).(map[string]any)
	return v
}
