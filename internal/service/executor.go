package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mergeforge/resolve/internal/cache"
	"github.com/mergeforge/resolve/internal/record"
	"github.com/mergeforge/resolve/internal/resilience"
)

// RegisteredPlugin pairs a Plugin with its pipeline placement, ordering,
// failure policy, and resilience/caching behavior.
type RegisteredPlugin struct {
	Plugin   Plugin
	Phase    Phase
	Parallel bool // run concurrently with adjacent Parallel plugins in the same phase

	// Required plugins can abort the pipeline; non-required plugins can
	// only ever flag or silently continue regardless of OnFailure/OnInvalid.
	Required bool
	// OnFailure governs what happens when Execute returns an error after
	// exhausting its resilience policy. Defaults to OnFailureContinue.
	OnFailure OnFailure
	// OnInvalid governs what happens when a validation plugin reports
	// Valid=false. Defaults to OnFailureContinue.
	OnInvalid OnFailure
	// OnNotFound governs what happens when a lookup plugin reports
	// Found=false. Defaults to OnFailureContinue.
	OnNotFound OnFailure
	// Priority orders plugins ascending within a phase; ties keep
	// registration order. Defaults to 100.
	Priority int

	// FieldMapping restricts what a successful lookup plugin copies into
	// the working record: key is a field's path within Result.Enrichment,
	// value is the destination path in the record. Nil/empty means the
	// full Enrichment is merged in.
	FieldMapping map[string]string
	// ResultPredicate additionally gates a Custom-kind plugin's result:
	// when set and it returns false, the invocation is treated as a
	// failure per OnFailure/Required and flagged as "{name}:rejected".
	ResultPredicate func(Result) bool
	// CustomParams is handed to a Custom-kind plugin's Execute call via
	// CustomParamsFromContext.
	CustomParams map[string]any

	Cacheable    bool
	StaleOnError bool // on plugin failure, serve a stale cache entry if one exists
	Policy       resilience.Policy
}

func (rp RegisteredPlugin) effectiveOnFailure() OnFailure {
	if rp.OnFailure == "" {
		return OnFailureContinue
	}
	return rp.OnFailure
}

func (rp RegisteredPlugin) effectiveOnInvalid() OnFailure {
	if rp.OnInvalid == "" {
		return OnFailureContinue
	}
	return rp.OnInvalid
}

func (rp RegisteredPlugin) effectiveOnNotFound() OnFailure {
	if rp.OnNotFound == "" {
		return OnFailureContinue
	}
	return rp.OnNotFound
}

func (rp RegisteredPlugin) effectivePriority() int {
	if rp.Priority == 0 {
		return 100
	}
	return rp.Priority
}

// Outcome is one plugin's contribution to a pipeline run.
type Outcome struct {
	PluginName string
	Result     Result
	Err        error
	FromCache  bool
	FromStale  bool
}

// RunReport summarizes a full phase execution.
type RunReport struct {
	Record   record.Record
	Outcomes []Outcome
	Valid    bool // false if any validation plugin set Valid=false

	// Proceed is false once a Required plugin rejects (by error or by
	// invalidity) the pipeline; RejectedBy/RejectionReason name the cause.
	// Plugins after the rejection point do not run.
	Proceed         bool
	RejectedBy      string
	RejectionReason string

	Flags            []string
	ScoreAdjustments []float64
	TotalDuration    time.Duration
}

// Executor runs registered plugins for a phase against a record, merging
// enrichment deterministically (in run order — Priority, then registration —
// independent of completion order) and caching lookup/custom results by a stable hash of
// (plugin name, input record).
type Executor struct {
	plugins  []RegisteredPlugin
	cache    *cache.Cache
	breakers *resilience.Registry
	logger   *slog.Logger
}

// NewExecutor constructs an Executor. cache may be nil to disable
// cache-aside behavior entirely.
func NewExecutor(c *cache.Cache, breakers *resilience.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cache: c, breakers: breakers, logger: logger}
}

// ErrAlreadyRegistered is returned by Register when a plugin name is
// already in the pipeline.
type ErrAlreadyRegistered struct {
	Name string
}

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("service: plugin %q already registered", e.Name)
}

// Register adds a plugin to the pipeline. Plugins run in ascending Priority
// order within their phase, ties broken by registration order.
func (e *Executor) Register(rp RegisteredPlugin) error {
	name := rp.Plugin.Name()
	for _, existing := range e.plugins {
		if existing.Plugin.Name() == name {
			return &ErrAlreadyRegistered{Name: name}
		}
	}
	if e.breakers != nil && rp.Policy.Breaker == nil {
		rp.Policy.Breaker = e.breakers.Get(name)
	}
	e.plugins = append(e.plugins, rp)
	return nil
}

// Run executes every plugin registered for phase (or PhaseBoth) against
// rec, ordered by Priority, batching contiguous runs of Parallel plugins
// into a single concurrent group. Returns the enriched record (a clone of
// rec with every plugin's Enrichment merged in) and a report of every
// outcome.
func (e *Executor) Run(ctx context.Context, phase Phase, rec record.Record) (RunReport, error) {
	start := time.Now()
	working := rec.Clone()
	if working == nil {
		working = make(record.Record)
	}

	report := RunReport{Record: working, Valid: true, Proceed: true}

	group := e.phaseGroup(phase)
	i := 0
	for i < len(group) && report.Proceed {
		if group[i].Parallel {
			j := i
			for j < len(group) && group[j].Parallel {
				j++
			}
			batch := group[i:j]
			results := e.runParallel(ctx, batch, working)
			for k, res := range results {
				e.absorb(&report, batch[k], res)
				if !report.Proceed {
					break
				}
			}
			i = j
			continue
		}

		res := e.runOne(ctx, group[i], working)
		e.absorb(&report, group[i], res)
		i++
	}

	report.TotalDuration = time.Since(start)
	return report, nil
}

// absorb applies one plugin's outcome to the running report. Plugin-call
// failures are handled uniformly; a successful call is then interpreted
// per the plugin's Kind, per spec §4.10 step 4: validation plugins gate on
// Valid, lookup plugins gate on Found and selectively enrich via
// FieldMapping, custom plugins gate on ResultPredicate and surface
// ScoreAdjustment/Flags.
func (e *Executor) absorb(report *RunReport, rp RegisteredPlugin, res Outcome) {
	report.Outcomes = append(report.Outcomes, res)

	if res.Err != nil {
		e.absorbFailure(report, rp, res)
		return
	}

	report.Flags = append(report.Flags, res.Result.Flags...)
	if res.Result.ScoreAdjustment != 0 {
		report.ScoreAdjustments = append(report.ScoreAdjustments, res.Result.ScoreAdjustment)
	}

	switch rp.Plugin.Kind() {
	case KindValidation:
		e.absorbValidation(report, rp, res)
	case KindLookup:
		e.absorbLookup(report, rp, res)
	case KindCustom:
		e.absorbCustom(report, rp, res)
	}
}

func (e *Executor) absorbFailure(report *RunReport, rp RegisteredPlugin, res Outcome) {
	policy := rp.effectiveOnFailure()
	switch {
	case policy == OnFailureReject && rp.Required:
		report.Proceed = false
		report.RejectedBy = res.PluginName
		report.RejectionReason = res.Err.Error()
	case policy == OnFailureFlag:
		report.Flags = append(report.Flags, res.PluginName+":failed")
	}
}

// absorbValidation: a validation plugin never enriches the record, it only
// ever gates on Result.Valid.
func (e *Executor) absorbValidation(report *RunReport, rp RegisteredPlugin, res Outcome) {
	if res.Result.Valid == nil || *res.Result.Valid {
		return
	}
	report.Valid = false
	policy := rp.effectiveOnInvalid()
	switch {
	case policy == OnFailureReject && rp.Required:
		report.Proceed = false
		report.RejectedBy = res.PluginName
		report.RejectionReason = "validation failed"
	case policy == OnFailureFlag:
		report.Flags = append(report.Flags, res.PluginName+":invalid")
	}
}

// absorbLookup: Found=false is governed by OnNotFound instead of OnFailure;
// Found=true copies either the fields named by FieldMapping or, absent a
// mapping, the plugin's whole Enrichment into the working record.
func (e *Executor) absorbLookup(report *RunReport, rp RegisteredPlugin, res Outcome) {
	found := res.Result.Found == nil || *res.Result.Found
	if !found {
		policy := rp.effectiveOnNotFound()
		switch {
		case policy == OnFailureReject && rp.Required:
			report.Proceed = false
			report.RejectedBy = res.PluginName
			report.RejectionReason = "not found"
		case policy == OnFailureFlag:
			report.Flags = append(report.Flags, res.PluginName+":not_found")
		}
		return
	}
	if len(rp.FieldMapping) > 0 {
		applyFieldMapping(report.Record, res.Result.Enrichment, rp.FieldMapping)
	} else {
		applyResult(report.Record, res.Result)
	}
}

// absorbCustom: when ResultPredicate is set and rejects the plugin's
// output, the invocation is treated as a failure per OnFailure/Required
// rather than silently enriching the record.
func (e *Executor) absorbCustom(report *RunReport, rp RegisteredPlugin, res Outcome) {
	if rp.ResultPredicate != nil && !rp.ResultPredicate(res.Result) {
		policy := rp.effectiveOnFailure()
		switch {
		case policy == OnFailureReject && rp.Required:
			report.Proceed = false
			report.RejectedBy = res.PluginName
			report.RejectionReason = "result predicate rejected plugin output"
		case policy == OnFailureFlag:
			report.Flags = append(report.Flags, res.PluginName+":rejected")
		}
		return
	}
	applyResult(report.Record, res.Result)
}

func (e *Executor) phaseGroup(phase Phase) []RegisteredPlugin {
	var out []RegisteredPlugin
	for _, rp := range e.plugins {
		if rp.Phase == phase || rp.Phase == PhaseBoth {
			out = append(out, rp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].effectivePriority() < out[j].effectivePriority()
	})
	return out
}

// runParallel executes a contiguous batch concurrently but returns results
// in the batch's original (registration) order for deterministic merging.
func (e *Executor) runParallel(ctx context.Context, batch []RegisteredPlugin, working record.Record) []Outcome {
	results := make([]Outcome, len(batch))
	fns := make([]func(context.Context) error, len(batch))
	for idx, rp := range batch {
		idx, rp := idx, rp
		fns[idx] = func(c context.Context) error {
			results[idx] = e.runOne(c, rp, working)
			return nil
		}
	}
	_ = resilience.ParallelCompose(ctx, 0, fns...)
	return results
}

func (e *Executor) runOne(ctx context.Context, rp RegisteredPlugin, working record.Record) Outcome {
	name := rp.Plugin.Name()

	var cacheKey string
	if rp.Cacheable && e.cache != nil {
		cacheKey = "plugin:" + name + ":" + record.FNV1aHex(record.StableString(working))
		if cached, ok := e.cache.Get(cacheKey); ok {
			if res, ok := cached.(Result); ok {
				return Outcome{PluginName: name, Result: res, FromCache: true}
			}
		}
	}

	execCtx := ctx
	if rp.Plugin.Kind() == KindCustom && rp.CustomParams != nil {
		execCtx = WithCustomParams(ctx, rp.CustomParams)
	}

	var result Result
	invoke := func(c context.Context) error {
		r, err := rp.Plugin.Execute(c, working)
		result = r
		return err
	}

	err := resilience.Run(execCtx, rp.Policy, invoke)
	if err != nil {
		if rp.Cacheable && rp.StaleOnError && e.cache != nil {
			if cached, stale, ok := e.cache.GetWithOptions(cacheKey, cache.GetOptions{AllowStale: true}); ok {
				if res, ok := cached.(Result); ok {
					e.logger.Warn("service: plugin failed, serving stale cache", "plugin", name, "error", err)
					return Outcome{PluginName: name, Result: res, FromCache: true, FromStale: stale}
				}
			}
		}
		e.logger.Warn("service: plugin execution failed", "plugin", name, "error", err)
		return Outcome{PluginName: name, Err: err}
	}

	if rp.Cacheable && e.cache != nil {
		e.cache.Set(cacheKey, result)
	}
	return Outcome{PluginName: name, Result: result}
}

func applyResult(working record.Record, res Result) {
	for _, path := range res.Enrichment.Paths() {
		v, ok := res.Enrichment.Get(path)
		if !ok {
			continue
		}
		_ = working.Set(path, v)
	}
}

// applyFieldMapping copies only the fields named by mapping (source path in
// enrichment -> destination path in working) instead of the whole
// enrichment, per RegisteredPlugin.FieldMapping.
func applyFieldMapping(working record.Record, enrichment record.Record, mapping map[string]string) {
	for src, dest := range mapping {
		v, ok := enrichment.Get(src)
		if !ok {
			continue
		}
		_ = working.Set(dest, v)
	}
}

// Dispose shuts down every registered plugin that implements Disposable.
func (e *Executor) Dispose(ctx context.Context) error {
	var firstErr error
	for _, rp := range e.plugins {
		if d, ok := rp.Plugin.(Disposable); ok {
			if err := d.Dispose(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// HealthReport describes one plugin's observed health: its own
// HealthCheck (if it implements HealthChecker) overlaid with circuit
// breaker state — an open breaker always reports Healthy=false.
type HealthReport struct {
	PluginName string
	Healthy    bool
	Err        error
	State      resilience.BreakerState
}

// Health returns the aggregate health of every registered plugin.
func (e *Executor) Health(ctx context.Context) []HealthReport {
	var out []HealthReport
	for _, rp := range e.plugins {
		hr := HealthReport{PluginName: rp.Plugin.Name(), Healthy: true}
		if rp.Policy.Breaker != nil {
			hr.State = rp.Policy.Breaker.State()
			if hr.State == resilience.Open {
				hr.Healthy = false
			}
		}
		if hc, ok := rp.Plugin.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				hr.Healthy = false
				hr.Err = err
			}
		}
		out = append(out, hr)
	}
	return out
}

// CircuitStatus returns the circuit-breaker state of every registered
// plugin that has one, keyed by plugin name.
func (e *Executor) CircuitStatus() map[string]resilience.BreakerState {
	out := make(map[string]resilience.BreakerState)
	for _, rp := range e.plugins {
		if rp.Policy.Breaker == nil {
			continue
		}
		out[rp.Plugin.Name()] = rp.Policy.Breaker.State()
	}
	return out
}
