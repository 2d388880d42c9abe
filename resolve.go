// Package resolve is the public API for embedding the entity-resolution and
// golden-record toolkit.
//
// Library consumers import this package to construct a ready-to-use
// Toolkit without reaching into internal/*:
//
//	tk, err := resolve.New(
//	    resolve.WithLogger(logger),
//	    resolve.WithPlugin(resolve.RegisteredPlugin{Plugin: myLookup, Phase: resolve.PhasePreMatch}),
//	)
//	if err != nil { ... }
//	defer tk.Close(ctx)
//
// The import graph enforces a strict no-cycle rule: resolve (root) imports
// internal/*, but internal/* never imports resolve (root).
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mergeforge/resolve/internal/cache"
	"github.com/mergeforge/resolve/internal/config"
	"github.com/mergeforge/resolve/internal/matching"
	"github.com/mergeforge/resolve/internal/merge"
	"github.com/mergeforge/resolve/internal/provenance"
	"github.com/mergeforge/resolve/internal/queue"
	"github.com/mergeforge/resolve/internal/resilience"
	"github.com/mergeforge/resolve/internal/service"
	"github.com/mergeforge/resolve/internal/strategy"
	"github.com/mergeforge/resolve/internal/telemetry"
	"github.com/mergeforge/resolve/internal/unmerge"
)

// Toolkit wires the matching engine, merge/unmerge executors, review queue,
// cache, resilience registry, and service pipeline into one ready-to-use
// entity-resolution component. Construct with New(); it has no public
// fields — use New()'s options to configure it and the accessor methods
// below to reach a subsystem.
type Toolkit struct {
	cfg config.Config

	matchEngine *matching.Engine
	strategies  *strategy.Registry
	mergeExec   *merge.Executor
	prov        provenance.Store
	unmergeExec *unmerge.Executor
	reviewQueue *queue.Queue
	cache       *cache.Cache
	breakers    *resilience.Registry
	executor    *service.Executor

	hooks mergeHookAdapter
	rhook []ReviewHook

	instruments  telemetry.Instruments
	otelShutdown telemetry.Shutdown

	logger  *slog.Logger
	version string
}

// New constructs a Toolkit. It loads configuration from the environment
// (layered on a .env file if present), builds the matching engine from
// WithMatchingConfig (or leaves it nil for per-call configuration),
// registers any custom strategies and service-pipeline plugins, and
// initializes OpenTelemetry instrumentation. It does not start any
// background network listeners — this package is a library, not a server.
func New(opts ...Option) (*Toolkit, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("resolve: load config: %w", err)
	}
	applyOverrides(&cfg, o)

	strategies := strategy.NewRegistry()
	strategies.RegisterBuiltIns()
	for name, fn := range o.strategies {
		if err := strategies.Register(name, fn); err != nil {
			return nil, fmt.Errorf("resolve: register strategy %q: %w", name, err)
		}
	}

	var matchEngine *matching.Engine
	if o.matchingConfig != nil {
		if err := o.matchingConfig.Validate(); err != nil {
			return nil, fmt.Errorf("resolve: invalid matching config: %w", err)
		}
		matchEngine = matching.NewEngine(*o.matchingConfig)
	}

	mergeExec := &merge.Executor{Strategies: strategies}

	prov := o.provenanceStore
	if prov == nil {
		prov = provenance.NewMemoryStore()
	}

	unmergeExec := unmerge.NewExecutor(prov, mergeExec)

	reviewQueue := queue.New()

	c := cache.New(cache.Options{
		MaxEntries:  cfg.CacheMaxEntries,
		MaxBytes:    cfg.CacheMaxBytes,
		TTL:         cfg.CacheTTL,
		StaleWindow: cfg.CacheStaleWindow,
		PruneEvery:  cfg.CachePruneEvery,
	})

	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenDuration:     cfg.BreakerOpenDuration,
	}
	breakers := resilience.NewRegistry(breakerCfg)

	executor := service.NewExecutor(c, breakers, logger)
	for _, rp := range o.plugins {
		if rp.Policy.Timeout == 0 {
			rp.Policy.Timeout = cfg.PluginTimeout
		}
		if rp.Policy.Retry.MaxAttempts == 0 {
			rp.Policy.Retry.MaxAttempts = cfg.PluginMaxRetries
		}
		if rp.Policy.Retry.BaseDelay == 0 {
			rp.Policy.Retry.BaseDelay = cfg.PluginRetryBaseDelay
		}
		if err := executor.Register(rp); err != nil {
			return nil, fmt.Errorf("resolve: register plugin: %w", err)
		}
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, cfg.OTELServiceName, o.version, o.otelReaders...)
	if err != nil {
		return nil, fmt.Errorf("resolve: init telemetry: %w", err)
	}
	instruments, err := telemetry.NewInstruments(telemetry.Meter("resolve"))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("resolve: register instruments: %w", err)
	}

	return &Toolkit{
		cfg:          cfg,
		matchEngine:  matchEngine,
		strategies:   strategies,
		mergeExec:    mergeExec,
		prov:         prov,
		unmergeExec:  unmergeExec,
		reviewQueue:  reviewQueue,
		cache:        c,
		breakers:     breakers,
		executor:     executor,
		hooks:        mergeHookAdapter{hooks: o.mergeHooks},
		rhook:        o.reviewHooks,
		instruments:  instruments,
		otelShutdown: shutdown,
		logger:       logger,
		version:      o.version,
	}, nil
}

// applyOverrides layers option-supplied values on top of the environment
// config, mirroring the precedence order of the teacher's resolvedOptions
// overlay: explicit Option calls win over environment variables.
func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.mergeDefaultStrategy != "" {
		cfg.MergeDefaultStrategy = o.mergeDefaultStrategy
	}
	if o.pluginTimeout > 0 {
		cfg.PluginTimeout = o.pluginTimeout
	}
	if o.pluginMaxRetries > 0 {
		cfg.PluginMaxRetries = o.pluginMaxRetries
	}
	if o.breakerFailureThreshold > 0 {
		cfg.BreakerFailureThreshold = o.breakerFailureThreshold
	}
	if o.breakerOpenDuration > 0 {
		cfg.BreakerOpenDuration = o.breakerOpenDuration
	}
	if o.cacheMaxEntries > 0 {
		cfg.CacheMaxEntries = o.cacheMaxEntries
	}
	if o.cacheMaxBytes > 0 {
		cfg.CacheMaxBytes = o.cacheMaxBytes
	}
	if o.cacheTTL > 0 {
		cfg.CacheTTL = o.cacheTTL
	}
	if o.cacheStaleWindow > 0 {
		cfg.CacheStaleWindow = o.cacheStaleWindow
	}
}

// Match scores a candidate pair against the Toolkit's configured matching
// engine. Returns an error if no MatchingConfig was supplied via
// WithMatchingConfig at construction time.
func (t *Toolkit) Match(pair Pair) (ScoreBreakdown, error) {
	if t.matchEngine == nil {
		return ScoreBreakdown{}, errors.New("resolve: no matching config configured; pass resolve.WithMatchingConfig")
	}
	return t.matchEngine.Compare(pair)
}

// Merge reconciles req.SourceRecords into a golden record and notifies any
// registered MergeHook.
func (t *Toolkit) Merge(req MergeRequest) (MergeResult, error) {
	res, err := t.mergeExec.Merge(req)
	if err != nil {
		return MergeResult{}, err
	}
	if req.Config.TrackProvenance {
		if err := t.prov.Save(context.Background(), res.Provenance); err != nil {
			return MergeResult{}, fmt.Errorf("resolve: save provenance: %w", err)
		}
		if err := t.prov.ArchiveSources(context.Background(), res.GoldenRecordID, res.SourceRecords); err != nil {
			return MergeResult{}, fmt.Errorf("resolve: archive source records: %w", err)
		}
	}
	t.hooks.notifyMerged(context.Background(), res)
	return res, nil
}

// Unmerge reverses a previous merge per req.Mode and notifies any
// registered MergeHook.
func (t *Toolkit) Unmerge(ctx context.Context, req UnmergeRequest) (UnmergeResult, error) {
	res, err := t.unmergeExec.Unmerge(ctx, req)
	if err != nil {
		return UnmergeResult{}, err
	}
	t.hooks.notifyUnmerged(ctx, req.GoldenRecordID, res)
	return res, nil
}

// CanUnmerge reports whether goldenRecordID is eligible for Unmerge, without
// performing one.
func (t *Toolkit) CanUnmerge(ctx context.Context, goldenRecordID string) (UnmergeEligibility, error) {
	return t.unmergeExec.CheckUnmerge(ctx, goldenRecordID)
}

// RunServicePipeline executes every registered plugin for the given phase
// against rec, returning the accumulated RunReport.
func (t *Toolkit) RunServicePipeline(ctx context.Context, phase Phase, rec Record) (RunReport, error) {
	return t.executor.Run(ctx, phase, rec)
}

// ReviewQueue returns the Toolkit's human review queue.
func (t *Toolkit) ReviewQueue() *queue.Queue {
	return t.reviewQueue
}

// ConfirmReview confirms a pending/reviewing queue item and notifies any
// registered ReviewHook.
func (t *Toolkit) ConfirmReview(ctx context.Context, id, by string, notes *string) (QueueItem, error) {
	item, err := t.reviewQueue.Confirm(id, by, notes)
	if err != nil {
		return QueueItem{}, err
	}
	t.notifyReviewDecided(ctx, item)
	return item, nil
}

// RejectReview rejects a pending/reviewing queue item and notifies any
// registered ReviewHook.
func (t *Toolkit) RejectReview(ctx context.Context, id, by string, notes *string) (QueueItem, error) {
	item, err := t.reviewQueue.Reject(id, by, notes)
	if err != nil {
		return QueueItem{}, err
	}
	t.notifyReviewDecided(ctx, item)
	return item, nil
}

// Cache returns the Toolkit's cache-aside layer.
func (t *Toolkit) Cache() *cache.Cache {
	return t.cache
}

// Breakers returns the Toolkit's per-plugin circuit-breaker registry.
func (t *Toolkit) Breakers() *resilience.Registry {
	return t.breakers
}

// Strategies returns the Toolkit's merge-strategy registry, including any
// strategies registered via WithStrategy.
func (t *Toolkit) Strategies() *strategy.Registry {
	return t.strategies
}

// ProvenanceStore returns the Toolkit's provenance store.
func (t *Toolkit) ProvenanceStore() ProvenanceStore {
	return t.prov
}

// Close disposes the service executor's plugins, stops the cache's prune
// loop, and shuts down the OpenTelemetry meter provider. Safe to call once;
// the returned error joins every subsystem's shutdown error.
func (t *Toolkit) Close(ctx context.Context) error {
	var errs []error
	if err := t.executor.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose service executor: %w", err))
	}
	t.cache.Close()
	if t.otelShutdown != nil {
		if err := t.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// notifyReviewDecided fires every registered ReviewHook. Callers that
// mutate the review queue directly (Confirm, Reject, MarkMerged, Expire)
// should route through this so hooks stay informed; the Toolkit does not
// wrap queue.Queue's methods itself since a caller may want the queue
// without the hook side effect (e.g. batch imports).
func (t *Toolkit) notifyReviewDecided(ctx context.Context, item QueueItem) {
	for _, h := range t.rhook {
		h.OnReviewDecided(ctx, item)
	}
}
