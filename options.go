package resolve

import (
	"log/slog"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mergeforge/resolve/internal/matching"
)

// Option configures a Toolkit.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger  *slog.Logger
	version string

	matchingConfig     *matching.Config
	mergeDefaultStrategy string

	provenanceStore ProvenanceStore

	plugins    []RegisteredPlugin
	strategies map[string]StrategyFunc

	mergeHooks  []MergeHook
	reviewHooks []ReviewHook

	otelReaders []sdkmetric.Reader

	pluginTimeout           time.Duration
	pluginMaxRetries        int
	breakerFailureThreshold int
	breakerOpenDuration     time.Duration

	cacheMaxEntries  int
	cacheMaxBytes    int64
	cacheTTL         time.Duration
	cacheStaleWindow time.Duration
}

// WithLogger sets the structured logger for the Toolkit.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in telemetry resource
// attributes.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMatchingConfig overrides the matching engine's field comparators,
// weights, and classification thresholds. Without this option the
// Toolkit has no matching engine and Toolkit.Match returns an error;
// New does not read Config.MatchingConfigPath.
func WithMatchingConfig(cfg MatchingConfig) Option {
	return func(o *resolvedOptions) { o.matchingConfig = &cfg }
}

// WithMergeDefaultStrategy overrides the default merge strategy name
// applied to fields without an explicit FieldStrategy override.
func WithMergeDefaultStrategy(name string) Option {
	return func(o *resolvedOptions) { o.mergeDefaultStrategy = name }
}

// WithProvenanceStore replaces the in-memory provenance store with a
// caller-supplied persistent implementation.
func WithProvenanceStore(store ProvenanceStore) Option {
	return func(o *resolvedOptions) { o.provenanceStore = store }
}

// WithPlugin registers a service-pipeline plugin (validation, lookup, or
// custom) with the Toolkit's executor. Plugins run in ascending Priority
// order within their Phase, ties broken by registration order.
func WithPlugin(rp RegisteredPlugin) Option {
	return func(o *resolvedOptions) { o.plugins = append(o.plugins, rp) }
}

// WithStrategy registers a named merge strategy in addition to the
// built-ins, so it can be referenced by name from a MergeConfig's
// DefaultStrategy or FieldStrategies.
func WithStrategy(name string, fn StrategyFunc) Option {
	return func(o *resolvedOptions) {
		if o.strategies == nil {
			o.strategies = make(map[string]StrategyFunc)
		}
		o.strategies[name] = fn
	}
}

// WithMergeHook registers a hook notified after every successful merge
// and unmerge. Multiple hooks may be registered; all registered hooks
// receive every event.
func WithMergeHook(hook MergeHook) Option {
	return func(o *resolvedOptions) { o.mergeHooks = append(o.mergeHooks, hook) }
}

// WithReviewHook registers a hook notified when Toolkit.ConfirmReview or
// Toolkit.RejectReview decides a review-queue item. Calls made directly on
// the queue returned by Toolkit.ReviewQueue do not notify it.
func WithReviewHook(hook ReviewHook) Option {
	return func(o *resolvedOptions) { o.reviewHooks = append(o.reviewHooks, hook) }
}

// WithOTELReaders supplies the metric readers the Toolkit's telemetry
// provider exports through (e.g. a periodic OTLP reader). Without this
// option, instruments are registered but nothing is exported.
func WithOTELReaders(readers ...sdkmetric.Reader) Option {
	return func(o *resolvedOptions) { o.otelReaders = append(o.otelReaders, readers...) }
}

// WithPluginTimeout overrides the default per-plugin timeout
// (RESOLVE_PLUGIN_TIMEOUT).
func WithPluginTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.pluginTimeout = d }
}

// WithPluginMaxRetries overrides the default plugin retry attempt count
// (RESOLVE_PLUGIN_MAX_RETRIES).
func WithPluginMaxRetries(n int) Option {
	return func(o *resolvedOptions) { o.pluginMaxRetries = n }
}

// WithBreakerConfig overrides the default circuit-breaker failure
// threshold and open duration applied to every plugin's breaker.
func WithBreakerConfig(failureThreshold int, openDuration time.Duration) Option {
	return func(o *resolvedOptions) {
		o.breakerFailureThreshold = failureThreshold
		o.breakerOpenDuration = openDuration
	}
}

// WithCacheLimits overrides the cache-aside layer's entry count and byte
// budget (RESOLVE_CACHE_MAX_ENTRIES / RESOLVE_CACHE_MAX_BYTES).
func WithCacheLimits(maxEntries int, maxBytes int64) Option {
	return func(o *resolvedOptions) {
		o.cacheMaxEntries = maxEntries
		o.cacheMaxBytes = maxBytes
	}
}

// WithCacheTTL overrides the cache-aside layer's default TTL and stale
// window (RESOLVE_CACHE_TTL / RESOLVE_CACHE_STALE_WINDOW).
func WithCacheTTL(ttl, staleWindow time.Duration) Option {
	return func(o *resolvedOptions) {
		o.cacheTTL = ttl
		o.cacheStaleWindow = staleWindow
	}
}
