// Package config loads and validates toolkit configuration from environment
// variables (optionally layered on top of a .env file via godotenv).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the resolve toolkit exposes.
type Config struct {
	// Matching/merge configuration sources.
	MatchingConfigPath string // path to a YAML matching.Config; resolve.New does not load it
	MergeDefaultStrategy string

	// Resilience defaults applied to service plugins unless overridden.
	PluginTimeout          time.Duration
	PluginMaxRetries       int
	PluginRetryBaseDelay   time.Duration
	BreakerFailureThreshold int
	BreakerOpenDuration    time.Duration

	// Cache tuning.
	CacheMaxEntries  int
	CacheMaxBytes    int64
	CacheTTL         time.Duration
	CacheStaleWindow time.Duration
	CachePruneEvery  time.Duration

	// Review queue SLA windows.
	QueueStaleAfter    time.Duration // age at which a pending item is considered overdue for review
	QueueCleanupAfter  time.Duration // age at which resolved items are purged

	// OTEL settings.
	OTELServiceName string

	// Operational settings.
	LogLevel         string
	ServiceParallelism int // bound on concurrent plugin fan-out
}

// Load reads configuration from environment variables (after loading a
// .env file, if present) with sensible defaults. Missing variables use
// defaults; only malformed values are rejected.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := Config{
		MatchingConfigPath:   envStr("RESOLVE_MATCHING_CONFIG_PATH", ""),
		MergeDefaultStrategy: envStr("RESOLVE_MERGE_DEFAULT_STRATEGY", "preferNonNull"),
		OTELServiceName:      envStr("OTEL_SERVICE_NAME", "resolve"),
		LogLevel:             envStr("RESOLVE_LOG_LEVEL", "info"),
	}

	cfg.PluginMaxRetries, errs = collectInt(errs, "RESOLVE_PLUGIN_MAX_RETRIES", 3)
	cfg.BreakerFailureThreshold, errs = collectInt(errs, "RESOLVE_BREAKER_FAILURE_THRESHOLD", 5)
	cfg.CacheMaxEntries, errs = collectInt(errs, "RESOLVE_CACHE_MAX_ENTRIES", 10_000)
	cfg.ServiceParallelism, errs = collectInt(errs, "RESOLVE_SERVICE_PARALLELISM", 8)

	var cacheMaxBytes int
	cacheMaxBytes, errs = collectInt(errs, "RESOLVE_CACHE_MAX_BYTES", 64*1024*1024)
	cfg.CacheMaxBytes = int64(cacheMaxBytes)

	cfg.PluginTimeout, errs = collectDuration(errs, "RESOLVE_PLUGIN_TIMEOUT", 5*time.Second)
	cfg.PluginRetryBaseDelay, errs = collectDuration(errs, "RESOLVE_PLUGIN_RETRY_BASE_DELAY", 100*time.Millisecond)
	cfg.BreakerOpenDuration, errs = collectDuration(errs, "RESOLVE_BREAKER_OPEN_DURATION", 30*time.Second)
	cfg.CacheTTL, errs = collectDuration(errs, "RESOLVE_CACHE_TTL", 10*time.Minute)
	cfg.CacheStaleWindow, errs = collectDuration(errs, "RESOLVE_CACHE_STALE_WINDOW", 2*time.Minute)
	cfg.CachePruneEvery, errs = collectDuration(errs, "RESOLVE_CACHE_PRUNE_EVERY", time.Minute)
	cfg.QueueStaleAfter, errs = collectDuration(errs, "RESOLVE_QUEUE_STALE_AFTER", 24*time.Hour)
	cfg.QueueCleanupAfter, errs = collectDuration(errs, "RESOLVE_QUEUE_CLEANUP_AFTER", 30*24*time.Hour)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that the loaded configuration is internally sane.
func (c Config) Validate() error {
	var errs []error

	if c.PluginTimeout <= 0 {
		errs = append(errs, errors.New("config: RESOLVE_PLUGIN_TIMEOUT must be positive"))
	}
	if c.PluginMaxRetries < 1 {
		errs = append(errs, errors.New("config: RESOLVE_PLUGIN_MAX_RETRIES must be at least 1"))
	}
	if c.BreakerFailureThreshold < 1 {
		errs = append(errs, errors.New("config: RESOLVE_BREAKER_FAILURE_THRESHOLD must be at least 1"))
	}
	if c.BreakerOpenDuration <= 0 {
		errs = append(errs, errors.New("config: RESOLVE_BREAKER_OPEN_DURATION must be positive"))
	}
	if c.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("config: RESOLVE_CACHE_MAX_ENTRIES must not be negative"))
	}
	if c.CacheMaxBytes < 0 {
		errs = append(errs, errors.New("config: RESOLVE_CACHE_MAX_BYTES must not be negative"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("config: RESOLVE_CACHE_TTL must not be negative"))
	}
	if c.CacheStaleWindow < 0 {
		errs = append(errs, errors.New("config: RESOLVE_CACHE_STALE_WINDOW must not be negative"))
	}
	if c.QueueStaleAfter <= 0 {
		errs = append(errs, errors.New("config: RESOLVE_QUEUE_STALE_AFTER must be positive"))
	}
	if c.QueueCleanupAfter <= 0 {
		errs = append(errs, errors.New("config: RESOLVE_QUEUE_CLEANUP_AFTER must be positive"))
	}
	if c.ServiceParallelism < 1 {
		errs = append(errs, errors.New("config: RESOLVE_SERVICE_PARALLELISM must be at least 1"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
