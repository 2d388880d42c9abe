package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.PluginTimeout != 5*time.Second {
		t.Fatalf("expected default plugin timeout 5s, got %s", cfg.PluginTimeout)
	}
	if cfg.MergeDefaultStrategy != "preferNonNull" {
		t.Fatalf("expected default merge strategy preferNonNull, got %s", cfg.MergeDefaultStrategy)
	}
}

func TestLoadFailsOnInvalidPluginTimeout(t *testing.T) {
	t.Setenv("RESOLVE_PLUGIN_TIMEOUT", "not-a-duration")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid RESOLVE_PLUGIN_TIMEOUT")
	}
	if !contains(err.Error(), "RESOLVE_PLUGIN_TIMEOUT") {
		t.Fatalf("error should mention RESOLVE_PLUGIN_TIMEOUT, got: %s", err.Error())
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("RESOLVE_PLUGIN_TIMEOUT", "bad")
	t.Setenv("RESOLVE_CACHE_MAX_ENTRIES", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "RESOLVE_PLUGIN_TIMEOUT") {
		t.Fatalf("error should mention RESOLVE_PLUGIN_TIMEOUT, got: %s", got)
	}
	if !contains(got, "RESOLVE_CACHE_MAX_ENTRIES") {
		t.Fatalf("error should mention RESOLVE_CACHE_MAX_ENTRIES, got: %s", got)
	}
}

func TestLoadAllEnvVarsHonored(t *testing.T) {
	t.Setenv("RESOLVE_MATCHING_CONFIG_PATH", "/etc/resolve/matching.yaml")
	t.Setenv("RESOLVE_MERGE_DEFAULT_STRATEGY", "preferNewer")
	t.Setenv("RESOLVE_PLUGIN_TIMEOUT", "2s")
	t.Setenv("RESOLVE_PLUGIN_MAX_RETRIES", "5")
	t.Setenv("RESOLVE_CACHE_TTL", "1m")
	t.Setenv("RESOLVE_QUEUE_STALE_AFTER", "12h")
	t.Setenv("OTEL_SERVICE_NAME", "resolve-test")
	t.Setenv("RESOLVE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.MatchingConfigPath != "/etc/resolve/matching.yaml" {
		t.Fatalf("expected MatchingConfigPath set, got %q", cfg.MatchingConfigPath)
	}
	if cfg.MergeDefaultStrategy != "preferNewer" {
		t.Fatalf("expected MergeDefaultStrategy preferNewer, got %q", cfg.MergeDefaultStrategy)
	}
	if cfg.PluginTimeout != 2*time.Second {
		t.Fatalf("expected PluginTimeout 2s, got %s", cfg.PluginTimeout)
	}
	if cfg.PluginMaxRetries != 5 {
		t.Fatalf("expected PluginMaxRetries 5, got %d", cfg.PluginMaxRetries)
	}
	if cfg.CacheTTL != time.Minute {
		t.Fatalf("expected CacheTTL 1m, got %s", cfg.CacheTTL)
	}
	if cfg.QueueStaleAfter != 12*time.Hour {
		t.Fatalf("expected QueueStaleAfter 12h, got %s", cfg.QueueStaleAfter)
	}
	if cfg.OTELServiceName != "resolve-test" {
		t.Fatalf("expected OTELServiceName resolve-test, got %q", cfg.OTELServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel debug, got %q", cfg.LogLevel)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
