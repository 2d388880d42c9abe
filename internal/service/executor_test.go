package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergeforge/resolve/internal/cache"
	"github.com/mergeforge/resolve/internal/record"
	"github.com/mergeforge/resolve/internal/resilience"
	"github.com/mergeforge/resolve/internal/service"
)

func boolPtr(b bool) *bool { return &b }

func TestRunMergesEnrichmentInRegistrationOrder(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "geocode", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{Enrichment: record.Record{"city": "Springfield"}}, nil
		}},
	}))
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "normalize", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			city, _ := rec.Get("city")
			return service.Result{Enrichment: record.Record{"city": city}}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "Springfield", report.Record["city"])
	assert.True(t, report.Valid)
	assert.True(t, report.Proceed)
	require.Len(t, report.Outcomes, 2)
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	plugin := service.Func{FuncName: "dup", FuncKind: service.KindCustom, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
		return service.Result{}, nil
	}}
	require.NoError(t, e.Register(service.RegisteredPlugin{Phase: service.PhasePreMatch, Plugin: plugin}))
	err := e.Register(service.RegisteredPlugin{Phase: service.PhasePreMatch, Plugin: plugin})
	require.Error(t, err)
	var dup *service.ErrAlreadyRegistered
	assert.ErrorAs(t, err, &dup)
}

func TestRunSetsValidFalseWhenValidationPluginRejects(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "requireEmail", FuncKind: service.KindValidation, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			_, ok := rec.Get("email")
			return service.Result{Valid: boolPtr(ok)}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.True(t, report.Proceed, "non-required invalid plugin shouldn't abort the pipeline")
}

func TestRunAbortsWhenRequiredValidationPluginRejects(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:     service.PhasePreMatch,
		Required:  true,
		OnInvalid: service.OnFailureReject,
		Plugin: service.Func{FuncName: "requireEmail", FuncKind: service.KindValidation, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{Valid: boolPtr(false)}, nil
		}},
	}))
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "never-runs", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			t.Fatal("plugin after rejection should not run")
			return service.Result{}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{})
	require.NoError(t, err)
	assert.False(t, report.Proceed)
	assert.Equal(t, "requireEmail", report.RejectedBy)
	require.Len(t, report.Outcomes, 1)
}

func TestRunFlagsNonRequiredFailure(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	boom := errors.New("downstream unavailable")
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:     service.PhasePreMatch,
		OnFailure: service.OnFailureFlag,
		Plugin: service.Func{FuncName: "flaky", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{}, boom
		}},
		Policy: resilience.Policy{Timeout: time.Second, Retry: resilience.RetryPolicy{MaxAttempts: 1}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	assert.Contains(t, report.Flags, "flaky:failed")
	assert.True(t, report.Proceed)
}

func TestRunContinuesAfterPluginErrorAndReportsIt(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	boom := errors.New("downstream unavailable")
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "flaky", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{}, boom
		}},
		Policy: resilience.Policy{Timeout: time.Second, Retry: resilience.RetryPolicy{MaxAttempts: 1}},
	}))
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "ok", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{Enrichment: record.Record{"tag": "enriched"}}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.ErrorIs(t, report.Outcomes[0].Err, boom)
	assert.Equal(t, "enriched", report.Record["tag"])
}

func TestRunCachesCacheablePluginResults(t *testing.T) {
	c := cache.New(cache.Options{})
	e := service.NewExecutor(c, nil, nil)
	calls := 0
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:     service.PhasePreMatch,
		Cacheable: true,
		Plugin: service.Func{FuncName: "lookup", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			calls++
			return service.Result{Enrichment: record.Record{"score": 1}}, nil
		}},
	}))

	rec := record.Record{"name": "x"}
	_, err := e.Run(context.Background(), service.PhasePreMatch, rec)
	require.NoError(t, err)
	_, err = e.Run(context.Background(), service.PhasePreMatch, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunServesStaleCacheOnError(t *testing.T) {
	c := cache.New(cache.Options{TTL: time.Millisecond, StaleWindow: time.Hour})
	e := service.NewExecutor(c, nil, nil)
	calls := 0
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:        service.PhasePreMatch,
		Cacheable:    true,
		StaleOnError: true,
		Plugin: service.Func{FuncName: "lookup", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			calls++
			if calls == 1 {
				return service.Result{Enrichment: record.Record{"score": 1}}, nil
			}
			return service.Result{}, errors.New("downstream down")
		}},
		Policy: resilience.Policy{Timeout: time.Second, Retry: resilience.RetryPolicy{MaxAttempts: 1}},
	}))

	rec := record.Record{"name": "x"}
	_, err := e.Run(context.Background(), service.PhasePreMatch, rec)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond) // TTL elapses, entry is now stale but within the window

	report, err := e.Run(context.Background(), service.PhasePreMatch, rec)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Record["score"])
	assert.True(t, report.Outcomes[0].FromCache)
	assert.True(t, report.Outcomes[0].FromStale)
}

func TestRunExecutesParallelBatchAndMergesDeterministically(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch, Parallel: true,
		Plugin: service.Func{FuncName: "a", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			time.Sleep(5 * time.Millisecond)
			return service.Result{Enrichment: record.Record{"field": "from-a"}}, nil
		}},
	}))
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch, Parallel: true,
		Plugin: service.Func{FuncName: "b", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{Enrichment: record.Record{"field": "from-b"}}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{})
	require.NoError(t, err)
	// registration order wins regardless of which finished first: b runs
	// faster but a was registered first, then b overwrites — last write in
	// registration order is deterministic.
	assert.Equal(t, "from-b", report.Record["field"])
}

func TestRunOrdersByPriorityThenRegistration(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	var order []string
	mkPlugin := func(name string) service.Plugin {
		return service.Func{FuncName: name, FuncKind: service.KindCustom, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			order = append(order, name)
			return service.Result{}, nil
		}}
	}
	require.NoError(t, e.Register(service.RegisteredPlugin{Phase: service.PhasePreMatch, Priority: 200, Plugin: mkPlugin("late")}))
	require.NoError(t, e.Register(service.RegisteredPlugin{Phase: service.PhasePreMatch, Priority: 10, Plugin: mkPlugin("early")}))
	require.NoError(t, e.Register(service.RegisteredPlugin{Phase: service.PhasePreMatch, Plugin: mkPlugin("default")})) // priority 100

	_, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{})
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "default", "late"}, order)
}

func TestDisposeCallsDisposableePlugins(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	disposed := false
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:  service.PhasePreMatch,
		Plugin: disposablePlugin{disposed: &disposed},
	}))
	err := e.Dispose(context.Background())
	require.NoError(t, err)
	assert.True(t, disposed)
}

type disposablePlugin struct {
	disposed *bool
}

func (d disposablePlugin) Name() string       { return "disposable" }
func (d disposablePlugin) Kind() service.Kind { return service.KindCustom }
func (d disposablePlugin) Execute(ctx context.Context, rec record.Record) (service.Result, error) {
	return service.Result{}, nil
}
func (d disposablePlugin) Dispose(ctx context.Context) error {
	*d.disposed = true
	return nil
}

func TestRunIgnoresEnrichmentWhenLookupNotFound(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "directory", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{Found: boolPtr(false), Enrichment: record.Record{"phone": "555-0100"}}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	_, present := report.Record["phone"]
	assert.False(t, present, "not-found lookup must not enrich the record")
}

func TestRunAbortsWhenRequiredLookupNotFound(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:      service.PhasePreMatch,
		Required:   true,
		OnNotFound: service.OnFailureReject,
		Plugin: service.Func{FuncName: "directory", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{Found: boolPtr(false)}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	assert.False(t, report.Proceed)
	assert.Equal(t, "directory", report.RejectedBy)
	assert.Equal(t, "not found", report.RejectionReason)
}

func TestRunAppliesFieldMappingForLookupPlugin(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		FieldMapping: map[string]string{
			"phone": "contact.phone",
		},
		Plugin: service.Func{FuncName: "directory", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{
				Found: boolPtr(true),
				Enrichment: record.Record{
					"phone":     "555-0100",
					"internal":  "do-not-copy",
					"accountId": "acct-9",
				},
			}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	contact, ok := report.Record["contact"].(record.Record)
	require.True(t, ok)
	assert.Equal(t, "555-0100", contact["phone"])
	_, present := report.Record["internal"]
	assert.False(t, present, "fields outside the mapping must not be copied")
	_, present = report.Record["accountId"]
	assert.False(t, present)
}

func TestRunRejectsCustomPluginWhenResultPredicateFails(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:           service.PhasePreMatch,
		Required:        true,
		OnFailure:       service.OnFailureReject,
		ResultPredicate: func(r service.Result) bool { return r.ScoreAdjustment >= 0 },
		Plugin: service.Func{FuncName: "riskScore", FuncKind: service.KindCustom, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{ScoreAdjustment: -5, Enrichment: record.Record{"risk": "high"}}, nil
		}},
	}))

	report, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	assert.False(t, report.Proceed)
	assert.Equal(t, "riskScore", report.RejectedBy)
	_, present := report.Record["risk"]
	assert.False(t, present, "rejected custom result must not enrich the record")
}

func TestRunPassesCustomParamsToCustomPlugin(t *testing.T) {
	e := service.NewExecutor(nil, nil, nil)
	var seen map[string]any
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase:        service.PhasePreMatch,
		CustomParams: map[string]any{"threshold": 0.8},
		Plugin: service.Func{FuncName: "tuned", FuncKind: service.KindCustom, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			seen = service.CustomParamsFromContext(ctx)
			return service.Result{}, nil
		}},
	}))

	_, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{"name": "x"})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, 0.8, seen["threshold"])
}

func TestHealthReportsBreakerStatesAndHealthCheck(t *testing.T) {
	breakers := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 1, OpenDuration: time.Hour})
	e := service.NewExecutor(nil, breakers, nil)
	require.NoError(t, e.Register(service.RegisteredPlugin{
		Phase: service.PhasePreMatch,
		Plugin: service.Func{FuncName: "flaky", FuncKind: service.KindLookup, Fn: func(ctx context.Context, rec record.Record) (service.Result, error) {
			return service.Result{}, errors.New("boom")
		}},
		Policy: resilience.Policy{Timeout: time.Second, Retry: resilience.RetryPolicy{MaxAttempts: 1}},
	}))

	_, err := e.Run(context.Background(), service.PhasePreMatch, record.Record{})
	require.NoError(t, err)

	health := e.Health(context.Background())
	require.Len(t, health, 1)
	assert.False(t, health[0].Healthy)
	assert.Equal(t, resilience.Open, health[0].State)

	status := e.CircuitStatus()
	assert.Equal(t, resilience.Open, status["flaky"])
}
