package strategy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergeforge/resolve/internal/strategy"
)

func TestRegistryLookupUnknown(t *testing.T) {
	r := strategy.NewRegistry()
	_, err := r.Lookup("bogus")
	require.Error(t, err)
	var target *strategy.InvalidStrategyError
	require.ErrorAs(t, err, &target)
	assert.Contains(t, target.Available, "preferFirst")
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := strategy.NewRegistry()
	err := r.Register("", func(v []any, s []strategy.SourceMeta, o strategy.Options) (any, bool) { return nil, false })
	assert.Error(t, err)
}

func TestClearAndRegisterBuiltInsIdempotent(t *testing.T) {
	r := strategy.NewRegistry()
	r.Clear()
	assert.Empty(t, r.Names())
	r.RegisterBuiltIns()
	names1 := r.Names()
	r.RegisterBuiltIns()
	names2 := r.Names()
	assert.Equal(t, names1, names2)
}

// Scenario 3 from spec.md §8: price merge under min/average.
func TestPriceMergeMinAndAverage(t *testing.T) {
	r := strategy.NewRegistry()
	values := []any{29.99, 24.99, 27.50}

	minFn, err := r.Lookup("min")
	require.NoError(t, err)
	v, ok := minFn(values, nil, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, 24.99, v)

	avgFn, err := r.Lookup("average")
	require.NoError(t, err)
	v, ok = avgFn(values, nil, strategy.Options{})
	require.True(t, ok)
	assert.InDelta(t, 27.493333, v.(float64), 1e-4)
}

func TestPreferNonNullSkipsNulls(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("preferNonNull")
	v, ok := fn([]any{nil, nil, "x", "y"}, nil, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = fn([]any{nil, nil}, nil, strategy.Options{})
	assert.False(t, ok)
}

func TestPreferNewerUsesSourceTimestamps(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("preferNewer")
	now := time.Now()
	sources := []strategy.SourceMeta{
		{ID: "a", UpdatedAt: now.Add(-time.Hour)},
		{ID: "b", UpdatedAt: now},
	}
	v, ok := fn([]any{"old", "new"}, sources, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestPreferNewerFallsBackWhenNoTimestamps(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("preferNewer")
	sources := []strategy.SourceMeta{{ID: "a"}, {ID: "b"}}
	v, ok := fn([]any{nil, "first-nonnull"}, sources, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, "first-nonnull", v)
}

func TestConcatenateSkipsEmpties(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("concatenate")
	v, ok := fn([]any{"a", "", nil, "b"}, nil, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, "a, b", v)
}

func TestUnionPreservesFirstSeenOrder(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("union")
	v, ok := fn([]any{[]any{"a", "b"}, []any{"b", "c"}}, nil, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b", "c"}, v)
}

func TestMostFrequentTieBrokenByFirstOccurrence(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("mostFrequent")
	v, ok := fn([]any{"a", "b", "a", "b"}, nil, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestPreferShorterIgnoresEmptyStrings(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("preferShorter")
	v, ok := fn([]any{"", "abc", "a"}, nil, strategy.Options{})
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestCustomStrategyInvokesSuppliedFunc(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("custom")
	called := false
	opts := strategy.Options{CustomMerge: func(values []any, sources []strategy.SourceMeta, o strategy.Options) (any, bool) {
		called = true
		return "custom-value", true
	}}
	v, ok := fn([]any{"a"}, nil, opts)
	require.True(t, ok)
	assert.True(t, called)
	assert.Equal(t, "custom-value", v)
}

func TestCustomStrategyMissingFuncReturnsUndefined(t *testing.T) {
	r := strategy.NewRegistry()
	fn, _ := r.Lookup("custom")
	_, ok := fn([]any{"a"}, nil, strategy.Options{})
	assert.False(t, ok)
}
