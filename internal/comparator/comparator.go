// Package comparator provides pure, deterministic field-similarity functions
// over two values, each returning a similarity in [0,1].
package comparator

import "strings"

// Options configures a single comparator invocation. Not every field applies
// to every comparator; unused fields are ignored.
type Options struct {
	CaseSensitive    bool
	NullMatchesNull  bool // exact: whether both-null compares equal (default true elsewhere)
	PrefixScale      float64
	MaxPrefixLength  int
	MaxCodeLength    int
	CollapseSpace    bool
}

// DefaultOptions returns the zero-value-safe defaults used when a field
// config supplies no strategy-specific options.
func DefaultOptions() Options {
	return Options{
		NullMatchesNull: true,
		PrefixScale:     0.1,
		MaxPrefixLength: 4,
		MaxCodeLength:   4,
		CollapseSpace:   true,
	}
}

// Func is the common signature every comparator implements.
type Func func(left, right any, opts Options) float64

// Registry of built-in comparator names, mirroring the strategy.Registry
// pattern used by the merge engine.
var builtins = map[string]Func{
	"exact":        Exact,
	"levenshtein":  Levenshtein,
	"jaro-winkler": JaroWinkler,
	"soundex":      Soundex,
	"metaphone":    Metaphone,
}

// Lookup returns the named comparator and whether it was found.
func Lookup(name string) (Func, bool) {
	f, ok := builtins[name]
	return f, ok
}

// Names returns the registered built-in comparator names.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	return names
}

// normalizeString applies whitespace collapse and case folding per opts.
func normalizeString(s string, opts Options) string {
	if opts.CollapseSpace {
		s = strings.Join(strings.Fields(s), " ")
	}
	if !opts.CaseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

// bothNull reports whether both values are nil.
func bothNull(a, b any) bool {
	return a == nil && b == nil
}

// eitherNull reports whether exactly one value is nil.
func eitherNull(a, b any) bool {
	return (a == nil) != (b == nil)
}
