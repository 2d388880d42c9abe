// Package matching implements field-level similarity scoring and
// threshold-based classification of candidate record pairs.
package matching

import (
	"fmt"

	"github.com/mergeforge/resolve/internal/comparator"
)

// FieldConfig describes how one field path is compared between two records.
type FieldConfig struct {
	Path          string
	Strategy      string // comparator name: exact, levenshtein, jaro-winkler, soundex, metaphone
	Weight        float64
	Threshold     *float64 // optional similarity veto threshold, in [0,1]
	CaseSensitive bool
	// Options tunes the named comparator. Construct it from
	// comparator.DefaultOptions() rather than the zero value — a zero-value
	// Options turns off NullMatchesNull and zeroes PrefixScale/
	// MaxPrefixLength/MaxCodeLength, which is almost never what's wanted.
	Options comparator.Options
}

// Thresholds defines the classification boundaries for a total score.
// Units match ScoreBreakdown.Total (the summed weighted score), not the
// normalized [0,1] total — see SPEC_FULL.md Open Question decisions.
type Thresholds struct {
	NoMatch       float64
	DefiniteMatch float64
}

// Config is the ordered matching configuration for a record type: a
// sequence of field configs plus classification thresholds.
type Config struct {
	Fields     []FieldConfig
	Thresholds Thresholds
}

// Validate checks structural invariants: NoMatch < DefiniteMatch, weights
// are positive, thresholds (when set) are in [0,1], and the configured
// DefiniteMatch threshold is reachable given the sum of field weights.
func (c Config) Validate() error {
	if c.Thresholds.NoMatch >= c.Thresholds.DefiniteMatch {
		return fmt.Errorf("matching: noMatch threshold (%v) must be less than definiteMatch threshold (%v)",
			c.Thresholds.NoMatch, c.Thresholds.DefiniteMatch)
	}
	var sumWeight float64
	for _, f := range c.Fields {
		if f.Weight <= 0 {
			return fmt.Errorf("matching: field %q has non-positive weight %v", f.Path, f.Weight)
		}
		if f.Threshold != nil && (*f.Threshold < 0 || *f.Threshold > 1) {
			return fmt.Errorf("matching: field %q threshold %v out of [0,1]", f.Path, *f.Threshold)
		}
		sumWeight += f.Weight
	}
	if sumWeight > 0 && c.Thresholds.DefiniteMatch > sumWeight {
		return fmt.Errorf("matching: definiteMatch threshold (%v) exceeds the maximum reachable total (%v); no pair could ever classify as definite match",
			c.Thresholds.DefiniteMatch, sumWeight)
	}
	return nil
}

// SumWeights returns the sum of all configured field weights.
func (c Config) SumWeights() float64 {
	var sum float64
	for _, f := range c.Fields {
		sum += f.Weight
	}
	return sum
}
