package matching

import (
	"sort"

	"github.com/mergeforge/resolve/internal/comparator"
	"github.com/mergeforge/resolve/internal/record"
)

// RecordRef is one side of a candidate pair: an identifier, optional source
// tag, and the record payload.
type RecordRef struct {
	ID     string
	Source *string
	Data   record.Record
}

// Pair is two records presented to the matching engine for scoring.
type Pair struct {
	Left  RecordRef
	Right RecordRef
}

// Classification is the outcome of comparing a pair against Thresholds.
type Classification string

const (
	NoMatchClass       Classification = "no_match"
	PossibleMatchClass Classification = "possible_match"
	DefiniteMatchClass Classification = "definite_match"
)

// FieldScore is the per-field contribution to a ScoreBreakdown.
type FieldScore struct {
	Field         string
	Strategy      string
	LeftValue     any
	RightValue    any
	Similarity    float64
	Weight        float64
	WeightedScore float64
}

// ScoreBreakdown is the full result of comparing one candidate pair.
type ScoreBreakdown struct {
	Fields          []FieldScore
	Total           float64
	NormalizedTotal float64
	Classification  Classification
}

// Engine aggregates per-field comparisons into a weighted score and
// classifies the result.
type Engine struct {
	Config Config
}

// NewEngine constructs an Engine from a validated Config.
func NewEngine(cfg Config) *Engine {
	return &Engine{Config: cfg}
}

// Compare scores a candidate pair against the engine's Config. Missing
// fields (absent on both sides) are vacuously similar (similarity 1); a
// per-field similarity Threshold, when configured, vetoes the contribution
// to 0 if similarity falls short — it never scales the score up or down
// otherwise.
func (e *Engine) Compare(pair Pair) (ScoreBreakdown, error) {
	var breakdown ScoreBreakdown
	var total float64

	for _, fc := range e.Config.Fields {
		fn, ok := comparator.Lookup(fc.Strategy)
		if !ok {
			return ScoreBreakdown{}, &InvalidStrategyError{Strategy: fc.Strategy}
		}

		leftVal, leftOK := pair.Left.Data.Get(fc.Path)
		rightVal, rightOK := pair.Right.Data.Get(fc.Path)

		var sim float64
		if !leftOK && !rightOK {
			sim = 1 // vacuous match
		} else {
			opts := fc.Options
			opts.CaseSensitive = fc.CaseSensitive
			sim = fn(leftVal, rightVal, opts)
		}

		if fc.Threshold != nil && sim < *fc.Threshold {
			sim = 0 // veto: below-threshold similarity contributes nothing
		}

		weighted := sim * fc.Weight
		total += weighted

		breakdown.Fields = append(breakdown.Fields, FieldScore{
			Field:         fc.Path,
			Strategy:      fc.Strategy,
			LeftValue:     leftVal,
			RightValue:    rightVal,
			Similarity:    sim,
			Weight:        fc.Weight,
			WeightedScore: weighted,
		})
	}

	breakdown.Total = total
	if sumW := e.Config.SumWeights(); sumW > 0 {
		breakdown.NormalizedTotal = total / sumW
	}
	breakdown.Classification = classify(total, e.Config.Thresholds)
	return breakdown, nil
}

func classify(total float64, th Thresholds) Classification {
	switch {
	case total < th.NoMatch:
		return NoMatchClass
	case total > th.DefiniteMatch:
		return DefiniteMatchClass
	default:
		return PossibleMatchClass
	}
}

// ScoredPair pairs a candidate Pair with its ScoreBreakdown.
type ScoredPair struct {
	Pair      Pair
	Breakdown ScoreBreakdown
}

// SortCandidates sorts scored pairs by Total descending, breaking ties by
// left-id then right-id lexicographically for stable ordering.
func SortCandidates(pairs []ScoredPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		pi, pj := pairs[i], pairs[j]
		if pi.Breakdown.Total != pj.Breakdown.Total {
			return pi.Breakdown.Total > pj.Breakdown.Total
		}
		if pi.Pair.Left.ID != pj.Pair.Left.ID {
			return pi.Pair.Left.ID < pj.Pair.Left.ID
		}
		return pi.Pair.Right.ID < pj.Pair.Right.ID
	})
}
