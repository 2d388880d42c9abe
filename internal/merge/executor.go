// Package merge reconciles two or more source records that have been
// matched as the same real-world entity into a single golden record,
// applying a per-field strategy and recording full provenance for every
// field it writes.
package merge

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mergeforge/resolve/internal/record"
	"github.com/mergeforge/resolve/internal/strategy"
)

// Executor runs merges against a strategy registry.
type Executor struct {
	Strategies *strategy.Registry
}

// NewExecutor returns an Executor backed by a registry pre-loaded with the
// built-in strategies.
func NewExecutor() *Executor {
	reg := strategy.NewRegistry()
	reg.RegisterBuiltIns()
	return &Executor{Strategies: reg}
}

// fieldShape classifies a value as an "object" (nested mapping) or a
// "scalar" (everything else, including arrays — arrays are leaves).
func fieldShape(v any) string {
	switch v.(type) {
	case record.Record:
		return "object"
	case map[string]any:
		return "object"
	default:
		return "scalar"
	}
}

// Merge reconciles req.SourceRecords into a single golden record per
// req.Config, returning full field-level provenance and any conflicts
// surfaced along the way.
func (e *Executor) Merge(req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	if err := req.Config.Validate(); err != nil {
		return Result{}, err
	}

	fields := collectFieldPaths(req)

	golden := make(record.Record)
	fieldSources := make(map[string]FieldProvenance, len(fields))
	var conflicts []Conflict
	contributionsBySource := make(map[string]int)
	fieldsWithConflicts := 0

	for _, path := range fields {
		values := make([]any, len(req.SourceRecords))
		metas := make([]strategy.SourceMeta, len(req.SourceRecords))
		candidates := make([]CandidateValue, 0, len(req.SourceRecords))

		for i, sr := range req.SourceRecords {
			v, _ := sr.Record.Get(path)
			values[i] = v
			metas[i] = strategy.SourceMeta{ID: sr.ID, UpdatedAt: sr.UpdatedAt}
			if v != nil {
				candidates = append(candidates, CandidateValue{SourceID: sr.ID, Value: v})
			}
		}

		if shapeA, shapeB, mismatched := detectShapeMismatch(candidates); mismatched {
			return Result{}, &FieldShapeMismatchError{Field: path, ShapeA: shapeA, ShapeB: shapeB}
		}

		hasConflict := detectConflict(candidates)

		strategyName, opts := req.Config.resolveStrategy(path)
		if opts.DateField != "" {
			for i, sr := range req.SourceRecords {
				dv, _ := sr.Record.Get(opts.DateField)
				switch t := dv.(type) {
				case time.Time:
					metas[i].UpdatedAt = t
				case string:
					if parsed, err := time.Parse(time.RFC3339, t); err == nil {
						metas[i].UpdatedAt = parsed
					}
				}
			}
		}
		if strategyName == "custom" && opts.CustomMerge == nil {
			return Result{}, &CustomStrategyMissingError{Field: path}
		}
		fn, err := e.Strategies.Lookup(strategyName)
		if err != nil {
			return Result{}, &InvalidStrategyError{Field: path, Strategy: strategyName}
		}

		if hasConflict && req.Config.ConflictResolution == ConflictError {
			return Result{}, &MergeConflictError{Field: path, Values: candidates}
		}

		value, ok := fn(values, metas, opts)

		resolution := ""
		note := ""
		if hasConflict {
			fieldsWithConflicts++
			if req.Config.ConflictResolution == ConflictMarkConflict {
				resolution = "deferred"
				note = "multiple disagreeing non-null values; field left unset in the golden record pending review"
			} else {
				resolution = "auto"
			}
			conflicts = append(conflicts, Conflict{
				Field:         path,
				Values:        candidates,
				Resolution:    resolution,
				ResolvedValue: value,
			})
		}

		deferred := hasConflict && req.Config.ConflictResolution == ConflictMarkConflict

		contributingID := ""
		if ok && !deferred {
			contributingID = attributeSource(value, req.SourceRecords, path)
			if contributingID != "" {
				contributionsBySource[contributingID]++
			}
			if err := golden.Set(path, value); err != nil {
				return Result{}, &ValidationError{Reason: err.Error()}
			}
		}

		fieldSources[path] = FieldProvenance{
			ContributingSourceID: contributingID,
			StrategyApplied:      strategyName,
			Candidates:           candidates,
			HadConflict:          hasConflict,
			Resolution:           resolution,
			ResolutionNote:       note,
		}
	}

	goldenID := ""
	switch {
	case req.TargetRecordID != nil && *req.TargetRecordID != "":
		goldenID = *req.TargetRecordID
	case len(req.SourceRecords) > 0:
		goldenID = req.SourceRecords[0].ID
	default:
		goldenID = uuid.New().String()
	}

	sourceIDs := make([]string, len(req.SourceRecords))
	for i, sr := range req.SourceRecords {
		sourceIDs[i] = sr.ID
	}

	prov := Provenance{
		GoldenRecordID:  goldenID,
		SourceRecordIDs: sourceIDs,
		MergedAt:        time.Now().UTC(),
		MergedBy:        req.MergedBy,
		QueueItemID:     req.QueueItemID,
		FieldSources:    fieldSources,
		StrategyUsed:    req.Config.DefaultStrategy,
	}

	return Result{
		GoldenRecord:   golden,
		GoldenRecordID: goldenID,
		Provenance:     prov,
		SourceRecords:  req.SourceRecords,
		Conflicts:      conflicts,
		Stats: Stats{
			TotalFields:           len(fields),
			FieldsWithConflicts:   fieldsWithConflicts,
			ContributionsBySource: contributionsBySource,
		},
	}, nil
}

func validateRequest(req Request) error {
	if len(req.SourceRecords) < 2 {
		return &InsufficientSourceRecordsError{Count: len(req.SourceRecords)}
	}
	seen := make(map[string]bool, len(req.SourceRecords))
	for _, sr := range req.SourceRecords {
		if sr.ID == "" {
			return &ValidationError{Reason: "source record has an empty id"}
		}
		if seen[sr.ID] {
			return &ValidationError{Reason: "duplicate source record id " + sr.ID}
		}
		seen[sr.ID] = true
		if sr.Record == nil {
			return &ValidationError{Reason: "source record " + sr.ID + " has a nil payload"}
		}
	}
	return nil
}

// collectFieldPaths unions every source record's leaf paths with the
// request's declared schema, sorted for deterministic iteration.
func collectFieldPaths(req Request) []string {
	set := make(map[string]bool)
	for _, sr := range req.SourceRecords {
		for _, p := range sr.Record.Paths() {
			set[p] = true
		}
	}
	for _, p := range req.Schema {
		set[p] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// detectShapeMismatch reports the two shapes in conflict, if any candidate
// values disagree on whether the field is a nested mapping or a scalar.
func detectShapeMismatch(candidates []CandidateValue) (string, string, bool) {
	shape := ""
	for _, c := range candidates {
		s := fieldShape(c.Value)
		if shape == "" {
			shape = s
			continue
		}
		if s != shape {
			return shape, s, true
		}
	}
	return "", "", false
}

// detectConflict reports whether two or more candidate values disagree
// (pairwise structural inequality among non-null values).
func detectConflict(candidates []CandidateValue) bool {
	for i := 1; i < len(candidates); i++ {
		if !record.DeepEqual(candidates[0].Value, candidates[i].Value) {
			return true
		}
	}
	return false
}

// attributeSource finds which source record actually contributed the
// chosen value (by structural equality) and falls back to the first
// source record when the value was derived (e.g. average, concatenate).
func attributeSource(value any, sources []SourceRecord, path string) string {
	for _, sr := range sources {
		if v, ok := sr.Record.Get(path); ok && record.DeepEqual(v, value) {
			return sr.ID
		}
	}
	if len(sources) > 0 {
		return sources[0].ID
	}
	return ""
}
