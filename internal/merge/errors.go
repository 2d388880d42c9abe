package merge

import "fmt"

// InsufficientSourceRecordsError is raised when fewer than two source
// records are supplied to a merge.
type InsufficientSourceRecordsError struct {
	Count int
}

func (e *InsufficientSourceRecordsError) Error() string {
	return fmt.Sprintf("merge: at least 2 source records are required, got %d", e.Count)
}

// ValidationError wraps a precondition failure on the merge request itself
// (duplicate or empty ids, invalid timestamps, non-mapping payloads).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("merge: validation failed: %s", e.Reason)
}

// CustomStrategyMissingError is raised when a field is configured with the
// "custom" strategy but no CustomMerge function was supplied.
type CustomStrategyMissingError struct {
	Field string
}

func (e *CustomStrategyMissingError) Error() string {
	return fmt.Sprintf("merge: field %q uses the custom strategy but no customMerge function was supplied", e.Field)
}

// InvalidStrategyError is raised when a field resolves to a strategy name
// that is not registered.
type InvalidStrategyError struct {
	Field    string
	Strategy string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("merge: field %q references unknown strategy %q", e.Field, e.Strategy)
}

// MergeConflictError is raised (aborting the merge) when
// ConflictResolution == ConflictError and a field has two or more
// disagreeing non-null values.
type MergeConflictError struct {
	Field  string
	Values []CandidateValue
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge: conflicting values for field %q across %d sources", e.Field, len(e.Values))
}

// FieldShapeMismatchError is raised when two source records' non-null values
// disagree on whether a path is a scalar or a nested mapping. Schema paths
// carry no shape and are not checked. See SPEC_FULL.md Open Question
// decisions.
type FieldShapeMismatchError struct {
	Field    string
	ShapeA   string
	ShapeB   string
}

func (e *FieldShapeMismatchError) Error() string {
	return fmt.Sprintf("merge: field %q has incompatible shapes across sources (%s vs %s)", e.Field, e.ShapeA, e.ShapeB)
}
