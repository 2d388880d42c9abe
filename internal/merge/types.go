package merge

import (
	"strings"
	"time"

	"github.com/mergeforge/resolve/internal/record"
	"github.com/mergeforge/resolve/internal/strategy"
)

// SourceRecord is one input to a merge: an identifier, its payload, and
// provenance timestamps.
type SourceRecord struct {
	ID        string
	Record    record.Record
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConflictResolution selects how the executor handles disagreeing non-null
// values for a field.
type ConflictResolution string

const (
	ConflictUseDefault    ConflictResolution = "useDefault"
	ConflictMarkConflict  ConflictResolution = "markConflict"
	ConflictError         ConflictResolution = "error"
)

// FieldStrategy pins a specific strategy (and its options) to one field
// path or to a path prefix ("parent.*" semantics — see resolveStrategy).
type FieldStrategy struct {
	Path     string
	Strategy string
	Options  strategy.Options
}

// Config controls how an entire merge is reconciled.
type Config struct {
	DefaultStrategy    string
	FieldStrategies    []FieldStrategy
	TrackProvenance    bool
	ConflictResolution ConflictResolution
}

// Validate checks that field strategies do not duplicate a path.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for _, fs := range c.FieldStrategies {
		if seen[fs.Path] {
			return &ValidationError{Reason: "duplicate field strategy for path " + fs.Path}
		}
		seen[fs.Path] = true
	}
	return nil
}

// resolveStrategy picks the strategy name + options for a field path:
// explicit field config > longest parent-path match > defaultStrategy.
func (c Config) resolveStrategy(path string) (string, strategy.Options) {
	var best *FieldStrategy
	for i := range c.FieldStrategies {
		fs := &c.FieldStrategies[i]
		if fs.Path == path {
			return fs.Strategy, fs.Options
		}
		if isParentPath(fs.Path, path) {
			if best == nil || len(fs.Path) > len(best.Path) {
				best = fs
			}
		}
	}
	if best != nil {
		return best.Strategy, best.Options
	}
	return c.DefaultStrategy, strategy.Options{}
}

// isParentPath reports whether parent is a dot-path ancestor of path (e.g.
// "address" is a parent of "address.city").
func isParentPath(parent, path string) bool {
	return strings.HasPrefix(path, parent+".")
}

// CandidateValue pairs a source record id with the value it contributed for
// one field.
type CandidateValue struct {
	SourceID string
	Value    any
}

// FieldProvenance documents how one field of the golden record was derived.
type FieldProvenance struct {
	ContributingSourceID string
	StrategyApplied      string
	Candidates           []CandidateValue
	HadConflict          bool
	Resolution           string // "auto" | "deferred" | ""
	ResolutionNote        string
}

// Provenance is the whole-record audit trail for one merge.
type Provenance struct {
	GoldenRecordID  string
	SourceRecordIDs []string
	MergedAt        time.Time
	MergedBy        *string
	QueueItemID     *string
	FieldSources    map[string]FieldProvenance
	StrategyUsed    string
	Unmerged        bool
	UnmergedAt      *time.Time
	UnmergedBy      *string
	UnmergeReason   *string
}

// Conflict records one field-level disagreement surfaced during a merge.
type Conflict struct {
	Field         string
	Values        []CandidateValue
	Resolution    string // "auto" | "deferred"
	ResolvedValue any
	Note          string
}

// Stats summarizes one merge's outcome.
type Stats struct {
	TotalFields           int
	FieldsWithConflicts   int
	ContributionsBySource map[string]int
}

// Request is the input to Executor.Merge.
type Request struct {
	SourceRecords  []SourceRecord
	TargetRecordID *string
	Schema         []string // optional field paths that must be considered even if absent from every source
	Config         Config
	MergedBy       *string
	QueueItemID    *string
}

// Result is the output of a successful merge.
type Result struct {
	GoldenRecord   record.Record
	GoldenRecordID string
	Provenance     Provenance
	SourceRecords  []SourceRecord
	Conflicts      []Conflict
	Stats          Stats
}
