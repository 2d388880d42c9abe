package resolve

import (
	"context"

	"github.com/mergeforge/resolve/internal/merge"
	"github.com/mergeforge/resolve/internal/provenance"
)

// ProvenanceStore persists merge provenance records. The in-process
// MemoryStore is wired by default; WithProvenanceStore replaces it with a
// caller-supplied persistent implementation (Postgres, etc.) — the
// database itself is out of scope for this module, which only defines the
// contract a caller's adapter must satisfy.
type ProvenanceStore = provenance.Store

// Operator is a comparison used by a FilterCriteria value.
type Operator string

const (
	OpEq   Operator = "eq"
	OpNe   Operator = "ne"
	OpGt   Operator = "gt"
	OpGte  Operator = "gte"
	OpLt   Operator = "lt"
	OpLte  Operator = "lte"
	OpIn   Operator = "in"
	OpLike Operator = "like"
)

// FilterCriterion is either a bare literal (match by equality) or an
// explicit {Operator, Value} pair.
type FilterCriterion struct {
	Operator Operator
	Value    any
}

// QueryOptions bounds and orders a database adapter query.
type QueryOptions struct {
	Limit   int // default 1000
	Offset  int
	OrderBy string
	Fields  []string
}

// DatabaseAdapter is the storage contract the matching/merge pipeline is
// built against. This module never implements it — persistence is an
// external collaborator, supplied by the embedding application — but
// declares the contract so that application can plug in Postgres, MySQL,
// or an in-memory fake behind the same interface.
type DatabaseAdapter interface {
	FindByBlockingKeys(ctx context.Context, keys map[string]any, opts QueryOptions) ([]Record, error)
	FindByIDs(ctx context.Context, ids []string) ([]Record, error)
	FindAll(ctx context.Context, opts QueryOptions) ([]Record, error)
	Count(ctx context.Context, filter map[string]FilterCriterion) (int, error)
	Insert(ctx context.Context, rec Record) (string, error)
	Update(ctx context.Context, id string, rec Record) error
	Delete(ctx context.Context, id string) error
	BatchInsert(ctx context.Context, recs []Record) ([]string, error)
	BatchUpdate(ctx context.Context, updates map[string]Record) error
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// QueueAdapter is the persistence contract for review-queue items,
// restricted to the same CRUD shape as DatabaseAdapter. The in-process
// queue.Queue this module wires by default does not implement it (its Get
// and List take no context and List returns no error); an application that
// needs durability implements this against its own storage.
type QueueAdapter interface {
	Add(ctx context.Context, item QueueItem) (string, error)
	Get(ctx context.Context, id string) (QueueItem, error)
	List(ctx context.Context, filter QueueFilter) ([]QueueItem, error)
	Update(ctx context.Context, item QueueItem) error
	Delete(ctx context.Context, id string) error
}

// MergeHook receives notifications when a merge or unmerge completes.
// Multiple hooks may be registered via multiple WithMergeHook calls. Hook
// methods run synchronously on the calling goroutine after the operation
// succeeds; a hook that needs to do slow work should dispatch its own
// goroutine and must not block the caller indefinitely.
type MergeHook interface {
	OnMerged(ctx context.Context, result MergeResult)
	OnUnmerged(ctx context.Context, goldenRecordID string, result UnmergeResult)
}

// ReviewHook receives notifications when a review-queue item is decided.
type ReviewHook interface {
	OnReviewDecided(ctx context.Context, item QueueItem)
}

// mergeHookAdapter lets the root package pass MergeResult/Provenance
// values straight through to hooks without exposing internal/merge to
// callers beyond the aliased public types.
type mergeHookAdapter struct {
	hooks []MergeHook
}

func (a *mergeHookAdapter) notifyMerged(ctx context.Context, res merge.Result) {
	for _, h := range a.hooks {
		h.OnMerged(ctx, res)
	}
}

func (a *mergeHookAdapter) notifyUnmerged(ctx context.Context, goldenRecordID string, res UnmergeResult) {
	for _, h := range a.hooks {
		h.OnUnmerged(ctx, goldenRecordID, res)
	}
}
