// Package provenance persists the field-level and record-level audit trail
// produced by a merge, and answers the lineage queries built on top of it:
// per-field history, merge timelines, and reverse lookup from a source
// record back to the golden records it contributed to.
package provenance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mergeforge/resolve/internal/merge"
)

// ErrNotFound is returned when a requested provenance record does not exist.
var ErrNotFound = errors.New("provenance: not found")

// SortOrder selects ascending or descending ordering for a query.
type SortOrder string

const (
	SortDesc SortOrder = "desc" // default
	SortAsc  SortOrder = "asc"
)

// QueryOptions bounds, orders, and filters a provenance query.
type QueryOptions struct {
	Limit  int // 0 means unbounded
	Offset int
	// SortOrder orders results by MergedAt; default SortDesc.
	SortOrder SortOrder
	// IncludeUnmerged includes provenance records already flagged Unmerged.
	// Default false: unmerged golden records are filtered out.
	IncludeUnmerged bool
}

// Store persists and queries Provenance records, and archives the source
// records that contributed to each golden record so an unmerge can restore
// them later without the caller having to keep its own copy around.
type Store interface {
	// Save inserts or replaces the provenance record for p.GoldenRecordID.
	Save(ctx context.Context, p merge.Provenance) error
	// Get returns the provenance record for a golden record id.
	Get(ctx context.Context, goldenRecordID string) (merge.Provenance, error)
	// Exists reports whether a provenance record exists for goldenRecordID.
	Exists(ctx context.Context, goldenRecordID string) (bool, error)
	// Delete permanently removes the provenance record for goldenRecordID.
	Delete(ctx context.Context, goldenRecordID string) error
	// Count returns the number of stored provenance records, optionally
	// including ones already flagged Unmerged.
	Count(ctx context.Context, includeUnmerged bool) (int, error)
	// Clear removes every stored provenance record.
	Clear(ctx context.Context) error
	// GetBySourceID returns every provenance record that lists sourceID
	// among its SourceRecordIDs, ordered and paginated per opts.
	GetBySourceID(ctx context.Context, sourceID string, opts QueryOptions) ([]merge.Provenance, error)
	// MarkUnmerged flags a provenance record as unmerged.
	MarkUnmerged(ctx context.Context, goldenRecordID string, by *string, reason *string, at time.Time) error
	// FieldHistory returns the FieldProvenance recorded for one field across
	// every merge that ever touched goldenRecordID, including re-merges
	// saved under the same id.
	FieldHistory(ctx context.Context, goldenRecordID, field string) ([]merge.FieldProvenance, error)
	// MergeTimeline returns every provenance record touching goldenRecordID
	// ordered oldest-first.
	MergeTimeline(ctx context.Context, goldenRecordID string) ([]merge.Provenance, error)

	// ArchiveSources copies (by value) and stores sources as the source
	// records that contributed to goldenRecordID, for later restoration by
	// an unmerge. Overwrites any source already archived under the same id.
	ArchiveSources(ctx context.Context, goldenRecordID string, sources []merge.SourceRecord) error
	// GetArchivedSources returns the source records archived for
	// goldenRecordID, copied by value, in no particular order.
	GetArchivedSources(ctx context.Context, goldenRecordID string) ([]merge.SourceRecord, error)
	// RemoveArchivedSources drops the named source ids from goldenRecordID's
	// archive, e.g. once they have been restored by an unmerge.
	RemoveArchivedSources(ctx context.Context, goldenRecordID string, sourceIDs []string) error
}

// MemoryStore is an in-memory Store, suitable as the default backing store
// and as a reference implementation for persistent backends.
type MemoryStore struct {
	mu          sync.RWMutex
	byGoldenID  map[string][]merge.Provenance // history, oldest first
	sourceIndex map[string]map[string]bool    // sourceID -> set of goldenRecordIDs
	archive     map[string]map[string]merge.SourceRecord // goldenRecordID -> sourceID -> copied source record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byGoldenID:  make(map[string][]merge.Provenance),
		sourceIndex: make(map[string]map[string]bool),
		archive:     make(map[string]map[string]merge.SourceRecord),
	}
}

func (s *MemoryStore) Save(_ context.Context, p merge.Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGoldenID[p.GoldenRecordID] = append(s.byGoldenID[p.GoldenRecordID], p)
	for _, sourceID := range p.SourceRecordIDs {
		set, ok := s.sourceIndex[sourceID]
		if !ok {
			set = make(map[string]bool)
			s.sourceIndex[sourceID] = set
		}
		set[p.GoldenRecordID] = true
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, goldenRecordID string) (merge.Provenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.byGoldenID[goldenRecordID]
	if !ok || len(hist) == 0 {
		return merge.Provenance{}, ErrNotFound
	}
	return hist[len(hist)-1], nil
}

func (s *MemoryStore) GetBySourceID(_ context.Context, sourceID string, opts QueryOptions) ([]merge.Provenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.sourceIndex[sourceID]
	if !ok {
		return nil, nil
	}
	var all []merge.Provenance
	for goldenID := range ids {
		hist := s.byGoldenID[goldenID]
		if len(hist) == 0 {
			continue
		}
		latest := hist[len(hist)-1]
		if latest.Unmerged && !opts.IncludeUnmerged {
			continue
		}
		all = append(all, latest)
	}
	asc := opts.SortOrder == SortAsc
	sort.Slice(all, func(i, j int) bool {
		if asc {
			return all[i].MergedAt.Before(all[j].MergedAt)
		}
		return all[i].MergedAt.After(all[j].MergedAt)
	})

	offset, limit := opts.Offset, opts.Limit
	if offset >= len(all) {
		return []merge.Provenance{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Exists reports whether a provenance record is stored for goldenRecordID.
func (s *MemoryStore) Exists(_ context.Context, goldenRecordID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.byGoldenID[goldenRecordID]
	return ok && len(hist) > 0, nil
}

// Delete permanently removes the provenance history for goldenRecordID.
func (s *MemoryStore) Delete(_ context.Context, goldenRecordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byGoldenID[goldenRecordID]; !ok {
		return ErrNotFound
	}
	delete(s.byGoldenID, goldenRecordID)
	delete(s.archive, goldenRecordID)
	for sourceID, set := range s.sourceIndex {
		delete(set, goldenRecordID)
		if len(set) == 0 {
			delete(s.sourceIndex, sourceID)
		}
	}
	return nil
}

// Count returns the number of golden records with stored provenance,
// optionally including ones already flagged Unmerged.
func (s *MemoryStore) Count(_ context.Context, includeUnmerged bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if includeUnmerged {
		return len(s.byGoldenID), nil
	}
	n := 0
	for _, hist := range s.byGoldenID {
		if len(hist) == 0 {
			continue
		}
		if !hist[len(hist)-1].Unmerged {
			n++
		}
	}
	return n, nil
}

// Clear removes every stored provenance record and resets the secondary
// index.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGoldenID = make(map[string][]merge.Provenance)
	s.sourceIndex = make(map[string]map[string]bool)
	s.archive = make(map[string]map[string]merge.SourceRecord)
	return nil
}

func (s *MemoryStore) MarkUnmerged(_ context.Context, goldenRecordID string, by *string, reason *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist, ok := s.byGoldenID[goldenRecordID]
	if !ok || len(hist) == 0 {
		return ErrNotFound
	}
	last := hist[len(hist)-1]
	last.Unmerged = true
	last.UnmergedAt = &at
	last.UnmergedBy = by
	last.UnmergeReason = reason
	hist[len(hist)-1] = last
	s.byGoldenID[goldenRecordID] = hist
	return nil
}

func (s *MemoryStore) FieldHistory(_ context.Context, goldenRecordID, field string) ([]merge.FieldProvenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.byGoldenID[goldenRecordID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]merge.FieldProvenance, 0, len(hist))
	for _, p := range hist {
		if fp, ok := p.FieldSources[field]; ok {
			out = append(out, fp)
		}
	}
	return out, nil
}

func (s *MemoryStore) MergeTimeline(_ context.Context, goldenRecordID string) ([]merge.Provenance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.byGoldenID[goldenRecordID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]merge.Provenance, len(hist))
	copy(out, hist)
	return out, nil
}

// ArchiveSources copies each source record by value (cloning its payload so
// later mutation of the caller's record does not leak into the archive) and
// stores the copies under goldenRecordID, overwriting any source already
// archived with the same id.
func (s *MemoryStore) ArchiveSources(_ context.Context, goldenRecordID string, sources []merge.SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.archive[goldenRecordID]
	if !ok {
		set = make(map[string]merge.SourceRecord, len(sources))
		s.archive[goldenRecordID] = set
	}
	for _, sr := range sources {
		set[sr.ID] = merge.SourceRecord{
			ID:        sr.ID,
			Record:    sr.Record.Clone(),
			CreatedAt: sr.CreatedAt,
			UpdatedAt: sr.UpdatedAt,
		}
	}
	return nil
}

// GetArchivedSources returns a fresh copy of every source record archived
// under goldenRecordID. Returns an empty slice (not an error) when nothing
// is archived, matching the zero-history convention of an unmerged record
// with no remaining sources.
func (s *MemoryStore) GetArchivedSources(_ context.Context, goldenRecordID string) ([]merge.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.archive[goldenRecordID]
	out := make([]merge.SourceRecord, 0, len(set))
	for _, sr := range set {
		out = append(out, merge.SourceRecord{
			ID:        sr.ID,
			Record:    sr.Record.Clone(),
			CreatedAt: sr.CreatedAt,
			UpdatedAt: sr.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RemoveArchivedSources drops sourceIDs from goldenRecordID's archive. Ids
// not present are ignored.
func (s *MemoryStore) RemoveArchivedSources(_ context.Context, goldenRecordID string, sourceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.archive[goldenRecordID]
	if !ok {
		return nil
	}
	for _, id := range sourceIDs {
		delete(set, id)
	}
	if len(set) == 0 {
		delete(s.archive, goldenRecordID)
	}
	return nil
}

// FindGoldenRecordsBySource is a convenience wrapper over GetBySourceID that
// returns just the golden record ids, deduplicated, excluding any golden
// record that has since been unmerged.
func FindGoldenRecordsBySource(ctx context.Context, s Store, sourceID string) ([]string, error) {
	recs, err := s.GetBySourceID(ctx, sourceID, QueryOptions{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.GoldenRecordID)
	}
	return ids, nil
}
