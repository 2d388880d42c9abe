package provenance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergeforge/resolve/internal/merge"
	"github.com/mergeforge/resolve/internal/provenance"
	"github.com/mergeforge/resolve/internal/record"
)

func TestSaveAndGetReturnsLatest(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()

	p1 := merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"a", "b"}, MergedAt: time.Now().Add(-time.Hour)}
	p2 := merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"a", "b", "c"}, MergedAt: time.Now()}
	require.NoError(t, s.Save(ctx, p1))
	require.NoError(t, s.Save(ctx, p2))

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.SourceRecordIDs)
}

func TestGetUnknownReturnsErrNotFound(t *testing.T) {
	s := provenance.NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, provenance.ErrNotFound)
}

func TestGetBySourceIDOrdersNewestFirstAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"src"}, MergedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g2", SourceRecordIDs: []string{"src"}, MergedAt: now}))
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g3", SourceRecordIDs: []string{"src"}, MergedAt: now.Add(-time.Hour)}))

	all, err := s.GetBySourceID(ctx, "src", provenance.QueryOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "g2", all[0].GoldenRecordID)
	assert.Equal(t, "g3", all[1].GoldenRecordID)
	assert.Equal(t, "g1", all[2].GoldenRecordID)

	page, err := s.GetBySourceID(ctx, "src", provenance.QueryOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "g3", page[0].GoldenRecordID)
}

func TestGetBySourceIDExcludesUnmergedByDefault(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"src"}}))
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g2", SourceRecordIDs: []string{"src"}}))
	require.NoError(t, s.MarkUnmerged(ctx, "g2", nil, nil, time.Now()))

	visible, err := s.GetBySourceID(ctx, "src", provenance.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "g1", visible[0].GoldenRecordID)

	withUnmerged, err := s.GetBySourceID(ctx, "src", provenance.QueryOptions{IncludeUnmerged: true})
	require.NoError(t, err)
	assert.Len(t, withUnmerged, 2)
}

func TestExistsDeleteCountClear(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"src"}}))

	exists, err := s.Exists(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := s.Count(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.Delete(ctx, "g1"))
	exists, err = s.Exists(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, s.Delete(ctx, "g1"), provenance.ErrNotFound)

	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g2"}))
	require.NoError(t, s.Clear(ctx))
	count, err = s.Count(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestArchiveSourcesRoundTripsByValue(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()

	srcs := []merge.SourceRecord{
		{ID: "a", Record: record.Record{"name": "x"}},
		{ID: "b", Record: record.Record{"name": "y"}},
	}
	require.NoError(t, s.ArchiveSources(ctx, "g1", srcs))

	// Mutating the caller's copy after archiving must not leak into the
	// stored archive: the store owns an independent clone.
	srcs[0].Record["name"] = "mutated"

	got, err := s.GetArchivedSources(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := make(map[string]merge.SourceRecord, len(got))
	for _, sr := range got {
		byID[sr.ID] = sr
	}
	assert.Equal(t, "x", byID["a"].Record["name"])
	assert.Equal(t, "y", byID["b"].Record["name"])
}

func TestRemoveArchivedSourcesDropsOnlyNamedIDs(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	srcs := []merge.SourceRecord{
		{ID: "a", Record: record.Record{"name": "x"}},
		{ID: "b", Record: record.Record{"name": "y"}},
		{ID: "c", Record: record.Record{"name": "z"}},
	}
	require.NoError(t, s.ArchiveSources(ctx, "g1", srcs))

	require.NoError(t, s.RemoveArchivedSources(ctx, "g1", []string{"b"}))

	got, err := s.GetArchivedSources(ctx, "g1")
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, sr := range got {
		ids[i] = sr.ID
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestGetArchivedSourcesEmptyWhenNoneArchived(t *testing.T) {
	s := provenance.NewMemoryStore()
	got, err := s.GetArchivedSources(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteAndClearAlsoRemoveArchive(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1"}))
	require.NoError(t, s.ArchiveSources(ctx, "g1", []merge.SourceRecord{{ID: "a", Record: record.Record{"name": "x"}}}))

	require.NoError(t, s.Delete(ctx, "g1"))
	got, err := s.GetArchivedSources(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g2"}))
	require.NoError(t, s.ArchiveSources(ctx, "g2", []merge.SourceRecord{{ID: "a", Record: record.Record{"name": "x"}}}))
	require.NoError(t, s.Clear(ctx))
	got, err = s.GetArchivedSources(ctx, "g2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkUnmergedFlagsLatestRecord(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1"}))

	by := "reviewer-1"
	reason := "wrong match"
	at := time.Now()
	require.NoError(t, s.MarkUnmerged(ctx, "g1", &by, &reason, at))

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, got.Unmerged)
	assert.Equal(t, "reviewer-1", *got.UnmergedBy)
	assert.Equal(t, "wrong match", *got.UnmergeReason)
}

func TestFieldHistoryCollectsAcrossTimeline(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	require.NoError(t, s.Save(ctx, merge.Provenance{
		GoldenRecordID: "g1",
		FieldSources: map[string]merge.FieldProvenance{
			"email": {ContributingSourceID: "a", StrategyApplied: "preferFirst"},
		},
	}))
	require.NoError(t, s.Save(ctx, merge.Provenance{
		GoldenRecordID: "g1",
		FieldSources: map[string]merge.FieldProvenance{
			"email": {ContributingSourceID: "b", StrategyApplied: "preferNewer"},
		},
	}))

	hist, err := s.FieldHistory(ctx, "g1", "email")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "a", hist[0].ContributingSourceID)
	assert.Equal(t, "b", hist[1].ContributingSourceID)
}

func TestFindGoldenRecordsBySourceDedupes(t *testing.T) {
	ctx := context.Background()
	s := provenance.NewMemoryStore()
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"src"}}))
	require.NoError(t, s.Save(ctx, merge.Provenance{GoldenRecordID: "g1", SourceRecordIDs: []string{"src"}}))

	ids, err := provenance.FindGoldenRecordsBySource(ctx, s, "src")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)
}
