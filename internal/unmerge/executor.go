// Package unmerge reverses a previous merge: either entirely (full),
// removing a subset of contributing sources (partial), or splitting a
// golden record's sources into two independent golden records (split).
package unmerge

import (
	"context"
	"errors"
	"time"

	"github.com/mergeforge/resolve/internal/merge"
	"github.com/mergeforge/resolve/internal/provenance"
)

// Mode selects how an unmerge is carried out.
type Mode string

const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
	ModeSplit   Mode = "split"
)

// ErrAlreadyUnmerged is returned when a golden record has already been
// unmerged and canUnmerge rejects a second attempt.
var ErrAlreadyUnmerged = errors.New("unmerge: golden record was already unmerged")

// ErrInsufficientSources is returned when a partial/split unmerge would
// leave fewer than two source records behind, or a split selects no source
// to split off. Unknown source ids yield SourceRecordNotFoundError instead.
var ErrInsufficientSources = errors.New("unmerge: not enough remaining source records")

// SourceRecordNotFoundError is raised when a partial/split unmerge names a
// source record id in RemoveSourceIDs that isn't present in the golden
// record's archived sources.
type SourceRecordNotFoundError struct {
	GoldenRecordID string
	SourceID       string
}

func (e *SourceRecordNotFoundError) Error() string {
	return "unmerge: source record " + e.SourceID + " not found in archive for golden record " + e.GoldenRecordID
}

// validateRequestedSources reports SourceRecordNotFoundError if any id in
// requested isn't present among the archived source records.
func validateRequestedSources(goldenRecordID string, archived []merge.SourceRecord, requested []string) error {
	present := make(map[string]bool, len(archived))
	for _, sr := range archived {
		present[sr.ID] = true
	}
	for _, id := range requested {
		if !present[id] {
			return &SourceRecordNotFoundError{GoldenRecordID: goldenRecordID, SourceID: id}
		}
	}
	return nil
}

// RestoreFunc is invoked once per source record being detached, so the
// caller can reinstate it as a standalone record outside the golden record.
type RestoreFunc func(ctx context.Context, sr merge.SourceRecord) error

// DeleteFunc is invoked to retire a golden record id (full unmerge, or the
// original id in a split) once its sources have been detached.
type DeleteFunc func(ctx context.Context, goldenRecordID string) error

// Request describes one unmerge operation. The source records being
// restored are fetched from the provenance store's archive (populated at
// merge time) rather than supplied by the caller.
type Request struct {
	GoldenRecordID string
	Mode           Mode
	// RemoveSourceIDs selects which sources to detach for ModePartial, or
	// which sources form the new split-off golden record for ModeSplit.
	RemoveSourceIDs []string
	MergeConfig     merge.Config
	By              *string
	Reason          *string
	Restore         RestoreFunc
	DeleteGolden    DeleteFunc
}

// Result reports what happened.
type Result struct {
	Mode              Mode
	RemovedSourceIDs  []string
	RemainingMerge    *merge.Result // re-merged golden record for ModePartial/ModeSplit's remainder; nil for ModeFull
	SplitOffMerge     *merge.Result // the new golden record produced for ModeSplit; nil otherwise
}

// Executor carries out unmerges and keeps the provenance store in sync.
type Executor struct {
	Provenance provenance.Store
	Merge      *merge.Executor
}

// NewExecutor wires an unmerge executor to a provenance store and the merge
// executor used to re-derive remaining/split golden records.
func NewExecutor(store provenance.Store, mergeExecutor *merge.Executor) *Executor {
	return &Executor{Provenance: store, Merge: mergeExecutor}
}

// CanUnmerge reports whether prov is eligible for unmerge: it must exist,
// not already be unmerged, and have at least two source records.
func CanUnmerge(prov merge.Provenance) bool {
	return !prov.Unmerged && len(prov.SourceRecordIDs) >= 2
}

// EligibilityCheck is the result of CheckUnmerge.
type EligibilityCheck struct {
	CanUnmerge bool
	Reason     string
	Provenance *merge.Provenance
}

// CheckUnmerge performs the same preconditions Unmerge enforces, without any
// side effects: it fetches the stored provenance for goldenRecordID and
// reports whether an unmerge would be allowed.
func (e *Executor) CheckUnmerge(ctx context.Context, goldenRecordID string) (EligibilityCheck, error) {
	prov, err := e.Provenance.Get(ctx, goldenRecordID)
	if err != nil {
		if errors.Is(err, provenance.ErrNotFound) {
			return EligibilityCheck{CanUnmerge: false, Reason: "no provenance record for this golden record id"}, nil
		}
		return EligibilityCheck{}, err
	}
	if prov.Unmerged {
		return EligibilityCheck{CanUnmerge: false, Reason: "already unmerged", Provenance: &prov}, nil
	}
	if len(prov.SourceRecordIDs) < 2 {
		return EligibilityCheck{CanUnmerge: false, Reason: "fewer than two source records", Provenance: &prov}, nil
	}
	return EligibilityCheck{CanUnmerge: true, Provenance: &prov}, nil
}

// Unmerge reverses req.GoldenRecordID per req.Mode, restoring source
// records fetched from the provenance store's archive (step 1 of §4.6:
// "Fetch archived source records by the ids being restored; if any missing
// → SourceRecordNotFoundError").
func (e *Executor) Unmerge(ctx context.Context, req Request) (Result, error) {
	prov, err := e.Provenance.Get(ctx, req.GoldenRecordID)
	if err != nil {
		return Result{}, err
	}
	if !CanUnmerge(prov) {
		return Result{}, ErrAlreadyUnmerged
	}
	archived, err := e.Provenance.GetArchivedSources(ctx, req.GoldenRecordID)
	if err != nil {
		return Result{}, err
	}

	switch req.Mode {
	case ModeFull:
		return e.unmergeFull(ctx, req, prov, archived)
	case ModePartial:
		return e.unmergePartial(ctx, req, prov, archived)
	case ModeSplit:
		return e.unmergeSplit(ctx, req, prov, archived)
	default:
		return Result{}, errors.New("unmerge: unknown mode " + string(req.Mode))
	}
}

func (e *Executor) unmergeFull(ctx context.Context, req Request, prov merge.Provenance, archived []merge.SourceRecord) (Result, error) {
	if err := e.restoreAll(ctx, archived, req.Restore); err != nil {
		return Result{}, err
	}
	if req.DeleteGolden != nil {
		if err := req.DeleteGolden(ctx, req.GoldenRecordID); err != nil {
			return Result{}, err
		}
	}
	now := time.Now().UTC()
	if err := e.Provenance.MarkUnmerged(ctx, req.GoldenRecordID, req.By, req.Reason, now); err != nil {
		return Result{}, err
	}
	if err := e.Provenance.RemoveArchivedSources(ctx, req.GoldenRecordID, prov.SourceRecordIDs); err != nil {
		return Result{}, err
	}
	return Result{Mode: ModeFull, RemovedSourceIDs: prov.SourceRecordIDs}, nil
}

func (e *Executor) unmergePartial(ctx context.Context, req Request, prov merge.Provenance, archived []merge.SourceRecord) (Result, error) {
	if err := validateRequestedSources(req.GoldenRecordID, archived, req.RemoveSourceIDs); err != nil {
		return Result{}, err
	}
	removeSet := toSet(req.RemoveSourceIDs)
	var toRestore, remaining []merge.SourceRecord
	for _, sr := range archived {
		if removeSet[sr.ID] {
			toRestore = append(toRestore, sr)
		} else {
			remaining = append(remaining, sr)
		}
	}
	if len(remaining) < 2 {
		return Result{}, ErrInsufficientSources
	}

	if err := e.restoreAll(ctx, toRestore, req.Restore); err != nil {
		return Result{}, err
	}

	remergeReq := merge.Request{
		SourceRecords:  remaining,
		TargetRecordID: &req.GoldenRecordID,
		Config:         req.MergeConfig,
		MergedBy:       req.By,
	}
	res, err := e.Merge.Merge(remergeReq)
	if err != nil {
		return Result{}, err
	}
	if err := e.Provenance.Save(ctx, res.Provenance); err != nil {
		return Result{}, err
	}
	if err := e.Provenance.RemoveArchivedSources(ctx, req.GoldenRecordID, req.RemoveSourceIDs); err != nil {
		return Result{}, err
	}

	return Result{
		Mode:             ModePartial,
		RemovedSourceIDs: req.RemoveSourceIDs,
		RemainingMerge:   &res,
	}, nil
}

func (e *Executor) unmergeSplit(ctx context.Context, req Request, prov merge.Provenance, archived []merge.SourceRecord) (Result, error) {
	if err := validateRequestedSources(req.GoldenRecordID, archived, req.RemoveSourceIDs); err != nil {
		return Result{}, err
	}
	splitSet := toSet(req.RemoveSourceIDs)
	var splitOff, remaining []merge.SourceRecord
	for _, sr := range archived {
		if splitSet[sr.ID] {
			splitOff = append(splitOff, sr)
		} else {
			remaining = append(remaining, sr)
		}
	}
	if len(splitOff) < 1 || len(remaining) < 2 {
		return Result{}, ErrInsufficientSources
	}

	now := time.Now().UTC()
	if err := e.Provenance.MarkUnmerged(ctx, req.GoldenRecordID, req.By, req.Reason, now); err != nil {
		return Result{}, err
	}

	remergeReq := merge.Request{
		SourceRecords:  remaining,
		TargetRecordID: &req.GoldenRecordID,
		Config:         req.MergeConfig,
		MergedBy:       req.By,
	}
	remergeRes, err := e.Merge.Merge(remergeReq)
	if err != nil {
		return Result{}, err
	}
	if err := e.Provenance.Save(ctx, remergeRes.Provenance); err != nil {
		return Result{}, err
	}
	// The split-off sources leave the original golden record's archive
	// regardless of whether they form a new golden record below.
	if err := e.Provenance.RemoveArchivedSources(ctx, req.GoldenRecordID, req.RemoveSourceIDs); err != nil {
		return Result{}, err
	}

	var splitRes *merge.Result
	if len(splitOff) >= 2 {
		sReq := merge.Request{SourceRecords: splitOff, Config: req.MergeConfig, MergedBy: req.By}
		r, err := e.Merge.Merge(sReq)
		if err != nil {
			return Result{}, err
		}
		if err := e.Provenance.Save(ctx, r.Provenance); err != nil {
			return Result{}, err
		}
		if err := e.Provenance.ArchiveSources(ctx, r.GoldenRecordID, splitOff); err != nil {
			return Result{}, err
		}
		splitRes = &r
	} else if req.Restore != nil {
		if err := req.Restore(ctx, splitOff[0]); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Mode:             ModeSplit,
		RemovedSourceIDs: req.RemoveSourceIDs,
		RemainingMerge:   &remergeRes,
		SplitOffMerge:    splitRes,
	}, nil
}

func (e *Executor) restoreAll(ctx context.Context, srs []merge.SourceRecord, restore RestoreFunc) error {
	if restore == nil {
		return nil
	}
	for _, sr := range srs {
		if err := restore(ctx, sr); err != nil {
			return err
		}
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
