// Package resolve is the public API for embedding the entity-resolution and
// golden-record toolkit.
//
// Library consumers import this package to construct a ready-to-use
// Toolkit without reaching into internal/*:
//
//	tk, err := resolve.New(
//	    resolve.WithLogger(logger),
//	    resolve.WithPlugin(resolve.RegisteredPlugin{Plugin: myLookup, Phase: resolve.PhasePreMatch}),
//	)
//	if err != nil { ... }
//	defer tk.Close(ctx)
//
// The import graph enforces a strict no-cycle rule: resolve (root) imports
// internal/*, but internal/* never imports resolve (root). Public types
// (Pair, MergeRequest, etc.) are thin aliases over their internal
// counterparts so callers never import internal/* directly.
package resolve

import (
	"github.com/mergeforge/resolve/internal/comparator"
	"github.com/mergeforge/resolve/internal/matching"
	"github.com/mergeforge/resolve/internal/merge"
	"github.com/mergeforge/resolve/internal/provenance"
	"github.com/mergeforge/resolve/internal/queue"
	"github.com/mergeforge/resolve/internal/record"
	"github.com/mergeforge/resolve/internal/resilience"
	"github.com/mergeforge/resolve/internal/service"
	"github.com/mergeforge/resolve/internal/strategy"
	"github.com/mergeforge/resolve/internal/unmerge"
)

// Record is a dot-path-addressable field map — the unit of data every
// component in the toolkit operates on.
type Record = record.Record

// ComparatorOptions tunes a field comparator (case sensitivity, numeric
// tolerance, phonetic code length, ...).
type ComparatorOptions = comparator.Options

// MatchingConfig configures the matching engine: per-field comparators and
// weights plus classification thresholds.
type MatchingConfig = matching.Config

// FieldConfig pins one field's comparator, weight, and options within a
// MatchingConfig.
type FieldConfig = matching.FieldConfig

// Thresholds classify a ScoreBreakdown's total into no/possible/definite
// match.
type Thresholds = matching.Thresholds

// RecordRef is one side of a candidate pair: an identifier, optional
// source tag, and the record payload.
type RecordRef = matching.RecordRef

// Pair is two records presented to the matching engine for scoring.
type Pair = matching.Pair

// Classification is the outcome of comparing a pair against Thresholds.
type Classification = matching.Classification

// ScoreBreakdown is the full result of comparing one candidate pair.
type ScoreBreakdown = matching.ScoreBreakdown

// ScoredPair pairs a Pair with its ScoreBreakdown for sorting/ranking.
type ScoredPair = matching.ScoredPair

const (
	NoMatch       = matching.NoMatchClass
	PossibleMatch = matching.PossibleMatchClass
	DefiniteMatch = matching.DefiniteMatchClass
)

// StrategyFunc implements a named merge strategy: given the candidate
// values, their source metadata, and any strategy-specific options,
// returns the reconciled value (or ok=false if no value could be
// determined).
type StrategyFunc = strategy.Func

// SourceMeta is the provenance metadata a strategy sees for one candidate
// value.
type SourceMeta = strategy.SourceMeta

// StrategyOptions carries strategy-specific tuning (separator, custom
// merge func, ...).
type StrategyOptions = strategy.Options

// SourceRecord is one input to a merge: an identifier, its payload, and
// provenance timestamps.
type SourceRecord = merge.SourceRecord

// MergeConfig controls how an entire merge is reconciled: default
// strategy, per-field overrides, conflict handling.
type MergeConfig = merge.Config

// FieldStrategy pins a specific strategy to one field path or path
// prefix.
type FieldStrategy = merge.FieldStrategy

// ConflictResolution selects how the executor handles disagreeing
// non-null values for a field.
type ConflictResolution = merge.ConflictResolution

const (
	ConflictUseDefault   = merge.ConflictUseDefault
	ConflictMarkConflict = merge.ConflictMarkConflict
	ConflictError        = merge.ConflictError
)

// MergeRequest is the input to Toolkit.Merge.
type MergeRequest = merge.Request

// MergeResult is the output of a successful merge.
type MergeResult = merge.Result

// Provenance is the whole-record audit trail produced by a merge.
type Provenance = merge.Provenance

// UnmergeMode selects how much of a prior merge Toolkit.Unmerge reverses.
type UnmergeMode = unmerge.Mode

const (
	UnmergeFull    = unmerge.ModeFull
	UnmergePartial = unmerge.ModePartial
	UnmergeSplit   = unmerge.ModeSplit
)

// UnmergeRequest is the input to Toolkit.Unmerge.
type UnmergeRequest = unmerge.Request

// UnmergeResult is the output of Toolkit.Unmerge.
type UnmergeResult = unmerge.Result

// UnmergeEligibility is the output of Toolkit.CanUnmerge.
type UnmergeEligibility = unmerge.EligibilityCheck

// ProvenanceQueryOptions bounds, orders, and filters a call to
// ProvenanceStore.GetBySourceID.
type ProvenanceQueryOptions = provenance.QueryOptions

// ProvenanceSortOrder selects ascending or descending ordering for a
// ProvenanceQueryOptions query.
type ProvenanceSortOrder = provenance.SortOrder

const (
	ProvenanceSortDesc = provenance.SortDesc
	ProvenanceSortAsc  = provenance.SortAsc
)

// ErrProvenanceNotFound is returned by ProvenanceStore methods when the
// requested golden record id has no provenance recorded.
var ErrProvenanceNotFound = provenance.ErrNotFound

// QueueItem is one entry in the human review queue.
type QueueItem = queue.Item

// QueueStatus is a review item's lifecycle state.
type QueueStatus = queue.Status

const (
	QueueStatusPending   = queue.StatusPending
	QueueStatusReviewing = queue.StatusReviewing
	QueueStatusConfirmed = queue.StatusConfirmed
	QueueStatusRejected  = queue.StatusRejected
	QueueStatusMerged    = queue.StatusMerged
	QueueStatusExpired   = queue.StatusExpired
)

// QueueFilter narrows and paginates the List results of the queue returned
// by Toolkit.ReviewQueue.
type QueueFilter = queue.Filter

// Plugin is the contract every service-pipeline component implements.
type Plugin = service.Plugin

// PluginKind classifies what a plugin's Result means.
type PluginKind = service.Kind

const (
	PluginKindValidation = service.KindValidation
	PluginKindLookup     = service.KindLookup
	PluginKindCustom     = service.KindCustom
)

// Phase selects when a plugin runs relative to the matching engine.
type Phase = service.Phase

const (
	PhasePreMatch  = service.PhasePreMatch
	PhasePostMatch = service.PhasePostMatch
	PhaseBoth      = service.PhaseBoth
)

// OnFailure controls what happens when a plugin invocation fails.
type OnFailure = service.OnFailure

const (
	OnFailureReject   = service.OnFailureReject
	OnFailureContinue = service.OnFailureContinue
	OnFailureFlag     = service.OnFailureFlag
)

// RegisteredPlugin pairs a Plugin with its pipeline placement, ordering,
// and resilience/caching behavior.
type RegisteredPlugin = service.RegisteredPlugin

// RunReport summarizes one service-pipeline phase execution.
type RunReport = service.RunReport

// ResiliencePolicy bundles timeout, retry, and circuit-breaker behavior
// for one plugin invocation.
type ResiliencePolicy = resilience.Policy

// RetryPolicy configures jittered-backoff retry behavior.
type RetryPolicy = resilience.RetryPolicy

// BreakerConfig tunes a circuit breaker.
type BreakerConfig = resilience.BreakerConfig

// BreakerState is one of the three circuit-breaker states.
type BreakerState = resilience.BreakerState

const (
	BreakerClosed   = resilience.Closed
	BreakerOpen     = resilience.Open
	BreakerHalfOpen = resilience.HalfOpen
)
