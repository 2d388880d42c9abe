// Package queue implements the human review queue: possible-match pairs
// that fell between the no-match and definite-match thresholds, awaiting a
// reviewer decision before a merge is carried out.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mergeforge/resolve/internal/matching"
)

// Status is the lifecycle state of a review item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewing Status = "reviewing"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusMerged    Status = "merged"
	StatusExpired   Status = "expired"
)

// terminal reports whether status has no outgoing transitions.
func (s Status) terminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusMerged, StatusExpired:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the review item state machine:
//
//	pending   -> reviewing -> {confirmed, rejected, merged}
//	pending   -> {confirmed, rejected, merged}
//	any non-terminal -> expired
//
// Anything not listed here is an illegal transition.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusReviewing, StatusConfirmed, StatusRejected, StatusMerged, StatusExpired},
	StatusReviewing: {StatusConfirmed, StatusRejected, StatusMerged, StatusExpired},
	StatusConfirmed: {},
	StatusRejected:  {},
	StatusMerged:    {},
	StatusExpired:   {},
}

// ErrNotFound is returned when a requested review item does not exist.
var ErrNotFound = errors.New("queue: not found")

// IllegalTransitionError is returned when a status change is not permitted
// by the review item's state machine.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("queue: illegal transition from %q to %q", e.From, e.To)
}

// DecisionAction is what a reviewer did with a queue item.
type DecisionAction string

const (
	DecisionConfirm DecisionAction = "confirm"
	DecisionReject  DecisionAction = "reject"
	DecisionMerge   DecisionAction = "merge"
)

// Decision records a reviewer's resolution of an item.
type Decision struct {
	Action          DecisionAction
	SelectedMatchID *string
	Notes           *string
	Confidence      *float64
}

// Item is one entry in the review queue: a candidate record and its
// potential matches, pending a reviewer decision.
type Item struct {
	ID               string
	CandidateRecord  matching.RecordRef
	PotentialMatches []matching.ScoredPair
	Status           Status
	Priority         float64 // default 0; higher reviews first
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DecidedAt        *time.Time
	DecidedBy        *string
	Decision         *Decision
	Tags             []string
	Context          map[string]any

	GoldenRecordID *string
}

// Stats summarizes the queue's current state.
type Stats struct {
	Total           int
	ByStatus        map[Status]int
	AvgWaitTime     time.Duration
	OldestPending   *time.Time
	Throughput24h   float64
	Throughput7d    float64
	Throughput30d   float64
}

// AgingBucket counts pending/reviewing items by how long they've sat in the
// queue.
type AgingBucket struct {
	Label string // "0-1d", "1-3d", "3-7d", "7d+"
	Count int
}

// PriorityBucket counts items falling in a priority range.
type PriorityBucket struct {
	Min, Max float64
	Count    int
}

// ReviewerAccuracy reports how a reviewer's decisions were distributed, and
// how many of their confirmations were later reversed via unmerge.
type ReviewerAccuracy struct {
	Reviewer         string
	Confirmed        int
	Rejected         int
	Merged           int
	ReversedMerges   int
}

// Queue is an in-memory review queue. Safe for concurrent use.
type Queue struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{items: make(map[string]*Item)}
}

// Add enqueues one possible-match candidate for review and returns its id.
func (q *Queue) Add(candidate matching.RecordRef, matches []matching.ScoredPair) string {
	return q.AddWithOptions(candidate, matches, 0, nil, nil)
}

// AddWithOptions enqueues a candidate with an explicit priority, tags, and
// free-form context.
func (q *Queue) AddWithOptions(candidate matching.RecordRef, matches []matching.ScoredPair, priority float64, tags []string, ctx map[string]any) string {
	now := time.Now().UTC()
	item := &Item{
		ID:               uuid.New().String(),
		CandidateRecord:  candidate,
		PotentialMatches: matches,
		Status:           StatusPending,
		Priority:         priority,
		CreatedAt:        now,
		UpdatedAt:        now,
		Tags:             tags,
		Context:          ctx,
	}
	q.mu.Lock()
	q.items[item.ID] = item
	q.mu.Unlock()
	return item.ID
}

// BatchEntry is one candidate+matches pair for AddBatch.
type BatchEntry struct {
	Candidate matching.RecordRef
	Matches   []matching.ScoredPair
	Priority  float64
	Tags      []string
	Context   map[string]any
}

// AddBatch enqueues several candidates at once, returning their ids in the
// same order.
func (q *Queue) AddBatch(entries []BatchEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = q.AddWithOptions(e.Candidate, e.Matches, e.Priority, e.Tags, e.Context)
	}
	return ids
}

// Get returns one item by id.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *item, nil
}

// OrderBy selects the field list() sorts by.
type OrderBy string

const (
	OrderByCreatedAt OrderBy = "createdAt"
	OrderByPriority  OrderBy = "priority"
	OrderByUpdatedAt OrderBy = "updatedAt"
)

// Filter narrows and paginates List results.
type Filter struct {
	Status        *Status
	Tags          []string // item must carry every tag listed
	Since         *time.Time
	Until         *time.Time
	Limit         int // 0 means unbounded
	Offset        int
	OrderBy       OrderBy // default OrderByCreatedAt
	OrderDesc     bool    // default false (ascending)
}

func (f Filter) orderBy() OrderBy {
	if f.OrderBy == "" {
		return OrderByCreatedAt
	}
	return f.OrderBy
}

func (i Item) hasAllTags(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	set := make(map[string]bool, len(i.Tags))
	for _, t := range i.Tags {
		set[t] = true
	}
	for _, t := range tags {
		if !set[t] {
			return false
		}
	}
	return true
}

// List returns items matching filter, ordered and paginated per filter's
// OrderBy/OrderDesc/Limit/Offset.
func (q *Queue) List(filter Filter) []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if !item.hasAllTags(filter.Tags) {
			continue
		}
		if filter.Since != nil && item.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && item.CreatedAt.After(*filter.Until) {
			continue
		}
		out = append(out, *item)
	}

	compare := func(i, j int) int {
		switch filter.orderBy() {
		case OrderByPriority:
			return compareFloat(out[i].Priority, out[j].Priority)
		case OrderByUpdatedAt:
			return compareTime(out[i].UpdatedAt, out[j].UpdatedAt)
		default:
			return compareTime(out[i].CreatedAt, out[j].CreatedAt)
		}
	}
	asc := !filter.OrderDesc
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(i, j)
		if asc {
			return c < 0
		}
		return c > 0
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Item{}
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

// UpdateStatus transitions item id to status, recording who made the
// decision and why. Returns IllegalTransitionError if the state machine
// forbids the change.
func (q *Queue) UpdateStatus(id string, status Status, by *string, decision *Decision) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	if !transitionAllowed(item.Status, status) {
		return Item{}, &IllegalTransitionError{From: item.Status, To: status}
	}
	now := time.Now().UTC()
	item.Status = status
	item.UpdatedAt = now
	if status.terminal() && status != StatusExpired {
		item.DecidedBy = by
		item.DecidedAt = &now
		item.Decision = decision
	}
	return *item, nil
}

// Confirm marks an item confirmed (the reviewer agrees it's a match,
// pending merge).
func (q *Queue) Confirm(id string, by string, notes *string) (Item, error) {
	return q.UpdateStatus(id, StatusConfirmed, &by, &Decision{Action: DecisionConfirm, Notes: notes})
}

// Reject marks an item rejected (the reviewer disagrees; no merge should
// follow).
func (q *Queue) Reject(id string, by string, notes *string) (Item, error) {
	return q.UpdateStatus(id, StatusRejected, &by, &Decision{Action: DecisionReject, Notes: notes})
}

// MarkMerged transitions an item directly to merged, recording the golden
// record id it produced.
func (q *Queue) MarkMerged(id string, by string, goldenRecordID string) (Item, error) {
	item, err := q.UpdateStatus(id, StatusMerged, &by, &Decision{Action: DecisionMerge})
	if err != nil {
		return Item{}, err
	}
	q.mu.Lock()
	stored, ok := q.items[id]
	if ok {
		stored.GoldenRecordID = &goldenRecordID
		item = *stored
	}
	q.mu.Unlock()
	return item, nil
}

// StartReview transitions a pending item into reviewing, signaling a
// reviewer has picked it up.
func (q *Queue) StartReview(id string) (Item, error) {
	return q.UpdateStatus(id, StatusReviewing, nil, nil)
}

// Expire transitions any non-terminal item to expired.
func (q *Queue) Expire(id string) (Item, error) {
	return q.UpdateStatus(id, StatusExpired, nil, nil)
}

// Delete removes an item regardless of status.
func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[id]; !ok {
		return ErrNotFound
	}
	delete(q.items, id)
	return nil
}

// Cleanup removes terminal items older than olderThan, optionally
// restricted to one status and a maximum count, returning how many were
// removed.
func (q *Queue) Cleanup(olderThan time.Duration, status *Status, limit int) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, item := range q.items {
		if limit > 0 && removed >= limit {
			break
		}
		if !item.Status.terminal() {
			continue
		}
		if status != nil && item.Status != *status {
			continue
		}
		if item.UpdatedAt.Before(cutoff) {
			delete(q.items, id)
			removed++
		}
	}
	return removed
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func transitionAllowed(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Stats computes aggregate queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{ByStatus: make(map[Status]int)}
	var totalWait time.Duration
	var resolvedCount int
	var oldestPending *time.Time
	now := time.Now().UTC()

	var decided24h, decided7d, decided30d int

	for _, item := range q.items {
		s.Total++
		s.ByStatus[item.Status]++
		if item.Status == StatusPending && (oldestPending == nil || item.CreatedAt.Before(*oldestPending)) {
			ts := item.CreatedAt
			oldestPending = &ts
		}
		if item.DecidedAt != nil {
			totalWait += item.DecidedAt.Sub(item.CreatedAt)
			resolvedCount++
			switch {
			case now.Sub(*item.DecidedAt) <= 24*time.Hour:
				decided24h++
				decided7d++
				decided30d++
			case now.Sub(*item.DecidedAt) <= 7*24*time.Hour:
				decided7d++
				decided30d++
			case now.Sub(*item.DecidedAt) <= 30*24*time.Hour:
				decided30d++
			}
		}
	}
	if resolvedCount > 0 {
		s.AvgWaitTime = totalWait / time.Duration(resolvedCount)
	}
	s.OldestPending = oldestPending
	s.Throughput24h = float64(decided24h)
	s.Throughput7d = float64(decided7d) / 7
	s.Throughput30d = float64(decided30d) / 30
	return s
}

// AgingReport buckets non-terminal items by age since creation:
// 0-1d, 1-3d, 3-7d, 7d+.
func (q *Queue) AgingReport() []AgingBucket {
	q.mu.RLock()
	defer q.mu.RUnlock()

	buckets := []AgingBucket{{Label: "0-1d"}, {Label: "1-3d"}, {Label: "3-7d"}, {Label: "7d+"}}
	now := time.Now().UTC()
	for _, item := range q.items {
		if item.Status.terminal() {
			continue
		}
		age := now.Sub(item.CreatedAt)
		switch {
		case age < 24*time.Hour:
			buckets[0].Count++
		case age < 3*24*time.Hour:
			buckets[1].Count++
		case age < 7*24*time.Hour:
			buckets[2].Count++
		default:
			buckets[3].Count++
		}
	}
	return buckets
}

// defaultPriorityBucketFractions splits the observed [min, max] priority
// range into four equal-width bands when the caller doesn't supply explicit
// bounds.
var defaultPriorityBucketFractions = []float64{0, 0.25, 0.5, 0.75, 1}

// PriorityReport buckets all items by priority. bounds, if non-empty, gives
// the band edges explicitly (len(bounds)-1 buckets); otherwise four equal
// bands spanning the observed min/max priority are used.
func (q *Queue) PriorityReport(bounds []float64) []PriorityBucket {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(bounds) < 2 {
		min, max := 0.0, 0.0
		first := true
		for _, item := range q.items {
			if first || item.Priority < min {
				min = item.Priority
			}
			if first || item.Priority > max {
				max = item.Priority
			}
			first = false
		}
		bounds = make([]float64, len(defaultPriorityBucketFractions))
		for i, f := range defaultPriorityBucketFractions {
			bounds[i] = min + f*(max-min)
		}
	}

	out := make([]PriorityBucket, len(bounds)-1)
	for i := range out {
		out[i] = PriorityBucket{Min: bounds[i], Max: bounds[i+1]}
	}
	for _, item := range q.items {
		for i := range out {
			isLast := i == len(out)-1
			if item.Priority >= out[i].Min && (item.Priority < out[i].Max || (isLast && item.Priority <= out[i].Max)) {
				out[i].Count++
				break
			}
		}
	}
	return out
}

// ReviewerAccuracyReport aggregates decision counts per reviewer.
// reversedMerges, if provided, maps reviewer -> count of merges they
// confirmed that were later unmerged (the caller supplies these counts; the
// queue itself has no visibility into unmerge outcomes).
func (q *Queue) ReviewerAccuracyReport(reversedMerges map[string]int) []ReviewerAccuracy {
	q.mu.RLock()
	defer q.mu.RUnlock()

	byReviewer := make(map[string]*ReviewerAccuracy)
	for _, item := range q.items {
		if item.DecidedBy == nil {
			continue
		}
		acc, ok := byReviewer[*item.DecidedBy]
		if !ok {
			acc = &ReviewerAccuracy{Reviewer: *item.DecidedBy}
			byReviewer[*item.DecidedBy] = acc
		}
		switch item.Status {
		case StatusConfirmed:
			acc.Confirmed++
		case StatusRejected:
			acc.Rejected++
		case StatusMerged:
			acc.Merged++
		}
	}
	out := make([]ReviewerAccuracy, 0, len(byReviewer))
	for _, acc := range byReviewer {
		if reversedMerges != nil {
			acc.ReversedMerges = reversedMerges[acc.Reviewer]
		}
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reviewer < out[j].Reviewer })
	return out
}
