// Package cache implements a bounded LRU cache with a fresh/stale/evictable
// TTL lifecycle: entries serve normally while fresh, may still be served
// (explicitly opted into, and flagged) during a configurable stale window
// past expiry, and are evicted once the stale window elapses or capacity
// pressure demands it.
package cache

import (
	"container/list"
	"path"
	"sync"
	"time"
)

// EvictReason explains why OnEvict fired.
type EvictReason int

const (
	EvictLRU EvictReason = iota
	EvictExpired
	EvictManual
)

func (r EvictReason) String() string {
	switch r {
	case EvictExpired:
		return "expired"
	case EvictManual:
		return "manual"
	default:
		return "lru"
	}
}

// SizeFunc estimates the byte cost of a cached value for MaxBytes
// accounting. DefaultSizeFunc is used when Options.SizeFunc is nil.
type SizeFunc func(value any) int64

// Options configures a Cache.
type Options struct {
	MaxEntries  int           // 0 means unlimited
	MaxBytes    int64         // 0 means unlimited
	TTL         time.Duration // default TTL applied by the simple Set(); 0 means never expires
	StaleWindow time.Duration // default stale window applied by the simple Set()
	SizeFunc    SizeFunc
	OnEvict     func(key string, value any, reason EvictReason)
	PruneEvery  time.Duration // background prune cadence; 0 disables the background loop
}

// SetOptions overrides the cache-wide defaults for a single Set call, per
// spec: set(key, value, {ttlSeconds, staleWindowSeconds?, sizeBytes?}).
type SetOptions struct {
	TTL         time.Duration // 0 uses Options.TTL
	StaleWindow time.Duration // 0 uses Options.StaleWindow
	SizeBytes   int64         // 0 uses SizeFunc(value)
}

// GetOptions controls how a Get treats a stale entry and whether the
// lookup counts as an access for LRU/accessCount purposes.
type GetOptions struct {
	AllowStale   bool // serve stale entries (isStale=true) instead of missing
	UpdateAccess bool // move to MRU and bump AccessCount/LastAccessedAt on hit
}

// Stats reports cumulative and point-in-time cache counters.
type Stats struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	Expirations    int64
	CurrentEntries int
	CurrentBytes   int64
	OldestEntryAt  time.Time
	AverageAgeSecs float64
}

// HitRate returns Hits / (Hits + Misses), or 0 if there have been no
// lookups at all.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key            string
	value          any
	size           int64
	cachedAt       time.Time
	expiresAt      time.Time // zero means never expires
	staleUntil     time.Time // zero means no stale window
	accessCount    int64
	lastAccessedAt time.Time
}

// Cache is a bounded, TTL-aware LRU cache. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	opts  Options
	ll    *list.List // front = most recently used
	index map[string]*list.Element
	bytes int64
	stats Stats
	done  chan struct{}
}

// New constructs a Cache. If opts.PruneEvery is non-zero, a background
// goroutine periodically removes entries past their stale window; call
// Close to stop it.
func New(opts Options) *Cache {
	if opts.SizeFunc == nil {
		opts.SizeFunc = DefaultSizeFunc
	}
	c := &Cache{
		opts:  opts,
		ll:    list.New(),
		index: make(map[string]*list.Element),
		done:  make(chan struct{}),
	}
	if opts.PruneEvery > 0 {
		go c.pruneLoop()
	}
	return c
}

// DefaultSizeFunc estimates cost from a string rendering of the value;
// good enough for capacity accounting without a reflection-based byte
// count.
func DefaultSizeFunc(value any) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	default:
		return 64
	}
}

// Get looks up key with default options: stale entries miss, and a hit
// updates LRU order and access bookkeeping. Use GetWithOptions for
// stale-on-error reads.
func (c *Cache) Get(key string) (any, bool) {
	v, _, ok := c.GetWithOptions(key, GetOptions{UpdateAccess: true})
	return v, ok
}

// GetWithOptions looks up key, returning the value, whether it was served
// as a stale entry, and whether it was found at all.
//
// An entry past its stale window is always a miss and is evicted. An entry
// past its TTL but still within the stale window misses unless
// opts.AllowStale is set, in which case it is served with isStale=true.
func (c *Cache) GetWithOptions(key string, opts GetOptions) (value any, isStale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.index[key]
	if !found {
		c.stats.Misses++
		return nil, false, false
	}
	e := el.Value.(*entry)
	now := time.Now()

	cutoff := e.staleUntil
	if cutoff.IsZero() {
		cutoff = e.expiresAt // no stale window: the entry ends at its TTL
	}
	if !cutoff.IsZero() && now.After(cutoff) {
		c.removeElement(el, EvictExpired)
		c.stats.Misses++
		c.stats.Expirations++
		return nil, false, false
	}

	stale := !e.expiresAt.IsZero() && now.After(e.expiresAt)
	if stale && !opts.AllowStale {
		c.stats.Misses++
		return nil, false, false
	}

	c.stats.Hits++
	if opts.UpdateAccess {
		c.ll.MoveToFront(el)
		e.accessCount++
		e.lastAccessedAt = now
	}
	return e.value, stale, true
}

// Set inserts or replaces key's value using the cache-wide default TTL,
// stale window, and size function.
func (c *Cache) Set(key string, value any) {
	c.SetWithOptions(key, value, SetOptions{})
}

// SetWithOptions inserts or replaces key's value, overriding the cache-wide
// TTL/stale-window/size for this entry only. Evicts least-recently-used
// entries (or, once inserted, whatever pushes the cache over MaxBytes)
// until the cache is back under capacity.
func (c *Cache) SetWithOptions(key string, value any, opts SetOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.opts.TTL
	}
	staleWindow := opts.StaleWindow
	if staleWindow == 0 {
		staleWindow = c.opts.StaleWindow
	}
	size := opts.SizeBytes
	if size == 0 {
		size = c.opts.SizeFunc(value)
	}

	now := time.Now()
	var expiresAt, staleUntil time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
		if staleWindow > 0 {
			staleUntil = expiresAt.Add(staleWindow)
		}
	}

	if el, ok := c.index[key]; ok {
		old := el.Value.(*entry)
		c.bytes -= old.size
		old.value = value
		old.size = size
		old.cachedAt = now
		old.expiresAt = expiresAt
		old.staleUntil = staleUntil
		old.accessCount = 0
		old.lastAccessedAt = time.Time{}
		c.bytes += size
		c.ll.MoveToFront(el)
	} else {
		e := &entry{key: key, value: value, size: size, cachedAt: now, expiresAt: expiresAt, staleUntil: staleUntil}
		el := c.ll.PushFront(e)
		c.index[key] = el
		c.bytes += size
	}

	c.evictOverCapacity()
}

func (c *Cache) evictOverCapacity() {
	for c.opts.MaxEntries > 0 && c.ll.Len() > c.opts.MaxEntries {
		c.evictOldest()
	}
	for c.opts.MaxBytes > 0 && c.bytes > c.opts.MaxBytes && c.ll.Len() > 0 {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	c.removeElement(back, EvictLRU)
}

func (c *Cache) removeElement(el *list.Element, reason EvictReason) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.index, e.key)
	c.bytes -= e.size
	c.stats.Evictions++
	if c.opts.OnEvict != nil {
		c.opts.OnEvict(e.key, e.value, reason)
	}
}

// Delete manually removes key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.removeElement(el, EvictManual)
	}
}

// Clear removes every entry and resets statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.index = make(map[string]*list.Element)
	c.bytes = 0
	c.stats = Stats{}
}

// GetMany fetches several keys at once, returning only the hits.
func (c *Cache) GetMany(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// SetMany inserts several key/value pairs at once using the cache-wide
// defaults.
func (c *Cache) SetMany(values map[string]any) {
	for k, v := range values {
		c.SetWithOptions(k, v, SetOptions{})
	}
}

// Keys returns every key matching a shell glob pattern (path.Match syntax).
// An empty pattern matches everything.
func (c *Cache) Keys(pattern string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.index {
		if pattern == "" {
			out = append(out, k)
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, k)
		}
	}
	return out
}

// Prune eagerly removes every entry past its stale window (or past TTL when
// no stale window is configured), returning the count removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		cutoff := e.staleUntil
		if cutoff.IsZero() {
			cutoff = e.expiresAt
		}
		if !cutoff.IsZero() && now.After(cutoff) {
			c.removeElement(el, EvictExpired)
			c.stats.Expirations++
			removed++
		}
		el = prev
	}
	return removed
}

func (c *Cache) pruneLoop() {
	ticker := time.NewTicker(c.opts.PruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

// Close stops the background prune loop, if running.
func (c *Cache) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Stats returns a snapshot of cache counters, including the oldest entry's
// cache time and the average age of all live entries.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentEntries = c.ll.Len()
	s.CurrentBytes = c.bytes

	if back := c.ll.Back(); back != nil {
		s.OldestEntryAt = back.Value.(*entry).cachedAt
	}
	if n := c.ll.Len(); n > 0 {
		now := time.Now()
		var total time.Duration
		for el := c.ll.Front(); el != nil; el = el.Next() {
			total += now.Sub(el.Value.(*entry).cachedAt)
		}
		s.AverageAgeSecs = total.Seconds() / float64(n)
	}
	return s
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
