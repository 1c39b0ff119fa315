// Package cache implements the content-addressed result cache: a
// fixed-capacity, TTL-bounded LRU keyed by content hash. All mutating
// operations are serialized behind one mutex because LRU reordering is a
// read-modify-write sequence.
package cache

import (
	"container/list"
	"sync"
	"time"

	"content-threat-detection/internal/detector"
)

// Config holds cache capacity and expiry tuning.
type Config struct {
	MaxSize int
	TTL     time.Duration
}

// DefaultConfig returns a cache sized for ~10k entries with a 1h TTL.
func DefaultConfig() Config {
	return Config{
		MaxSize: 10000,
		TTL:     time.Hour,
	}
}

// entry is one cached result. Results are stored as committed snapshots and
// deep-copied on the way out, never aliased.
type entry struct {
	key        string
	result     *detector.DetectionResult
	insertedAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	Evictions      int64   `json:"evictions"`
	Expirations    int64   `json:"expirations"`
	MemoryEstimate int64   `json:"memory_estimate_bytes"`
}

// PatternCache caches detection results by content hash with LRU eviction.
// Constructed explicitly and injected; never a process-wide singleton.
type PatternCache struct {
	cfg Config

	mu          sync.Mutex
	order       *list.List               // front = most recently used
	entries     map[string]*list.Element // content hash -> element
	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	memEstimate int64
}

// New creates an empty cache.
func New(cfg Config) *PatternCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &PatternCache{
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Get returns a defensive copy of the cached result for content, refreshing
// recency on hit. Expired entries are removed and counted as misses.
func (c *PatternCache) Get(content string) (*detector.DetectionResult, bool) {
	key := detector.HashContent(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	ent := elem.Value.(*entry)
	if time.Since(ent.insertedAt) > c.cfg.TTL {
		c.removeLocked(elem)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++

	cp := ent.result.Clone()
	cp.Cached = true
	return cp, true
}

// Has reports whether content is cached and unexpired without touching
// recency or hit statistics.
func (c *PatternCache) Has(content string) bool {
	key := detector.HashContent(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Since(elem.Value.(*entry).insertedAt) <= c.cfg.TTL
}

// Set inserts or overwrites the result for content, evicting the
// least-recently-used entry when at capacity. The stored snapshot is a deep
// copy of the argument.
func (c *PatternCache) Set(content string, result *detector.DetectionResult) {
	if result == nil {
		return
	}
	key := detector.HashContent(content)
	snapshot := result.Clone()
	snapshot.Cached = false

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		c.memEstimate += estimateSize(snapshot) - estimateSize(ent.result)
		ent.result = snapshot
		ent.insertedAt = time.Now()
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.cfg.MaxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	elem := c.order.PushFront(&entry{
		key:        key,
		result:     snapshot,
		insertedAt: time.Now(),
	})
	c.entries[key] = elem
	c.memEstimate += estimateSize(snapshot)
}

// Prune removes all TTL-expired entries and returns how many were dropped.
func (c *PatternCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if time.Since(elem.Value.(*entry).insertedAt) > c.cfg.TTL {
			c.removeLocked(elem)
			c.expirations++
			removed++
		}
		elem = prev
	}
	return removed
}

// Clear drops every entry. Counters survive, size resets.
func (c *PatternCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.memEstimate = 0
}

// Len returns the number of cached entries.
func (c *PatternCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *PatternCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:           len(c.entries),
		MaxSize:        c.cfg.MaxSize,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRate:        hitRate,
		Evictions:      c.evictions,
		Expirations:    c.expirations,
		MemoryEstimate: c.memEstimate,
	}
}

// removeLocked deletes an element. Caller holds c.mu.
func (c *PatternCache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.entries, ent.key)
	c.memEstimate -= estimateSize(ent.result)
}

// estimateSize approximates the retained bytes of one cached result. Rough
// by design: the point is bounding the cache, not accounting.
func estimateSize(r *detector.DetectionResult) int64 {
	size := int64(256) // struct + map overhead
	size += int64(len(r.RequestID) + len(r.ContentHash) + len(r.Error))
	for _, t := range r.Threats {
		size += int64(96 + len(t.Type) + len(t.Category) + len(t.Description))
	}
	return size
}
