// Package cache memoizes compiled view plans so that repeated queries
// against the same filter definition skip recompilation of the SQL view
// cascade.
package cache

import (
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// PlanEntry is a cached compiled view plan.
type PlanEntry struct {
	Plan        interface{}
	Timestamp   time.Time
	AccessCount int
}

// ViewCache is an in-memory, TTL-bounded cache of compiled view plans,
// keyed by the content hash of the filter that produced them.
//
// Same Get/Set/evictLRU/cleanup shape as a general-purpose LRU, but
// retargeted from arbitrary query results to compiled view.Plan values
// and keyed by a content hash (see Key) rather than a caller-supplied
// string, since two structurally identical filters should always
// collide on the same cache entry regardless of how the caller
// names them.
type ViewCache struct {
	mu      sync.RWMutex
	entries map[[32]byte]*PlanEntry
	maxSize int
	ttl     time.Duration
}

// NewViewCache creates a view-plan cache holding at most maxSize entries,
// each valid for ttl.
func NewViewCache(maxSize int, ttl time.Duration) *ViewCache {
	c := &ViewCache{
		entries: make(map[[32]byte]*PlanEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}

	go c.cleanupLoop()

	return c
}

// Key derives a cache key from the pieces that fully determine a
// compiled view plan: the rendered SQL fragments of the filter plus the
// parameters (hierarchy, output level, literals requested, sequential)
// that select the terminal view. Using blake2b rather than a weaker
// general-purpose hash keeps collisions negligible even as the corpus of
// distinct filters grows into the thousands across a long-lived process.
func Key(parts ...string) [32]byte {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Get retrieves a cached plan.
func (c *ViewCache) Get(key [32]byte) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Since(entry.Timestamp) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.AccessCount++
	c.mu.Unlock()

	return entry.Plan, true
}

// Set stores a compiled plan under key.
func (c *ViewCache) Set(key [32]byte, plan interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictLRU()
	}

	c.entries[key] = &PlanEntry{
		Plan:        plan,
		Timestamp:   time.Now(),
		AccessCount: 1,
	}
}

func (c *ViewCache) evictLRU() {
	var lruKey [32]byte
	var lruEntry *PlanEntry
	var found bool

	for key, entry := range c.entries {
		if lruEntry == nil || entry.AccessCount < lruEntry.AccessCount {
			lruKey = key
			lruEntry = entry
			found = true
		}
	}

	if found {
		delete(c.entries, lruKey)
	}
}

func (c *ViewCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.entries {
			if now.Sub(entry.Timestamp) > c.ttl {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}

// Clear removes all entries from the cache. A compiled view.Plan's SQL
// never bakes in shard-scoped IDs (every view is a query against
// structures/literals columns, re-evaluated per shard at call time), so
// no DECAF code path needs to call this during ordinary operation; it
// exists for callers (e.g. tests, or a long-lived process reloading its
// schema) that want to force recompilation.
func (c *ViewCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[[32]byte]*PlanEntry)
	c.mu.Unlock()
}

// Stats reports the current entry count and the number of entries that
// have been served from the cache at least once since they were Set.
func (c *ViewCache) Stats() (total, reused int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total = len(c.entries)
	for _, entry := range c.entries {
		if entry.AccessCount > 1 {
			reused++
		}
	}
	return total, reused
}
