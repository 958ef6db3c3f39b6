// ABOUTME: Thread-safe TTL cache for deduplicating reconciliation jobs.
// ABOUTME: The job queue delivers at-least-once; this suppresses immediate re-runs.

package dedupe

import (
	"sync"
	"time"
)

// Cache tracks recently seen keys with a TTL and a size cap. The job
// runner delivers at-least-once, so the reconciler checks the run id here
// before doing work; a duplicate that arrives after expiry re-runs the
// reconciliation, which upsert semantics make safe.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// New creates a dedupe cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new
// and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if ts, ok := c.seen[key]; ok && now.Sub(ts) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictLocked(now)
	}
	c.seen[key] = now
	return false
}

// evictLocked drops expired entries, then the oldest entry if still full.
// The key space here is run ids, small enough that a map scan is fine.
func (c *Cache) evictLocked(now time.Time) {
	var oldestKey string
	var oldestTime time.Time
	for key, ts := range c.seen {
		if now.Sub(ts) >= c.ttl {
			delete(c.seen, key)
			continue
		}
		if oldestKey == "" || ts.Before(oldestTime) {
			oldestKey, oldestTime = key, ts
		}
	}
	if len(c.seen) >= c.maxSize && oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}

// Len returns the number of tracked keys, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
