// Package cache implements the realtime prompt/objective cache: fixed
// capacity LRU entry caches, manifest-driven refresh, per-document
// subscriptions, and bootstrap repair of a missing manifest.
//
// This file implements the entry cache shared by objectives and trees.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Cache sizing defaults.
const (
	// DefaultCapacity is the per-cache entry limit. Objectives and trees are
	// sized independently.
	DefaultCapacity = 100
	// DefaultTTL bounds how long an untouched entry counts as fresh. TTL is
	// advisory: manifest pushes are the authoritative staleness signal, and
	// TTL only protects entries whose subscription has silently died.
	DefaultTTL = 30 * time.Minute
)

// cacheEntry wraps a cached domain object with recency metadata. Owned
// exclusively by entryCache; mutated only under its lock.
type cacheEntry[T any] struct {
	value        T
	lastAccessed time.Time
	accessCount  int
	preloaded    bool
}

// entryCache is a fixed-capacity LRU map with TTL-gated reads. The eviction
// callback runs under the cache lock and must not call back into the cache.
type entryCache[T any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *cacheEntry[T]]
	ttl     time.Duration
	now     func() time.Time
	onEvict func(id string)
}

func newEntryCache[T any](capacity int, ttl time.Duration, now func() time.Time, onEvict func(id string)) (*entryCache[T], error) {
	c := &entryCache[T]{ttl: ttl, now: now, onEvict: onEvict}
	lru, err := simplelru.NewLRU(capacity, func(key string, _ *cacheEntry[T]) {
		if c.onEvict != nil {
			c.onEvict(key)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cache capacity %d: %w", capacity, err)
	}
	c.lru = lru
	return c, nil
}

// get returns the cached value if present and fresh, refreshing its recency
// metadata. A TTL-expired entry reports a miss but stays in the map; the
// subsequent put simply overwrites it.
func (c *entryCache[T]) get(id string) (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(id)
	if !ok {
		return zero, false
	}
	now := c.now()
	if now.Sub(e.lastAccessed) >= c.ttl {
		return zero, false
	}
	c.lru.Get(id) // bump recency
	e.lastAccessed = now
	e.accessCount++
	return e.value, true
}

// put inserts or overwrites an entry, stamping lastAccessed. At capacity the
// least-recently-used entry is evicted first, firing the eviction callback.
func (c *entryCache[T]) put(id string, value T) {
	c.putEntry(id, value, false)
}

// putPreloaded inserts an entry flagged as preloaded from manifest hints.
func (c *entryCache[T]) putPreloaded(id string, value T) {
	c.putEntry(id, value, true)
}

func (c *entryCache[T]) putEntry(id string, value T, preloaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.lru.Peek(id); ok {
		e.value = value
		e.lastAccessed = now
		if preloaded {
			e.preloaded = true
		}
		c.lru.Get(id) // bump recency
		return
	}
	c.lru.Add(id, &cacheEntry[T]{value: value, lastAccessed: now, preloaded: preloaded})
}

// contains reports presence without bumping recency or checking TTL. Used by
// the manifest refresh path, which refreshes stale-but-cached entries too.
func (c *entryCache[T]) contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(id)
}

// invalidate removes one entry, firing the eviction callback if present.
func (c *entryCache[T]) invalidate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(id)
}

// clear removes every entry, firing the eviction callback for each.
func (c *entryCache[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *entryCache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// accessCount reports how often an entry has been read. Zero if absent.
func (c *entryCache[T]) accessCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(id); ok {
		return e.accessCount
	}
	return 0
}

// isPreloaded reports whether the entry came in via manifest preload hints.
func (c *entryCache[T]) isPreloaded(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.lru.Peek(id); ok {
		return e.preloaded
	}
	return false
}
