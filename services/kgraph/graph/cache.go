// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// cacheKey joins request components into a canonical cache key. The
// NUL separator cannot occur in entity ids or type names.
func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// typesKey renders a relationship type list canonically for cache keys.
func typesKey(types []RelationType) string {
	if len(types) == 0 {
		return ""
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}

// timeKey renders an optional time bound for cache keys.
func timeKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// QueryCache memoizes read results keyed by canonical query strings,
// with write-through invalidation: every cached value records the
// entity ids it depends on, and a mutation to any of them drops the
// dependent entries before the write returns.
//
// Thread safety: QueryCache is safe for concurrent use.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List

	// byEntity maps entity id -> set of cache keys depending on it.
	byEntity map[string]map[string]struct{}

	ttl        time.Duration
	maxEntries int

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
}

type cacheEntry struct {
	key      string
	value    any
	expires  time.Time
	entities []string
	element  *list.Element
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
	Size          int   `json:"size"`
}

// QueryCacheOption configures a QueryCache.
type QueryCacheOption func(*QueryCache)

// WithTTL sets the entry lifetime. Zero or negative disables expiry.
func WithTTL(ttl time.Duration) QueryCacheOption {
	return func(c *QueryCache) {
		c.ttl = ttl
	}
}

// WithMaxEntries caps the cache size; least recently used entries are
// evicted past the cap.
func WithMaxEntries(n int) QueryCacheOption {
	return func(c *QueryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// NewQueryCache creates a cache with a 5 minute TTL and 1024 entry cap
// by default.
func NewQueryCache(opts ...QueryCacheOption) *QueryCache {
	c := &QueryCache{
		entries:    make(map[string]*cacheEntry),
		byEntity:   make(map[string]map[string]struct{}),
		lru:        list.New(),
		ttl:        5 * time.Minute,
		maxEntries: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, if present and unexpired.
func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		c.removeLocked(entry)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	c.lru.MoveToFront(entry.element)
	atomic.AddInt64(&c.hits, 1)
	return entry.value, true
}

// Put stores a value together with the entity ids it depends on. A
// later mutation of any listed entity invalidates the entry.
func (c *QueryCache) Put(key string, value any, entityIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[key]; ok {
		c.removeLocked(prev)
	}

	entry := &cacheEntry{
		key:      key,
		value:    value,
		entities: entityIDs,
	}
	if c.ttl > 0 {
		entry.expires = time.Now().Add(c.ttl)
	}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry
	for _, id := range entityIDs {
		keys, ok := c.byEntity[id]
		if !ok {
			keys = make(map[string]struct{})
			c.byEntity[id] = keys
		}
		keys[key] = struct{}{}
	}

	for len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*cacheEntry))
		atomic.AddInt64(&c.evictions, 1)
	}
}

// InvalidateEntity drops every entry depending on the entity id and
// returns how many were dropped.
func (c *QueryCache) InvalidateEntity(entityID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byEntity[entityID]
	if !ok {
		return 0
	}
	dropped := 0
	for key := range keys {
		if entry, ok := c.entries[key]; ok {
			c.removeLocked(entry)
			dropped++
		}
	}
	atomic.AddInt64(&c.invalidations, int64(dropped))
	return dropped
}

// InvalidateAll empties the cache.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.byEntity = make(map[string]map[string]struct{})
	c.lru.Init()
	atomic.AddInt64(&c.invalidations, int64(n))
}

// Stats returns a snapshot of the cache counters.
func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return CacheStats{
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Evictions:     atomic.LoadInt64(&c.evictions),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		Size:          size,
	}
}

// removeLocked unlinks an entry from the table, the LRU list, and the
// entity index. Caller holds c.mu.
func (c *QueryCache) removeLocked(entry *cacheEntry) {
	delete(c.entries, entry.key)
	c.lru.Remove(entry.element)
	for _, id := range entry.entities {
		if keys, ok := c.byEntity[id]; ok {
			delete(keys, entry.key)
			if len(keys) == 0 {
				delete(c.byEntity, id)
			}
		}
	}
}
