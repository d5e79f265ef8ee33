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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCache_PutGet(t *testing.T) {
	cache := NewQueryCache()

	_, ok := cache.Get("absent")
	assert.False(t, ok)

	cache.Put("k1", "v1", []string{"a"})
	v, ok := cache.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestQueryCache_InvalidateEntity(t *testing.T) {
	cache := NewQueryCache()

	cache.Put("q1", 1, []string{"a", "b"})
	cache.Put("q2", 2, []string{"b"})
	cache.Put("q3", 3, []string{"c"})

	dropped := cache.InvalidateEntity("b")
	assert.Equal(t, 2, dropped)

	_, ok := cache.Get("q1")
	assert.False(t, ok)
	_, ok = cache.Get("q2")
	assert.False(t, ok)
	_, ok = cache.Get("q3")
	assert.True(t, ok, "entries not referencing the entity survive")

	assert.Equal(t, 0, cache.InvalidateEntity("unknown"))
}

func TestQueryCache_InvalidateAll(t *testing.T) {
	cache := NewQueryCache()
	cache.Put("q1", 1, []string{"a"})
	cache.Put("q2", 2, nil)

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Stats().Size)
	_, ok := cache.Get("q1")
	assert.False(t, ok)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	cache := NewQueryCache(WithTTL(10 * time.Millisecond))
	cache.Put("k", "v", nil)

	_, ok := cache.Get("k")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry expires past the TTL")
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestQueryCache_LRUEviction(t *testing.T) {
	cache := NewQueryCache(WithMaxEntries(3))

	for i := 0; i < 3; i++ {
		cache.Put(fmt.Sprintf("k%d", i), i, nil)
	}
	// Touch k0 so k1 becomes the least recently used.
	_, ok := cache.Get("k0")
	require.True(t, ok)

	cache.Put("k3", 3, nil)

	_, ok = cache.Get("k1")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = cache.Get("k0")
	assert.True(t, ok)
	assert.Equal(t, int64(1), cache.Stats().Evictions)
}

func TestQueryCache_ReplaceExistingKey(t *testing.T) {
	cache := NewQueryCache()

	cache.Put("k", "old", []string{"a"})
	cache.Put("k", "new", []string{"b"})

	v, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)

	// The old dependency no longer invalidates the entry.
	cache.InvalidateEntity("a")
	_, ok = cache.Get("k")
	assert.True(t, ok)

	cache.InvalidateEntity("b")
	_, ok = cache.Get("k")
	assert.False(t, ok)
}
