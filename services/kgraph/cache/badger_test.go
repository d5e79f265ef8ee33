// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *BadgerCache {
	t.Helper()
	c, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestBadgerCache_SetGetDel(t *testing.T) {
	ctx := context.Background()
	c := openInMemory(t)

	_, found, err := c.Get(ctx, "digest:/src/a.ts")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "digest:/src/a.ts", []byte("abc123"), 0))
	value, found, err := c.Get(ctx, "digest:/src/a.ts")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("abc123"), value)

	// Overwrite wins.
	require.NoError(t, c.Set(ctx, "digest:/src/a.ts", []byte("def456"), 0))
	value, found, err = c.Get(ctx, "digest:/src/a.ts")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("def456"), value)

	require.NoError(t, c.Del(ctx, "digest:/src/a.ts"))
	_, found, err = c.Get(ctx, "digest:/src/a.ts")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Del(ctx, "digest:/src/a.ts"), "deleting an absent key is fine")
}

func TestBadgerCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := openInMemory(t)

	require.NoError(t, c.Set(ctx, "short-lived", []byte("x"), time.Second))

	_, found, err := c.Get(ctx, "short-lived")
	require.NoError(t, err)
	assert.True(t, found, "entry is readable before expiry")

	assert.Eventually(t, func() bool {
		_, found, err := c.Get(ctx, "short-lived")
		return err == nil && !found
	}, 4*time.Second, 100*time.Millisecond, "entry expires after its TTL")
}

func TestBadgerCache_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	c, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "sticky", []byte("survives"), 0))
	require.NoError(t, c.Close())

	c2, err := Open(cfg)
	require.NoError(t, err)
	defer c2.Close()

	value, found, err := c2.Get(ctx, "sticky")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("survives"), value)
}

func TestBadgerCache_GCLoopStartsAndStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 10 * time.Millisecond

	c, err := Open(cfg)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Close(), "close must not deadlock on the GC loop")
	require.NoError(t, c.Close(), "second close is a no-op")
}

func TestBadgerCache_ContextCanceled(t *testing.T) {
	c := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), 0), context.Canceled)
	assert.ErrorIs(t, c.Del(ctx, "k"), context.Canceled)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "nop cache never serves a hit")
	require.NoError(t, c.Del(ctx, "k"))
	require.NoError(t, c.Close())
}
