// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the optional byte-value cache the ingest
// pipeline uses to skip unchanged inputs. The cache is an accelerator,
// never a source of truth: a miss costs a re-ingest, a stale entry
// costs nothing because entity upserts are idempotent. Callers treat
// backend failures as misses.
//
// Two implementations are provided: a badger-backed store (on disk or
// in memory) and Nop for runs with caching disabled.
package cache

import (
	"context"
	"time"
)

// Cache stores byte values under string keys with optional expiry.
//
// Thread safety: implementations are safe for concurrent use.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil); the
	// error is reserved for backend failures.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Nop is the disabled-cache implementation: every read misses and
// writes vanish.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (Nop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (Nop) Del(ctx context.Context, key string) error { return nil }

func (Nop) Close() error { return nil }
