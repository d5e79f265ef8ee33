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
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Cartograph/pkg/logging"
)

// Config holds settings for a badger-backed cache.
type Config struct {
	// Path is the directory for the cache files. Required unless
	// InMemory is true, ignored otherwise.
	Path string

	// InMemory keeps the cache off disk. Data is lost on Close.
	InMemory bool

	// SyncWrites forces synchronous writes. The cache tolerates loss,
	// so tests and high-churn ingest runs can leave this off.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger *logging.Logger

	// GCInterval is how often value log garbage collection runs.
	// Zero disables GC; in-memory caches never run it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction of the value
	// log before a GC pass rewrites it.
	GCDiscardRatio float64
}

// DefaultConfig returns production settings: durable writes and a GC
// pass every five minutes once half the value log is garbage.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests and ephemeral runs.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// BadgerCache implements Cache on an embedded badger store. Expiry is
// delegated to badger's per-entry TTL, so expired keys read as misses
// without a sweeper of our own.
type BadgerCache struct {
	db  *badger.DB
	log *logging.Logger

	gcOnce sync.Once
	gcStop chan struct{}
	gcDone chan struct{}
}

var _ Cache = (*BadgerCache)(nil)

// Open opens the cache described by cfg, creating the directory for a
// persistent cache when missing.
func Open(cfg Config) (*BadgerCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	c := &BadgerCache{db: db, log: log}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		c.gcStop = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.gcLoop(cfg.GCInterval, ratio)
	}
	return c, nil
}

// Get returns the value for key, treating expired entries as misses.
func (c *BadgerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var (
		value []byte
		found bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key, expiring after ttl when positive.
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Del removes key. Absent keys delete cleanly.
func (c *BadgerCache) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("cache del %q: %w", key, err)
	}
	return nil
}

// Close stops garbage collection and closes the store.
func (c *BadgerCache) Close() error {
	if c.gcStop != nil {
		c.gcOnce.Do(func() {
			close(c.gcStop)
			<-c.gcDone
		})
	}
	return c.db.Close()
}

func (c *BadgerCache) gcLoop(interval time.Duration, ratio float64) {
	defer close(c.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed, not a failure.
			err := c.db.RunValueLogGC(ratio)
			if err == nil {
				c.log.Debug("cache value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				c.log.Warn("cache value log GC error", "error", err)
			}
		}
	}
}

// badgerLogger adapts our logger to badger's Logger interface.
type badgerLogger struct {
	log *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
