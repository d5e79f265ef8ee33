// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/Cartograph/pkg/logging"
)

// FileChange represents one file system change in the drop directory.
type FileChange struct {
	// Path is the path to the changed file.
	Path string

	// Op is the type of change.
	Op FileOp

	// Time is when the change was detected.
	Time time.Time
}

// FileOp represents the type of file operation.
type FileOp int

const (
	// FileOpCreate indicates a file was created.
	FileOpCreate FileOp = iota

	// FileOpWrite indicates a file was modified.
	FileOpWrite

	// FileOpRemove indicates a file was deleted.
	FileOpRemove

	// FileOpRename indicates a file was renamed.
	FileOpRename
)

// String returns the string representation of the operation.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "create"
	case FileOpWrite:
		return "write"
	case FileOpRemove:
		return "remove"
	case FileOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileChangeHandler is called when a debounced batch of changes is ready.
type FileChangeHandler func(changes []FileChange)

// Watcher watches a drop directory for parse-result documents.
//
// # Description
//
// Watches the drop directory and its subdirectories for file changes
// and batches them using a debounce window, so a parser dumping dozens
// of documents triggers one ingest burst instead of one per file.
//
// # Debouncing
//
// Changes are collected into a buffer. When the debounce window expires
// without new changes, all collected changes are deduplicated and sent
// to the handler.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type Watcher struct {
	root          string
	watcher       *fsnotify.Watcher
	handler       FileChangeHandler
	debounce      time.Duration
	ignorePattern []string
	log           *logging.Logger

	changes  chan FileChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more changes before
	// handing a batch to the handler. Default: 500ms.
	DebounceWindow time.Duration

	// IgnorePatterns are glob patterns for files/directories to skip.
	// Default: [".*", "*.tmp", "*.partial"]
	IgnorePatterns []string

	// BufferSize is the size of the change buffer channel.
	// Default: 1000
	BufferSize int

	// Logger receives watch errors and drop notices. Default: the
	// process logger.
	Logger *logging.Logger
}

// DefaultWatcherOptions returns defaults matching the config package.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 500 * time.Millisecond,
		IgnorePatterns: []string{".*", "*.tmp", "*.partial"},
		BufferSize:     1000,
	}
}

// NewWatcher creates a watcher for the given drop directory.
//
// # Inputs
//
//   - root: Path to the drop directory to watch.
//   - handler: Function called with batched changes after debounce.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Watcher: Ready-to-use watcher (call Start to begin watching).
//   - error: Non-nil if the underlying fsnotify watcher could not be
//     created.
//
// # Example
//
//	w, err := ingest.NewWatcher(cfg.Ingest.WatchDir, pipeline.ChangeHandler(ctx), nil)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
func NewWatcher(root string, handler FileChangeHandler, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultWatcherOptions().DebounceWindow
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultWatcherOptions().BufferSize
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:          root,
		watcher:       watcher,
		handler:       handler,
		debounce:      opts.DebounceWindow,
		ignorePattern: opts.IgnorePatterns,
		log:           log.With("component", "ingest_watcher"),
		changes:       make(chan FileChange, opts.BufferSize),
		done:          make(chan struct{}),
	}, nil
}

// Start begins watching for file changes.
//
// # Description
//
// Recursively watches the drop directory and all subdirectories.
// Changes are debounced and sent to the handler in batches.
//
// # Behavior
//
// Spawns two goroutines:
//   - Event processor: Converts fsnotify events to FileChange
//   - Debouncer: Batches changes and calls handler
//
// Both goroutines exit when Stop() is called or the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil // Already watching
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// addRecursive adds a directory and all subdirectories to the watch list.
// The root itself is never ignored; patterns apply below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Ignore errors, continue walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoredPath(path, w.ignorePattern) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// processEvents converts fsnotify events to FileChange and sends to channel.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ignoredPath(event.Name, w.ignorePattern) {
				continue
			}

			change := FileChange{
				Path: event.Name,
				Time: time.Now(),
				Op:   convertOp(event.Op),
			}

			select {
			case w.changes <- change:
			default:
				// Buffer full; the debouncer is not keeping up.
				watcherDroppedTotal.Inc()
				w.log.Warn("change buffer full, dropping event", "path", event.Name)
			}

			// If a new directory was created, watch it too.
			if event.Has(fsnotify.Create) {
				if isDir(event.Name) {
					if err := w.watcher.Add(event.Name); err != nil {
						w.log.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// isDir returns true if path exists and is a directory.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// convertOp converts fsnotify.Op to FileOp.
func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpWrite
	}
}

// debounceLoop batches changes and calls handler after the debounce window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []FileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := deduplicateChanges(batch)
			if len(deduped) > 0 && w.handler != nil {
				watcherBatchesTotal.Inc()
				w.handler(deduped)
			}
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()
		}
	}
}

// deduplicateChanges removes duplicate changes for the same file,
// keeping the most recent change per path.
func deduplicateChanges(changes []FileChange) []FileChange {
	seen := make(map[string]int) // path -> index in result
	result := make([]FileChange, 0, len(changes))

	for _, change := range changes {
		if idx, exists := seen[change.Path]; exists {
			result[idx] = change
		} else {
			seen[change.Path] = len(result)
			result = append(result, change)
		}
	}

	return result
}

// ignoredPath checks a path against ignore patterns. A pattern matches
// when it equals the base name, matches it as a filepath.Match glob, or
// names a directory anywhere on the path.
func ignoredPath(path string, patterns []string) bool {
	base := filepath.Base(path)

	for _, pattern := range patterns {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(path, string(filepath.Separator)+pattern+string(filepath.Separator)) {
			return true
		}
	}

	return false
}
