// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worldmodel

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the watcher waits for writes to settle.
const DefaultWatchDebounce = 100 * time.Millisecond

// ManifestWatcher invalidates a Cache when the manifest file changes.
//
// # Description
//
// Watches the manifest's parent directory rather than the file itself, so
// editors that save by renaming a temp file over the original are still
// seen. Bursts of events are collapsed with a debounce window and produce a
// single onChange call.
//
// # Thread Safety
//
// Safe for concurrent use. onChange is called from a single goroutine.
type ManifestWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewManifestWatcher creates a watcher for the manifest at path.
//
// # Inputs
//
//   - path: Manifest file path. Must not be empty.
//   - onChange: Called after each debounced batch of changes.
//   - debounce: Settling window. Non-positive uses DefaultWatchDebounce.
func NewManifestWatcher(path string, onChange func(), debounce time.Duration, logger *slog.Logger) (*ManifestWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest watcher: empty path")
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("manifest watcher: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("manifest watcher: %w", err)
	}

	return &ManifestWatcher{
		path:     abs,
		watcher:  w,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// WatchManifest wires a watcher to cache.Invalidate and starts it.
func WatchManifest(ctx context.Context, path string, cache *Cache, logger *slog.Logger) (*ManifestWatcher, error) {
	w, err := NewManifestWatcher(path, cache.Invalidate, 0, logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

// Start begins watching. The loop exits on Stop or when ctx is cancelled.
func (w *ManifestWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("manifest watcher: watching %s: %w", filepath.Dir(w.path), err)
	}
	w.watching = true

	go w.loop(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit. Safe to call twice.
func (w *ManifestWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		started := w.watching
		w.watching = false
		w.mu.Unlock()

		if started {
			<-w.stopped
		}
	})
}

func (w *ManifestWatcher) loop(ctx context.Context) {
	defer close(w.stopped)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.done:
			timer.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watcher error", "path", w.path, "error", err)
		case <-timer.C:
			pending = false
			w.logger.Info("manifest changed, invalidating world model", "path", w.path)
			if w.onChange != nil {
				w.onChange()
			}
		}
	}
}
