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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/manifest"
)

// DefaultCacheTTL is how long a snapshot is served before the next read rebuilds it.
const DefaultCacheTTL = 60 * time.Second

const flightKey = "snapshot"

// BuildFunc produces a fresh snapshot.
type BuildFunc func(ctx context.Context) (*Snapshot, error)

// ManifestBuildFunc returns a BuildFunc that reloads the manifest at path on
// every build. An empty path uses the embedded manifest.
func ManifestBuildFunc(path string) BuildFunc {
	return func(ctx context.Context) (*Snapshot, error) {
		m, err := manifest.Load(path)
		if err != nil {
			return nil, err
		}
		return Build(ctx, m)
	}
}

// Cache memoizes the World Model snapshot with a TTL.
//
// # Description
//
// State machine: empty -> populated (valid until TTL) -> stale -> rebuilt.
// Reads of a fresh snapshot take only a read lock. The first read after
// expiry or Invalidate triggers a rebuild; concurrent readers share that
// single build through singleflight. If a rebuild fails and a previous
// snapshot exists, the previous snapshot keeps being served and the failure
// is logged.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	build  BuildFunc
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	snapshot    *Snapshot
	builtAt     time.Time
	invalidated bool
	generation  uint64
	lastErr     error

	flight singleflight.Group

	rebuilds atomic.Int64
	failures atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the snapshot lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for rebuild events.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache creates an empty cache around build.
func NewCache(build BuildFunc, opts ...CacheOption) *Cache {
	c := &Cache{
		build:  build,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current snapshot, rebuilding it when empty, expired or invalidated.
//
// # Outputs
//
//   - *Snapshot: Never nil when error is nil.
//   - error: The build error, only when no previous snapshot exists to fall back on.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snapshot
	reason := c.staleReasonLocked()
	c.mu.RUnlock()

	if reason == "" {
		return snap, nil
	}

	v, err, _ := c.flight.Do(flightKey, func() (interface{}, error) {
		return c.rebuild(context.WithoutCancel(ctx), reason)
	})
	if err != nil {
		if snap != nil {
			c.logger.Warn("world model rebuild failed, serving previous snapshot",
				"error", err,
				"snapshot_age", c.now().Sub(snap.builtAt),
			)
			return snap, nil
		}
		return nil, err
	}
	return v.(*Snapshot), nil
}

// staleReasonLocked returns why the snapshot must be rebuilt, or "" if it is fresh.
func (c *Cache) staleReasonLocked() string {
	switch {
	case c.snapshot == nil:
		return "cold"
	case c.invalidated:
		return "invalidated"
	case c.now().Sub(c.builtAt) >= c.ttl:
		return "expired"
	default:
		return ""
	}
}

func (c *Cache) rebuild(ctx context.Context, reason string) (*Snapshot, error) {
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	start := c.now()
	snap, err := c.build(ctx)
	c.rebuilds.Add(1)
	recordCacheRebuild(ctx, reason, err == nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failures.Add(1)
		c.lastErr = err
		return nil, err
	}

	c.snapshot = snap
	c.builtAt = c.now()
	// An Invalidate that raced with this build still applies.
	c.invalidated = c.generation != gen
	c.lastErr = nil

	c.logger.Info("world model snapshot rebuilt",
		"reason", reason,
		"nodes", snap.NodeCount(),
		"edges", snap.EdgeCount(),
		"duration", c.now().Sub(start),
	)
	return snap, nil
}

// Invalidate marks the snapshot stale so the next Get rebuilds it.
// The current snapshot stays available as a fallback if that rebuild fails.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.generation++
	c.mu.Unlock()
}

// Peek returns the cached snapshot without triggering a build.
func (c *Cache) Peek() (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.snapshot != nil
}

// CacheStats describes the cache state.
type CacheStats struct {
	Populated bool      `json:"populated"`
	Stale     bool      `json:"stale"`
	BuiltAt   time.Time `json:"built_at"`
	TTL       string    `json:"ttl"`
	Rebuilds  int64     `json:"rebuilds"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

// Stats returns a point-in-time view of the cache.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := CacheStats{
		Populated: c.snapshot != nil,
		Stale:     c.staleReasonLocked() != "",
		BuiltAt:   c.builtAt,
		TTL:       c.ttl.String(),
		Rebuilds:  c.rebuilds.Load(),
		Failures:  c.failures.Load(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
