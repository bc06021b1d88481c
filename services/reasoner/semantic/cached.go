// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultEmbeddingCacheTTL is how long a cached embedding stays valid.
const DefaultEmbeddingCacheTTL = 7 * 24 * time.Hour

const embeddingKeyPrefix = "emb/v1/"

// CachedEmbedder memoizes embeddings in BadgerDB.
//
// # Description
//
// Keys are "emb/v1/" + SHA-256(model + "\x00" + text), so switching models
// never serves a vector from another embedding space. Values are the vector
// encoded as little-endian float32. Cache read or write failures are logged
// and fall through to the wrapped embedder; they never fail an Embed call.
type CachedEmbedder struct {
	inner Embedder
	db    *badger.DB
	model string
	ttl   time.Duration
}

// NewCachedEmbedder wraps inner with a Badger cache.
// A non-positive ttl uses DefaultEmbeddingCacheTTL.
func NewCachedEmbedder(inner Embedder, db *badger.DB, model string, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultEmbeddingCacheTTL
	}
	return &CachedEmbedder{inner: inner, db: db, model: model, ttl: ttl}
}

// Embed returns the cached vector for text or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if vec, ok := c.lookup(key); ok {
		recordEmbeddingCache(ctx, true)
		return vec, nil
	}
	recordEmbeddingCache(ctx, false)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, encodeVector(vec)).WithTTL(c.ttl))
	}); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return append([]byte(embeddingKeyPrefix), sum[:]...)
}

func (c *CachedEmbedder) lookup(key []byte) ([]float32, bool) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			vec = v
			return err
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("embedding cache read failed", "error", err)
		}
		return nil, false
	}
	return vec, true
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached embedding: %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
