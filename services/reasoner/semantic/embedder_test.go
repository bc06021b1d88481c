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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reasonerbadger "github.com/AleutianAI/AleutianClimate/services/reasoner/storage/badger"
)

// =============================================================================
// HTTPEmbedder
// =============================================================================

func TestHTTPEmbedder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "solar panels", req.Text)

		_ = json.NewEncoder(w).Encode(embedResponse{Text: req.Text, Vector: []float32{0.1, 0.2, 0.3}, Dim: 3})
	}))
	defer srv.Close()

	vec, err := NewHTTPEmbedder(srv.URL, nil).Embed(context.Background(), "solar panels")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedder_Errors(t *testing.T) {
	t.Run("empty url", func(t *testing.T) {
		_, err := NewHTTPEmbedder("", nil).Embed(context.Background(), "x")
		assert.ErrorIs(t, err, ErrEmbedderNotConfigured)
	})

	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPEmbedder(srv.URL, nil).Embed(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("empty vector", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"vector": []}`))
		}))
		defer srv.Close()

		_, err := NewHTTPEmbedder(srv.URL, nil).Embed(context.Background(), "x")
		assert.ErrorIs(t, err, ErrEmptyEmbedding)
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := NewHTTPEmbedder(srv.URL, nil).Embed(ctx, "x")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbedderNotConfigured)
}

// =============================================================================
// OpenAIEmbedder
// =============================================================================

func TestOpenAIEmbedder_NoKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{}).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbedderNotConfigured)
}

func TestOpenAIEmbedder_CompatibleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultOpenAIModel, body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.5, -0.25]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	assert.Equal(t, DefaultOpenAIModel, e.Model())

	vec, err := e.Embed(context.Background(), "heat pumps")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25}, vec)
}

// =============================================================================
// CachedEmbedder
// =============================================================================

type countingEmbedder struct {
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1.5, -2}, nil
}

func openTestDB(t *testing.T) *reasonerbadger.DB {
	t.Helper()
	db, err := reasonerbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCachedEmbedder_HitsCache(t *testing.T) {
	db := openTestDB(t)
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, db.DB, "model-a", time.Hour)

	first, err := c.Embed(context.Background(), "energy audit")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "energy audit")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []float32{12, 1.5, -2}, second)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	db := openTestDB(t)
	inner := &countingEmbedder{}

	_, err := NewCachedEmbedder(inner, db.DB, "model-a", 0).Embed(context.Background(), "x")
	require.NoError(t, err)
	_, err = NewCachedEmbedder(inner, db.DB, "model-b", 0).Embed(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	db := openTestDB(t)
	inner := &countingEmbedder{err: errors.New("oracle down")}
	c := NewCachedEmbedder(inner, db.DB, "m", 0)

	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)
	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, 1, -1.25, 3.4028235e38}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

// =============================================================================
// RateLimitedEmbedder
// =============================================================================

func TestRateLimitedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	r := NewRateLimitedEmbedder(inner, 0, 0)

	for i := 0; i < 5; i++ {
		_, err := r.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(5), inner.calls.Load())
}

func TestRateLimitedEmbedder_CancelledContext(t *testing.T) {
	inner := &countingEmbedder{}
	r := NewRateLimitedEmbedder(inner, 0.001, 1)

	_, err := r.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Embed(ctx, "second")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), inner.calls.Load())
}
