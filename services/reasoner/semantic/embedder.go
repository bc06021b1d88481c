// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semantic wraps the external embedding oracle and the vector
// similarity store behind the Retriever used by hybrid search.
//
// # Components
//
//   - Embedder: text -> vector. Implementations: HTTPEmbedder (embedding
//     service), OpenAIEmbedder, CachedEmbedder (badger), RateLimitedEmbedder,
//     and Unconfigured for deployments without an oracle.
//   - VectorSearcher: vector + filters + limit -> ranked matches carrying a
//     similarity. Implementation: WeaviateSearcher.
//   - Retriever: embeds a query and runs the vector search.
//
// # Thread Safety
//
// Every type in this package is safe for concurrent use.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmbedderNotConfigured is returned when no embedding oracle is available.
	ErrEmbedderNotConfigured = errors.New("embedding oracle not configured")

	// ErrEmptyEmbedding is returned when the oracle answers with no vector.
	ErrEmptyEmbedding = errors.New("embedding oracle returned an empty vector")

	// ErrSearcherNotConfigured is returned when no vector store is available.
	ErrSearcherNotConfigured = errors.New("vector searcher not configured")
)

// =============================================================================
// Embedder
// =============================================================================

// Embedder computes a vector embedding for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Unconfigured is the Embedder used when no oracle is set up.
// Every call fails with ErrEmbedderNotConfigured.
type Unconfigured struct{}

// Embed always returns ErrEmbedderNotConfigured.
func (Unconfigured) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrEmbedderNotConfigured
}

// =============================================================================
// HTTP embedding service
// =============================================================================

// embedRequest is the body POSTed to the embedding service.
type embedRequest struct {
	Text string `json:"text"`
}

// embedResponse is the embedding service reply.
type embedResponse struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim"`
}

// DefaultHTTPEmbedTimeout bounds a single embedding call.
const DefaultHTTPEmbedTimeout = 30 * time.Second

// HTTPEmbedder calls an embedding service that accepts {"text": ...} and
// answers {"vector": [...]}.
type HTTPEmbedder struct {
	url    string
	client *http.Client
}

// NewHTTPEmbedder creates an embedder for the service at url.
// A nil client gets DefaultHTTPEmbedTimeout.
func NewHTTPEmbedder(url string, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPEmbedTimeout}
	}
	return &HTTPEmbedder{url: url, client: client}
}

// Embed posts text to the service and returns the vector.
//
// # Outputs
//
//   - []float32: Non-empty embedding.
//   - error: ErrEmbedderNotConfigured when the URL is empty, ErrEmptyEmbedding,
//     or a transport/status/decoding error.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.url == "" {
		return nil, ErrEmbedderNotConfigured
	}

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return out.Vector, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
