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
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.climate.semantic")

// DefaultMaxEmbedLength caps the query text sent to the oracle, in bytes.
const DefaultMaxEmbedLength = 2000

// Retriever embeds a query and runs a vector search. It is the single
// entry point hybrid search uses for the semantic source.
type Retriever struct {
	embedder       Embedder
	searcher       VectorSearcher
	maxEmbedLength int
}

// NewRetriever creates a Retriever. A nil embedder behaves as Unconfigured.
func NewRetriever(embedder Embedder, searcher VectorSearcher) *Retriever {
	if embedder == nil {
		embedder = Unconfigured{}
	}
	return &Retriever{embedder: embedder, searcher: searcher, maxEmbedLength: DefaultMaxEmbedLength}
}

// Retrieve returns up to limit matches for query.
//
// # Outputs
//
//   - []Match: Ordered as returned by the vector store.
//   - error: ErrEmbedderNotConfigured, ErrSearcherNotConfigured, or an
//     oracle/store failure. Hybrid search absorbs these as zero hits.
func (r *Retriever) Retrieve(ctx context.Context, query string, f Filters, limit int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "semantic.Retrieve")
	defer span.End()
	start := time.Now()

	if r.searcher == nil {
		return nil, ErrSearcherNotConfigured
	}

	text := truncateUTF8(strings.TrimSpace(query), r.maxEmbedLength)

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		recordRetrieve(ctx, "embed_error", time.Since(start))
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := r.searcher.SearchVector(ctx, vec, f, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		recordRetrieve(ctx, "search_error", time.Since(start))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("semantic.vector_dim", len(vec)),
		attribute.Int("semantic.matches", len(matches)),
	)
	recordRetrieve(ctx, "ok", time.Since(start))
	return matches, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
