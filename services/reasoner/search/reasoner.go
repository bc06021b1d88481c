// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the hybrid search reasoner.
//
// # Description
//
// A search fans out to up to three independent sources:
//
//   - semantic: the query is embedded and matched against the vector store
//   - graph: World Model nodes scored by text-match tier, optionally
//     expanded one hop from the best node
//   - table: case-insensitive substring search over business records
//
// Each source scores its own hits. The reasoner concatenates them in
// source order, sorts stably by score and truncates. A source that fails
// or times out contributes zero hits and is logged; it never fails the
// search. A cancelled caller context does fail the search, with no
// partial result.
//
// # Thread Safety
//
// Reasoner is safe for concurrent use.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

var tracer = otel.Tracer("aleutian.climate.search")

// DefaultSourceTimeout bounds each source independently.
const DefaultSourceTimeout = 5 * time.Second

// =============================================================================
// Collaborators
// =============================================================================

// SnapshotSource yields the current World Model snapshot.
// *worldmodel.Cache satisfies it.
type SnapshotSource interface {
	Get(ctx context.Context) (*worldmodel.Snapshot, error)
}

// SemanticRetriever embeds a query and returns vector matches.
// *semantic.Retriever satisfies it.
type SemanticRetriever interface {
	Retrieve(ctx context.Context, query string, f semantic.Filters, limit int) ([]semantic.Match, error)
}

// Recorder receives search metrics.
type Recorder interface {
	RecordSearch(success bool, duration time.Duration)
	RecordSource(source string, hits int, duration time.Duration, failed bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordSearch(bool, time.Duration) {}
func (noopRecorder) RecordSource(string, int, time.Duration, bool) {}

// =============================================================================
// Reasoner
// =============================================================================

// Reasoner runs hybrid searches.
type Reasoner struct {
	snapshots     SnapshotSource
	retriever     SemanticRetriever
	records       store.RecordSearcher
	params        ScoringParams
	sourceTimeout time.Duration
	recorder      Recorder
	logger        *slog.Logger
}

// Option configures a Reasoner.
type Option func(*Reasoner)

// WithScoringParams overrides the scoring parameters.
func WithScoringParams(p ScoringParams) Option {
	return func(r *Reasoner) { r.params = p }
}

// WithSourceTimeout sets the per-source timeout. Non-positive values are ignored.
func WithSourceTimeout(d time.Duration) Option {
	return func(r *Reasoner) {
		if d > 0 {
			r.sourceTimeout = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Reasoner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reasoner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReasoner creates a Reasoner.
//
// # Inputs
//
//   - snapshots: World Model source for the graph source.
//   - retriever: Semantic source. May be nil; the source then yields nothing.
//   - records: Table source. May be nil; the source then yields nothing.
func NewReasoner(snapshots SnapshotSource, retriever SemanticRetriever, records store.RecordSearcher, opts ...Option) *Reasoner {
	r := &Reasoner{
		snapshots:     snapshots,
		retriever:     retriever,
		records:       records,
		params:        DefaultScoringParams(),
		sourceTimeout: DefaultSourceTimeout,
		recorder:      noopRecorder{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search runs a hybrid search.
//
// # Description
//
// Validates req, runs the requested sources concurrently, each under its
// own timeout, then merges. Merge order is semantic, graph, table; the
// sort is stable so equal scores keep that order.
//
// # Inputs
//
//   - ctx: Caller deadline. Cancellation fails the whole search.
//   - req: Query, filters, result limit and expansion flag.
//
// # Outputs
//
//   - *Response: Hits (len <= max results), pre-truncation total, and the
//     sources that were requested.
//   - error: ErrInvalidRequest, ErrInvalidFilter or the context error.
func (r *Reasoner) Search(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	start := time.Now()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	sources := req.Filters.requestedSources()
	query := strings.ToLower(strings.TrimSpace(req.Query))

	span.SetAttributes(
		attribute.Int("search.max_results", maxResults),
		attribute.Int("search.sources", len(sources)),
		attribute.Bool("search.graph_expansion", req.IncludeGraphExpansion),
	)

	perSource := make([][]Hit, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			perSource[i] = r.runSource(ctx, src, query, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		r.recorder.RecordSearch(false, time.Since(start))
		return nil, err
	}

	var hits []Hit
	for _, h := range perSource {
		hits = append(hits, h...)
	}
	total := len(hits)
	sortHits(hits)
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	if hits == nil {
		hits = []Hit{}
	}

	span.SetAttributes(
		attribute.Int("search.total_hits", total),
		attribute.Int("search.returned_hits", len(hits)),
	)
	r.recorder.RecordSearch(true, time.Since(start))
	r.logger.Debug("hybrid search completed",
		"sources", sources,
		"total_hits", total,
		"returned", len(hits),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{Hits: hits, TotalHits: total, SourcesSearched: sources}, nil
}

// runSource runs one source under its timeout. Failures are logged and
// yield no hits.
func (r *Reasoner) runSource(ctx context.Context, src Source, query string, req Request) []Hit {
	ctx, cancel := context.WithTimeout(ctx, r.sourceTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "search.source."+string(src))
	defer span.End()
	start := time.Now()

	var (
		hits []Hit
		err  error
	)
	switch src {
	case SourceSemantic:
		hits, err = r.searchSemantic(ctx, req)
	case SourceGraph:
		hits, err = r.searchGraph(ctx, query, req)
	case SourceTable:
		hits, err = r.searchTables(ctx, query)
	default:
		err = fmt.Errorf("%w: unknown source %q", ErrInvalidFilter, src)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")
		r.recorder.RecordSource(string(src), 0, time.Since(start), true)
		r.logger.Warn("search source failed, continuing without it",
			"source", src,
			"error", err,
		)
		return nil
	}

	span.SetAttributes(attribute.Int("search.hits", len(hits)))
	r.recorder.RecordSource(string(src), len(hits), time.Since(start), false)
	return hits
}

// =============================================================================
// Semantic Source
// =============================================================================

func (r *Reasoner) searchSemantic(ctx context.Context, req Request) ([]Hit, error) {
	if r.retriever == nil {
		return nil, semantic.ErrSearcherNotConfigured
	}
	f := semantic.Filters{Module: req.Filters.Module, Tags: req.Filters.Tags}
	for _, t := range req.Filters.entityTypes() {
		f.Kinds = append(f.Kinds, string(t))
	}
	matches, err := r.retriever.Retrieve(ctx, req.Query, f, r.params.SemanticLimit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{
			Source:  SourceSemantic,
			ID:      m.ID,
			Title:   m.Title,
			Snippet: snippet(m.Content, r.params.SnippetLength),
			Score:   m.Similarity,
			Metadata: map[string]any{
				"kind":       m.Kind,
				"module":     m.Module,
				"tags":       m.Tags,
				"similarity": m.Similarity,
			},
		})
	}
	return hits, nil
}

// =============================================================================
// Graph Source
// =============================================================================

func (r *Reasoner) searchGraph(ctx context.Context, query string, req Request) ([]Hit, error) {
	if r.snapshots == nil {
		return nil, fmt.Errorf("world model not configured")
	}
	snap, err := r.snapshots.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("world model snapshot: %w", err)
	}

	types := req.Filters.entityTypes()
	terms := queryTerms(query, r.params.GraphMinTermLength)

	var hits []Hit
	for _, n := range snap.Nodes() {
		if !nodeMatchesFilters(n, req.Filters.Module, types, req.Filters.Tags) {
			continue
		}
		score, tier := r.params.scoreNode(n, query, terms)
		if score <= 0 {
			continue
		}
		hits = append(hits, r.nodeHit(n, score, tier))
	}

	sortHits(hits)
	if len(hits) > r.params.GraphTopK {
		hits = hits[:r.params.GraphTopK]
	}

	if req.IncludeGraphExpansion && len(hits) > 0 {
		hits = append(hits, r.expand(snap, hits)...)
	}
	return hits, nil
}

func (r *Reasoner) nodeHit(n worldmodel.Node, score float64, tier string) Hit {
	return Hit{
		Source:  SourceGraph,
		ID:      n.ID(),
		Title:   n.Label,
		Snippet: snippet(n.Description, r.params.SnippetLength),
		Score:   score,
		Metadata: map[string]any{
			"entity_type": string(n.EntityType),
			"key":         n.Key,
			"module":      n.Module,
			"tags":        n.Tags,
			"match":       tier,
		},
	}
}

// expand adds the one-hop neighbors of the best hit that are not already
// present.
func (r *Reasoner) expand(snap *worldmodel.Snapshot, hits []Hit) []Hit {
	seed := hits[0].ID
	present := make(map[string]bool, len(hits))
	for _, h := range hits {
		present[h.ID] = true
	}

	sub := snap.TraverseSubgraph(seed, nil, 1)
	var added []Hit
	for _, n := range sub.Nodes {
		id := n.ID()
		if id == seed || present[id] {
			continue
		}
		present[id] = true
		h := r.nodeHit(n, r.params.GraphExpansionScore, matchExpansion)
		h.Metadata["expanded_from"] = seed
		added = append(added, h)
	}
	return added
}

// =============================================================================
// Table Source
// =============================================================================

func (r *Reasoner) searchTables(ctx context.Context, query string) ([]Hit, error) {
	if r.records == nil {
		return nil, fmt.Errorf("record searcher not configured")
	}

	var hits []Hit
	for _, t := range store.SearchTables {
		score, ok := r.params.TableScores[t.Name]
		if !ok {
			continue
		}
		rows, err := r.records.SearchRecords(ctx, t.Name, query, r.params.TableRowLimit)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			hits = append(hits, Hit{
				Source:  SourceTable,
				ID:      row.Table + ":" + row.ID,
				Title:   row.Title,
				Snippet: snippet(row.Snippet, r.params.SnippetLength),
				Score:   score,
				Metadata: map[string]any{
					"table":           row.Table,
					"record_id":       row.ID,
					"organization_id": row.OrganizationID,
				},
			})
		}
	}
	return hits, nil
}
