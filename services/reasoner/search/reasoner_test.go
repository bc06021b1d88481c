// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/manifest"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// searchManifest builds six nodes in this order:
//
//	module:contributions, module:energy,
//	table:contribution_projects, endpoint:list_contribution_projects,
//	table:energy_readings, endpoint:record_energy_reading
const searchManifest = `
version: "1"
modules:
  - key: contributions
    label: Contributions
    description: Carbon offset and removal projects.
    tags: [offsets]
    tables:
      - key: contribution_projects
        label: Contribution projects
        description: Funded carbon removal projects.
        tags: [offsets]
    endpoints:
      - key: list_contribution_projects
        label: List contribution projects
        reads: [contribution_projects]
  - key: energy
    label: Energy
    description: Energy tracking and efficiency actions.
    tables:
      - key: energy_readings
        label: Energy readings
        description: Metered consumption in kWh.
        tags: [energy]
    endpoints:
      - key: record_energy_reading
        label: Record energy reading
        writes: [energy_readings]
`

type staticSnapshots struct {
	snap *worldmodel.Snapshot
	err  error
}

func (s staticSnapshots) Get(context.Context) (*worldmodel.Snapshot, error) {
	return s.snap, s.err
}

func testSnapshots(t *testing.T) staticSnapshots {
	t.Helper()
	m, err := manifest.Parse([]byte(searchManifest))
	require.NoError(t, err)
	snap, err := worldmodel.Build(context.Background(), m)
	require.NoError(t, err)
	return staticSnapshots{snap: snap}
}

func demoRecords(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedDemo(context.Background()))
	return s
}

type retrieverFunc func(ctx context.Context, query string, f semantic.Filters, limit int) ([]semantic.Match, error)

func (fn retrieverFunc) Retrieve(ctx context.Context, query string, f semantic.Filters, limit int) ([]semantic.Match, error) {
	return fn(ctx, query, f, limit)
}

func staticRetriever(matches ...semantic.Match) retrieverFunc {
	return func(context.Context, string, semantic.Filters, int) ([]semantic.Match, error) {
		return matches, nil
	}
}

func hitIDs(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ID)
	}
	return out
}

// =============================================================================
// Examples
// =============================================================================

func TestSearch_TableOnlyNoMatches(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, demoRecords(t))

	resp, err := r.Search(context.Background(), Request{
		Query:   "carbon offset",
		Filters: Filters{Sources: []Source{SourceTable}},
	})
	require.NoError(t, err)
	assert.Equal(t, &Response{Hits: []Hit{}, TotalHits: 0, SourcesSearched: []Source{SourceTable}}, resp)
}

func TestSearch_TableSource(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, demoRecords(t))

	resp, err := r.Search(context.Background(), Request{
		Query:   "Emissions",
		Filters: Filters{Sources: []Source{SourceTable}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"missions:m-1", "missions:m-3", "missions:m-5"}, hitIDs(resp.Hits))
	for _, h := range resp.Hits {
		assert.Equal(t, SourceTable, h.Source)
		assert.Equal(t, 0.6, h.Score)
		assert.Equal(t, "missions", h.Metadata["table"])
	}
}

func TestSearch_TableScoresPerTable(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, demoRecords(t))

	resp, err := r.Search(context.Background(), Request{
		Query:   "heat",
		Filters: Filters{Sources: []Source{SourceTable}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, "organizations:org-ember", resp.Hits[0].ID)
	assert.Equal(t, 0.6, resp.Hits[0].Score)
	assert.Equal(t, "energy_actions:e-2", resp.Hits[1].ID)
	assert.Equal(t, 0.55, resp.Hits[1].Score)
}

func TestSearch_TableSourceNonASCII(t *testing.T) {
	records := demoRecords(t)
	_, err := records.DB().ExecContext(context.Background(),
		`INSERT INTO organizations (id, name, sector, country) VALUES (?, ?, ?, ?)`,
		"org-orsted", "ØRSTED Énergie", "Utilities", "DK")
	require.NoError(t, err)
	r := NewReasoner(testSnapshots(t), nil, records)

	for _, q := range []string{"ØRSTED Énergie", "ørsted"} {
		resp, err := r.Search(context.Background(), Request{
			Query:   q,
			Filters: Filters{Sources: []Source{SourceTable}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"organizations:org-orsted"}, hitIDs(resp.Hits), q)
	}
}

// =============================================================================
// Graph Source
// =============================================================================

func TestSearch_GraphTiers(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, nil)

	resp, err := r.Search(context.Background(), Request{
		Query:   "Energy Readings",
		Filters: Filters{Sources: []Source{SourceGraph}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"table:energy_readings", "module:energy", "endpoint:record_energy_reading"}, hitIDs(resp.Hits))

	assert.Equal(t, 0.9, resp.Hits[0].Score)
	assert.Equal(t, matchLabel, resp.Hits[0].Metadata["match"])
	assert.Equal(t, 0.25, resp.Hits[1].Score)
	assert.Equal(t, matchTerms, resp.Hits[1].Metadata["match"])
	assert.Equal(t, 0.25, resp.Hits[2].Score)
}

func TestSearch_GraphDescriptionTier(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, nil)

	resp, err := r.Search(context.Background(), Request{
		Query:   "metered",
		Filters: Filters{Sources: []Source{SourceGraph}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "table:energy_readings", resp.Hits[0].ID)
	assert.Equal(t, 0.7, resp.Hits[0].Score)
	assert.Equal(t, "Metered consumption in kWh.", resp.Hits[0].Snippet)
}

func TestSearch_GraphExpansion(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, nil)

	resp, err := r.Search(context.Background(), Request{
		Query:                 "metered",
		Filters:               Filters{Sources: []Source{SourceGraph}},
		IncludeGraphExpansion: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"table:energy_readings", "module:energy", "endpoint:record_energy_reading"}, hitIDs(resp.Hits))
	for _, h := range resp.Hits[1:] {
		assert.Equal(t, 0.3, h.Score)
		assert.Equal(t, "table:energy_readings", h.Metadata["expanded_from"])
		assert.Equal(t, matchExpansion, h.Metadata["match"])
	}
}

func TestSearch_GraphExpansionSkipsPresentNodes(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, nil)

	resp, err := r.Search(context.Background(), Request{
		Query:                 "energy readings",
		Filters:               Filters{Sources: []Source{SourceGraph}},
		IncludeGraphExpansion: true,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 3)
}

func TestSearch_GraphFilters(t *testing.T) {
	r := NewReasoner(testSnapshots(t), nil, nil)

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{
			name:    "module",
			filters: Filters{Module: "Contributions"},
			want:    []string{"table:contribution_projects", "endpoint:list_contribution_projects", "module:contributions"},
		},
		{
			name:    "entity type",
			filters: Filters{EntityTypes: []string{"table"}},
			want:    []string{"table:contribution_projects"},
		},
		{
			name:    "tags",
			filters: Filters{Tags: []string{"OFFSETS"}},
			want:    []string{"table:contribution_projects", "module:contributions"},
		},
		{
			name:    "module and type",
			filters: Filters{Module: "energy", EntityTypes: []string{"table"}},
			want:    []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.filters.Sources = []Source{SourceGraph}
			resp, err := r.Search(context.Background(), Request{Query: "projects", Filters: tt.filters})
			require.NoError(t, err)
			assert.Equal(t, tt.want, hitIDs(resp.Hits))
		})
	}
}

func TestSearch_GraphTopK(t *testing.T) {
	params := DefaultScoringParams()
	params.GraphTopK = 1
	r := NewReasoner(testSnapshots(t), nil, nil, WithScoringParams(params))

	resp, err := r.Search(context.Background(), Request{
		Query:   "energy readings",
		Filters: Filters{Sources: []Source{SourceGraph}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"table:energy_readings"}, hitIDs(resp.Hits))
}

// =============================================================================
// Semantic Source and Merge
// =============================================================================

func TestSearch_MergeIsStable(t *testing.T) {
	var gotFilters semantic.Filters
	retriever := retrieverFunc(func(_ context.Context, _ string, f semantic.Filters, _ int) ([]semantic.Match, error) {
		gotFilters = f
		return []semantic.Match{
			{ID: "doc-tie", Title: "Reading guide", Similarity: 0.9},
			{ID: "doc-top", Title: "Energy meters", Similarity: 0.95},
		}, nil
	})
	r := NewReasoner(testSnapshots(t), retriever, demoRecords(t))

	resp, err := r.Search(context.Background(), Request{
		Query:   "energy readings",
		Filters: Filters{Tags: []string{"energy"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []Source{SourceSemantic, SourceGraph, SourceTable}, resp.SourcesSearched)
	assert.Equal(t, []string{"energy"}, gotFilters.Tags)
	// The semantic 0.9 hit was emitted before the graph 0.9 hit.
	assert.Equal(t, []string{"doc-top", "doc-tie", "table:energy_readings"}, hitIDs(resp.Hits))
	assert.Equal(t, 3, resp.TotalHits)
}

func TestSearch_MaxResultsBound(t *testing.T) {
	matches := make([]semantic.Match, 0, 12)
	for i := 0; i < 12; i++ {
		matches = append(matches, semantic.Match{ID: string(rune('a' + i)), Similarity: float64(i) / 12})
	}
	r := NewReasoner(testSnapshots(t), staticRetriever(matches...), demoRecords(t))

	for limit := 1; limit <= 20; limit++ {
		resp, err := r.Search(context.Background(), Request{Query: "energy", MaxResults: limit})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(resp.Hits), limit)
		assert.GreaterOrEqual(t, resp.TotalHits, len(resp.Hits))
		for i := 1; i < len(resp.Hits); i++ {
			assert.GreaterOrEqual(t, resp.Hits[i-1].Score, resp.Hits[i].Score)
		}
	}
}

func TestSearch_DefaultMaxResults(t *testing.T) {
	matches := make([]semantic.Match, 0, 40)
	for i := 0; i < 40; i++ {
		matches = append(matches, semantic.Match{ID: string(rune('A' + i)), Similarity: 0.5})
	}
	r := NewReasoner(testSnapshots(t), staticRetriever(matches...), nil)

	resp, err := r.Search(context.Background(), Request{Query: "zzz", Filters: Filters{Sources: []Source{SourceSemantic}}})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, DefaultMaxResults)
	assert.Equal(t, 40, resp.TotalHits)
}

// =============================================================================
// Degradation
// =============================================================================

type recordedSource struct {
	source string
	hits   int
	failed bool
}

type fakeRecorder struct {
	mu       sync.Mutex
	searches []bool
	sources  []recordedSource
}

func (f *fakeRecorder) RecordSearch(success bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, success)
}

func (f *fakeRecorder) RecordSource(source string, hits int, _ time.Duration, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, recordedSource{source, hits, failed})
}

func (f *fakeRecorder) failed(source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sources {
		if s.source == source {
			return s.failed
		}
	}
	return false
}

func TestSearch_FailingSourcesDegrade(t *testing.T) {
	rec := &fakeRecorder{}
	failing := retrieverFunc(func(context.Context, string, semantic.Filters, int) ([]semantic.Match, error) {
		return nil, semantic.ErrEmbedderNotConfigured
	})
	r := NewReasoner(staticSnapshots{err: errors.New("manifest missing")}, failing, demoRecords(t), WithRecorder(rec))

	resp, err := r.Search(context.Background(), Request{Query: "emissions"})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 3)
	for _, h := range resp.Hits {
		assert.Equal(t, SourceTable, h.Source)
	}

	assert.True(t, rec.failed("semantic"))
	assert.True(t, rec.failed("graph"))
	assert.False(t, rec.failed("table"))
	assert.Equal(t, []bool{true}, rec.searches)
}

func TestSearch_UnconfiguredCollaborators(t *testing.T) {
	r := NewReasoner(nil, nil, nil)

	resp, err := r.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.Equal(t, AllSources, resp.SourcesSearched)
}

func TestSearch_SourceTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := retrieverFunc(func(ctx context.Context, _ string, _ semantic.Filters, _ int) ([]semantic.Match, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := NewReasoner(testSnapshots(t), slow, nil, WithSourceTimeout(20*time.Millisecond))

	start := time.Now()
	resp, err := r.Search(context.Background(), Request{
		Query:   "metered",
		Filters: Filters{Sources: []Source{SourceSemantic, SourceGraph}},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"table:energy_readings"}, hitIDs(resp.Hits))
}

func TestSearch_Cancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		resp, err := NewReasoner(testSnapshots(t), nil, nil).Search(ctx, Request{Query: "energy"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, resp)
	})

	t.Run("during fan-out", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cancelling := retrieverFunc(func(ctx context.Context, _ string, _ semantic.Filters, _ int) ([]semantic.Match, error) {
			cancel()
			return []semantic.Match{{ID: "partial", Similarity: 1}}, nil
		})
		resp, err := NewReasoner(testSnapshots(t), cancelling, nil).Search(ctx, Request{Query: "energy"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, resp)
	})
}

// =============================================================================
// Validation
// =============================================================================

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"ok", Request{Query: "energy"}, nil},
		{"ok with filters", Request{Query: "energy", Filters: Filters{
			Module: "energy", EntityTypes: []string{"table", "Endpoint"}, Tags: []string{"energy"},
			Sources: []Source{SourceGraph},
		}}, nil},
		{"blank query", Request{Query: "   "}, ErrInvalidRequest},
		{"query too long", Request{Query: string(make([]byte, MaxQueryLength+1))}, ErrInvalidRequest},
		{"max results too large", Request{Query: "x", MaxResults: MaxMaxResults + 1}, ErrInvalidRequest},
		{"negative max results", Request{Query: "x", MaxResults: -1}, ErrInvalidRequest},
		{"unknown entity type", Request{Query: "x", Filters: Filters{EntityTypes: []string{"service"}}}, ErrInvalidFilter},
		{"unknown source", Request{Query: "x", Filters: Filters{Sources: []Source{"web"}}}, ErrInvalidFilter},
		{"empty tag", Request{Query: "x", Filters: Filters{Tags: []string{""}}}, ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequestValidate_WrapsEntityTypeError(t *testing.T) {
	err := Request{Query: "x", Filters: Filters{EntityTypes: []string{"service"}}}.Validate()
	assert.ErrorIs(t, err, worldmodel.ErrInvalidEntityType)
}

func TestSearch_RejectsInvalidBeforeWork(t *testing.T) {
	called := false
	r := NewReasoner(testSnapshots(t), retrieverFunc(func(context.Context, string, semantic.Filters, int) ([]semantic.Match, error) {
		called = true
		return nil, nil
	}), nil)

	_, err := r.Search(context.Background(), Request{Query: "x", Filters: Filters{Sources: []Source{"web"}}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
	assert.False(t, called)
}

func TestRequestedSources(t *testing.T) {
	assert.Equal(t, AllSources, Filters{}.requestedSources())
	assert.Equal(t, []Source{SourceGraph, SourceTable},
		Filters{Sources: []Source{SourceTable, SourceGraph, SourceTable}}.requestedSources())
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("graph")
	require.NoError(t, err)
	assert.Equal(t, SourceGraph, s)

	_, err = ParseSource("web")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
