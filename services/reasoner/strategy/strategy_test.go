// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianClimate/pkg/validation"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/similarity"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
)

func newDemoEngine(t *testing.T) *Engine {
	t.Helper()
	s, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedDemo(context.Background()))
	return NewEngine(s)
}

func categories(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Category)
	}
	return out
}

// =============================================================================
// Against the demo store
// =============================================================================

func TestFindSimilar_Demo(t *testing.T) {
	e := newDemoEngine(t)

	got, err := e.FindSimilar(context.Background(), "org-aurora", similarity.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "org-borealis", got[0].CandidateID)
	assert.Equal(t, 0.9, got[0].Score)
	assert.Equal(t, "org-ember", got[1].CandidateID)
	assert.Equal(t, 0.7, got[1].Score)
	assert.Equal(t, "org-cascade", got[2].CandidateID)
	assert.Equal(t, 0.23, got[2].Score)
	assert.Equal(t, "org-delta", got[3].CandidateID)
	assert.Equal(t, 0.2, got[3].Score)
}

func TestRecommend_Demo(t *testing.T) {
	e := newDemoEngine(t)

	got, err := e.Recommend(context.Background(), Request{TenantID: "org-aurora"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Emissions reduction",
		"Fleet electrification",
		"Lighting",
		"Heating",
		"Nature-based removal",
		"Carbon offset",
		"Renewables",
	}, categories(got))

	emissions := got[0]
	assert.Equal(t, store.ActivityMissions, emissions.ActionType)
	assert.Equal(t, 2, emissions.Frequency, "a peer with two records counts once")
	require.NotNil(t, emissions.AvgImpact)
	assert.Equal(t, 800.0, *emissions.AvgImpact)
	assert.Equal(t, 1.0, emissions.Score)
	assert.Equal(t, []string{"Used by 2 of 4 similar organizations", "Average impact 800.0 kg CO2e"}, emissions.Reasons)

	heating := got[3]
	assert.Equal(t, store.ActivityEnergyActions, heating.ActionType)
	assert.Equal(t, 0.75, heating.Score)

	offset := got[5]
	assert.Equal(t, store.ActivityContributionProjects, offset.ActionType)
	assert.Equal(t, 0.45, offset.Score)

	renewables := got[6]
	assert.Nil(t, renewables.AvgImpact)
	assert.Equal(t, 0.25, renewables.Score)
	assert.Len(t, renewables.Reasons, 1)
}

func TestRecommend_Tags(t *testing.T) {
	e := newDemoEngine(t)

	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{"synonym selects whole kind", []string{"offset"}, []string{"Nature-based removal", "Carbon offset"}},
		{"label substring", []string{"HEAT"}, []string{"Heating"}},
		{"energy synonym", []string{"energy"}, []string{"Lighting", "Heating", "Renewables"}},
		{"goal synonym", []string{"goal"}, []string{"Emissions reduction", "Fleet electrification"}},
		{"no match", []string{"billing"}, []string{}},
		{"blank tags are ignored", []string{"  "}, []string{
			"Emissions reduction", "Fleet electrification", "Lighting", "Heating",
			"Nature-based removal", "Carbon offset", "Renewables",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Recommend(context.Background(), Request{TenantID: "org-aurora", Tags: tt.tags})
			require.NoError(t, err)
			assert.Equal(t, tt.want, categories(got))
		})
	}
}

func TestRecommend_Truncates(t *testing.T) {
	e := newDemoEngine(t)

	got, err := e.Recommend(context.Background(), Request{TenantID: "org-aurora", MaxStrategies: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	onePeer, err := e.Recommend(context.Background(), Request{TenantID: "org-aurora", MaxSimilar: 1})
	require.NoError(t, err)
	for _, c := range onePeer {
		assert.Equal(t, 1, c.Frequency)
		assert.Contains(t, c.Reasons[0], "of 1 similar")
	}
}

func TestRecommend_Errors(t *testing.T) {
	e := newDemoEngine(t)

	_, err := e.Recommend(context.Background(), Request{TenantID: "org-nope"})
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = e.Recommend(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.Recommend(context.Background(), Request{TenantID: "org-aurora", MaxStrategies: MaxLimit + 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.Recommend(context.Background(), Request{TenantID: "org'; DROP TABLE organizations--"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, validation.ErrInvalidTenantID)

	_, err = e.FindSimilar(context.Background(), "org-aurora", similarity.Filters{ExcludeIDs: []string{"ok", "not ok"}}, 5)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// =============================================================================
// Against a fake store
// =============================================================================

type fakeStore struct {
	tenants    []store.TenantRecord
	activities map[store.ActivityKind][]store.Activity
	failKind   store.ActivityKind
	onQuery    func()
}

func (f *fakeStore) SearchRecords(context.Context, string, string, int) ([]store.Row, error) {
	return []store.Row{}, nil
}

func (f *fakeStore) GetTenant(_ context.Context, id string) (*store.TenantRecord, error) {
	for _, t := range f.tenants {
		if t.ID == id {
			rec := t
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListTenants(context.Context, int) ([]store.TenantRecord, error) {
	return f.tenants, nil
}

func (f *fakeStore) PeerActivities(_ context.Context, kind store.ActivityKind, _ []string) ([]store.Activity, error) {
	if f.onQuery != nil {
		f.onQuery()
	}
	if kind == f.failKind {
		return nil, errors.New("relation does not exist")
	}
	return f.activities[kind], nil
}

func impact(v float64) *float64 { return &v }

func twoTenants() []store.TenantRecord {
	return []store.TenantRecord{
		{ID: "me", Sector: "energy"},
		{ID: "peer", Sector: "energy"},
	}
}

func TestRecommend_FailingKindDegrades(t *testing.T) {
	fs := &fakeStore{
		tenants:  twoTenants(),
		failKind: store.ActivityEnergyActions,
		activities: map[store.ActivityKind][]store.Activity{
			store.ActivityMissions:             {{TenantID: "peer", Category: "Travel", Status: "active"}},
			store.ActivityEnergyActions:        {{TenantID: "peer", Category: "Lighting", Status: "active"}},
			store.ActivityContributionProjects: {{TenantID: "peer", Category: "", Status: "completed", Impact: impact(10)}},
		},
	}

	got, err := NewEngine(fs).Recommend(context.Background(), Request{TenantID: "me"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Travel", UncategorizedLabel}, categories(got))
	assert.Equal(t, 1.0, got[0].Score)
}

func TestRecommend_NoPeers(t *testing.T) {
	fs := &fakeStore{tenants: []store.TenantRecord{{ID: "me", Sector: "energy"}, {ID: "other", Sector: "food"}}}

	got, err := NewEngine(fs).Recommend(context.Background(), Request{TenantID: "me"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecommend_EmptyPeerData(t *testing.T) {
	fs := &fakeStore{tenants: twoTenants()}

	got, err := NewEngine(fs).Recommend(context.Background(), Request{TenantID: "me"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecommend_CancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := &fakeStore{
		tenants: twoTenants(),
		onQuery: cancel,
		activities: map[store.ActivityKind][]store.Activity{
			store.ActivityMissions: {{TenantID: "peer", Category: "Travel", Status: "active"}},
		},
	}

	got, err := NewEngine(fs).Recommend(ctx, Request{TenantID: "me"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

// =============================================================================
// Helpers
// =============================================================================

func TestAggregate(t *testing.T) {
	rows := []store.Activity{
		{TenantID: "a", Category: "Solar", Impact: impact(2000)},
		{TenantID: "a", Category: "Solar", Impact: impact(4000)},
		{TenantID: "b", Category: "Solar"},
		{TenantID: "b", Category: " Audit "},
	}

	got := aggregate(store.ActivityEnergyActions, DefaultKindParams[store.ActivityEnergyActions], rows, 4)
	require.Len(t, got, 2)

	assert.Equal(t, "Audit", got[0].Category)
	assert.Equal(t, 1, got[0].Frequency)
	assert.Equal(t, 0.25, got[0].Score)

	solar := got[1]
	assert.Equal(t, 2, solar.Frequency)
	assert.Equal(t, 3000.0, *solar.AvgImpact)
	assert.Equal(t, 0.8, solar.Score)
	assert.Equal(t, "Average impact 3000.0 kWh", solar.Reasons[1])

	assert.Nil(t, aggregate(store.ActivityMissions, DefaultKindParams[store.ActivityMissions], nil, 3))
}

func TestMatchesTags(t *testing.T) {
	syn := DefaultKindParams[store.ActivityMissions].Synonyms

	assert.True(t, matchesTags("Travel", syn, nil))
	assert.True(t, matchesTags("Business travel", syn, []string{"Travel"}))
	assert.True(t, matchesTags("Travel", syn, []string{"mission"}))
	assert.False(t, matchesTags("Travel", syn, []string{"missions"}))
	assert.False(t, matchesTags("Travel", syn, []string{"energy"}))
}
