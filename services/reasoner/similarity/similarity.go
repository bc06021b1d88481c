// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity scores how alike two tenant profiles are.
//
// # Description
//
// The score is an additive sum of weighted feature matches, capped at 1.0:
//
//	sector                 0.30
//	country                0.20
//	scope                  0.15
//	climate score <= 10    0.15  (else <= 25: 0.08)
//	energy tracking        0.10
//	missions               0.05
//	contribution projects  0.05
//
// Missing data on either side contributes nothing. Two identical, fully
// populated profiles with every flag set score exactly 1.0.
//
// Everything here is pure; profiles are built per request by the caller.
package similarity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
)

// DefaultMaxResults bounds FindSimilar when the caller passes max <= 0.
const DefaultMaxResults = 10

// =============================================================================
// Types
// =============================================================================

// Profile is the similarity input for one tenant.
type Profile struct {
	TenantID     string   `json:"tenant_id"`
	Sector       string   `json:"sector,omitempty"`
	Country      string   `json:"country,omitempty"`
	Scope        string   `json:"scope,omitempty"`
	ClimateScore *float64 `json:"climate_score,omitempty"`

	HasEnergyTracking       bool `json:"has_energy_tracking"`
	HasMissions             bool `json:"has_missions"`
	HasContributionProjects bool `json:"has_contribution_projects"`
}

// ProfileFromRecord derives a Profile from a tenant row and its presence counts.
func ProfileFromRecord(rec store.TenantRecord) Profile {
	return Profile{
		TenantID:                rec.ID,
		Sector:                  rec.Sector,
		Country:                 rec.Country,
		Scope:                   rec.Scope,
		ClimateScore:            rec.ClimateScore,
		HasEnergyTracking:       rec.EnergyReadingCount > 0,
		HasMissions:             rec.MissionCount > 0,
		HasContributionProjects: rec.ContributionProjectCount > 0,
	}
}

// Result is one scored candidate.
type Result struct {
	CandidateID string   `json:"candidate_id"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
}

// Filters narrow the candidate pool before ranking.
type Filters struct {
	SameSectorOnly  bool     `json:"same_sector_only"`
	SameCountryOnly bool     `json:"same_country_only"`
	MinScore        float64  `json:"min_score" validate:"gte=0,lte=1"`
	ExcludeIDs      []string `json:"exclude_ids,omitempty"`
}

// Weights are the per-feature contributions.
type Weights struct {
	Sector               float64
	Country              float64
	Scope                float64
	ClimateBandClose     float64
	ClimateBandNear      float64
	ClimateBandCloseGap  float64
	ClimateBandNearGap   float64
	EnergyTracking       float64
	Missions             float64
	ContributionProjects float64
}

// DefaultWeights are the production weights.
var DefaultWeights = Weights{
	Sector:               0.30,
	Country:              0.20,
	Scope:                0.15,
	ClimateBandClose:     0.15,
	ClimateBandNear:      0.08,
	ClimateBandCloseGap:  10,
	ClimateBandNearGap:   25,
	EnergyTracking:       0.10,
	Missions:             0.05,
	ContributionProjects: 0.05,
}

// =============================================================================
// Scoring
// =============================================================================

// Score compares candidate against reference with DefaultWeights.
func Score(reference, candidate Profile) (float64, []string) {
	return DefaultWeights.Score(reference, candidate)
}

// Score returns the capped, 3-decimal score and one reason per contributing
// feature in evaluation order.
func (w Weights) Score(reference, candidate Profile) (float64, []string) {
	var (
		total   float64
		reasons []string
	)

	if sameValue(reference.Sector, candidate.Sector) {
		total += w.Sector
		reasons = append(reasons, fmt.Sprintf("Same sector (%s)", candidate.Sector))
	}
	if sameValue(reference.Country, candidate.Country) {
		total += w.Country
		reasons = append(reasons, fmt.Sprintf("Same country (%s)", candidate.Country))
	}
	if sameValue(reference.Scope, candidate.Scope) {
		total += w.Scope
		reasons = append(reasons, fmt.Sprintf("Same scope (%s)", candidate.Scope))
	}
	if reference.ClimateScore != nil && candidate.ClimateScore != nil {
		gap := math.Abs(*reference.ClimateScore - *candidate.ClimateScore)
		switch {
		case gap <= w.ClimateBandCloseGap:
			total += w.ClimateBandClose
			reasons = append(reasons, fmt.Sprintf("Climate score within %g points (%g vs %g)",
				w.ClimateBandCloseGap, *reference.ClimateScore, *candidate.ClimateScore))
		case gap <= w.ClimateBandNearGap:
			total += w.ClimateBandNear
			reasons = append(reasons, fmt.Sprintf("Climate score within %g points (%g vs %g)",
				w.ClimateBandNearGap, *reference.ClimateScore, *candidate.ClimateScore))
		}
	}
	if reference.HasEnergyTracking && candidate.HasEnergyTracking {
		total += w.EnergyTracking
		reasons = append(reasons, "Both track energy usage")
	}
	if reference.HasMissions && candidate.HasMissions {
		total += w.Missions
		reasons = append(reasons, "Both run climate missions")
	}
	if reference.HasContributionProjects && candidate.HasContributionProjects {
		total += w.ContributionProjects
		reasons = append(reasons, "Both fund contribution projects")
	}

	return round3(math.Min(1.0, total)), reasons
}

// sameValue reports whether both values are present and equal, ignoring case
// and surrounding whitespace.
func sameValue(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// =============================================================================
// Ranking
// =============================================================================

// FindSimilar ranks pool against reference.
//
// # Description
//
// The reference tenant and ExcludeIDs are skipped. Candidates failing the
// same-sector or same-country filters, scoring zero, or scoring below
// MinScore are dropped. The rest are sorted by score descending; ties keep
// pool order. The result is truncated to maxResults (DefaultMaxResults
// when maxResults <= 0).
//
// # Outputs
//
//   - []Result: Never nil.
func FindSimilar(reference Profile, pool []Profile, f Filters, maxResults int) []Result {
	return DefaultWeights.FindSimilar(reference, pool, f, maxResults)
}

// FindSimilar is the package-level FindSimilar with custom weights.
func (w Weights) FindSimilar(reference Profile, pool []Profile, f Filters, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	excluded := make(map[string]struct{}, len(f.ExcludeIDs)+1)
	excluded[reference.TenantID] = struct{}{}
	for _, id := range f.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	results := make([]Result, 0, len(pool))
	for _, candidate := range pool {
		if _, skip := excluded[candidate.TenantID]; skip {
			continue
		}
		if f.SameSectorOnly && !sameValue(reference.Sector, candidate.Sector) {
			continue
		}
		if f.SameCountryOnly && !sameValue(reference.Country, candidate.Country) {
			continue
		}

		score, reasons := w.Score(reference, candidate)
		if score <= 0 || score < f.MinScore {
			continue
		}
		results = append(results, Result{CandidateID: candidate.TenantID, Score: score, Reasons: reasons})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
