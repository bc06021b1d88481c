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
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// ScoringParams holds every constant that shapes source scores.
//
// Semantic hits keep the oracle's similarity unchanged; the rest are tiers
// and fixed per-table values. None of them are normalized against each other.
type ScoringParams struct {
	// GraphLabelMatch scores a query found in a node label or key.
	GraphLabelMatch float64

	// GraphDescriptionMatch scores a query found in a node description.
	GraphDescriptionMatch float64

	// GraphTermCredit is multiplied by matched/total query terms.
	GraphTermCredit float64

	// GraphMinTermLength is the shortest query term counted, in runes.
	GraphMinTermLength int

	// GraphTopK bounds graph hits before expansion.
	GraphTopK int

	// GraphExpansionScore scores neighbors added by expansion.
	GraphExpansionScore float64

	// TableScores is the fixed score per business-record table.
	TableScores map[string]float64

	// TableRowLimit bounds rows fetched per table.
	TableRowLimit int

	// SemanticLimit bounds matches requested from the vector store.
	SemanticLimit int

	// SnippetLength bounds hit snippets, in runes.
	SnippetLength int
}

// DefaultScoringParams returns the production scoring parameters.
func DefaultScoringParams() ScoringParams {
	return ScoringParams{
		GraphLabelMatch:       0.9,
		GraphDescriptionMatch: 0.7,
		GraphTermCredit:       0.5,
		GraphMinTermLength:    3,
		GraphTopK:             15,
		GraphExpansionScore:   0.3,
		TableScores: map[string]float64{
			store.TableOrganizations: 0.6,
			store.TableMissions:      0.6,
			store.TableEnergyActions: 0.55,
		},
		TableRowLimit: store.DefaultRecordLimit,
		SemanticLimit: 20,
		SnippetLength: 300,
	}
}

// Match tiers recorded in graph hit metadata.
const (
	matchLabel       = "label"
	matchDescription = "description"
	matchTerms       = "terms"
	matchExpansion   = "expansion"
)

// queryTerms splits a lowercase query on whitespace, keeping terms of at
// least minLen runes.
func queryTerms(query string, minLen int) []string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minLen {
			terms = append(terms, f)
		}
	}
	return terms
}

// scoreNode scores one node against a lowercase query. Zero means no match.
func (p ScoringParams) scoreNode(n worldmodel.Node, query string, terms []string) (float64, string) {
	label := strings.ToLower(n.Label)
	key := strings.ToLower(n.Key)
	if strings.Contains(label, query) || strings.Contains(key, query) {
		return p.GraphLabelMatch, matchLabel
	}

	desc := strings.ToLower(n.Description)
	if desc != "" && strings.Contains(desc, query) {
		return p.GraphDescriptionMatch, matchDescription
	}

	if len(terms) == 0 {
		return 0, ""
	}
	haystack := label + " " + key + " " + desc
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	if matched == 0 {
		return 0, ""
	}
	return p.GraphTermCredit * float64(matched) / float64(len(terms)), matchTerms
}

// nodeMatchesFilters applies module, entity type and tag filters. Tags
// match when the node carries any of them.
func nodeMatchesFilters(n worldmodel.Node, module string, types []worldmodel.EntityType, tags []string) bool {
	if module != "" && !strings.EqualFold(n.Module, module) {
		return false
	}
	if len(types) > 0 {
		ok := false
		for _, t := range types {
			if n.EntityType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(tags) > 0 {
		for _, tag := range tags {
			if n.HasTag(tag) {
				return true
			}
		}
		return false
	}
	return true
}

// sortHits orders hits by score descending, keeping emission order on ties.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}

// snippet truncates s to n runes.
func snippet(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
