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
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidRequest is returned when the query or limits are unusable.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrInvalidFilter is returned when a filter names an unknown entity type
	// or source, or exceeds its bounds.
	ErrInvalidFilter = errors.New("invalid search filter")
)

// =============================================================================
// Sources
// =============================================================================

// Source names one retrieval source.
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceGraph    Source = "graph"
	SourceTable    Source = "table"
)

// AllSources lists every source in merge order.
var AllSources = []Source{SourceSemantic, SourceGraph, SourceTable}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	for _, src := range AllSources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrInvalidFilter, s)
}

// =============================================================================
// Request
// =============================================================================

const (
	// DefaultMaxResults is used when Request.MaxResults is zero.
	DefaultMaxResults = 30

	// MaxMaxResults bounds Request.MaxResults.
	MaxMaxResults = 100

	// MaxQueryLength bounds Request.Query in bytes.
	MaxQueryLength = 1000
)

// Filters narrow a search. Module, EntityTypes and Tags apply to the
// semantic and graph sources; Sources selects which sources run.
type Filters struct {
	Module      string   `json:"module,omitempty" validate:"omitempty,max=128"`
	EntityTypes []string `json:"entity_types,omitempty" validate:"omitempty,max=5"`
	Tags        []string `json:"tags,omitempty" validate:"omitempty,max=20,dive,required,max=64"`
	Sources     []Source `json:"sources,omitempty" validate:"omitempty,max=3,dive,oneof=semantic graph table"`
}

// Request is a hybrid search request.
type Request struct {
	Query                 string  `json:"query" validate:"required,max=1000"`
	Filters               Filters `json:"filters"`
	MaxResults            int     `json:"max_results,omitempty" validate:"gte=0,lte=100"`
	IncludeGraphExpansion bool    `json:"include_graph_expansion"`
}

var validate = validator.New()

// Validate rejects a request before any source runs.
//
// # Outputs
//
//   - error: Wraps ErrInvalidRequest or ErrInvalidFilter. Nil if usable.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		fe := verrs[0]
		sentinel := ErrInvalidRequest
		if strings.Contains(fe.Namespace(), ".Filters.") {
			sentinel = ErrInvalidFilter
		}
		return fmt.Errorf("%w: %s failed %q (value %v)", sentinel, fe.Namespace(), fe.Tag(), fe.Value())
	}
	for _, et := range r.Filters.EntityTypes {
		if _, err := worldmodel.ParseEntityType(et); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
		}
	}
	return nil
}

// entityTypes returns the typed entity type filter. Call after Validate.
func (f Filters) entityTypes() []worldmodel.EntityType {
	out := make([]worldmodel.EntityType, 0, len(f.EntityTypes))
	for _, et := range f.EntityTypes {
		if t, err := worldmodel.ParseEntityType(et); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// requestedSources returns the deduplicated sources in merge order. No
// sources means all of them.
func (f Filters) requestedSources() []Source {
	if len(f.Sources) == 0 {
		return append([]Source(nil), AllSources...)
	}
	want := make(map[Source]bool, len(f.Sources))
	for _, s := range f.Sources {
		want[s] = true
	}
	out := make([]Source, 0, len(want))
	for _, s := range AllSources {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// Response
// =============================================================================

// Hit is one ranked result. Scores are not normalized across sources.
type Hit struct {
	Source   Source         `json:"source"`
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Snippet  string         `json:"snippet"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is the merged search result.
type Response struct {
	Hits            []Hit    `json:"hits"`
	TotalHits       int      `json:"total_hits"`
	SourcesSearched []Source `json:"sources_searched"`
}
