// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy recommends climate actions based on what similar tenants do.
//
// # Description
//
// Recommend runs in two stages:
//
//  1. Resolve the target tenant and rank the candidate pool with the
//     similarity engine to find up to MaxSimilar peers.
//  2. Query the peers' active and completed missions, energy actions and
//     contribution projects, group them by category label, and score each
//     group by how many peers use it plus a per-kind impact term.
//
// The impact divisors differ per kind (kg CO2e for missions, kWh for energy
// actions, tonnes CO2e for contribution projects) and are kept as-is.
//
// # Thread Safety
//
// Engine is safe for concurrent use. It holds no per-request state.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianClimate/pkg/validation"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/similarity"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
)

var tracer = otel.Tracer("aleutian.climate.strategy")

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrTenantNotFound is returned when the target tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidRequest is returned for requests rejected before any work.
	ErrInvalidRequest = errors.New("invalid recommendation request")
)

// =============================================================================
// Parameters
// =============================================================================

const (
	// DefaultMaxSimilar is the number of peers consulted when unset.
	DefaultMaxSimilar = 20

	// DefaultMaxStrategies is the number of candidates returned when unset.
	DefaultMaxStrategies = 10

	// MaxLimit bounds MaxSimilar and MaxStrategies.
	MaxLimit = 100

	// UncategorizedLabel groups peer records with no category.
	UncategorizedLabel = "Uncategorized"
)

// KindParams describes how one activity kind is scored and matched.
type KindParams struct {
	// ImpactDivisor scales the average impact into the score.
	ImpactDivisor float64

	// ImpactUnit is used in reasons.
	ImpactUnit string

	// Synonyms are tags that select every group of this kind.
	Synonyms []string
}

// DefaultKindParams holds the production parameters per activity kind.
var DefaultKindParams = map[store.ActivityKind]KindParams{
	store.ActivityMissions: {
		ImpactDivisor: 1000,
		ImpactUnit:    "kg CO2e",
		Synonyms:      []string{"mission", "goal"},
	},
	store.ActivityEnergyActions: {
		ImpactDivisor: 10000,
		ImpactUnit:    "kWh",
		Synonyms:      []string{"energy", "efficiency"},
	},
	store.ActivityContributionProjects: {
		ImpactDivisor: 100,
		ImpactUnit:    "t CO2e",
		Synonyms:      []string{"offset", "contribution"},
	},
}

// =============================================================================
// Types
// =============================================================================

// Request is a recommendation request.
type Request struct {
	TenantID      string   `json:"tenant_id"`
	Tags          []string `json:"tags,omitempty"`
	MaxSimilar    int      `json:"max_similar,omitempty"`
	MaxStrategies int      `json:"max_strategies,omitempty"`
}

// Validate rejects requests that cannot be served.
func (r Request) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if r.MaxSimilar < 0 || r.MaxSimilar > MaxLimit {
		return fmt.Errorf("%w: max_similar must be in [0, %d]", ErrInvalidRequest, MaxLimit)
	}
	if r.MaxStrategies < 0 || r.MaxStrategies > MaxLimit {
		return fmt.Errorf("%w: max_strategies must be in [0, %d]", ErrInvalidRequest, MaxLimit)
	}
	return nil
}

// Candidate is one recommended action.
type Candidate struct {
	Category   string             `json:"category"`
	ActionType store.ActivityKind `json:"action_type"`
	Frequency  int                `json:"frequency"`
	AvgImpact  *float64           `json:"avg_impact"`
	Score      float64            `json:"score"`
	Reasons    []string           `json:"reasons"`
}

// =============================================================================
// Engine
// =============================================================================

// Engine resolves profiles and produces recommendations from a Store.
type Engine struct {
	tenants    store.TenantReader
	activities store.ActivityReader
	weights    similarity.Weights
	kinds      map[store.ActivityKind]KindParams
	poolSize   int
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPoolSize bounds the candidate pool loaded for similarity ranking.
func WithPoolSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.poolSize = n
		}
	}
}

// WithWeights overrides the similarity weights.
func WithWeights(w similarity.Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine over s.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		tenants:    s,
		activities: s,
		weights:    similarity.DefaultWeights,
		kinds:      DefaultKindParams,
		poolSize:   store.DefaultTenantLimit,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ResolveProfile builds the similarity profile for tenantID.
//
// # Outputs
//
//   - similarity.Profile: Fresh profile with derived flags.
//   - error: ErrInvalidRequest for a malformed ID, ErrTenantNotFound if
//     absent, or a wrapped store error.
func (e *Engine) ResolveProfile(ctx context.Context, tenantID string) (similarity.Profile, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return similarity.Profile{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	rec, err := e.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return similarity.Profile{}, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if rec == nil {
		return similarity.Profile{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return similarity.ProfileFromRecord(*rec), nil
}

// FindSimilar ranks the candidate pool against tenantID.
func (e *Engine) FindSimilar(ctx context.Context, tenantID string, f similarity.Filters, maxResults int) ([]similarity.Result, error) {
	if err := validation.ValidateTenantIDs(f.ExcludeIDs); err != nil {
		return nil, fmt.Errorf("%w: exclude_ids: %w", ErrInvalidRequest, err)
	}
	ref, err := e.ResolveProfile(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	records, err := e.tenants.ListTenants(ctx, e.poolSize)
	if err != nil {
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}
	pool := make([]similarity.Profile, 0, len(records))
	for _, rec := range records {
		pool = append(pool, similarity.ProfileFromRecord(rec))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.weights.FindSimilar(ref, pool, f, maxResults), nil
}

// Recommend returns ranked strategy candidates for req.TenantID.
//
// # Description
//
// The three activity kinds are queried concurrently. A kind whose query
// fails is logged and contributes nothing; the others still score. A
// cancelled context returns its error and no candidates.
//
// # Outputs
//
//   - []Candidate: Sorted by score descending, never nil.
//   - error: ErrInvalidRequest, ErrTenantNotFound, store errors while
//     resolving peers, or the context error.
func (e *Engine) Recommend(ctx context.Context, req Request) ([]Candidate, error) {
	ctx, span := tracer.Start(ctx, "strategy.Recommend")
	defer span.End()
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	maxSimilar := req.MaxSimilar
	if maxSimilar == 0 {
		maxSimilar = DefaultMaxSimilar
	}
	maxStrategies := req.MaxStrategies
	if maxStrategies == 0 {
		maxStrategies = DefaultMaxStrategies
	}
	span.SetAttributes(
		attribute.String("strategy.tenant_id", req.TenantID),
		attribute.Int("strategy.max_similar", maxSimilar),
	)

	peers, err := e.FindSimilar(ctx, req.TenantID, similarity.Filters{}, maxSimilar)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "peer lookup failed")
		return nil, err
	}
	if len(peers) == 0 {
		e.logger.Debug("no similar peers", "tenant_id", req.TenantID)
		return []Candidate{}, nil
	}

	peerIDs := make([]string, len(peers))
	for i, p := range peers {
		peerIDs[i] = p.CandidateID
	}

	perKind := make([][]Candidate, len(store.ActivityKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range store.ActivityKinds {
		g.Go(func() error {
			rows, err := e.activities.PeerActivities(gctx, kind, peerIDs)
			if err != nil {
				e.logger.Warn("peer activity query failed",
					"kind", kind, "tenant_id", req.TenantID, "error", err)
				return nil
			}
			perKind[i] = aggregate(kind, e.kinds[kind], rows, len(peers))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	var candidates []Candidate
	for i, kind := range store.ActivityKinds {
		for _, c := range perKind[i] {
			if matchesTags(c.Category, e.kinds[kind].Synonyms, req.Tags) {
				candidates = append(candidates, c)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > maxStrategies {
		candidates = candidates[:maxStrategies]
	}
	if candidates == nil {
		candidates = []Candidate{}
	}

	span.SetAttributes(
		attribute.Int("strategy.peers", len(peers)),
		attribute.Int("strategy.candidates", len(candidates)),
	)
	e.logger.Debug("recommendations ready",
		"tenant_id", req.TenantID,
		"peers", len(peers),
		"candidates", len(candidates),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return candidates, nil
}

// =============================================================================
// Aggregation
// =============================================================================

type group struct {
	label       string
	peers       map[string]struct{}
	impactSum   float64
	impactCount int
}

// aggregate groups rows by category label and scores each group.
// Groups come back ordered by label.
func aggregate(kind store.ActivityKind, params KindParams, rows []store.Activity, peerCount int) []Candidate {
	if len(rows) == 0 || peerCount <= 0 {
		return nil
	}

	groups := make(map[string]*group)
	for _, row := range rows {
		label := strings.TrimSpace(row.Category)
		if label == "" {
			label = UncategorizedLabel
		}
		g, ok := groups[label]
		if !ok {
			g = &group{label: label, peers: make(map[string]struct{})}
			groups[label] = g
		}
		g.peers[row.TenantID] = struct{}{}
		if row.Impact != nil {
			g.impactSum += *row.Impact
			g.impactCount++
		}
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]Candidate, 0, len(labels))
	for _, label := range labels {
		g := groups[label]
		frequency := len(g.peers)
		score := float64(frequency) / float64(peerCount)

		reasons := []string{fmt.Sprintf("Used by %d of %d similar organizations", frequency, peerCount)}

		var avg *float64
		if g.impactCount > 0 && params.ImpactDivisor > 0 {
			v := g.impactSum / float64(g.impactCount)
			avg = &v
			score += v / params.ImpactDivisor
			reasons = append(reasons, fmt.Sprintf("Average impact %.1f %s", v, params.ImpactUnit))
		}

		out = append(out, Candidate{
			Category:   label,
			ActionType: kind,
			Frequency:  frequency,
			AvgImpact:  avg,
			Score:      math.Round(math.Min(1.0, score)*1000) / 1000,
			Reasons:    reasons,
		})
	}
	return out
}

// matchesTags reports whether a group passes the tag filter. No tags keeps
// every group.
func matchesTags(label string, synonyms, tags []string) bool {
	lowered := strings.ToLower(label)
	filtered := false
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		filtered = true
		if strings.Contains(lowered, tag) {
			return true
		}
		for _, syn := range synonyms {
			if tag == syn {
				return true
			}
		}
	}
	return !filtered
}
