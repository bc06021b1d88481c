// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the reasoner service.
//
// # Description
//
// Metrics include:
//   - Search counters and latency, overall and per source
//   - Source failures (a degraded source still lets the search succeed)
//   - Similarity and recommendation request counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for reasoner metrics
const reasonerSubsystem = "reasoner"

// ReasonerMetrics holds all Prometheus metrics for the reasoner.
//
// # Fields
//
//   - SearchesTotal: Searches by status
//   - SearchDurationSeconds: End-to-end search latency
//   - SourceRequestsTotal: Source runs by source and status
//   - SourceHitsTotal: Hits emitted per source
//   - SourceDurationSeconds: Per-source latency
//   - SimilarityRequestsTotal: Find-similar calls by status
//   - RecommendationsTotal: Recommend calls by status
type ReasonerMetrics struct {
	// SearchesTotal counts searches.
	// Labels: status (success, error)
	SearchesTotal *prometheus.CounterVec

	// SearchDurationSeconds measures total search time.
	SearchDurationSeconds prometheus.Histogram

	// SourceRequestsTotal counts source runs.
	// Labels: source (semantic, graph, table), status (success, error)
	SourceRequestsTotal *prometheus.CounterVec

	// SourceHitsTotal counts hits produced by each source.
	// Labels: source
	SourceHitsTotal *prometheus.CounterVec

	// SourceDurationSeconds measures each source.
	// Labels: source
	SourceDurationSeconds *prometheus.HistogramVec

	// SimilarityRequestsTotal counts find-similar calls.
	// Labels: status (success, not_found, error)
	SimilarityRequestsTotal *prometheus.CounterVec

	// RecommendationsTotal counts recommendation calls.
	// Labels: status (success, not_found, error)
	RecommendationsTotal *prometheus.CounterVec
}

// NewReasonerMetrics creates the metrics and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. nil uses prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *ReasonerMetrics: Ready metrics. Create once per registry.
func NewReasonerMetrics(reg prometheus.Registerer) *ReasonerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ReasonerMetrics{
		SearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "searches_total",
				Help:      "Total hybrid searches by status",
			},
			[]string{"status"},
		),

		SearchDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "search_duration_seconds",
				Help:      "Hybrid search duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),

		SourceRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "source_requests_total",
				Help:      "Total search source runs by source and status",
			},
			[]string{"source", "status"},
		),

		SourceHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "source_hits_total",
				Help:      "Total hits produced by each search source",
			},
			[]string{"source"},
		),

		SourceDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "source_duration_seconds",
				Help:      "Search source duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"source"},
		),

		SimilarityRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "similarity_requests_total",
				Help:      "Total find-similar requests by status",
			},
			[]string{"status"},
		),

		RecommendationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reasonerSubsystem,
				Name:      "recommendations_total",
				Help:      "Total strategy recommendation requests by status",
			},
			[]string{"status"},
		),
	}
}

// =============================================================================
// Status Labels
// =============================================================================

const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusError
}

// =============================================================================
// Recording
// =============================================================================

// RecordSearch records one completed or failed search.
func (m *ReasonerMetrics) RecordSearch(success bool, duration time.Duration) {
	m.SearchesTotal.WithLabelValues(statusLabel(success)).Inc()
	m.SearchDurationSeconds.Observe(duration.Seconds())
}

// RecordSource records one source run.
func (m *ReasonerMetrics) RecordSource(source string, hits int, duration time.Duration, failed bool) {
	m.SourceRequestsTotal.WithLabelValues(source, statusLabel(!failed)).Inc()
	m.SourceHitsTotal.WithLabelValues(source).Add(float64(hits))
	m.SourceDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordSimilarity records one find-similar call with a Status* label.
func (m *ReasonerMetrics) RecordSimilarity(status string) {
	m.SimilarityRequestsTotal.WithLabelValues(status).Inc()
}

// RecordRecommendation records one recommendation call with a Status* label.
func (m *ReasonerMetrics) RecordRecommendation(status string) {
	m.RecommendationsTotal.WithLabelValues(status).Inc()
}
