// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSearch(t *testing.T) {
	m := NewReasonerMetrics(prometheus.NewRegistry())

	m.RecordSearch(true, 10*time.Millisecond)
	m.RecordSearch(true, 20*time.Millisecond)
	m.RecordSearch(false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues(StatusError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SearchDurationSeconds))
}

func TestRecordSource(t *testing.T) {
	m := NewReasonerMetrics(prometheus.NewRegistry())

	m.RecordSource("graph", 4, time.Millisecond, false)
	m.RecordSource("graph", 2, time.Millisecond, false)
	m.RecordSource("semantic", 0, time.Millisecond, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("graph", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("semantic", StatusError)))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.SourceHitsTotal.WithLabelValues("graph")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SourceHitsTotal.WithLabelValues("semantic")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SourceDurationSeconds))
}

func TestRecordSimilarityAndRecommendation(t *testing.T) {
	m := NewReasonerMetrics(prometheus.NewRegistry())

	m.RecordSimilarity(StatusSuccess)
	m.RecordSimilarity(StatusNotFound)
	m.RecordRecommendation(StatusError)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimilarityRequestsTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimilarityRequestsTotal.WithLabelValues(StatusNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecommendationsTotal.WithLabelValues(StatusError)))
}

func TestNewReasonerMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewReasonerMetrics(reg)
	assert.Panics(t, func() { NewReasonerMetrics(reg) })
}
