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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.climate.semantic")

var (
	retrieveLatency metric.Float64Histogram
	embedCacheTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		retrieveLatency, err = meter.Float64Histogram(
			"semantic_retrieve_duration_seconds",
			metric.WithDescription("Duration of embed + vector search"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		embedCacheTotal, err = meter.Int64Counter(
			"semantic_embedding_cache_total",
			metric.WithDescription("Embedding cache lookups by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRetrieve(ctx context.Context, outcome string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	retrieveLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordEmbeddingCache(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	embedCacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
