// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worldmodel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for world model operations.
var (
	tracer = otel.Tracer("aleutian.climate.worldmodel")
	meter  = otel.Meter("aleutian.climate.worldmodel")
)

// Metrics for world model builds, cache activity and queries.
var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	nodesBuilt    metric.Int64Histogram
	edgesBuilt    metric.Int64Histogram
	cacheRebuilds metric.Int64Counter
	queryLatency  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"worldmodel_build_duration_seconds",
			metric.WithDescription("Duration of world model builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"worldmodel_build_total",
			metric.WithDescription("Total number of world model builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesBuilt, err = meter.Int64Histogram(
			"worldmodel_nodes_built",
			metric.WithDescription("Number of nodes per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesBuilt, err = meter.Int64Histogram(
			"worldmodel_edges_built",
			metric.WithDescription("Number of edges per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheRebuilds, err = meter.Int64Counter(
			"worldmodel_cache_rebuilds_total",
			metric.WithDescription("Snapshot cache rebuilds by reason and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"worldmodel_query_duration_seconds",
			metric.WithDescription("Duration of world model queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a build operation.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodeCount, edgeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		nodesBuilt.Record(ctx, int64(nodeCount))
		edgesBuilt.Record(ctx, int64(edgeCount))
	}
}

// recordCacheRebuild records a cache rebuild attempt.
func recordCacheRebuild(ctx context.Context, reason string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheRebuilds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("success", success),
	))
}

// recordQueryMetrics records metrics for a query operation.
func recordQueryMetrics(queryType string, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	queryLatency.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(attribute.String("query_type", queryType)),
	)
}

// startBuildSpan creates a span for a build operation.
func startBuildSpan(ctx context.Context, moduleCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "worldmodel.Build",
		trace.WithAttributes(
			attribute.Int("worldmodel.module_count", moduleCount),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, nodeCount, edgeCount int) {
	span.SetAttributes(
		attribute.Int("worldmodel.node_count", nodeCount),
		attribute.Int("worldmodel.edge_count", edgeCount),
	)
}
