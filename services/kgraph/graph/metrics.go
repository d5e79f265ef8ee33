// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("cartograph.graph")
	meter  = otel.Meter("cartograph.graph")
)

// Metrics for graph mutations and queries.
var (
	entityMutations metric.Int64Counter
	relMutations    metric.Int64Counter
	queryLatency    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		entityMutations, err = meter.Int64Counter(
			"kgraph_entity_mutations_total",
			metric.WithDescription("Total entity mutations by event type"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		relMutations, err = meter.Int64Counter(
			"kgraph_relationship_mutations_total",
			metric.WithDescription("Total relationship mutations by event type"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"kgraph_query_duration_seconds",
			metric.WithDescription("Duration of graph query operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordEntityMutation counts one entity mutation.
func recordEntityMutation(ctx context.Context, event string) {
	if err := initMetrics(); err != nil {
		return
	}
	entityMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// recordRelationshipMutation counts one relationship mutation.
func recordRelationshipMutation(ctx context.Context, event string) {
	if err := initMetrics(); err != nil {
		return
	}
	relMutations.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// recordQuery records latency and result size for a query operation.
func recordQuery(ctx context.Context, operation string, start time.Time, resultCount int) {
	if err := initMetrics(); err != nil {
		return
	}
	queryLatency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("results", resultCount),
	))
}
