// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for extraction passes.
var (
	tracer = otel.Tracer("cartograph.extract")
	meter  = otel.Meter("cartograph.extract")
)

var (
	edgesEmitted metric.Int64Counter
	edgesDropped metric.Int64Counter
	passLatency  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		edgesEmitted, err = meter.Int64Counter(
			"kgraph_extract_edges_total",
			metric.WithDescription("Edges emitted by extraction passes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesDropped, err = meter.Int64Counter(
			"kgraph_extract_dropped_total",
			metric.WithDescription("Candidate edges dropped by gate stage"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passLatency, err = meter.Float64Histogram(
			"kgraph_extract_pass_duration_seconds",
			metric.WithDescription("Duration of one file extraction pass"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordExtraction records one pass: latency, emitted edges, and drops
// by reason.
func recordExtraction(ctx context.Context, start time.Time, emitted int, dropped map[string]int) {
	if err := initMetrics(); err != nil {
		return
	}

	passLatency.Record(ctx, time.Since(start).Seconds())
	edgesEmitted.Add(ctx, int64(emitted))
	for reason, n := range dropped {
		if n > 0 {
			edgesDropped.Add(ctx, int64(n), metric.WithAttributes(
				attribute.String("reason", reason),
			))
		}
	}
}
