// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("cartograph.embedding")
	meter  = otel.Meter("cartograph.embedding")
)

var (
	opsTotal   metric.Int64Counter
	opLatency  metric.Float64Histogram
	batchFalls metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opsTotal, err = meter.Int64Counter(
			"kgraph_embedding_ops_total",
			metric.WithDescription("Embedding operations by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opLatency, err = meter.Float64Histogram(
			"kgraph_embedding_op_duration_seconds",
			metric.WithDescription("Duration of embedding operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchFalls, err = meter.Int64Counter(
			"kgraph_embedding_batch_fallbacks_total",
			metric.WithDescription("Batch embedding calls that fell back to individual processing"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordOp(ctx context.Context, op string, start time.Time, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	opsTotal.Add(ctx, 1, attrs)
	opLatency.Record(ctx, time.Since(start).Seconds(), attrs)
}

func recordBatchFallback(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	batchFalls.Add(ctx, 1)
}
