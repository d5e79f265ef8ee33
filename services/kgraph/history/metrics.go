// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("cartograph.history")
	meter  = otel.Meter("cartograph.history")
)

var (
	eventsTotal  metric.Int64Counter
	eventLatency metric.Float64Histogram
	droppedTotal metric.Int64Counter
	opsTotal     metric.Int64Counter
	opLatency    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		eventsTotal, err = meter.Int64Counter(
			"kgraph_history_events_total",
			metric.WithDescription("Recorded graph mutation events by type and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		eventLatency, err = meter.Float64Histogram(
			"kgraph_history_record_duration_seconds",
			metric.WithDescription("Duration of per-event history writes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		droppedTotal, err = meter.Int64Counter(
			"kgraph_history_dropped_events_total",
			metric.WithDescription("Events dropped because the recording queue was full"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opsTotal, err = meter.Int64Counter(
			"kgraph_history_ops_total",
			metric.WithDescription("Checkpoint and retention operations by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opLatency, err = meter.Float64Histogram(
			"kgraph_history_op_duration_seconds",
			metric.WithDescription("Duration of checkpoint and retention operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordEvent(ctx context.Context, eventType string, start time.Time, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
	eventsTotal.Add(ctx, 1, attrs)
	eventLatency.Record(ctx, time.Since(start).Seconds(), attrs)
}

func recordDropped(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	droppedTotal.Add(ctx, 1)
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
