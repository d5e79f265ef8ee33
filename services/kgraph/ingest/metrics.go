// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcome labels for kgraph_ingest_files_total.
const (
	outcomeIngested = "ingested"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// Prometheus metrics for the ingest pipeline hot paths.
var (
	ingestFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgraph_ingest_files_total",
		Help: "Parse results processed, by outcome",
	}, []string{"outcome"})

	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kgraph_ingest_duration_seconds",
		Help:    "Time spent ingesting one parse result",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	ingestEntitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgraph_ingest_entities_total",
		Help: "Entities upserted by the ingest pipeline",
	})

	ingestEdgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgraph_ingest_edges_total",
		Help: "Relationships written by the ingest pipeline",
	})

	ingestDigestChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgraph_ingest_digest_checks_total",
		Help: "Digest cache lookups, by result",
	}, []string{"result"})

	watcherBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgraph_ingest_watch_batches_total",
		Help: "Debounced change batches delivered to the handler",
	})

	watcherDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kgraph_ingest_watch_dropped_total",
		Help: "File events dropped because the change buffer was full",
	})

	diffFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kgraph_ingest_diff_files_total",
		Help: "Files referenced by ingested diffs, by resolution",
	}, []string{"resolution"})
)
