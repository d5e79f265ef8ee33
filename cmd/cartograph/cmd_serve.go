// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Cartograph/services/kgraph/ingest"
	"github.com/AleutianAI/Cartograph/services/kgraph/telemetry"
)

var serveSkipInitial bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the drop directory and keep the graph current",
	Long: `Builds the knowledge graph from the parse-result documents in the
configured drop directory, then watches it for changes. New and
modified documents are ingested after a debounce window; removed
documents mark their entities stale.

Also runs the history retention job and, when telemetry.metrics_addr
is set, serves Prometheus metrics on /metrics.

Examples:
  cartograph serve
  cartograph serve --skip-initial
  CARTOGRAPH_WATCH_DIR=./parse-results cartograph serve`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSkipInitial, "skip-initial", false,
		"Skip the full ingest of the drop directory on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Ingest.WatchDir == "" {
		fatal(errors.New("ingest.watch_dir must be set for serve (or CARTOGRAPH_WATCH_DIR)"))
	}

	shutdownTelemetry := initTelemetry(ctx)
	defer shutdownTelemetry()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	if a.hist != nil {
		go a.hist.RunRetention(ctx, cfg.History.PruneInterval.Std(), cfg.History.Retention.Std())
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              cfg.Telemetry.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics endpoint listening", "addr", cfg.Telemetry.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	runLog := telemetry.LoggerWithRun(ctx, log.Slog(), uuid.NewString())

	if !serveSkipInitial {
		stats, err := a.pipeline.IngestDir(ctx, cfg.Ingest.WatchDir)
		if err != nil {
			fatal(fmt.Errorf("initial ingest: %w", err))
		}
		runLog.Info("initial ingest complete",
			"ingested", stats.FilesIngested,
			"skipped", stats.FilesSkipped,
			"failed", stats.FilesFailed,
			"entities", stats.Entities,
			"relationships", stats.Relationships)

		// A persistent vector index can hold points for entities the
		// corpus no longer has. Only after a full ingest is the graph a
		// complete picture, so this is the one safe moment to reconcile.
		if a.embed != nil {
			removed, err := a.embed.SweepOrphans(ctx, a.svc, false)
			if err != nil {
				runLog.Warn("vector orphan sweep failed", "error", err)
			} else if removed > 0 {
				runLog.Info("swept orphaned vector points", "removed", removed)
			}
		}
	}

	w, err := ingest.NewWatcher(cfg.Ingest.WatchDir, a.pipeline.ChangeHandler(ctx), &ingest.WatcherOptions{
		DebounceWindow: cfg.Ingest.Debounce.Std(),
		IgnorePatterns: cfg.Ingest.IgnorePatterns,
		Logger:         log,
	})
	if err != nil {
		fatal(fmt.Errorf("create watcher: %w", err))
	}
	if err := w.Start(ctx); err != nil {
		fatal(fmt.Errorf("start watcher: %w", err))
	}
	defer w.Stop()

	runLog.Info("watching drop directory", "dir", cfg.Ingest.WatchDir)

	<-ctx.Done()
	log.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}
}

// initTelemetry starts the OTel stack per config and returns a cleanup
// function. Disabled telemetry returns a no-op.
func initTelemetry(ctx context.Context) func() {
	if !cfg.Telemetry.Enabled {
		return func() {}
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = version
	tcfg.TraceExporter = cfg.Telemetry.Exporter
	tcfg.SampleRate = cfg.Telemetry.SampleRate
	tcfg.AllowDegraded = true
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.MetricExporter = "none"
	if cfg.Telemetry.MetricsAddr != "" {
		tcfg.MetricExporter = "prometheus"
	}

	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		fatal(fmt.Errorf("init telemetry: %w", err))
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}
}
