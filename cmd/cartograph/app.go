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
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/Cartograph/services/kgraph/cache"
	"github.com/AleutianAI/Cartograph/services/kgraph/embedding"
	"github.com/AleutianAI/Cartograph/services/kgraph/extract"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
	"github.com/AleutianAI/Cartograph/services/kgraph/history"
	"github.com/AleutianAI/Cartograph/services/kgraph/ingest"
)

// app holds the wired subsystems for one command invocation. The graph
// lives in memory for the life of the process; history and snapshots
// are the durable layer.
type app struct {
	bus      *graph.Bus
	svc      *graph.Service
	pipeline *ingest.Pipeline
	hist     *history.Service
	recorder *history.Recorder
	embed    *embedding.Service
	digests  cache.Cache
	pool     *pgxpool.Pool
}

// buildApp wires the stack from the loaded config: event bus, graph
// service with query cache, embedding subsystem (when enabled), history
// recorder (when enabled), digest cache, and the ingest pipeline.
func buildApp(ctx context.Context) (*app, error) {
	a := &app{bus: graph.NewBus()}

	svcOpts := []graph.ServiceOption{
		graph.WithBus(a.bus),
		graph.WithLogger(log),
		graph.WithCache(graph.NewQueryCache(
			graph.WithTTL(cfg.Graph.CacheTTL.Std()),
			graph.WithMaxEntries(cfg.Graph.CacheMaxEntries),
		)),
	}

	if cfg.Embedding.Enabled {
		embSvc, err := buildEmbedding(ctx)
		if err != nil {
			return nil, err
		}
		a.embed = embSvc
		svcOpts = append(svcOpts, graph.WithSemanticSearch(embSvc))
	}

	a.svc = graph.NewService(graph.NewMemoryStore(), svcOpts...)

	// Subscriptions after construction: the bus is synchronous for
	// delivery into the subscribers' queues, so nothing is missed once
	// the first write happens after this point.
	if a.embed != nil {
		a.embed.Attach(a.bus)
	}

	if cfg.History.Enabled {
		if err := a.buildHistory(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	pipeOpts := []ingest.PipelineOption{
		ingest.WithLogger(log),
		ingest.WithIgnorePatterns(cfg.Ingest.IgnorePatterns),
		ingest.WithEngineOptions(
			extract.WithMinConfidence(cfg.Extract.MinConfidence),
			extract.WithMinNameLength(cfg.Extract.MinNameLength),
			extract.WithTypeCheckerBudget(cfg.Extract.TypeCheckerBudget),
		),
	}
	if cfg.Ingest.Cache.Enabled {
		c, err := openDigestCache()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.digests = c
		pipeOpts = append(pipeOpts, ingest.WithDigestCache(c, cfg.Ingest.Cache.TTL.Std()))
	}
	a.pipeline = ingest.NewPipeline(a.svc, pipeOpts...)

	return a, nil
}

// buildEmbedding constructs the embedder and vector index the config
// selects. The OpenAI key comes from the environment only.
func buildEmbedding(ctx context.Context) (*embedding.Service, error) {
	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("embedding provider openai requires OPENAI_API_KEY")
		}
		oa, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:            key,
			Model:             cfg.Embedding.OpenAI.Model,
			BaseURL:           cfg.Embedding.OpenAI.BaseURL,
			RequestsPerSecond: cfg.Embedding.OpenAI.RequestsPerSecond,
			Logger:            log,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		embedder = oa
	default:
		embedder = embedding.NewLocalEmbedder(0)
	}

	var index embedding.VectorIndex
	switch cfg.Embedding.Index {
	case "weaviate":
		wv, err := embedding.NewWeaviateIndex(embedding.WeaviateConfig{
			URL: cfg.Embedding.Weaviate.URL,
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate index: %w", err)
		}
		index = wv
	default:
		index = embedding.NewMemoryIndex()
	}

	svc := embedding.NewService(embedder, index, embedding.WithLogger(log))
	if err := svc.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ensure vector collections: %w", err)
	}
	return svc, nil
}

// buildHistory opens the configured history store and attaches the
// recorder to the event bus.
func (a *app) buildHistory(ctx context.Context) error {
	var store history.Store
	switch cfg.History.Backend {
	case "postgres":
		if cfg.History.DatabaseURL == "" {
			return errors.New("history backend postgres requires a database url (CARTOGRAPH_DATABASE_URL or DATABASE_URL)")
		}
		if err := history.Migrate(cfg.History.DatabaseURL); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
		pool, err := history.NewPool(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		a.pool = pool
		pg, err := history.NewPgStore(pool, log)
		if err != nil {
			return err
		}
		store = pg
	default:
		store = history.NewMemoryStore()
	}

	a.hist = history.NewService(store, history.WithLogger(log))
	a.recorder = history.NewRecorder(store, history.WithRecorderLogger(log))
	a.recorder.Attach(a.bus)
	return nil
}

// openDigestCache opens the ingest digest cache, on disk when a path is
// configured. Digest loss only costs a re-ingest, so writes stay async.
func openDigestCache() (cache.Cache, error) {
	c := cache.InMemoryConfig()
	if cfg.Ingest.Cache.Path != "" {
		c = cache.DefaultConfig()
		c.Path = cfg.Ingest.Cache.Path
		c.SyncWrites = false
	}
	return cache.Open(c)
}

// requireHistory returns the history service or exits when the config
// has it disabled. Commands that read durable state also warn when the
// backend is in-memory, because that state dies with the process.
func (a *app) requireHistory() *history.Service {
	if a.hist == nil {
		fatal(errors.New("history is disabled in config; checkpoint and prune commands need it"))
	}
	if cfg.History.Backend != "postgres" {
		log.Warn("history backend is in-memory; checkpoints exist only within this process")
	}
	return a.hist
}

// snapshotSink picks the configured checkpoint export destination:
// GCS when a bucket is set, the local snapshot directory otherwise.
func snapshotSink(ctx context.Context) (history.SnapshotSink, error) {
	snaps := cfg.History.Snapshots
	if snaps.GCSBucket != "" {
		return history.NewGCSSink(ctx, snaps.GCSBucket, snaps.GCSPrefix, snaps.GCSCredentials)
	}
	dir := snaps.Dir
	if dir == "" {
		dir = "."
	}
	return history.NewFileSink(dir)
}

// Close releases subsystems in reverse dependency order.
func (a *app) Close() {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			log.Warn("close history recorder", "error", err)
		}
	}
	if a.embed != nil {
		if err := a.embed.Close(); err != nil {
			log.Warn("close embedding service", "error", err)
		}
	}
	if a.digests != nil {
		if err := a.digests.Close(); err != nil {
			log.Warn("close digest cache", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
