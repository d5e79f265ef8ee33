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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

const (
	// DefaultFallbackConcurrency bounds parallel individual embeds when a
	// batch falls back.
	DefaultFallbackConcurrency = 4

	// DefaultSyncQueueSize bounds the event-driven sync queue.
	DefaultSyncQueueSize = 256

	// DefaultSyncTimeout bounds one event-driven embedding operation.
	DefaultSyncTimeout = 30 * time.Second

	// sweepPageSize bounds one Scroll page during an orphan sweep.
	sweepPageSize = 200
)

// Service owns the embedding lifecycle: content generation, vector
// generation, and index upkeep. Create/update failures propagate to the
// caller; deletes and index setup are best-effort cleanup and only log.
//
// Thread safety: safe for concurrent use.
type Service struct {
	embedder Embedder
	index    VectorIndex
	log      *logging.Logger

	fallbackConcurrency int
	queueSize           int
	syncTimeout         time.Duration

	mu    sync.Mutex
	bus   *graph.Bus
	subID string
	queue chan graph.Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(log *logging.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithFallbackConcurrency bounds parallel individual embeds during
// batch fallback.
func WithFallbackConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.fallbackConcurrency = n
		}
	}
}

// WithSyncQueueSize sets the event-driven sync queue capacity.
func WithSyncQueueSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithSyncTimeout bounds each event-driven embedding operation.
func WithSyncTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// NewService creates an embedding service over the given embedder and
// vector index.
func NewService(embedder Embedder, index VectorIndex, opts ...ServiceOption) *Service {
	s := &Service{
		embedder:            embedder,
		index:               index,
		log:                 logging.Default(),
		fallbackConcurrency: DefaultFallbackConcurrency,
		queueSize:           DefaultSyncQueueSize,
		syncTimeout:         DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureCollections creates every collection the subsystem uses.
// Failures are logged, not propagated: a missing collection degrades
// search and delete, it does not block ingestion.
func (s *Service) EnsureCollections(ctx context.Context) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	for _, collection := range Collections {
		if err := s.index.EnsureCollection(ctx, collection); err != nil {
			s.log.Warn("ensure collection failed",
				"collection", collection,
				"error", err,
			)
		}
	}
	return nil
}

// CreateEmbedding embeds one entity and upserts its point into the
// collection for the entity type.
func (s *Service) CreateEmbedding(ctx context.Context, e *graph.Entity) error {
	return s.upsertOne(ctx, "create", e)
}

// UpdateEmbedding re-embeds an entity after a change. The point id is
// stable, so the upsert replaces the previous vector.
func (s *Service) UpdateEmbedding(ctx context.Context, e *graph.Entity) error {
	return s.upsertOne(ctx, "update", e)
}

func (s *Service) upsertOne(ctx context.Context, op string, e *graph.Entity) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	if e == nil || e.ID == "" {
		return fmt.Errorf("%w: entity with id required", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "embedding."+op)
	defer span.End()
	span.SetAttributes(attribute.String("entity_id", e.ID))
	start := time.Now()

	point, err := s.embedOne(ctx, e)
	if err == nil {
		err = s.index.Upsert(ctx, CollectionFor(e.Type), []Point{point})
	}
	recordOp(ctx, op, start, err)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// CreateEmbeddingsBatch embeds entities through one batched vector call
// and groups the upserts per collection. On any batch-level failure it
// falls back to individual CreateEmbedding per entity, so a poisoned
// batch degrades to per-entity errors instead of dropping the rest.
func (s *Service) CreateEmbeddingsBatch(ctx context.Context, entities []*graph.Entity) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	if len(entities) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "embedding.create_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(entities)))
	start := time.Now()

	err := s.batchUpsert(ctx, entities)
	if err != nil {
		recordBatchFallback(ctx)
		s.log.Warn("batch embedding failed, retrying entities individually",
			"batch_size", len(entities),
			"error", err,
		)
		err = s.fallbackIndividually(ctx, entities)
	}
	recordOp(ctx, "create_batch", start, err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *Service) batchUpsert(ctx context.Context, entities []*graph.Entity) error {
	contents := make([]string, len(entities))
	for i, e := range entities {
		if e == nil || e.ID == "" {
			return fmt.Errorf("%w: batch entity %d missing id", graph.ErrInvalidInput, i)
		}
		contents[i] = ContentFor(e)
	}

	vectors, err := s.embedder.Embed(ctx, contents)
	if err != nil {
		return fmt.Errorf("batch embed: %w", err)
	}
	if len(vectors) != len(entities) {
		return fmt.Errorf("batch embed: got %d vectors for %d inputs", len(vectors), len(entities))
	}

	byCollection := make(map[string][]Point)
	for i, e := range entities {
		collection := CollectionFor(e.Type)
		byCollection[collection] = append(byCollection[collection], Point{
			ID:      StringToNumericID(e.ID),
			Vector:  vectors[i],
			Payload: payloadFor(e, contents[i]),
		})
	}
	for collection, points := range byCollection {
		if err := s.index.Upsert(ctx, collection, points); err != nil {
			return fmt.Errorf("batch upsert %s: %w", collection, err)
		}
	}
	return nil
}

// fallbackIndividually retries every entity on its own. All entities
// are attempted regardless of individual failures; the combined error
// reports each one that still failed.
func (s *Service) fallbackIndividually(ctx context.Context, entities []*graph.Entity) error {
	errs := make([]error, len(entities))

	g := new(errgroup.Group)
	g.SetLimit(s.fallbackConcurrency)
	for i, e := range entities {
		i, e := i, e
		g.Go(func() error {
			errs[i] = s.CreateEmbedding(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// DeleteEmbedding removes an entity's point from every collection it
// could be in. Best-effort: per-collection failures (including missing
// collections) are logged and never propagated.
func (s *Service) DeleteEmbedding(ctx context.Context, entityID string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	if entityID == "" {
		return fmt.Errorf("%w: entity id required", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "embedding.delete")
	defer span.End()
	start := time.Now()

	id := StringToNumericID(entityID)
	for _, collection := range Collections {
		if err := s.index.Delete(ctx, collection, []uint64{id}); err != nil {
			s.log.Debug("embedding delete skipped",
				"collection", collection,
				"entity_id", entityID,
				"error", err,
			)
		}
	}
	recordOp(ctx, "delete", start, nil)
	return nil
}

// EntityChecker reports whether a graph entity id still exists.
// Satisfied by graph.Service.
type EntityChecker interface {
	EntityExists(ctx context.Context, id string) (bool, error)
}

// SweepOrphans removes points whose graph entity no longer exists. A
// cascade delete that dies between backends leaves the index holding
// vectors for missing entities; read paths tolerate them, the sweep
// reclaims them. Points without an entityId payload count as orphans.
// Dry-run counts without deleting. Returns the orphan count even when
// a later collection fails.
func (s *Service) SweepOrphans(ctx context.Context, entities EntityChecker, dryRun bool) (int, error) {
	if ctx == nil {
		return 0, graph.ErrNilContext
	}
	if entities == nil {
		return 0, fmt.Errorf("%w: entity checker required", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "embedding.sweep_orphans")
	defer span.End()
	start := time.Now()

	removed := 0
	for _, collection := range Collections {
		n, err := s.sweepCollection(ctx, entities, collection, dryRun)
		removed += n
		if err != nil {
			recordOp(ctx, "sweep", start, err)
			span.RecordError(err)
			return removed, err
		}
	}
	recordOp(ctx, "sweep", start, nil)
	return removed, nil
}

// sweepCollection scrolls the whole collection before deleting anything
// so the offsets never shift under the scan.
func (s *Service) sweepCollection(ctx context.Context, entities EntityChecker, collection string, dryRun bool) (int, error) {
	type candidate struct {
		id       uint64
		entityID string
	}
	var all []candidate
	for offset := 0; ; offset += sweepPageSize {
		page, err := s.index.Scroll(ctx, collection, offset, sweepPageSize)
		if err != nil {
			return 0, fmt.Errorf("scroll %s at %d: %w", collection, offset, err)
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			entityID, _ := p.Payload["entityId"].(string)
			all = append(all, candidate{id: p.ID, entityID: entityID})
		}
		if len(page) < sweepPageSize {
			break
		}
	}

	var orphans []uint64
	for _, c := range all {
		if c.entityID == "" {
			orphans = append(orphans, c.id)
			continue
		}
		exists, err := entities.EntityExists(ctx, c.entityID)
		if err != nil {
			return 0, fmt.Errorf("checking %s: %w", c.entityID, err)
		}
		if !exists {
			orphans = append(orphans, c.id)
		}
	}
	if len(orphans) == 0 || dryRun {
		return len(orphans), nil
	}

	if err := s.index.Delete(ctx, collection, orphans); err != nil {
		return 0, fmt.Errorf("deleting %d orphans from %s: %w", len(orphans), collection, err)
	}
	s.log.Info("swept orphaned embeddings",
		"collection", collection,
		"removed", len(orphans),
	)
	return len(orphans), nil
}

// SearchSimilar embeds the query and returns the nearest entity ids
// across the collections implied by the requested entity types (all
// collections when none are given). Implements graph.SemanticSearcher.
func (s *Service) SearchSimilar(ctx context.Context, query string, entityTypes []graph.EntityType, limit int) ([]graph.ScoredID, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query required", graph.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = graph.DefaultQueryLimit
	}

	ctx, span := tracer.Start(ctx, "embedding.search")
	defer span.End()
	start := time.Now()

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		recordOp(ctx, "search", start, err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		err = fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
		recordOp(ctx, "search", start, err)
		return nil, err
	}

	var hits []Hit
	for _, collection := range collectionsFor(entityTypes) {
		found, err := s.index.Search(ctx, collection, vectors[0], limit)
		if err != nil {
			recordOp(ctx, "search", start, err)
			return nil, fmt.Errorf("search %s: %w", collection, err)
		}
		hits = append(hits, found...)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]graph.ScoredID, len(hits))
	for i, h := range hits {
		out[i] = graph.ScoredID{EntityID: h.EntityID, Score: h.Score}
	}
	recordOp(ctx, "search", start, nil)
	return out, nil
}

// collectionsFor maps requested entity types onto the distinct
// collections holding them, preserving sweep order.
func collectionsFor(types []graph.EntityType) []string {
	if len(types) == 0 {
		return Collections
	}
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[CollectionFor(t)] = struct{}{}
	}
	out := make([]string, 0, len(wanted))
	for _, collection := range Collections {
		if _, ok := wanted[collection]; ok {
			out = append(out, collection)
		}
	}
	return out
}

func (s *Service) embedOne(ctx context.Context, e *graph.Entity) (Point, error) {
	content := ContentFor(e)
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return Point{}, fmt.Errorf("embed %s: %w", e.ID, err)
	}
	if len(vectors) != 1 {
		return Point{}, fmt.Errorf("embedder returned %d vectors for one input", len(vectors))
	}
	return Point{
		ID:      StringToNumericID(e.ID),
		Vector:  vectors[0],
		Payload: payloadFor(e, content),
	}, nil
}

// payloadFor builds the point payload. entityId is authoritative; the
// rest is display context for index-side debugging.
func payloadFor(e *graph.Entity, content string) map[string]any {
	return map[string]any{
		"entityId":   e.ID,
		"entityType": string(e.Type),
		"path":       e.Path,
		"language":   e.Language,
		"content":    content,
	}
}

// Attach subscribes the service to the graph event bus: entity creates
// and updates re-embed, entity deletes sweep the index. Handlers only
// enqueue; a worker goroutine does the embedding so bus dispatch never
// blocks on network calls. Event-driven failures are logged, not
// propagated (the storage write already succeeded).
func (s *Service) Attach(bus *graph.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		return
	}

	s.bus = bus
	s.queue = make(chan graph.Event, s.queueSize)
	s.done = make(chan struct{})

	s.subID = bus.Subscribe(func(event *graph.Event) {
		select {
		case s.queue <- *event:
		default:
			s.log.Warn("embedding sync queue full, dropping event",
				"event_type", string(event.Type),
			)
		}
	}, graph.EventEntityCreated, graph.EventEntityUpdated, graph.EventEntityDeleted)

	s.wg.Add(1)
	go s.runSync()
}

func (s *Service) runSync() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			s.handleEvent(event)
		}
	}
}

func (s *Service) handleEvent(event graph.Event) {
	if event.Entity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case graph.EventEntityCreated:
		err = s.CreateEmbedding(ctx, event.Entity)
	case graph.EventEntityUpdated:
		err = s.UpdateEmbedding(ctx, event.Entity)
	case graph.EventEntityDeleted:
		err = s.DeleteEmbedding(ctx, event.Entity.ID)
	}
	if err != nil {
		s.log.Warn("event-driven embedding sync failed",
			"event_type", string(event.Type),
			"entity_id", event.Entity.ID,
			"error", err,
		)
	}
}

// Close detaches from the event bus and stops the sync worker. Queued
// events that have not started processing are discarded.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return nil
	}
	s.bus.Unsubscribe(s.subID)
	close(s.done)
	s.wg.Wait()
	s.bus = nil
	return nil
}
