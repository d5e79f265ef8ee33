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
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// Service is the checkpoint and retention surface over a history
// Store. It never mutates the live graph; imports go through the
// caller-supplied GraphWriter.
//
// Thread safety: safe for concurrent use when the Store is.
type Service struct {
	store Store
	log   *logging.Logger
	now   func() time.Time
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

// WithClock overrides the wall clock. Tests use it to pin checkpoint
// and prune cutoff timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a history service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		log:   logging.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCheckpoint expands the seed set by hops relationship-steps
// (direction-agnostic), restricted to edges whose validity intersects
// the window when one is given, and persists the checkpoint with its
// membership. Hops zero snapshots exactly the seeds. The reason
// defaults to manual.
func (s *Service) CreateCheckpoint(ctx context.Context, seeds []string, hops int, window *Window, reason Reason) (*Checkpoint, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: at least one seed entity required", graph.ErrInvalidInput)
	}
	if hops < 0 {
		return nil, fmt.Errorf("%w: hops must not be negative", graph.ErrInvalidInput)
	}
	if reason == "" {
		reason = ReasonManual
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown checkpoint reason %q", graph.ErrInvalidInput, reason)
	}

	ctx, span := tracer.Start(ctx, "history.create_checkpoint")
	defer span.End()
	span.SetAttributes(
		attribute.Int("seeds", len(seeds)),
		attribute.Int("hops", hops),
	)
	start := time.Now()

	members, err := s.expand(ctx, seeds, hops, window)
	if err != nil {
		recordOp(ctx, "create_checkpoint", start, err)
		span.RecordError(err)
		return nil, err
	}

	cp := &Checkpoint{
		ID:           uuid.NewString(),
		Reason:       reason,
		SeedEntities: dedupeIDs(seeds),
		Hops:         hops,
		Window:       window,
		Created:      s.now(),
	}
	if err := s.store.PutCheckpoint(ctx, cp, members); err != nil {
		err = fmt.Errorf("persist checkpoint: %w", err)
		recordOp(ctx, "create_checkpoint", start, err)
		span.RecordError(err)
		return nil, err
	}
	recordOp(ctx, "create_checkpoint", start, nil)
	s.log.Info("checkpoint created",
		"checkpoint_id", cp.ID,
		"reason", string(reason),
		"hops", hops,
		"members", len(members),
	)
	return cp, nil
}

// expand walks the temporal edge set breadth-first from the seeds.
// Every edge endpoint reached within the hop bound joins the
// membership; the result is sorted for stable storage and export.
func (s *Service) expand(ctx context.Context, seeds []string, hops int, window *Window) ([]string, error) {
	members := make(map[string]struct{}, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if id == "" {
			continue
		}
		if _, ok := members[id]; ok {
			continue
		}
		members[id] = struct{}{}
		frontier = append(frontier, id)
	}

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		edges, err := s.store.EdgesTouching(ctx, frontier, window)
		if err != nil {
			return nil, fmt.Errorf("expand hop %d: %w", hop+1, err)
		}
		var next []string
		for _, e := range edges {
			for _, id := range [2]string{e.FromEntityID, e.ToEntityID} {
				if _, ok := members[id]; ok {
					continue
				}
				members[id] = struct{}{}
				next = append(next, id)
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ListCheckpoints returns checkpoints newest first, at most limit when
// limit > 0.
func (s *Service) ListCheckpoints(ctx context.Context, limit int) ([]*Checkpoint, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	return s.store.ListCheckpoints(ctx, limit)
}

// GetCheckpoint returns a checkpoint or ErrCheckpointNotFound.
func (s *Service) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if id == "" {
		return nil, fmt.Errorf("%w: checkpoint id required", graph.ErrInvalidInput)
	}
	return s.store.GetCheckpoint(ctx, id)
}

// GetCheckpointMembers returns a checkpoint's member entity ids.
func (s *Service) GetCheckpointMembers(ctx context.Context, id string) ([]string, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if id == "" {
		return nil, fmt.Errorf("%w: checkpoint id required", graph.ErrInvalidInput)
	}
	return s.store.CheckpointMembers(ctx, id)
}

// GetCheckpointSummary aggregates the membership by entity type and
// the relationships among members by relationship type. Members whose
// latest version is a deletion are left out; they were reachable when
// the checkpoint was cut but no longer exist.
func (s *Service) GetCheckpointSummary(ctx context.Context, id string) (*Summary, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if id == "" {
		return nil, fmt.Errorf("%w: checkpoint id required", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "history.checkpoint_summary")
	defer span.End()
	start := time.Now()

	cp, err := s.store.GetCheckpoint(ctx, id)
	if err != nil {
		recordOp(ctx, "summary", start, err)
		return nil, err
	}
	members, err := s.store.CheckpointMembers(ctx, id)
	if err != nil {
		recordOp(ctx, "summary", start, err)
		return nil, err
	}

	sum := &Summary{
		CheckpointID:        id,
		EntitiesByType:      make(map[graph.EntityType]int),
		RelationshipsByType: make(map[graph.RelationType]int),
	}
	for _, entityID := range members {
		v, err := s.store.LatestVersion(ctx, entityID)
		if err != nil {
			recordOp(ctx, "summary", start, err)
			return nil, fmt.Errorf("latest version %s: %w", entityID, err)
		}
		if v == nil || v.Op == VersionDeleted || v.Entity == nil {
			continue
		}
		sum.EntityCount++
		sum.EntitiesByType[v.Entity.Type]++
	}

	edges, err := s.memberEdges(ctx, cp, members)
	if err != nil {
		recordOp(ctx, "summary", start, err)
		return nil, err
	}
	for _, e := range edges {
		sum.RelationshipCount++
		sum.RelationshipsByType[e.Type]++
	}
	recordOp(ctx, "summary", start, nil)
	return sum, nil
}

// memberEdges returns one observation per relationship with both
// endpoints inside the membership, preferring the open observation
// and otherwise the most recent closed one. A checkpoint without a
// window means "now": relationships whose representative observation
// is closed no longer exist and are dropped. With a window, closed
// observations inside it are exactly the time-travel payload.
func (s *Service) memberEdges(ctx context.Context, cp *Checkpoint, memberIDs []string) ([]*TemporalEdge, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	inside := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		inside[id] = struct{}{}
	}

	edges, err := s.store.EdgesTouching(ctx, memberIDs, cp.Window)
	if err != nil {
		return nil, fmt.Errorf("member edges: %w", err)
	}

	best := make(map[string]*TemporalEdge)
	order := make([]string, 0, len(edges))
	for _, e := range edges {
		if _, ok := inside[e.FromEntityID]; !ok {
			continue
		}
		if _, ok := inside[e.ToEntityID]; !ok {
			continue
		}
		cur, seen := best[e.RelationshipID]
		if !seen {
			best[e.RelationshipID] = e
			order = append(order, e.RelationshipID)
			continue
		}
		if preferObservation(e, cur) {
			best[e.RelationshipID] = e
		}
	}

	out := make([]*TemporalEdge, 0, len(order))
	for _, relID := range order {
		e := best[relID]
		if cp.Window == nil && !e.Open() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// preferObservation reports whether a should replace b as the
// representative observation of a relationship.
func preferObservation(a, b *TemporalEdge) bool {
	if a.Open() != b.Open() {
		return a.Open()
	}
	return a.ValidFrom.After(b.ValidFrom)
}

// DeleteCheckpoint removes the checkpoint and its membership rows.
// The underlying entities are untouched.
func (s *Service) DeleteCheckpoint(ctx context.Context, id string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	if id == "" {
		return fmt.Errorf("%w: checkpoint id required", graph.ErrInvalidInput)
	}
	start := time.Now()
	err := s.store.DeleteCheckpoint(ctx, id)
	recordOp(ctx, "delete_checkpoint", start, err)
	if err != nil {
		return err
	}
	s.log.Info("checkpoint deleted", "checkpoint_id", id)
	return nil
}

// PruneReport is the outcome of one retention pass.
type PruneReport struct {
	PruneCounts

	// DryRun marks a pass that counted without deleting.
	DryRun bool `json:"dryRun"`

	// Cutoff is the instant history older than which was (or would be)
	// removed.
	Cutoff time.Time `json:"cutoff"`
}

// Prune removes history older than the retention window: superseded
// entity versions, closed temporal edges, and checkpoints. Dry run
// computes the same counts without deleting anything.
func (s *Service) Prune(ctx context.Context, retention time.Duration, dryRun bool) (*PruneReport, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if retention <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "history.prune")
	defer span.End()
	span.SetAttributes(attribute.Bool("dry_run", dryRun))
	start := time.Now()

	cutoff := s.now().Add(-retention)
	var (
		counts PruneCounts
		err    error
	)
	if dryRun {
		counts, err = s.store.CountPrunable(ctx, cutoff)
	} else {
		counts, err = s.store.Prune(ctx, cutoff)
	}
	recordOp(ctx, "prune", start, err)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("prune at %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.log.Info("retention pass complete",
		"dry_run", dryRun,
		"cutoff", cutoff.Format(time.RFC3339),
		"versions", counts.Versions,
		"closed_edges", counts.ClosedEdges,
		"checkpoints", counts.Checkpoints,
	)
	return &PruneReport{PruneCounts: counts, DryRun: dryRun, Cutoff: cutoff}, nil
}

// RunRetention prunes on a fixed interval until the context is
// canceled. Failures are logged and the loop keeps going.
func (s *Service) RunRetention(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		s.log.Error("retention loop misconfigured",
			"interval", interval.String(),
			"retention", retention.String(),
		)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, retention, false); err != nil {
				s.log.Warn("retention prune failed", "error", err)
			}
		}
	}
}

// EntityHistory returns an entity's recorded versions, newest first,
// at most limit when limit > 0.
func (s *Service) EntityHistory(ctx context.Context, entityID string, limit int) ([]*Version, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id required", graph.ErrInvalidInput)
	}
	return s.store.Versions(ctx, entityID, limit)
}

// EntityAt returns the entity's attributes as of the given instant.
// graph.ErrNotFound when the entity had no version yet, or its newest
// version at that time was a deletion.
func (s *Service) EntityAt(ctx context.Context, entityID string, at time.Time) (*graph.Entity, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id required", graph.ErrInvalidInput)
	}
	if at.IsZero() {
		return nil, fmt.Errorf("%w: time required", graph.ErrInvalidInput)
	}

	versions, err := s.store.Versions(ctx, entityID, 0)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.RecordedAt.After(at) {
			continue
		}
		if v.Op == VersionDeleted || v.Entity == nil {
			return nil, graph.ErrNotFound
		}
		return v.Entity, nil
	}
	return nil, graph.ErrNotFound
}

// EdgesAt returns the temporal edges touching the entities whose
// validity interval contains the instant.
func (s *Service) EdgesAt(ctx context.Context, entityIDs []string, at time.Time) ([]*TemporalEdge, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one entity id required", graph.ErrInvalidInput)
	}
	if at.IsZero() {
		return nil, fmt.Errorf("%w: time required", graph.ErrInvalidInput)
	}
	return s.store.EdgesTouching(ctx, entityIDs, &Window{From: at, To: at})
}

// dedupeIDs returns the ids with duplicates and blanks removed,
// preserving first-seen order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
