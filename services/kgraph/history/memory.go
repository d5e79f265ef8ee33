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
	"sort"
	"sync"
	"time"
)

// MemoryStore is the embedded Store implementation: append-order
// version and edge tables guarded by a single RWMutex. Fixture backend
// for tests and single-process runs without Postgres. All returned
// values are clones; callers may mutate them freely.
type MemoryStore struct {
	mu sync.RWMutex

	nextVersionID int64
	nextEdgeID    int64

	// versions per entity, append order (oldest first).
	versions map[string][]*Version

	// edges in observation order. Scans are linear; the store is a
	// test fixture, not a production backend.
	edges []*TemporalEdge

	checkpoints map[string]*Checkpoint
	members     map[string][]string
}

// NewMemoryStore returns an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions:    make(map[string][]*Version),
		checkpoints: make(map[string]*Checkpoint),
		members:     make(map[string][]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// AppendVersion appends a version and assigns its id.
func (s *MemoryStore) AppendVersion(ctx context.Context, v *Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVersionID++
	stored := cloneVersion(v)
	stored.ID = s.nextVersionID
	v.ID = stored.ID
	s.versions[v.EntityID] = append(s.versions[v.EntityID], stored)
	return nil
}

// LatestVersion returns the newest version for an entity, nil when
// none is recorded.
func (s *MemoryStore) LatestVersion(ctx context.Context, entityID string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[entityID]
	if len(vs) == 0 {
		return nil, nil
	}
	return cloneVersion(vs[len(vs)-1]), nil
}

// Versions returns an entity's versions newest first.
func (s *MemoryStore) Versions(ctx context.Context, entityID string, limit int) ([]*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[entityID]
	out := make([]*Version, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneVersion(vs[i]))
	}
	return out, nil
}

// OpenEdge records a new open observation and assigns its id.
func (s *MemoryStore) OpenEdge(ctx context.Context, e *TemporalEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEdgeID++
	stored := cloneEdge(e)
	stored.ID = s.nextEdgeID
	stored.ValidTo = nil
	e.ID = stored.ID
	s.edges = append(s.edges, stored)
	return nil
}

// CloseEdge closes every open observation of a relationship.
func (s *MemoryStore) CloseEdge(ctx context.Context, relationshipID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := 0
	for _, e := range s.edges {
		if e.RelationshipID == relationshipID && e.ValidTo == nil {
			ts := at
			e.ValidTo = &ts
			closed++
		}
	}
	return closed, nil
}

// CloseEdgesTouching closes every open observation with the entity as
// either endpoint.
func (s *MemoryStore) CloseEdgesTouching(ctx context.Context, entityID string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := 0
	for _, e := range s.edges {
		if e.ValidTo != nil {
			continue
		}
		if e.FromEntityID == entityID || e.ToEntityID == entityID {
			ts := at
			e.ValidTo = &ts
			closed++
		}
	}
	return closed, nil
}

// EdgesTouching returns observations touching any of the entities
// whose validity intersects the window, in observation order.
func (s *MemoryStore) EdgesTouching(ctx context.Context, entityIDs []string, window *Window) ([]*TemporalEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TemporalEdge
	for _, e := range s.edges {
		_, from := wanted[e.FromEntityID]
		_, to := wanted[e.ToEntityID]
		if !from && !to {
			continue
		}
		if !window.Intersects(e.ValidFrom, e.ValidTo) {
			continue
		}
		out = append(out, cloneEdge(e))
	}
	return out, nil
}

// PutCheckpoint persists a checkpoint and its membership.
func (s *MemoryStore) PutCheckpoint(ctx context.Context, cp *Checkpoint, memberIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cloneCheckpoint(cp)
	s.members[cp.ID] = append([]string(nil), memberIDs...)
	return nil
}

// GetCheckpoint returns a checkpoint or ErrCheckpointNotFound.
func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return cloneCheckpoint(cp), nil
}

// ListCheckpoints returns checkpoints newest first.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, limit int) ([]*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cloneCheckpoint(cp))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CheckpointMembers returns the member ids of a checkpoint.
func (s *MemoryStore) CheckpointMembers(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.checkpoints[id]; !ok {
		return nil, ErrCheckpointNotFound
	}
	return append([]string(nil), s.members[id]...), nil
}

// DeleteCheckpoint removes a checkpoint and its membership rows.
func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[id]; !ok {
		return ErrCheckpointNotFound
	}
	delete(s.checkpoints, id)
	delete(s.members, id)
	return nil
}

// CountPrunable reports what Prune would remove at the cutoff.
func (s *MemoryStore) CountPrunable(ctx context.Context, cutoff time.Time) (PruneCounts, error) {
	if err := ctx.Err(); err != nil {
		return PruneCounts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countPrunableLocked(cutoff), nil
}

// Prune removes superseded versions, closed edges, and checkpoints
// older than the cutoff.
func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (PruneCounts, error) {
	if err := ctx.Err(); err != nil {
		return PruneCounts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.countPrunableLocked(cutoff)

	for entityID, vs := range s.versions {
		kept := vs[:0]
		for i, v := range vs {
			if i < len(vs)-1 && v.RecordedAt.Before(cutoff) {
				continue
			}
			kept = append(kept, v)
		}
		s.versions[entityID] = kept
	}

	keptEdges := s.edges[:0]
	for _, e := range s.edges {
		if e.ValidTo != nil && e.ValidTo.Before(cutoff) {
			continue
		}
		keptEdges = append(keptEdges, e)
	}
	s.edges = keptEdges

	for id, cp := range s.checkpoints {
		if cp.Created.Before(cutoff) {
			delete(s.checkpoints, id)
			delete(s.members, id)
		}
	}
	return counts, nil
}

func (s *MemoryStore) countPrunableLocked(cutoff time.Time) PruneCounts {
	var counts PruneCounts
	for _, vs := range s.versions {
		for i, v := range vs {
			if i < len(vs)-1 && v.RecordedAt.Before(cutoff) {
				counts.Versions++
			}
		}
	}
	for _, e := range s.edges {
		if e.ValidTo != nil && e.ValidTo.Before(cutoff) {
			counts.ClosedEdges++
		}
	}
	for _, cp := range s.checkpoints {
		if cp.Created.Before(cutoff) {
			counts.Checkpoints++
		}
	}
	return counts
}

func cloneVersion(v *Version) *Version {
	if v == nil {
		return nil
	}
	out := *v
	out.Entity = v.Entity.Clone()
	return &out
}

func cloneEdge(e *TemporalEdge) *TemporalEdge {
	if e == nil {
		return nil
	}
	out := *e
	out.Relationship = e.Relationship.Clone()
	if e.ValidTo != nil {
		ts := *e.ValidTo
		out.ValidTo = &ts
	}
	return &out
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	out.SeedEntities = append([]string(nil), cp.SeedEntities...)
	if cp.Window != nil {
		w := *cp.Window
		out.Window = &w
	}
	return &out
}
