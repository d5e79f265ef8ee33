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
	"sort"
	"strings"
	"sync"
)

// MemoryStore is the embedded Store implementation: map-based node and
// edge tables plus adjacency indexes, guarded by a single RWMutex.
//
// It is the default backend for single-process deployments and the
// fixture backend for tests. All returned entities and relationships are
// clones; callers may mutate them freely.
type MemoryStore struct {
	mu sync.RWMutex

	entities      map[string]*Entity
	relationships map[string]*Relationship

	// Adjacency indexes: entity id -> set of relationship ids.
	outgoing map[string]map[string]struct{}
	incoming map[string]map[string]struct{}
}

// NewMemoryStore returns an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      make(map[string]*Entity),
		relationships: make(map[string]*Relationship),
		outgoing:      make(map[string]map[string]struct{}),
		incoming:      make(map[string]map[string]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

// UpsertEntity inserts or replaces an entity by id.
func (s *MemoryStore) UpsertEntity(ctx context.Context, e *Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e.Clone()
	return nil
}

// GetEntity returns the entity or ErrNotFound.
func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// EntityExists reports whether the id is present.
func (s *MemoryStore) EntityExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[id]
	return ok, nil
}

// DeleteEntity removes the entity. Incident edges are left to the
// caller; Service deletes them first so their removal is observable as
// individual events.
func (s *MemoryStore) DeleteEntity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return ErrNotFound
	}
	delete(s.entities, id)
	return nil
}

// PutRelationship inserts the edge, or rewrites an existing edge with
// the same id, bumping Version and preserving Created.
func (s *MemoryStore) PutRelationship(ctx context.Context, r *Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := r.Clone()
	if prev, ok := s.relationships[r.ID]; ok {
		stored.Created = prev.Created
		stored.Version = prev.Version + 1
		s.unindexLocked(prev)
	} else if stored.Version == 0 {
		stored.Version = 1
	}

	s.relationships[stored.ID] = stored
	s.indexLocked(stored)
	return nil
}

// GetRelationship returns the edge or ErrNotFound.
func (s *MemoryStore) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relationships[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// DeleteRelationship removes the edge by id.
func (s *MemoryStore) DeleteRelationship(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relationships[id]
	if !ok {
		return ErrNotFound
	}
	s.unindexLocked(r)
	delete(s.relationships, id)
	return nil
}

func (s *MemoryStore) indexLocked(r *Relationship) {
	out, ok := s.outgoing[r.FromEntityID]
	if !ok {
		out = make(map[string]struct{})
		s.outgoing[r.FromEntityID] = out
	}
	out[r.ID] = struct{}{}

	in, ok := s.incoming[r.ToEntityID]
	if !ok {
		in = make(map[string]struct{})
		s.incoming[r.ToEntityID] = in
	}
	in[r.ID] = struct{}{}
}

func (s *MemoryStore) unindexLocked(r *Relationship) {
	if out, ok := s.outgoing[r.FromEntityID]; ok {
		delete(out, r.ID)
		if len(out) == 0 {
			delete(s.outgoing, r.FromEntityID)
		}
	}
	if in, ok := s.incoming[r.ToEntityID]; ok {
		delete(in, r.ID)
		if len(in) == 0 {
			delete(s.incoming, r.ToEntityID)
		}
	}
}

// Relationships returns edges matching the query, newest first.
func (s *MemoryStore) Relationships(ctx context.Context, q RelationshipQuery) ([]*Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var matched []*Relationship
	scan := func(r *Relationship) {
		if q.FromEntityID != "" && r.FromEntityID != q.FromEntityID {
			return
		}
		if q.ToEntityID != "" && r.ToEntityID != q.ToEntityID {
			return
		}
		if len(q.Types) > 0 && !containsType(q.Types, r.Type) {
			return
		}
		if !q.Since.IsZero() && r.LastModified.Before(q.Since) {
			return
		}
		if !q.Until.IsZero() && r.LastModified.After(q.Until) {
			return
		}
		matched = append(matched, r)
	}

	// Use the narrowest index available.
	switch {
	case q.FromEntityID != "":
		for id := range s.outgoing[q.FromEntityID] {
			scan(s.relationships[id])
		}
	case q.ToEntityID != "":
		for id := range s.incoming[q.ToEntityID] {
			scan(s.relationships[id])
		}
	default:
		for _, r := range s.relationships {
			scan(r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastModified.Equal(matched[j].LastModified) {
			return matched[i].LastModified.After(matched[j].LastModified)
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return cloneRelationships(matched), nil
}

// IncidentRelationships returns all edges touching the entity in either
// direction, newest first.
func (s *MemoryStore) IncidentRelationships(ctx context.Context, entityID string) ([]*Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var matched []*Relationship
	for id := range s.outgoing[entityID] {
		seen[id] = struct{}{}
		matched = append(matched, s.relationships[id])
	}
	for id := range s.incoming[entityID] {
		if _, dup := seen[id]; dup {
			continue
		}
		matched = append(matched, s.relationships[id])
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastModified.Equal(matched[j].LastModified) {
			return matched[i].LastModified.After(matched[j].LastModified)
		}
		return matched[i].ID < matched[j].ID
	})
	return cloneRelationships(matched), nil
}

// SearchEntities returns entities matching the structural filters, in
// stable id order.
func (s *MemoryStore) SearchEntities(ctx context.Context, q StructuralQuery) ([]*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var matched []*Entity
	for _, e := range s.entities {
		if len(q.EntityTypes) > 0 && !containsEntityType(q.EntityTypes, e.Type) {
			continue
		}
		if q.PathContains != "" && !strings.Contains(e.Path, q.PathContains) {
			continue
		}
		if q.Language != "" && e.Language != q.Language {
			continue
		}
		if !q.ModifiedSince.IsZero() && e.LastModified.Before(q.ModifiedSince) {
			continue
		}
		if !q.ModifiedUntil.IsZero() && e.LastModified.After(q.ModifiedUntil) {
			continue
		}
		if len(q.Tags) > 0 && !hasAllTags(e, q.Tags) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*Entity, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, nil
}

// hasAllTags reports whether the entity metadata "tags" list contains
// every wanted tag. Tags may be stored as []string or, after a JSON
// round trip, []any.
func hasAllTags(e *Entity, wanted []string) bool {
	raw, ok := e.Metadata["tags"]
	if !ok {
		return false
	}
	have := make(map[string]struct{})
	switch tags := raw.(type) {
	case []string:
		for _, t := range tags {
			have[t] = struct{}{}
		}
	case []any:
		for _, t := range tags {
			if st, ok := t.(string); ok {
				have[st] = struct{}{}
			}
		}
	default:
		return false
	}
	for _, w := range wanted {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

// FindPaths returns bounded variable-length paths via depth-first
// enumeration of simple paths (no repeated entity within one path).
func (s *MemoryStore) FindPaths(ctx context.Context, q PathQuery) ([]Path, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[q.StartID]; !ok {
		return nil, nil
	}

	depth := clampDepth(q.MaxDepth, DefaultMaxPathDepth)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var paths []Path
	current := Path{EntityIDs: []string{q.StartID}}
	onPath := map[string]struct{}{q.StartID: {}}

	var walk func(from string, remaining int)
	walk = func(from string, remaining int) {
		if remaining == 0 || len(paths) >= limit {
			return
		}
		edgeIDs := sortedSetIDs(s.outgoing[from])
		for _, edgeID := range edgeIDs {
			if len(paths) >= limit {
				return
			}
			r := s.relationships[edgeID]
			if len(q.Types) > 0 && !containsType(q.Types, r.Type) {
				continue
			}
			next := r.ToEntityID
			if _, cycle := onPath[next]; cycle {
				continue
			}
			if _, ok := s.entities[next]; !ok {
				// Dangling edge; skip rather than surface a broken path.
				continue
			}

			current.EntityIDs = append(current.EntityIDs, next)
			current.Edges = append(current.Edges, r)
			onPath[next] = struct{}{}

			if q.EndID == "" || next == q.EndID {
				paths = append(paths, snapshotPath(current))
			}
			// A simple path cannot revisit the end entity, so there is
			// nothing to find past it.
			if q.EndID == "" || next != q.EndID {
				walk(next, remaining-1)
			}

			delete(onPath, next)
			current.EntityIDs = current.EntityIDs[:len(current.EntityIDs)-1]
			current.Edges = current.Edges[:len(current.Edges)-1]
		}
	}
	walk(q.StartID, depth)
	return paths, nil
}

// snapshotPath deep-copies the in-progress path buffers.
func snapshotPath(p Path) Path {
	out := Path{
		EntityIDs: make([]string, len(p.EntityIDs)),
		Edges:     make([]*Relationship, len(p.Edges)),
	}
	copy(out.EntityIDs, p.EntityIDs)
	for i, r := range p.Edges {
		out.Edges[i] = r.Clone()
	}
	return out
}

// Traverse returns entities reachable within the query bounds, excluding
// the start entity, in breadth-first discovery order.
func (s *MemoryStore) Traverse(ctx context.Context, q TraverseQuery) ([]*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[q.StartID]; !ok {
		return nil, nil
	}

	depth := q.MaxDepth
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxPathDepth {
		depth = MaxPathDepth
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	direction := q.Direction
	if direction == "" {
		direction = DirectionOutgoing
	}

	visited := map[string]struct{}{q.StartID: {}}
	frontier := []string{q.StartID}
	var reached []*Entity

	for step := 0; step < depth && len(frontier) > 0 && len(reached) < limit; step++ {
		var next []string
		for _, id := range frontier {
			for _, neighbor := range s.neighborsLocked(id, direction, q.Types) {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				e, ok := s.entities[neighbor]
				if !ok {
					continue
				}
				reached = append(reached, e.Clone())
				if len(reached) >= limit {
					return reached, nil
				}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return reached, nil
}

// neighborsLocked returns adjacent entity ids in stable edge-id order.
func (s *MemoryStore) neighborsLocked(id string, direction Direction, types []RelationType) []string {
	var out []string
	appendFrom := func(edges map[string]struct{}, pickTo bool) {
		for _, edgeID := range sortedSetIDs(edges) {
			r := s.relationships[edgeID]
			if len(types) > 0 && !containsType(types, r.Type) {
				continue
			}
			if pickTo {
				out = append(out, r.ToEntityID)
			} else {
				out = append(out, r.FromEntityID)
			}
		}
	}
	if direction == DirectionOutgoing || direction == DirectionBoth {
		appendFrom(s.outgoing[id], true)
	}
	if direction == DirectionIncoming || direction == DirectionBoth {
		appendFrom(s.incoming[id], false)
	}
	return out
}

// ListEntities returns one page in stable id order plus the total count.
func (s *MemoryStore) ListEntities(ctx context.Context, opts ListOptions) (*EntityPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entity
	for _, e := range s.entities {
		if len(opts.EntityTypes) > 0 && !containsEntityType(opts.EntityTypes, e.Type) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	matched = pageSlice(matched, opts.Offset, opts.Limit)
	out := make([]*Entity, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return &EntityPage{Entities: out, TotalCount: total}, nil
}

// ListRelationships returns one page in stable id order plus the total
// count.
func (s *MemoryStore) ListRelationships(ctx context.Context, opts ListOptions) (*RelationshipPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Relationship
	for _, r := range s.relationships {
		if len(opts.Types) > 0 && !containsType(opts.Types, r.Type) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	matched = pageSlice(matched, opts.Offset, opts.Limit)
	return &RelationshipPage{Relationships: cloneRelationships(matched), TotalCount: total}, nil
}

// pageSlice applies offset/limit pagination to a sorted slice.
func pageSlice[T any](items []T, offset, limit int) []T {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// clampDepth normalizes a requested traversal depth against the default
// and the hard ceiling.
func clampDepth(requested, fallback int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > MaxPathDepth {
		return MaxPathDepth
	}
	return requested
}

func containsType(types []RelationType, t RelationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsEntityType(types []EntityType, t EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func sortedSetIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneRelationships(in []*Relationship) []*Relationship {
	out := make([]*Relationship, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
