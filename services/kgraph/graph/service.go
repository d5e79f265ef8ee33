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
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/Cartograph/pkg/logging"
)

// graphValidate is the validator instance for graph payloads.
// Initialized in init() with custom validators.
var graphValidate *validator.Validate

func init() {
	graphValidate = validator.New()
	_ = graphValidate.RegisterValidation("entitytype", validateEntityTypeField)
	_ = graphValidate.RegisterValidation("relationtype", validateRelationTypeField)
}

func validateEntityTypeField(fl validator.FieldLevel) bool {
	return EntityType(fl.Field().String()).Valid()
}

func validateRelationTypeField(fl validator.FieldLevel) bool {
	return RelationType(fl.Field().String()).Valid()
}

// Service owns all knowledge graph mutations and queries. Every write
// validates its payload, goes through the Store, invalidates dependent
// cache entries, and publishes a mutation event, in that order.
//
// Thread safety: Service is safe for concurrent use as long as the
// configured Store is.
type Service struct {
	store    Store
	bus      *Bus
	cache    *QueryCache
	log      *logging.Logger
	semantic SemanticSearcher
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBus sets the mutation event bus. Defaults to a fresh bus.
func WithBus(bus *Bus) ServiceOption {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithCache sets the query cache. Defaults to NewQueryCache().
func WithCache(cache *QueryCache) ServiceOption {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithLogger sets the structured logger. Defaults to logging.Default().
func WithLogger(log *logging.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSemanticSearch attaches the vector-similarity search used for
// searchType "semantic". Without it, semantic requests degrade to
// structural search with a warning.
func WithSemanticSearch(searcher SemanticSearcher) ServiceOption {
	return func(s *Service) {
		s.semantic = searcher
	}
}

// NewService creates a graph service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		bus:   NewBus(),
		cache: NewQueryCache(),
		log:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bus returns the mutation event bus for subscribers (history recorder,
// embedding hooks).
func (s *Service) Bus() *Bus {
	return s.bus
}

// CacheStats returns cache counters for diagnostics.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// ClearSearchCache drops every cached query result.
func (s *Service) ClearSearchCache() {
	s.cache.InvalidateAll()
}

// CreateEntity validates and stores an entity, publishing
// entityCreated, or entityUpdated when the id already existed (ingest
// is idempotent by stable id). Missing timestamps default to now; a
// pre-existing entity keeps its original Created.
func (s *Service) CreateEntity(ctx context.Context, e *Entity) (*Entity, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrInvalidInput)
	}

	stored := e.Clone()
	now := time.Now().UTC()
	if stored.Created.IsZero() {
		stored.Created = now
	}
	if stored.LastModified.IsZero() {
		stored.LastModified = now
	}
	if err := graphValidate.Struct(stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	exists, err := s.store.EntityExists(ctx, stored.ID)
	if err != nil {
		return nil, fmt.Errorf("create entity %s: %w", stored.ID, err)
	}
	if exists {
		if prev, err := s.store.GetEntity(ctx, stored.ID); err == nil && !prev.Created.IsZero() {
			stored.Created = prev.Created
		}
		stored.LastModified = now
	}

	if err := s.store.UpsertEntity(ctx, stored); err != nil {
		return nil, fmt.Errorf("create entity %s: %w", stored.ID, err)
	}
	s.cache.InvalidateEntity(stored.ID)

	eventType := EventEntityCreated
	if exists {
		eventType = EventEntityUpdated
	}
	s.bus.Publish(eventType, stored.Clone(), nil)
	recordEntityMutation(ctx, string(eventType))
	s.log.Debug("entity stored",
		"entity_id", stored.ID,
		"entity_type", stored.Type,
		"existed", exists,
	)
	return stored, nil
}

// UpdateEntity merges the patch into an existing entity and stores the
// result, publishing entityUpdated. Zero-valued patch fields are
// skipped; metadata merges key-wise. Returns ErrNotFound when the id
// does not exist, and skips the write entirely when the patch changes
// nothing.
func (s *Service) UpdateEntity(ctx context.Context, id string, patch *Entity) (*Entity, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	current, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update entity %s: %w", id, err)
	}

	merged := mergeEntity(current, patch)
	if entitiesEquivalent(current, merged) {
		return current, nil
	}
	merged.LastModified = time.Now().UTC()
	if err := graphValidate.Struct(merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.store.UpsertEntity(ctx, merged); err != nil {
		return nil, fmt.Errorf("update entity %s: %w", id, err)
	}
	s.cache.InvalidateEntity(id)
	s.bus.Publish(EventEntityUpdated, merged.Clone(), nil)
	recordEntityMutation(ctx, string(EventEntityUpdated))
	s.log.Debug("entity updated", "entity_id", id)
	return merged, nil
}

// CreateOrUpdateEntity routes to CreateEntity or UpdateEntity based on
// existence.
func (s *Service) CreateOrUpdateEntity(ctx context.Context, e *Entity) (*Entity, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrInvalidInput)
	}

	exists, err := s.store.EntityExists(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	if exists {
		return s.UpdateEntity(ctx, e.ID, e)
	}
	return s.CreateEntity(ctx, e)
}

// mergeEntity overlays non-zero patch fields onto a copy of current.
func mergeEntity(current, patch *Entity) *Entity {
	out := current.Clone()
	if patch == nil {
		return out
	}
	if patch.Type != "" {
		out.Type = patch.Type
	}
	if patch.Name != "" {
		out.Name = patch.Name
	}
	if patch.Path != "" {
		out.Path = patch.Path
	}
	if patch.Hash != "" {
		out.Hash = patch.Hash
	}
	if patch.Language != "" {
		out.Language = patch.Language
	}
	if len(patch.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// entitiesEquivalent compares the storable properties, ignoring
// timestamps, so no-op patches neither bump lastModified nor emit
// events.
func entitiesEquivalent(a, b *Entity) bool {
	return a.Type == b.Type && a.Name == b.Name && a.Path == b.Path &&
		a.Hash == b.Hash && a.Language == b.Language &&
		reflect.DeepEqual(a.Metadata, b.Metadata)
}

// DeleteEntity removes the entity and cascades over its incident edges.
// Each cascaded edge publishes relationshipDeleted before the final
// entityDeleted, so history observers close temporal edges in order.
func (s *Service) DeleteEntity(ctx context.Context, id string) error {
	if ctx == nil {
		return ErrNilContext
	}

	entity, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}

	edges, err := s.store.IncidentRelationships(ctx, id)
	if err != nil {
		return fmt.Errorf("delete entity %s: list incident edges: %w", id, err)
	}
	for _, r := range edges {
		if err := s.store.DeleteRelationship(ctx, r.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // already gone, nothing to cascade
			}
			return fmt.Errorf("delete entity %s: cascade edge %s: %w", id, r.ID, err)
		}
		s.cache.InvalidateEntity(r.FromEntityID)
		s.cache.InvalidateEntity(r.ToEntityID)
		s.bus.Publish(EventRelationshipDeleted, nil, r)
		recordRelationshipMutation(ctx, string(EventRelationshipDeleted))
	}

	if err := s.store.DeleteEntity(ctx, id); err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	s.cache.InvalidateEntity(id)
	s.bus.Publish(EventEntityDeleted, entity, nil)
	recordEntityMutation(ctx, string(EventEntityDeleted))
	s.log.Info("entity deleted",
		"entity_id", id,
		"cascaded_edges", len(edges),
	)
	return nil
}

// GetEntity returns the entity by id, serving repeat reads from cache.
func (s *Service) GetEntity(ctx context.Context, id string) (*Entity, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	key := cacheKey("entity", id)
	if v, ok := s.cache.Get(key); ok {
		if e, ok := v.(*Entity); ok {
			return e.Clone(), nil
		}
	}

	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, e.Clone(), []string{id})
	return e, nil
}

// EntityExists reports whether an entity id is present without
// fetching the entity. The check bypasses the cache.
func (s *Service) EntityExists(ctx context.Context, id string) (bool, error) {
	if ctx == nil {
		return false, ErrNilContext
	}
	if id == "" {
		return false, fmt.Errorf("%w: entity id required", ErrInvalidInput)
	}
	return s.store.EntityExists(ctx, id)
}

// CreateRelationship validates and stores an edge, publishing
// relationshipCreated (or relationshipUpdated when an edge with the
// same id is rewritten). Endpoint existence is checked best-effort:
// a missing endpoint is logged, not fatal, because placeholder targets
// like "external:lodash" are legitimate.
func (s *Service) CreateRelationship(ctx context.Context, r *Relationship) (*Relationship, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if r == nil {
		return nil, fmt.Errorf("%w: nil relationship", ErrInvalidInput)
	}

	stored := r.Clone()
	if stored.ID == "" {
		stored.ID = RelationshipID(stored.FromEntityID, stored.Type, stored.ToEntityID)
	}
	now := time.Now().UTC()
	if stored.Created.IsZero() {
		stored.Created = now
	}
	if stored.LastModified.IsZero() {
		stored.LastModified = now
	}
	if err := graphValidate.Struct(stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	for _, endpoint := range []string{stored.FromEntityID, stored.ToEntityID} {
		ok, err := s.store.EntityExists(ctx, endpoint)
		if err == nil && !ok {
			s.log.Debug("relationship endpoint not present",
				"relationship_id", stored.ID,
				"endpoint", endpoint,
			)
		}
	}

	_, getErr := s.store.GetRelationship(ctx, stored.ID)
	existed := getErr == nil

	if err := s.store.PutRelationship(ctx, stored); err != nil {
		return nil, fmt.Errorf("create relationship %s: %w", stored.ID, err)
	}
	s.cache.InvalidateEntity(stored.FromEntityID)
	s.cache.InvalidateEntity(stored.ToEntityID)

	// Re-read for the authoritative Created/Version the store decided.
	final, err := s.store.GetRelationship(ctx, stored.ID)
	if err != nil {
		final = stored
	}

	eventType := EventRelationshipCreated
	if existed {
		eventType = EventRelationshipUpdated
	}
	s.bus.Publish(eventType, nil, final.Clone())
	recordRelationshipMutation(ctx, string(eventType))
	s.log.Debug("relationship stored",
		"relationship_id", final.ID,
		"relationship_type", final.Type,
		"existed", existed,
	)
	return final, nil
}

// GetRelationship returns the edge by id.
func (s *Service) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return s.store.GetRelationship(ctx, id)
}

// DeleteRelationship removes the edge and publishes
// relationshipDeleted with its last stored state.
func (s *Service) DeleteRelationship(ctx context.Context, id string) error {
	if ctx == nil {
		return ErrNilContext
	}

	r, err := s.store.GetRelationship(ctx, id)
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", id, err)
	}
	if err := s.store.DeleteRelationship(ctx, id); err != nil {
		return fmt.Errorf("delete relationship %s: %w", id, err)
	}
	s.cache.InvalidateEntity(r.FromEntityID)
	s.cache.InvalidateEntity(r.ToEntityID)
	s.bus.Publish(EventRelationshipDeleted, nil, r)
	recordRelationshipMutation(ctx, string(EventRelationshipDeleted))
	return nil
}

// GetRelationships returns edges touching the entity in the given
// direction, optionally filtered by type.
func (s *Service) GetRelationships(ctx context.Context, entityID string, direction Direction, types ...RelationType) ([]*Relationship, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: empty entity id", ErrInvalidInput)
	}

	key := cacheKey("rels", entityID, string(direction), typesKey(types))
	if v, ok := s.cache.Get(key); ok {
		if rels, ok := v.([]*Relationship); ok {
			return cloneRelationships(rels), nil
		}
	}

	var (
		rels []*Relationship
		err  error
	)
	switch direction {
	case DirectionIncoming:
		rels, err = s.store.Relationships(ctx, RelationshipQuery{ToEntityID: entityID, Types: types})
	case DirectionBoth:
		rels, err = s.store.IncidentRelationships(ctx, entityID)
		if err == nil && len(types) > 0 {
			filtered := rels[:0]
			for _, r := range rels {
				if containsType(types, r.Type) {
					filtered = append(filtered, r)
				}
			}
			rels = filtered
		}
	default:
		rels, err = s.store.Relationships(ctx, RelationshipQuery{FromEntityID: entityID, Types: types})
	}
	if err != nil {
		return nil, fmt.Errorf("get relationships for %s: %w", entityID, err)
	}

	s.cache.Put(key, cloneRelationships(rels), []string{entityID})
	return rels, nil
}

// QueryRelationships returns edges matching the filter. Results are
// cached only when anchored to at least one entity id, since unanchored
// results cannot be invalidated precisely.
func (s *Service) QueryRelationships(ctx context.Context, q RelationshipQuery) ([]*Relationship, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	cacheable := q.FromEntityID != "" || q.ToEntityID != ""
	key := cacheKey("relq", q.FromEntityID, q.ToEntityID, typesKey(q.Types),
		timeKey(q.Since), timeKey(q.Until), fmt.Sprintf("%d", q.Limit))
	if cacheable {
		if v, ok := s.cache.Get(key); ok {
			if rels, ok := v.([]*Relationship); ok {
				return cloneRelationships(rels), nil
			}
		}
	}

	rels, err := s.store.Relationships(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	if cacheable {
		var deps []string
		if q.FromEntityID != "" {
			deps = append(deps, q.FromEntityID)
		}
		if q.ToEntityID != "" {
			deps = append(deps, q.ToEntityID)
		}
		s.cache.Put(key, cloneRelationships(rels), deps)
	}
	return rels, nil
}
