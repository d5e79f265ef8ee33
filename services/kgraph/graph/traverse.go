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
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// dependencyRelationTypes are the edge types that justify a dependency
// link. Structural containment and test-coverage edges are not
// dependencies.
var dependencyRelationTypes = []RelationType{
	RelationDependsOn,
	RelationImports,
	RelationCalls,
	RelationUses,
	RelationReferences,
	RelationReads,
	RelationWrites,
}

// usageRelationTypes mark an entity as used by the edge source.
var usageRelationTypes = []RelationType{
	RelationCalls,
	RelationReferences,
}

// DependencyLink is one dependency edge annotated with the
// relationship type that justified it.
type DependencyLink struct {
	EntityID string       `json:"entityId"`
	Type     RelationType `json:"type"`
}

// EntityDependencies lists what an entity depends on and what depends
// on it.
type EntityDependencies struct {
	// Dependencies are targets of the entity's outgoing dependency
	// edges.
	Dependencies []DependencyLink `json:"dependencies"`

	// Dependents are sources of the entity's incoming dependency
	// edges.
	Dependents []DependencyLink `json:"dependents"`
}

// UsageExample is one resolved "used by" or "tested by" source.
type UsageExample struct {
	Entity *Entity      `json:"entity"`
	Type   RelationType `json:"type"`
}

// EntityExamples lists resolved usage and test sources for an entity.
type EntityExamples struct {
	UsedBy   []UsageExample `json:"usedBy"`
	TestedBy []UsageExample `json:"testedBy"`
}

// FindPaths returns bounded variable-length paths between a start
// entity and an optional end entity.
func (s *Service) FindPaths(ctx context.Context, q PathQuery) ([]Path, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if q.StartID == "" {
		return nil, fmt.Errorf("%w: empty start id", ErrInvalidInput)
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: relationship type %q", ErrInvalidInput, t)
		}
	}

	ctx, span := tracer.Start(ctx, "graph.find_paths")
	defer span.End()
	span.SetAttributes(
		attribute.String("start_id", q.StartID),
		attribute.Int("max_depth", q.MaxDepth),
	)
	start := time.Now()

	paths, err := s.store.FindPaths(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find paths from %s: %w", q.StartID, err)
	}
	recordQuery(ctx, "find_paths", start, len(paths))
	return paths, nil
}

// TraverseGraph returns entities reachable from the start within the
// depth and limit bounds, excluding the start itself.
func (s *Service) TraverseGraph(ctx context.Context, q TraverseQuery) ([]*Entity, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if q.StartID == "" {
		return nil, fmt.Errorf("%w: empty start id", ErrInvalidInput)
	}
	for _, t := range q.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: relationship type %q", ErrInvalidInput, t)
		}
	}

	ctx, span := tracer.Start(ctx, "graph.traverse")
	defer span.End()
	span.SetAttributes(
		attribute.String("start_id", q.StartID),
		attribute.String("direction", string(q.Direction)),
		attribute.Int("max_depth", q.MaxDepth),
	)
	start := time.Now()

	entities, err := s.store.Traverse(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("traverse from %s: %w", q.StartID, err)
	}
	recordQuery(ctx, "traverse", start, len(entities))
	return entities, nil
}

// GetEntityDependencies returns the entity's direct outgoing
// dependencies and its reverse dependents, each annotated with the
// justifying relationship type.
func (s *Service) GetEntityDependencies(ctx context.Context, id string) (*EntityDependencies, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if _, err := s.GetEntity(ctx, id); err != nil {
		return nil, fmt.Errorf("entity dependencies %s: %w", id, err)
	}

	outgoing, err := s.store.Relationships(ctx, RelationshipQuery{
		FromEntityID: id,
		Types:        dependencyRelationTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("entity dependencies %s: %w", id, err)
	}
	incoming, err := s.store.Relationships(ctx, RelationshipQuery{
		ToEntityID: id,
		Types:      dependencyRelationTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("entity dependents %s: %w", id, err)
	}

	deps := &EntityDependencies{
		Dependencies: make([]DependencyLink, 0, len(outgoing)),
		Dependents:   make([]DependencyLink, 0, len(incoming)),
	}
	for _, r := range outgoing {
		deps.Dependencies = append(deps.Dependencies, DependencyLink{
			EntityID: r.ToEntityID,
			Type:     r.Type,
		})
	}
	for _, r := range incoming {
		deps.Dependents = append(deps.Dependents, DependencyLink{
			EntityID: r.FromEntityID,
			Type:     r.Type,
		})
	}
	return deps, nil
}

// GetEntityExamples gathers incoming usage (CALLS/REFERENCES) and
// incoming TESTS edges, resolving each source entity. Sources that no
// longer resolve are skipped; deletes are best-effort elsewhere so
// dangling edges are expected.
func (s *Service) GetEntityExamples(ctx context.Context, id string) (*EntityExamples, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if _, err := s.GetEntity(ctx, id); err != nil {
		return nil, fmt.Errorf("entity examples %s: %w", id, err)
	}

	usedBy, err := s.resolveIncoming(ctx, id, usageRelationTypes)
	if err != nil {
		return nil, fmt.Errorf("entity examples %s: %w", id, err)
	}
	testedBy, err := s.resolveIncoming(ctx, id, []RelationType{RelationTests})
	if err != nil {
		return nil, fmt.Errorf("entity examples %s: %w", id, err)
	}
	return &EntityExamples{UsedBy: usedBy, TestedBy: testedBy}, nil
}

// resolveIncoming fetches incoming edges of the given types and
// resolves each source entity.
func (s *Service) resolveIncoming(ctx context.Context, id string, types []RelationType) ([]UsageExample, error) {
	edges, err := s.store.Relationships(ctx, RelationshipQuery{
		ToEntityID: id,
		Types:      types,
	})
	if err != nil {
		return nil, err
	}

	examples := make([]UsageExample, 0, len(edges))
	for _, r := range edges {
		source, err := s.GetEntity(ctx, r.FromEntityID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		examples = append(examples, UsageExample{Entity: source, Type: r.Type})
	}
	return examples, nil
}

// ListEntities returns one page of entities with the total count.
func (s *Service) ListEntities(ctx context.Context, opts ListOptions) (*EntityPage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	page, err := s.store.ListEntities(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return page, nil
}

// ListRelationships returns one page of relationships with the total
// count.
func (s *Service) ListRelationships(ctx context.Context, opts ListOptions) (*RelationshipPage, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	page, err := s.store.ListRelationships(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return page, nil
}
