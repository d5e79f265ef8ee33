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
	"time"
)

// RelationshipQuery filters relationship lookups. Zero-value fields are
// ignored; set fields combine with AND semantics.
type RelationshipQuery struct {
	// FromEntityID restricts to edges originating at this entity.
	FromEntityID string

	// ToEntityID restricts to edges pointing at this entity.
	ToEntityID string

	// Types restricts to the given relationship types. Empty means all.
	Types []RelationType

	// Since keeps edges modified at or after this time.
	Since time.Time

	// Until keeps edges modified at or before this time.
	Until time.Time

	// Limit caps the result count. Zero means DefaultQueryLimit.
	Limit int
}

// StructuralQuery is the property-filter entity search (non-semantic).
type StructuralQuery struct {
	// EntityTypes restricts to the given types. Empty means all.
	EntityTypes []EntityType

	// PathContains keeps entities whose path contains the substring.
	PathContains string

	// Language keeps entities with an exact language match.
	Language string

	// ModifiedSince keeps entities modified at or after this time.
	ModifiedSince time.Time

	// ModifiedUntil keeps entities modified at or before this time.
	ModifiedUntil time.Time

	// Tags keeps entities whose metadata "tags" list contains every
	// given tag.
	Tags []string

	// Limit caps the result count. Zero means DefaultQueryLimit.
	Limit int
}

// Direction selects edge orientation for traversal.
type Direction string

const (
	// DirectionOutgoing follows edges from source to target.
	DirectionOutgoing Direction = "outgoing"

	// DirectionIncoming follows edges from target to source.
	DirectionIncoming Direction = "incoming"

	// DirectionBoth follows edges in either orientation.
	DirectionBoth Direction = "both"
)

// PathQuery describes a bounded variable-length path search between a
// start entity and an optional end entity.
type PathQuery struct {
	// StartID is the path origin. Required.
	StartID string

	// EndID is the path destination. Empty matches any endpoint.
	EndID string

	// Types restricts traversed edges to these types. Empty means all.
	Types []RelationType

	// MaxDepth bounds the path length in relationship steps.
	// Zero means DefaultMaxPathDepth.
	MaxDepth int

	// Limit caps the number of returned paths.
	// Zero means DefaultQueryLimit.
	Limit int
}

// Path is one discovered path: len(Edges) == len(EntityIDs) - 1, with
// Edges[i] connecting EntityIDs[i] and EntityIDs[i+1].
type Path struct {
	EntityIDs []string
	Edges     []*Relationship
}

// TraverseQuery describes a bounded breadth-first expansion from one
// entity.
type TraverseQuery struct {
	// StartID is the expansion origin. Required.
	StartID string

	// Direction selects edge orientation. Empty means DirectionOutgoing.
	Direction Direction

	// Types restricts traversed edges to these types. Empty means all.
	Types []RelationType

	// MaxDepth bounds the expansion in relationship steps.
	// Zero means 1.
	MaxDepth int

	// Limit caps the number of reached entities.
	// Zero means DefaultQueryLimit.
	Limit int
}

// ListOptions paginates entity and relationship listings.
type ListOptions struct {
	// Offset skips the first N results in stable id order.
	Offset int

	// Limit caps the page size. Zero means DefaultPageSize.
	Limit int

	// EntityTypes filters ListEntities. Empty means all.
	EntityTypes []EntityType

	// Types filters ListRelationships. Empty means all.
	Types []RelationType
}

// EntityPage is one page of entities with the unpaginated total.
type EntityPage struct {
	Entities   []*Entity `json:"entities"`
	TotalCount int       `json:"totalCount"`
}

// RelationshipPage is one page of relationships with the unpaginated
// total.
type RelationshipPage struct {
	Relationships []*Relationship `json:"relationships"`
	TotalCount    int             `json:"totalCount"`
}

// Query and pagination defaults.
const (
	// DefaultQueryLimit caps unspecified relationship/search/traversal
	// result sizes.
	DefaultQueryLimit = 100

	// DefaultMaxPathDepth bounds path searches with no explicit depth.
	DefaultMaxPathDepth = 3

	// MaxPathDepth is the hard ceiling for variable-length traversal;
	// deeper requests are clamped to keep query cost bounded.
	MaxPathDepth = 10

	// DefaultPageSize is the listing page size when unspecified.
	DefaultPageSize = 50
)

// Store is the graph storage capability consumed by Service.
//
// Implementations must tolerate dangling edges: queries skip edges whose
// endpoint entity is missing rather than failing, since cascade deletion
// is not atomic across backends.
type Store interface {
	// UpsertEntity inserts or replaces an entity by id.
	UpsertEntity(ctx context.Context, e *Entity) error

	// GetEntity returns the entity or ErrNotFound.
	GetEntity(ctx context.Context, id string) (*Entity, error)

	// EntityExists reports whether the id is present.
	EntityExists(ctx context.Context, id string) (bool, error)

	// DeleteEntity removes the entity. Deleting a missing entity
	// returns ErrNotFound.
	DeleteEntity(ctx context.Context, id string) error

	// PutRelationship inserts the edge, or rewrites an existing edge
	// with the same id, bumping Version and preserving Created.
	PutRelationship(ctx context.Context, r *Relationship) error

	// GetRelationship returns the edge or ErrNotFound.
	GetRelationship(ctx context.Context, id string) (*Relationship, error)

	// DeleteRelationship removes the edge by id. Missing edges return
	// ErrNotFound.
	DeleteRelationship(ctx context.Context, id string) error

	// Relationships returns edges matching the query, newest first.
	Relationships(ctx context.Context, q RelationshipQuery) ([]*Relationship, error)

	// IncidentRelationships returns all edges touching the entity in
	// either direction.
	IncidentRelationships(ctx context.Context, entityID string) ([]*Relationship, error)

	// SearchEntities returns entities matching the structural filters.
	SearchEntities(ctx context.Context, q StructuralQuery) ([]*Entity, error)

	// FindPaths returns bounded variable-length paths.
	FindPaths(ctx context.Context, q PathQuery) ([]Path, error)

	// Traverse returns entities reachable within the query bounds,
	// excluding the start entity, in breadth-first discovery order.
	Traverse(ctx context.Context, q TraverseQuery) ([]*Entity, error)

	// ListEntities returns one page plus the total count.
	ListEntities(ctx context.Context, opts ListOptions) (*EntityPage, error)

	// ListRelationships returns one page plus the total count.
	ListRelationships(ctx context.Context, opts ListOptions) (*RelationshipPage, error)
}
