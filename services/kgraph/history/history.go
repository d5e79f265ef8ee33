// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history is the temporal layer of the knowledge graph: entity
// versions, temporal edges, and checkpoints (bounded-hop membership
// snapshots around seed entities).
//
// The package never mutates the live graph. A Recorder subscribes to
// the graph event bus and appends versions and temporal edge
// observations as mutations happen; everything else is a read path
// over that history, plus checkpoint export/import and retention
// pruning.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// ErrCheckpointNotFound indicates the requested checkpoint does not
// exist. List operations return empty results instead.
var ErrCheckpointNotFound = errors.New("history: checkpoint not found")

// Reason tags why a checkpoint was taken.
type Reason string

const (
	// ReasonManual marks an operator-requested checkpoint.
	ReasonManual Reason = "manual"

	// ReasonDaily marks a scheduled daily checkpoint.
	ReasonDaily Reason = "daily"

	// ReasonIncident marks a checkpoint taken while investigating an
	// incident.
	ReasonIncident Reason = "incident"
)

// Valid reports whether r is a recognized checkpoint reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonManual, ReasonDaily, ReasonIncident:
		return true
	default:
		return false
	}
}

// VersionOp tags which mutation produced a version.
type VersionOp string

const (
	VersionCreated VersionOp = "created"
	VersionUpdated VersionOp = "updated"
	VersionDeleted VersionOp = "deleted"
)

// Version is an immutable snapshot of an entity's attributes at the
// moment it mutated. Versions are append-only; the latest one per
// entity is never pruned, so point-in-time export stays possible for
// entities that have been stable longer than the retention window.
type Version struct {
	// ID is assigned by the store, strictly increasing per store.
	ID int64 `json:"id"`

	// EntityID is the versioned entity.
	EntityID string `json:"entityId"`

	// Op is the mutation that produced this version.
	Op VersionOp `json:"op"`

	// Entity is the attribute snapshot. For VersionDeleted it holds the
	// last attributes the event carried.
	Entity *graph.Entity `json:"entity"`

	// RecordedAt is the mutation timestamp from the event.
	RecordedAt time.Time `json:"recordedAt"`
}

// TemporalEdge is one observation of a relationship with a validity
// interval. ValidTo nil means the observation is still open; closing
// sets ValidTo exactly once. Supersession closes the old observation
// and opens a new one, so the interval history reconstructs what the
// edge looked like at any past instant.
type TemporalEdge struct {
	// ID is assigned by the store, strictly increasing per store.
	ID int64 `json:"id"`

	// RelationshipID is the live-graph edge id this observes.
	RelationshipID string `json:"relationshipId"`

	// Type is the relationship type.
	Type graph.RelationType `json:"type"`

	// FromEntityID and ToEntityID are the edge endpoints.
	FromEntityID string `json:"fromEntityId"`
	ToEntityID   string `json:"toEntityId"`

	// Relationship is the full edge payload at observation time
	// (metadata, version counter). Export reads it; membership
	// expansion only needs the id columns.
	Relationship *graph.Relationship `json:"relationship,omitempty"`

	// ValidFrom is when the observation opened.
	ValidFrom time.Time `json:"validFrom"`

	// ValidTo is when it closed, nil while open.
	ValidTo *time.Time `json:"validTo,omitempty"`
}

// Open reports whether the observation is still open.
func (e *TemporalEdge) Open() bool {
	return e.ValidTo == nil
}

// Window bounds temporal validity for checkpoint expansion and
// time-travel reads. A zero From or To leaves that side unbounded.
type Window struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Intersects reports whether the validity interval [validFrom,
// validTo] overlaps the window. A nil receiver matches everything; a
// nil validTo means the interval is still open.
func (w *Window) Intersects(validFrom time.Time, validTo *time.Time) bool {
	if w == nil {
		return true
	}
	if !w.To.IsZero() && validFrom.After(w.To) {
		return false
	}
	if !w.From.IsZero() && validTo != nil && validTo.Before(w.From) {
		return false
	}
	return true
}

// Checkpoint is a named membership snapshot: the entities reachable
// within Hops relationship-steps of the seeds, restricted to edges
// whose validity intersects Window when one is given.
type Checkpoint struct {
	ID           string    `json:"id"`
	Reason       Reason    `json:"reason"`
	SeedEntities []string  `json:"seedEntities"`
	Hops         int       `json:"hops"`
	Window       *Window   `json:"window,omitempty"`
	Created      time.Time `json:"created"`
}

// Summary aggregates a checkpoint's membership by entity type and the
// relationships among members by relationship type.
type Summary struct {
	CheckpointID        string                     `json:"checkpointId"`
	EntityCount         int                        `json:"entityCount"`
	RelationshipCount   int                        `json:"relationshipCount"`
	EntitiesByType      map[graph.EntityType]int   `json:"entitiesByType"`
	RelationshipsByType map[graph.RelationType]int `json:"relationshipsByType"`
}

// PruneCounts reports what a retention pass removed (or would remove,
// on a dry run).
type PruneCounts struct {
	// Versions counts superseded entity versions older than the cutoff.
	// The latest version per entity is always kept.
	Versions int `json:"versions"`

	// ClosedEdges counts temporal edges whose validity ended before the
	// cutoff. Open edges are never pruned.
	ClosedEdges int `json:"closedEdges"`

	// Checkpoints counts checkpoints created before the cutoff,
	// including their membership rows.
	Checkpoints int `json:"checkpoints"`
}

// Store persists the temporal layer. Implementations: PgStore
// (production), MemoryStore (tests).
type Store interface {
	// AppendVersion appends an entity version. The store assigns
	// Version.ID.
	AppendVersion(ctx context.Context, v *Version) error

	// LatestVersion returns the newest version for an entity, nil when
	// the entity has no recorded versions.
	LatestVersion(ctx context.Context, entityID string) (*Version, error)

	// Versions returns an entity's versions newest first, at most limit
	// when limit > 0.
	Versions(ctx context.Context, entityID string, limit int) ([]*Version, error)

	// OpenEdge records a new open observation. The store assigns
	// TemporalEdge.ID.
	OpenEdge(ctx context.Context, e *TemporalEdge) error

	// CloseEdge closes every open observation of a relationship,
	// returning how many it closed. Zero is not an error.
	CloseEdge(ctx context.Context, relationshipID string, at time.Time) (int, error)

	// CloseEdgesTouching closes every open observation with the entity
	// as either endpoint, returning how many it closed.
	CloseEdgesTouching(ctx context.Context, entityID string, at time.Time) (int, error)

	// EdgesTouching returns observations with any of the entities as an
	// endpoint whose validity intersects the window (all of them when
	// window is nil).
	EdgesTouching(ctx context.Context, entityIDs []string, window *Window) ([]*TemporalEdge, error)

	// PutCheckpoint persists a checkpoint and its membership rows
	// atomically.
	PutCheckpoint(ctx context.Context, cp *Checkpoint, memberIDs []string) error

	// GetCheckpoint returns a checkpoint or ErrCheckpointNotFound.
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)

	// ListCheckpoints returns checkpoints newest first, at most limit
	// when limit > 0.
	ListCheckpoints(ctx context.Context, limit int) ([]*Checkpoint, error)

	// CheckpointMembers returns the member entity ids of a checkpoint,
	// or ErrCheckpointNotFound.
	CheckpointMembers(ctx context.Context, id string) ([]string, error)

	// DeleteCheckpoint removes a checkpoint and its membership rows,
	// never the underlying entities. Missing checkpoints return
	// ErrCheckpointNotFound.
	DeleteCheckpoint(ctx context.Context, id string) error

	// CountPrunable reports what Prune would remove at the cutoff.
	CountPrunable(ctx context.Context, cutoff time.Time) (PruneCounts, error)

	// Prune removes superseded versions recorded before the cutoff,
	// closed edges whose validity ended before it, and checkpoints
	// created before it.
	Prune(ctx context.Context, cutoff time.Time) (PruneCounts, error)
}
