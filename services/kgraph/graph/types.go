// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph owns the knowledge graph: the entity/relationship model,
// the storage capability interfaces with their embedded in-memory
// implementation, the cypher-style query compiler with literal
// sanitization, and the Service that orchestrates CRUD, search,
// traversal, caching, and mutation events.
//
// Entities and relationships are written exclusively through Service;
// every other subsystem (history, embeddings) observes mutations via the
// event bus rather than touching storage directly.
package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType classifies a node in the knowledge graph.
type EntityType string

const (
	// EntityFile is a source file.
	EntityFile EntityType = "file"

	// EntityFunction is a standalone function symbol.
	EntityFunction EntityType = "function"

	// EntityClass is a class or composite type symbol.
	EntityClass EntityType = "class"

	// EntityInterface is an interface symbol.
	EntityInterface EntityType = "interface"

	// EntityTypeAlias is a type alias symbol.
	EntityTypeAlias EntityType = "type_alias"

	// EntityTest is a test case or test file.
	EntityTest EntityType = "test"

	// EntitySpec is a specification or design document.
	EntitySpec EntityType = "spec"

	// EntityDocumentation is prose documentation.
	EntityDocumentation EntityType = "documentation"

	// EntitySession is a recorded working session.
	EntitySession EntityType = "session"

	// EntityChange is an ingested change set (diff).
	EntityChange EntityType = "change"

	// EntityDirectory is a directory in the source tree.
	EntityDirectory EntityType = "directory"

	// EntityModule is a module or package.
	EntityModule EntityType = "module"
)

// entityTypes is the closed set of valid entity types.
var entityTypes = map[EntityType]struct{}{
	EntityFile: {}, EntityFunction: {}, EntityClass: {}, EntityInterface: {},
	EntityTypeAlias: {}, EntityTest: {}, EntitySpec: {}, EntityDocumentation: {},
	EntitySession: {}, EntityChange: {}, EntityDirectory: {}, EntityModule: {},
}

// Valid reports whether t is a recognized entity type.
func (t EntityType) Valid() bool {
	_, ok := entityTypes[t]
	return ok
}

// IsSymbol reports whether t is one of the symbol variants
// (function, class, interface, type alias).
func (t EntityType) IsSymbol() bool {
	switch t {
	case EntityFunction, EntityClass, EntityInterface, EntityTypeAlias:
		return true
	default:
		return false
	}
}

// RelationType classifies a directed edge between two entities.
//
// The uppercase names double as relationship type identifiers in
// compiled graph queries, so every value must satisfy the identifier
// grammar enforced by ValidIdentifier.
type RelationType string

const (
	RelationCalls            RelationType = "CALLS"
	RelationUses             RelationType = "USES"
	RelationReferences       RelationType = "REFERENCES"
	RelationReads            RelationType = "READS"
	RelationWrites           RelationType = "WRITES"
	RelationDependsOn        RelationType = "DEPENDS_ON"
	RelationContains         RelationType = "CONTAINS"
	RelationImports          RelationType = "IMPORTS"
	RelationTests            RelationType = "TESTS"
	RelationCoverageProvides RelationType = "COVERAGE_PROVIDES"
	RelationModifies         RelationType = "MODIFIES"
)

// relationTypes is the closed set of valid relationship types.
var relationTypes = map[RelationType]struct{}{
	RelationCalls: {}, RelationUses: {}, RelationReferences: {},
	RelationReads: {}, RelationWrites: {}, RelationDependsOn: {},
	RelationContains: {}, RelationImports: {}, RelationTests: {},
	RelationCoverageProvides: {}, RelationModifies: {},
}

// Valid reports whether t is a recognized relationship type.
func (t RelationType) Valid() bool {
	_, ok := relationTypes[t]
	return ok
}

// Aggregated reports whether edges of this type are aggregated per
// (from, to) pair during extraction instead of exact-deduplicated.
func (t RelationType) Aggregated() bool {
	switch t {
	case RelationReferences, RelationReads, RelationWrites:
		return true
	default:
		return false
	}
}

// Edge target scope classifications.
const (
	ScopeLocal    = "local"
	ScopeImported = "imported"
	ScopeExternal = "external"
	ScopeUnknown  = "unknown"
)

// Edge resolution method classifications.
const (
	ResolutionDirect      = "direct"
	ResolutionViaImport   = "via-import"
	ResolutionTypeChecker = "type-checker"
	ResolutionHeuristic   = "heuristic"
)

// Entity is a node in the knowledge graph.
//
// IDs are stable strings: files use "file:" plus their project-relative
// path, symbols use "path:line:name" (see ast.GenerateID). Re-ingesting
// the same artifact therefore updates in place rather than duplicating.
type Entity struct {
	// ID is the globally unique, stable identifier.
	ID string `json:"id" validate:"required,max=1024"`

	// Type classifies the entity.
	Type EntityType `json:"type" validate:"required,entitytype"`

	// Name is the display name (symbol name, file base name).
	Name string `json:"name,omitempty"`

	// Path is the project-relative source path, when applicable.
	Path string `json:"path,omitempty"`

	// Hash is the content hash of the artifact at last ingest.
	Hash string `json:"hash,omitempty"`

	// Language is the source language, when applicable.
	Language string `json:"language,omitempty"`

	// Created is when the entity was first observed.
	Created time.Time `json:"created"`

	// LastModified is when the entity last changed.
	LastModified time.Time `json:"lastModified"`

	// Metadata holds free-form attributes (signature, doc excerpt,
	// tags, staleness flags).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy: the metadata map is copied, values
// are shared.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Metadata is the recognized edge metadata, a tagged struct over the hot
// fields plus an open extension map for everything else.
type Metadata struct {
	// Inferred marks edges produced by heuristic inference rather than
	// syntactic certainty.
	Inferred bool `json:"inferred,omitempty"`

	// Confidence is the scorer's [0,1] estimate for inferred edges.
	Confidence float64 `json:"confidence,omitempty" validate:"gte=0,lte=1"`

	// Scope classifies the target: local, imported, external, unknown.
	Scope string `json:"scope,omitempty"`

	// Resolution records how the target was resolved: direct,
	// via-import, type-checker, heuristic.
	Resolution string `json:"resolution,omitempty"`

	// Kind is a free-form hint ("dependency", "instantiation").
	Kind string `json:"kind,omitempty"`

	// AccessPath is the textual access path for member reads/writes.
	AccessPath string `json:"accessPath,omitempty"`

	// OccurrencesScan counts raw observations collapsed into this edge
	// during one extraction pass.
	OccurrencesScan int `json:"occurrencesScan,omitempty"`

	// DataFlowID groups reads/writes of the same logical variable.
	DataFlowID string `json:"dataFlowId,omitempty"`

	// Ambiguous marks targets that matched more than one candidate.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// CandidateCount is the number of candidates for ambiguous targets.
	CandidateCount int `json:"candidateCount,omitempty"`

	// Operator is the assignment operator for WRITES edges ("=", "+=").
	Operator string `json:"operator,omitempty"`

	// Line is the 1-indexed source line of the earliest observation.
	Line int `json:"line,omitempty"`

	// Column is the 0-indexed source column of the earliest observation.
	Column int `json:"column,omitempty"`

	// Extra carries unrecognized fields without losing them.
	Extra map[string]any `json:"extra,omitempty"`
}

// IsZero reports whether no metadata field is set.
func (m Metadata) IsZero() bool {
	return !m.Inferred && m.Confidence == 0 && m.Scope == "" &&
		m.Resolution == "" && m.Kind == "" && m.AccessPath == "" &&
		m.OccurrencesScan == 0 && m.DataFlowID == "" && !m.Ambiguous &&
		m.CandidateCount == 0 && m.Operator == "" && m.Line == 0 &&
		m.Column == 0 && len(m.Extra) == 0
}

// rawMetadataKey stores unparseable metadata strings in Extra so no
// stored data is ever silently discarded.
const rawMetadataKey = "raw"

// DecodeMetadata parses a stored metadata JSON string. Malformed input
// is retained verbatim under Extra["raw"] rather than dropped or turned
// into an error.
func DecodeMetadata(raw string) Metadata {
	if raw == "" {
		return Metadata{}
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{Extra: map[string]any{rawMetadataKey: raw}}
	}
	return m
}

// Encode serializes metadata to its stored JSON form. The zero value
// encodes to the empty string so storage rows stay compact.
func (m Metadata) Encode() string {
	if m.IsZero() {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		// Marshal of a Metadata value cannot fail with the field types
		// above unless Extra holds an unmarshalable value; degrade to
		// empty rather than aborting a write.
		return ""
	}
	return string(data)
}

// Relationship is a typed, directed edge between two entities.
type Relationship struct {
	// ID uniquely identifies the edge.
	ID string `json:"id" validate:"required,max=1024"`

	// Type is the relationship type.
	Type RelationType `json:"type" validate:"required,relationtype"`

	// FromEntityID is the source entity.
	FromEntityID string `json:"fromEntityId" validate:"required"`

	// ToEntityID is the target entity (may be a placeholder id for
	// unresolved targets, e.g. "external:lodash").
	ToEntityID string `json:"toEntityId" validate:"required"`

	// Created is when the edge was first stored.
	Created time.Time `json:"created"`

	// LastModified is when the edge last changed.
	LastModified time.Time `json:"lastModified"`

	// Version is a monotonic per-edge counter bumped on every rewrite.
	Version int64 `json:"version"`

	// Metadata carries the recognized optional fields.
	Metadata Metadata `json:"metadata,omitempty"`
}

// Clone returns a copy safe to mutate: the metadata Extra map is
// copied, values are shared.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]any, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}

// PairKey returns the aggregation key "fromId→toId" used by per-pair
// accumulators.
func (r *Relationship) PairKey() string {
	return r.FromEntityID + "\x00" + r.ToEntityID
}

// TripleKey returns the exact-dedup key "fromId|type|toId".
func (r *Relationship) TripleKey() string {
	return r.FromEntityID + "\x00" + string(r.Type) + "\x00" + r.ToEntityID
}

// RelationshipID builds the canonical edge id from its triple. One edge
// per (from, type, to) exists at any time; rewrites bump Version.
func RelationshipID(from string, typ RelationType, to string) string {
	return fmt.Sprintf("%s|%s|%s", from, typ, to)
}
