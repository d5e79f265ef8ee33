// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding maintains the vector-index side of the knowledge
// graph: it derives a textual representation per entity, turns it into
// a vector through an Embedder, and keeps the vector index in sync with
// entity lifecycle (create, update, delete).
//
// Vectors live in one collection per entity family. The index stores
// points keyed by a stable numeric id derived from the entity id; the
// payload always carries the authoritative string id, so a hash
// collision can corrupt ranking but never identity.
package embedding

import (
	"context"
	"hash/fnv"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// Collection names, one per entity family.
const (
	// CodeCollection holds code entities (files, symbols, sessions,
	// changes). The default when nothing more specific applies.
	CodeCollection = "code_embeddings"

	// DocumentationCollection holds documentation and spec entities.
	DocumentationCollection = "documentation_embeddings"

	// TestCollection holds test entities.
	TestCollection = "test_embeddings"
)

// Collections lists every collection the subsystem writes to, in sweep
// order for best-effort deletes.
var Collections = []string{CodeCollection, DocumentationCollection, TestCollection}

// CollectionFor selects the collection an entity's vector belongs in.
func CollectionFor(t graph.EntityType) string {
	switch t {
	case graph.EntityDocumentation, graph.EntitySpec:
		return DocumentationCollection
	case graph.EntityTest:
		return TestCollection
	default:
		return CodeCollection
	}
}

// StringToNumericID derives the stable point id for an entity id.
// FNV-64a: deterministic across runs and processes, so re-embedding an
// unchanged entity overwrites its point instead of duplicating it.
func StringToNumericID(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Embedder turns text into vectors. Implementations must return one
// vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Point is one stored vector with its payload.
type Point struct {
	// ID is the numeric point id (StringToNumericID of the entity id).
	ID uint64

	// Vector is the embedding.
	Vector []float32

	// Payload carries the authoritative entity id plus display fields.
	Payload map[string]any
}

// Hit is one similarity-search result.
type Hit struct {
	// EntityID is the authoritative string id from the point payload.
	EntityID string

	// Score is the similarity in [0,1], higher is closer.
	Score float64
}

// VectorIndex is the storage capability the subsystem writes vectors
// through. Implementations: WeaviateIndex (production), MemoryIndex
// (tests, air-gapped runs).
type VectorIndex interface {
	// EnsureCollection makes the collection usable, creating it when
	// missing. Idempotent.
	EnsureCollection(ctx context.Context, collection string) error

	// Upsert writes points, replacing any existing point with the same id.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Delete removes points by id. Missing points and missing
	// collections are not errors.
	Delete(ctx context.Context, collection string, ids []uint64) error

	// Search returns the points nearest to the query vector, best first.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)

	// Scroll lists a page of points starting at offset, in the index's
	// stable listing order. An empty page ends the listing; collections
	// that were never created list as empty.
	Scroll(ctx context.Context, collection string, offset, limit int) ([]Point, error)
}
