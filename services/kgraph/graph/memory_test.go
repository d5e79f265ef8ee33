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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntity(id string, typ EntityType) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:           id,
		Type:         typ,
		Name:         id,
		Created:      now,
		LastModified: now,
	}
}

func testEdge(from string, typ RelationType, to string) *Relationship {
	now := time.Now().UTC()
	return &Relationship{
		ID:           RelationshipID(from, typ, to),
		Type:         typ,
		FromEntityID: from,
		ToEntityID:   to,
		Created:      now,
		LastModified: now,
	}
}

func TestMemoryStore_EntityCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	e := testEntity("file:/src/a.ts", EntityFile)
	e.Metadata = map[string]any{"tags": []string{"core"}}
	require.NoError(t, store.UpsertEntity(ctx, e))

	got, err := store.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, EntityFile, got.Type)

	// Returned value is a clone; mutating it must not write through.
	got.Name = "mutated"
	again, err := store.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, again.Name)

	ok, err := store.EntityExists(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.DeleteEntity(ctx, e.ID))
	assert.ErrorIs(t, store.DeleteEntity(ctx, e.ID), ErrNotFound)
}

func TestMemoryStore_PutRelationship_RewriteBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	r := testEdge("a", RelationCalls, "b")
	require.NoError(t, store.PutRelationship(ctx, r))

	first, err := store.GetRelationship(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	rewrite := r.Clone()
	rewrite.Metadata.Confidence = 0.9
	rewrite.LastModified = time.Now().UTC().Add(time.Second)
	require.NoError(t, store.PutRelationship(ctx, rewrite))

	second, err := store.GetRelationship(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, first.Created, second.Created, "rewrite must preserve Created")
	assert.InDelta(t, 0.9, second.Metadata.Confidence, 1e-9)
}

func TestMemoryStore_Relationships_FiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	edges := []*Relationship{
		{ID: "e1", Type: RelationCalls, FromEntityID: "a", ToEntityID: "b", LastModified: base},
		{ID: "e2", Type: RelationReferences, FromEntityID: "a", ToEntityID: "c", LastModified: base.Add(time.Hour)},
		{ID: "e3", Type: RelationCalls, FromEntityID: "b", ToEntityID: "c", LastModified: base.Add(2 * time.Hour)},
	}
	for _, r := range edges {
		require.NoError(t, store.PutRelationship(ctx, r))
	}

	t.Run("by from id, newest first", func(t *testing.T) {
		got, err := store.Relationships(ctx, RelationshipQuery{FromEntityID: "a"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "e2", got[0].ID)
		assert.Equal(t, "e1", got[1].ID)
	})

	t.Run("by type", func(t *testing.T) {
		got, err := store.Relationships(ctx, RelationshipQuery{Types: []RelationType{RelationCalls}})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("time window", func(t *testing.T) {
		got, err := store.Relationships(ctx, RelationshipQuery{
			Since: base.Add(30 * time.Minute),
			Until: base.Add(90 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := store.Relationships(ctx, RelationshipQuery{Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e3", got[0].ID)
	})
}

func TestMemoryStore_IncidentRelationships(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.PutRelationship(ctx, testEdge("a", RelationCalls, "b")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("c", RelationReferences, "b")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("b", RelationUses, "d")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("x", RelationCalls, "y")))

	got, err := store.IncidentRelationships(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMemoryStore_SearchEntities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := testEntity("file:/src/auth/login.ts", EntityFile)
	a.Path = "/src/auth/login.ts"
	a.Language = "typescript"
	a.Metadata = map[string]any{"tags": []string{"auth", "core"}}

	b := testEntity("file:/src/db/pool.go", EntityFile)
	b.Path = "/src/db/pool.go"
	b.Language = "go"

	fn := testEntity("file:/src/auth/login.ts:10:login", EntityFunction)
	fn.Path = "/src/auth/login.ts"
	fn.Language = "typescript"

	for _, e := range []*Entity{a, b, fn} {
		require.NoError(t, store.UpsertEntity(ctx, e))
	}

	t.Run("by type", func(t *testing.T) {
		got, err := store.SearchEntities(ctx, StructuralQuery{EntityTypes: []EntityType{EntityFunction}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, fn.ID, got[0].ID)
	})

	t.Run("by path substring and language", func(t *testing.T) {
		got, err := store.SearchEntities(ctx, StructuralQuery{
			PathContains: "/auth/",
			Language:     "typescript",
		})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("by tags requires all", func(t *testing.T) {
		got, err := store.SearchEntities(ctx, StructuralQuery{Tags: []string{"auth", "core"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)

		got, err = store.SearchEntities(ctx, StructuralQuery{Tags: []string{"auth", "absent"}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStore_FindPaths(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.UpsertEntity(ctx, testEntity(id, EntityFunction)))
	}
	require.NoError(t, store.PutRelationship(ctx, testEdge("a", RelationCalls, "b")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("b", RelationCalls, "c")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("a", RelationUses, "d")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("d", RelationCalls, "c")))

	t.Run("bounded to end entity", func(t *testing.T) {
		paths, err := store.FindPaths(ctx, PathQuery{StartID: "a", EndID: "c", MaxDepth: 3})
		require.NoError(t, err)
		require.Len(t, paths, 2)
		for _, p := range paths {
			assert.Equal(t, "a", p.EntityIDs[0])
			assert.Equal(t, "c", p.EntityIDs[len(p.EntityIDs)-1])
			assert.Len(t, p.Edges, len(p.EntityIDs)-1)
		}
	})

	t.Run("type alternation restricts edges", func(t *testing.T) {
		paths, err := store.FindPaths(ctx, PathQuery{
			StartID:  "a",
			EndID:    "c",
			Types:    []RelationType{RelationCalls},
			MaxDepth: 3,
		})
		require.NoError(t, err)
		require.Len(t, paths, 1)
		assert.Equal(t, []string{"a", "b", "c"}, paths[0].EntityIDs)
	})

	t.Run("depth bound cuts long paths", func(t *testing.T) {
		paths, err := store.FindPaths(ctx, PathQuery{StartID: "a", EndID: "c", MaxDepth: 1})
		require.NoError(t, err)
		assert.Empty(t, paths)
	})

	t.Run("cycles terminate", func(t *testing.T) {
		require.NoError(t, store.PutRelationship(ctx, testEdge("c", RelationCalls, "a")))
		paths, err := store.FindPaths(ctx, PathQuery{StartID: "a", MaxDepth: 5})
		require.NoError(t, err)
		assert.NotEmpty(t, paths)
		for _, p := range paths {
			seen := map[string]bool{}
			for _, id := range p.EntityIDs {
				assert.False(t, seen[id], "path revisits %s", id)
				seen[id] = true
			}
		}
	})
}

func TestMemoryStore_Traverse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.UpsertEntity(ctx, testEntity(id, EntityFunction)))
	}
	require.NoError(t, store.PutRelationship(ctx, testEdge("a", RelationCalls, "b")))
	require.NoError(t, store.PutRelationship(ctx, testEdge("b", RelationCalls, "c")))

	t.Run("depth one returns only direct neighbors", func(t *testing.T) {
		got, err := store.Traverse(ctx, TraverseQuery{
			StartID:  "a",
			MaxDepth: 1,
			Types:    []RelationType{RelationCalls},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].ID)
	})

	t.Run("depth two reaches transitively, start excluded", func(t *testing.T) {
		got, err := store.Traverse(ctx, TraverseQuery{StartID: "a", MaxDepth: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].ID, "breadth-first discovery order")
		assert.Equal(t, "c", got[1].ID)
	})

	t.Run("incoming direction", func(t *testing.T) {
		got, err := store.Traverse(ctx, TraverseQuery{
			StartID:   "c",
			Direction: DirectionIncoming,
			MaxDepth:  2,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].ID)
	})
}

func TestMemoryStore_DanglingEdgesAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertEntity(ctx, testEntity("a", EntityFunction)))
	// Edge to a target that was never stored as an entity.
	require.NoError(t, store.PutRelationship(ctx, testEdge("a", RelationReferences, "external:lodash")))

	got, err := store.Traverse(ctx, TraverseQuery{StartID: "a", MaxDepth: 2})
	require.NoError(t, err)
	assert.Empty(t, got, "dangling target must not surface as an entity")

	paths, err := store.FindPaths(ctx, PathQuery{StartID: "a", MaxDepth: 2})
	require.NoError(t, err)
	assert.Empty(t, paths)

	// The edge itself is still queryable.
	rels, err := store.Relationships(ctx, RelationshipQuery{FromEntityID: "a"})
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestMemoryStore_Listing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ids := []string{"e1", "e2", "e3", "e4", "e5"}
	for _, id := range ids {
		require.NoError(t, store.UpsertEntity(ctx, testEntity(id, EntityFile)))
	}
	require.NoError(t, store.UpsertEntity(ctx, testEntity("fn1", EntityFunction)))

	page, err := store.ListEntities(ctx, ListOptions{Limit: 2, Offset: 2, EntityTypes: []EntityType{EntityFile}})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	require.Len(t, page.Entities, 2)
	assert.Equal(t, "e3", page.Entities[0].ID)
	assert.Equal(t, "e4", page.Entities[1].ID)

	// Offset past the end yields an empty page with the true total.
	page, err = store.ListEntities(ctx, ListOptions{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, page.TotalCount)
	assert.Empty(t, page.Entities)

	for i, typ := range []RelationType{RelationCalls, RelationUses, RelationTests} {
		r := testEdge("a", typ, ids[i])
		require.NoError(t, store.PutRelationship(ctx, r))
	}
	rels, err := store.ListRelationships(ctx, ListOptions{Limit: 10, Types: []RelationType{RelationCalls, RelationTests}})
	require.NoError(t, err)
	assert.Equal(t, 2, rels.TotalCount)
	assert.Len(t, rels.Relationships, 2)
}
