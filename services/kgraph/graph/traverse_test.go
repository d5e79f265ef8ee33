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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCallChain builds a -CALLS-> b -CALLS-> c with entities present.
func seedCallChain(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.CreateEntity(ctx, &Entity{ID: id, Type: EntityFunction, Name: id})
		require.NoError(t, err)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "c"}} {
		_, err := svc.CreateRelationship(ctx, &Relationship{
			Type:         RelationCalls,
			FromEntityID: pair[0],
			ToEntityID:   pair[1],
		})
		require.NoError(t, err)
	}
}

func TestService_TraverseGraph_DepthBound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedCallChain(t, svc)

	got, err := svc.TraverseGraph(ctx, TraverseQuery{
		StartID:  "a",
		MaxDepth: 1,
		Types:    []RelationType{RelationCalls},
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "depth 1 stops at direct neighbors")
	assert.Equal(t, "b", got[0].ID)

	got, err = svc.TraverseGraph(ctx, TraverseQuery{
		StartID:  "a",
		MaxDepth: 2,
		Types:    []RelationType{RelationCalls},
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestService_TraverseGraph_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.TraverseGraph(ctx, TraverseQuery{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.TraverseGraph(ctx, TraverseQuery{StartID: "a", Types: []RelationType{"NOPE"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_FindPaths(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedCallChain(t, svc)

	paths, err := svc.FindPaths(ctx, PathQuery{
		StartID:  "a",
		EndID:    "c",
		Types:    []RelationType{RelationCalls},
		MaxDepth: 3,
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"a", "b", "c"}, paths[0].EntityIDs)

	_, err = svc.FindPaths(ctx, PathQuery{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_GetEntityDependencies(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, id := range []string{"fileB", "fileA", "t:spec"} {
		_, err := svc.CreateEntity(ctx, &Entity{ID: id, Type: EntityFile, Name: id})
		require.NoError(t, err)
	}
	_, err := svc.CreateRelationship(ctx, &Relationship{Type: RelationDependsOn, FromEntityID: "fileB", ToEntityID: "fileA"})
	require.NoError(t, err)
	_, err = svc.CreateRelationship(ctx, &Relationship{Type: RelationImports, FromEntityID: "fileB", ToEntityID: "external:lodash"})
	require.NoError(t, err)
	_, err = svc.CreateRelationship(ctx, &Relationship{Type: RelationReferences, FromEntityID: "t:spec", ToEntityID: "fileB"})
	require.NoError(t, err)
	// Containment is structural, not a dependency.
	_, err = svc.CreateRelationship(ctx, &Relationship{Type: RelationContains, FromEntityID: "dir:src", ToEntityID: "fileB"})
	require.NoError(t, err)

	deps, err := svc.GetEntityDependencies(ctx, "fileB")
	require.NoError(t, err)

	require.Len(t, deps.Dependencies, 2)
	targets := map[string]RelationType{}
	for _, d := range deps.Dependencies {
		targets[d.EntityID] = d.Type
	}
	assert.Equal(t, RelationDependsOn, targets["fileA"])
	assert.Equal(t, RelationImports, targets["external:lodash"])

	require.Len(t, deps.Dependents, 1)
	assert.Equal(t, "t:spec", deps.Dependents[0].EntityID)
	assert.Equal(t, RelationReferences, deps.Dependents[0].Type)

	_, err = svc.GetEntityDependencies(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_GetEntityExamples(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateEntity(ctx, &Entity{ID: "fn:target", Type: EntityFunction, Name: "target"})
	require.NoError(t, err)
	_, err = svc.CreateEntity(ctx, &Entity{ID: "fn:caller", Type: EntityFunction, Name: "caller"})
	require.NoError(t, err)
	_, err = svc.CreateEntity(ctx, &Entity{ID: "test:target_test", Type: EntityTest, Name: "target_test"})
	require.NoError(t, err)

	_, err = svc.CreateRelationship(ctx, &Relationship{Type: RelationCalls, FromEntityID: "fn:caller", ToEntityID: "fn:target"})
	require.NoError(t, err)
	_, err = svc.CreateRelationship(ctx, &Relationship{Type: RelationTests, FromEntityID: "test:target_test", ToEntityID: "fn:target"})
	require.NoError(t, err)
	// Usage edge from a source that was never stored: skipped, not fatal.
	_, err = svc.CreateRelationship(ctx, &Relationship{Type: RelationReferences, FromEntityID: "fn:ghost", ToEntityID: "fn:target"})
	require.NoError(t, err)

	examples, err := svc.GetEntityExamples(ctx, "fn:target")
	require.NoError(t, err)

	require.Len(t, examples.UsedBy, 1)
	assert.Equal(t, "fn:caller", examples.UsedBy[0].Entity.ID)
	assert.Equal(t, RelationCalls, examples.UsedBy[0].Type)

	require.Len(t, examples.TestedBy, 1)
	assert.Equal(t, "test:target_test", examples.TestedBy[0].Entity.ID)
	assert.Equal(t, "target_test", examples.TestedBy[0].Entity.Name)
}

func TestService_Listing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	seedCallChain(t, svc)

	entities, err := svc.ListEntities(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, entities.TotalCount)
	assert.Len(t, entities.Entities, 2)

	rels, err := svc.ListRelationships(ctx, ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, rels.TotalCount)
	assert.Len(t, rels.Relationships, 2)
}
