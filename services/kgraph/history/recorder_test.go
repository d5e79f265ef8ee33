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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

func attachedRecorder(t *testing.T) (*Recorder, *MemoryStore, *graph.Bus) {
	t.Helper()
	store := NewMemoryStore()
	bus := graph.NewBus()
	rec := NewRecorder(store, WithRecorderLogger(quietLogger()))
	rec.Attach(bus)
	t.Cleanup(func() { _ = rec.Close() })
	return rec, store, bus
}

func TestRecorder_EntityEventsAppendVersions(t *testing.T) {
	_, store, bus := attachedRecorder(t)
	ctx := context.Background()

	e := testEntity("file:a", graph.EntityFile, "a.ts")
	bus.Publish(graph.EventEntityCreated, e, nil)
	bus.Publish(graph.EventEntityUpdated, e, nil)
	bus.Publish(graph.EventEntityDeleted, e, nil)

	assert.Eventually(t, func() bool {
		versions, err := store.Versions(ctx, "file:a", 0)
		return err == nil && len(versions) == 3
	}, 2*time.Second, 10*time.Millisecond)

	versions, err := store.Versions(ctx, "file:a", 0)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, VersionDeleted, versions[0].Op)
	assert.Equal(t, VersionUpdated, versions[1].Op)
	assert.Equal(t, VersionCreated, versions[2].Op)
	assert.Equal(t, "a.ts", versions[2].Entity.Name)
	assert.False(t, versions[0].RecordedAt.IsZero())
}

func TestRecorder_RelationshipLifecycle(t *testing.T) {
	_, store, bus := attachedRecorder(t)
	ctx := context.Background()

	rel := &graph.Relationship{
		ID:           graph.RelationshipID("a", graph.RelationCalls, "b"),
		Type:         graph.RelationCalls,
		FromEntityID: "a",
		ToEntityID:   "b",
	}

	bus.Publish(graph.EventRelationshipCreated, nil, rel)
	assert.Eventually(t, func() bool {
		edges, err := store.EdgesTouching(ctx, []string{"a"}, nil)
		return err == nil && len(edges) == 1 && edges[0].Open()
	}, 2*time.Second, 10*time.Millisecond)

	// An update supersedes: the old observation closes, a new one
	// opens at the update instant.
	updated := rel.Clone()
	updated.Version = 2
	bus.Publish(graph.EventRelationshipUpdated, nil, updated)
	assert.Eventually(t, func() bool {
		edges, err := store.EdgesTouching(ctx, []string{"a"}, nil)
		if err != nil || len(edges) != 2 {
			return false
		}
		return !edges[0].Open() && edges[1].Open()
	}, 2*time.Second, 10*time.Millisecond)

	edges, err := store.EdgesTouching(ctx, []string{"a"}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, edges[1].Relationship.Version, "new observation carries the updated payload")

	bus.Publish(graph.EventRelationshipDeleted, nil, updated)
	assert.Eventually(t, func() bool {
		edges, err := store.EdgesTouching(ctx, []string{"a"}, nil)
		if err != nil || len(edges) != 2 {
			return false
		}
		return !edges[0].Open() && !edges[1].Open()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_EntityDeleteSweepsOpenEdges(t *testing.T) {
	_, store, bus := attachedRecorder(t)
	ctx := context.Background()

	rel := &graph.Relationship{
		ID:           graph.RelationshipID("a", graph.RelationImports, "b"),
		Type:         graph.RelationImports,
		FromEntityID: "a",
		ToEntityID:   "b",
	}
	bus.Publish(graph.EventRelationshipCreated, nil, rel)

	// Deletion event for the entity without a preceding relationship
	// delete, as when a relationship event was dropped.
	bus.Publish(graph.EventEntityDeleted, testEntity("a", graph.EntityFile, "a.ts"), nil)

	assert.Eventually(t, func() bool {
		edges, err := store.EdgesTouching(ctx, []string{"a"}, nil)
		if err != nil || len(edges) != 1 {
			return false
		}
		v, err := store.LatestVersion(ctx, "a")
		return err == nil && v != nil && v.Op == VersionDeleted && !edges[0].Open()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_AttachIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	bus := graph.NewBus()
	rec := NewRecorder(store, WithRecorderLogger(quietLogger()))

	rec.Attach(bus)
	rec.Attach(bus)
	assert.Equal(t, 1, bus.SubscriberCount())

	require.NoError(t, rec.Close())
	assert.Equal(t, 0, bus.SubscriberCount())
	require.NoError(t, rec.Close(), "second close is a no-op")
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	store := NewMemoryStore()
	bus := graph.NewBus()
	rec := NewRecorder(store, WithRecorderLogger(quietLogger()))
	rec.Attach(bus)

	const n = 25
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("file:%d", i)
		bus.Publish(graph.EventEntityCreated, testEntity(id, graph.EntityFile, id), nil)
	}

	// Publication enqueues synchronously, so everything is either
	// queued or already recorded by the time Close runs.
	require.NoError(t, rec.Close())

	ctx := context.Background()
	for i := 0; i < n; i++ {
		v, err := store.LatestVersion(ctx, fmt.Sprintf("file:%d", i))
		require.NoError(t, err)
		require.NotNil(t, v, "version for entity %d lost on close", i)
		assert.Equal(t, VersionCreated, v.Op)
	}
}
