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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribePublishUnsubscribe(t *testing.T) {
	bus := NewBus()

	var got []*Event
	id := bus.Subscribe(func(e *Event) { got = append(got, e) })
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Publish(EventEntityCreated, testEntity("a", EntityFile), nil)
	require.Len(t, got, 1)
	assert.Equal(t, EventEntityCreated, got[0].Type)
	assert.Equal(t, "a", got[0].Entity.ID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id), "second unsubscribe reports missing")

	bus.Publish(EventEntityCreated, testEntity("b", EntityFile), nil)
	assert.Len(t, got, 1, "unsubscribed handler must not fire")
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus()

	var deletions int
	bus.Subscribe(func(e *Event) { deletions++ }, EventEntityDeleted, EventRelationshipDeleted)

	bus.Publish(EventEntityCreated, testEntity("a", EntityFile), nil)
	bus.Publish(EventEntityDeleted, testEntity("a", EntityFile), nil)
	bus.Publish(EventRelationshipDeleted, nil, testEdge("a", RelationCalls, "b"))

	assert.Equal(t, 2, deletions)
}

func TestBus_CustomFilter(t *testing.T) {
	bus := NewBus()

	var got []*Event
	bus.SubscribeWithFilter(
		func(e *Event) { got = append(got, e) },
		func(e *Event) bool { return e.Entity != nil && e.Entity.Type == EntityTest },
	)

	bus.Publish(EventEntityCreated, testEntity("f", EntityFile), nil)
	bus.Publish(EventEntityCreated, testEntity("t", EntityTest), nil)

	require.Len(t, got, 1)
	assert.Equal(t, "t", got[0].Entity.ID)
}

func TestBus_PanickingHandlerDoesNotStopDispatch(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(func(e *Event) { panic("boom") })
	fired := false
	bus.Subscribe(func(e *Event) { fired = true })

	assert.NotPanics(t, func() {
		bus.Publish(EventEntityCreated, testEntity("a", EntityFile), nil)
	})
	assert.True(t, fired, "healthy handler still runs after a panic")
}

func TestBus_RecentWindow(t *testing.T) {
	bus := NewBus(WithEventBuffer(3))

	for _, id := range []string{"a", "b", "c", "d"} {
		bus.Publish(EventEntityCreated, testEntity(id, EntityFile), nil)
	}

	recent := bus.Recent(0)
	require.Len(t, recent, 3, "oldest event drops past the buffer size")
	assert.Equal(t, "b", recent[0].Entity.ID)
	assert.Equal(t, "d", recent[2].Entity.ID)

	last := bus.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "d", last[0].Entity.ID)
}
