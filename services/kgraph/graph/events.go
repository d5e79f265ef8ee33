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
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a graph mutation event.
type EventType string

const (
	EventEntityCreated       EventType = "entityCreated"
	EventEntityUpdated       EventType = "entityUpdated"
	EventEntityDeleted       EventType = "entityDeleted"
	EventRelationshipCreated EventType = "relationshipCreated"
	EventRelationshipUpdated EventType = "relationshipUpdated"
	EventRelationshipDeleted EventType = "relationshipDeleted"
)

// Event is one graph mutation, published after the storage write
// succeeds. Exactly one of Entity or Relationship is set, matching the
// event type.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the mutation kind.
	Type EventType `json:"type"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Entity is the affected entity for entity* events. For
	// entityDeleted it is the last stored state.
	Entity *Entity `json:"entity,omitempty"`

	// Relationship is the affected edge for relationship* events.
	Relationship *Relationship `json:"relationship,omitempty"`
}

// Handler processes events. Handlers run synchronously on the
// publishing goroutine, so deletions observe their events in cascade
// order; slow handlers should hand off to their own queue.
type Handler func(event *Event)

// Filter decides whether a subscription handles an event.
type Filter func(event *Event) bool

// subscription pairs a handler with its filters.
type subscription struct {
	id      string
	handler Handler
	filter  Filter
	types   []EventType
}

// Bus broadcasts graph mutation events to subscribers and keeps a
// bounded ring of recent events for late-attaching observers.
//
// Thread safety: Bus is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	recent        []Event
	bufferSize    int
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithEventBuffer sets how many recent events are retained.
func WithEventBuffer(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// NewBus creates an event bus retaining 1000 recent events by default.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscriptions: make(map[string]*subscription),
		bufferSize:    1000,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.recent = make([]Event, 0, b.bufferSize)
	return b
}

// Subscribe registers a handler for the given event types (none means
// all) and returns the subscription id for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, types ...EventType) string {
	return b.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter on top
// of the type filter.
func (b *Bus) SubscribeWithFilter(handler Handler, filter Filter, types ...EventType) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		filter:  filter,
		types:   types,
	}
	b.subscriptions[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription, reporting whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[id]; ok {
		delete(b.subscriptions, id)
		return true
	}
	return false
}

// Publish broadcasts an event to all matching subscribers. Handler
// panics are recovered so one misbehaving observer cannot break the
// mutation path or starve other observers.
func (b *Bus) Publish(eventType EventType, entity *Entity, rel *Relationship) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	event := Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now(),
		Entity:       entity,
		Relationship: rel,
	}

	b.mu.Lock()
	if len(b.recent) >= b.bufferSize {
		b.recent = b.recent[1:]
	}
	b.recent = append(b.recent, event)
	b.mu.Unlock()

	for _, sub := range subs {
		if shouldHandle(sub, &event) {
			safeInvoke(sub.handler, &event)
		}
	}
}

// Recent returns up to n most recent events, oldest first. n <= 0
// returns the whole retained window.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.recent
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

func shouldHandle(sub *subscription, event *Event) bool {
	if len(sub.types) > 0 {
		match := false
		for _, t := range sub.types {
			if t == event.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if sub.filter != nil && !sub.filter(event) {
		return false
	}
	return true
}

func safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("graph event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}
