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
	"sync"
	"time"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

const (
	// DefaultRecordQueueSize bounds the event queue between the bus
	// handler and the recording worker.
	DefaultRecordQueueSize = 1024

	// DefaultRecordTimeout bounds one store write.
	DefaultRecordTimeout = 15 * time.Second
)

// Recorder observes the graph event bus and appends the temporal
// layer: a version per entity mutation, an open observation per
// relationship create, closure on supersession and deletion.
//
// One worker drains the queue in publication order. Cascade deletes
// publish relationship events before the entity event, and keeping
// that order means edges are closed before the deleted-entity version
// lands. Recording failures are logged, never propagated; history is
// an observer and must not affect the mutation path.
type Recorder struct {
	store Store
	log   *logging.Logger

	queueSize     int
	recordTimeout time.Duration

	mu    sync.Mutex
	bus   *graph.Bus
	subID string
	queue chan graph.Event
	done  chan struct{}
	wg    sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the structured logger.
func WithRecorderLogger(log *logging.Logger) RecorderOption {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRecordQueueSize sets the event queue capacity.
func WithRecordQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithRecordTimeout bounds each store write.
func WithRecordTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.recordTimeout = d
		}
	}
}

// NewRecorder creates a recorder writing to the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         store,
		log:           logging.Default(),
		queueSize:     DefaultRecordQueueSize,
		recordTimeout: DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to every mutation event. The bus
// handler only enqueues; the worker does the store writes so bus
// dispatch never blocks on history I/O. Idempotent while attached.
func (r *Recorder) Attach(bus *graph.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus != nil {
		return
	}

	r.bus = bus
	r.queue = make(chan graph.Event, r.queueSize)
	r.done = make(chan struct{})

	r.subID = bus.Subscribe(func(event *graph.Event) {
		select {
		case r.queue <- *event:
		default:
			r.log.Warn("history queue full, dropping event",
				"event_type", string(event.Type),
			)
			recordDropped(context.Background())
		}
	},
		graph.EventEntityCreated, graph.EventEntityUpdated, graph.EventEntityDeleted,
		graph.EventRelationshipCreated, graph.EventRelationshipUpdated, graph.EventRelationshipDeleted,
	)

	r.wg.Add(1)
	go r.run()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case event := <-r.queue:
			r.record(event)
		}
	}
}

func (r *Recorder) record(event graph.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
	defer cancel()
	start := time.Now()

	var err error
	switch event.Type {
	case graph.EventEntityCreated:
		err = r.appendVersion(ctx, event, VersionCreated)
	case graph.EventEntityUpdated:
		err = r.appendVersion(ctx, event, VersionUpdated)
	case graph.EventEntityDeleted:
		err = r.recordEntityDeleted(ctx, event)
	case graph.EventRelationshipCreated, graph.EventRelationshipUpdated:
		err = r.supersedeEdge(ctx, event)
	case graph.EventRelationshipDeleted:
		err = r.closeEdge(ctx, event)
	}
	recordEvent(ctx, string(event.Type), start, err)
	if err != nil {
		r.log.Warn("history recording failed",
			"event_type", string(event.Type),
			"error", err,
		)
	}
}

func (r *Recorder) appendVersion(ctx context.Context, event graph.Event, op VersionOp) error {
	if event.Entity == nil {
		return nil
	}
	return r.store.AppendVersion(ctx, &Version{
		EntityID:   event.Entity.ID,
		Op:         op,
		Entity:     event.Entity,
		RecordedAt: event.Timestamp,
	})
}

// recordEntityDeleted appends the tombstone version, then sweeps any
// observation still open on the entity. Cascade deletes normally close
// those through their own relationship events; the sweep covers edges
// whose events were dropped.
func (r *Recorder) recordEntityDeleted(ctx context.Context, event graph.Event) error {
	if event.Entity == nil {
		return nil
	}
	if err := r.appendVersion(ctx, event, VersionDeleted); err != nil {
		return err
	}
	_, err := r.store.CloseEdgesTouching(ctx, event.Entity.ID, event.Timestamp)
	return err
}

// supersedeEdge closes any open observation of the relationship and
// opens a fresh one, so updates become interval boundaries instead of
// in-place rewrites.
func (r *Recorder) supersedeEdge(ctx context.Context, event graph.Event) error {
	rel := event.Relationship
	if rel == nil {
		return nil
	}
	if _, err := r.store.CloseEdge(ctx, rel.ID, event.Timestamp); err != nil {
		return err
	}
	return r.store.OpenEdge(ctx, &TemporalEdge{
		RelationshipID: rel.ID,
		Type:           rel.Type,
		FromEntityID:   rel.FromEntityID,
		ToEntityID:     rel.ToEntityID,
		Relationship:   rel,
		ValidFrom:      event.Timestamp,
	})
}

func (r *Recorder) closeEdge(ctx context.Context, event graph.Event) error {
	if event.Relationship == nil {
		return nil
	}
	_, err := r.store.CloseEdge(ctx, event.Relationship.ID, event.Timestamp)
	return err
}

// Close detaches from the bus and drains the queue before stopping,
// so versions for writes that already succeeded are not lost on a
// clean shutdown.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus == nil {
		return nil
	}
	r.bus.Unsubscribe(r.subID)
	close(r.done)
	r.wg.Wait()

	for {
		select {
		case event := <-r.queue:
			r.record(event)
		default:
			r.bus = nil
			return nil
		}
	}
}
