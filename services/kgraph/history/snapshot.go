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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// SnapshotFormatVersion is bumped when the snapshot wire shape
// changes incompatibly.
const SnapshotFormatVersion = 1

// Snapshot is the transportable form of a checkpoint: the checkpoint
// record, its member entities at their latest recorded attributes, and
// optionally the relationships among members.
type Snapshot struct {
	FormatVersion int                   `json:"formatVersion"`
	ExportedAt    time.Time             `json:"exportedAt"`
	Checkpoint    *Checkpoint           `json:"checkpoint"`
	Entities      []*graph.Entity       `json:"entities"`
	Relationships []*graph.Relationship `json:"relationships,omitempty"`
}

// ImportReport summarizes one snapshot import.
type ImportReport struct {
	// CheckpointID is the id of the imported checkpoint record.
	CheckpointID string `json:"checkpointId"`

	// Linked counts entities attached to the live graph: snapshot
	// entities recreated plus outside references resolved in place.
	Linked int `json:"linked"`

	// Missing counts distinct referenced entities that were neither in
	// the snapshot nor found in the live graph. Their relationships
	// are skipped.
	Missing int `json:"missing"`

	// Relationships counts edges recreated among linked entities.
	Relationships int `json:"relationships"`

	// MissingIDs lists the missing entity ids, sorted.
	MissingIDs []string `json:"missingIds,omitempty"`
}

// GraphWriter is the slice of the knowledge graph service an import
// writes through. The history subsystem never mutates the graph on
// its own; every recreated entity and edge goes through this.
type GraphWriter interface {
	CreateOrUpdateEntity(ctx context.Context, e *graph.Entity) (*graph.Entity, error)
	CreateRelationship(ctx context.Context, r *graph.Relationship) (*graph.Relationship, error)
	GetEntity(ctx context.Context, id string) (*graph.Entity, error)
}

// ExportCheckpoint serializes a checkpoint into a JSON snapshot on w.
// Member entities are exported at their latest recorded version;
// members deleted since the checkpoint was cut are left out. With
// includeRelationships the snapshot also carries one relationship per
// edge observed between members.
func (s *Service) ExportCheckpoint(ctx context.Context, id string, includeRelationships bool, w io.Writer) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	if id == "" {
		return fmt.Errorf("%w: checkpoint id required", graph.ErrInvalidInput)
	}
	if w == nil {
		return fmt.Errorf("%w: writer required", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "history.export_checkpoint")
	defer span.End()
	start := time.Now()

	snap, err := s.buildSnapshot(ctx, id, includeRelationships)
	if err != nil {
		recordOp(ctx, "export", start, err)
		span.RecordError(err)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		err = fmt.Errorf("encode snapshot: %w", err)
		recordOp(ctx, "export", start, err)
		span.RecordError(err)
		return err
	}
	recordOp(ctx, "export", start, nil)
	s.log.Info("checkpoint exported",
		"checkpoint_id", id,
		"entities", len(snap.Entities),
		"relationships", len(snap.Relationships),
	)
	return nil
}

func (s *Service) buildSnapshot(ctx context.Context, id string, includeRelationships bool) (*Snapshot, error) {
	cp, err := s.store.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.store.CheckpointMembers(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		FormatVersion: SnapshotFormatVersion,
		ExportedAt:    s.now(),
		Checkpoint:    cp,
		Entities:      make([]*graph.Entity, 0, len(members)),
	}
	for _, entityID := range members {
		v, err := s.store.LatestVersion(ctx, entityID)
		if err != nil {
			return nil, fmt.Errorf("latest version %s: %w", entityID, err)
		}
		if v == nil || v.Op == VersionDeleted || v.Entity == nil {
			continue
		}
		snap.Entities = append(snap.Entities, v.Entity)
	}

	if includeRelationships {
		edges, err := s.memberEdges(ctx, cp, members)
		if err != nil {
			return nil, err
		}
		snap.Relationships = make([]*graph.Relationship, 0, len(edges))
		for _, e := range edges {
			rel := e.Relationship
			if rel == nil {
				// Observation predates payload capture; the id columns
				// are enough to rebuild the edge shape.
				rel = &graph.Relationship{
					ID:           e.RelationshipID,
					Type:         e.Type,
					FromEntityID: e.FromEntityID,
					ToEntityID:   e.ToEntityID,
				}
			}
			snap.Relationships = append(snap.Relationships, rel)
		}
	}
	return snap, nil
}

// ImportCheckpoint recreates a snapshot's entities and relationships
// through the graph writer. Unless useOriginalID asks for exact-id
// replay, every snapshot entity gets a fresh namespaced id so an
// import never collides with live entities. Relationships whose
// endpoint is neither in the snapshot nor in the live graph are
// skipped and reported as missing; graph write failures propagate.
func (s *Service) ImportCheckpoint(ctx context.Context, rd io.Reader, into GraphWriter, useOriginalID bool) (*ImportReport, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if rd == nil {
		return nil, fmt.Errorf("%w: reader required", graph.ErrInvalidInput)
	}
	if into == nil {
		return nil, fmt.Errorf("%w: graph writer required", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "history.import_checkpoint")
	defer span.End()
	start := time.Now()

	report, err := s.importSnapshot(ctx, rd, into, useOriginalID)
	recordOp(ctx, "import", start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.Info("checkpoint imported",
		"checkpoint_id", report.CheckpointID,
		"linked", report.Linked,
		"missing", report.Missing,
		"relationships", report.Relationships,
	)
	return report, nil
}

func (s *Service) importSnapshot(ctx context.Context, rd io.Reader, into GraphWriter, useOriginalID bool) (*ImportReport, error) {
	var snap Snapshot
	if err := json.NewDecoder(rd).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.FormatVersion != SnapshotFormatVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot format %d", graph.ErrInvalidInput, snap.FormatVersion)
	}
	if snap.Checkpoint == nil {
		return nil, fmt.Errorf("%w: snapshot missing checkpoint", graph.ErrInvalidInput)
	}

	// Remapped ids share one run prefix so a re-import of the same
	// snapshot is recognizable and separable from live ids.
	runID := uuid.NewString()[:8]
	idMap := make(map[string]string, len(snap.Entities))
	report := &ImportReport{CheckpointID: snap.Checkpoint.ID}

	for _, e := range snap.Entities {
		if e == nil || e.ID == "" {
			continue
		}
		mapped := e.Clone()
		if !useOriginalID {
			mapped.ID = importedID(runID, e.ID)
		}
		if _, err := into.CreateOrUpdateEntity(ctx, mapped); err != nil {
			return nil, fmt.Errorf("import entity %s: %w", e.ID, err)
		}
		idMap[e.ID] = mapped.ID
		report.Linked++
	}

	missing := make(map[string]struct{})
	resolve := func(id string) (string, bool, error) {
		if mapped, ok := idMap[id]; ok {
			return mapped, true, nil
		}
		// Reference outside the snapshot: link to the live entity when
		// one exists under the original id.
		if _, err := into.GetEntity(ctx, id); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("resolve %s: %w", id, err)
		}
		idMap[id] = id
		report.Linked++
		return id, true, nil
	}

	for _, rel := range snap.Relationships {
		if rel == nil || rel.FromEntityID == "" || rel.ToEntityID == "" {
			continue
		}
		from, ok, err := resolve(rel.FromEntityID)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing[rel.FromEntityID] = struct{}{}
			continue
		}
		to, ok, err := resolve(rel.ToEntityID)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing[rel.ToEntityID] = struct{}{}
			continue
		}

		mapped := rel.Clone()
		mapped.FromEntityID = from
		mapped.ToEntityID = to
		mapped.ID = graph.RelationshipID(from, mapped.Type, to)
		if _, err := into.CreateRelationship(ctx, mapped); err != nil {
			return nil, fmt.Errorf("import relationship %s: %w", rel.ID, err)
		}
		report.Relationships++
	}

	report.Missing = len(missing)
	report.MissingIDs = make([]string, 0, len(missing))
	for id := range missing {
		report.MissingIDs = append(report.MissingIDs, id)
	}
	sort.Strings(report.MissingIDs)
	if len(report.MissingIDs) == 0 {
		report.MissingIDs = nil
	}
	return report, nil
}

func importedID(runID, id string) string {
	return "import:" + runID + ":" + id
}
