// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Cartograph/services/kgraph/extract"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
	"github.com/AleutianAI/Cartograph/services/kgraph/telemetry"
)

// DiffResult reports what a diff ingest produced.
type DiffResult struct {
	// ChangeID is the Change entity id, derived from the diff digest.
	// The same diff always yields the same id.
	ChangeID string

	// FilesAffected is the number of files the diff touches.
	FilesAffected int

	// LinesAdded and LinesRemoved are totals across all hunks.
	LinesAdded   int
	LinesRemoved int

	// Linked are diff paths that resolved to known file entities and
	// received a MODIFIES edge.
	Linked []string

	// Unknown are diff paths with no matching file entity. They are
	// tolerated, not errors: diffs routinely touch files that were
	// never parsed (docs, configs, assets).
	Unknown []string
}

// IngestDiff parses a unified diff and records it as a Change entity
// with one MODIFIES edge per touched file that resolves to a known File
// entity.
//
// The entity id is derived from the diff content, so re-ingesting the
// same diff updates in place. name labels the change ("fix login
// retries"); empty names fall back to the id.
func (p *Pipeline) IngestDiff(ctx context.Context, name, unifiedDiff string) (*DiffResult, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if strings.TrimSpace(unifiedDiff) == "" {
		return nil, fmt.Errorf("%w: empty diff", graph.ErrInvalidInput)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "ingest_diff")
	defer span.End()
	log := telemetry.LoggerWithTrace(ctx, p.log.Slog())

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(unifiedDiff)).ReadAllFiles()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("parse unified diff: %w", err)
	}
	if len(fileDiffs) == 0 {
		return nil, fmt.Errorf("%w: diff contains no file changes", graph.ErrInvalidInput)
	}

	sum := sha256.Sum256([]byte(unifiedDiff))
	digest := hex.EncodeToString(sum[:])
	res := &DiffResult{
		ChangeID:      "change:" + digest[:16],
		FilesAffected: len(fileDiffs),
	}
	span.SetAttributes(attribute.String("change.id", res.ChangeID))
	if name == "" {
		name = res.ChangeID
	}

	type touched struct {
		path    string
		added   int
		removed int
	}
	var files []touched
	for _, fd := range fileDiffs {
		added, removed := hunkLineStats(fd)
		res.LinesAdded += added
		res.LinesRemoved += removed
		if path := diffFilePath(fd); path != "" {
			files = append(files, touched{path: path, added: added, removed: removed})
		}
	}

	change := &graph.Entity{
		ID:   res.ChangeID,
		Type: graph.EntityChange,
		Name: name,
		Hash: digest,
		Metadata: map[string]any{
			"filesAffected": res.FilesAffected,
			"linesAdded":    res.LinesAdded,
			"linesRemoved":  res.LinesRemoved,
		},
	}
	if _, err := p.svc.CreateOrUpdateEntity(ctx, change); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("upsert change %s: %w", res.ChangeID, err)
	}

	for _, f := range files {
		fileID := extract.FileEntityID(f.path)
		if _, err := p.svc.GetEntity(ctx, fileID); err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				diffFilesTotal.WithLabelValues("unknown").Inc()
				res.Unknown = append(res.Unknown, f.path)
				continue
			}
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("load file %s: %w", f.path, err)
		}

		rel := &graph.Relationship{
			Type:         graph.RelationModifies,
			FromEntityID: res.ChangeID,
			ToEntityID:   fileID,
			Metadata: graph.Metadata{
				Kind:       "change",
				Scope:      graph.ScopeLocal,
				Resolution: graph.ResolutionDirect,
				Extra: map[string]any{
					"linesAdded":   f.added,
					"linesRemoved": f.removed,
				},
			},
		}
		if _, err := p.svc.CreateRelationship(ctx, rel); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("modifies edge %s -> %s: %w", res.ChangeID, fileID, err)
		}
		diffFilesTotal.WithLabelValues("linked").Inc()
		res.Linked = append(res.Linked, f.path)
	}

	telemetry.SetSpanOK(span)
	log.Info("diff ingested",
		"change", res.ChangeID,
		"linked", len(res.Linked),
		"unknown", len(res.Unknown))
	return res, nil
}

// diffFilePath extracts the project-relative path a file diff touches,
// preferring the new name and falling back to the original for
// deletions. Git's a/ and b/ prefixes are stripped.
func diffFilePath(fd *diff.FileDiff) string {
	filePath := fd.NewName
	if filePath == "" || filePath == "/dev/null" {
		filePath = fd.OrigName
	}
	if filePath == "" || filePath == "/dev/null" {
		return ""
	}
	filePath = strings.TrimPrefix(filePath, "a/")
	filePath = strings.TrimPrefix(filePath, "b/")
	return filePath
}

// hunkLineStats counts added and removed lines across a file diff's
// hunks, excluding the +++/--- header markers.
func hunkLineStats(fd *diff.FileDiff) (added, removed int) {
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
				added++
			} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
				removed++
			}
		}
	}
	return added, removed
}
