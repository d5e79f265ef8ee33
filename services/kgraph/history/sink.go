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
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// SnapshotSink stores one exported snapshot somewhere durable and
// returns where it landed. Implementations: FileSink, GCSSink.
type SnapshotSink interface {
	Put(ctx context.Context, name string, write func(io.Writer) error) (string, error)
}

// ExportCheckpointTo exports a checkpoint through a sink under a
// timestamped name and returns the stored location.
func (s *Service) ExportCheckpointTo(ctx context.Context, id string, includeRelationships bool, sink SnapshotSink) (string, error) {
	if ctx == nil {
		return "", graph.ErrNilContext
	}
	if sink == nil {
		return "", fmt.Errorf("%w: snapshot sink required", graph.ErrInvalidInput)
	}
	name := snapshotName(id, s.now())
	location, err := sink.Put(ctx, name, func(w io.Writer) error {
		return s.ExportCheckpoint(ctx, id, includeRelationships, w)
	})
	if err != nil {
		return "", err
	}
	s.log.Info("snapshot stored", "checkpoint_id", id, "location", location)
	return location, nil
}

func snapshotName(id string, at time.Time) string {
	return fmt.Sprintf("checkpoint-%s-%s.json", id, at.UTC().Format("20060102T150405Z"))
}

// FileSink writes snapshots into a local directory, atomically via
// temp file and rename so readers never see a partial snapshot.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink writing into dir, creating it on first
// use.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: snapshot directory required", graph.ErrInvalidInput)
	}
	return &FileSink{dir: dir}, nil
}

var _ SnapshotSink = (*FileSink)(nil)

// Put writes one snapshot and returns its path.
func (s *FileSink) Put(ctx context.Context, name string, write func(io.Writer) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	tempFile, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := write(tempFile); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}

	full := filepath.Join(s.dir, name)
	if err := os.Rename(tempPath, full); err != nil {
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	success = true
	return full, nil
}

// GCSSink writes snapshots into a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink creates a sink over gs://bucket/prefix. With a
// credentials file path the client authenticates through it; empty
// path falls back to ambient credentials.
func NewGCSSink(ctx context.Context, bucket, prefix, credentialsPath string) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket required", graph.ErrInvalidInput)
	}

	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsPath)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

var _ SnapshotSink = (*GCSSink)(nil)

// Put streams one snapshot into the bucket and returns its gs:// URL.
// The writer context is canceled on failure so an aborted upload never
// finalizes a partial object.
func (s *GCSSink) Put(ctx context.Context, name string, write func(io.Writer) error) (string, error) {
	objectPath := name
	if s.prefix != "" {
		objectPath = path.Join(s.prefix, name)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	w.ContentType = "application/json"

	if err := write(w); err != nil {
		cancel()
		w.Close()
		return "", fmt.Errorf("write snapshot to GCS object %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectPath), nil
}

// Close releases the underlying storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
