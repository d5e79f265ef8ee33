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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// querier is the common interface satisfied by both *pgxpool.Pool and
// pgx.Tx, so statement code reads the same inside and outside a
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// versionCols is the standard SELECT column list for scanVersions.
const versionCols = `id, entity_id, op, entity, recorded_at`

// edgeCols is the standard SELECT column list for scanEdges.
const edgeCols = `id, relationship_id, rel_type, from_entity_id, to_entity_id,
	payload, valid_from, valid_to`

// checkpointCols is the standard SELECT column list for
// scanCheckpoints.
const checkpointCols = `id, reason, seeds, hops, window_from, window_to, created`

// insertMemberSQL tolerates replays: membership is a set.
const insertMemberSQL = `INSERT INTO kgraph_checkpoint_members (checkpoint_id, entity_id)
	VALUES ($1, $2)
	ON CONFLICT DO NOTHING`

// prunableVersionsWhere keeps the newest version per entity alive
// regardless of age, so point-in-time export survives long-stable
// entities.
const prunableVersionsWhere = `v.recorded_at < $1
	AND EXISTS (
	  SELECT 1 FROM kgraph_versions newer
	  WHERE newer.entity_id = v.entity_id AND newer.id > v.id
	)`

// PgStore is the production Store implementation backed by
// PostgreSQL.
//
// PgStore is safe for concurrent use by multiple goroutines.
type PgStore struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewPgStore creates a history store over an existing pool. Run
// Migrate before first use.
func NewPgStore(pool *pgxpool.Pool, log *logging.Logger) (*PgStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if log == nil {
		log = logging.Default()
	}
	return &PgStore{pool: pool, log: log}, nil
}

var _ Store = (*PgStore)(nil)

// NewPool opens a pgx pool for the history store with connection
// management defaults and verifies connectivity before returning.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// withTx runs fn inside a transaction, committing when fn returns nil
// and rolling back otherwise.
func (s *PgStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AppendVersion appends a version row and reads back the assigned id.
func (s *PgStore) AppendVersion(ctx context.Context, v *Version) error {
	entityJSON, err := marshalNullable(v.Entity)
	if err != nil {
		return fmt.Errorf("encoding entity snapshot: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO kgraph_versions (entity_id, op, entity, recorded_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		v.EntityID, string(v.Op), entityJSON, v.RecordedAt,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}
	return nil
}

// LatestVersion returns the newest version for an entity, nil when
// none is recorded.
func (s *PgStore) LatestVersion(ctx context.Context, entityID string) (*Version, error) {
	versions, err := s.Versions(ctx, entityID, 1)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return versions[0], nil
}

// Versions returns an entity's versions newest first.
func (s *PgStore) Versions(ctx context.Context, entityID string, limit int) ([]*Version, error) {
	sql := `SELECT ` + versionCols + `
		 FROM kgraph_versions
		 WHERE entity_id = $1
		 ORDER BY id DESC`
	args := []any{entityID}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	return scanVersions(rows)
}

// OpenEdge inserts an open observation and reads back the assigned id.
func (s *PgStore) OpenEdge(ctx context.Context, e *TemporalEdge) error {
	payload, err := marshalNullable(e.Relationship)
	if err != nil {
		return fmt.Errorf("encoding edge payload: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO kgraph_temporal_edges (relationship_id, rel_type, from_entity_id, to_entity_id, payload, valid_from)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		e.RelationshipID, string(e.Type), e.FromEntityID, e.ToEntityID, payload, e.ValidFrom,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting temporal edge: %w", err)
	}
	return nil
}

// CloseEdge closes every open observation of a relationship.
func (s *PgStore) CloseEdge(ctx context.Context, relationshipID string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE kgraph_temporal_edges
		 SET valid_to = $2
		 WHERE relationship_id = $1 AND valid_to IS NULL`,
		relationshipID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("closing edge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CloseEdgesTouching closes every open observation with the entity as
// either endpoint.
func (s *PgStore) CloseEdgesTouching(ctx context.Context, entityID string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE kgraph_temporal_edges
		 SET valid_to = $2
		 WHERE valid_to IS NULL
		   AND (from_entity_id = $1 OR to_entity_id = $1)`,
		entityID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("closing edges touching %s: %w", entityID, err)
	}
	return int(tag.RowsAffected()), nil
}

// EdgesTouching returns observations touching any of the entities
// whose validity intersects the window, oldest observation first.
func (s *PgStore) EdgesTouching(ctx context.Context, entityIDs []string, window *Window) ([]*TemporalEdge, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	sql := `SELECT ` + edgeCols + `
		 FROM kgraph_temporal_edges
		 WHERE (from_entity_id = ANY($1) OR to_entity_id = ANY($1))`
	args := []any{entityIDs}
	if window != nil {
		if !window.To.IsZero() {
			args = append(args, window.To)
			sql += fmt.Sprintf(` AND valid_from <= $%d`, len(args))
		}
		if !window.From.IsZero() {
			args = append(args, window.From)
			sql += fmt.Sprintf(` AND (valid_to IS NULL OR valid_to >= $%d)`, len(args))
		}
	}
	sql += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying temporal edges: %w", err)
	}
	defer rows.Close()

	return scanEdges(rows)
}

// PutCheckpoint inserts the checkpoint row and its membership in one
// transaction; the members go through a single batched round trip.
func (s *PgStore) PutCheckpoint(ctx context.Context, cp *Checkpoint, memberIDs []string) error {
	seedsJSON, err := json.Marshal(cp.SeedEntities)
	if err != nil {
		return fmt.Errorf("encoding seeds: %w", err)
	}
	var windowFrom, windowTo *time.Time
	if cp.Window != nil {
		windowFrom = nullableTime(cp.Window.From)
		windowTo = nullableTime(cp.Window.To)
	}

	return s.withTx(ctx, func(q querier) error {
		_, err := q.Exec(ctx,
			`INSERT INTO kgraph_checkpoints (id, reason, seeds, hops, window_from, window_to, created)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			cp.ID, string(cp.Reason), seedsJSON, cp.Hops, windowFrom, windowTo, cp.Created,
		)
		if err != nil {
			return fmt.Errorf("inserting checkpoint: %w", err)
		}

		batch := &pgx.Batch{}
		for _, entityID := range memberIDs {
			batch.Queue(insertMemberSQL, cp.ID, entityID)
		}
		results := q.SendBatch(ctx, batch)
		for range memberIDs {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("inserting member: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("closing member batch: %w", err)
		}
		return nil
	})
}

// GetCheckpoint returns a checkpoint or ErrCheckpointNotFound.
func (s *PgStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointCols+` FROM kgraph_checkpoints WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}
	defer rows.Close()

	checkpoints, err := scanCheckpoints(rows)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, ErrCheckpointNotFound
	}
	return checkpoints[0], nil
}

// ListCheckpoints returns checkpoints newest first.
func (s *PgStore) ListCheckpoints(ctx context.Context, limit int) ([]*Checkpoint, error) {
	sql := `SELECT ` + checkpointCols + `
		 FROM kgraph_checkpoints
		 ORDER BY created DESC, id ASC`
	var args []any
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

// CheckpointMembers returns the member entity ids of a checkpoint.
func (s *PgStore) CheckpointMembers(ctx context.Context, id string) ([]string, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM kgraph_checkpoints WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking checkpoint: %w", err)
	}
	if !exists {
		return nil, ErrCheckpointNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT entity_id FROM kgraph_checkpoint_members
		 WHERE checkpoint_id = $1
		 ORDER BY entity_id ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, entityID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}
	return members, nil
}

// DeleteCheckpoint removes the checkpoint row; membership rows go
// with it through the FK cascade.
func (s *PgStore) DeleteCheckpoint(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kgraph_checkpoints WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

// CountPrunable reports what Prune would remove at the cutoff.
func (s *PgStore) CountPrunable(ctx context.Context, cutoff time.Time) (PruneCounts, error) {
	var counts PruneCounts

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kgraph_versions v WHERE `+prunableVersionsWhere,
		cutoff,
	).Scan(&counts.Versions)
	if err != nil {
		return PruneCounts{}, fmt.Errorf("counting prunable versions: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kgraph_temporal_edges
		 WHERE valid_to IS NOT NULL AND valid_to < $1`,
		cutoff,
	).Scan(&counts.ClosedEdges)
	if err != nil {
		return PruneCounts{}, fmt.Errorf("counting prunable edges: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM kgraph_checkpoints WHERE created < $1`,
		cutoff,
	).Scan(&counts.Checkpoints)
	if err != nil {
		return PruneCounts{}, fmt.Errorf("counting prunable checkpoints: %w", err)
	}
	return counts, nil
}

// Prune deletes history older than the cutoff in one transaction.
func (s *PgStore) Prune(ctx context.Context, cutoff time.Time) (PruneCounts, error) {
	var counts PruneCounts
	err := s.withTx(ctx, func(q querier) error {
		tag, err := q.Exec(ctx,
			`DELETE FROM kgraph_versions v WHERE `+prunableVersionsWhere,
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("pruning versions: %w", err)
		}
		counts.Versions = int(tag.RowsAffected())

		tag, err = q.Exec(ctx,
			`DELETE FROM kgraph_temporal_edges
			 WHERE valid_to IS NOT NULL AND valid_to < $1`,
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("pruning closed edges: %w", err)
		}
		counts.ClosedEdges = int(tag.RowsAffected())

		tag, err = q.Exec(ctx,
			`DELETE FROM kgraph_checkpoints WHERE created < $1`,
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("pruning checkpoints: %w", err)
		}
		counts.Checkpoints = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return PruneCounts{}, err
	}
	return counts, nil
}

// scanVersions reads Version rows (standard column set).
func scanVersions(rows pgx.Rows) ([]*Version, error) {
	var versions []*Version
	for rows.Next() {
		v := &Version{}
		var (
			op         string
			entityJSON []byte
		)
		if err := rows.Scan(&v.ID, &v.EntityID, &op, &entityJSON, &v.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		v.Op = VersionOp(op)
		if len(entityJSON) > 0 {
			v.Entity = &graph.Entity{}
			if err := json.Unmarshal(entityJSON, v.Entity); err != nil {
				return nil, fmt.Errorf("decoding entity snapshot: %w", err)
			}
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating versions: %w", err)
	}
	return versions, nil
}

// scanEdges reads TemporalEdge rows (standard column set).
func scanEdges(rows pgx.Rows) ([]*TemporalEdge, error) {
	var edges []*TemporalEdge
	for rows.Next() {
		e := &TemporalEdge{}
		var (
			relType string
			payload []byte
		)
		if err := rows.Scan(
			&e.ID, &e.RelationshipID, &relType, &e.FromEntityID, &e.ToEntityID,
			&payload, &e.ValidFrom, &e.ValidTo,
		); err != nil {
			return nil, fmt.Errorf("scanning temporal edge: %w", err)
		}
		e.Type = graph.RelationType(relType)
		if len(payload) > 0 {
			e.Relationship = &graph.Relationship{}
			if err := json.Unmarshal(payload, e.Relationship); err != nil {
				return nil, fmt.Errorf("decoding edge payload: %w", err)
			}
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating temporal edges: %w", err)
	}
	return edges, nil
}

// scanCheckpoints reads Checkpoint rows (standard column set).
func scanCheckpoints(rows pgx.Rows) ([]*Checkpoint, error) {
	var checkpoints []*Checkpoint
	for rows.Next() {
		cp := &Checkpoint{}
		var (
			reason     string
			seedsJSON  []byte
			windowFrom *time.Time
			windowTo   *time.Time
		)
		if err := rows.Scan(&cp.ID, &reason, &seedsJSON, &cp.Hops, &windowFrom, &windowTo, &cp.Created); err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		cp.Reason = Reason(reason)
		if len(seedsJSON) > 0 {
			if err := json.Unmarshal(seedsJSON, &cp.SeedEntities); err != nil {
				return nil, fmt.Errorf("decoding seeds: %w", err)
			}
		}
		if windowFrom != nil || windowTo != nil {
			cp.Window = &Window{}
			if windowFrom != nil {
				cp.Window.From = *windowFrom
			}
			if windowTo != nil {
				cp.Window.To = *windowTo
			}
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

// marshalNullable maps a nil pointer to a SQL NULL instead of the
// JSON literal "null".
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
