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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Row is one result row from a graph query, keyed by RETURN alias.
type Row map[string]any

// CypherExecutor runs compiled query text against a cypher-speaking
// graph backend. The backend has no bound-parameter support in this
// path; CypherStore substitutes every value as a sanitized literal
// before calling Execute.
type CypherExecutor interface {
	Execute(ctx context.Context, query string) ([]Row, error)
}

// CypherStore implements Store by compiling each operation to query
// text. Identifiers (relationship type names, property names, aliases)
// are validated against the identifier grammar before interpolation;
// values pass through Substitute as escaped literals.
//
// Entities are nodes labeled Entity keyed by the id property.
// Relationship endpoints are merged as bare nodes when absent so edges
// to unresolved placeholder targets (e.g. "external:lodash") can be
// stored; bare nodes carry no type property and are filtered out of
// entity reads.
type CypherStore struct {
	exec CypherExecutor
}

// NewCypherStore returns a Store backed by the given executor.
func NewCypherStore(exec CypherExecutor) *CypherStore {
	return &CypherStore{exec: exec}
}

var _ Store = (*CypherStore)(nil)

// entityReturn is the RETURN fragment shared by entity reads.
const entityReturn = "e.id AS id, e.type AS type, e.name AS name, " +
	"e.path AS path, e.hash AS hash, e.language AS language, " +
	"e.created AS created, e.lastModified AS lastModified, " +
	"e.metadata AS metadata"

// relReturn is the RETURN fragment shared by relationship reads. The
// endpoints are stored as edge properties on write so reads never need
// startNode()/endNode().
const relReturn = "r.id AS id, type(r) AS type, r.fromId AS fromId, " +
	"r.toId AS toId, r.created AS created, r.lastModified AS lastModified, " +
	"r.version AS version, r.metadata AS metadata"

func (s *CypherStore) run(ctx context.Context, pattern string, params map[string]any) ([]Row, error) {
	query, err := Substitute(pattern, params)
	if err != nil {
		return nil, err
	}
	return s.exec.Execute(ctx, query)
}

// UpsertEntity inserts or replaces an entity by id.
func (s *CypherStore) UpsertEntity(ctx context.Context, e *Entity) error {
	meta := ""
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for entity %s: %w", e.ID, err)
		}
		meta = string(data)
	}

	pattern := "MERGE (e:Entity {id: $id}) " +
		"SET e.type = $type, e.name = $name, e.path = $path, " +
		"e.hash = $hash, e.language = $language, e.created = $created, " +
		"e.lastModified = $lastModified, e.metadata = $metadata, " +
		"e.tags = $tags"
	params := map[string]any{
		"id":           e.ID,
		"type":         e.Type,
		"name":         e.Name,
		"path":         e.Path,
		"hash":         e.Hash,
		"language":     e.Language,
		"created":      e.Created,
		"lastModified": e.LastModified,
		"metadata":     meta,
		"tags":         entityTags(e),
	}
	if _, err := s.run(ctx, pattern, params); err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	return nil
}

// entityTags extracts the metadata "tags" list as a node property so
// tag filters can be expressed in query text.
func entityTags(e *Entity) []string {
	raw, ok := e.Metadata["tags"]
	if !ok {
		return []string{}
	}
	switch tags := raw.(type) {
	case []string:
		return tags
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if st, ok := t.(string); ok {
				out = append(out, st)
			}
		}
		return out
	default:
		return []string{}
	}
}

// GetEntity returns the entity or ErrNotFound.
func (s *CypherStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	pattern := "MATCH (e:Entity {id: $id}) WHERE e.type IS NOT NULL " +
		"RETURN " + entityReturn + " LIMIT 1"
	rows, err := s.run(ctx, pattern, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return entityFromRow(rows[0]), nil
}

// EntityExists reports whether the id is present.
func (s *CypherStore) EntityExists(ctx context.Context, id string) (bool, error) {
	pattern := "MATCH (e:Entity {id: $id}) WHERE e.type IS NOT NULL " +
		"RETURN e.id AS id LIMIT 1"
	rows, err := s.run(ctx, pattern, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("check entity %s: %w", id, err)
	}
	return len(rows) > 0, nil
}

// DeleteEntity removes the entity and detaches any remaining incident
// edges.
func (s *CypherStore) DeleteEntity(ctx context.Context, id string) error {
	pattern := "MATCH (e:Entity {id: $id}) WHERE e.type IS NOT NULL " +
		"WITH e, e.id AS deleted DETACH DELETE e RETURN deleted"
	rows, err := s.run(ctx, pattern, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// PutRelationship inserts the edge, or rewrites an existing edge with
// the same id, bumping Version and preserving Created.
func (s *CypherStore) PutRelationship(ctx context.Context, r *Relationship) error {
	if !ValidIdentifier(string(r.Type)) {
		return fmt.Errorf("%w: relationship type %q", ErrInvalidIdentifier, r.Type)
	}
	version := r.Version
	if version == 0 {
		version = 1
	}

	pattern := "MERGE (a {id: $from}) MERGE (b {id: $to}) " +
		fmt.Sprintf("MERGE (a)-[r:%s {id: $id}]->(b) ", r.Type) +
		"ON CREATE SET r.created = $created, r.version = $version " +
		"ON MATCH SET r.version = r.version + 1 " +
		"SET r.fromId = $from, r.toId = $to, " +
		"r.lastModified = $lastModified, r.metadata = $metadata"
	params := map[string]any{
		"id":           r.ID,
		"from":         r.FromEntityID,
		"to":           r.ToEntityID,
		"created":      r.Created,
		"lastModified": r.LastModified,
		"version":      version,
		"metadata":     r.Metadata.Encode(),
	}
	if _, err := s.run(ctx, pattern, params); err != nil {
		return fmt.Errorf("put relationship %s: %w", r.ID, err)
	}
	return nil
}

// GetRelationship returns the edge or ErrNotFound.
func (s *CypherStore) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	pattern := "MATCH ()-[r {id: $id}]->() RETURN " + relReturn + " LIMIT 1"
	rows, err := s.run(ctx, pattern, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get relationship %s: %w", id, err)
	}
	rels := relationshipsFromRows(rows)
	if len(rels) == 0 {
		return nil, ErrNotFound
	}
	return rels[0], nil
}

// DeleteRelationship removes the edge by id.
func (s *CypherStore) DeleteRelationship(ctx context.Context, id string) error {
	pattern := "MATCH ()-[r {id: $id}]->() " +
		"WITH r, r.id AS deleted DELETE r RETURN deleted"
	rows, err := s.run(ctx, pattern, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", id, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// Relationships returns edges matching the query, newest first.
func (s *CypherStore) Relationships(ctx context.Context, q RelationshipQuery) ([]*Relationship, error) {
	typeFrag, err := TypeAlternation(q.Types)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	params := map[string]any{"limit": limit}
	var conds []string
	if q.FromEntityID != "" {
		conds = append(conds, "a.id = $from")
		params["from"] = q.FromEntityID
	}
	if q.ToEntityID != "" {
		conds = append(conds, "b.id = $to")
		params["to"] = q.ToEntityID
	}
	if !q.Since.IsZero() {
		conds = append(conds, "r.lastModified >= $since")
		params["since"] = q.Since
	}
	if !q.Until.IsZero() {
		conds = append(conds, "r.lastModified <= $until")
		params["until"] = q.Until
	}

	pattern := fmt.Sprintf("MATCH (a)-[r%s]->(b)", typeFrag)
	if len(conds) > 0 {
		pattern += " WHERE " + strings.Join(conds, " AND ")
	}
	pattern += " RETURN " + relReturn +
		" ORDER BY r.lastModified DESC, r.id LIMIT $limit"

	rows, err := s.run(ctx, pattern, params)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	return relationshipsFromRows(rows), nil
}

// IncidentRelationships returns all edges touching the entity in either
// direction.
func (s *CypherStore) IncidentRelationships(ctx context.Context, entityID string) ([]*Relationship, error) {
	pattern := "MATCH ({id: $id})-[r]-() RETURN DISTINCT " + relReturn +
		" ORDER BY r.lastModified DESC, r.id"
	rows, err := s.run(ctx, pattern, map[string]any{"id": entityID})
	if err != nil {
		return nil, fmt.Errorf("incident relationships for %s: %w", entityID, err)
	}
	return relationshipsFromRows(rows), nil
}

// SearchEntities returns entities matching the structural filters.
func (s *CypherStore) SearchEntities(ctx context.Context, q StructuralQuery) ([]*Entity, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	params := map[string]any{"limit": limit}
	conds := []string{"e.type IS NOT NULL"}
	if len(q.EntityTypes) > 0 {
		conds = append(conds, "e.type IN $entityTypes")
		params["entityTypes"] = q.EntityTypes
	}
	if q.PathContains != "" {
		conds = append(conds, "e.path CONTAINS $pathContains")
		params["pathContains"] = q.PathContains
	}
	if q.Language != "" {
		conds = append(conds, "e.language = $language")
		params["language"] = q.Language
	}
	if !q.ModifiedSince.IsZero() {
		conds = append(conds, "e.lastModified >= $since")
		params["since"] = q.ModifiedSince
	}
	if !q.ModifiedUntil.IsZero() {
		conds = append(conds, "e.lastModified <= $until")
		params["until"] = q.ModifiedUntil
	}
	if len(q.Tags) > 0 {
		conds = append(conds, "ALL(tag IN $tags WHERE tag IN e.tags)")
		params["tags"] = q.Tags
	}

	pattern := "MATCH (e:Entity) WHERE " + strings.Join(conds, " AND ") +
		" RETURN " + entityReturn + " ORDER BY e.id LIMIT $limit"
	rows, err := s.run(ctx, pattern, params)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	return entitiesFromRows(rows), nil
}

// FindPaths returns bounded variable-length paths, compiled to a
// *1..N pattern with a validated type alternation.
//
// Edges on returned paths carry id, type, endpoints, and metadata; the
// remaining fields require a follow-up Relationships call.
func (s *CypherStore) FindPaths(ctx context.Context, q PathQuery) ([]Path, error) {
	typeFrag, err := TypeAlternation(q.Types)
	if err != nil {
		return nil, err
	}
	depth := clampDepth(q.MaxDepth, DefaultMaxPathDepth)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	params := map[string]any{"start": q.StartID, "limit": limit}
	conds := []string{"ALL(n IN nodes(p) WHERE n.type IS NOT NULL)"}
	if q.EndID != "" {
		conds = append(conds, "stop.id = $stop")
		params["stop"] = q.EndID
	}

	pattern := fmt.Sprintf(
		"MATCH p = (start:Entity {id: $start})-[%s*1..%d]->(stop:Entity)WHERE %s "+
			"RETURN [n IN nodes(p) | n.id] AS entityIds, "+
			"[r IN relationships(p) | r.id] AS edgeIds, "+
			"[r IN relationships(p) | type(r)] AS edgeTypes, "+
			"[r IN relationships(p) | r.metadata] AS edgeMetas "+
			"LIMIT $limit",
		typeFrag, depth, strings.Join(conds, " AND "))

	rows, err := s.run(ctx, pattern, params)
	if err != nil {
		return nil, fmt.Errorf("find paths from %s: %w", q.StartID, err)
	}

	paths := make([]Path, 0, len(rows))
	for _, row := range rows {
		entityIDs := getStringList(row, "entityIds")
		edgeIDs := getStringList(row, "edgeIds")
		edgeTypes := getStringList(row, "edgeTypes")
		edgeMetas := getStringList(row, "edgeMetas")
		if len(entityIDs) == 0 || len(edgeIDs) != len(entityIDs)-1 {
			continue // skip malformed rows
		}
		p := Path{EntityIDs: entityIDs, Edges: make([]*Relationship, len(edgeIDs))}
		for i, edgeID := range edgeIDs {
			edge := &Relationship{
				ID:           edgeID,
				FromEntityID: entityIDs[i],
				ToEntityID:   entityIDs[i+1],
			}
			if i < len(edgeTypes) {
				edge.Type = RelationType(edgeTypes[i])
			}
			if i < len(edgeMetas) {
				edge.Metadata = DecodeMetadata(edgeMetas[i])
			}
			p.Edges[i] = edge
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Traverse returns entities reachable within the query bounds,
// excluding the start entity. Row order is backend-defined; common
// backends expand variable-length patterns breadth-first.
func (s *CypherStore) Traverse(ctx context.Context, q TraverseQuery) ([]*Entity, error) {
	typeFrag, err := TypeAlternation(q.Types)
	if err != nil {
		return nil, err
	}
	depth := q.MaxDepth
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxPathDepth {
		depth = MaxPathDepth
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var arrow string
	switch q.Direction {
	case DirectionIncoming:
		arrow = fmt.Sprintf("<-[%s*1..%d]-", typeFrag, depth)
	case DirectionBoth:
		arrow = fmt.Sprintf("-[%s*1..%d]-", typeFrag, depth)
	default:
		arrow = fmt.Sprintf("-[%s*1..%d]->", typeFrag, depth)
	}

	pattern := fmt.Sprintf(
		"MATCH (start:Entity {id: $start})%s(e:Entity) "+
			"WHERE e.id <> $start AND e.type IS NOT NULL "+
			"RETURN DISTINCT %s LIMIT $limit",
		arrow, entityReturn)
	rows, err := s.run(ctx, pattern, map[string]any{"start": q.StartID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("traverse from %s: %w", q.StartID, err)
	}
	return entitiesFromRows(rows), nil
}

// ListEntities returns one page plus the total count.
func (s *CypherStore) ListEntities(ctx context.Context, opts ListOptions) (*EntityPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where := "WHERE e.type IS NOT NULL"
	countParams := map[string]any{}
	pageParams := map[string]any{"offset": offset, "limit": limit}
	if len(opts.EntityTypes) > 0 {
		where += " AND e.type IN $entityTypes"
		countParams["entityTypes"] = opts.EntityTypes
		pageParams["entityTypes"] = opts.EntityTypes
	}

	countRows, err := s.run(ctx, "MATCH (e:Entity) "+where+" RETURN count(e) AS total", countParams)
	if err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total = getInt(countRows[0], "total")
	}

	rows, err := s.run(ctx,
		"MATCH (e:Entity) "+where+" RETURN "+entityReturn+
			" ORDER BY e.id SKIP $offset LIMIT $limit",
		pageParams)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return &EntityPage{Entities: entitiesFromRows(rows), TotalCount: total}, nil
}

// ListRelationships returns one page plus the total count.
func (s *CypherStore) ListRelationships(ctx context.Context, opts ListOptions) (*RelationshipPage, error) {
	typeFrag, err := TypeAlternation(opts.Types)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	match := fmt.Sprintf("MATCH ()-[r%s]->()", typeFrag)
	countRows, err := s.run(ctx, match+" RETURN count(r) AS total", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("count relationships: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total = getInt(countRows[0], "total")
	}

	rows, err := s.run(ctx,
		match+" RETURN "+relReturn+" ORDER BY r.id SKIP $offset LIMIT $limit",
		map[string]any{"offset": offset, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return &RelationshipPage{Relationships: relationshipsFromRows(rows), TotalCount: total}, nil
}

// --- row mapping ---

func entitiesFromRows(rows []Row) []*Entity {
	out := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		if e := entityFromRow(row); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func entityFromRow(row Row) *Entity {
	id := getString(row, "id")
	if id == "" {
		return nil // skip malformed rows
	}
	e := &Entity{
		ID:           id,
		Type:         EntityType(getString(row, "type")),
		Name:         getString(row, "name"),
		Path:         getString(row, "path"),
		Hash:         getString(row, "hash"),
		Language:     getString(row, "language"),
		Created:      getTime(row, "created"),
		LastModified: getTime(row, "lastModified"),
	}
	if raw := getString(row, "metadata"); raw != "" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			meta = map[string]any{rawMetadataKey: raw}
		}
		e.Metadata = meta
	}
	return e
}

func relationshipsFromRows(rows []Row) []*Relationship {
	out := make([]*Relationship, 0, len(rows))
	for _, row := range rows {
		id := getString(row, "id")
		if id == "" {
			continue // skip malformed rows
		}
		out = append(out, &Relationship{
			ID:           id,
			Type:         RelationType(getString(row, "type")),
			FromEntityID: getString(row, "fromId"),
			ToEntityID:   getString(row, "toId"),
			Created:      getTime(row, "created"),
			LastModified: getTime(row, "lastModified"),
			Version:      int64(getInt(row, "version")),
			Metadata:     DecodeMetadata(getString(row, "metadata")),
		})
	}
	return out
}

// getString safely extracts a string from a row.
func getString(row Row, key string) string {
	if v, ok := row[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getInt safely extracts an int from a row.
func getInt(row Row, key string) int {
	if v, ok := row[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// getTime safely extracts an RFC3339 timestamp from a row.
func getTime(row Row, key string) time.Time {
	s := getString(row, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// getStringList safely extracts a list of strings from a row. Lists
// arrive as []any after JSON decoding.
func getStringList(row Row, key string) []string {
	v, ok := row[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item == nil {
				out = append(out, "")
			}
		}
		return out
	default:
		return nil
	}
}
