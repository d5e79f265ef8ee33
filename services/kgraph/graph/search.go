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
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Search type selectors.
const (
	SearchTypeSemantic   = "semantic"
	SearchTypeStructural = "structural"
)

// SearchRequest covers both search modes. Query drives semantic
// similarity; the filter fields drive structural matching. Structural
// filters also post-filter semantic hits when both are set.
type SearchRequest struct {
	// Query is the free-text query for semantic search.
	Query string `json:"query,omitempty"`

	// SearchType selects "semantic" or "structural" (default).
	SearchType string `json:"searchType,omitempty"`

	// EntityTypes restricts results to the given types.
	EntityTypes []EntityType `json:"entityTypes,omitempty"`

	// PathContains keeps entities whose path contains the substring.
	PathContains string `json:"pathContains,omitempty"`

	// Language keeps entities with an exact language match.
	Language string `json:"language,omitempty"`

	// ModifiedSince / ModifiedUntil bound lastModified.
	ModifiedSince time.Time `json:"modifiedSince,omitempty"`
	ModifiedUntil time.Time `json:"modifiedUntil,omitempty"`

	// Tags keeps entities carrying every listed tag.
	Tags []string `json:"tags,omitempty"`

	// Limit caps the result count. Zero means DefaultQueryLimit.
	Limit int `json:"limit,omitempty"`
}

// SearchHit is one search result. Score is the vector similarity for
// semantic hits and zero for structural hits.
type SearchHit struct {
	Entity *Entity `json:"entity"`
	Score  float64 `json:"score,omitempty"`
}

// ScoredID is a vector index hit before entity resolution.
type ScoredID struct {
	EntityID string
	Score    float64
}

// SemanticSearcher is the vector-similarity capability consumed by
// Search. The embedding subsystem provides the production
// implementation.
type SemanticSearcher interface {
	SearchSimilar(ctx context.Context, query string, entityTypes []EntityType, limit int) ([]ScoredID, error)
}

// Search dispatches on SearchType. Semantic search requires a
// configured SemanticSearcher and a non-empty query; when either is
// missing, or the vector index fails, the request degrades to
// structural search with a warning rather than erroring.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := tracer.Start(ctx, "graph.search")
	defer span.End()
	span.SetAttributes(attribute.String("search_type", req.SearchType))
	start := time.Now()

	if req.SearchType == SearchTypeSemantic {
		hits, err := s.semanticSearch(ctx, req)
		if err == nil {
			recordQuery(ctx, "search_semantic", start, len(hits))
			return hits, nil
		}
		if !errors.Is(err, errSemanticUnavailable) {
			span.RecordError(err)
		}
		s.log.Warn("semantic search degraded to structural",
			"error", err,
			"query", req.Query,
		)
	}

	hits, err := s.structuralSearch(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	recordQuery(ctx, "search_structural", start, len(hits))
	return hits, nil
}

// errSemanticUnavailable routes the degrade path without logging a
// storage error for an expected configuration state.
var errSemanticUnavailable = errors.New("semantic search unavailable")

func (s *Service) semanticSearch(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	if s.semantic == nil {
		return nil, errSemanticUnavailable
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", errSemanticUnavailable)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	scored, err := s.semantic.SearchSimilar(ctx, req.Query, req.EntityTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]SearchHit, 0, len(scored))
	for _, hit := range scored {
		entity, err := s.GetEntity(ctx, hit.EntityID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Embedding outlived its entity; deletes are
				// best-effort so this is expected, not an error.
				continue
			}
			return nil, fmt.Errorf("resolve search hit %s: %w", hit.EntityID, err)
		}
		if !matchesFilters(entity, req) {
			continue
		}
		hits = append(hits, SearchHit{Entity: entity, Score: hit.Score})
	}
	return hits, nil
}

func (s *Service) structuralSearch(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	q := StructuralQuery{
		EntityTypes:   req.EntityTypes,
		PathContains:  req.PathContains,
		Language:      req.Language,
		ModifiedSince: req.ModifiedSince,
		ModifiedUntil: req.ModifiedUntil,
		Tags:          req.Tags,
		Limit:         req.Limit,
	}

	key := structuralCacheKey(req)
	if v, ok := s.cache.Get(key); ok {
		if hits, ok := v.([]SearchHit); ok {
			return cloneHits(hits), nil
		}
	}

	entities, err := s.store.SearchEntities(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("structural search: %w", err)
	}
	hits := make([]SearchHit, len(entities))
	deps := make([]string, len(entities))
	for i, e := range entities {
		hits[i] = SearchHit{Entity: e}
		deps[i] = e.ID
	}
	s.cache.Put(key, cloneHits(hits), deps)
	return hits, nil
}

// matchesFilters applies structural filters to a semantic hit.
func matchesFilters(e *Entity, req SearchRequest) bool {
	if len(req.EntityTypes) > 0 && !containsEntityType(req.EntityTypes, e.Type) {
		return false
	}
	if req.PathContains != "" && !strings.Contains(e.Path, req.PathContains) {
		return false
	}
	if req.Language != "" && e.Language != req.Language {
		return false
	}
	if !req.ModifiedSince.IsZero() && e.LastModified.Before(req.ModifiedSince) {
		return false
	}
	if !req.ModifiedUntil.IsZero() && e.LastModified.After(req.ModifiedUntil) {
		return false
	}
	if len(req.Tags) > 0 && !hasAllTags(e, req.Tags) {
		return false
	}
	return true
}

func structuralCacheKey(req SearchRequest) string {
	typeNames := make([]string, len(req.EntityTypes))
	for i, t := range req.EntityTypes {
		typeNames[i] = string(t)
	}
	return cacheKey("search", strings.Join(typeNames, ","), req.PathContains,
		req.Language, timeKey(req.ModifiedSince), timeKey(req.ModifiedUntil),
		strings.Join(req.Tags, ","), fmt.Sprintf("%d", req.Limit))
}

func cloneHits(hits []SearchHit) []SearchHit {
	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		out[i] = SearchHit{Entity: h.Entity.Clone(), Score: h.Score}
	}
	return out
}
