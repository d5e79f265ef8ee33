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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Cartograph/pkg/logging"
)

// MockSearcher implements SemanticSearcher with canned hits.
type MockSearcher struct {
	Hits    []ScoredID
	Err     error
	Queries []string
}

func (m *MockSearcher) SearchSimilar(ctx context.Context, query string, entityTypes []EntityType, limit int) ([]ScoredID, error) {
	m.Queries = append(m.Queries, query)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Hits, nil
}

func newSearchService(t *testing.T, searcher SemanticSearcher) *Service {
	t.Helper()
	return NewService(NewMemoryStore(),
		WithLogger(logging.New(logging.Config{Quiet: true})),
		WithSemanticSearch(searcher),
	)
}

func seedSearchEntities(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()

	login := &Entity{ID: "fn:login", Type: EntityFunction, Name: "login", Path: "/src/auth/login.ts", Language: "typescript"}
	logout := &Entity{ID: "fn:logout", Type: EntityFunction, Name: "logout", Path: "/src/auth/logout.ts", Language: "typescript"}
	pool := &Entity{ID: "fn:pool", Type: EntityFunction, Name: "pool", Path: "/src/db/pool.go", Language: "go"}
	doc := &Entity{ID: "doc:auth", Type: EntityDocumentation, Name: "auth guide", Path: "/docs/auth.md"}

	for _, e := range []*Entity{login, logout, pool, doc} {
		_, err := svc.CreateEntity(ctx, e)
		require.NoError(t, err)
	}
}

func TestService_Search_Semantic(t *testing.T) {
	ctx := context.Background()
	searcher := &MockSearcher{Hits: []ScoredID{
		{EntityID: "fn:login", Score: 0.93},
		{EntityID: "fn:logout", Score: 0.81},
		{EntityID: "fn:vanished", Score: 0.77},
	}}
	svc := newSearchService(t, searcher)
	seedSearchEntities(t, svc)

	hits, err := svc.Search(ctx, SearchRequest{
		SearchType: SearchTypeSemantic,
		Query:      "user authentication flow",
	})
	require.NoError(t, err)

	require.Len(t, hits, 2, "hit whose entity is gone is skipped")
	assert.Equal(t, "fn:login", hits[0].Entity.ID)
	assert.InDelta(t, 0.93, hits[0].Score, 1e-9)
	assert.Equal(t, []string{"user authentication flow"}, searcher.Queries)
}

func TestService_Search_SemanticAppliesStructuralFilters(t *testing.T) {
	ctx := context.Background()
	searcher := &MockSearcher{Hits: []ScoredID{
		{EntityID: "fn:login", Score: 0.9},
		{EntityID: "fn:pool", Score: 0.8},
	}}
	svc := newSearchService(t, searcher)
	seedSearchEntities(t, svc)

	hits, err := svc.Search(ctx, SearchRequest{
		SearchType: SearchTypeSemantic,
		Query:      "connections",
		Language:   "go",
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "fn:pool", hits[0].Entity.ID)
}

func TestService_Search_SemanticDegradesToStructural(t *testing.T) {
	ctx := context.Background()

	t.Run("on vector index error", func(t *testing.T) {
		searcher := &MockSearcher{Err: errors.New("index offline")}
		svc := newSearchService(t, searcher)
		seedSearchEntities(t, svc)

		hits, err := svc.Search(ctx, SearchRequest{
			SearchType:   SearchTypeSemantic,
			Query:        "auth",
			PathContains: "/auth/",
		})
		require.NoError(t, err, "vector failure degrades, not fails")
		assert.Len(t, hits, 2)
		for _, h := range hits {
			assert.Zero(t, h.Score, "structural hits carry no similarity score")
		}
	})

	t.Run("without a configured searcher", func(t *testing.T) {
		svc := newSearchService(t, nil)
		seedSearchEntities(t, svc)

		hits, err := svc.Search(ctx, SearchRequest{
			SearchType: SearchTypeSemantic,
			Query:      "auth",
			Language:   "typescript",
		})
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})
}

func TestService_Search_Structural(t *testing.T) {
	ctx := context.Background()
	svc := newSearchService(t, nil)
	seedSearchEntities(t, svc)

	hits, err := svc.Search(ctx, SearchRequest{
		EntityTypes:  []EntityType{EntityFunction},
		PathContains: "/src/",
		Language:     "typescript",
	})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = svc.Search(ctx, SearchRequest{EntityTypes: []EntityType{EntityDocumentation}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc:auth", hits[0].Entity.ID)
}

func TestService_Search_StructuralCacheInvalidatesOnEntityWrite(t *testing.T) {
	ctx := context.Background()
	svc := newSearchService(t, nil)
	seedSearchEntities(t, svc)

	req := SearchRequest{EntityTypes: []EntityType{EntityDocumentation}}
	first, err := svc.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = svc.UpdateEntity(ctx, "doc:auth", &Entity{Name: "auth handbook"})
	require.NoError(t, err)

	second, err := svc.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "auth handbook", second[0].Entity.Name,
		"cached search result referencing the entity is invalidated by its write")
}
