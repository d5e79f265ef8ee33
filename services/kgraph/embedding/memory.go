// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process VectorIndex using exact cosine
// similarity. It backs tests and single-process deployments that do not
// run a vector database.
//
// Thread safety: safe for concurrent use.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[uint64]Point
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]map[uint64]Point)}
}

// EnsureCollection creates the collection when missing.
func (m *MemoryIndex) EnsureCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[uint64]Point)
	}
	return nil
}

// Upsert writes points, creating the collection on first use.
func (m *MemoryIndex) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[uint64]Point)
		m.collections[collection] = c
	}
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

// Delete removes points by id. Unknown collections and ids are no-ops.
func (m *MemoryIndex) Delete(_ context.Context, collection string, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

// Search returns the limit nearest points by cosine similarity.
func (m *MemoryIndex) Search(_ context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}

	hits := make([]Hit, 0, len(c))
	for _, p := range c {
		entityID, _ := p.Payload["entityId"].(string)
		hits = append(hits, Hit{
			EntityID: entityID,
			Score:    cosineSimilarity(vector, p.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].EntityID < hits[j].EntityID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Scroll lists a page of points in ascending id order.
func (m *MemoryIndex) Scroll(_ context.Context, collection string, offset, limit int) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}

	ids := make([]uint64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]Point, 0, end-offset)
	for _, id := range ids[offset:end] {
		page = append(page, c[id])
	}
	return page, nil
}

// Len reports the number of points in a collection.
func (m *MemoryIndex) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// cosineSimilarity maps to [0,1]: 1 is identical direction, 0.5
// orthogonal. Mismatched lengths compare over the shorter prefix.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}
