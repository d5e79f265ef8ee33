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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedder_Dimensions(t *testing.T) {
	assert.Equal(t, 64, NewLocalEmbedder(64).Dimensions())
	assert.Equal(t, DefaultLocalDimensions, NewLocalEmbedder(0).Dimensions())
	assert.Equal(t, DefaultLocalDimensions, NewLocalEmbedder(-5).Dimensions())
}

func TestLocalEmbedder_Deterministic(t *testing.T) {
	emb := NewLocalEmbedder(0)

	first, err := emb.Embed(context.Background(), []string{"parse the config file"})
	require.NoError(t, err)
	second, err := emb.Embed(context.Background(), []string{"parse the config file"})
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
}

func TestLocalEmbedder_UnitNorm(t *testing.T) {
	emb := NewLocalEmbedder(128)

	vectors, err := emb.Embed(context.Background(), []string{
		"func LoadConfig(path string) (*Config, error)",
		"x",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	for i, vec := range vectors {
		require.Len(t, vec, 128)
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, "vector %d", i)
	}
}

func TestLocalEmbedder_EmptyInputs(t *testing.T) {
	emb := NewLocalEmbedder(0)

	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)

	// Text with no tokens must not produce NaN from a zero norm.
	vectors, err = emb.Embed(context.Background(), []string{"   ...   "})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	for _, v := range vectors[0] {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestLocalEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	emb := NewLocalEmbedder(0)

	vectors, err := emb.Embed(context.Background(), []string{
		"open the config file and parse yaml settings",
		"open the config file and parse json settings",
		"database connection pool retry backoff",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	near := cosineSimilarity(vectors[0], vectors[1])
	far := cosineSimilarity(vectors[0], vectors[2])
	assert.Greater(t, near, far)
	assert.InDelta(t, 1.0, cosineSimilarity(vectors[0], vectors[0]), 1e-6)
}
