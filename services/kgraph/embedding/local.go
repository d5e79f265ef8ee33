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
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultLocalDimensions is the vector width of the local embedder.
const DefaultLocalDimensions = 256

// LocalEmbedder is a deterministic, offline embedder: hashed
// bag-of-tokens, L2-normalized. Similar texts share token buckets and
// score close under cosine similarity. No fidelity beyond that; it
// exists for tests and air-gapped runs where the API embedder cannot
// be used.
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder creates a local embedder. Non-positive dims selects
// DefaultLocalDimensions.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = DefaultLocalDimensions
	}
	return &LocalEmbedder{dims: dims}
}

// Dimensions returns the vector width.
func (l *LocalEmbedder) Dimensions() int {
	return l.dims
}

// Embed returns one vector per text. Output depends only on the input
// text, never on call order or prior state.
func (l *LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = l.embedText(text)
	}
	return out, nil
}

func (l *LocalEmbedder) embedText(text string) []float32 {
	vec := make([]float32, l.dims)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		// Two buckets per token for better spread at small dims.
		vec[sum%uint64(l.dims)]++
		vec[(sum>>32)%uint64(l.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
