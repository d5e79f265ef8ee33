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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"
)

func TestWeaviateClass(t *testing.T) {
	tests := []struct {
		collection string
		want       string
	}{
		{CodeCollection, "CodeEmbeddings"},
		{DocumentationCollection, "DocumentationEmbeddings"},
		{TestCollection, "TestEmbeddings"},
		{"already", "Already"},
		{"trailing_", "Trailing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, weaviateClass(tt.collection), tt.collection)
	}
}

func TestWeaviateObjectID(t *testing.T) {
	a := weaviateObjectID(CodeCollection, 42)
	b := weaviateObjectID(CodeCollection, 42)
	c := weaviateObjectID(CodeCollection, 43)
	d := weaviateObjectID(TestCollection, 42)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Same numeric id in another collection is another object.
	assert.NotEqual(t, a, d)

	_, err := uuid.Parse(string(a))
	assert.NoError(t, err)
}

func TestParseHits(t *testing.T) {
	result := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"CodeEmbeddings": []interface{}{
					map[string]interface{}{
						"entityId": "file:src/a.go",
						"_additional": map[string]interface{}{
							"certainty": 0.92,
						},
					},
					map[string]interface{}{
						"entityId": "file:src/b.go",
						// No _additional: score defaults to zero.
					},
					map[string]interface{}{
						// Missing entityId: skipped.
						"_additional": map[string]interface{}{"certainty": 0.5},
					},
					"not an object",
				},
			},
		},
	}

	hits := parseHits(result, "CodeEmbeddings")
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{EntityID: "file:src/a.go", Score: 0.92}, hits[0])
	assert.Equal(t, Hit{EntityID: "file:src/b.go", Score: 0}, hits[1])
}

func TestParseHits_MalformedResponses(t *testing.T) {
	assert.Empty(t, parseHits(&models.GraphQLResponse{}, "CodeEmbeddings"))

	assert.Empty(t, parseHits(&models.GraphQLResponse{
		Data: map[string]models.JSONObject{"Get": "not a map"},
	}, "CodeEmbeddings"))

	assert.Empty(t, parseHits(&models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{"OtherClass": []interface{}{}},
		},
	}, "CodeEmbeddings"))
}

func TestIsRetryableWeaviate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection failure", &fault.WeaviateClientError{StatusCode: 0}, true},
		{"server error", &fault.WeaviateClientError{StatusCode: 500}, true},
		{"throttled", &fault.WeaviateClientError{StatusCode: 429}, true},
		{"not found", &fault.WeaviateClientError{StatusCode: 404}, false},
		{"bad request", &fault.WeaviateClientError{StatusCode: 400}, false},
		{"wrapped server error", fmt.Errorf("upsert: %w", &fault.WeaviateClientError{StatusCode: 503}), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableWeaviate(tt.err))
		})
	}
}

func TestIsWeaviateNotFound(t *testing.T) {
	assert.True(t, isWeaviateNotFound(&fault.WeaviateClientError{StatusCode: 404}))
	assert.True(t, isWeaviateNotFound(fmt.Errorf("delete: %w", &fault.WeaviateClientError{StatusCode: 404})))
	assert.False(t, isWeaviateNotFound(&fault.WeaviateClientError{StatusCode: 500}))
	assert.False(t, isWeaviateNotFound(errors.New("boom")))
}

func TestCalculateBackoff(t *testing.T) {
	w := &WeaviateIndex{
		config: WeaviateConfig{
			RetryBackoff:    100 * time.Millisecond,
			MaxRetryBackoff: 1 * time.Second,
			RetryJitter:     0,
		},
		log: quietLogger(),
	}

	assert.Equal(t, 200*time.Millisecond, w.calculateBackoff(1))
	assert.Equal(t, 400*time.Millisecond, w.calculateBackoff(2))

	// Exponential growth is capped.
	assert.Equal(t, 1*time.Second, w.calculateBackoff(10))

	w.config.RetryJitter = 0.25
	for i := 0; i < 50; i++ {
		backoff := w.calculateBackoff(1)
		assert.GreaterOrEqual(t, backoff, 150*time.Millisecond)
		assert.LessOrEqual(t, backoff, 250*time.Millisecond)
	}
}

func TestNewWeaviateIndex(t *testing.T) {
	idx, err := NewWeaviateIndex(WeaviateConfig{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.config.RetryAttempts)
	assert.Equal(t, 100*time.Millisecond, idx.config.RetryBackoff)

	idx, err = NewWeaviateIndex(WeaviateConfig{URL: "https://vectors.internal:8443", Logger: quietLogger()})
	require.NoError(t, err)
	assert.NotNil(t, idx.client)

	_, err = NewWeaviateIndex(WeaviateConfig{RetryJitter: 2})
	assert.Error(t, err)
}
