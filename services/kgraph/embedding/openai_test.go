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
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.ErrorContains(t, err, "api key required")
}

func TestNewOpenAIEmbedder_Defaults(t *testing.T) {
	emb, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey: "sk-test",
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer emb.Close()

	assert.Equal(t, openai.SmallEmbedding3, emb.model)
	assert.NotNil(t, emb.limiter)
	assert.NotNil(t, emb.client)
}

func TestOpenAIEmbedder_EmptyInput(t *testing.T) {
	emb, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey: "sk-test",
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer emb.Close()

	// No texts means no API call and no error.
	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestOpenAIEmbedder_Close(t *testing.T) {
	emb, err := NewOpenAIEmbedder(OpenAIConfig{
		APIKey: "sk-test",
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, emb.Close())
}
