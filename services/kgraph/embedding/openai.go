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

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Cartograph/pkg/logging"
)

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model is the embedding model id. Default: text-embedding-3-small.
	Model string

	// BaseURL overrides the API endpoint for compatible local servers.
	BaseURL string

	// RequestsPerSecond throttles API calls. Default: 3.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 3.
	Burst int

	// Logger for embedder operations.
	Logger *logging.Logger
}

// OpenAIEmbedder generates vectors through the OpenAI embeddings API.
// The API key lives in mlocked memory for the embedder's lifetime and
// is wiped on Close.
//
// Thread safety: safe for concurrent use.
type OpenAIEmbedder struct {
	client  *openai.Client
	key     *memguard.LockedBuffer
	model   openai.EmbeddingModel
	limiter *rate.Limiter
	log     *logging.Logger
}

// NewOpenAIEmbedder creates an embedder. The key bytes are moved into a
// locked buffer; callers should not retain their own copy.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	// The locked buffer backs the key string handed to the client, so it
	// must outlive every request. NewBufferFromBytes wipes the source.
	key := memguard.NewBufferFromBytes([]byte(cfg.APIKey))

	clientCfg := openai.DefaultConfig(key.String())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		key:     key,
		model:   openai.EmbeddingModel(cfg.Model),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     cfg.Logger,
	}, nil
}

// Embed returns one vector per input text, in input order.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		o.log.Error("OpenAI embeddings call failed",
			"model", string(o.model),
			"inputs", len(texts),
			"error", err,
		)
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: result index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Close wipes the key material. The embedder is unusable afterwards.
func (o *OpenAIEmbedder) Close() error {
	if o.key != nil {
		o.key.Destroy()
		o.key = nil
	}
	return nil
}
