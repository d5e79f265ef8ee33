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
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/Cartograph/pkg/logging"
)

// WeaviateConfig configures the Weaviate-backed vector index.
type WeaviateConfig struct {
	// URL is the Weaviate server URL (e.g., "http://localhost:8080").
	URL string

	// RetryAttempts is the number of retry attempts for failed requests.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration between retries.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 5s
	MaxRetryBackoff time.Duration

	// RetryJitter adds randomness to backoff (0.0-1.0).
	// Default: 0.25
	RetryJitter float64

	// Logger for index operations.
	Logger *logging.Logger
}

// DefaultWeaviateConfig returns defaults suitable for a local instance.
func DefaultWeaviateConfig() WeaviateConfig {
	return WeaviateConfig{
		URL:             "http://localhost:8080",
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		RetryJitter:     0.25,
	}
}

// WeaviateIndex is a VectorIndex backed by Weaviate. Vectors are
// supplied by the caller (class vectorizer "none"), so the same
// Embedder serves both ingest and query.
//
// Transient failures are retried with exponential backoff and jitter.
// There is no circuit breaker: ingest is batch-driven, and the retry
// budget bounds how long a dead server can stall it.
type WeaviateIndex struct {
	client *weaviate.Client
	config WeaviateConfig
	log    *logging.Logger
}

// NewWeaviateIndex connects to the Weaviate instance at config.URL.
func NewWeaviateIndex(config WeaviateConfig) (*WeaviateIndex, error) {
	def := DefaultWeaviateConfig()
	if config.URL == "" {
		config.URL = def.URL
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = def.RetryAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.MaxRetryBackoff <= 0 {
		config.MaxRetryBackoff = def.MaxRetryBackoff
	}
	if config.RetryJitter < 0 || config.RetryJitter > 1 {
		return nil, errors.New("retry_jitter must be between 0 and 1")
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}

	cfg := weaviate.Config{
		Host:   config.URL,
		Scheme: "http",
	}
	if strings.HasPrefix(config.URL, "https://") {
		cfg.Scheme = "https"
		cfg.Host = config.URL[len("https://"):]
	} else if strings.HasPrefix(config.URL, "http://") {
		cfg.Host = config.URL[len("http://"):]
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &WeaviateIndex{
		client: client,
		config: config,
		log:    config.Logger.With("component", "weaviate_index"),
	}, nil
}

// weaviateClass maps a collection name to a Weaviate class name.
// Weaviate requires /^[A-Z][_0-9A-Za-z]*$/, so snake_case collections
// become CamelCase: "code_embeddings" -> "CodeEmbeddings".
func weaviateClass(collection string) string {
	parts := strings.Split(collection, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// weaviateObjectID derives the object UUID for a point. The id is a
// hash of collection and numeric id, so re-upserting the same entity
// overwrites its object instead of accumulating duplicates.
func weaviateObjectID(collection string, id uint64) strfmt.UUID {
	hash := sha256.Sum256([]byte(collection + "/" + strconv.FormatUint(id, 10)))
	u, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(u.String())
}

// EnsureCollection creates the class for a collection if it does not
// exist. Safe to call concurrently: a create that loses the race is
// ignored.
func (w *WeaviateIndex) EnsureCollection(ctx context.Context, collection string) error {
	cls := weaviateClass(collection)

	_, err := w.client.Schema().ClassGetter().WithClassName(cls).Do(ctx)
	if err == nil {
		return nil
	}

	indexFilterable := new(bool)
	*indexFilterable = true

	schema := &models.Class{
		Class:       cls,
		Description: "Entity embeddings for semantic code search",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "entityId",
				DataType:        []string{"text"},
				Description:     "Authoritative graph entity id",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "entityType",
				DataType:        []string{"text"},
				Description:     "Entity type at embed time",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "path",
				DataType:     []string{"text"},
				Description:  "Repository-relative path",
				Tokenization: "field",
			},
			{
				Name:         "language",
				DataType:     []string{"text"},
				Description:  "Source language",
				Tokenization: "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Text the vector was computed from",
				Tokenization: "word",
			},
		},
	}

	err = w.execute(ctx, func() error {
		return w.client.Schema().ClassCreator().WithClass(schema).Do(ctx)
	})
	if err != nil {
		// Another writer may have created it between the check and here.
		if _, getErr := w.client.Schema().ClassGetter().WithClassName(cls).Do(ctx); getErr == nil {
			return nil
		}
		return fmt.Errorf("creating class %s: %w", cls, err)
	}

	w.log.Info("Created Weaviate class", "class", cls, "collection", collection)
	return nil
}

// Upsert writes points in one batch request. Batch imports overwrite
// objects with the same id, which gives upsert semantics.
func (w *WeaviateIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	cls := weaviateClass(collection)

	objects := make([]*models.Object, len(points))
	for i, p := range points {
		objects[i] = &models.Object{
			Class:      cls,
			ID:         weaviateObjectID(collection, p.ID),
			Vector:     p.Vector,
			Properties: p.Payload,
		}
	}

	var resp []models.ObjectsGetResponse
	err := w.execute(ctx, func() error {
		var doErr error
		resp, doErr = w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		return doErr
	})
	if err != nil {
		return fmt.Errorf("batch import to %s: %w", cls, err)
	}

	var failed []string
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil || len(item.Result.Errors.Error) == 0 {
			continue
		}
		for _, errItem := range item.Result.Errors.Error {
			failed = append(failed, errItem.Message)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch import to %s: %d of %d objects failed: %s",
			cls, len(failed), len(objects), strings.Join(failed, "; "))
	}
	return nil
}

// Delete removes points by id. Missing objects are not an error.
func (w *WeaviateIndex) Delete(ctx context.Context, collection string, ids []uint64) error {
	cls := weaviateClass(collection)

	var errs []error
	for _, id := range ids {
		objectID := weaviateObjectID(collection, id)
		err := w.execute(ctx, func() error {
			return w.client.Data().Deleter().
				WithClassName(cls).
				WithID(string(objectID)).
				Do(ctx)
		})
		if err != nil && !isWeaviateNotFound(err) {
			errs = append(errs, fmt.Errorf("deleting %s/%d: %w", cls, id, err))
		}
	}
	return errors.Join(errs...)
}

// Search returns the limit nearest points by cosine certainty.
func (w *WeaviateIndex) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	cls := weaviateClass(collection)

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	// Certainty is always [0,1] regardless of the distance metric.
	fields := []graphql.Field{
		{Name: "entityId"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	var result *models.GraphQLResponse
	err := w.execute(ctx, func() error {
		query := w.client.GraphQL().Get().
			WithClassName(cls).
			WithFields(fields...).
			WithNearVector(nearVector)
		if limit > 0 {
			query = query.WithLimit(limit)
		}
		var doErr error
		result, doErr = query.Do(ctx)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", cls, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("searching %s: %s", cls, result.Errors[0].Message)
	}

	return parseHits(result, cls), nil
}

// parseHits extracts hits from a GraphQL Get response. Malformed
// entries are skipped rather than failing the whole result.
func parseHits(result *models.GraphQLResponse, cls string) []Hit {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[cls].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]Hit, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		entityID, ok := obj["entityId"].(string)
		if !ok || entityID == "" {
			continue
		}
		hit := Hit{EntityID: entityID}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				hit.Score = certainty
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

// Scroll lists a page of points with offset pagination. The order is
// Weaviate's listing order, stable while the class is quiet.
func (w *WeaviateIndex) Scroll(ctx context.Context, collection string, offset, limit int) ([]Point, error) {
	cls := weaviateClass(collection)

	fields := []graphql.Field{
		{Name: "entityId"},
		{Name: "entityType"},
		{Name: "path"},
		{Name: "language"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "vector"},
		}},
	}

	var result *models.GraphQLResponse
	err := w.execute(ctx, func() error {
		query := w.client.GraphQL().Get().
			WithClassName(cls).
			WithFields(fields...).
			WithOffset(offset)
		if limit > 0 {
			query = query.WithLimit(limit)
		}
		var doErr error
		result, doErr = query.Do(ctx)
		return doErr
	})
	if err != nil {
		if isWeaviateNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scrolling %s: %w", cls, err)
	}
	if len(result.Errors) > 0 {
		msg := result.Errors[0].Message
		// A class that has never been created has no query field.
		if strings.Contains(msg, "Cannot query field") {
			return nil, nil
		}
		return nil, fmt.Errorf("scrolling %s: %s", cls, msg)
	}

	return parsePoints(result, cls), nil
}

// parsePoints rebuilds full points from a GraphQL Get response. The
// numeric id is rederived from the stored entity id, the same mapping
// Upsert used to place the point. Objects with no entity id are
// skipped: the deterministic id mapping cannot address them.
func parsePoints(result *models.GraphQLResponse, cls string) []Point {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[cls].([]interface{})
	if !ok {
		return nil
	}

	points := make([]Point, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		entityID, ok := obj["entityId"].(string)
		if !ok || entityID == "" {
			continue
		}

		p := Point{
			ID:      StringToNumericID(entityID),
			Payload: map[string]any{"entityId": entityID},
		}
		for _, key := range []string{"entityType", "path", "language", "content"} {
			if v, ok := obj[key].(string); ok && v != "" {
				p.Payload[key] = v
			}
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if rawVec, ok := additional["vector"].([]interface{}); ok {
				vec := make([]float32, 0, len(rawVec))
				for _, v := range rawVec {
					if f, ok := v.(float64); ok {
						vec = append(vec, float32(f))
					}
				}
				p.Vector = vec
			}
		}
		points = append(points, p)
	}
	return points
}

// execute runs fn with retry on transient failures.
func (w *WeaviateIndex) execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := w.calculateBackoff(attempt)
			w.log.Debug("Retrying Weaviate request",
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryableWeaviate(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// calculateBackoff returns backoff with jitter.
func (w *WeaviateIndex) calculateBackoff(attempt int) time.Duration {
	backoff := w.config.RetryBackoff * time.Duration(1<<attempt)
	if backoff > w.config.MaxRetryBackoff {
		backoff = w.config.MaxRetryBackoff
	}

	jitterRange := float64(backoff) * w.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = w.config.RetryBackoff
	}
	return backoff
}

// isRetryableWeaviate reports whether an error is worth retrying.
// Client errors (4xx other than 429) are application bugs, not
// transient conditions.
func isRetryableWeaviate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) {
		// StatusCode 0 means the request never reached the server.
		return clientErr.StatusCode == 0 ||
			clientErr.StatusCode == http.StatusTooManyRequests ||
			clientErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isWeaviateNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}
