// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration with priority
// environment > file > defaults. Secrets (the OpenAI API key, GCS
// credentials) are never part of the file schema; they come from their
// conventional environment variables at construction time.
package config

import (
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written in files as a string with a
// unit, e.g. "500ms" or "24h". yaml.v3 has no native duration
// decoding, so the wrapper supplies it.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the native time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for all kgraph components.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Graph     GraphConfig     `yaml:"graph"`
	Extract   ExtractConfig   `yaml:"extract"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	History   HistoryConfig   `yaml:"history"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Quiet drops console output; exporters still receive entries.
	Quiet bool `yaml:"quiet"`
}

// GraphConfig tunes the knowledge graph service.
type GraphConfig struct {
	// CacheTTL bounds how long read results may be served from the
	// query cache. Invalidation on write is the correctness mechanism;
	// the TTL only caps staleness for entries nothing invalidated.
	CacheTTL Duration `yaml:"cache_ttl"`

	// CacheMaxEntries caps the query cache size.
	CacheMaxEntries int `yaml:"cache_max_entries"`
}

// ExtractConfig tunes the relationship extraction engine.
type ExtractConfig struct {
	// MinConfidence is the storage gate for inferred edges, in [0,1].
	MinConfidence float64 `yaml:"min_confidence"`

	// MinNameLength is the shortest bare name admitted for
	// placeholder-target edges.
	MinNameLength int `yaml:"min_name_length"`

	// TypeCheckerBudget caps type-checker consultations per file.
	TypeCheckerBudget int `yaml:"type_checker_budget"`
}

// EmbeddingConfig selects the embedder and vector index.
type EmbeddingConfig struct {
	// Enabled turns the embedding subsystem on.
	Enabled bool `yaml:"enabled"`

	// Provider is "openai" or "local".
	Provider string `yaml:"provider"`

	// Index is "weaviate" or "memory".
	Index string `yaml:"index"`

	OpenAI   OpenAIConfig   `yaml:"openai"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
}

// OpenAIConfig configures the OpenAI embedder. The API key is read
// from OPENAI_API_KEY, never from the file.
type OpenAIConfig struct {
	// Model is the embedding model id.
	Model string `yaml:"model"`

	// BaseURL overrides the endpoint for compatible local servers.
	BaseURL string `yaml:"base_url,omitempty"`

	// RequestsPerSecond throttles API calls.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// WeaviateConfig configures the vector index connection.
type WeaviateConfig struct {
	// URL of the Weaviate server.
	URL string `yaml:"url"`
}

// HistoryConfig configures the temporal layer.
type HistoryConfig struct {
	// Enabled attaches the history recorder to the event bus.
	Enabled bool `yaml:"enabled"`

	// Backend is "postgres" or "memory".
	Backend string `yaml:"backend"`

	// DatabaseURL is the Postgres DSN. CARTOGRAPH_DATABASE_URL or
	// DATABASE_URL override the file value.
	DatabaseURL string `yaml:"database_url,omitempty"`

	// Retention is how long versions and closed temporal edges are
	// kept before pruning.
	Retention Duration `yaml:"retention"`

	// PruneInterval is how often the retention job runs.
	PruneInterval Duration `yaml:"prune_interval"`

	Snapshots SnapshotConfig `yaml:"snapshots"`
}

// SnapshotConfig selects where checkpoint exports land.
type SnapshotConfig struct {
	// Dir is the local snapshot directory.
	Dir string `yaml:"dir"`

	// GCSBucket, when set, exports to GCS instead of the local dir.
	GCSBucket string `yaml:"gcs_bucket,omitempty"`

	// GCSPrefix is the object name prefix inside the bucket.
	GCSPrefix string `yaml:"gcs_prefix,omitempty"`

	// GCSCredentials is a service account key file. Empty uses
	// ambient credentials (GOOGLE_APPLICATION_CREDENTIALS, metadata).
	GCSCredentials string `yaml:"gcs_credentials,omitempty"`
}

// IngestConfig configures the parse-result watcher and pipeline.
type IngestConfig struct {
	// WatchDir is the drop directory `serve` watches. Required for
	// serve, unused for one-shot ingest.
	WatchDir string `yaml:"watch_dir"`

	// Debounce is how long the watcher waits for a burst of file
	// events to settle before ingesting.
	Debounce Duration `yaml:"debounce"`

	// IgnorePatterns are path.Match patterns skipped by the watcher
	// and directory walks.
	IgnorePatterns []string `yaml:"ignore_patterns"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig configures the optional ingest digest cache.
type CacheConfig struct {
	// Enabled turns the cache on; off means every input re-ingests.
	Enabled bool `yaml:"enabled"`

	// Path is the badger directory. Empty keeps the cache in memory.
	Path string `yaml:"path,omitempty"`

	// TTL expires digest entries, forcing periodic re-ingest.
	TTL Duration `yaml:"ttl"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	// Enabled turns the OTel SDK on.
	Enabled bool `yaml:"enabled"`

	// ServiceName tags exported telemetry.
	ServiceName string `yaml:"service_name"`

	// Exporter is "otlp", "stdout", or "none".
	Exporter string `yaml:"exporter"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `yaml:"sample_rate"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint in serve mode. Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration used when no file or environment
// override is present: embedded backends only, so a fresh checkout
// runs without Postgres, Weaviate, or API keys.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Graph: GraphConfig{
			CacheTTL:        Duration(5 * time.Minute),
			CacheMaxEntries: 1024,
		},
		Extract: ExtractConfig{
			MinConfidence:     0.45,
			MinNameLength:     3,
			TypeCheckerBudget: 50,
		},
		Embedding: EmbeddingConfig{
			Enabled:  true,
			Provider: "local",
			Index:    "memory",
			OpenAI: OpenAIConfig{
				Model:             "text-embedding-3-small",
				RequestsPerSecond: 3,
			},
			Weaviate: WeaviateConfig{
				URL: "http://localhost:8080",
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			Backend:       "memory",
			Retention:     Duration(30 * 24 * time.Hour),
			PruneInterval: Duration(time.Hour),
		},
		Ingest: IngestConfig{
			Debounce:       Duration(500 * time.Millisecond),
			IgnorePatterns: []string{".*", "*.tmp", "*.partial"},
			Cache: CacheConfig{
				TTL: Duration(24 * time.Hour),
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cartograph",
			Exporter:    "stdout",
			SampleRate:  1.0,
		},
	}
}

// applyDefaults fills zero-valued fields so a partially constructed
// Config behaves like Default where it is silent.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Graph.CacheTTL == 0 {
		c.Graph.CacheTTL = def.Graph.CacheTTL
	}
	if c.Graph.CacheMaxEntries == 0 {
		c.Graph.CacheMaxEntries = def.Graph.CacheMaxEntries
	}
	if c.Extract.MinConfidence == 0 {
		c.Extract.MinConfidence = def.Extract.MinConfidence
	}
	if c.Extract.MinNameLength == 0 {
		c.Extract.MinNameLength = def.Extract.MinNameLength
	}
	if c.Extract.TypeCheckerBudget == 0 {
		c.Extract.TypeCheckerBudget = def.Extract.TypeCheckerBudget
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = def.Embedding.Provider
	}
	if c.Embedding.Index == "" {
		c.Embedding.Index = def.Embedding.Index
	}
	if c.Embedding.OpenAI.Model == "" {
		c.Embedding.OpenAI.Model = def.Embedding.OpenAI.Model
	}
	if c.Embedding.OpenAI.RequestsPerSecond == 0 {
		c.Embedding.OpenAI.RequestsPerSecond = def.Embedding.OpenAI.RequestsPerSecond
	}
	if c.Embedding.Weaviate.URL == "" {
		c.Embedding.Weaviate.URL = def.Embedding.Weaviate.URL
	}
	if c.History.Backend == "" {
		c.History.Backend = def.History.Backend
	}
	if c.History.Retention == 0 {
		c.History.Retention = def.History.Retention
	}
	if c.History.PruneInterval == 0 {
		c.History.PruneInterval = def.History.PruneInterval
	}
	if c.Ingest.Debounce == 0 {
		c.Ingest.Debounce = def.Ingest.Debounce
	}
	if c.Ingest.IgnorePatterns == nil {
		c.Ingest.IgnorePatterns = def.Ingest.IgnorePatterns
	}
	if c.Ingest.Cache.TTL == 0 {
		c.Ingest.Cache.TTL = def.Ingest.Cache.TTL
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = def.Telemetry.Exporter
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = def.Telemetry.SampleRate
	}
}

// Validate checks ranges and enumerations, failing fast on values that
// would otherwise surface as runtime misbehavior.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Graph.CacheMaxEntries < 0 {
		return fmt.Errorf("graph.cache_max_entries must be >= 0")
	}
	if c.Extract.MinConfidence < 0 || c.Extract.MinConfidence > 1 {
		return fmt.Errorf("extract.min_confidence must be in [0,1], got %v", c.Extract.MinConfidence)
	}
	if c.Extract.MinNameLength < 1 {
		return fmt.Errorf("extract.min_name_length must be >= 1")
	}
	if c.Extract.TypeCheckerBudget < 0 {
		return fmt.Errorf("extract.type_checker_budget must be >= 0")
	}
	switch c.Embedding.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("embedding.provider must be openai or local, got %q", c.Embedding.Provider)
	}
	switch c.Embedding.Index {
	case "weaviate", "memory":
	default:
		return fmt.Errorf("embedding.index must be weaviate or memory, got %q", c.Embedding.Index)
	}
	switch c.History.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("history.backend must be postgres or memory, got %q", c.History.Backend)
	}
	if c.History.Backend == "postgres" && c.History.DatabaseURL == "" {
		return fmt.Errorf("history.database_url is required for the postgres backend")
	}
	if c.History.Enabled {
		if c.History.Retention <= 0 {
			return fmt.Errorf("history.retention must be > 0")
		}
		if c.History.PruneInterval <= 0 {
			return fmt.Errorf("history.prune_interval must be > 0")
		}
	}
	if c.Ingest.Debounce < 0 {
		return fmt.Errorf("ingest.debounce must be >= 0")
	}
	switch c.Telemetry.Exporter {
	case "otlp", "stdout", "none":
	default:
		return fmt.Errorf("telemetry.exporter must be otlp, stdout, or none, got %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0,1], got %v", c.Telemetry.SampleRate)
	}
	return nil
}

// String renders the config for logs with the database URL password
// redacted. The alias type keeps Sprintf from recursing into String.
func (c Config) String() string {
	type alias Config
	masked := c
	if u, err := url.Parse(c.History.DatabaseURL); err == nil && u.User != nil {
		masked.History.DatabaseURL = u.Redacted()
	}
	return fmt.Sprintf("%+v", alias(masked))
}
