// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDirName is the per-user configuration directory.
	DefaultDirName = ".cartograph"

	// DefaultFileName is the configuration file name inside it.
	DefaultFileName = "cartograph.yaml"
)

// DefaultPath returns the conventional config file location, or ""
// when the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultDirName, DefaultFileName)
}

// Load reads configuration with priority environment > file >
// defaults. An empty path falls back to DefaultPath; a missing file is
// not an error, the defaults simply stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv applies CARTOGRAPH_* overrides. Unparseable values are
// ignored rather than fatal; Validate catches anything out of range
// that did parse.
func loadEnv(cfg *Config) {
	if v := os.Getenv("CARTOGRAPH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CARTOGRAPH_LOG_QUIET"); v != "" {
		cfg.Logging.Quiet = v == "true" || v == "1"
	}

	if v := os.Getenv("CARTOGRAPH_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Extract.MinConfidence = f
		}
	}

	if v := os.Getenv("CARTOGRAPH_EMBEDDING_ENABLED"); v != "" {
		cfg.Embedding.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CARTOGRAPH_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("CARTOGRAPH_EMBEDDING_INDEX"); v != "" {
		cfg.Embedding.Index = v
	}
	if v := os.Getenv("CARTOGRAPH_OPENAI_MODEL"); v != "" {
		cfg.Embedding.OpenAI.Model = v
	}
	if v := os.Getenv("CARTOGRAPH_OPENAI_BASE_URL"); v != "" {
		cfg.Embedding.OpenAI.BaseURL = v
	}
	if v := os.Getenv("CARTOGRAPH_WEAVIATE_URL"); v != "" {
		cfg.Embedding.Weaviate.URL = v
	}

	if v := os.Getenv("CARTOGRAPH_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CARTOGRAPH_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	// CARTOGRAPH_DATABASE_URL wins over the conventional DATABASE_URL,
	// both win over the file.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.History.DatabaseURL = v
	}
	if v := os.Getenv("CARTOGRAPH_DATABASE_URL"); v != "" {
		cfg.History.DatabaseURL = v
	}
	if v := os.Getenv("CARTOGRAPH_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.Retention = Duration(d)
		}
	}
	if v := os.Getenv("CARTOGRAPH_PRUNE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.History.PruneInterval = Duration(d)
		}
	}
	if v := os.Getenv("CARTOGRAPH_SNAPSHOT_DIR"); v != "" {
		cfg.History.Snapshots.Dir = v
	}
	if v := os.Getenv("CARTOGRAPH_GCS_BUCKET"); v != "" {
		cfg.History.Snapshots.GCSBucket = v
	}
	if v := os.Getenv("CARTOGRAPH_GCS_PREFIX"); v != "" {
		cfg.History.Snapshots.GCSPrefix = v
	}

	if v := os.Getenv("CARTOGRAPH_WATCH_DIR"); v != "" {
		cfg.Ingest.WatchDir = v
	}
	if v := os.Getenv("CARTOGRAPH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("CARTOGRAPH_CACHE_ENABLED"); v != "" {
		cfg.Ingest.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CARTOGRAPH_CACHE_PATH"); v != "" {
		cfg.Ingest.Cache.Path = v
	}

	if v := os.Getenv("CARTOGRAPH_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CARTOGRAPH_SERVICE_NAME"); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := os.Getenv("CARTOGRAPH_TELEMETRY_EXPORTER"); v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v := os.Getenv("CARTOGRAPH_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("CARTOGRAPH_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("CARTOGRAPH_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRate = f
		}
	}
}
