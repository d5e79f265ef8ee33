// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command cartograph runs the codebase knowledge graph.
//
// The graph itself is ephemeral: it lives in memory and is rebuilt from
// parse-result documents. Durability comes from the temporal history
// layer (Postgres when configured) and from checkpoint snapshots.
//
// Usage:
//
//	cartograph serve                      # watch the drop directory
//	cartograph ingest ./parse-results     # one-shot directory ingest
//	cartograph ingest --diff fix.patch    # record a change set
//	cartograph checkpoint create --seed file:src/auth.ts --hops 2
//	cartograph checkpoint export cp-1234 --out snapshot.json
//	cartograph prune --dry-run
//
// Configuration is read from ~/.cartograph/cartograph.yaml (override
// with --config), then CARTOGRAPH_* environment variables. Secrets
// (OPENAI_API_KEY, DATABASE_URL credentials) come from the environment
// only.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/config"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

var (
	cfgPath string

	cfg *config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:     "cartograph",
	Short:   "Build and query a codebase knowledge graph",
	Version: version,
	Long: `Cartograph turns parser output into a knowledge graph of files,
symbols, and their relationships, with embeddings for semantic search
and a temporal history layer for time-travel and checkpoints.

The live graph is in-memory and rebuilt from parse-result documents;
history and checkpoint snapshots are the durable record.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Config file path (default ~/.cartograph/cartograph.yaml)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Logging.Level),
			Service: "cartograph-cli",
			Quiet:   cfg.Logging.Quiet,
		})
		return nil
	}
}

// fatal prints the error and exits. Run handlers use it for failures
// after flag parsing, matching cobra's own error formatting.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
