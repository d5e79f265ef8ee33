// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Cartograph/services/kgraph/ingest"
)

var (
	ingestDiffMode bool
	ingestDiffName string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest PATH",
	Short: "Ingest parse-result documents or a unified diff",
	Long: `Ingests one parse-result document, a directory of them, or (with
--diff) a unified diff file.

The live graph is in-memory, so a one-shot run is primarily a
validation and stats pass; with a Postgres history backend the run's
entity versions and temporal edges are recorded durably.

Examples:
  cartograph ingest ./parse-results
  cartograph ingest ./parse-results/app.ts.json
  cartograph ingest --diff --name "fix login retries" fix.patch`,
	Args: cobra.ExactArgs(1),
	Run:  runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestDiffMode, "diff", false,
		"Treat PATH as a unified diff instead of parse results")
	ingestCmd.Flags().StringVar(&ingestDiffName, "name", "",
		"Label for the change set (diff mode only)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	if ingestDiffMode {
		runIngestDiff(ctx, a, args[0])
		return
	}

	info, err := os.Stat(args[0])
	if err != nil {
		fatal(err)
	}

	var stats *ingest.Stats
	if info.IsDir() {
		stats, err = a.pipeline.IngestDir(ctx, args[0])
	} else {
		stats, err = a.pipeline.IngestFile(ctx, args[0])
	}
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Ingested %d files (%d skipped, %d failed)\n",
		stats.FilesIngested, stats.FilesSkipped, stats.FilesFailed)
	fmt.Printf("  %d entities, %d relationships\n",
		stats.Entities, stats.Relationships)
}

func runIngestDiff(ctx context.Context, a *app, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal(fmt.Errorf("read diff: %w", err))
	}

	res, err := a.pipeline.IngestDiff(ctx, ingestDiffName, string(data))
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Change %s: %d files touched, +%d -%d\n",
		res.ChangeID, res.FilesAffected, res.LinesAdded, res.LinesRemoved)
	for _, f := range res.Linked {
		fmt.Printf("  linked   %s\n", f)
	}
	for _, f := range res.Unknown {
		fmt.Printf("  unknown  %s\n", f)
	}
}
