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
	"time"

	"github.com/spf13/cobra"
)

var (
	pruneDryRun    bool
	pruneRetention time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove history older than the retention window",
	Long: `Removes superseded entity versions, closed temporal edges, and
checkpoints older than the retention window. The latest version per
entity and all open edges are always kept.

Examples:
  cartograph prune --dry-run
  cartograph prune --retention 720h`,
	Args: cobra.NoArgs,
	Run:  runPrune,
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false,
		"Count what would be removed without deleting anything")
	pruneCmd.Flags().DurationVar(&pruneRetention, "retention", 0,
		"Retention window override (default from config, e.g. 2160h)")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	retention := pruneRetention
	if retention <= 0 {
		retention = cfg.History.Retention.Std()
	}

	report, err := hist.Prune(ctx, retention, pruneDryRun)
	if err != nil {
		fatal(err)
	}

	verb := "Removed"
	if report.DryRun {
		verb = "Would remove"
	}
	fmt.Printf("%s history older than %s:\n", verb, report.Cutoff.Format(time.RFC3339))
	fmt.Printf("  %d superseded versions\n", report.Versions)
	fmt.Printf("  %d closed edges\n", report.ClosedEdges)
	fmt.Printf("  %d checkpoints\n", report.Checkpoints)
}
