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
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Cartograph/services/kgraph/history"
)

var (
	ckptSeeds      []string
	ckptHops       int
	ckptReason     string
	ckptFrom       string
	ckptTo         string
	ckptListLimit  int
	ckptExportOut  string
	ckptExportRels bool
	ckptImportKeep bool
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage history checkpoints",
	Long: `Checkpoints capture a named subgraph from the history store: seed
entities, everything reachable within a hop budget over temporal
edges, and an optional validity window. They can be listed,
summarized, exported as snapshots, and re-imported later.`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a checkpoint from seed entities",
	Long: `Creates a checkpoint by expanding the seed entities over the history
store's temporal edges.

Examples:
  cartograph checkpoint create --seed file:src/auth.ts --hops 2
  cartograph checkpoint create --seed file:src/auth.ts --reason incident \
    --from 2025-11-01T00:00:00Z --to 2025-11-02T00:00:00Z`,
	Args: cobra.NoArgs,
	Run:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	Args:  cobra.NoArgs,
	Run:   runCheckpointList,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a checkpoint and its membership summary",
	Args:  cobra.ExactArgs(1),
	Run:   runCheckpointShow,
}

var checkpointExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Export a checkpoint as a snapshot",
	Long: `Exports a checkpoint's members (and optionally the relationships
among them) as a JSON snapshot. Without --out the snapshot goes to
the configured sink: a GCS bucket when history.snapshots.gcsBucket
is set, otherwise the local snapshot directory. Use --out - to
write to stdout.`,
	Args: cobra.ExactArgs(1),
	Run:  runCheckpointExport,
}

var checkpointImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a snapshot into the live graph",
	Long: `Reads a snapshot produced by export and recreates its entities and
relationships in the live graph. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	Run:  runCheckpointImport,
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a checkpoint record",
	Args:  cobra.ExactArgs(1),
	Run:   runCheckpointDelete,
}

func init() {
	checkpointCreateCmd.Flags().StringArrayVar(&ckptSeeds, "seed", nil,
		"Seed entity id (repeatable)")
	checkpointCreateCmd.Flags().IntVar(&ckptHops, "hops", 1,
		"How many hops to expand from the seeds")
	checkpointCreateCmd.Flags().StringVar(&ckptReason, "reason", "manual",
		"Why the checkpoint is taken: manual, daily, or incident")
	checkpointCreateCmd.Flags().StringVar(&ckptFrom, "from", "",
		"Only follow edges valid after this RFC3339 instant")
	checkpointCreateCmd.Flags().StringVar(&ckptTo, "to", "",
		"Only follow edges valid before this RFC3339 instant")

	checkpointListCmd.Flags().IntVar(&ckptListLimit, "limit", 20,
		"Maximum checkpoints to list")

	checkpointExportCmd.Flags().StringVar(&ckptExportOut, "out", "",
		"Write the snapshot to this file instead of the configured sink (- for stdout)")
	checkpointExportCmd.Flags().BoolVar(&ckptExportRels, "include-relationships", true,
		"Include relationships among members in the snapshot")

	checkpointImportCmd.Flags().BoolVar(&ckptImportKeep, "keep-id", false,
		"Keep the snapshot's checkpoint id instead of minting a new one")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointExportCmd)
	checkpointCmd.AddCommand(checkpointImportCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpointCreate(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	window, err := parseWindow(ckptFrom, ckptTo)
	if err != nil {
		fatal(err)
	}

	cp, err := hist.CreateCheckpoint(ctx, ckptSeeds, ckptHops, window, history.Reason(ckptReason))
	if err != nil {
		fatal(err)
	}

	members, err := hist.GetCheckpointMembers(ctx, cp.ID)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Checkpoint %s created (%s, %d seeds, %d hops): %d members\n",
		cp.ID, cp.Reason, len(cp.SeedEntities), cp.Hops, len(members))
}

func runCheckpointList(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	cps, err := hist.ListCheckpoints(ctx, ckptListLimit)
	if err != nil {
		fatal(err)
	}
	if len(cps) == 0 {
		fmt.Println("No checkpoints.")
		return
	}

	for _, cp := range cps {
		fmt.Printf("%s  %-9s %s  seeds=%d hops=%d\n",
			cp.ID, cp.Reason, cp.Created.Format(time.RFC3339),
			len(cp.SeedEntities), cp.Hops)
	}
}

func runCheckpointShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	cp, err := hist.GetCheckpoint(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	sum, err := hist.GetCheckpointSummary(ctx, args[0])
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Checkpoint %s\n", cp.ID)
	fmt.Printf("  reason:  %s\n", cp.Reason)
	fmt.Printf("  created: %s\n", cp.Created.Format(time.RFC3339))
	fmt.Printf("  seeds:   %v\n", cp.SeedEntities)
	fmt.Printf("  hops:    %d\n", cp.Hops)
	if cp.Window != nil {
		fmt.Printf("  window:  %s .. %s\n",
			formatInstant(cp.Window.From), formatInstant(cp.Window.To))
	}
	fmt.Printf("  members: %d entities, %d relationships\n",
		sum.EntityCount, sum.RelationshipCount)
	for _, line := range countLines(sum) {
		fmt.Printf("    %s\n", line)
	}
}

func runCheckpointExport(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	switch {
	case ckptExportOut == "-":
		if err := hist.ExportCheckpoint(ctx, args[0], ckptExportRels, os.Stdout); err != nil {
			fatal(err)
		}
	case ckptExportOut != "":
		f, err := os.Create(ckptExportOut)
		if err != nil {
			fatal(err)
		}
		if err := hist.ExportCheckpoint(ctx, args[0], ckptExportRels, f); err != nil {
			f.Close()
			fatal(err)
		}
		if err := f.Close(); err != nil {
			fatal(err)
		}
		fmt.Printf("Snapshot written to %s\n", ckptExportOut)
	default:
		sink, err := snapshotSink(ctx)
		if err != nil {
			fatal(err)
		}
		location, err := hist.ExportCheckpointTo(ctx, args[0], ckptExportRels, sink)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Snapshot written to %s\n", location)
	}
}

func runCheckpointImport(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	var rd io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			fatal(err)
		}
		defer f.Close()
		rd = f
	}

	report, err := hist.ImportCheckpoint(ctx, rd, a.svc, ckptImportKeep)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Imported checkpoint %s: %d entities linked, %d relationships\n",
		report.CheckpointID, report.Linked, report.Relationships)
	if report.Missing > 0 {
		fmt.Printf("  %d referenced entities missing: %v\n", report.Missing, report.MissingIDs)
	}
}

func runCheckpointDelete(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	a, err := buildApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer a.Close()
	hist := a.requireHistory()

	if err := hist.DeleteCheckpoint(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("Checkpoint %s deleted.\n", args[0])
}

// parseWindow builds a validity window from RFC3339 bounds. Both empty
// means no window.
func parseWindow(from, to string) (*history.Window, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	w := &history.Window{}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, fmt.Errorf("parse --from: %w", err)
		}
		w.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return nil, fmt.Errorf("parse --to: %w", err)
		}
		w.To = t
	}
	return w, nil
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(time.RFC3339)
}

// countLines renders the per-type counts in a stable order.
func countLines(sum *history.Summary) []string {
	lines := make([]string, 0, len(sum.EntitiesByType)+len(sum.RelationshipsByType))
	for typ, n := range sum.EntitiesByType {
		lines = append(lines, fmt.Sprintf("%-14s %d", typ, n))
	}
	for typ, n := range sum.RelationshipsByType {
		lines = append(lines, fmt.Sprintf("%-14s %d", typ, n))
	}
	sort.Strings(lines)
	return lines
}
