// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
	"github.com/AleutianAI/Cartograph/services/kgraph/resolve"
)

// ============================================================
// Test fixtures
// ============================================================

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

// newTestEngine indexes the given parse results and builds an engine
// over them.
func newTestEngine(files []*ast.ParseResult, opts ...EngineOption) *Engine {
	symbols := NewSymbolIndex()
	exports := resolve.NewExportIndex()
	for _, r := range files {
		symbols.AddFile(r)
		exports.AddFile(r)
	}
	opts = append([]EngineOption{WithEngineLogger(quietLogger())}, opts...)
	return NewEngine(symbols, resolve.NewResolver(exports), opts...)
}

func exportedSym(path string, line int, name string, kind ast.SymbolKind) *ast.Symbol {
	s := sym(path, line, name, kind)
	s.Exported = true
	return s
}

// inputFor derives the extraction input from a parse result.
func inputFor(r *ast.ParseResult) ExtractInput {
	importMap, importSymbolMap := r.BuildImportMaps()
	return ExtractInput{
		FilePath:        r.FilePath,
		FileEntityID:    FileEntityID(r.FilePath),
		Symbols:         r.Symbols,
		ImportMap:       importMap,
		ImportSymbolMap: importSymbolMap,
		Identifiers:     r.Identifiers,
		Instantiations:  r.Instantiations,
		Assignments:     r.Assignments,
	}
}

func edgesOfType(edges []*graph.Relationship, typ graph.RelationType) []*graph.Relationship {
	var out []*graph.Relationship
	for _, e := range edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// fileA exports foo; the import scenario tests resolve against it.
func fixtureFileA() *ast.ParseResult {
	return &ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{exportedSym("src/a.ts", 1, "foo", ast.SymbolKindFunction)},
		Exports:  []ast.ExportDecl{{Name: "foo"}},
	}
}

// ============================================================
// Input validation
// ============================================================

func TestExtract_InputValidation(t *testing.T) {
	e := newTestEngine(nil)

	//nolint:staticcheck // nil context is the case under test
	_, err := e.Extract(nil, ExtractInput{FilePath: "a.ts", FileEntityID: "file:a.ts"})
	assert.ErrorIs(t, err, graph.ErrNilContext)

	_, err = e.Extract(context.Background(), ExtractInput{FileEntityID: "file:a.ts"})
	assert.ErrorIs(t, err, graph.ErrInvalidInput)

	_, err = e.Extract(context.Background(), ExtractInput{FilePath: "a.ts"})
	assert.ErrorIs(t, err, graph.ErrInvalidInput)
}

func TestExtract_EmptyInputYieldsNoEdges(t *testing.T) {
	e := newTestEngine(nil)

	edges, err := e.Extract(context.Background(), ExtractInput{
		FilePath:     "src/empty.ts",
		FileEntityID: FileEntityID("src/empty.ts"),
	})
	require.NoError(t, err)
	assert.Empty(t, edges)
}

// ============================================================
// Cross-file import scenario
// ============================================================

func TestExtract_ImportedReference(t *testing.T) {
	fileA := fixtureFileA()
	fileB := &ast.ParseResult{
		FilePath: "src/b.ts",
		Language: "typescript",
		Imports: []ast.Import{
			{Path: "./a", Names: []string{"foo"}, IsRelative: true},
		},
		Identifiers: []ast.IdentifierUse{
			{Name: "foo", Location: ast.Location{FilePath: "src/b.ts", StartLine: 3}},
		},
	}

	e := newTestEngine([]*ast.ParseResult{fileA, fileB})
	edges, err := e.Extract(context.Background(), inputFor(fileB))
	require.NoError(t, err)
	require.Len(t, edges, 2)

	refs := edgesOfType(edges, graph.RelationReferences)
	require.Len(t, refs, 1)
	ref := refs[0]
	assert.Equal(t, "file:src/b.ts", ref.FromEntityID)
	assert.Equal(t, "src/a.ts:1:foo", ref.ToEntityID)
	assert.Equal(t, graph.ScopeImported, ref.Metadata.Scope)
	assert.Equal(t, graph.ResolutionViaImport, ref.Metadata.Resolution)
	assert.True(t, ref.Metadata.Inferred)
	assert.GreaterOrEqual(t, ref.Metadata.Confidence, DefaultMinConfidence)
	assert.Equal(t, 1, ref.Metadata.OccurrencesScan)
	assert.Equal(t, 3, ref.Metadata.Line)

	deps := edgesOfType(edges, graph.RelationDependsOn)
	require.Len(t, deps, 1)
	dep := deps[0]
	assert.Equal(t, "file:src/b.ts", dep.FromEntityID)
	assert.Equal(t, "file:src/a.ts", dep.ToEntityID)
	assert.Equal(t, "dependency", dep.Metadata.Kind)
	assert.Equal(t, graph.ScopeImported, dep.Metadata.Scope)
	assert.Equal(t, 1, dep.Metadata.OccurrencesScan)
}

// ============================================================
// Aggregation
// ============================================================

func TestExtract_AggregationCollapsesRepeats(t *testing.T) {
	fileA := fixtureFileA()
	fileB := &ast.ParseResult{
		FilePath: "src/b.ts",
		Language: "typescript",
		Imports: []ast.Import{
			{Path: "./a", Names: []string{"foo"}, IsRelative: true},
		},
		Identifiers: []ast.IdentifierUse{
			{Name: "foo", Location: ast.Location{FilePath: "src/b.ts", StartLine: 9}},
			{Name: "foo", Location: ast.Location{FilePath: "src/b.ts", StartLine: 4}},
		},
	}

	e := newTestEngine([]*ast.ParseResult{fileA, fileB})
	edges, err := e.Extract(context.Background(), inputFor(fileB))
	require.NoError(t, err)

	refs := edgesOfType(edges, graph.RelationReferences)
	require.Len(t, refs, 1, "repeated observations collapse to one edge per pair")
	assert.Equal(t, 2, refs[0].Metadata.OccurrencesScan)
	assert.Equal(t, 4, refs[0].Metadata.Line, "earliest observed line wins")

	deps := edgesOfType(edges, graph.RelationDependsOn)
	require.Len(t, deps, 1)
	assert.Equal(t, 2, deps[0].Metadata.OccurrencesScan)
}

func TestExtract_Idempotent(t *testing.T) {
	fileA := fixtureFileA()
	fileB := &ast.ParseResult{
		FilePath: "src/b.ts",
		Language: "typescript",
		Imports: []ast.Import{
			{Path: "./a", Names: []string{"foo"}, IsRelative: true},
		},
		Identifiers: []ast.IdentifierUse{
			{Name: "foo", Location: ast.Location{FilePath: "src/b.ts", StartLine: 9}},
			{Name: "foo", Location: ast.Location{FilePath: "src/b.ts", StartLine: 4}},
		},
	}

	e := newTestEngine([]*ast.ParseResult{fileA, fileB})

	first, err := e.Extract(context.Background(), inputFor(fileB))
	require.NoError(t, err)
	second, err := e.Extract(context.Background(), inputFor(fileB))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Metadata, second[i].Metadata)
	}
}

// ============================================================
// Gate stages
// ============================================================

func TestExtract_ExactDedupForNonAggregated(t *testing.T) {
	file := &ast.ParseResult{
		FilePath: "src/c.ts",
		Language: "typescript",
		Symbols: []*ast.Symbol{
			sym("src/c.ts", 1, "build", ast.SymbolKindFunction),
			sym("src/c.ts", 5, "Widget", ast.SymbolKindClass),
		},
		Instantiations: []ast.Instantiation{
			{TypeName: "Widget", EnclosingSymbolID: "src/c.ts:1:build", Location: ast.Location{StartLine: 2}},
			{TypeName: "Widget", EnclosingSymbolID: "src/c.ts:1:build", Location: ast.Location{StartLine: 3}},
		},
	}

	e := newTestEngine([]*ast.ParseResult{file})
	edges, err := e.Extract(context.Background(), inputFor(file))
	require.NoError(t, err)

	uses := edgesOfType(edges, graph.RelationUses)
	require.Len(t, uses, 1, "identical (from,type,to) collapses to one edge")
	assert.Equal(t, "src/c.ts:5:Widget", uses[0].ToEntityID)
	assert.Equal(t, "instantiation", uses[0].Metadata.Kind)
}

func TestExtract_NoiseGate(t *testing.T) {
	file := &ast.ParseResult{
		FilePath: "src/c.ts",
		Language: "typescript",
		Identifiers: []ast.IdentifierUse{
			{Name: "xy", Location: ast.Location{StartLine: 1}},
			{Name: "console", Location: ast.Location{StartLine: 2}},
			{Name: "Promise", Location: ast.Location{StartLine: 3}},
		},
	}

	e := newTestEngine([]*ast.ParseResult{file})
	edges, err := e.Extract(context.Background(), inputFor(file))
	require.NoError(t, err)
	assert.Empty(t, edges, "short and stop-listed placeholder names never become edges")
}

func TestExtract_ConfidenceGate(t *testing.T) {
	file := &ast.ParseResult{
		FilePath: "src/c.ts",
		Language: "typescript",
		Identifiers: []ast.IdentifierUse{
			{Name: "abcd", Location: ast.Location{StartLine: 1}},
		},
	}

	// Default threshold: a weak external reference never surfaces.
	e := newTestEngine([]*ast.ParseResult{file})
	edges, err := e.Extract(context.Background(), inputFor(file))
	require.NoError(t, err)
	assert.Empty(t, edges)

	// Lowering the threshold admits the same edge, proving the gate and
	// not some other stage dropped it.
	loose := newTestEngine([]*ast.ParseResult{file}, WithMinConfidence(0.40))
	edges, err = loose.Extract(context.Background(), inputFor(file))
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "external:abcd", edges[0].ToEntityID)
	assert.True(t, edges[0].Metadata.Inferred)
	assert.Less(t, edges[0].Metadata.Confidence, DefaultMinConfidence)
}

// ============================================================
// Assignment scenario
// ============================================================

func TestExtract_CompoundAssignmentWrites(t *testing.T) {
	file := &ast.ParseResult{
		FilePath: "src/c.ts",
		Language: "typescript",
		Symbols: []*ast.Symbol{
			sym("src/c.ts", 1, "f", ast.SymbolKindFunction),
			func() *ast.Symbol {
				x := sym("src/c.ts", 3, "X", ast.SymbolKindClass)
				x.Children = []*ast.Symbol{sym("src/c.ts", 4, "count", ast.SymbolKindProperty)}
				return x
			}(),
		},
		Assignments: []ast.Assignment{
			{
				Operator:          "+=",
				EnclosingSymbolID: "src/c.ts:1:f",
				Targets: []ast.AssignTarget{
					{Name: "x", Property: "count", AccessPath: "x.count", Location: ast.Location{StartLine: 8}},
				},
				Location: ast.Location{StartLine: 8},
			},
		},
	}

	e := newTestEngine([]*ast.ParseResult{file})
	edges, err := e.Extract(context.Background(), inputFor(file))
	require.NoError(t, err)

	require.Len(t, edges, 1, "x.count += 1 emits exactly one WRITES edge")
	w := edges[0]
	assert.Equal(t, graph.RelationWrites, w.Type)
	assert.Equal(t, "src/c.ts:1:f", w.FromEntityID)
	assert.Equal(t, "src/c.ts:4:count", w.ToEntityID)
	assert.Equal(t, "+=", w.Metadata.Operator)
	assert.Equal(t, "x.count", w.Metadata.AccessPath)
	assert.NotEmpty(t, w.Metadata.DataFlowID)
	assert.Equal(t, 1, w.Metadata.OccurrencesScan)
}

func TestExtract_DataFlowGroupsSameVariable(t *testing.T) {
	// A write and a read of the same access path share a dataFlowId;
	// a different variable gets a different one.
	file := &ast.ParseResult{
		FilePath: "src/c.ts",
		Language: "typescript",
		Symbols: []*ast.Symbol{
			sym("src/c.ts", 1, "f", ast.SymbolKindFunction),
			sym("src/c.ts", 3, "count", ast.SymbolKindProperty),
			sym("src/c.ts", 4, "limit", ast.SymbolKindProperty),
		},
		Assignments: []ast.Assignment{
			{
				Operator:          "=",
				EnclosingSymbolID: "src/c.ts:1:f",
				Targets: []ast.AssignTarget{
					{Name: "x", Property: "count", AccessPath: "x.count", Location: ast.Location{StartLine: 6}},
				},
				Reads: []ast.ValueRef{
					{Name: "x", Property: "count", AccessPath: "x.count", Location: ast.Location{StartLine: 6}},
					{Name: "x", Property: "limit", AccessPath: "x.limit", Location: ast.Location{StartLine: 6}},
				},
				Location: ast.Location{StartLine: 6},
			},
		},
	}

	e := newTestEngine([]*ast.ParseResult{file})
	edges, err := e.Extract(context.Background(), inputFor(file))
	require.NoError(t, err)

	writes := edgesOfType(edges, graph.RelationWrites)
	reads := edgesOfType(edges, graph.RelationReads)
	require.Len(t, writes, 1)
	require.Len(t, reads, 2)

	var countRead, limitRead *graph.Relationship
	for _, r := range reads {
		switch r.Metadata.AccessPath {
		case "x.count":
			countRead = r
		case "x.limit":
			limitRead = r
		}
	}
	require.NotNil(t, countRead)
	require.NotNil(t, limitRead)

	assert.Equal(t, writes[0].Metadata.DataFlowID, countRead.Metadata.DataFlowID)
	assert.NotEqual(t, countRead.Metadata.DataFlowID, limitRead.Metadata.DataFlowID)
}
