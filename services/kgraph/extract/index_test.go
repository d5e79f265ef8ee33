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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
)

// sym builds a minimal declared symbol for index tests.
func sym(path string, line int, name string, kind ast.SymbolKind) *ast.Symbol {
	return &ast.Symbol{
		ID:        ast.GenerateID(path, line, name),
		Name:      name,
		Kind:      kind,
		FilePath:  path,
		StartLine: line,
		EndLine:   line,
		Language:  "typescript",
	}
}

func TestSymbolIndex_AddAndLookup(t *testing.T) {
	idx := NewSymbolIndex()

	idx.AddFile(&ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols: []*ast.Symbol{
			sym("src/a.ts", 1, "foo", ast.SymbolKindFunction),
			sym("src/a.ts", 9, "Widget", ast.SymbolKindClass),
		},
	})

	assert.Equal(t, 2, idx.Len())

	got, ok := idx.Get("src/a.ts:1:foo")
	require.True(t, ok)
	assert.Equal(t, "foo", got.Name)
	assert.Equal(t, "src/a.ts", got.FilePath)

	byName := idx.LookupName("Widget")
	require.Len(t, byName, 1)
	assert.Equal(t, "src/a.ts:9:Widget", byName[0].ID)

	assert.Empty(t, idx.LookupName("missing"))
}

func TestSymbolIndex_NestedChildren(t *testing.T) {
	parent := sym("src/a.ts", 1, "Widget", ast.SymbolKindClass)
	parent.Children = []*ast.Symbol{
		sym("src/a.ts", 3, "render", ast.SymbolKindMethod),
		sym("src/a.ts", 7, "count", ast.SymbolKindProperty),
	}

	idx := NewSymbolIndex()
	idx.AddFile(&ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{parent},
	})

	assert.Equal(t, 3, idx.Len())
	matches := idx.LookupFileName("src/a.ts", "render")
	require.Len(t, matches, 1)
	assert.Equal(t, ast.SymbolKindMethod, matches[0].Kind)
}

func TestSymbolIndex_LookupFileName(t *testing.T) {
	idx := NewSymbolIndex()

	idx.AddFile(&ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{sym("src/a.ts", 1, "helper", ast.SymbolKindFunction)},
	})
	idx.AddFile(&ast.ParseResult{
		FilePath: "src/b.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{sym("src/b.ts", 4, "helper", ast.SymbolKindFunction)},
	})

	assert.Len(t, idx.LookupName("helper"), 2)
	assert.Len(t, idx.LookupFileName("src/a.ts", "helper"), 1)
	assert.Empty(t, idx.LookupFileName("src/c.ts", "helper"))
}

func TestSymbolIndex_ReplaceOnReAdd(t *testing.T) {
	idx := NewSymbolIndex()

	idx.AddFile(&ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{sym("src/a.ts", 1, "old", ast.SymbolKindFunction)},
	})
	idx.AddFile(&ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{sym("src/a.ts", 2, "renamed", ast.SymbolKindFunction)},
	})

	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.LookupName("old"))
	assert.Len(t, idx.LookupName("renamed"), 1)
}

func TestSymbolIndex_RemoveFile(t *testing.T) {
	idx := NewSymbolIndex()

	idx.AddFile(&ast.ParseResult{
		FilePath: "src/a.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{sym("src/a.ts", 1, "foo", ast.SymbolKindFunction)},
	})
	idx.AddFile(&ast.ParseResult{
		FilePath: "src/b.ts",
		Language: "typescript",
		Symbols:  []*ast.Symbol{sym("src/b.ts", 1, "foo", ast.SymbolKindFunction)},
	})

	idx.RemoveFile("src/a.ts")

	assert.Equal(t, 1, idx.Len())
	remaining := idx.LookupName("foo")
	require.Len(t, remaining, 1)
	assert.Equal(t, "src/b.ts", remaining[0].FilePath)

	// Removing an unknown file is harmless.
	idx.RemoveFile("src/zzz.ts")
	assert.Equal(t, 1, idx.Len())
}
