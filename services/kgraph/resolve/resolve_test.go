// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
)

// chainIndex builds src/b0.ts re-exporting from b1, b1 from b2, and so
// on; the final module defines "deep" terminally.
func chainIndex(hops int) *ExportIndex {
	idx := NewExportIndex()
	for i := 0; i < hops; i++ {
		idx.AddFile(parsed(fmt.Sprintf("src/b%d.ts", i), []ast.ExportDecl{
			{Name: "deep", From: fmt.Sprintf("./b%d", i+1)},
		}))
	}
	idx.AddFile(parsed(fmt.Sprintf("src/b%d.ts", hops), []ast.ExportDecl{
		{Name: "deep"},
	}))
	return idx
}

func TestResolver_DirectExport(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/util.ts", []ast.ExportDecl{{Name: "helper"}}))

	r := NewResolver(idx)
	target := r.Resolve("helper", "helper", "src/main.ts",
		map[string]string{"helper": "./util"}, nil)

	require.NotNil(t, target)
	assert.Equal(t, "src/util.ts", target.FileRel)
	assert.Equal(t, "helper", target.Name)
	assert.Equal(t, 0, target.Depth)
}

func TestResolver_RenamedImport(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/util.ts", []ast.ExportDecl{{Name: "foo"}}))

	// import { foo as bar } from './util'
	r := NewResolver(idx)
	target := r.Resolve("bar", "bar", "src/main.ts",
		map[string]string{"bar": "./util"},
		map[string]string{"bar": "foo"})

	require.NotNil(t, target)
	assert.Equal(t, "foo", target.Name)
}

func TestResolver_DefaultImport(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/widget.ts", []ast.ExportDecl{
		{Name: "Widget", IsDefault: true, LocalName: "Widget"},
	}))

	// import W from './widget'
	r := NewResolver(idx)
	target := r.Resolve("W", "W", "src/main.ts",
		map[string]string{"W": "./widget"},
		map[string]string{"W": "default"})

	require.NotNil(t, target)
	assert.Equal(t, "src/widget.ts", target.FileRel)
	assert.Equal(t, "Widget", target.Name)
}

func TestResolver_NamespaceMember(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/api.ts", []ast.ExportDecl{{Name: "fetchAll"}}))

	// import * as API from './api'; API.fetchAll()
	r := NewResolver(idx)
	target := r.Resolve("API", "fetchAll", "src/main.ts",
		map[string]string{"API": "./api"}, nil)

	require.NotNil(t, target)
	assert.Equal(t, "src/api.ts", target.FileRel)
	assert.Equal(t, "fetchAll", target.Name)
}

func TestResolver_ReExportChain(t *testing.T) {
	// barrel.ts re-exports from inner.ts, which defines the symbol with
	// a rename on the way through.
	idx := NewExportIndex()
	idx.AddFile(parsed("src/barrel.ts", []ast.ExportDecl{
		{Name: "helper", LocalName: "innerHelper", From: "./inner"},
	}))
	idx.AddFile(parsed("src/inner.ts", []ast.ExportDecl{{Name: "innerHelper"}}))

	r := NewResolver(idx)
	target := r.Resolve("helper", "helper", "src/main.ts",
		map[string]string{"helper": "./barrel"}, nil)

	require.NotNil(t, target)
	assert.Equal(t, "src/inner.ts", target.FileRel)
	assert.Equal(t, "innerHelper", target.Name)
	assert.Equal(t, 1, target.Depth)
}

func TestResolver_DepthBound(t *testing.T) {
	r := NewResolver(chainIndex(MaxReExportDepth))
	imports := map[string]string{"deep": "./b0"}

	// Exactly at the bound: resolvable.
	target := r.Resolve("deep", "deep", "src/main.ts", imports, nil)
	require.NotNil(t, target)
	assert.Equal(t, MaxReExportDepth, target.Depth)
	assert.Equal(t, fmt.Sprintf("src/b%d.ts", MaxReExportDepth), target.FileRel)

	// One hop past the bound: unresolved.
	r = NewResolver(chainIndex(MaxReExportDepth + 1))
	assert.Nil(t, r.Resolve("deep", "deep", "src/main.ts", imports, nil))
}

func TestResolver_WildcardReExport(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/barrel.ts", []ast.ExportDecl{
		{IsWildcard: true, From: "./a"},
		{IsWildcard: true, From: "./b"},
	}))
	idx.AddFile(parsed("src/a.ts", []ast.ExportDecl{{Name: "fromA"}}))
	idx.AddFile(parsed("src/b.ts", []ast.ExportDecl{
		{Name: "fromB"},
		{Name: "Dflt", IsDefault: true},
	}))

	r := NewResolver(idx)
	imports := map[string]string{
		"fromA": "./barrel",
		"fromB": "./barrel",
		"D":     "./barrel",
	}

	target := r.Resolve("fromB", "fromB", "src/main.ts", imports, nil)
	require.NotNil(t, target)
	assert.Equal(t, "src/b.ts", target.FileRel)
	assert.Equal(t, 1, target.Depth)

	// export * never forwards a default export.
	assert.Nil(t, r.Resolve("D", "D", "src/main.ts", imports,
		map[string]string{"D": "default"}))
}

func TestResolver_CyclicReExports(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/a.ts", []ast.ExportDecl{
		{Name: "ghost", From: "./b"},
	}))
	idx.AddFile(parsed("src/b.ts", []ast.ExportDecl{
		{Name: "ghost", From: "./a"},
	}))

	r := NewResolver(idx)
	assert.Nil(t, r.Resolve("ghost", "ghost", "src/main.ts",
		map[string]string{"ghost": "./a"}, nil))
}

func TestResolver_WildcardCycle(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/a.ts", []ast.ExportDecl{{IsWildcard: true, From: "./b"}}))
	idx.AddFile(parsed("src/b.ts", []ast.ExportDecl{{IsWildcard: true, From: "./a"}}))

	r := NewResolver(idx)
	assert.Nil(t, r.Resolve("missing", "missing", "src/main.ts",
		map[string]string{"missing": "./a"}, nil))
}

func TestResolver_Unresolvable(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/util.ts", []ast.ExportDecl{{Name: "helper"}}))
	r := NewResolver(idx)

	tests := []struct {
		name      string
		alias     string
		exported  string
		importMap map[string]string
	}{
		{"alias not imported", "local", "local", map[string]string{}},
		{"external module", "lodash", "map", map[string]string{"lodash": "lodash"}},
		{"module not indexed", "x", "x", map[string]string{"x": "./missing"}},
		{"name not exported", "nope", "nope", map[string]string{"nope": "./util"}},
		{"empty alias", "", "", map[string]string{"": "./util"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Nil(t, r.Resolve(tc.alias, tc.exported, "src/main.ts", tc.importMap, nil))
		})
	}
}

func TestResolver_ReExportIntoUnindexedModule(t *testing.T) {
	idx := NewExportIndex()
	idx.AddFile(parsed("src/barrel.ts", []ast.ExportDecl{
		{Name: "gone", From: "./vendored"},
	}))

	r := NewResolver(idx)
	assert.Nil(t, r.Resolve("gone", "gone", "src/main.ts",
		map[string]string{"gone": "./barrel"}, nil))
}

func TestResolver_BuildImportMapsIntegration(t *testing.T) {
	// End to end with alias maps produced by the parser output rather
	// than hand-built ones.
	source := &ast.ParseResult{
		FilePath: "src/main.ts",
		Language: "typescript",
		Imports: []ast.Import{
			{
				Path:       "./util",
				Names:      []string{"bar"},
				Renames:    map[string]string{"bar": "foo"},
				IsRelative: true,
			},
		},
	}

	idx := NewExportIndex()
	idx.AddFile(parsed("src/util.ts", []ast.ExportDecl{{Name: "foo"}}))

	importMap, importSymbolMap := source.BuildImportMaps()
	r := NewResolver(idx)

	target := r.Resolve("bar", "bar", source.FilePath, importMap, importSymbolMap)
	require.NotNil(t, target)
	assert.Equal(t, "src/util.ts", target.FileRel)
	assert.Equal(t, "foo", target.Name)
}
