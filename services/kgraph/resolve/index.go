// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve maps imported names to the files that define them.
//
// The ExportIndex is a precomputed view of every ingested module's export
// surface. Resolver walks that index, following re-export chains
// ("export { X } from './y'") to a bounded depth, and returns the first
// module that terminally defines the requested name. Resolution is a pure
// lookup: no I/O, no graph mutation. Callers that get a nil result fall
// back to placeholder targets.
package resolve

import (
	"path"
	"strings"
	"sync"

	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
)

// sourceExtensions are the file extensions stripped when registering
// lookup stems, so "./util" matches "src/util.ts". Longest suffixes
// first: ".d.ts" must win over ".ts".
var sourceExtensions = []string{
	".d.ts",
	".ts", ".tsx", ".mts", ".cts",
	".js", ".jsx", ".mjs", ".cjs",
	".py", ".go",
}

// exportEntry is one name a module makes visible to importers.
type exportEntry struct {
	// localName is the in-module name when it differs from the exported
	// one ("export { foo as bar }" stores "foo").
	localName string

	// from is the source module specifier for re-exports. Empty means
	// the module defines the name terminally.
	from string
}

// moduleEntry holds the export surface of one indexed file.
type moduleEntry struct {
	// names maps exported name -> entry, including the "default" export.
	names map[string]exportEntry

	// wildcards lists "export * from" specifiers in declaration order.
	wildcards []string
}

// ExportIndex is the precomputed module-exports table the resolver reads.
//
// Files are keyed by their project-relative path exactly as reported in
// ast.ParseResult.FilePath. A secondary stem table lets extension-less and
// directory ("./util" -> "src/util/index.ts") specifiers find the right
// file. Safe for concurrent use; ingestion adds files while extraction
// resolves against the same index.
type ExportIndex struct {
	mu      sync.RWMutex
	modules map[string]*moduleEntry
	stems   map[string]string // extension-less path -> file path
}

// NewExportIndex returns an empty index.
func NewExportIndex() *ExportIndex {
	return &ExportIndex{
		modules: make(map[string]*moduleEntry),
		stems:   make(map[string]string),
	}
}

// AddFile records the export surface of one parsed file, replacing any
// previous entry for the same path.
//
// Two sources feed the entry: explicit export declarations (including
// re-exports and wildcards), and exported top-level symbols, which
// languages like Python and Go expose without a declaration. Explicit
// declarations win on name collisions.
func (x *ExportIndex) AddFile(r *ast.ParseResult) {
	if r == nil || r.FilePath == "" {
		return
	}

	entry := &moduleEntry{names: make(map[string]exportEntry)}

	for _, s := range r.Symbols {
		if s == nil || !s.Exported || s.Name == "" {
			continue
		}
		entry.names[s.Name] = exportEntry{}
	}

	for _, e := range r.Exports {
		if e.IsWildcard {
			entry.wildcards = append(entry.wildcards, e.From)
			continue
		}
		name := e.Name
		if e.IsDefault {
			name = "default"
		}
		if name == "" {
			continue
		}
		entry.names[name] = exportEntry{localName: e.LocalName, from: e.From}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(r.FilePath)
	x.modules[r.FilePath] = entry
	for _, stem := range lookupStems(r.FilePath) {
		x.stems[stem] = r.FilePath
	}
}

// RemoveFile drops a file from the index. Used when a file is deleted or
// about to be re-ingested under a changed path.
func (x *ExportIndex) RemoveFile(filePath string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(filePath)
}

func (x *ExportIndex) removeLocked(filePath string) {
	if _, ok := x.modules[filePath]; !ok {
		return
	}
	delete(x.modules, filePath)
	for _, stem := range lookupStems(filePath) {
		if x.stems[stem] == filePath {
			delete(x.stems, stem)
		}
	}
}

// Len returns the number of indexed files.
func (x *ExportIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.modules)
}

// Contains reports whether the exact file path is indexed.
func (x *ExportIndex) Contains(filePath string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.modules[filePath]
	return ok
}

// ResolveSpecifier maps a module specifier appearing in fromFile to the
// indexed file it denotes. Relative specifiers are joined against the
// importing file's directory; bare specifiers are treated as project-root
// relative only when they match an indexed stem. Returns "" when nothing
// indexed matches, which callers treat as an external module.
func (x *ExportIndex) ResolveSpecifier(fromFile, spec string) string {
	if spec == "" {
		return ""
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if isRelativeSpecifier(spec) {
		joined := path.Clean(path.Join(path.Dir(fromFile), spec))
		return x.lookupLocked(joined)
	}
	return x.lookupLocked(spec)
}

// lookupLocked tries the candidate as an exact file, an extension-less
// stem, and a directory with an index module, in that order.
func (x *ExportIndex) lookupLocked(candidate string) string {
	if _, ok := x.modules[candidate]; ok {
		return candidate
	}
	if file, ok := x.stems[candidate]; ok {
		return file
	}
	if file, ok := x.stems[candidate+"/index"]; ok {
		return file
	}
	return ""
}

// exports returns the entry for an exact file path, or nil.
func (x *ExportIndex) exports(filePath string) *moduleEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.modules[filePath]
}

// lookupStems returns the stem keys a file registers: the file path
// itself plus its extension-less form. "src/util/index.ts" registers
// "src/util/index.ts" and "src/util/index"; directory lookups append
// "/index" at query time.
func lookupStems(filePath string) []string {
	stems := []string{filePath}
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(filePath, ext) {
			stems = append(stems, strings.TrimSuffix(filePath, ext))
			break
		}
	}
	return stems
}

func isRelativeSpecifier(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		spec == "." || spec == ".."
}
