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
	"sync"

	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
)

// IndexedSymbol is the projection of a declared symbol the extractor
// needs for concretization: identity, name, owner file, and export
// visibility.
type IndexedSymbol struct {
	ID       string
	Name     string
	FilePath string
	Kind     ast.SymbolKind
	Exported bool
}

// SymbolIndex is the project-wide symbol table placeholder targets are
// concretized against. It indexes every declared symbol (including
// nested children) by id, by bare name, and by (file, name).
//
// Safe for concurrent use; ingestion updates it file by file while
// extraction reads it.
type SymbolIndex struct {
	mu         sync.RWMutex
	byID       map[string]IndexedSymbol
	byName     map[string][]string // name -> symbol ids, insertion order
	byFileName map[string][]string // file + name -> symbol ids
	fileIDs    map[string][]string // file -> symbol ids, for removal
}

// NewSymbolIndex returns an empty index.
func NewSymbolIndex() *SymbolIndex {
	return &SymbolIndex{
		byID:       make(map[string]IndexedSymbol),
		byName:     make(map[string][]string),
		byFileName: make(map[string][]string),
		fileIDs:    make(map[string][]string),
	}
}

func fileNameKey(filePath, name string) string {
	return filePath + "\x00" + name
}

// AddFile indexes all symbols of a parse result, replacing anything
// previously indexed for the same file.
func (x *SymbolIndex) AddFile(r *ast.ParseResult) {
	if r == nil || r.FilePath == "" {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeFileLocked(r.FilePath)

	stack := make([]*ast.Symbol, 0, len(r.Symbols))
	for i := len(r.Symbols) - 1; i >= 0; i-- {
		if r.Symbols[i] != nil {
			stack = append(stack, r.Symbols[i])
		}
	}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.ID != "" && s.Name != "" {
			x.addLocked(IndexedSymbol{
				ID:       s.ID,
				Name:     s.Name,
				FilePath: r.FilePath,
				Kind:     s.Kind,
				Exported: s.Exported,
			}, r.FilePath)
		}

		for i := len(s.Children) - 1; i >= 0; i-- {
			if s.Children[i] != nil {
				stack = append(stack, s.Children[i])
			}
		}
	}
}

func (x *SymbolIndex) addLocked(sym IndexedSymbol, filePath string) {
	if _, exists := x.byID[sym.ID]; exists {
		return
	}
	x.byID[sym.ID] = sym
	x.byName[sym.Name] = append(x.byName[sym.Name], sym.ID)
	key := fileNameKey(filePath, sym.Name)
	x.byFileName[key] = append(x.byFileName[key], sym.ID)
	x.fileIDs[filePath] = append(x.fileIDs[filePath], sym.ID)
}

// RemoveFile drops every symbol indexed for the file.
func (x *SymbolIndex) RemoveFile(filePath string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeFileLocked(filePath)
}

func (x *SymbolIndex) removeFileLocked(filePath string) {
	ids := x.fileIDs[filePath]
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		sym, ok := x.byID[id]
		if !ok {
			continue
		}
		delete(x.byID, id)
		x.byName[sym.Name] = removeID(x.byName[sym.Name], id)
		if len(x.byName[sym.Name]) == 0 {
			delete(x.byName, sym.Name)
		}
		key := fileNameKey(filePath, sym.Name)
		x.byFileName[key] = removeID(x.byFileName[key], id)
		if len(x.byFileName[key]) == 0 {
			delete(x.byFileName, key)
		}
	}
	delete(x.fileIDs, filePath)
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Get returns the symbol with the exact id.
func (x *SymbolIndex) Get(id string) (IndexedSymbol, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	sym, ok := x.byID[id]
	return sym, ok
}

// LookupName returns all symbols declared under the bare name, across
// every indexed file, in indexing order.
func (x *SymbolIndex) LookupName(name string) []IndexedSymbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collectLocked(x.byName[name])
}

// LookupFileName returns the symbols declared under the name inside one
// file.
func (x *SymbolIndex) LookupFileName(filePath, name string) []IndexedSymbol {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collectLocked(x.byFileName[fileNameKey(filePath, name)])
}

func (x *SymbolIndex) collectLocked(ids []string) []IndexedSymbol {
	if len(ids) == 0 {
		return nil
	}
	out := make([]IndexedSymbol, 0, len(ids))
	for _, id := range ids {
		if sym, ok := x.byID[id]; ok {
			out = append(out, sym)
		}
	}
	return out
}

// Len returns the number of indexed symbols.
func (x *SymbolIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}
