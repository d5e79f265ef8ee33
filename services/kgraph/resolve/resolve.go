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

// MaxReExportDepth bounds how many re-export hops a resolution follows
// before giving up. Chains deeper than this are treated as unresolved and
// the caller falls back to a placeholder target.
const MaxReExportDepth = 5

// Target is a successful resolution: the file that terminally defines
// the name, the name as declared in that file, and how many re-export
// hops were followed to get there. Depth 0 means the aliased module
// defines the name itself.
type Target struct {
	FileRel string
	Name    string
	Depth   int
}

// Resolver answers "which file defines this imported name" against an
// ExportIndex. It holds no state of its own and is safe for concurrent
// use.
type Resolver struct {
	index *ExportIndex
}

// NewResolver returns a resolver over the given index.
func NewResolver(index *ExportIndex) *Resolver {
	return &Resolver{index: index}
}

// Index returns the underlying export index.
func (r *Resolver) Index() *ExportIndex {
	return r.index
}

// Resolve finds the file that terminally defines an imported name.
//
// memberAlias is the local binding introduced by an import statement;
// exportedName is the name it is expected to export. For a plain named
// import the two are equal; for a namespace member access
// ("import * as NS" then "NS.helper") the alias is "NS" and the exported
// name "helper". importMap binds aliases to module specifiers and
// importSymbolMap records renames ("import { foo as bar }" maps
// "bar" -> "foo") plus default imports (alias -> "default").
//
// Returns nil when the alias is not an import, the module is not indexed
// (external dependency), the name is never terminally defined, or the
// re-export chain exceeds MaxReExportDepth.
func (r *Resolver) Resolve(memberAlias, exportedName, sourceFile string, importMap, importSymbolMap map[string]string) *Target {
	if r == nil || r.index == nil || memberAlias == "" {
		return nil
	}

	spec, ok := importMap[memberAlias]
	if !ok {
		return nil
	}

	name := exportedName
	if name == "" || name == memberAlias {
		// Direct use of the binding itself: apply any recorded rename so
		// "import { foo as bar }" searches the source module for "foo"
		// and a default import searches for "default".
		if original, renamed := importSymbolMap[memberAlias]; renamed {
			name = original
		} else if name == "" {
			name = memberAlias
		}
	}

	moduleFile := r.index.ResolveSpecifier(sourceFile, spec)
	if moduleFile == "" {
		return nil
	}

	visited := make(map[string]struct{})
	return r.follow(moduleFile, name, 0, visited)
}

// follow walks re-export chains from one module. visited keys
// (file, name) pairs so export cycles terminate before the depth bound.
func (r *Resolver) follow(moduleFile, name string, depth int, visited map[string]struct{}) *Target {
	if depth > MaxReExportDepth {
		return nil
	}

	key := moduleFile + "\x00" + name
	if _, seen := visited[key]; seen {
		return nil
	}
	visited[key] = struct{}{}

	entry := r.index.exports(moduleFile)
	if entry == nil {
		return nil
	}

	if e, ok := entry.names[name]; ok {
		if e.from == "" {
			definedName := name
			if e.localName != "" {
				definedName = e.localName
			}
			return &Target{FileRel: moduleFile, Name: definedName, Depth: depth}
		}

		// Re-export: continue in the source module under the name it is
		// exported from there ("export { X as Y } from './z'" searches
		// z for "X").
		nextName := name
		if e.localName != "" {
			nextName = e.localName
		}
		next := r.index.ResolveSpecifier(moduleFile, e.from)
		if next == "" {
			return nil
		}
		return r.follow(next, nextName, depth+1, visited)
	}

	// "export *" forwards named exports but never the default export.
	if name == "default" {
		return nil
	}
	for _, spec := range entry.wildcards {
		next := r.index.ResolveSpecifier(moduleFile, spec)
		if next == "" {
			continue
		}
		if t := r.follow(next, name, depth+1, visited); t != nil {
			return t
		}
	}

	return nil
}
