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
	"strings"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// Target id construction and classification.
//
// Concrete symbol ids come from the parser ("path:line:name"). Everything
// the extractor cannot pin to a declared symbol becomes a placeholder:
//
//	file:<path>:<name>   a name believed to live in a known file
//	class:<name>         an instantiated type with no known declaration
//	external:<name>      a name from outside the project
//	module:<specifier>   a validated external dependency
//
// File entities themselves use "file:<path>" (one colon), which is a
// concrete id, not a placeholder.

// FileEntityID returns the graph entity id for a source file.
func FileEntityID(path string) string {
	return "file:" + path
}

// filePlaceholder builds a file-scoped name placeholder.
func filePlaceholder(path, name string) string {
	return "file:" + path + ":" + name
}

// classPlaceholder builds an untyped instantiation placeholder.
func classPlaceholder(name string) string {
	return "class:" + name
}

// externalPlaceholder builds an out-of-project name placeholder.
func externalPlaceholder(name string) string {
	return "external:" + name
}

// isFilePlaceholder distinguishes "file:<path>:<name>" placeholders from
// concrete "file:<path>" entity ids by the second colon.
func isFilePlaceholder(id string) bool {
	rest, ok := strings.CutPrefix(id, "file:")
	return ok && strings.Contains(rest, ":")
}

// isPlaceholder reports whether the id still needs concretization.
func isPlaceholder(id string) bool {
	return strings.HasPrefix(id, "external:") ||
		strings.HasPrefix(id, "class:") ||
		isFilePlaceholder(id)
}

// isGatedPlaceholder reports whether the id is one of the low-trust
// placeholder families the noise gate inspects.
func isGatedPlaceholder(id string) bool {
	return strings.HasPrefix(id, "external:") || strings.HasPrefix(id, "class:")
}

// bareName extracts the name component a placeholder or module id refers
// to: the segment after the last colon, or the whole id when there is
// none. "external:lodash" -> "lodash", "src/a.ts:3:helper" -> "helper".
func bareName(id string) string {
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// defaultScope derives the scope classification from the target id
// prefix when the resolution strategy did not set one explicitly.
func defaultScope(toID string) string {
	switch {
	case strings.HasPrefix(toID, "external:"):
		return graph.ScopeExternal
	case strings.HasPrefix(toID, "module:"):
		return graph.ScopeExternal
	case strings.HasPrefix(toID, "file:"):
		return graph.ScopeImported
	default:
		return graph.ScopeUnknown
	}
}
