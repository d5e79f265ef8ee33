// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"strings"

	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
)

// ContentFor derives the text to embed for an entity. The shape depends
// on the variant: symbols lead with signature and doc comment,
// documentation with title and body, files with path, language, and top
// declarations. Always non-empty for an entity with a non-empty id.
func ContentFor(e *graph.Entity) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	switch {
	case e.Type.IsSymbol():
		add(e.Name)
		add(metaString(e.Metadata, "signature"))
		add(metaString(e.Metadata, "doc_comment"))
		add(e.Path)

	case e.Type == graph.EntityDocumentation || e.Type == graph.EntitySpec:
		title := metaString(e.Metadata, "title")
		if title == "" {
			title = e.Name
		}
		add(title)
		add(metaString(e.Metadata, "body"))
		add(e.Path)

	case e.Type == graph.EntityFile:
		add(e.Path)
		add(e.Language)
		if decls := metaStrings(e.Metadata, "declarations"); len(decls) > 0 {
			add(strings.Join(decls, " "))
		}

	case e.Type == graph.EntityTest:
		add(e.Name)
		add(metaString(e.Metadata, "signature"))
		add(e.Path)

	default:
		add(string(e.Type))
		add(e.Name)
		add(e.Path)
	}

	if len(parts) == 0 {
		return e.ID
	}
	return strings.Join(parts, "\n")
}

// metaString reads a string-valued metadata field, "" when absent or of
// another type.
func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

// metaStrings reads a list-valued metadata field. Accepts []string and
// the []any shape metadata maps have after a JSON round trip.
func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
