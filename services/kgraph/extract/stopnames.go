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

// stopNames are identifiers too common or too global to be worth a
// placeholder edge. Matching is case-sensitive: "Error" the global is
// noise, "error" a user type may not be.
var stopNames = map[string]struct{}{
	// runtime globals
	"console":    {},
	"window":     {},
	"document":   {},
	"globalThis": {},
	"process":    {},
	"require":    {},
	"module":     {},
	"exports":    {},
	"this":       {},
	"self":       {},
	"super":      {},
	"arguments":  {},

	// builtin constructors and namespaces
	"Object":   {},
	"Array":    {},
	"String":   {},
	"Number":   {},
	"Boolean":  {},
	"Function": {},
	"Symbol":   {},
	"Math":     {},
	"JSON":     {},
	"Date":     {},
	"RegExp":   {},
	"Error":    {},
	"Promise":  {},
	"Map":      {},
	"Set":      {},
	"WeakMap":  {},
	"WeakSet":  {},
	"Proxy":    {},
	"Reflect":  {},

	// language keywords that leak through loose parsers
	"undefined": {},
	"null":      {},
	"true":      {},
	"false":     {},
	"NaN":       {},
	"Infinity":  {},

	// member names present on nearly everything
	"constructor": {},
	"prototype":   {},
	"length":      {},
	"toString":    {},
	"valueOf":     {},

	// throwaway locals
	"data":   {},
	"value":  {},
	"result": {},
	"err":    {},
	"args":   {},
	"opts":   {},
	"props":  {},
	"item":   {},
	"temp":   {},
	"tmp":    {},
}

// IsStopName reports whether the identifier is in the stop-name set.
func IsStopName(name string) bool {
	_, ok := stopNames[name]
	return ok
}
