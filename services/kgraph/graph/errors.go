// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "errors"

// Sentinel errors returned by the graph package. Callers check these
// with errors.Is; wrapped variants carry operation context.
var (
	// ErrNotFound indicates the requested entity or relationship does
	// not exist. List and search operations never return it; they
	// return empty results instead.
	ErrNotFound = errors.New("graph: not found")

	// ErrInvalidInput indicates a payload failed validation before any
	// storage call was made.
	ErrInvalidInput = errors.New("graph: invalid input")

	// ErrNilContext indicates a nil context was passed to an operation
	// that requires one.
	ErrNilContext = errors.New("graph: nil context")

	// ErrInvalidIdentifier indicates a parameter or property name did
	// not match the identifier grammar and was rejected before query
	// compilation.
	ErrInvalidIdentifier = errors.New("graph: invalid identifier")
)
