// Package ast defines the parse-result input types for the knowledge
// graph pipeline.
//
// Cartograph does not parse source code itself. An external parser emits
// one ParseResult per file: the declared symbols, the import/export
// surface, and the raw syntactic facts (identifier uses, instantiations,
// assignment expressions) that the extraction engine turns into graph
// relationships. All parser integrations produce output conforming to
// these types.
//
// Design principles:
//   - Language-agnostic: types work for any supported language
//   - Timestamps as int64 UnixMilli per project conventions
//   - Concrete types over map[string]interface{}
package ast

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SymbolKind represents the type of code symbol declared in a file.
//
// Language-specific constructs map to the closest general kind (a Python
// class and a TypeScript class both map to SymbolKindClass).
type SymbolKind int

const (
	// SymbolKindUnknown indicates an unrecognized or unparseable symbol.
	SymbolKindUnknown SymbolKind = iota

	// SymbolKindFunction represents a standalone function declaration.
	SymbolKindFunction

	// SymbolKindMethod represents a function attached to a type or class.
	SymbolKindMethod

	// SymbolKindClass represents a class or composite type definition.
	SymbolKindClass

	// SymbolKindInterface represents an interface or protocol definition.
	SymbolKindInterface

	// SymbolKindTypeAlias represents a type alias.
	SymbolKindTypeAlias

	// SymbolKindVariable represents a variable declaration.
	SymbolKindVariable

	// SymbolKindConstant represents a constant declaration.
	SymbolKindConstant

	// SymbolKindProperty represents a field or property of a class.
	SymbolKindProperty

	// SymbolKindEnum represents an enumeration type.
	SymbolKindEnum
)

// symbolKindNames maps SymbolKind values to their wire representations.
var symbolKindNames = map[SymbolKind]string{
	SymbolKindUnknown:   "unknown",
	SymbolKindFunction:  "function",
	SymbolKindMethod:    "method",
	SymbolKindClass:     "class",
	SymbolKindInterface: "interface",
	SymbolKindTypeAlias: "type_alias",
	SymbolKindVariable:  "variable",
	SymbolKindConstant:  "constant",
	SymbolKindProperty:  "property",
	SymbolKindEnum:      "enum",
}

// String returns the wire name of the kind, "unknown" for unrecognized
// values.
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON serializes the kind as a JSON string (e.g. "function")
// rather than a number, for readability and forward compatibility.
func (k SymbolKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts both string values ("function") and numeric
// values for backward compatibility.
func (k *SymbolKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = ParseSymbolKind(s)
		return nil
	}

	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return fmt.Errorf("SymbolKind must be string or int: %w", err)
	}
	*k = SymbolKind(i)
	return nil
}

// ParseSymbolKind converts a wire string to a SymbolKind.
// Returns SymbolKindUnknown for unrecognized strings.
func ParseSymbolKind(s string) SymbolKind {
	for kind, name := range symbolKindNames {
		if name == s {
			return kind
		}
	}
	return SymbolKindUnknown
}

// Location is a position range within a source file.
//
// Line numbers are 1-indexed, column numbers are 0-indexed, matching
// the convention used by most editors and LSP.
type Location struct {
	// FilePath is the path to the source file, relative to project root.
	FilePath string `json:"file_path"`

	// StartLine is the 1-indexed line where the range starts.
	StartLine int `json:"start_line"`

	// EndLine is the 1-indexed line where the range ends.
	EndLine int `json:"end_line"`

	// StartCol is the 0-indexed column on StartLine.
	StartCol int `json:"start_col"`

	// EndCol is the 0-indexed column on EndLine.
	EndCol int `json:"end_col"`
}

// String returns "file_path:start_line:start_col".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.FilePath, l.StartLine, l.StartCol)
}

// Symbol is one named declaration extracted from a source file.
//
// Symbols become Symbol entities in the knowledge graph; their IDs double
// as entity ids so re-ingesting the same file updates in place.
type Symbol struct {
	// ID uniquely identifies the symbol.
	// Format: "file_path:start_line:name", see GenerateID.
	ID string `json:"id"`

	// Name is the identifier as it appears in source.
	Name string `json:"name"`

	// Kind classifies the declaration.
	Kind SymbolKind `json:"kind"`

	// FilePath is the containing file, relative to project root.
	FilePath string `json:"file_path"`

	// StartLine is the 1-indexed first line of the declaration.
	StartLine int `json:"start_line"`

	// EndLine is the 1-indexed last line of the declaration.
	EndLine int `json:"end_line"`

	// StartCol is the 0-indexed start column on StartLine.
	StartCol int `json:"start_col"`

	// EndCol is the 0-indexed end column on EndLine.
	EndCol int `json:"end_col"`

	// Signature is the declared type signature, when the parser knows it.
	Signature string `json:"signature,omitempty"`

	// DocComment is the documentation block preceding the declaration.
	DocComment string `json:"doc_comment,omitempty"`

	// Exported reports whether the symbol is visible outside its module.
	Exported bool `json:"exported"`

	// Language is the source language of the containing file.
	Language string `json:"language"`

	// Children holds nested declarations (methods of a class).
	Children []*Symbol `json:"children,omitempty"`
}

// GenerateID creates the canonical symbol identifier.
//
// Format: "file_path:start_line:name". The format is unique within a
// project and stays stable across re-parses of unchanged code, which is
// what lets entity upserts replace rather than duplicate.
//
// Callers must validate that filePath stays inside the project boundary
// before calling; this function performs no path checks so bulk callers
// do not pay for redundant validation. Use Symbol.Validate or
// ParseResult.Validate for that.
func GenerateID(filePath string, startLine int, name string) string {
	return fmt.Sprintf("%s:%d:%s", filePath, startLine, name)
}

// Location returns the symbol's position as a Location.
func (s *Symbol) Location() Location {
	return Location{
		FilePath:  s.FilePath,
		StartLine: s.StartLine,
		EndLine:   s.EndLine,
		StartCol:  s.StartCol,
		EndCol:    s.EndCol,
	}
}

// ValidationError reports a validation failure with field context.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the symbol's field values.
//
// Returns nil if valid, or a ValidationError for the first invalid
// field. Children are validated recursively.
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return ValidationError{Field: "Name", Message: "must not be empty"}
	}

	if s.FilePath == "" {
		return ValidationError{Field: "FilePath", Message: "must not be empty"}
	}

	if strings.Contains(s.FilePath, "..") {
		return ValidationError{Field: "FilePath", Message: "must not contain path traversal (..)"}
	}

	if s.StartLine < 1 {
		return ValidationError{Field: "StartLine", Message: "must be >= 1 (1-indexed)"}
	}

	if s.EndLine < s.StartLine {
		return ValidationError{Field: "EndLine", Message: "must be >= StartLine"}
	}

	if s.StartCol < 0 {
		return ValidationError{Field: "StartCol", Message: "must be >= 0 (0-indexed)"}
	}

	if s.EndCol < 0 {
		return ValidationError{Field: "EndCol", Message: "must be >= 0"}
	}

	if s.Language == "" {
		return ValidationError{Field: "Language", Message: "must not be empty"}
	}

	for i, child := range s.Children {
		if err := child.Validate(); err != nil {
			return ValidationError{
				Field:   fmt.Sprintf("Children[%d]", i),
				Message: err.Error(),
			}
		}
	}

	return nil
}
