package ast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Import represents one import statement in a source file.
//
// The extraction engine consumes imports through the alias maps built by
// BuildImportMaps; the structured form here additionally feeds IMPORTS
// edges and dependency seeding.
type Import struct {
	// Path is the imported module specifier.
	// Example: "./resolver" (relative), "lodash" (external).
	Path string `json:"path"`

	// Alias is the local binding name when the import is aliased or a
	// default/namespace import. Example: "pd" for "import pandas as pd".
	Alias string `json:"alias,omitempty"`

	// Names lists selectively imported names as they are bound locally.
	// Example: ["useState", "useEffect"].
	Names []string `json:"names,omitempty"`

	// Renames maps a local binding to its original exported name for
	// renaming imports. Example: {"bar": "foo"} for
	// "import { foo as bar } from './a'".
	Renames map[string]string `json:"renames,omitempty"`

	// IsDefault marks a default import ("import X from './a'").
	IsDefault bool `json:"is_default,omitempty"`

	// IsNamespace marks a namespace import ("import * as NS from './a'").
	IsNamespace bool `json:"is_namespace,omitempty"`

	// IsWildcard marks a wildcard import ("from mod import *").
	IsWildcard bool `json:"is_wildcard,omitempty"`

	// IsRelative marks module specifiers relative to the importing file.
	IsRelative bool `json:"is_relative,omitempty"`

	// Location is where the import statement appears.
	Location Location `json:"location"`
}

// ExportDecl represents one exported name of a module, including
// re-exports. The resolve package builds its module export index from
// these declarations.
type ExportDecl struct {
	// Name is the exported name as seen by importers.
	Name string `json:"name"`

	// LocalName is the in-module name when it differs from Name
	// ("export { foo as bar }" has Name "bar", LocalName "foo").
	LocalName string `json:"local_name,omitempty"`

	// From is the source module specifier for re-exports
	// ("export { X } from './y'"). Empty for terminal definitions.
	From string `json:"from,omitempty"`

	// IsDefault marks the module's default export.
	IsDefault bool `json:"is_default,omitempty"`

	// IsWildcard marks "export * from './y'"; Name is empty in that case.
	IsWildcard bool `json:"is_wildcard,omitempty"`

	// Location is where the export declaration appears.
	Location Location `json:"location"`
}

// IsReExport reports whether this declaration forwards another module's
// export rather than defining the name terminally.
func (e ExportDecl) IsReExport() bool {
	return e.From != ""
}

// IdentifierUse is a raw fact: a free identifier referenced somewhere in
// the file. Call callees and import/export specifiers are flagged so the
// reference extractor can skip them (they are covered by other fact
// kinds).
type IdentifierUse struct {
	// Name is the identifier text.
	Name string `json:"name"`

	// EnclosingSymbolID is the ID of the innermost declared symbol
	// containing the use, empty at module scope.
	EnclosingSymbolID string `json:"enclosing_symbol_id,omitempty"`

	// IsCallee marks identifiers in call position ("foo()").
	IsCallee bool `json:"is_callee,omitempty"`

	// IsSpecifier marks identifiers inside import/export clauses.
	IsSpecifier bool `json:"is_specifier,omitempty"`

	// Location is where the identifier appears.
	Location Location `json:"location"`
}

// Instantiation is a raw fact: a constructor call ("new X(...)").
type Instantiation struct {
	// TypeName is the constructed type's name.
	TypeName string `json:"type_name"`

	// NamespaceAlias is the namespace root for qualified construction
	// ("new NS.X()" has TypeName "X", NamespaceAlias "NS").
	NamespaceAlias string `json:"namespace_alias,omitempty"`

	// EnclosingSymbolID is the ID of the containing declared symbol.
	EnclosingSymbolID string `json:"enclosing_symbol_id,omitempty"`

	// Location is where the instantiation appears.
	Location Location `json:"location"`
}

// AssignTarget is one left-hand-side binding of an assignment. A parser
// expands destructuring patterns into one target per bound name.
type AssignTarget struct {
	// Name is the simple identifier being written, or the object root
	// for property writes ("x" in "x.count = 1").
	Name string `json:"name"`

	// Property is the written property name for member assignment
	// ("count" in "x.count = 1"). Empty for simple identifier targets.
	Property string `json:"property,omitempty"`

	// AccessPath is the full textual access path ("x.count",
	// "this.cache.size"). Empty for simple identifier targets.
	AccessPath string `json:"access_path,omitempty"`

	// Location is where the target appears.
	Location Location `json:"location"`
}

// IsProperty reports whether the target writes a member rather than a
// bare identifier.
func (t AssignTarget) IsProperty() bool {
	return t.Property != ""
}

// ValueRef is one value read on the right-hand side of an assignment:
// either a bare identifier or a property access.
type ValueRef struct {
	// Name is the identifier text, or the object root of a property
	// access.
	Name string `json:"name"`

	// Property is the accessed property name for member reads. Empty
	// for bare identifiers.
	Property string `json:"property,omitempty"`

	// AccessPath is the full textual access path for member reads.
	AccessPath string `json:"access_path,omitempty"`

	// Location is where the read appears.
	Location Location `json:"location"`
}

// IsProperty reports whether the read is a member access.
func (v ValueRef) IsProperty() bool {
	return v.Property != ""
}

// Assignment is a raw fact: one assignment expression with its operator,
// expanded targets, and right-hand-side reads.
type Assignment struct {
	// Operator is the assignment operator ("=", "+=", "-=", ...).
	Operator string `json:"operator"`

	// EnclosingSymbolID is the ID of the containing declared symbol.
	EnclosingSymbolID string `json:"enclosing_symbol_id,omitempty"`

	// Targets are the left-hand-side bindings.
	Targets []AssignTarget `json:"targets"`

	// Reads are the right-hand-side value references.
	Reads []ValueRef `json:"reads,omitempty"`

	// Location is where the assignment appears.
	Location Location `json:"location"`
}

// ParseResult is the complete output of parsing a single source file:
// the declared symbols, the import/export surface, and the raw syntactic
// facts the extraction engine consumes.
type ParseResult struct {
	// FilePath is the parsed file, relative to project root.
	FilePath string `json:"file_path"`

	// Language is the detected or declared language ("typescript", "go").
	Language string `json:"language"`

	// Package is the declared package/module name, when the language
	// has one.
	Package string `json:"package,omitempty"`

	// Symbols are the file's declarations in source order.
	Symbols []*Symbol `json:"symbols"`

	// Imports are the file's import statements.
	Imports []Import `json:"imports,omitempty"`

	// Exports are the module's export declarations, including
	// re-exports.
	Exports []ExportDecl `json:"exports,omitempty"`

	// Identifiers are free identifier uses (raw facts).
	Identifiers []IdentifierUse `json:"identifiers,omitempty"`

	// Instantiations are constructor calls (raw facts).
	Instantiations []Instantiation `json:"instantiations,omitempty"`

	// Assignments are assignment expressions (raw facts).
	Assignments []Assignment `json:"assignments,omitempty"`

	// Hash is the SHA-256 of the file content at parse time, used for
	// staleness detection and entity upsert routing.
	Hash string `json:"hash"`

	// ParsedAtMilli is the Unix milliseconds when parsing completed.
	ParsedAtMilli int64 `json:"parsed_at_milli"`

	// ParseDurationMs is how long parsing took.
	ParseDurationMs int64 `json:"parse_duration_ms,omitempty"`

	// Errors lists non-fatal parse errors; partial results are normal.
	Errors []string `json:"errors,omitempty"`
}

// SetParsedAt stamps ParsedAtMilli with the current time.
func (r *ParseResult) SetParsedAt() {
	r.ParsedAtMilli = time.Now().UnixMilli()
}

// HasErrors reports whether the parse recorded any non-fatal errors.
func (r *ParseResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// MaxSymbolDepth bounds symbol nesting during traversal to protect
// against maliciously crafted input.
const MaxSymbolDepth = 100

// SymbolCount returns the total number of symbols including nested
// children up to MaxSymbolDepth levels, using an explicit stack so deep
// hierarchies cannot overflow the call stack.
func (r *ParseResult) SymbolCount() int {
	if r.Symbols == nil {
		return 0
	}

	type stackEntry struct {
		symbols []*Symbol
		depth   int
	}

	count := 0
	stack := []stackEntry{{symbols: r.Symbols, depth: 0}}

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, s := range entry.symbols {
			count++
			if s.Children != nil && entry.depth < MaxSymbolDepth {
				stack = append(stack, stackEntry{
					symbols: s.Children,
					depth:   entry.depth + 1,
				})
			}
		}
	}

	return count
}

// BuildImportMaps derives the two alias maps the resolver and extraction
// engine consume:
//
//   - importMap: local binding -> module specifier, covering default,
//     namespace, aliased, and selective imports.
//   - importSymbolMap: local binding -> original exported name, only for
//     bindings whose local name differs from the exported one (renames
//     and defaults).
func (r *ParseResult) BuildImportMaps() (importMap map[string]string, importSymbolMap map[string]string) {
	importMap = make(map[string]string)
	importSymbolMap = make(map[string]string)

	for _, imp := range r.Imports {
		if imp.Alias != "" {
			importMap[imp.Alias] = imp.Path
			if imp.IsDefault {
				importSymbolMap[imp.Alias] = "default"
			}
		}
		for _, name := range imp.Names {
			importMap[name] = imp.Path
			if original, ok := imp.Renames[name]; ok && original != name {
				importSymbolMap[name] = original
			}
		}
	}

	return importMap, importSymbolMap
}

// Validate checks the parse result's field values, including every
// symbol. Returns nil or the first ValidationError found.
func (r *ParseResult) Validate() error {
	if r.FilePath == "" {
		return ValidationError{Field: "FilePath", Message: "must not be empty"}
	}

	if strings.Contains(r.FilePath, "..") {
		return ValidationError{Field: "FilePath", Message: "must not contain path traversal (..)"}
	}

	if r.Language == "" {
		return ValidationError{Field: "Language", Message: "must not be empty"}
	}

	for i, s := range r.Symbols {
		if s == nil {
			return ValidationError{Field: fmt.Sprintf("Symbols[%d]", i), Message: "must not be nil"}
		}
		if err := s.Validate(); err != nil {
			return ValidationError{
				Field:   fmt.Sprintf("Symbols[%d]", i),
				Message: err.Error(),
			}
		}
	}

	for i, a := range r.Assignments {
		if a.Operator == "" {
			return ValidationError{
				Field:   fmt.Sprintf("Assignments[%d].Operator", i),
				Message: "must not be empty",
			}
		}
		if len(a.Targets) == 0 {
			return ValidationError{
				Field:   fmt.Sprintf("Assignments[%d].Targets", i),
				Message: "must not be empty",
			}
		}
	}

	return nil
}

// DecodeParseResult unmarshals and validates one parse-result document.
// This is the single entry point for ingesting parser output; callers
// never see a ParseResult that failed validation.
func DecodeParseResult(data []byte) (*ParseResult, error) {
	var result ParseResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode parse result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parse result: %w", err)
	}
	return &result, nil
}
