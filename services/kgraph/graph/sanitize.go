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

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// identifierPattern is the grammar for parameter names, property names,
// and relationship type names appearing in compiled query text.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name may appear as an identifier in
// query text. Everything interpolated outside a string literal must
// pass this check.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// timeLiteralFormat is RFC3339 with fixed-width nanoseconds in UTC, so
// lexicographic comparison of time literals in query text matches
// chronological order.
const timeLiteralFormat = "2006-01-02T15:04:05.000000000Z"

// quoteReplacer escapes characters that could break out of a
// single-quoted string literal in query text.
var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\x00", ``,
)

// QuoteString renders s as a single-quoted query string literal with
// all escape-relevant characters neutralized.
func QuoteString(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}

// FormatValue renders a parameter value as a sanitized query literal.
//
// The backend substitutes parameters as literals into query text (no
// native bound parameters), so every value passes through here. Supported
// types: nil, string, bool, all int/uint widths, float32/64, time.Time
// (RFC3339 string literal), EntityType, RelationType, []string,
// []EntityType, and []RelationType.
func FormatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return QuoteString(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case time.Time:
		return QuoteString(val.UTC().Format(timeLiteralFormat)), nil
	case EntityType:
		return QuoteString(string(val)), nil
	case RelationType:
		return QuoteString(string(val)), nil
	case []string:
		return formatList(val, func(s string) (string, error) { return QuoteString(s), nil })
	case []EntityType:
		return formatList(val, func(t EntityType) (string, error) { return QuoteString(string(t)), nil })
	case []RelationType:
		return formatList(val, func(t RelationType) (string, error) { return QuoteString(string(t)), nil })
	default:
		return "", fmt.Errorf("%w: unsupported parameter type %T", ErrInvalidInput, v)
	}
}

// formatList renders a slice as a query list literal.
func formatList[T any](items []T, format func(T) (string, error)) (string, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		s, err := format(item)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

// paramToken matches $name placeholders in query patterns.
var paramToken = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Substitute replaces every $name token in pattern with the sanitized
// literal rendering of params[name].
//
// Errors: a parameter name failing ValidIdentifier, a token with no
// matching parameter, or an unsupported value type. Unused parameters
// are an error too; they usually indicate a typo in the pattern.
func Substitute(pattern string, params map[string]any) (string, error) {
	for name := range params {
		if !ValidIdentifier(name) {
			return "", fmt.Errorf("%w: parameter %q", ErrInvalidIdentifier, name)
		}
	}

	used := make(map[string]bool, len(params))
	var substErr error
	out := paramToken.ReplaceAllStringFunc(pattern, func(token string) string {
		name := token[1:]
		value, ok := params[name]
		if !ok {
			if substErr == nil {
				substErr = fmt.Errorf("%w: no value for parameter %q", ErrInvalidInput, name)
			}
			return token
		}
		used[name] = true
		literal, err := FormatValue(value)
		if err != nil {
			if substErr == nil {
				substErr = err
			}
			return token
		}
		return literal
	})
	if substErr != nil {
		return "", substErr
	}

	if len(used) != len(params) {
		unused := make([]string, 0, len(params))
		for name := range params {
			if !used[name] {
				unused = append(unused, name)
			}
		}
		sort.Strings(unused)
		return "", fmt.Errorf("%w: unused parameters %v", ErrInvalidInput, unused)
	}

	return out, nil
}

// TypeAlternation renders relationship types as the ":A|B|C" pattern
// fragment used in MATCH clauses. Every type name must pass
// ValidIdentifier; an empty slice renders as the match-any empty string.
func TypeAlternation(types []RelationType) (string, error) {
	if len(types) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		if !ValidIdentifier(string(t)) {
			return "", fmt.Errorf("%w: relationship type %q", ErrInvalidIdentifier, t)
		}
		names = append(names, string(t))
	}
	return ":" + strings.Join(names, "|"), nil
}

// PropertyAssignments renders "alias.key = <literal>" fragments for a
// sanitized SET clause, with keys emitted in sorted order so compiled
// query text is deterministic. Keys must pass ValidIdentifier.
func PropertyAssignments(alias string, props map[string]any) (string, error) {
	if !ValidIdentifier(alias) {
		return "", fmt.Errorf("%w: alias %q", ErrInvalidIdentifier, alias)
	}
	keys := make([]string, 0, len(props))
	for key := range props {
		if !ValidIdentifier(key) {
			return "", fmt.Errorf("%w: property %q", ErrInvalidIdentifier, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		literal, err := FormatValue(props[key])
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s.%s = %s", alias, key, literal))
	}
	return strings.Join(parts, ", "), nil
}
