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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidIdentifier(t *testing.T) {
	valid := []string{"a", "A", "_", "_x", "CALLS", "DEPENDS_ON", "foo123", "camelCase"}
	for _, name := range valid {
		assert.True(t, ValidIdentifier(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"",
		"1abc",
		"a-b",
		"a b",
		"a.b",
		"CALLS|MATCH (n) DETACH DELETE n//",
		"a'",
		"a$",
		"type(r)",
	}
	for _, name := range invalid {
		assert.False(t, ValidIdentifier(name), "expected %q to be rejected", name)
	}
}

func TestQuoteString_EscapesBreakoutCharacters(t *testing.T) {
	cases := map[string]string{
		"plain":          "'plain'",
		"it's":           `'it\'s'`,
		`back\slash`:     `'back\\slash'`,
		"line\nbreak":    `'line\nbreak'`,
		"tab\there":      `'tab\there'`,
		"nul\x00byte":    "'nulbyte'",
		"'; DROP ALL //": `'\'; DROP ALL //'`,
	}
	for in, want := range cases {
		assert.Equal(t, want, QuoteString(in))
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"string", "hello", "'hello'"},
		{"bool", true, "true"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float", 0.85, "0.85"},
		{"time", ts, "'2025-03-01T12:30:00.000000000Z'"},
		{"entity type", EntityFile, "'file'"},
		{"relation type", RelationCalls, "'CALLS'"},
		{"string list", []string{"a", "b'c"}, `['a', 'b\'c']`},
		{"type list", []RelationType{RelationCalls, RelationUses}, "['CALLS', 'USES']"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatValue(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := FormatValue(struct{}{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubstitute(t *testing.T) {
	t.Run("replaces tokens with sanitized literals", func(t *testing.T) {
		got, err := Substitute(
			"MATCH (e:Entity {id: $id}) WHERE e.name = $name RETURN e",
			map[string]any{"id": "file:/src/a.ts", "name": "it's"},
		)
		require.NoError(t, err)
		assert.Equal(t, `MATCH (e:Entity {id: 'file:/src/a.ts'}) WHERE e.name = 'it\'s' RETURN e`, got)
	})

	t.Run("injection attempt stays inside the literal", func(t *testing.T) {
		got, err := Substitute(
			"MATCH (e:Entity {id: $id}) RETURN e",
			map[string]any{"id": "x'}) DETACH DELETE (n {y: '"},
		)
		require.NoError(t, err)
		// Every quote in the payload is escaped, so the whole payload
		// stays inside one string literal.
		assert.Equal(t,
			`MATCH (e:Entity {id: 'x\'}) DETACH DELETE (n {y: \''}) RETURN e`,
			got)
	})

	t.Run("missing parameter", func(t *testing.T) {
		_, err := Substitute("RETURN $absent", map[string]any{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unused parameter", func(t *testing.T) {
		_, err := Substitute("RETURN 1", map[string]any{"stray": 1})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Contains(t, err.Error(), "stray")
	})

	t.Run("invalid parameter name", func(t *testing.T) {
		_, err := Substitute("RETURN 1", map[string]any{"bad name": 1})
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})
}

func TestTypeAlternation(t *testing.T) {
	got, err := TypeAlternation([]RelationType{RelationCalls, RelationDependsOn})
	require.NoError(t, err)
	assert.Equal(t, ":CALLS|DEPENDS_ON", got)

	got, err = TypeAlternation(nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = TypeAlternation([]RelationType{"CALLS|x]->(m) DELETE m//"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestPropertyAssignments_SortedAndSanitized(t *testing.T) {
	got, err := PropertyAssignments("e", map[string]any{
		"name": "o'brien",
		"id":   "f1",
	})
	require.NoError(t, err)
	assert.Equal(t, `e.id = 'f1', e.name = 'o\'brien'`, got)

	_, err = PropertyAssignments("e", map[string]any{"bad key": 1})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = PropertyAssignments("no space", map[string]any{"k": 1})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestTimeLiteralOrderingMatchesChronology(t *testing.T) {
	// Lexicographic comparison of rendered literals must match time
	// ordering; range filters compare them as strings in query text.
	times := []time.Time{
		time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		time.Date(2025, 1, 2, 3, 4, 5, 999, time.UTC),
		time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
		time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC),
	}
	var prev string
	for i, ts := range times {
		lit, err := FormatValue(ts)
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, strings.Compare(prev, lit) < 0,
				"literal %q should sort before %q", prev, lit)
		}
		prev = lit
	}
}
