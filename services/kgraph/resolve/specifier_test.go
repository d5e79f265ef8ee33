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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSpecifier(t *testing.T) {
	valid := []string{
		"lodash",
		"react-dom",
		"lodash/fp",
		"@scope/pkg",
		"@types/node",
		"@scope/pkg/deep/path",
	}
	for _, spec := range valid {
		t.Run("valid "+spec, func(t *testing.T) {
			assert.NoError(t, CheckSpecifier(spec))
		})
	}

	invalid := []string{
		"",
		"./relative",
		"../parent",
		".",
		"foo//bar",
		"foo bar",
		"foo!",
		"foo/",
		"node:fs",
		"@",
		"@scope",
		"@/components",
	}
	for _, spec := range invalid {
		t.Run("invalid "+spec, func(t *testing.T) {
			assert.Error(t, CheckSpecifier(spec))
		})
	}
}

func TestExternalTarget(t *testing.T) {
	id, admitted := ExternalTarget("lodash")
	assert.True(t, admitted)
	assert.Equal(t, "module:lodash", id)

	id, admitted = ExternalTarget("@scope/pkg")
	assert.True(t, admitted)
	assert.Equal(t, "module:@scope/pkg", id)

	// Malformed specifiers keep the raw text behind the external prefix
	// so the placeholder stays traceable to its source.
	id, admitted = ExternalTarget("node:fs")
	assert.False(t, admitted)
	assert.Equal(t, "external:node:fs", id)

	id, admitted = ExternalTarget("")
	assert.False(t, admitted)
	assert.Equal(t, "external:", id)
}

func TestPackageRoot(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"lodash", "lodash"},
		{"lodash/fp", "lodash"},
		{"lodash/fp/curry", "lodash"},
		{"@scope/pkg", "@scope/pkg"},
		{"@scope/pkg/sub", "@scope/pkg"},
		{"@scope", "@scope"},
		{"./local/path", "./local/path"},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			assert.Equal(t, tc.want, PackageRoot(tc.spec))
		})
	}
}
