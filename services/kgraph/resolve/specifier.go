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
	"fmt"
	"strings"

	"golang.org/x/mod/module"
)

// Target id prefixes for modules outside the ingested project.
const (
	// ModuleTargetPrefix marks a validated dependency module id
	// ("module:lodash"). These ids are stable DEPENDS_ON endpoints.
	ModuleTargetPrefix = "module:"

	// ExternalTargetPrefix marks an unvalidated placeholder id
	// ("external:weird spec"). Downstream noise gates treat these with
	// less trust than module targets.
	ExternalTargetPrefix = "external:"
)

// CheckSpecifier validates an external (non-relative) module specifier.
//
// Validation reuses module.CheckImportPath, which enforces clean path
// elements and a restricted character set. npm scope prefixes
// ("@scope/name") are the one common syntax that check cannot express,
// so the leading "@" is handled here and the remainder delegated.
func CheckSpecifier(spec string) error {
	if spec == "" {
		return fmt.Errorf("empty module specifier")
	}
	if isRelativeSpecifier(spec) {
		return fmt.Errorf("relative specifier %q is not an external module", spec)
	}

	candidate := spec
	if strings.HasPrefix(spec, "@") {
		rest := spec[1:]
		scope, _, found := strings.Cut(rest, "/")
		if !found || scope == "" {
			return fmt.Errorf("scoped specifier %q missing package name", spec)
		}
		candidate = rest
	}

	if err := module.CheckImportPath(candidate); err != nil {
		return fmt.Errorf("invalid module specifier %q: %w", spec, err)
	}
	return nil
}

// ExternalTarget maps a module specifier that did not resolve to an
// indexed file onto a graph target id.
//
// Specifiers that pass CheckSpecifier become module targets and are
// admitted as DEPENDS_ON endpoints; anything else degrades to an
// external placeholder, keeping the raw specifier for traceability.
func ExternalTarget(spec string) (id string, admitted bool) {
	if err := CheckSpecifier(spec); err != nil {
		return ExternalTargetPrefix + spec, false
	}
	return ModuleTargetPrefix + spec, true
}

// PackageRoot trims a deep-import specifier to the package that owns it:
// "lodash/fp" -> "lodash", "@scope/pkg/sub" -> "@scope/pkg". Dependency
// edges target the package, not the file inside it.
func PackageRoot(spec string) string {
	if spec == "" || isRelativeSpecifier(spec) {
		return spec
	}
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return spec
	}
	return parts[0]
}
