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

// ScoreInput carries the evidence the confidence scorer weighs for one
// candidate edge.
type ScoreInput struct {
	// RelationType is the candidate edge type.
	RelationType graph.RelationType

	// ToID is the (possibly placeholder) target id.
	ToID string

	// FromFileRel is the project-relative path of the file that owns the
	// source node.
	FromFileRel string

	// UsedTypeChecker reports whether language tooling confirmed the
	// resolution.
	UsedTypeChecker bool

	// IsExported reports whether the source symbol is exported.
	IsExported bool

	// NameLength is the length of the target's bare name.
	NameLength int

	// ImportDepth is the number of re-export hops the resolver followed,
	// 0 when the target was defined where it was imported from.
	ImportDepth int
}

// Score estimates how trustworthy an inferred edge is, in [0,1].
//
// The function is deterministic and does no I/O. It is monotone in each
// evidence axis: turning on the type checker, marking the source
// exported, lengthening the target name, or shortening the import chain
// never lowers the score when everything else is held fixed.
func Score(in ScoreInput) float64 {
	s := baseScore(in.RelationType)

	if in.UsedTypeChecker {
		s += 0.25
	}
	if in.IsExported {
		s += 0.10
	}

	s += nameLengthBonus(in.NameLength)

	if in.ImportDepth > 0 {
		s -= 0.04 * float64(in.ImportDepth)
	}

	s += targetAdjustment(in.ToID, in.FromFileRel)

	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func baseScore(typ graph.RelationType) float64 {
	switch typ {
	case graph.RelationDependsOn:
		return 0.60
	case graph.RelationReferences:
		return 0.55
	case graph.RelationReads, graph.RelationWrites:
		return 0.50
	default:
		return 0.50
	}
}

// nameLengthBonus maps the bare-name length onto [-0.15, 0.15],
// nondecreasing. One- and two-character names are usually loop counters
// or globals; long names are specific enough to trust.
func nameLengthBonus(n int) float64 {
	if n <= 2 {
		return -0.15
	}
	bonus := 0.03 * float64(n-3)
	if bonus > 0.15 {
		return 0.15
	}
	return bonus
}

// targetAdjustment weighs what kind of id the edge points at. Concrete
// symbol ids carry the most evidence, validated module targets a little,
// and bare placeholders the least. Targets defined in the source's own
// file get a small locality bump.
func targetAdjustment(toID, fromFileRel string) float64 {
	switch {
	case strings.HasPrefix(toID, "external:"):
		return -0.15
	case strings.HasPrefix(toID, "class:"):
		return -0.10
	case isFilePlaceholder(toID):
		return -0.05
	case strings.HasPrefix(toID, "module:"):
		return 0.05
	}

	adj := 0.10
	if fromFileRel != "" && strings.HasPrefix(toID, fromFileRel+":") {
		adj += 0.05
	}
	return adj
}
