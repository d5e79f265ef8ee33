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
	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
	"github.com/AleutianAI/Cartograph/services/kgraph/resolve"
)

// resolveContext is the input to one ladder run: the name under
// resolution plus where it appears. object is set for property accesses
// and namespace-qualified names ("NS" in "NS.helper", "x" in
// "x.count = 1").
type resolveContext struct {
	pass       *pass
	name       string
	object     string
	accessPath string
	line       int
}

// resolution is a strategy's verdict on a target.
type resolution struct {
	toID       string
	scope      string
	how        string
	depth      int // resolver hop count, -1 when not via import
	usedTC     bool
	spec       string // module specifier when resolved through an import
	ambiguous  bool
	candidates int
}

// strategy inspects a context and either claims the target or passes by
// returning nil.
type strategy func(*resolveContext) *resolution

// runLadder returns the first non-nil resolution. Every ladder ends in a
// terminal strategy, so callers always get a result for a non-empty name.
func runLadder(ladder []strategy, rc *resolveContext) *resolution {
	for _, s := range ladder {
		if r := s(rc); r != nil {
			return r
		}
	}
	return nil
}

// Ladder orderings. Free identifiers trust a local declaration above
// everything; right-hand-side reads and property writes ask the type
// checker first because bare member names collide constantly.
var (
	identifierLadder = []strategy{
		resolveLocalSymbol,
		resolveImportedIdent,
		resolveTypeCheckerIdent,
		resolveExternalIdent,
	}

	readIdentifierLadder = []strategy{
		resolveTypeCheckerIdent,
		resolveImportedIdent,
		resolveLocalSymbol,
		resolveExternalIdent,
	}

	propertyLadder = []strategy{
		resolveTypeCheckerProperty,
		resolveImportedMember,
		resolveSameFileProperty,
		resolveExternalProperty,
	}

	instantiationLadder = []strategy{
		resolveImportedInstantiation,
		resolveLocalClass,
		resolveClassFallback,
	}
)

// resolveLocalSymbol matches a declaration in the current file. A unique
// match is a direct local edge; several same-named declarations keep a
// flagged placeholder rather than guessing.
func resolveLocalSymbol(rc *resolveContext) *resolution {
	matches := rc.pass.localByName[rc.name]
	switch len(matches) {
	case 0:
		return nil
	case 1:
		return &resolution{
			toID:  matches[0].ID,
			scope: graph.ScopeLocal,
			how:   graph.ResolutionDirect,
			depth: -1,
		}
	default:
		return &resolution{
			toID:       filePlaceholder(rc.pass.in.FilePath, rc.name),
			scope:      graph.ScopeLocal,
			how:        graph.ResolutionHeuristic,
			depth:      -1,
			ambiguous:  true,
			candidates: len(matches),
		}
	}
}

// resolveImportedIdent handles names bound by an import statement. When
// the resolver pins the export to an indexed file the target is that
// file's symbol (or a file placeholder if the symbol table disagrees);
// an unindexed module yields an external placeholder that still carries
// the specifier so dependency synthesis sees it.
func resolveImportedIdent(rc *resolveContext) *resolution {
	p := rc.pass
	spec, imported := p.in.ImportMap[rc.name]
	if !imported {
		return nil
	}

	if t := p.engine.resolver.Resolve(rc.name, rc.name, p.in.FilePath, p.in.ImportMap, p.in.ImportSymbolMap); t != nil {
		return importedTarget(p, t, spec)
	}

	original := rc.name
	if renamed, ok := p.in.ImportSymbolMap[rc.name]; ok {
		original = renamed
	}
	return &resolution{
		toID:  externalPlaceholder(original),
		scope: graph.ScopeImported,
		how:   graph.ResolutionViaImport,
		depth: 0,
		spec:  spec,
	}
}

// resolveImportedMember resolves "alias.member" where alias is an
// imported namespace or object.
func resolveImportedMember(rc *resolveContext) *resolution {
	p := rc.pass
	spec, imported := p.in.ImportMap[rc.object]
	if !imported {
		return nil
	}

	if t := p.engine.resolver.Resolve(rc.object, rc.name, p.in.FilePath, p.in.ImportMap, p.in.ImportSymbolMap); t != nil {
		return importedTarget(p, t, spec)
	}

	return &resolution{
		toID:  externalPlaceholder(rc.name),
		scope: graph.ScopeImported,
		how:   graph.ResolutionViaImport,
		depth: 0,
		spec:  spec,
	}
}

// importedTarget converts a resolver hit into a resolution: the concrete
// symbol when the index knows exactly one declaration, otherwise a file
// placeholder the concretize stage can retry.
func importedTarget(p *pass, t *resolve.Target, spec string) *resolution {
	res := &resolution{
		scope: graph.ScopeImported,
		how:   graph.ResolutionViaImport,
		depth: t.Depth,
		spec:  spec,
	}

	matches := p.engine.symbols.LookupFileName(t.FileRel, t.Name)
	if len(matches) == 1 {
		res.toID = matches[0].ID
		return res
	}
	res.toID = filePlaceholder(t.FileRel, t.Name)
	if len(matches) > 1 {
		res.ambiguous = true
		res.candidates = len(matches)
	}
	return res
}

// resolveTypeCheckerIdent asks the language tooling for a bare
// identifier, spending one unit of pass budget.
func resolveTypeCheckerIdent(rc *resolveContext) *resolution {
	p := rc.pass
	if !p.takeTCBudget() {
		return nil
	}
	id, ok := p.engine.checker.ResolveIdentifier(p.ctx, p.in.FilePath, rc.name, rc.line)
	if !ok || id == "" {
		return nil
	}
	return typeCheckedTarget(p, id)
}

// resolveTypeCheckerProperty asks the language tooling for a property
// access, spending one unit of pass budget.
func resolveTypeCheckerProperty(rc *resolveContext) *resolution {
	p := rc.pass
	if !p.takeTCBudget() {
		return nil
	}
	id, ok := p.engine.checker.ResolveProperty(p.ctx, p.in.FilePath, rc.object, rc.name, rc.line)
	if !ok || id == "" {
		return nil
	}
	return typeCheckedTarget(p, id)
}

func typeCheckedTarget(p *pass, id string) *resolution {
	scope := graph.ScopeUnknown
	if sym, ok := p.engine.symbols.Get(id); ok {
		if sym.FilePath == p.in.FilePath {
			scope = graph.ScopeLocal
		} else {
			scope = graph.ScopeImported
		}
	}
	return &resolution{
		toID:   id,
		scope:  scope,
		how:    graph.ResolutionTypeChecker,
		depth:  -1,
		usedTC: true,
	}
}

// resolveSameFileProperty matches a property name against this file's
// declarations: one hit is taken, several keep a flagged placeholder,
// none falls through to the external fallback.
func resolveSameFileProperty(rc *resolveContext) *resolution {
	matches := rc.pass.localByName[rc.name]
	switch len(matches) {
	case 0:
		return nil
	case 1:
		return &resolution{
			toID:  matches[0].ID,
			scope: graph.ScopeLocal,
			how:   graph.ResolutionHeuristic,
			depth: -1,
		}
	default:
		return &resolution{
			toID:       filePlaceholder(rc.pass.in.FilePath, rc.name),
			scope:      graph.ScopeLocal,
			how:        graph.ResolutionHeuristic,
			depth:      -1,
			ambiguous:  true,
			candidates: len(matches),
		}
	}
}

// resolveExternalIdent is the terminal identifier fallback.
func resolveExternalIdent(rc *resolveContext) *resolution {
	return &resolution{
		toID:  externalPlaceholder(rc.name),
		how:   graph.ResolutionHeuristic,
		depth: -1,
	}
}

// resolveExternalProperty is the terminal property fallback.
func resolveExternalProperty(rc *resolveContext) *resolution {
	return &resolution{
		toID:  externalPlaceholder(rc.name),
		how:   graph.ResolutionHeuristic,
		depth: -1,
	}
}

// resolveImportedInstantiation resolves "new X()" and "new NS.X()"
// through the import map, trying the recorded binding, then the default
// export, then a same-named export.
func resolveImportedInstantiation(rc *resolveContext) *resolution {
	p := rc.pass

	if rc.object != "" {
		spec, imported := p.in.ImportMap[rc.object]
		if !imported {
			return nil
		}
		if t := p.engine.resolver.Resolve(rc.object, rc.name, p.in.FilePath, p.in.ImportMap, p.in.ImportSymbolMap); t != nil {
			return importedTarget(p, t, spec)
		}
		return &resolution{
			toID:  externalPlaceholder(rc.name),
			scope: graph.ScopeImported,
			how:   graph.ResolutionViaImport,
			depth: 0,
			spec:  spec,
		}
	}

	spec, imported := p.in.ImportMap[rc.name]
	if !imported {
		return nil
	}

	t := p.engine.resolver.Resolve(rc.name, rc.name, p.in.FilePath, p.in.ImportMap, p.in.ImportSymbolMap)
	if t == nil {
		t = p.engine.resolver.Resolve(rc.name, "default", p.in.FilePath, p.in.ImportMap, nil)
	}
	if t == nil {
		t = p.engine.resolver.Resolve(rc.name, rc.name, p.in.FilePath, p.in.ImportMap, nil)
	}
	if t != nil {
		return importedTarget(p, t, spec)
	}

	return &resolution{
		toID:  externalPlaceholder(rc.name),
		scope: graph.ScopeImported,
		how:   graph.ResolutionViaImport,
		depth: 0,
		spec:  spec,
	}
}

// resolveLocalClass matches an instantiated type against this file's
// declarations, preferring class-like kinds when the name is shared.
func resolveLocalClass(rc *resolveContext) *resolution {
	matches := rc.pass.localByName[rc.name]
	if len(matches) == 0 {
		return nil
	}

	if len(matches) > 1 {
		classLike := matches[:0:0]
		for _, m := range matches {
			if isClassKind(m.Kind) {
				classLike = append(classLike, m)
			}
		}
		if len(classLike) == 1 {
			matches = classLike
		}
	}

	if len(matches) == 1 {
		return &resolution{
			toID:  matches[0].ID,
			scope: graph.ScopeLocal,
			how:   graph.ResolutionDirect,
			depth: -1,
		}
	}
	return &resolution{
		toID:       classPlaceholder(rc.name),
		scope:      graph.ScopeLocal,
		how:        graph.ResolutionHeuristic,
		depth:      -1,
		ambiguous:  true,
		candidates: len(matches),
	}
}

// resolveClassFallback is the terminal instantiation fallback.
func resolveClassFallback(rc *resolveContext) *resolution {
	return &resolution{
		toID:  classPlaceholder(rc.name),
		how:   graph.ResolutionHeuristic,
		depth: -1,
	}
}

func isClassKind(k ast.SymbolKind) bool {
	switch k {
	case ast.SymbolKindClass, ast.SymbolKindEnum:
		return true
	default:
		return false
	}
}

// toOpts folds a resolution into gate options.
func (r *resolution) toOpts(base edgeOpts) edgeOpts {
	base.scope = r.scope
	base.resolution = r.how
	base.importDepth = r.depth
	base.usedTypeChecker = r.usedTC
	base.dependencySpec = r.spec
	if r.ambiguous {
		base.ambiguous = true
		base.candidateCount = r.candidates
	}
	return base
}
