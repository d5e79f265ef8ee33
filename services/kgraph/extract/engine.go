// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract turns one file's raw syntactic facts into
// confidence-scored graph relationships.
//
// The engine consumes parse results (identifier uses, instantiations,
// assignments) and emits REFERENCES, READS, WRITES, USES, and synthesized
// DEPENDS_ON edges. Every candidate passes through a single gate that
// concretizes placeholder targets against the project symbol index,
// deduplicates, drops noise, scores inferred edges, and aggregates
// repeated observations per pair. Extraction is best-effort: a fact the
// engine cannot make sense of is skipped, never fatal for the file.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
	"github.com/AleutianAI/Cartograph/services/kgraph/resolve"
)

// Gate defaults. All three are tunable per engine.
const (
	// DefaultMinNameLength is the shortest placeholder bare name worth an
	// edge.
	DefaultMinNameLength = 3

	// DefaultMinConfidence is the score below which inferred edges are
	// dropped.
	DefaultMinConfidence = 0.45

	// DefaultTypeCheckerBudget caps type-checker calls per extraction
	// pass. Exhausted budget falls through to heuristic placeholders.
	DefaultTypeCheckerBudget = 50
)

// TypeChecker resolves names using language tooling. Implementations are
// expensive; the engine budgets calls per pass and treats every failure
// as "not resolved".
type TypeChecker interface {
	// ResolveIdentifier resolves a bare identifier at a source line to a
	// declared symbol id.
	ResolveIdentifier(ctx context.Context, filePath, name string, line int) (string, bool)

	// ResolveProperty resolves a property access (object root plus
	// property name) to a declared symbol id.
	ResolveProperty(ctx context.Context, filePath, object, property string, line int) (string, bool)
}

// Engine extracts relationships from parsed files. Construct once per
// project; Extract may be called concurrently for different files.
type Engine struct {
	symbols  *SymbolIndex
	resolver *resolve.Resolver
	checker  TypeChecker

	minNameLength int
	minConfidence float64
	tcBudget      int

	log *logging.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTypeChecker enables budgeted type-checker resolution.
func WithTypeChecker(tc TypeChecker) EngineOption {
	return func(e *Engine) {
		e.checker = tc
	}
}

// WithMinNameLength overrides the noise-gate name length.
func WithMinNameLength(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.minNameLength = n
		}
	}
}

// WithMinConfidence overrides the confidence-gate threshold.
func WithMinConfidence(min float64) EngineOption {
	return func(e *Engine) {
		if min >= 0 && min <= 1 {
			e.minConfidence = min
		}
	}
}

// WithTypeCheckerBudget overrides the per-pass type-checker call cap.
func WithTypeCheckerBudget(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.tcBudget = n
		}
	}
}

// WithEngineLogger sets the structured logger. Defaults to
// logging.Default().
func WithEngineLogger(log *logging.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates an extraction engine over the project symbol index
// and import resolver.
func NewEngine(symbols *SymbolIndex, resolver *resolve.Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		symbols:       symbols,
		resolver:      resolver,
		minNameLength: DefaultMinNameLength,
		minConfidence: DefaultMinConfidence,
		tcBudget:      DefaultTypeCheckerBudget,
		log:           logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractInput is everything the engine needs for one file pass.
type ExtractInput struct {
	// FilePath is the project-relative source path.
	FilePath string

	// FileEntityID is the graph entity id of the file.
	FileEntityID string

	// Symbols are the file's declared symbols with assigned entity ids.
	Symbols []*ast.Symbol

	// ImportMap binds local aliases to module specifiers.
	ImportMap map[string]string

	// ImportSymbolMap records import renames (alias -> original name).
	ImportSymbolMap map[string]string

	// Identifiers are free identifier uses.
	Identifiers []ast.IdentifierUse

	// Instantiations are constructor calls.
	Instantiations []ast.Instantiation

	// Assignments are assignment expressions.
	Assignments []ast.Assignment
}

// Extract runs one full pass over the input's facts and returns the
// surviving edges: direct edges first, then aggregated
// REFERENCES/READS/WRITES, then synthesized DEPENDS_ON, each group in
// first-seen order. Created/LastModified/Version are left zero; the
// graph service stamps them on write.
func (e *Engine) Extract(ctx context.Context, in ExtractInput) ([]*graph.Relationship, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	if in.FilePath == "" || in.FileEntityID == "" {
		return nil, fmt.Errorf("%w: extract input requires FilePath and FileEntityID", graph.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "extract.file")
	defer span.End()

	start := time.Now()
	p := e.newPass(ctx, in)

	p.extractIdentifiers()
	p.extractInstantiations()
	p.extractAssignments()

	edges := p.flush()

	recordExtraction(ctx, start, len(edges), p.dropped)
	e.log.Debug("extraction pass complete",
		"file", in.FilePath,
		"edges", len(edges),
		"dropped_duplicate", p.dropped[dropDuplicate],
		"dropped_noise", p.dropped[dropNoise],
		"dropped_confidence", p.dropped[dropConfidence],
	)

	return edges, nil
}

// Drop reasons for gate metrics.
const (
	dropDuplicate  = "duplicate"
	dropNoise      = "noise"
	dropConfidence = "confidence"
)

// edgeOpts carries per-candidate context into the gate.
type edgeOpts struct {
	// scope overrides the prefix-derived scope classification.
	scope string

	// resolution records how the target was found.
	resolution string

	// kind is a free-form metadata hint ("instantiation", "dependency").
	kind string

	// accessPath is the textual member path for property reads/writes.
	accessPath string

	// operator is the assignment operator for WRITES edges.
	operator string

	// importDepth is the resolver hop count, -1 when not via import.
	importDepth int

	// usedTypeChecker marks type-checker-confirmed resolutions.
	usedTypeChecker bool

	// ambiguous and candidateCount flag multi-candidate resolutions.
	ambiguous      bool
	candidateCount int

	// variableName feeds the dataFlowId for READS/WRITES.
	variableName string

	// enclosingID is the source symbol owning the observation.
	enclosingID string

	// dependencySpec is the module specifier when resolution went
	// through the import map; it seeds DEPENDS_ON synthesis.
	dependencySpec string
}

// pass is the mutable state of one Extract call.
type pass struct {
	engine *Engine
	ctx    context.Context
	in     ExtractInput

	localByName map[string][]*ast.Symbol
	exported    map[string]bool

	seen     map[string]struct{}
	refs     *aggregator
	deps     *aggregator
	out      []*graph.Relationship
	tcBudget int
	dropped  map[string]int
}

func (e *Engine) newPass(ctx context.Context, in ExtractInput) *pass {
	p := &pass{
		engine:      e,
		ctx:         ctx,
		in:          in,
		localByName: make(map[string][]*ast.Symbol),
		exported:    make(map[string]bool),
		seen:        make(map[string]struct{}),
		refs:        newAggregator(),
		deps:        newAggregator(),
		tcBudget:    e.tcBudget,
		dropped:     make(map[string]int),
	}

	stack := make([]*ast.Symbol, 0, len(in.Symbols))
	for i := len(in.Symbols) - 1; i >= 0; i-- {
		if in.Symbols[i] != nil {
			stack = append(stack, in.Symbols[i])
		}
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.Name != "" && s.ID != "" {
			p.localByName[s.Name] = append(p.localByName[s.Name], s)
			p.exported[s.ID] = s.Exported
		}
		for i := len(s.Children) - 1; i >= 0; i-- {
			if s.Children[i] != nil {
				stack = append(stack, s.Children[i])
			}
		}
	}

	return p
}

// sourceID maps a fact's enclosing symbol onto the edge source: the
// symbol when known, the file entity otherwise.
func (p *pass) sourceID(enclosing string) string {
	if enclosing != "" {
		if _, ok := p.exported[enclosing]; ok {
			return enclosing
		}
		if _, ok := p.engine.symbols.Get(enclosing); ok {
			return enclosing
		}
	}
	return p.in.FileEntityID
}

// sourceExported reports whether the edge source is an exported symbol.
// File-level sources count as not exported.
func (p *pass) sourceExported(fromID string) bool {
	if exported, ok := p.exported[fromID]; ok {
		return exported
	}
	if sym, ok := p.engine.symbols.Get(fromID); ok {
		return sym.Exported
	}
	return false
}

// takeTCBudget consumes one type-checker call from the pass budget.
func (p *pass) takeTCBudget() bool {
	if p.engine.checker == nil || p.tcBudget <= 0 {
		return false
	}
	p.tcBudget--
	return true
}

// aggregatedType reports whether the relation type flows to per-pair
// aggregation instead of exact dedup.
func aggregatedType(typ graph.RelationType) bool {
	return typ == graph.RelationReferences ||
		typ == graph.RelationReads ||
		typ == graph.RelationWrites
}

// inferredEdge reports whether the candidate must pass the confidence
// gate: REFERENCES and DEPENDS_ON always, READS/WRITES only while the
// target is still a placeholder.
func inferredEdge(typ graph.RelationType, toID string) bool {
	switch typ {
	case graph.RelationReferences, graph.RelationDependsOn:
		return true
	case graph.RelationReads, graph.RelationWrites:
		return isPlaceholder(toID)
	default:
		return false
	}
}

// addRel is the single gate every candidate edge passes through.
func (p *pass) addRel(fromID, toID string, typ graph.RelationType, loc ast.Location, opts edgeOpts) {
	if fromID == "" || toID == "" {
		return
	}

	// Concretize placeholder targets against the project symbol index.
	if isPlaceholder(toID) {
		resolved, candidates := p.concretize(toID)
		if candidates > 1 {
			opts.ambiguous = true
			opts.candidateCount = candidates
		}
		toID = resolved
	}

	scope := opts.scope
	if scope == "" {
		scope = defaultScope(toID)
	}

	// Exact dedup for non-aggregated types; aggregated types collapse
	// per pair at flush instead.
	if !aggregatedType(typ) {
		key := fromID + "\x00" + string(typ) + "\x00" + toID
		if _, dup := p.seen[key]; dup {
			p.dropped[dropDuplicate]++
			return
		}
		p.seen[key] = struct{}{}
	}

	// Noise gate: placeholder targets with short or stop-listed names.
	if isGatedPlaceholder(toID) {
		name := bareName(toID)
		if len(name) < p.engine.minNameLength || IsStopName(name) {
			p.dropped[dropNoise]++
			return
		}
	}

	meta := graph.Metadata{
		Scope:          scope,
		Resolution:     opts.resolution,
		Kind:           opts.kind,
		AccessPath:     opts.accessPath,
		Operator:       opts.operator,
		Ambiguous:      opts.ambiguous,
		CandidateCount: opts.candidateCount,
		Line:           loc.StartLine,
		Column:         loc.StartCol,
	}

	if (typ == graph.RelationReads || typ == graph.RelationWrites) && opts.variableName != "" {
		meta.DataFlowID = dataFlowID(p.in.FilePath, opts.enclosingID, opts.variableName)
	}

	// Confidence gate for inferred kinds. Edges below the threshold are
	// dropped here and never reach a store.
	if inferredEdge(typ, toID) {
		depth := opts.importDepth
		if depth < 0 {
			depth = 0
		}
		score := Score(ScoreInput{
			RelationType:    typ,
			ToID:            toID,
			FromFileRel:     p.in.FilePath,
			UsedTypeChecker: opts.usedTypeChecker,
			IsExported:      p.sourceExported(fromID),
			NameLength:      len(bareName(toID)),
			ImportDepth:     depth,
		})
		if score < p.engine.minConfidence {
			p.dropped[dropConfidence]++
			return
		}
		meta.Inferred = true
		meta.Confidence = score
	}

	rel := &graph.Relationship{
		ID:           graph.RelationshipID(fromID, typ, toID),
		Type:         typ,
		FromEntityID: fromID,
		ToEntityID:   toID,
		Metadata:     meta,
	}

	if aggregatedType(typ) {
		p.refs.add(rel)
		if scope == graph.ScopeImported {
			p.seedDependency(opts.dependencySpec, p.targetFile(toID), loc)
		}
		return
	}

	p.out = append(p.out, rel)
}

// targetFile returns the owning file of a concrete cross-file target,
// "" for placeholders and same-file symbols.
func (p *pass) targetFile(toID string) string {
	if sym, ok := p.engine.symbols.Get(toID); ok && sym.FilePath != p.in.FilePath {
		return sym.FilePath
	}
	return ""
}

// seedDependency synthesizes a file-level DEPENDS_ON edge for an
// aggregated observation whose target came in through an import. The
// dependency target is the resolved in-project file (by specifier, or by
// the target symbol's owner for type-checker resolutions), or the
// validated package root for external modules.
func (p *pass) seedDependency(spec, targetFile string, loc ast.Location) {
	var toID string
	scope := graph.ScopeImported
	switch {
	case spec != "":
		if file := p.engine.resolver.Index().ResolveSpecifier(p.in.FilePath, spec); file != "" {
			toID = FileEntityID(file)
		} else {
			toID, _ = resolve.ExternalTarget(resolve.PackageRoot(spec))
			scope = graph.ScopeExternal
		}
	case targetFile != "":
		toID = FileEntityID(targetFile)
	default:
		return
	}
	if toID == p.in.FileEntityID {
		return
	}

	score := Score(ScoreInput{
		RelationType: graph.RelationDependsOn,
		ToID:         toID,
		FromFileRel:  p.in.FilePath,
		NameLength:   len(bareName(toID)),
	})
	if score < p.engine.minConfidence {
		p.dropped[dropConfidence]++
		return
	}

	p.deps.add(&graph.Relationship{
		ID:           graph.RelationshipID(p.in.FileEntityID, graph.RelationDependsOn, toID),
		Type:         graph.RelationDependsOn,
		FromEntityID: p.in.FileEntityID,
		ToEntityID:   toID,
		Metadata: graph.Metadata{
			Inferred:   true,
			Confidence: score,
			Scope:      scope,
			Resolution: graph.ResolutionViaImport,
			Kind:       "dependency",
			Line:       loc.StartLine,
			Column:     loc.StartCol,
		},
	})
}

// concretize replaces a placeholder with the real symbol id when exactly
// one indexed symbol matches; more than one leaves the placeholder with
// the candidate count for the ambiguity flag.
func (p *pass) concretize(toID string) (string, int) {
	if isFilePlaceholder(toID) {
		rest := toID[len("file:"):]
		i := lastColon(rest)
		if i < 0 {
			return toID, 0
		}
		path, name := rest[:i], rest[i+1:]
		matches := p.engine.symbols.LookupFileName(path, name)
		switch len(matches) {
		case 1:
			return matches[0].ID, 1
		default:
			return toID, len(matches)
		}
	}

	name := bareName(toID)
	matches := p.engine.symbols.LookupName(name)
	switch len(matches) {
	case 1:
		return matches[0].ID, 1
	default:
		return toID, len(matches)
	}
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// flush assembles the final edge list: direct edges, aggregated
// references, synthesized dependencies.
func (p *pass) flush() []*graph.Relationship {
	out := p.out
	out = append(out, p.refs.flush()...)
	out = append(out, p.deps.flush()...)
	return out
}
