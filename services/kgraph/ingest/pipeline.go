// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest feeds parser output into the knowledge graph.
//
// Parse-result documents (one JSON file per parsed source file) arrive
// in a drop directory, either watched (Watcher) or handed over in one
// shot (IngestFile, IngestDir). The pipeline decodes and validates each
// document, upserts the file and symbol entities, links imports, runs
// the extraction engine over the raw facts, and stores every surviving
// edge. Unified diffs enter through IngestDiff and become Change
// entities with MODIFIES edges.
//
// Removing a document from the drop directory does not delete anything:
// the described entities are flagged stale in their metadata and the
// in-process resolution indexes drop the file, so later extraction
// stops resolving into it while history stays queryable.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Cartograph/pkg/logging"
	"github.com/AleutianAI/Cartograph/services/kgraph/ast"
	"github.com/AleutianAI/Cartograph/services/kgraph/cache"
	"github.com/AleutianAI/Cartograph/services/kgraph/extract"
	"github.com/AleutianAI/Cartograph/services/kgraph/graph"
	"github.com/AleutianAI/Cartograph/services/kgraph/resolve"
	"github.com/AleutianAI/Cartograph/services/kgraph/telemetry"
)

const tracerName = "cartograph.ingest"

// Entity metadata keys the pipeline owns.
const (
	metaStale      = "stale"
	metaStaleSince = "staleSince"
)

// Cache key prefixes. Digest entries skip unchanged re-ingests; source
// entries map drop documents back to the file they describe.
const (
	digestKeyPrefix = "ingest:digest:"
	sourceKeyPrefix = "ingest:source:"
)

// Pipeline turns parse results into graph entities and relationships.
//
// One Pipeline owns the in-process resolution state (export index,
// symbol index, extraction engine) for a logical project. Methods are
// safe for concurrent use to the degree the underlying graph service
// is; the intended shape is one ingest loop per process.
type Pipeline struct {
	svc     *graph.Service
	engine  *extract.Engine
	symbols *extract.SymbolIndex
	exports *resolve.ExportIndex

	cache    cache.Cache
	cacheTTL time.Duration

	ignorePatterns []string
	engineOpts     []extract.EngineOption
	log            *logging.Logger

	mu      sync.Mutex
	sources map[string]string // drop document path -> described file path
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDigestCache enables the digest cache. Unchanged parse results
// (same content hash) skip graph writes entirely; ttl bounds how long a
// digest is trusted before a re-ingest is forced.
func WithDigestCache(c cache.Cache, ttl time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithIgnorePatterns sets the patterns IngestDir skips while walking.
func WithIgnorePatterns(patterns []string) PipelineOption {
	return func(p *Pipeline) {
		p.ignorePatterns = patterns
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(log *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithEngineOptions forwards options to the extraction engine.
func WithEngineOptions(opts ...extract.EngineOption) PipelineOption {
	return func(p *Pipeline) {
		p.engineOpts = append(p.engineOpts, opts...)
	}
}

// NewPipeline creates a pipeline writing through the given graph
// service. The pipeline builds its own export index, symbol index, and
// extraction engine.
func NewPipeline(svc *graph.Service, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		svc:     svc,
		exports: resolve.NewExportIndex(),
		symbols: extract.NewSymbolIndex(),
		log:     logging.Default(),
		sources: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.engine = extract.NewEngine(p.symbols, resolve.NewResolver(p.exports), p.engineOpts...)
	p.log = p.log.With("component", "ingest")
	return p
}

// Stats summarizes one ingest operation.
type Stats struct {
	// FilesIngested counts parse results fully written to the graph.
	FilesIngested int

	// FilesSkipped counts parse results skipped by the digest cache.
	FilesSkipped int

	// FilesFailed counts parse results that could not be ingested.
	FilesFailed int

	// Entities counts entity upserts performed.
	Entities int

	// Relationships counts relationship writes performed.
	Relationships int
}

func (s *Stats) merge(o *Stats) {
	s.FilesIngested += o.FilesIngested
	s.FilesSkipped += o.FilesSkipped
	s.FilesFailed += o.FilesFailed
	s.Entities += o.Entities
	s.Relationships += o.Relationships
}

// IngestFile ingests a single parse-result document.
//
// Returns the stats of the run; on error the stats cover whatever was
// written before the failure.
func (p *Pipeline) IngestFile(ctx context.Context, docPath string) (*Stats, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	data, err := os.ReadFile(docPath)
	if err != nil {
		ingestFilesTotal.WithLabelValues(outcomeFailed).Inc()
		return &Stats{FilesFailed: 1}, fmt.Errorf("read parse result %s: %w", docPath, err)
	}
	r, err := ast.DecodeParseResult(data)
	if err != nil {
		ingestFilesTotal.WithLabelValues(outcomeFailed).Inc()
		return &Stats{FilesFailed: 1}, fmt.Errorf("decode parse result %s: %w", docPath, err)
	}
	p.rememberSource(ctx, docPath, r.FilePath)
	return p.ingestResult(ctx, r)
}

// IngestDir walks a directory of parse-result documents (*.json) and
// ingests each one. Ignore patterns from WithIgnorePatterns apply to
// both directories and files.
//
// Every decodable document is registered in the resolution indexes
// before any is ingested, so import edges inside the batch do not
// depend on walk order. Unreadable or invalid documents are counted and
// logged, not fatal; the returned error covers only the walk itself.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) (*Stats, error) {
	if ctx == nil {
		return nil, graph.ErrNilContext
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "ingest_dir",
		trace.WithAttributes(attribute.String("ingest.dir", dir)))
	defer span.End()
	log := telemetry.LoggerWithTrace(ctx, p.log.Slog())

	stats := &Stats{}
	var results []*ast.ParseResult

	err := filepath.WalkDir(dir, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if walkPath != dir && ignoredPath(walkPath, p.ignorePatterns) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(walkPath) != ".json" || ignoredPath(walkPath, p.ignorePatterns) {
			return nil
		}
		data, err := os.ReadFile(walkPath)
		if err != nil {
			stats.FilesFailed++
			ingestFilesTotal.WithLabelValues(outcomeFailed).Inc()
			log.Warn("skipping unreadable parse result", "path", walkPath, "error", err)
			return nil
		}
		r, err := ast.DecodeParseResult(data)
		if err != nil {
			stats.FilesFailed++
			ingestFilesTotal.WithLabelValues(outcomeFailed).Inc()
			log.Warn("skipping invalid parse result", "path", walkPath, "error", err)
			return nil
		}
		p.rememberSource(ctx, walkPath, r.FilePath)
		results = append(results, r)
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return stats, fmt.Errorf("walk %s: %w", dir, err)
	}

	// Register the whole batch before ingesting any of it.
	for _, r := range results {
		assignSymbolIDs(r)
		p.register(r)
	}

	for _, r := range results {
		st, err := p.ingestResult(ctx, r)
		if st != nil {
			stats.merge(st)
		}
		if err != nil {
			log.Warn("ingest failed", "file", r.FilePath, "error", err)
		}
	}

	telemetry.SetSpanOK(span)
	log.Info("directory ingested",
		"dir", dir,
		"ingested", stats.FilesIngested,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed)
	return stats, nil
}

// ingestResult runs the full pipeline over one decoded parse result.
func (p *Pipeline) ingestResult(ctx context.Context, r *ast.ParseResult) (*Stats, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "ingest_result",
		trace.WithAttributes(attribute.String("file.path", r.FilePath)))
	defer span.End()
	start := time.Now()
	defer func() { ingestDuration.Observe(time.Since(start).Seconds()) }()

	stats := &Stats{}
	log := telemetry.LoggerWithTrace(ctx, p.log.Slog())

	assignSymbolIDs(r)

	if p.digestUnchanged(ctx, r, log) {
		// The graph already holds this parse result; only the
		// in-process resolver state needs rebuilding.
		telemetry.AddSpanEvent(span, "digest_cache_hit")
		p.register(r)
		stats.FilesSkipped++
		ingestFilesTotal.WithLabelValues(outcomeSkipped).Inc()
		return stats, nil
	}

	p.register(r)

	fail := func(err error) (*Stats, error) {
		stats.FilesFailed++
		ingestFilesTotal.WithLabelValues(outcomeFailed).Inc()
		telemetry.RecordError(span, err)
		return stats, err
	}

	if err := p.upsertFile(ctx, r, stats); err != nil {
		return fail(err)
	}
	if err := p.upsertSymbols(ctx, r, extract.FileEntityID(r.FilePath), r.Symbols, stats); err != nil {
		return fail(err)
	}
	if err := p.linkImports(ctx, r, stats); err != nil {
		return fail(err)
	}
	if err := p.extractEdges(ctx, r, stats); err != nil {
		return fail(err)
	}

	p.storeDigest(ctx, r, log)

	stats.FilesIngested++
	ingestFilesTotal.WithLabelValues(outcomeIngested).Inc()
	ingestEntitiesTotal.Add(float64(stats.Entities))
	ingestEdgesTotal.Add(float64(stats.Relationships))
	telemetry.SetSpanOK(span)
	log.Info("file ingested",
		"file", r.FilePath,
		"entities", stats.Entities,
		"relationships", stats.Relationships)
	return stats, nil
}

// register publishes the file's exports and symbols to the in-process
// resolution indexes. Re-registration replaces the previous state.
func (p *Pipeline) register(r *ast.ParseResult) {
	p.exports.AddFile(r)
	p.symbols.AddFile(r)
}

// assignSymbolIDs fills in canonical ids for symbols the parser left
// blank. Ids must exist before indexing or upserting.
func assignSymbolIDs(r *ast.ParseResult) {
	var walk func(syms []*ast.Symbol)
	walk = func(syms []*ast.Symbol) {
		for _, s := range syms {
			if s == nil {
				continue
			}
			if s.FilePath == "" {
				s.FilePath = r.FilePath
			}
			if s.Language == "" {
				s.Language = r.Language
			}
			if s.ID == "" {
				s.ID = ast.GenerateID(s.FilePath, s.StartLine, s.Name)
			}
			walk(s.Children)
		}
	}
	walk(r.Symbols)
}

// upsertFile writes the file entity.
func (p *Pipeline) upsertFile(ctx context.Context, r *ast.ParseResult, stats *Stats) error {
	meta := map[string]any{metaStale: false}
	if r.Package != "" {
		meta["package"] = r.Package
	}
	e := &graph.Entity{
		ID:       extract.FileEntityID(r.FilePath),
		Type:     graph.EntityFile,
		Name:     path.Base(r.FilePath),
		Path:     r.FilePath,
		Hash:     r.Hash,
		Language: r.Language,
		Metadata: meta,
	}
	if _, err := p.svc.CreateOrUpdateEntity(ctx, e); err != nil {
		return fmt.Errorf("upsert file %s: %w", r.FilePath, err)
	}
	stats.Entities++
	return nil
}

// upsertSymbols writes symbol entities and their CONTAINS edges,
// recursing through nested declarations. Value kinds (variables,
// constants, properties) stay index-only; their children still chain to
// the nearest containing declaration.
func (p *Pipeline) upsertSymbols(ctx context.Context, r *ast.ParseResult, parentID string, syms []*ast.Symbol, stats *Stats) error {
	for _, s := range syms {
		if s == nil {
			continue
		}
		containerID := parentID
		if typ, ok := entityTypeForKind(s.Kind); ok {
			e := &graph.Entity{
				ID:       s.ID,
				Type:     typ,
				Name:     s.Name,
				Path:     r.FilePath,
				Language: s.Language,
				Metadata: symbolMetadata(s),
			}
			if _, err := p.svc.CreateOrUpdateEntity(ctx, e); err != nil {
				return fmt.Errorf("upsert symbol %s: %w", s.ID, err)
			}
			stats.Entities++

			rel := &graph.Relationship{
				Type:         graph.RelationContains,
				FromEntityID: parentID,
				ToEntityID:   s.ID,
				Metadata: graph.Metadata{
					Kind:       "declaration",
					Scope:      graph.ScopeLocal,
					Resolution: graph.ResolutionDirect,
					Line:       s.StartLine,
				},
			}
			if _, err := p.svc.CreateRelationship(ctx, rel); err != nil {
				return fmt.Errorf("contain %s: %w", s.ID, err)
			}
			stats.Relationships++
			containerID = s.ID
		}
		if err := p.upsertSymbols(ctx, r, containerID, s.Children, stats); err != nil {
			return err
		}
	}
	return nil
}

// entityTypeForKind maps declaration kinds to graph entity types. Value
// kinds (variables, constants, properties) are indexed for resolution
// but do not become graph nodes of their own.
func entityTypeForKind(k ast.SymbolKind) (graph.EntityType, bool) {
	switch k {
	case ast.SymbolKindFunction, ast.SymbolKindMethod:
		return graph.EntityFunction, true
	case ast.SymbolKindClass, ast.SymbolKindEnum:
		return graph.EntityClass, true
	case ast.SymbolKindInterface:
		return graph.EntityInterface, true
	case ast.SymbolKindTypeAlias:
		return graph.EntityTypeAlias, true
	default:
		return "", false
	}
}

func symbolMetadata(s *ast.Symbol) map[string]any {
	meta := map[string]any{
		metaStale:   false,
		"kind":      s.Kind.String(),
		"exported":  s.Exported,
		"startLine": s.StartLine,
		"endLine":   s.EndLine,
	}
	if s.Signature != "" {
		meta["signature"] = s.Signature
	}
	if s.DocComment != "" {
		meta["docComment"] = s.DocComment
	}
	return meta
}

// linkImports writes one IMPORTS edge per import statement. Relative
// specifiers that resolve through the export index target the imported
// file entity; everything else targets a module or external
// placeholder, same convention as the extraction engine's dependency
// edges.
func (p *Pipeline) linkImports(ctx context.Context, r *ast.ParseResult, stats *Stats) error {
	fileID := extract.FileEntityID(r.FilePath)
	for _, imp := range r.Imports {
		if imp.Path == "" {
			continue
		}
		md := graph.Metadata{
			Kind:       "import",
			Resolution: graph.ResolutionDirect,
			Line:       imp.Location.StartLine,
		}
		var to string
		if file := p.exports.ResolveSpecifier(r.FilePath, imp.Path); file != "" {
			to = extract.FileEntityID(file)
			md.Scope = graph.ScopeImported
		} else {
			to, _ = resolve.ExternalTarget(resolve.PackageRoot(imp.Path))
			md.Scope = graph.ScopeExternal
		}
		rel := &graph.Relationship{
			Type:         graph.RelationImports,
			FromEntityID: fileID,
			ToEntityID:   to,
			Metadata:     md,
		}
		if _, err := p.svc.CreateRelationship(ctx, rel); err != nil {
			return fmt.Errorf("import edge %s -> %s: %w", fileID, to, err)
		}
		stats.Relationships++
	}
	return nil
}

// extractEdges runs the extraction engine over the file's raw facts and
// stores every surviving edge.
func (p *Pipeline) extractEdges(ctx context.Context, r *ast.ParseResult, stats *Stats) error {
	importMap, importSymbolMap := r.BuildImportMaps()
	edges, err := p.engine.Extract(ctx, extract.ExtractInput{
		FilePath:        r.FilePath,
		FileEntityID:    extract.FileEntityID(r.FilePath),
		Symbols:         r.Symbols,
		ImportMap:       importMap,
		ImportSymbolMap: importSymbolMap,
		Identifiers:     r.Identifiers,
		Instantiations:  r.Instantiations,
		Assignments:     r.Assignments,
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", r.FilePath, err)
	}
	for _, rel := range edges {
		if _, err := p.svc.CreateRelationship(ctx, rel); err != nil {
			return fmt.Errorf("store %s edge: %w", rel.Type, err)
		}
		stats.Relationships++
	}
	return nil
}

// MarkStale flags a file's entities stale after its parse result was
// removed from the drop directory. Entities are kept; queries decide
// how to treat them. The resolution indexes drop the file immediately
// so later extraction stops resolving into it.
//
// filePath is the described source file (the parse result's FilePath),
// not the drop document path. Unknown files are not an error.
func (p *Pipeline) MarkStale(ctx context.Context, filePath string) error {
	if ctx == nil {
		return graph.ErrNilContext
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "mark_stale",
		trace.WithAttributes(attribute.String("file.path", filePath)))
	defer span.End()
	log := telemetry.LoggerWithTrace(ctx, p.log.Slog())

	p.exports.RemoveFile(filePath)
	p.symbols.RemoveFile(filePath)

	fileID := extract.FileEntityID(filePath)
	if _, err := p.svc.GetEntity(ctx, fileID); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			log.Debug("remove for unknown file", "file", filePath)
			return nil
		}
		telemetry.RecordError(span, err)
		return fmt.Errorf("load file %s: %w", filePath, err)
	}

	since := time.Now().UTC().Format(time.RFC3339)
	marked := 0
	visited := make(map[string]bool)
	queue := []string{fileID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		patch := &graph.Entity{Metadata: map[string]any{metaStale: true, metaStaleSince: since}}
		if _, err := p.svc.UpdateEntity(ctx, id, patch); err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("mark %s stale: %w", id, err)
		}
		marked++

		rels, err := p.svc.GetRelationships(ctx, id, graph.DirectionOutgoing, graph.RelationContains)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("children of %s: %w", id, err)
		}
		for _, rel := range rels {
			queue = append(queue, rel.ToEntityID)
		}
	}

	telemetry.SetSpanOK(span)
	log.Info("marked stale", "file", filePath, "entities", marked)
	return nil
}

// ChangeHandler returns a FileChangeHandler feeding watcher batches
// through the pipeline: creates and writes ingest, removes and renames
// mark the described file stale. Only *.json documents are considered.
func (p *Pipeline) ChangeHandler(ctx context.Context) FileChangeHandler {
	return func(changes []FileChange) {
		for _, c := range changes {
			if filepath.Ext(c.Path) != ".json" {
				continue
			}
			switch c.Op {
			case FileOpRemove, FileOpRename:
				src, ok := p.lookupSource(ctx, c.Path)
				if !ok {
					p.log.Debug("remove for untracked document", "path", c.Path)
					continue
				}
				if err := p.MarkStale(ctx, src); err != nil {
					p.log.Warn("mark stale failed", "file", src, "error", err)
				}
			default:
				if _, err := p.IngestFile(ctx, c.Path); err != nil {
					p.log.Warn("ingest failed", "path", c.Path, "error", err)
				}
			}
		}
	}
}

// digestUnchanged reports whether the digest cache proves this exact
// parse result was already ingested. Cache failures degrade to a miss.
func (p *Pipeline) digestUnchanged(ctx context.Context, r *ast.ParseResult, log *slog.Logger) bool {
	if p.cache == nil || r.Hash == "" {
		return false
	}
	val, ok, err := p.cache.Get(ctx, digestKeyPrefix+r.FilePath)
	if err != nil {
		ingestDigestChecks.WithLabelValues("error").Inc()
		log.Warn("digest cache read failed", "file", r.FilePath, "error", err)
		return false
	}
	if ok && string(val) == r.Hash {
		ingestDigestChecks.WithLabelValues("hit").Inc()
		return true
	}
	ingestDigestChecks.WithLabelValues("miss").Inc()
	return false
}

func (p *Pipeline) storeDigest(ctx context.Context, r *ast.ParseResult, log *slog.Logger) {
	if p.cache == nil || r.Hash == "" {
		return
	}
	if err := p.cache.Set(ctx, digestKeyPrefix+r.FilePath, []byte(r.Hash), p.cacheTTL); err != nil {
		log.Warn("digest cache write failed", "file", r.FilePath, "error", err)
	}
}

// rememberSource records which source file a drop document describes,
// so a later remove of the document maps back to its entities. The
// mapping is mirrored into the cache when one is configured, surviving
// restarts alongside the digests.
func (p *Pipeline) rememberSource(ctx context.Context, docPath, filePath string) {
	p.mu.Lock()
	p.sources[docPath] = filePath
	p.mu.Unlock()
	if p.cache != nil {
		if err := p.cache.Set(ctx, sourceKeyPrefix+docPath, []byte(filePath), p.cacheTTL); err != nil {
			p.log.Warn("source mapping write failed", "path", docPath, "error", err)
		}
	}
}

func (p *Pipeline) lookupSource(ctx context.Context, docPath string) (string, bool) {
	p.mu.Lock()
	filePath, ok := p.sources[docPath]
	p.mu.Unlock()
	if ok {
		return filePath, true
	}
	if p.cache == nil {
		return "", false
	}
	val, ok, err := p.cache.Get(ctx, sourceKeyPrefix+docPath)
	if err != nil || !ok {
		return "", false
	}
	return string(val), true
}
