// Package strata indexes long documents into a provenance-preserving
// knowledge graph: deterministic sections, section-bounded chunks,
// checkpointed LLM extraction, resolved cross-references, and section
// communities, all persisted in a single SQLite database.
package strata

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/okkerlund/strata/chunker"
	"github.com/okkerlund/strata/coordinator"
	"github.com/okkerlund/strata/extract"
	"github.com/okkerlund/strata/graph"
	"github.com/okkerlund/strata/llm"
	"github.com/okkerlund/strata/parser"
	"github.com/okkerlund/strata/refs"
	"github.com/okkerlund/strata/section"
	"github.com/okkerlund/strata/store"
)

// Document statuses.
const (
	statusIndexing = "indexing"
	statusIndexed  = "indexed"
	statusPartial  = "indexed_partial"
)

// Engine is the main entry point for the indexing pipeline.
type Engine interface {
	// Index runs the full pipeline on one document. Re-indexing an
	// unchanged, fully indexed document is a no-op; re-indexing after a
	// crash resumes from the chunk ledger instead of starting over.
	Index(ctx context.Context, path string, opts ...IndexOption) (*RunReport, error)

	// Resume continues processing an already-registered document from
	// whatever state its chunk ledger is in.
	Resume(ctx context.Context, docID string) (*RunReport, error)

	// Status reports a document's indexing progress and graph size.
	Status(ctx context.Context, docID string) (*Status, error)

	// Documents lists all registered documents.
	Documents(ctx context.Context) ([]store.Document, error)

	// Delete removes a document and everything derived from it.
	Delete(ctx context.Context, docID string) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// RunReport summarises one Index or Resume call.
type RunReport struct {
	DocID       string   `json:"doc_id"`
	RunID       string   `json:"run_id,omitempty"`
	Resumed     bool     `json:"resumed"`
	Unchanged   bool     `json:"unchanged"`
	Sections    int      `json:"sections"`
	Chunks      int      `json:"chunks"`
	Processed   int      `json:"processed"`
	Exhausted   []string `json:"exhausted,omitempty"`
	References  int      `json:"references"`
	Communities int      `json:"communities"`
}

// Status reports a document's current indexing state.
type Status struct {
	Document    store.Document `json:"document"`
	ChunkCounts map[string]int `json:"chunk_counts"`
	Stats       store.Stats    `json:"stats"`
	LastRun     *store.Run     `json:"last_run,omitempty"`
}

// IndexOption configures an Index call.
type IndexOption func(*indexOptions)

type indexOptions struct {
	force   bool
	subject string
}

// WithForceReindex discards existing graph data for the document and
// rebuilds from scratch even when the content hash is unchanged.
func WithForceReindex() IndexOption {
	return func(o *indexOptions) { o.force = true }
}

// WithSubject overrides the document subject used as extraction context.
// By default the subject comes from the parsed document, falling back to
// the file name.
func WithSubject(subject string) IndexOption {
	return func(o *indexOptions) { o.subject = subject }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	extractor extract.Extractor
	embedLLM  llm.Provider
	parsers   *parser.Registry
	chunkr    *chunker.Chunker
}

// New creates a strata engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	primary, err := llm.NewProvider(cfg.Extraction)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating extraction provider: %w", err)
	}
	var fallback llm.Provider
	if cfg.Fallback.Provider != "" {
		fallback, err = llm.NewProvider(cfg.Fallback)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating fallback provider: %w", err)
		}
	}
	var embedLLM llm.Provider
	if cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(cfg.Embedding)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	return &engine{
		cfg:       cfg,
		store:     s,
		extractor: extract.NewLLMExtractor(primary, fallback, cfg.Extraction.Model),
		embedLLM:  embedLLM,
		parsers:   parser.NewRegistry(),
		chunkr: chunker.New(chunker.Config{
			ChunkSize: cfg.ChunkSize,
			Overlap:   cfg.ChunkOverlap,
			MaxSize:   cfg.MaxChunkSize,
		}),
	}, nil
}

// NewWithExtractor is like New but injects a custom extractor. Used by
// tests and by callers that bring their own extraction backend.
func NewWithExtractor(cfg Config, ex extract.Extractor) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1536
	}
	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &engine{
		cfg:       cfg,
		store:     s,
		extractor: ex,
		parsers:   parser.NewRegistry(),
		chunkr: chunker.New(chunker.Config{
			ChunkSize: cfg.ChunkSize,
			Overlap:   cfg.ChunkOverlap,
			MaxSize:   cfg.MaxChunkSize,
		}),
	}, nil
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Close() error { return e.store.Close() }

func (e *engine) Documents(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

func (e *engine) Delete(ctx context.Context, docID string) error {
	if err := e.store.DeleteDocument(ctx, docID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDocumentNotFound
		}
		return err
	}
	return nil
}

// Index runs the full pipeline: parse, detect sections, chunk, extract,
// resolve references, embed, partition communities.
func (e *engine) Index(ctx context.Context, path string, opts ...IndexOption) (*RunReport, error) {
	options := &indexOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}
	docID := DocID(absPath)

	existing, err := e.store.GetDocument(ctx, docID)
	if err == nil && existing.ContentHash == hash && !options.force {
		switch existing.Status {
		case statusIndexed, statusPartial:
			slog.Info("index: content unchanged, skipping", "doc_id", docID)
			return &RunReport{DocID: docID, Unchanged: true}, nil
		default:
			// Same content, interrupted run: the structure in the store is
			// still valid, so resume from the chunk ledger.
			slog.Info("index: resuming interrupted run", "doc_id", docID)
			return e.Resume(ctx, docID)
		}
	}
	if err == nil && (existing.ContentHash != hash || options.force) {
		// Changed content invalidates all derived structure.
		slog.Info("index: content changed, rebuilding", "doc_id", docID)
		if err := e.store.DeleteDocumentData(ctx, docID); err != nil {
			return nil, fmt.Errorf("clearing stale document data: %w", err)
		}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(absPath), "."))
	p, err := e.parsers.Get(ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	parsed, err := p.Parse(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	subject := options.subject
	if subject == "" {
		subject = parsed.Subject
	}
	if subject == "" {
		subject = strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	}

	if _, err := e.store.UpsertDocument(ctx, store.Document{
		DocID:       docID,
		Path:        absPath,
		ContentHash: hash,
		Subject:     subject,
		TotalPages:  parsed.TotalPages,
		Status:      statusIndexing,
	}); err != nil {
		return nil, fmt.Errorf("registering document: %w", err)
	}

	if err := e.buildStructure(ctx, docID, subject, parsed); err != nil {
		return nil, err
	}
	return e.process(ctx, docID)
}

// Resume continues a document from its current ledger state. Structure
// (sections, chunks) must already exist; only extraction and the stages
// derived from it run. Chunks that exhausted their retry budget in a
// previous run are granted a fresh attempt: calling Resume is the
// operator's explicit decision to try again.
func (e *engine) Resume(ctx context.Context, docID string) (*RunReport, error) {
	if _, err := e.store.GetDocument(ctx, docID); err != nil {
		return nil, ErrDocumentNotFound
	}
	exhausted, err := e.store.ExhaustedChunks(ctx, docID, e.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	for _, chunkID := range exhausted {
		if err := e.store.MarkChunkPending(ctx, docID, chunkID); err != nil {
			return nil, fmt.Errorf("requeueing chunk %s: %w", chunkID, err)
		}
	}
	report, err := e.process(ctx, docID)
	if err != nil {
		return report, err
	}
	report.Resumed = true
	return report, nil
}

func (e *engine) Status(ctx context.Context, docID string) (*Status, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	counts, err := e.store.ChunkStatusCounts(ctx, docID)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.DocStats(ctx, docID)
	if err != nil {
		return nil, err
	}
	lastRun, err := e.store.LastRun(ctx, docID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Document:    *doc,
		ChunkCounts: counts,
		Stats:       *stats,
		LastRun:     lastRun,
	}, nil
}

// buildStructure persists the deterministic document skeleton: sections,
// chunks, tables, and figures. Everything here is an idempotent upsert
// keyed by stable ids, so rebuilding the same content is harmless.
func (e *engine) buildStructure(ctx context.Context, docID, subject string, parsed *parser.Result) error {
	sections, err := section.Detect(docID, parsed.Elements, parsed.TotalPages, section.Config{
		MinSections:   e.cfg.MinSections,
		MaxGroupPages: e.cfg.MaxGroupPages,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSectionDetection, err)
	}

	storeSections := make([]store.Section, len(sections))
	texts := make(map[string]string, len(sections))
	for i, sec := range sections {
		storeSections[i] = store.Section{
			DocID:     docID,
			SectionID: sec.ID,
			Title:     sec.Title,
			Level:     sec.Level,
			PageStart: sec.PageStart,
			PageEnd:   sec.PageEnd,
			Synthetic: sec.Synthetic,
		}
		texts[sec.ID] = section.Text(sec, parsed.Elements)
	}
	if err := e.store.UpsertSections(ctx, storeSections); err != nil {
		return fmt.Errorf("persisting sections: %w", err)
	}

	tableOwner := section.AssignTables(parsed.Tables, sections)
	for i, t := range parsed.Tables {
		node := store.TableNode{
			DocID:   docID,
			TableID: fmt.Sprintf("%s:table_%d", docID, i+1),
			Label:   t.Label,
			Caption: t.Caption,
			Page:    t.Page,
		}
		if owner, ok := tableOwner[i]; ok {
			node.SectionID = owner
		}
		if err := e.store.UpsertTable(ctx, node); err != nil {
			return fmt.Errorf("persisting table %s: %w", node.TableID, err)
		}
	}
	figureTables := make([]parser.Table, len(parsed.Figures))
	for i, f := range parsed.Figures {
		figureTables[i] = parser.Table{Label: f.Label, Caption: f.Caption, Page: f.Page}
	}
	figOwner := section.AssignTables(figureTables, sections)
	for i, f := range parsed.Figures {
		node := store.FigureNode{
			DocID:    docID,
			FigureID: fmt.Sprintf("%s:fig_%d", docID, i+1),
			Label:    f.Label,
			Caption:  f.Caption,
			Page:     f.Page,
		}
		if owner, ok := figOwner[i]; ok {
			node.SectionID = owner
		}
		if err := e.store.UpsertFigure(ctx, node); err != nil {
			return fmt.Errorf("persisting figure %s: %w", node.FigureID, err)
		}
	}

	chunks := e.chunkr.SplitAll(sections, texts, subject)
	if err := e.store.CreateChunks(ctx, chunks); err != nil {
		return fmt.Errorf("persisting chunks: %w", err)
	}

	slog.Info("index: structure built",
		"doc_id", docID, "sections", len(sections), "chunks", len(chunks),
		"tables", len(parsed.Tables), "figures", len(parsed.Figures))
	return nil
}

// process runs extraction and everything derived from it. It is safe to
// call any number of times; completed work is skipped via the ledger and
// derived stages recompute deterministically.
func (e *engine) process(ctx context.Context, docID string) (*RunReport, error) {
	runID := uuid.NewString()
	if err := e.store.StartRun(ctx, runID, docID); err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	started := time.Now()

	coord := coordinator.New(e.store, e.extractor, coordinator.Config{
		Workers:      e.cfg.Workers,
		MaxRetries:   e.cfg.MaxRetries,
		RateLimit:    e.cfg.RateLimit,
		ChunkTimeout: time.Duration(e.cfg.ChunkTimeout) * time.Second,
	})
	summary, err := coord.Run(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("extraction run %s: %w", runID, err)
	}

	references, err := refs.Run(ctx, e.store, docID)
	if err != nil {
		return nil, fmt.Errorf("resolving references: %w", err)
	}

	if e.embedLLM != nil {
		if err := e.embedSalientEntities(ctx, docID, summary.SalientEntityIDs); err != nil {
			// Missing embeddings degrade retrieval, not graph integrity.
			slog.Warn("index: entity embedding failed", "doc_id", docID, "error", err)
		}
	}

	communities, err := graph.Run(ctx, e.store, docID, graph.Config{
		ReferenceWeight:  e.cfg.ReferenceWeight,
		SharedEntityBase: e.cfg.SharedEntityBase,
		SharedEntityCap:  e.cfg.SharedEntityCap,
		MinShared:        e.cfg.MinSharedEntities,
		SmallGraphNodes:  e.cfg.SmallGraphNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("building communities: %w", err)
	}

	if err := e.store.FinishRun(ctx, store.Run{
		RunID:           runID,
		DocID:           docID,
		Processed:       summary.Processed,
		Failed:          summary.Failed,
		ExhaustedChunks: summary.Exhausted,
	}); err != nil {
		return nil, fmt.Errorf("finishing run: %w", err)
	}

	status := statusIndexed
	if len(summary.Exhausted) > 0 {
		status = statusPartial
	}
	if err := e.store.UpdateDocumentStatus(ctx, docID, status); err != nil {
		return nil, fmt.Errorf("updating document status: %w", err)
	}

	stats, err := e.store.DocStats(ctx, docID)
	if err != nil {
		return nil, err
	}

	slog.Info("index: run complete",
		"doc_id", docID, "run_id", runID, "status", status,
		"processed", summary.Processed, "exhausted", len(summary.Exhausted),
		"references", references, "communities", len(communities),
		"elapsed", time.Since(started).Round(time.Millisecond))

	report := &RunReport{
		DocID:       docID,
		RunID:       runID,
		Sections:    stats.Sections,
		Chunks:      stats.Chunks,
		Processed:   summary.Processed,
		Exhausted:   summary.Exhausted,
		References:  references,
		Communities: len(communities),
	}
	if e.cfg.StrictCompletion && len(summary.Exhausted) > 0 {
		return report, fmt.Errorf("%w: %d chunks exhausted retries",
			ErrExtractionIncomplete, len(summary.Exhausted))
	}
	return report, nil
}

// embedSalientEntities embeds the entities the run's commits reported as
// salient, skipping any that already have a vector. The id set comes
// straight from the extraction commits; salience is never re-derived
// here. SUPPORTING entities never reach this stage: embeddings cost
// money and supporting mentions do not earn them.
func (e *engine) embedSalientEntities(ctx context.Context, docID string, salientIDs []int64) error {
	if len(salientIDs) == 0 {
		return nil
	}
	wanted := make(map[int64]struct{}, len(salientIDs))
	for _, id := range salientIDs {
		wanted[id] = struct{}{}
	}

	entities, err := e.store.EntitiesByDoc(ctx, docID)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	var pending []store.Entity
	for _, ent := range entities {
		if _, ok := wanted[ent.ID]; !ok {
			continue
		}
		has, err := e.store.EntityHasEmbedding(ctx, ent.ID)
		if err != nil {
			return err
		}
		if !has {
			pending = append(pending, ent)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	const batchSize = 64
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, ent := range batch {
			texts[i] = ent.Name
			if ent.Description != "" {
				texts[i] += ": " + ent.Description
			}
		}
		vectors, err := e.embedLLM.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		for i, vec := range vectors {
			if len(vec) == 0 {
				continue
			}
			if err := e.store.InsertEntityEmbedding(ctx, batch[i].ID, vec); err != nil {
				return fmt.Errorf("storing embedding for %q: %w", batch[i].Name, err)
			}
		}
	}
	slog.Info("index: entity embeddings written", "doc_id", docID, "count", len(pending))
	return nil
}

// DocID derives the stable document id from a file path: the lowercased
// file stem with every non-alphanumeric run collapsed to one underscore.
// Identical paths always map to identical ids, which is what makes every
// downstream id (sections, chunks) reproducible.
func DocID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(stem) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// fileHash returns the SHA-256 hex digest of a file's contents.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
