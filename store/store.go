// Package store is the graph persistence layer. Every node and edge write
// goes through an upsert keyed by a stable natural key, so any write may be
// repeated after a crash or resume without duplicating state. The only
// provenance edges in the model are Section->Entity (MENTIONS) and
// Section->Relationship (ASSERTS, expressed as the section_id column on the
// relationship row); no API on this type can create an edge whose endpoint
// is a relationship.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Chunk processing states. Transitions are forward-only except
// StatusFailed -> StatusPending on retry.
const (
	StatusPending   = "PENDING"
	StatusProcessed = "PROCESSED"
	StatusFailed    = "FAILED"
)

// Salience levels controlling downstream cost-incurring stages.
const (
	SalienceCore       = "CORE"
	SalienceImportant  = "IMPORTANT"
	SalienceSupporting = "SUPPORTING"
)

// Reference target kinds.
const (
	TargetSection = "section"
	TargetTable   = "table"
	TargetFigure  = "figure"
)

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	DocID       string `json:"doc_id"`
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Subject     string `json:"subject,omitempty"`
	TotalPages  int    `json:"total_pages"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Section represents a row in the sections table.
type Section struct {
	ID        int64  `json:"id"`
	DocID     string `json:"doc_id"`
	SectionID string `json:"section_id"`
	Title     string `json:"title"`
	Level     int    `json:"level"`
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	Synthetic bool   `json:"synthetic"`
}

// Chunk represents a row in the chunks table. Chunks are the checkpoint
// unit: rows persist for the life of the run and carry processing state.
type Chunk struct {
	ID         int64  `json:"id"`
	DocID      string `json:"doc_id"`
	ChunkID    string `json:"chunk_id"`
	SectionID  string `json:"section_id"`
	Ordinal    int    `json:"ordinal"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Subject    string `json:"subject,omitempty"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// Entity represents a row in the entities table.
type Entity struct {
	ID          int64  `json:"id"`
	DocID       string `json:"doc_id"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
	Salience    string `json:"salience"`
}

// Relationship represents a row in the relationships table. SectionID is
// the ASSERTS provenance edge.
type Relationship struct {
	ID             int64  `json:"id"`
	DocID          string `json:"doc_id"`
	SourceEntityID int64  `json:"source_entity_id"`
	TargetEntityID int64  `json:"target_entity_id"`
	RelType        string `json:"rel_type"`
	Description    string `json:"description"`
	SectionID      string `json:"section_id"`
}

// TableNode is a lightweight table node.
type TableNode struct {
	ID        int64  `json:"id"`
	DocID     string `json:"doc_id"`
	TableID   string `json:"table_id"`
	Label     string `json:"label"`
	Caption   string `json:"caption,omitempty"`
	Page      int    `json:"page"`
	SectionID string `json:"section_id,omitempty"`
}

// FigureNode is a lightweight figure node.
type FigureNode struct {
	ID        int64  `json:"id"`
	DocID     string `json:"doc_id"`
	FigureID  string `json:"figure_id"`
	Label     string `json:"label"`
	Caption   string `json:"caption,omitempty"`
	Page      int    `json:"page"`
	SectionID string `json:"section_id,omitempty"`
}

// Reference is a resolved REFERS_TO edge.
type Reference struct {
	DocID         string `json:"doc_id"`
	FromSectionID string `json:"from_section_id"`
	TargetKind    string `json:"target_kind"`
	TargetID      string `json:"target_id"`
	Reason        string `json:"reason"`
}

// Community is a persisted section community.
type Community struct {
	ID          int64    `json:"id"`
	DocID       string   `json:"doc_id"`
	CommunityID string   `json:"community_id"`
	Level       int      `json:"level"`
	Summary     string   `json:"summary,omitempty"`
	SectionIDs  []string `json:"section_ids"`
}

// Run is a per-run status summary for operator reporting.
type Run struct {
	RunID           string   `json:"run_id"`
	DocID           string   `json:"doc_id"`
	Processed       int      `json:"processed"`
	Failed          int      `json:"failed"`
	ExhaustedChunks []string `json:"exhausted_chunks,omitempty"`
	StartedAt       string   `json:"started_at"`
	FinishedAt      string   `json:"finished_at,omitempty"`
}

// Store wraps the SQLite database for all strata persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for diagnostic queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record keyed by doc_id.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, path, content_hash, subject, total_pages, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			path = excluded.path,
			content_hash = excluded.content_hash,
			subject = excluded.subject,
			total_pages = excluded.total_pages,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, doc.DocID, doc.Path, doc.ContentHash, doc.Subject, doc.TotalPages, doc.Status)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE doc_id = ?", doc.DocID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetDocument retrieves a document by its stable doc_id.
func (s *Store) GetDocument(ctx context.Context, docID string) (*Document, error) {
	doc := &Document{}
	var subject sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, doc_id, path, content_hash, subject, total_pages, status, created_at, updated_at
		FROM documents WHERE doc_id = ?
	`, docID).Scan(&doc.ID, &doc.DocID, &doc.Path, &doc.ContentHash,
		&subject, &doc.TotalPages, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Subject = subject.String
	return doc, nil
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, path, content_hash, subject, total_pages, status, created_at, updated_at
		FROM documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var subject sql.NullString
		if err := rows.Scan(&d.ID, &d.DocID, &d.Path, &d.ContentHash,
			&subject, &d.TotalPages, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Subject = subject.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, docID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE doc_id = ?",
		status, docID)
	return err
}

// DeleteDocumentData removes all graph data for a document but keeps the
// document record. Used when a changed content hash forces fresh structure.
func (s *Store) DeleteDocumentData(ctx context.Context, docID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM vec_entities WHERE entity_id IN (SELECT id FROM entities WHERE doc_id = ?)",
			"DELETE FROM mentions WHERE doc_id = ?",
			"DELETE FROM relationships WHERE doc_id = ?",
			"DELETE FROM entities WHERE doc_id = ?",
			"DELETE FROM section_refs WHERE doc_id = ?",
			"DELETE FROM communities WHERE doc_id = ?",
			"DELETE FROM doc_tables WHERE doc_id = ?",
			"DELETE FROM doc_figures WHERE doc_id = ?",
			"DELETE FROM chunks WHERE doc_id = ?",
			"DELETE FROM sections WHERE doc_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, docID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDocument removes a document and all of its graph data.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.DeleteDocumentData(ctx, docID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE doc_id = ?", docID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Section operations ---

// UpsertSections writes a batch of sections in one transaction, keyed by
// (doc_id, section_id).
func (s *Store) UpsertSections(ctx context.Context, sections []Section) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sections (doc_id, section_id, title, level, page_start, page_end, synthetic)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id, section_id) DO UPDATE SET
				title = excluded.title,
				level = excluded.level,
				page_start = excluded.page_start,
				page_end = excluded.page_end,
				synthetic = excluded.synthetic
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sec := range sections {
			if _, err := stmt.ExecContext(ctx, sec.DocID, sec.SectionID, sec.Title,
				sec.Level, sec.PageStart, sec.PageEnd, boolInt(sec.Synthetic)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SectionsByDoc returns all sections for a document ordered by page_start.
func (s *Store) SectionsByDoc(ctx context.Context, docID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, section_id, title, level, page_start, page_end, synthetic
		FROM sections WHERE doc_id = ? ORDER BY page_start
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []Section
	for rows.Next() {
		var sec Section
		var synthetic int
		if err := rows.Scan(&sec.ID, &sec.DocID, &sec.SectionID, &sec.Title,
			&sec.Level, &sec.PageStart, &sec.PageEnd, &synthetic); err != nil {
			return nil, err
		}
		sec.Synthetic = synthetic != 0
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// --- Chunk operations ---

// CreateChunks inserts chunks with INSERT OR IGNORE so a resumed run keeps
// the status and retry_count of chunks that already exist. New chunks start
// PENDING.
func (s *Store) CreateChunks(ctx context.Context, chunks []Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO chunks
				(doc_id, chunk_id, section_id, ordinal, page_start, page_end,
				 content, token_count, subject, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			status := c.Status
			if status == "" {
				status = StatusPending
			}
			if _, err := stmt.ExecContext(ctx, c.DocID, c.ChunkID, c.SectionID,
				c.Ordinal, c.PageStart, c.PageEnd, c.Text, c.TokenCount,
				c.Subject, status); err != nil {
				return err
			}
		}
		return nil
	})
}

// ChunksByDoc returns all chunks for a document in ordinal order.
func (s *Store) ChunksByDoc(ctx context.Context, docID string) ([]Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT id, doc_id, chunk_id, section_id, ordinal, page_start, page_end,
			content, token_count, subject, status, retry_count, last_error
		FROM chunks WHERE doc_id = ? ORDER BY ordinal
	`, docID)
}

// ProcessedChunksBySections returns PROCESSED chunks belonging to any of
// the given sections, in ordinal order.
func (s *Store) ProcessedChunksBySections(ctx context.Context, docID string, sectionIDs []string) ([]Chunk, error) {
	if len(sectionIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, doc_id, chunk_id, section_id, ordinal, page_start, page_end,
			content, token_count, subject, status, retry_count, last_error
		FROM chunks
		WHERE doc_id = ? AND status = '` + StatusProcessed + `'
		  AND section_id IN (?` + repeatPlaceholders(len(sectionIDs)-1) + `)
		ORDER BY ordinal`

	args := make([]interface{}, 0, len(sectionIDs)+1)
	args = append(args, docID)
	for _, id := range sectionIDs {
		args = append(args, id)
	}
	return s.queryChunks(ctx, query, args...)
}

func (s *Store) queryChunks(ctx context.Context, query string, args ...interface{}) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var subject, lastError sql.NullString
		if err := rows.Scan(&c.ID, &c.DocID, &c.ChunkID, &c.SectionID, &c.Ordinal,
			&c.PageStart, &c.PageEnd, &c.Text, &c.TokenCount,
			&subject, &c.Status, &c.RetryCount, &lastError); err != nil {
			return nil, err
		}
		c.Subject = subject.String
		c.LastError = lastError.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// MarkChunkProcessed transitions a chunk to PROCESSED. Callers must have
// durably committed the chunk's graph writes first (write-then-mark).
func (s *Store) MarkChunkProcessed(ctx context.Context, docID, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET status = ?, last_error = NULL
		WHERE doc_id = ? AND chunk_id = ?
	`, StatusProcessed, docID, chunkID)
	return err
}

// MarkChunkFailed transitions a chunk to FAILED, increments retry_count,
// and records the error for operator inspection.
func (s *Store) MarkChunkFailed(ctx context.Context, docID, chunkID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET status = ?, retry_count = retry_count + 1, last_error = ?
		WHERE doc_id = ? AND chunk_id = ?
	`, StatusFailed, errMsg, docID, chunkID)
	return err
}

// MarkChunkPending moves a FAILED chunk back to PENDING for a retry pass.
// It refuses to touch PROCESSED chunks: that transition does not exist.
func (s *Store) MarkChunkPending(ctx context.Context, docID, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET status = ?
		WHERE doc_id = ? AND chunk_id = ? AND status = ?
	`, StatusPending, docID, chunkID, StatusFailed)
	return err
}

// ChunkStatusCounts returns the number of chunks per status for a document.
func (s *Store) ChunkStatusCounts(ctx context.Context, docID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM chunks WHERE doc_id = ? GROUP BY status", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ExhaustedChunks lists chunk ids left FAILED with retry_count at or above
// the retry limit.
func (s *Store) ExhaustedChunks(ctx context.Context, docID string, maxRetries int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id FROM chunks
		WHERE doc_id = ? AND status = ? AND retry_count >= ?
		ORDER BY ordinal
	`, docID, StatusFailed, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Extraction commit (the central write path) ---

// EntityInput is a validated entity from the extraction capability.
type EntityInput struct {
	Name        string
	EntityType  string
	Description string
	Salience    string
}

// RelationshipInput is a validated relationship from the extraction
// capability; source and target are canonical entity names.
type RelationshipInput struct {
	Source      string
	Target      string
	RelType     string
	Description string
}

// CommitResult reports what a CommitExtraction call wrote.
type CommitResult struct {
	Entities      int
	Relationships int
	// SalientEntityIDs are the ids of CORE/IMPORTANT entities touched by
	// this commit. Only these are forwarded to downstream cost-incurring
	// stages; the gate lives here so callers cannot forget it.
	SalientEntityIDs []int64
}

// CommitExtraction durably writes one chunk's extraction output in a single
// transaction: entity upserts keyed by (doc_id, name), MENTIONS provenance
// from the owning section, and relationship upserts keyed by
// (doc_id, source, rel_type, target, section_id). On an entity conflict the
// longer description wins and SUPPORTING salience is upgraded to
// CORE/IMPORTANT but never downgraded. Relationships whose endpoints are
// unknown within the document are skipped, not errors.
func (s *Store) CommitExtraction(ctx context.Context, docID, sectionID string,
	entities []EntityInput, rels []RelationshipInput) (*CommitResult, error) {

	res := &CommitResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		entityIDs := make(map[string]int64, len(entities))

		for _, e := range entities {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entities (doc_id, name, entity_type, description, salience)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(doc_id, name) DO UPDATE SET
					description = CASE
						WHEN length(excluded.description) > length(entities.description)
						THEN excluded.description ELSE entities.description END,
					salience = CASE
						WHEN entities.salience = 'SUPPORTING'
						 AND excluded.salience IN ('CORE', 'IMPORTANT')
						THEN excluded.salience ELSE entities.salience END
			`, docID, e.Name, e.EntityType, e.Description, e.Salience); err != nil {
				return fmt.Errorf("upserting entity %q: %w", e.Name, err)
			}

			var id int64
			var salience string
			if err := tx.QueryRowContext(ctx,
				"SELECT id, salience FROM entities WHERE doc_id = ? AND name = ?",
				docID, e.Name).Scan(&id, &salience); err != nil {
				return fmt.Errorf("resolving entity %q: %w", e.Name, err)
			}
			entityIDs[e.Name] = id
			res.Entities++

			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO mentions (doc_id, section_id, entity_id) VALUES (?, ?, ?)",
				docID, sectionID, id); err != nil {
				return fmt.Errorf("linking entity %q to section: %w", e.Name, err)
			}

			if salience == SalienceCore || salience == SalienceImportant {
				res.SalientEntityIDs = append(res.SalientEntityIDs, id)
			}
		}

		for _, r := range rels {
			srcID, okS := entityIDs[r.Source]
			if !okS {
				srcID = lookupEntityID(ctx, tx, docID, r.Source)
			}
			tgtID, okT := entityIDs[r.Target]
			if !okT {
				tgtID = lookupEntityID(ctx, tx, docID, r.Target)
			}
			if srcID == 0 || tgtID == 0 {
				continue
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO relationships
					(doc_id, source_entity_id, target_entity_id, rel_type, description, section_id)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(doc_id, source_entity_id, rel_type, target_entity_id, section_id)
				DO UPDATE SET description = excluded.description
			`, docID, srcID, tgtID, r.RelType, r.Description, sectionID); err != nil {
				return fmt.Errorf("upserting relationship %s-%s->%s: %w", r.Source, r.RelType, r.Target, err)
			}
			res.Relationships++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func lookupEntityID(ctx context.Context, tx *sql.Tx, docID, name string) int64 {
	var id int64
	_ = tx.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE doc_id = ? AND name = ?", docID, name).Scan(&id)
	return id
}

// EntitiesByDoc returns all entities for a document.
func (s *Store) EntitiesByDoc(ctx context.Context, docID string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, name, entity_type, description, salience
		FROM entities WHERE doc_id = ? ORDER BY name
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.DocID, &e.Name, &e.EntityType,
			&e.Description, &e.Salience); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// RelationshipsByDoc returns all relationships for a document.
func (s *Store) RelationshipsByDoc(ctx context.Context, docID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, source_entity_id, target_entity_id, rel_type, description, section_id
		FROM relationships WHERE doc_id = ?
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.DocID, &r.SourceEntityID, &r.TargetEntityID,
			&r.RelType, &r.Description, &r.SectionID); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// --- Tables and figures ---

// UpsertTable writes a table node keyed by (doc_id, table_id).
func (s *Store) UpsertTable(ctx context.Context, t TableNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_tables (doc_id, table_id, label, caption, page, section_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, table_id) DO UPDATE SET
			label = excluded.label,
			caption = excluded.caption,
			page = excluded.page,
			section_id = excluded.section_id
	`, t.DocID, t.TableID, t.Label, t.Caption, t.Page, t.SectionID)
	return err
}

// UpsertFigure writes a figure node keyed by (doc_id, figure_id).
func (s *Store) UpsertFigure(ctx context.Context, f FigureNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_figures (doc_id, figure_id, label, caption, page, section_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, figure_id) DO UPDATE SET
			label = excluded.label,
			caption = excluded.caption,
			page = excluded.page,
			section_id = excluded.section_id
	`, f.DocID, f.FigureID, f.Label, f.Caption, f.Page, f.SectionID)
	return err
}

// TablesByDoc returns all table nodes for a document.
func (s *Store) TablesByDoc(ctx context.Context, docID string) ([]TableNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, table_id, label, caption, page, COALESCE(section_id, '')
		FROM doc_tables WHERE doc_id = ? ORDER BY page
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []TableNode
	for rows.Next() {
		var t TableNode
		var caption sql.NullString
		if err := rows.Scan(&t.ID, &t.DocID, &t.TableID, &t.Label, &caption, &t.Page, &t.SectionID); err != nil {
			return nil, err
		}
		t.Caption = caption.String
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// FiguresByDoc returns all figure nodes for a document.
func (s *Store) FiguresByDoc(ctx context.Context, docID string) ([]FigureNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, figure_id, label, caption, page, COALESCE(section_id, '')
		FROM doc_figures WHERE doc_id = ? ORDER BY page
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var figures []FigureNode
	for rows.Next() {
		var f FigureNode
		var caption sql.NullString
		if err := rows.Scan(&f.ID, &f.DocID, &f.FigureID, &f.Label, &caption, &f.Page, &f.SectionID); err != nil {
			return nil, err
		}
		f.Caption = caption.String
		figures = append(figures, f)
	}
	return figures, rows.Err()
}

// --- References ---

// UpsertReference writes a resolved REFERS_TO edge, deduplicated by
// (from, to, reason).
func (s *Store) UpsertReference(ctx context.Context, r Reference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO section_refs (doc_id, from_section_id, target_kind, target_id, reason)
		VALUES (?, ?, ?, ?, ?)
	`, r.DocID, r.FromSectionID, r.TargetKind, r.TargetID, r.Reason)
	return err
}

// ReferencesByDoc returns all resolved references for a document.
func (s *Store) ReferencesByDoc(ctx context.Context, docID string) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, from_section_id, target_kind, target_id, reason
		FROM section_refs WHERE doc_id = ?
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.DocID, &r.FromSectionID, &r.TargetKind, &r.TargetID, &r.Reason); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// --- Queries feeding the section graph ---

// SalientSections returns the ids of sections that mention at least one
// CORE or IMPORTANT entity. Downstream cost-incurring stages operate only
// on these.
func (s *Store) SalientSections(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.section_id
		FROM mentions m JOIN entities e ON e.id = m.entity_id
		WHERE m.doc_id = ? AND e.salience IN ('CORE', 'IMPORTANT')
		ORDER BY m.section_id
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SharedEntityPair is a pair of sections with their shared CORE entity count.
type SharedEntityPair struct {
	SectionA string
	SectionB string
	Shared   int
}

// SharedCoreEntities returns, for every section pair, the number of
// distinct CORE-salience entities both sections mention.
func (s *Store) SharedCoreEntities(ctx context.Context, docID string) ([]SharedEntityPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m1.section_id, m2.section_id, COUNT(DISTINCT m1.entity_id)
		FROM mentions m1
		JOIN mentions m2 ON m1.entity_id = m2.entity_id AND m1.section_id < m2.section_id
		JOIN entities e ON e.id = m1.entity_id
		WHERE m1.doc_id = ? AND m2.doc_id = ? AND e.salience = 'CORE'
		GROUP BY m1.section_id, m2.section_id
	`, docID, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []SharedEntityPair
	for rows.Next() {
		var p SharedEntityPair
		if err := rows.Scan(&p.SectionA, &p.SectionB, &p.Shared); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// --- Communities ---

// ReplaceCommunities deletes all prior communities for the document and
// inserts the new partition in one transaction. Communities are always
// recomputed wholesale, never patched.
func (s *Store) ReplaceCommunities(ctx context.Context, docID string, communities []Community) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM communities WHERE doc_id = ?", docID); err != nil {
			return err
		}
		for _, c := range communities {
			idsJSON, err := json.Marshal(c.SectionIDs)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO communities (doc_id, community_id, level, summary, section_ids)
				VALUES (?, ?, ?, ?, ?)
			`, docID, c.CommunityID, c.Level, c.Summary, string(idsJSON)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CommunitiesByDoc returns all communities for a document.
func (s *Store) CommunitiesByDoc(ctx context.Context, docID string) ([]Community, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, community_id, level, COALESCE(summary, ''), section_ids
		FROM communities WHERE doc_id = ? ORDER BY community_id
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []Community
	for rows.Next() {
		var c Community
		var idsJSON string
		if err := rows.Scan(&c.ID, &c.DocID, &c.CommunityID, &c.Level, &c.Summary, &idsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(idsJSON), &c.SectionIDs); err != nil {
			return nil, fmt.Errorf("parsing section_ids of community %s: %w", c.CommunityID, err)
		}
		communities = append(communities, c)
	}
	return communities, rows.Err()
}

// --- Run audit ---

// StartRun records the beginning of an indexing run.
func (s *Store) StartRun(ctx context.Context, runID, docID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, doc_id) VALUES (?, ?)", runID, docID)
	return err
}

// FinishRun records the final counts of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	exhaustedJSON, err := json.Marshal(run.ExhaustedChunks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE runs SET processed = ?, failed = ?, exhausted_chunks = ?,
			finished_at = CURRENT_TIMESTAMP
		WHERE run_id = ?
	`, run.Processed, run.Failed, string(exhaustedJSON), run.RunID)
	return err
}

// LastRun returns the most recent run for a document, or nil when the
// document has never been indexed.
func (s *Store) LastRun(ctx context.Context, docID string) (*Run, error) {
	var r Run
	var exhausted, finished sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, doc_id, processed, failed, exhausted_chunks, started_at, finished_at
		FROM runs WHERE doc_id = ? ORDER BY started_at DESC LIMIT 1
	`, docID).Scan(&r.RunID, &r.DocID, &r.Processed, &r.Failed, &exhausted, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finished.String
	if exhausted.Valid && exhausted.String != "" {
		_ = json.Unmarshal([]byte(exhausted.String), &r.ExhaustedChunks)
	}
	return &r, nil
}

// --- Entity embeddings ---

// InsertEntityEmbedding stores a vector embedding for a salient entity.
func (s *Store) InsertEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_entities (entity_id, embedding) VALUES (?, ?)",
		entityID, serializeFloat32(embedding))
	return err
}

// EntityHasEmbedding checks whether an entity already has an embedding.
func (s *Store) EntityHasEmbedding(ctx context.Context, entityID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vec_entities WHERE entity_id = ?", entityID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Diagnostics ---

// Stats holds counts of key graph objects for a document.
type Stats struct {
	Sections      int `json:"sections"`
	Chunks        int `json:"chunks"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	References    int `json:"references"`
	Communities   int `json:"communities"`
	Tables        int `json:"tables"`
	Figures       int `json:"figures"`
}

// DocStats returns object counts for one document.
func (s *Store) DocStats(ctx context.Context, docID string) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM sections WHERE doc_id = ?", &stats.Sections},
		{"SELECT COUNT(*) FROM chunks WHERE doc_id = ?", &stats.Chunks},
		{"SELECT COUNT(*) FROM entities WHERE doc_id = ?", &stats.Entities},
		{"SELECT COUNT(*) FROM relationships WHERE doc_id = ?", &stats.Relationships},
		{"SELECT COUNT(*) FROM section_refs WHERE doc_id = ?", &stats.References},
		{"SELECT COUNT(*) FROM communities WHERE doc_id = ?", &stats.Communities},
		{"SELECT COUNT(*) FROM doc_tables WHERE doc_id = ?", &stats.Tables},
		{"SELECT COUNT(*) FROM doc_figures WHERE doc_id = ?", &stats.Figures},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, docID).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
