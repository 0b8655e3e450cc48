package store

import "fmt"

// schemaSQL returns the DDL for all tables. Every node and edge table
// carries a natural-key UNIQUE constraint so all writes can be expressed as
// idempotent upserts. embeddingDim controls the vec0 virtual table
// dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Document registry with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL UNIQUE,
    path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    subject TEXT,
    total_pages INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'indexing',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Structural sections: disjoint page spans covering the whole document
CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    title TEXT NOT NULL,
    level INTEGER NOT NULL,
    page_start INTEGER NOT NULL,
    page_end INTEGER NOT NULL,
    synthetic INTEGER NOT NULL DEFAULT 0,
    UNIQUE(doc_id, section_id)
);

-- Chunks double as the checkpoint ledger: status and retry_count drive
-- resumable dispatch, and rows are never deleted during a run.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    chunk_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    page_start INTEGER NOT NULL,
    page_end INTEGER NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    subject TEXT,
    status TEXT NOT NULL DEFAULT 'PENDING',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    UNIQUE(doc_id, chunk_id)
);

-- Entities, de-duplicated by canonical name within a document
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    salience TEXT NOT NULL DEFAULT 'SUPPORTING',
    UNIQUE(doc_id, name)
);

-- MENTIONS provenance edges: Section -> Entity
CREATE TABLE IF NOT EXISTS mentions (
    doc_id TEXT NOT NULL,
    section_id TEXT NOT NULL,
    entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (section_id, entity_id)
);

-- Entity-to-entity relationships; section_id is the ASSERTS provenance.
-- Relationships never appear as edge endpoints anywhere in this schema.
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    rel_type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    section_id TEXT NOT NULL,
    UNIQUE(doc_id, source_entity_id, rel_type, target_entity_id, section_id)
);

-- Lightweight table/figure nodes (caption + page, no cell parsing)
CREATE TABLE IF NOT EXISTS doc_tables (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    table_id TEXT NOT NULL,
    label TEXT NOT NULL,
    caption TEXT,
    page INTEGER NOT NULL,
    section_id TEXT,
    UNIQUE(doc_id, table_id)
);

CREATE TABLE IF NOT EXISTS doc_figures (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    figure_id TEXT NOT NULL,
    label TEXT NOT NULL,
    caption TEXT,
    page INTEGER NOT NULL,
    section_id TEXT,
    UNIQUE(doc_id, figure_id)
);

-- REFERS_TO edges: Section -> Section|Table|Figure, deduplicated by
-- (from, to, reason). Unresolved references are never stored.
CREATE TABLE IF NOT EXISTS section_refs (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    from_section_id TEXT NOT NULL,
    target_kind TEXT NOT NULL,
    target_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    UNIQUE(doc_id, from_section_id, target_kind, target_id, reason)
);

-- Section communities, rebuilt wholesale each run
CREATE TABLE IF NOT EXISTS communities (
    id INTEGER PRIMARY KEY,
    doc_id TEXT NOT NULL,
    community_id TEXT NOT NULL,
    level INTEGER NOT NULL,
    summary TEXT,
    section_ids JSON NOT NULL,
    UNIQUE(doc_id, community_id)
);

-- Per-run status audit
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    doc_id TEXT NOT NULL,
    processed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    exhausted_chunks JSON,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);

-- Embeddings for CORE/IMPORTANT entities via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_sections_doc ON sections(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(doc_id, status);
CREATE INDEX IF NOT EXISTS idx_chunks_section ON chunks(section_id);
CREATE INDEX IF NOT EXISTS idx_entities_doc ON entities(doc_id);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_doc ON relationships(doc_id);
CREATE INDEX IF NOT EXISTS idx_refs_doc ON section_refs(doc_id);
CREATE INDEX IF NOT EXISTS idx_runs_doc ON runs(doc_id);
`, embeddingDim)
}
