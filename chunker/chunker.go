// Package chunker splits section text into store-ready chunks. Splitting
// is fully deterministic: the same section text always yields the same
// chunk ids, boundaries, and bodies, so chunk ids are stable checkpoint
// keys across restarts.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/okkerlund/strata/section"
	"github.com/okkerlund/strata/store"
)

// Config controls the chunking behaviour. All sizes are in words.
type Config struct {
	ChunkSize int // Target words per chunk.
	Overlap   int // Words shared between consecutive chunks.
	MaxSize   int // A section at or below this stays a single chunk.
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 600
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 100
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 800
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	return &Chunker{cfg: cfg}
}

// Chunker converts section text into store chunks.
type Chunker struct {
	cfg Config
}

var (
	crlfRe      = regexp.MustCompile(`\r\n?`)
	hspaceRe    = regexp.MustCompile(`[ \t\f\v]+`)
	multiNLRe   = regexp.MustCompile(`\n{3,}`)
	spaceEdgeRe = regexp.MustCompile(`(?m)^[ ]+|[ ]+$`)
)

// Normalize canonicalises section text before chunking: CRLF to LF, runs
// of horizontal whitespace to a single space, three or more newlines to a
// paragraph break, trimmed line edges. Chunk boundaries are computed on
// the normalized form, so normalization must happen exactly once.
func Normalize(text string) string {
	text = crlfRe.ReplaceAllString(text, "\n")
	text = hspaceRe.ReplaceAllString(text, " ")
	text = spaceEdgeRe.ReplaceAllString(text, "")
	text = multiNLRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split converts one section's text into chunks. Every section yields at
// least one chunk: empty sections get a marker chunk so chunk ordinals
// stay dense and section coverage stays auditable. The marker is created
// already PROCESSED because it carries nothing to extract.
//
// For non-empty text, chunk bodies are substrings of the normalized text
// cut at word boundaries. Consecutive chunks overlap by cfg.Overlap
// words; stripping each chunk's leading overlap and concatenating
// reconstructs the normalized section text exactly.
func (c *Chunker) Split(sec section.Section, text, subject string) []store.Chunk {
	normalized := Normalize(text)

	base := store.Chunk{
		DocID:     sec.DocID,
		SectionID: sec.ID,
		PageStart: sec.PageStart,
		PageEnd:   sec.PageEnd,
		Subject:   subject,
	}

	if normalized == "" {
		marker := base
		marker.ChunkID = chunkID(sec.ID, 0)
		marker.Ordinal = 0
		marker.Text = fmt.Sprintf("[empty section: %s]", sec.Title)
		marker.TokenCount = 0
		marker.Status = store.StatusProcessed
		return []store.Chunk{marker}
	}

	spans := tokenize(normalized)
	if len(spans) <= c.cfg.MaxSize {
		single := base
		single.ChunkID = chunkID(sec.ID, 0)
		single.Ordinal = 0
		single.Text = normalized
		single.TokenCount = len(spans)
		return []store.Chunk{single}
	}

	step := c.cfg.ChunkSize - c.cfg.Overlap
	var chunks []store.Chunk
	for start, ordinal := 0, 0; start < len(spans); start, ordinal = start+step, ordinal+1 {
		end := start + c.cfg.ChunkSize
		if end > len(spans) {
			end = len(spans)
		}

		chunk := base
		chunk.ChunkID = chunkID(sec.ID, ordinal)
		chunk.Ordinal = ordinal
		chunk.Text = normalized[spans[start].start:spans[end-1].end]
		chunk.TokenCount = end - start
		chunks = append(chunks, chunk)

		if end == len(spans) {
			break
		}
	}
	return chunks
}

// SplitAll chunks every section of a document, assigning document-wide
// ordinals in section order.
func (c *Chunker) SplitAll(sections []section.Section, texts map[string]string, subject string) []store.Chunk {
	var all []store.Chunk
	ordinal := 0
	for _, sec := range sections {
		for _, chunk := range c.Split(sec, texts[sec.ID], subject) {
			chunk.Ordinal = ordinal
			all = append(all, chunk)
			ordinal++
		}
	}
	return all
}

// chunkID derives the stable chunk identity from section identity and the
// chunk's position within the section.
func chunkID(sectionID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", sectionID, ordinal)
}
