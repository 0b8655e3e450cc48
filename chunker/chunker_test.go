package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/okkerlund/strata/section"
	"github.com/okkerlund/strata/store"
)

func testSection() section.Section {
	return section.Section{
		ID:        "doc1:sec_002",
		DocID:     "doc1",
		Title:     "Governance",
		Level:     1,
		PageStart: 4,
		PageEnd:   9,
	}
}

// words builds deterministic test text of n distinct words.
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%04d", i)
	}
	return strings.Join(parts, " ")
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"a\r\nb\rc", "a\nb\nc"},
		{"a  \t b", "a b"},
		{"a\n\n\n\n\nb", "a\n\nb"},
		{"  padded  \n  line  ", "padded\nline"},
		{"", ""},
		{"   \n\t  ", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Tokenizer
// ---------------------------------------------------------------------------

func TestTokenizeSpans(t *testing.T) {
	text := "alpha beta\ngamma"
	spans := tokenize(text)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	wantWords := []string{"alpha", "beta", "gamma"}
	for i, sp := range spans {
		if text[sp.start:sp.end] != wantWords[i] {
			t.Errorf("span %d = %q, want %q", i, text[sp.start:sp.end], wantWords[i])
		}
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if spans := tokenize(""); spans != nil {
		t.Fatalf("expected nil spans for empty text, got %v", spans)
	}
}

// ---------------------------------------------------------------------------
// Splitting
// ---------------------------------------------------------------------------

func TestSplitSmallSectionSingleChunk(t *testing.T) {
	c := New(Config{ChunkSize: 600, Overlap: 100, MaxSize: 800})
	chunks := c.Split(testSection(), words(700), "")

	if len(chunks) != 1 {
		t.Fatalf("section under MaxSize split into %d chunks", len(chunks))
	}
	got := chunks[0]
	if got.ChunkID != "doc1:sec_002:0" {
		t.Errorf("unexpected chunk id %q", got.ChunkID)
	}
	if got.TokenCount != 700 {
		t.Errorf("token count = %d, want 700", got.TokenCount)
	}
	if got.PageStart != 4 || got.PageEnd != 9 {
		t.Errorf("page range not inherited: %d-%d", got.PageStart, got.PageEnd)
	}
	if got.Status != "" && got.Status != store.StatusPending {
		t.Errorf("unexpected status %q", got.Status)
	}
}

func TestSplitEmptySectionMarker(t *testing.T) {
	c := New(Config{})
	chunks := c.Split(testSection(), "  \n\t ", "")

	if len(chunks) != 1 {
		t.Fatalf("expected single marker chunk, got %d", len(chunks))
	}
	marker := chunks[0]
	if !strings.Contains(marker.Text, "Governance") {
		t.Errorf("marker text missing section title: %q", marker.Text)
	}
	if marker.Status != store.StatusProcessed {
		t.Errorf("marker chunk should start PROCESSED, got %q", marker.Status)
	}
	if marker.TokenCount != 0 {
		t.Errorf("marker token count = %d", marker.TokenCount)
	}
}

func TestSplitOverlapAndBoundaries(t *testing.T) {
	c := New(Config{ChunkSize: 100, Overlap: 20, MaxSize: 100})
	text := words(250)
	chunks := c.Split(testSection(), text, "")

	// step=80: windows [0,100) [80,180) [160,250)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		wantID := fmt.Sprintf("doc1:sec_002:%d", i)
		if chunk.ChunkID != wantID {
			t.Errorf("chunk %d id = %q, want %q", i, chunk.ChunkID, wantID)
		}
	}
	if chunks[0].TokenCount != 100 || chunks[1].TokenCount != 100 || chunks[2].TokenCount != 90 {
		t.Errorf("unexpected token counts: %d %d %d",
			chunks[0].TokenCount, chunks[1].TokenCount, chunks[2].TokenCount)
	}

	// The last 20 words of a chunk must equal the first 20 of the next.
	for i := 0; i < len(chunks)-1; i++ {
		tail := strings.Fields(chunks[i].Text)
		head := strings.Fields(chunks[i+1].Text)
		if !reflect.DeepEqual(tail[len(tail)-20:], head[:20]) {
			t.Errorf("overlap mismatch between chunks %d and %d", i, i+1)
		}
	}
}

func TestSplitReconstructsSectionText(t *testing.T) {
	c := New(Config{ChunkSize: 100, Overlap: 20, MaxSize: 100})
	text := Normalize(words(473))
	chunks := c.Split(testSection(), text, "")

	// Dropping each chunk's leading overlap words and joining the rest
	// must reproduce the normalized section text word for word.
	var rebuilt []string
	for i, chunk := range chunks {
		fields := strings.Fields(chunk.Text)
		if i > 0 {
			fields = fields[20:]
		}
		rebuilt = append(rebuilt, fields...)
	}
	if joined := strings.Join(rebuilt, " "); joined != text {
		t.Fatalf("reconstruction diverged at length %d vs %d", len(joined), len(text))
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := New(Config{ChunkSize: 100, Overlap: 20, MaxSize: 100})
	text := words(350)

	first := c.Split(testSection(), text, "subj")
	second := c.Split(testSection(), text, "subj")
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical input produced different chunks")
	}
}

func TestSplitAllAssignsDocumentOrdinals(t *testing.T) {
	c := New(Config{ChunkSize: 100, Overlap: 20, MaxSize: 100})
	sections := []section.Section{
		{ID: "doc1:sec_000", DocID: "doc1", Title: "A", PageStart: 1, PageEnd: 2},
		{ID: "doc1:sec_001", DocID: "doc1", Title: "B", PageStart: 3, PageEnd: 4},
	}
	texts := map[string]string{
		"doc1:sec_000": words(250), // 3 chunks
		"doc1:sec_001": words(50),  // 1 chunk
	}

	chunks := c.SplitAll(sections, texts, "Charter")
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, chunk.Ordinal)
		}
		if chunk.Subject != "Charter" {
			t.Errorf("chunk %d missing subject metadata", i)
		}
	}
	// Chunk ids stay per-section even though ordinals are document-wide.
	if chunks[3].ChunkID != "doc1:sec_001:0" {
		t.Errorf("unexpected id for second section's chunk: %q", chunks[3].ChunkID)
	}
}
