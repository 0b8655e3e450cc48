//go:build cgo

package strata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/okkerlund/strata/extract"
	"github.com/okkerlund/strata/store"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

// fakeExtractor returns a fixed, contract-valid extraction for every chunk.
// The shared CORE entity gives every pair of sections a graph edge.
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeExtractor) Extract(ctx context.Context, chunkText, subject string) (*extract.Result, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("extractor offline")
	}
	return &extract.Result{
		Entities: []extract.Entity{
			{Name: "Acme Corp", Type: "ORGANIZATION", Description: "the reporting company", Salience: "CORE"},
			{Name: "Risk Committee", Type: "GOVERNANCE", Description: "board oversight body", Salience: "IMPORTANT"},
		},
		Relationships: []extract.Relationship{
			{Source: "Acme Corp", Target: "Risk Committee", Type: "ASSOCIATED_WITH", Description: "committee of the board"},
		},
	}, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExtractor) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "strata.db")
	cfg.EmbeddingDim = 4
	cfg.ChunkSize = 50
	cfg.ChunkOverlap = 10
	cfg.MaxChunkSize = 60
	cfg.Workers = 2
	cfg.RateLimit = 0
	return cfg
}

func testEngine(t *testing.T, cfg Config, fx extract.Extractor) Engine {
	t.Helper()
	eng, err := NewWithExtractor(cfg, fx)
	if err != nil {
		t.Fatalf("NewWithExtractor: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

var sectionTitles = []string{
	"1. Introduction",
	"2. Governance",
	"3. Risk Management",
	"4. Financial Review",
	"5. Operations",
	"6. Outlook",
	"7. Remuneration",
	"8. Auditor Statement",
}

// testDocument builds a markdown document with form-feed page breaks: one
// heading and one paragraph per page. The first page carries a section
// reference so the resolver has something to find.
func testDocument(pages int, marker string) string {
	var sb strings.Builder
	for i := 0; i < pages; i++ {
		if i > 0 {
			sb.WriteString("\f")
		}
		fmt.Fprintf(&sb, "# %s\n\n", sectionTitles[i%len(sectionTitles)])
		if i == 0 {
			sb.WriteString("Acme Corp publishes this report annually. See Section 2 for the governance framework. ")
		}
		fmt.Fprintf(&sb, "Paragraph %s covering page %d of the report in plain prose.\n", marker, i+1)
	}
	return sb.String()
}

func writeTestDoc(t *testing.T, marker string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "annual-report.md")
	if err := os.WriteFile(path, []byte(testDocument(8, marker)), 0o644); err != nil {
		t.Fatalf("writing test doc: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// DocID
// ---------------------------------------------------------------------------

func TestDocID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/tmp/Annual Report (2024).pdf", "annual_report_2024"},
		{"Q3-results.xlsx", "q3_results"},
		{"weird__name.txt", "weird_name"},
		{"simple.md", "simple"},
	}
	for _, tt := range tests {
		if got := DocID(tt.path); got != tt.want {
			t.Errorf("DocID(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// full pipeline
// ---------------------------------------------------------------------------

func TestIndexFullPipeline(t *testing.T) {
	fx := &fakeExtractor{}
	eng := testEngine(t, testConfig(t), fx)
	path := writeTestDoc(t, "alpha")

	report, err := eng.Index(context.Background(), path)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if report.Unchanged {
		t.Fatal("first index reported unchanged")
	}
	if report.Sections != 8 {
		t.Errorf("Sections = %d, want 8", report.Sections)
	}
	if report.Chunks != 8 {
		t.Errorf("Chunks = %d, want 8", report.Chunks)
	}
	if report.Processed != 8 {
		t.Errorf("Processed = %d, want 8", report.Processed)
	}
	if len(report.Exhausted) != 0 {
		t.Errorf("Exhausted = %v, want none", report.Exhausted)
	}
	if report.References != 1 {
		t.Errorf("References = %d, want 1", report.References)
	}
	if report.Communities != 1 {
		t.Errorf("Communities = %d, want 1", report.Communities)
	}

	status, err := eng.Status(context.Background(), report.DocID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Document.Status != "indexed" {
		t.Errorf("document status = %q, want indexed", status.Document.Status)
	}
	if got := status.ChunkCounts[store.StatusProcessed]; got != 8 {
		t.Errorf("processed chunk count = %d, want 8", got)
	}
	if status.Stats.Entities != 2 {
		t.Errorf("entities = %d, want 2", status.Stats.Entities)
	}
	if status.LastRun == nil {
		t.Fatal("expected a recorded run")
	}
	if status.LastRun.Processed != 8 {
		t.Errorf("run processed = %d, want 8", status.LastRun.Processed)
	}
}

func TestIndexUnchangedContentIsNoOp(t *testing.T) {
	fx := &fakeExtractor{}
	eng := testEngine(t, testConfig(t), fx)
	path := writeTestDoc(t, "alpha")

	if _, err := eng.Index(context.Background(), path); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	before := fx.callCount()

	report, err := eng.Index(context.Background(), path)
	if err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if !report.Unchanged {
		t.Error("expected unchanged report for identical content")
	}
	if fx.callCount() != before {
		t.Errorf("extractor called %d more times on no-op reindex", fx.callCount()-before)
	}
}

func TestIndexChangedContentRebuilds(t *testing.T) {
	fx := &fakeExtractor{}
	eng := testEngine(t, testConfig(t), fx)
	path := writeTestDoc(t, "alpha")

	if _, err := eng.Index(context.Background(), path); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if err := os.WriteFile(path, []byte(testDocument(8, "beta")), 0o644); err != nil {
		t.Fatalf("rewriting doc: %v", err)
	}

	report, err := eng.Index(context.Background(), path)
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if report.Unchanged {
		t.Error("changed content reported as unchanged")
	}
	if report.Processed != 8 {
		t.Errorf("Processed = %d, want 8 (full rebuild)", report.Processed)
	}

	docs, err := eng.Documents(context.Background())
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("documents = %d, want 1 (same doc id)", len(docs))
	}
}

func TestIndexForceReindex(t *testing.T) {
	fx := &fakeExtractor{}
	eng := testEngine(t, testConfig(t), fx)
	path := writeTestDoc(t, "alpha")

	if _, err := eng.Index(context.Background(), path); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	before := fx.callCount()

	report, err := eng.Index(context.Background(), path, WithForceReindex())
	if err != nil {
		t.Fatalf("forced reindex: %v", err)
	}
	if report.Unchanged {
		t.Error("forced reindex reported as unchanged")
	}
	if fx.callCount() != before+8 {
		t.Errorf("extractor calls after force = %d, want %d", fx.callCount(), before+8)
	}
}

// ---------------------------------------------------------------------------
// failure and resume
// ---------------------------------------------------------------------------

func TestIndexPartialWhenExtractionExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 1
	fx := &fakeExtractor{fail: true}
	eng := testEngine(t, cfg, fx)
	path := writeTestDoc(t, "alpha")

	report, err := eng.Index(context.Background(), path)
	if err != nil {
		t.Fatalf("Index with failing extractor: %v", err)
	}
	if len(report.Exhausted) != 8 {
		t.Errorf("Exhausted = %d chunks, want 8", len(report.Exhausted))
	}

	status, err := eng.Status(context.Background(), report.DocID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Document.Status != "indexed_partial" {
		t.Errorf("document status = %q, want indexed_partial", status.Document.Status)
	}
}

func TestIndexStrictCompletionFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 1
	cfg.StrictCompletion = true
	fx := &fakeExtractor{fail: true}
	eng := testEngine(t, cfg, fx)
	path := writeTestDoc(t, "alpha")

	report, err := eng.Index(context.Background(), path)
	if !errors.Is(err, ErrExtractionIncomplete) {
		t.Fatalf("err = %v, want ErrExtractionIncomplete", err)
	}
	if report == nil || len(report.Exhausted) != 8 {
		t.Error("strict failure should still return the run report")
	}
}

func TestResumeRecoversExhaustedChunks(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 1
	fx := &fakeExtractor{fail: true}
	eng := testEngine(t, cfg, fx)
	path := writeTestDoc(t, "alpha")

	report, err := eng.Index(context.Background(), path)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(report.Exhausted) != 8 {
		t.Fatalf("setup: want 8 exhausted chunks, got %d", len(report.Exhausted))
	}

	fx.setFail(false)
	resumed, err := eng.Resume(context.Background(), report.DocID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !resumed.Resumed {
		t.Error("resume report not marked as resumed")
	}
	if resumed.Processed != 8 {
		t.Errorf("resumed Processed = %d, want 8", resumed.Processed)
	}
	if len(resumed.Exhausted) != 0 {
		t.Errorf("resumed Exhausted = %v, want none", resumed.Exhausted)
	}

	status, err := eng.Status(context.Background(), report.DocID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Document.Status != "indexed" {
		t.Errorf("document status = %q, want indexed after resume", status.Document.Status)
	}
}

// ---------------------------------------------------------------------------
// errors
// ---------------------------------------------------------------------------

func TestIndexUnsupportedFormat(t *testing.T) {
	eng := testEngine(t, testConfig(t), &fakeExtractor{})
	path := filepath.Join(t.TempDir(), "report.zzz")
	if err := os.WriteFile(path, []byte("binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := eng.Index(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestResumeUnknownDocument(t *testing.T) {
	eng := testEngine(t, testConfig(t), &fakeExtractor{})
	if _, err := eng.Resume(context.Background(), "no_such_doc"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	fx := &fakeExtractor{}
	eng := testEngine(t, testConfig(t), fx)
	path := writeTestDoc(t, "alpha")

	report, err := eng.Index(context.Background(), path)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := eng.Delete(context.Background(), report.DocID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := eng.Status(context.Background(), report.DocID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Status after delete = %v, want ErrDocumentNotFound", err)
	}
	if err := eng.Delete(context.Background(), report.DocID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second Delete = %v, want ErrDocumentNotFound", err)
	}
}

func TestStatusUnknownDocument(t *testing.T) {
	eng := testEngine(t, testConfig(t), &fakeExtractor{})
	if _, err := eng.Status(context.Background(), "no_such_doc"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}
