package section

import (
	"reflect"
	"strings"
	"testing"

	"github.com/okkerlund/strata/parser"
)

func heading(text string, depth, page int) parser.Element {
	return parser.Element{Kind: parser.KindHeading, Text: text, Depth: depth, Page: page}
}

func para(text string, page int) parser.Element {
	return parser.Element{Kind: parser.KindParagraph, Text: text, Page: page}
}

// ---------------------------------------------------------------------------
// Strategy priority
// ---------------------------------------------------------------------------

func TestDetectExplicitHeadings(t *testing.T) {
	elements := []parser.Element{
		heading("Introduction", 1, 2),
		para("body text", 2),
		heading("Scope", 1, 5),
		heading("Definitions", 2, 8),
		heading("Obligations", 1, 11),
		heading("Reporting", 1, 14),
		heading("Audit", 1, 17),
		heading("Termination", 1, 20),
	}

	sections, err := Detect("doc1", elements, 24, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(sections) != 7 {
		t.Fatalf("expected 7 sections, got %d", len(sections))
	}
	// Front matter folds into the first section.
	if sections[0].PageStart != 1 {
		t.Errorf("first section starts at %d, want 1", sections[0].PageStart)
	}
	if sections[0].Title != "Introduction" {
		t.Errorf("first title = %q", sections[0].Title)
	}
	// Each section ends the page before the next heading.
	if sections[0].PageEnd != 4 || sections[1].PageEnd != 7 {
		t.Errorf("unexpected ends: %d, %d", sections[0].PageEnd, sections[1].PageEnd)
	}
	// Last section runs to the final page.
	if sections[6].PageEnd != 24 {
		t.Errorf("last section ends at %d, want 24", sections[6].PageEnd)
	}
	for _, s := range sections {
		if s.Synthetic {
			t.Errorf("section %s marked synthetic with real headings present", s.ID)
		}
	}
}

func TestDetectNumberedHeadingsWhenNoExplicit(t *testing.T) {
	elements := []parser.Element{
		para("1. Purpose\nThis document sets out...", 1),
		para("2. Governance Framework\nThe board shall...", 4),
		para("2.1 Committees\nEach committee...", 6),
		para("2.1.1 Sub-sub detail ignored", 7),
		para("3. Risk\nRisk management...", 9),
		para("IV. Appendix\nSupplementary...", 12),
		para("5. Review\nAnnual review...", 15),
		para("6. Final\nClosing...", 18),
	}

	sections, err := Detect("doc1", elements, 20, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	// 2.1.1 is below the section grain and must not open a section.
	if len(sections) != 7 {
		t.Fatalf("expected 7 sections, got %d", len(sections))
	}
	if sections[2].Level != 2 {
		t.Errorf("decimal heading '2.1' should be level 2, got %d", sections[2].Level)
	}
	if !strings.HasPrefix(sections[4].Title, "IV.") {
		t.Errorf("roman numeral heading missing: %q", sections[4].Title)
	}
}

func TestDetectTypographyFallback(t *testing.T) {
	elements := []parser.Element{
		para("EXECUTIVE SUMMARY", 1),
		para("regular prose that is definitely not a heading", 2),
		para("RISK FACTORS", 3),
		para("Bold heading", 5), // no flags: ignored
		{Kind: parser.KindParagraph, Text: "Financial Review", Page: 7, Bold: true, FontSize: 16},
		para("GOVERNANCE", 9),
		para("OUTLOOK", 11),
		para("APPENDIX", 13),
	}

	sections, err := Detect("doc1", elements, 14, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(sections) != 6 {
		t.Fatalf("expected 6 sections, got %d", len(sections))
	}
	if sections[2].Title != "Financial Review" {
		t.Errorf("bold+large heading not detected: %q", sections[2].Title)
	}
}

// ---------------------------------------------------------------------------
// Fallback guarantees
// ---------------------------------------------------------------------------

func TestDetectSyntheticFallbackBelowFloor(t *testing.T) {
	// Two headings in a 20-page document: below the six-section floor,
	// so detected structure is discarded for page groups.
	elements := []parser.Element{
		heading("Part One", 1, 1),
		heading("Part Two", 1, 11),
		para("filler", 15),
	}

	sections, err := Detect("doc1", elements, 20, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(sections) < 6 {
		t.Fatalf("fallback produced %d sections, below floor", len(sections))
	}
	for _, s := range sections {
		if !s.Synthetic {
			t.Errorf("section %s not marked synthetic", s.ID)
		}
		if span := s.PageEnd - s.PageStart + 1; span > 4 {
			t.Errorf("synthetic section %s spans %d pages", s.ID, span)
		}
	}
}

func TestDetectUnstructuredLargeDocument(t *testing.T) {
	// 70 pages of plain paragraphs, nothing heading-like anywhere.
	var elements []parser.Element
	for p := 1; p <= 70; p++ {
		elements = append(elements, para("plain body text that reads like prose", p))
	}

	sections, err := Detect("doc1", elements, 70, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	// Groups of 2 to 4 pages over 70 pages.
	if len(sections) < 18 || len(sections) > 35 {
		t.Fatalf("got %d synthetic sections, want between 18 and 35", len(sections))
	}
	for _, s := range sections {
		if !s.Synthetic {
			t.Errorf("section %s not synthetic", s.ID)
		}
	}
}

func TestDetectEmptyElementStream(t *testing.T) {
	sections, err := Detect("doc1", nil, 9, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("expected single full-span section, got %d", len(sections))
	}
	s := sections[0]
	if !s.Synthetic || s.PageStart != 1 || s.PageEnd != 9 {
		t.Fatalf("unexpected fallback section: %+v", s)
	}
}

func TestDetectShortDocumentFloor(t *testing.T) {
	// A 3-page document can never have 6 disjoint sections; the floor
	// drops to the page count.
	sections, err := Detect("doc1", []parser.Element{para("text", 1)}, 3, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected one section per page, got %d", len(sections))
	}
}

func TestDetectDeterministic(t *testing.T) {
	elements := []parser.Element{
		heading("A", 1, 1), heading("B", 1, 3), heading("C", 1, 5),
		heading("D", 1, 7), heading("E", 1, 9), heading("F", 1, 11),
	}
	first, err := Detect("doc1", elements, 12, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	second, _ := Detect("doc1", elements, 12, DefaultConfig())
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical input produced different sections")
	}
}

func TestDetectSamePageHeadingsMerge(t *testing.T) {
	elements := []parser.Element{
		heading("Alpha", 1, 1), heading("Alpha Subtitle", 2, 1),
		heading("Beta", 1, 3), heading("Gamma", 1, 5),
		heading("Delta", 1, 7), heading("Epsilon", 1, 9),
		heading("Zeta", 1, 11),
	}
	sections, err := Detect("doc1", elements, 12, DefaultConfig())
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(sections) != 6 {
		t.Fatalf("same-page heading opened its own section: %d sections", len(sections))
	}
	if sections[0].Title != "Alpha" {
		t.Errorf("first heading on page should win, got %q", sections[0].Title)
	}
}
