// Package section derives the deterministic structural skeleton of a
// document: an ordered set of non-overlapping sections that together cover
// every page. Detection never consults a language model; identical input
// always produces identical sections.
package section

import (
	"fmt"
	"sort"
	"strings"

	"github.com/okkerlund/strata/parser"
)

// Section is a contiguous, non-overlapping page span of one document.
// Sections are created once per indexing run and never mutated afterwards.
type Section struct {
	ID        string
	DocID     string
	Title     string
	Level     int // 1 or 2
	PageStart int
	PageEnd   int
	// Synthetic marks sections created by the page-range fallback rather
	// than a detected heading.
	Synthetic bool
}

// ID derives the stable section identifier from the document id and the
// section's ordinal. Reruns over the same input reproduce identical ids.
func ID(docID string, ordinal int) string {
	return fmt.Sprintf("%s:sec_%03d", docID, ordinal)
}

// Text assembles per-section text by collecting every element whose page
// falls inside the section's range, in stream order. Chunking operates on
// this text, so a chunk can never contain content from outside its section.
func Text(sec Section, elements []parser.Element) string {
	var parts []string
	for _, el := range elements {
		if el.Page < sec.PageStart || el.Page > sec.PageEnd {
			continue
		}
		if t := strings.TrimSpace(el.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// AssignTables returns, for each table, the id of the section containing its
// page. Tables on pages outside every section (impossible after validation)
// are skipped.
func AssignTables(tables []parser.Table, sections []Section) map[int]string {
	owner := make(map[int]string, len(tables))
	for i, t := range tables {
		for _, s := range sections {
			if s.PageStart <= t.Page && t.Page <= s.PageEnd {
				owner[i] = s.ID
				break
			}
		}
	}
	return owner
}

// Validate checks the structural invariants: sections sorted by page_start,
// non-overlapping, and contiguously covering [1, totalPages].
func Validate(sections []Section, totalPages int) error {
	if len(sections) == 0 {
		return fmt.Errorf("no sections")
	}
	if !sort.SliceIsSorted(sections, func(i, j int) bool {
		return sections[i].PageStart < sections[j].PageStart
	}) {
		return fmt.Errorf("sections not sorted by page_start")
	}
	if sections[0].PageStart != 1 {
		return fmt.Errorf("coverage does not start at page 1 (starts at %d)", sections[0].PageStart)
	}
	for i, s := range sections {
		if s.PageEnd < s.PageStart {
			return fmt.Errorf("section %s has inverted page range [%d, %d]", s.ID, s.PageStart, s.PageEnd)
		}
		if i > 0 && s.PageStart != sections[i-1].PageEnd+1 {
			return fmt.Errorf("gap or overlap between %s (ends %d) and %s (starts %d)",
				sections[i-1].ID, sections[i-1].PageEnd, s.ID, s.PageStart)
		}
	}
	if last := sections[len(sections)-1]; last.PageEnd != totalPages {
		return fmt.Errorf("coverage ends at page %d, want %d", last.PageEnd, totalPages)
	}
	return nil
}
