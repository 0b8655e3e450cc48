// Package parser turns raw document files into an ordered stream of
// structural elements (headings with depth, paragraphs, tables, figures),
// each anchored to a page number. Parsers extract layout only; they never
// make semantic decisions about the document content.
package parser

import (
	"context"
	"fmt"
)

// Kind classifies a structural element.
type Kind string

const (
	KindHeading   Kind = "heading"
	KindParagraph Kind = "paragraph"
	KindTable     Kind = "table"
	KindFigure    Kind = "figure"
)

// Element is one entry in the structural stream of a document.
type Element struct {
	Kind Kind
	Text string
	// Depth is the heading depth (1 = top level). Zero for non-headings.
	Depth int
	Page  int
	// Typography hints from the layout engine, used by the section
	// detector's last-resort heuristics.
	Bold     bool
	FontSize float64
}

// Table is a lightweight table record (caption and page, no cell parsing).
type Table struct {
	Label   string
	Caption string
	Page    int
}

// Figure is a lightweight figure record.
type Figure struct {
	Label   string
	Caption string
	Page    int
}

// Result is what a parser produces from a document file.
type Result struct {
	Elements   []Element
	Tables     []Table
	Figures    []Figure
	TotalPages int
	// Subject is the document's primary subject (e.g. the organisation an
	// annual report is about), when the format carries one. May be empty.
	Subject string
	Method  string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Result, error)
	SupportedFormats() []string
}

// Registry maps file formats to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with all built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &TextParser{}, &JSONParser{}, &XLSXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for a format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// Register adds or replaces the parser for a format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}
