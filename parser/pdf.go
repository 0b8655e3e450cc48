package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts a structural element stream from native PDF text.
// It has no access to the PDF's logical structure tree, so headings are
// recovered lexically: numbered or all-caps short lines become heading
// elements, everything else becomes paragraph runs.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	res := &Result{TotalPages: totalPages, Method: "native"}

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		res.Elements = append(res.Elements, pageElements(text, i)...)
	}

	return res, nil
}

// pageElements splits one page of plain text into heading and paragraph
// elements. Consecutive non-heading lines are merged into one paragraph.
func pageElements(text string, page int) []Element {
	var elements []Element
	var para strings.Builder

	flush := func() {
		if para.Len() > 0 {
			elements = append(elements, Element{
				Kind: KindParagraph,
				Text: strings.TrimSpace(para.String()),
				Page: page,
			})
			para.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if depth := headingDepth(trimmed); depth > 0 {
			flush()
			elements = append(elements, Element{
				Kind:  KindHeading,
				Text:  trimmed,
				Depth: depth,
				Page:  page,
			})
			continue
		}
		if para.Len() > 0 {
			para.WriteString("\n")
		}
		para.WriteString(trimmed)
	}
	flush()

	return elements
}

// headingDepth reports whether a line of extracted PDF text looks like a
// heading, and at what depth. Returns 0 for non-headings.
func headingDepth(line string) int {
	if len(line) > 120 || len(line) < 3 {
		return 0
	}

	// Numbered: "1. Title", "2.3 Title". Depth follows the numbering.
	if line[0] >= '0' && line[0] <= '9' {
		head := line
		if idx := strings.IndexByte(line, ' '); idx > 0 {
			head = line[:idx]
		}
		if dots := strings.Count(strings.TrimSuffix(head, "."), "."); strings.ContainsRune(head, '.') {
			if dots == 0 {
				return 1
			}
			return dots + 1
		}
		return 0
	}

	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "article ", "chapter ", "part ", "appendix ", "annex "} {
		if strings.HasPrefix(lower, prefix) {
			return 1
		}
	}

	// All-caps short lines are usually headings in report PDFs.
	if line == strings.ToUpper(line) && strings.ContainsFunc(line, isUpperLetter) {
		return 1
	}
	return 0
}

func isUpperLetter(r rune) bool { return r >= 'A' && r <= 'Z' }
