package section

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/okkerlund/strata/parser"
)

// Config controls section detection.
type Config struct {
	// MinSections is the minimum number of sections the detector must
	// produce before the page-range fallback kicks in.
	MinSections int
	// MaxGroupPages caps how many pages a synthetic fallback section spans.
	MaxGroupPages int
}

// DefaultConfig returns the detection defaults: six-section floor,
// synthetic groups of at most four pages.
func DefaultConfig() Config {
	return Config{MinSections: 6, MaxGroupPages: 4}
}

// boundary is an internal heading candidate prior to page-range assignment.
type boundary struct {
	title string
	level int
	page  int
}

// Detect turns a structural element stream into validated sections.
// Detection strategies run in strict priority order, each tried only when
// the previous one produced nothing:
//
//  1. explicit headings with depth <= 2
//  2. numbered-heading lexical patterns ("1.", "2.3", "IV.")
//  3. typography heuristics (all-caps short lines, bold+large flags)
//
// If the result stays below cfg.MinSections the detected structure is
// discarded and the full page range is covered by synthetic sections
// instead, so no document collapses below the minimum count. An empty
// element stream yields exactly one synthetic section spanning the whole
// document.
func Detect(docID string, elements []parser.Element, totalPages int, cfg Config) ([]Section, error) {
	if cfg.MinSections <= 0 {
		cfg.MinSections = 6
	}
	if cfg.MaxGroupPages <= 0 {
		cfg.MaxGroupPages = 4
	}
	if totalPages <= 0 {
		totalPages = maxPage(elements)
	}
	if totalPages <= 0 {
		totalPages = 1
	}

	// Terminal fallback: nothing to detect from.
	if len(elements) == 0 {
		return []Section{{
			ID:        ID(docID, 1),
			DocID:     docID,
			Title:     fmt.Sprintf("Pages 1-%d", totalPages),
			Level:     1,
			PageStart: 1,
			PageEnd:   totalPages,
			Synthetic: true,
		}}, nil
	}

	boundaries := explicitHeadings(elements)
	if len(boundaries) == 0 {
		boundaries = numberedHeadings(elements)
	}
	if len(boundaries) == 0 {
		boundaries = typographyHeadings(elements)
	}

	sections := assemble(docID, boundaries, totalPages)

	// Fallback guarantee: below the floor, structure is too sparse to
	// trust. Replace it wholesale with deterministic page groups.
	if len(sections) < minCount(cfg.MinSections, totalPages) {
		sections = synthesize(docID, totalPages, cfg)
	}

	if err := Validate(sections, totalPages); err != nil {
		return nil, fmt.Errorf("section detection produced invalid coverage: %w", err)
	}
	return sections, nil
}

// minCount is the effective section floor: a document cannot have more
// disjoint page-covering sections than it has pages.
func minCount(minSections, totalPages int) int {
	if totalPages < minSections {
		return totalPages
	}
	return minSections
}

// explicitHeadings collects heading elements of depth 1 and 2.
func explicitHeadings(elements []parser.Element) []boundary {
	var bs []boundary
	for _, el := range elements {
		if el.Kind != parser.KindHeading || el.Depth < 1 || el.Depth > 2 {
			continue
		}
		title := strings.TrimSpace(el.Text)
		if title == "" {
			title = "Untitled"
		}
		bs = append(bs, boundary{title: title, level: el.Depth, page: el.Page})
	}
	return bs
}

// Numbered headings: "1. Title", "2.3 Title", "IV. Title".
var (
	decimalHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+\S`)
	romanHeadingRe   = regexp.MustCompile(`^([IVXLCDM]{1,7})\.\s+\S`)
)

// numberedHeadings scans paragraph first lines for hierarchical numbering
// and treats matches as depth-1/2 heading candidates. Deeper numbering
// ("1.2.3") is ignored: it marks sub-structure below the section grain.
func numberedHeadings(elements []parser.Element) []boundary {
	var bs []boundary
	for _, el := range elements {
		if el.Kind != parser.KindParagraph {
			continue
		}
		line := firstLine(el.Text)
		if m := decimalHeadingRe.FindStringSubmatch(line); m != nil {
			depth := strings.Count(m[1], ".") + 1
			if depth > 2 {
				continue
			}
			bs = append(bs, boundary{title: line, level: depth, page: el.Page})
			continue
		}
		if romanHeadingRe.MatchString(line) {
			bs = append(bs, boundary{title: line, level: 1, page: el.Page})
		}
	}
	return bs
}

// typographyHeadings is the last lexical resort: short all-caps lines, or
// lines the upstream layout engine flagged bold with a large font.
func typographyHeadings(elements []parser.Element) []boundary {
	const maxHeadingLen = 80
	const largeFont = 14.0

	var bs []boundary
	for _, el := range elements {
		if el.Kind != parser.KindParagraph {
			continue
		}
		line := firstLine(el.Text)
		if line == "" || len(line) > maxHeadingLen {
			continue
		}
		allCaps := line == strings.ToUpper(line) && strings.ContainsFunc(line, isLetter)
		boldLarge := el.Bold && el.FontSize >= largeFont
		if allCaps || boldLarge {
			bs = append(bs, boundary{title: line, level: 1, page: el.Page})
		}
	}
	return bs
}

// assemble turns heading boundaries into disjoint page-covering sections.
// Only the first heading on a page opens a section (later same-page
// headings fold into it), each section runs to the page before the next
// one, and the first section is stretched back to page 1 so front matter
// is owned rather than orphaned.
func assemble(docID string, bs []boundary, totalPages int) []Section {
	var kept []boundary
	lastPage := -1
	for _, b := range bs {
		if b.page == lastPage {
			continue
		}
		kept = append(kept, b)
		lastPage = b.page
	}
	if len(kept) == 0 {
		return nil
	}

	sections := make([]Section, len(kept))
	for i, b := range kept {
		end := totalPages
		if i < len(kept)-1 {
			end = kept[i+1].page - 1
		}
		start := b.page
		if i == 0 {
			start = 1
		}
		sections[i] = Section{
			ID:        ID(docID, i+1),
			DocID:     docID,
			Title:     b.title,
			Level:     b.level,
			PageStart: start,
			PageEnd:   end,
		}
	}
	return sections
}

// synthesize covers [1, totalPages] with synthetic sections of 2-4 pages
// each. Short documents fall back to one page per section so the section
// floor is still reached whenever the page count allows it.
func synthesize(docID string, totalPages int, cfg Config) []Section {
	pagesPer := totalPages / cfg.MinSections
	if pagesPer > cfg.MaxGroupPages {
		pagesPer = cfg.MaxGroupPages
	}
	if pagesPer < 2 {
		if totalPages >= cfg.MinSections*2 {
			pagesPer = 2
		} else {
			pagesPer = 1
		}
	}

	var sections []Section
	for start := 1; start <= totalPages; start += pagesPer {
		end := start + pagesPer - 1
		if end > totalPages {
			end = totalPages
		}
		sections = append(sections, Section{
			ID:        ID(docID, len(sections)+1),
			DocID:     docID,
			Title:     fmt.Sprintf("Pages %d-%d", start, end),
			Level:     1,
			PageStart: start,
			PageEnd:   end,
			Synthetic: true,
		})
	}
	return sections
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func maxPage(elements []parser.Element) int {
	max := 0
	for _, el := range elements {
		if el.Page > max {
			max = el.Page
		}
	}
	return max
}
