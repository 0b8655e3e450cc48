// Package refs detects and resolves cross-references between sections.
// Detection is purely lexical over already-extracted chunk text, so the
// whole pass is deterministic and free: rerunning it on the same graph
// state produces the same REFERS_TO edges.
package refs

import (
	"regexp"
	"strings"
)

// Reference reasons, inferred from the language around the locator.
const (
	ReasonDefinedIn    = "DEFINED_IN"
	ReasonDetailedIn   = "DETAILED_IN"
	ReasonReferencedIn = "REFERENCED_IN"
)

// Locator kinds.
const (
	KindSection  = "section"
	KindAppendix = "appendix"
	KindTable    = "table"
	KindFigure   = "figure"
	KindPage     = "page"
)

// Locator is one detected cross-reference phrase within chunk text.
type Locator struct {
	Kind   string // section, appendix, table, figure, page
	Key    string // "4.2", "A", "3", "12"
	Reason string // DEFINED_IN, DETAILED_IN, REFERENCED_IN
}

// cueWindow is how far around a locator (in bytes) reference language is
// searched for. Locators without a nearby cue are mentions, not
// references: "Section 4.2 establishes..." names itself, while "see
// Section 4.2" points elsewhere.
const cueWindow = 60

var (
	sectionRe  = regexp.MustCompile(`(?i)\b(?:section|clause|article)\s+(\d+(?:\.\d+)*)`)
	appendixRe = regexp.MustCompile(`(?i)\b(?:appendix|annex)\s+([A-Z]\b|\d+)`)
	tableRe    = regexp.MustCompile(`(?i)\btable\s+(\d+)`)
	figureRe   = regexp.MustCompile(`(?i)\b(?:figure|fig\.)\s+(\d+)`)
	pageRe     = regexp.MustCompile(`(?i)\bpage\s+(\d+)`)

	cueRe      = regexp.MustCompile(`(?i)\b(?:see|refer|refers|referred|reference|described|discussed|shown|outlined|per)\b`)
	definedRe  = regexp.MustCompile(`(?i)\bdefin\w*\b`)
	detailedRe = regexp.MustCompile(`(?i)\b(?:detail\w*|explain\w*|elaborat\w*)\b`)
)

// Detect scans text for reference locators. A locator counts only when
// reference language appears within cueWindow bytes on either side.
// Duplicate (kind, key, reason) triples within one text collapse to one.
func Detect(text string) []Locator {
	type pattern struct {
		kind string
		re   *regexp.Regexp
	}
	patterns := []pattern{
		{KindSection, sectionRe},
		{KindAppendix, appendixRe},
		{KindTable, tableRe},
		{KindFigure, figureRe},
		{KindPage, pageRe},
	}

	var out []Locator
	seen := make(map[string]bool)
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			window := windowAround(text, start, end)

			reason := inferReason(window)
			if reason == "" {
				continue
			}

			key := strings.ToUpper(text[m[2]:m[3]])
			if p.kind == KindSection {
				key = text[m[2]:m[3]] // numeric, case untouched
			}
			dedup := p.kind + ":" + key + ":" + reason
			if seen[dedup] {
				continue
			}
			seen[dedup] = true
			out = append(out, Locator{Kind: p.kind, Key: key, Reason: reason})
		}
	}
	return out
}

// inferReason classifies the reference from the cue language in the
// window, or returns "" when no reference cue is present at all.
func inferReason(window string) string {
	switch {
	case definedRe.MatchString(window):
		return ReasonDefinedIn
	case detailedRe.MatchString(window):
		return ReasonDetailedIn
	case cueRe.MatchString(window):
		return ReasonReferencedIn
	default:
		return ""
	}
}

func windowAround(text string, start, end int) string {
	lo := start - cueWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + cueWindow
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}
