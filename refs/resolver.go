package refs

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/okkerlund/strata/store"
)

// Resolver maps detected locators onto the document's actual sections,
// tables, and figures. Locators that match nothing in the document are
// dropped silently; a dangling "see Section 99" is the author's problem,
// not an edge.
type Resolver struct {
	sections []store.Section
	tables   []store.TableNode
	figures  []store.FigureNode
}

// NewResolver builds a resolver over one document's structure.
func NewResolver(sections []store.Section, tables []store.TableNode, figures []store.FigureNode) *Resolver {
	return &Resolver{sections: sections, tables: tables, figures: figures}
}

// Resolve returns the reference for a locator found in fromSectionID, or
// false when the locator resolves to nothing or to its own section.
func (r *Resolver) Resolve(docID, fromSectionID string, loc Locator) (store.Reference, bool) {
	var kind, targetID string

	switch loc.Kind {
	case KindSection:
		kind = store.TargetSection
		targetID = r.sectionByNumber(loc.Key)
	case KindAppendix:
		kind = store.TargetSection
		targetID = r.sectionByAppendix(loc.Key)
	case KindPage:
		kind = store.TargetSection
		if page, err := strconv.Atoi(loc.Key); err == nil {
			targetID = r.sectionByPage(page)
		}
	case KindTable:
		kind = store.TargetTable
		targetID = tableByNumber(r.tables, loc.Key)
	case KindFigure:
		kind = store.TargetFigure
		targetID = figureByNumber(r.figures, loc.Key)
	}

	if targetID == "" {
		return store.Reference{}, false
	}
	// Self-references carry no graph information.
	if kind == store.TargetSection && targetID == fromSectionID {
		return store.Reference{}, false
	}
	return store.Reference{
		DocID:         docID,
		FromSectionID: fromSectionID,
		TargetKind:    kind,
		TargetID:      targetID,
		Reason:        loc.Reason,
	}, true
}

// sectionByNumber matches "4.2" against section titles. An exact numbered
// title wins; otherwise the locator falls back to its major number, so
// "see Section 4.2" still lands on section "4" when 4.2 was folded into
// its parent.
func (r *Resolver) sectionByNumber(number string) string {
	if id := r.titleNumberMatch(number); id != "" {
		return id
	}
	if major, _, ok := strings.Cut(number, "."); ok {
		return r.titleNumberMatch(major)
	}
	return ""
}

func (r *Resolver) titleNumberMatch(number string) string {
	for _, s := range r.sections {
		title := strings.TrimSpace(s.Title)
		rest, found := strings.CutPrefix(title, number)
		if !found || rest == "" {
			continue
		}
		// The number must be a complete token: "4" must not match "42 ...".
		if c := rest[0]; c == ' ' || c == '.' || c == ')' {
			// "4.2 Title" cut at "4" leaves ".2 Title"; reject that.
			if c == '.' && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9' {
				continue
			}
			return s.SectionID
		}
	}
	return ""
}

func (r *Resolver) sectionByAppendix(key string) string {
	want := regexp.MustCompile(`(?i)\b(?:appendix|annex)\s+` + regexp.QuoteMeta(key) + `\b`)
	for _, s := range r.sections {
		if want.MatchString(s.Title) {
			return s.SectionID
		}
	}
	return ""
}

func (r *Resolver) sectionByPage(page int) string {
	for _, s := range r.sections {
		if s.PageStart <= page && page <= s.PageEnd {
			return s.SectionID
		}
	}
	return ""
}

var trailingNumberRe = regexp.MustCompile(`(\d+)\s*$`)

func labelNumber(label string) string {
	if m := trailingNumberRe.FindStringSubmatch(label); m != nil {
		return m[1]
	}
	return ""
}

func tableByNumber(tables []store.TableNode, key string) string {
	for _, t := range tables {
		if labelNumber(t.Label) == key {
			return t.TableID
		}
	}
	return ""
}

func figureByNumber(figures []store.FigureNode, key string) string {
	for _, f := range figures {
		if labelNumber(f.Label) == key {
			return f.FigureID
		}
	}
	return ""
}

// Run detects and resolves references for a whole document. Only the
// PROCESSED chunks of salient sections are scanned: sections without a
// single CORE or IMPORTANT entity did not earn a place in the graph, and
// unprocessed chunks have unverified text provenance. Returns the number
// of references written (duplicates collapse in the store).
func Run(ctx context.Context, st *store.Store, docID string) (int, error) {
	sections, err := st.SectionsByDoc(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("loading sections: %w", err)
	}
	tables, err := st.TablesByDoc(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("loading tables: %w", err)
	}
	figures, err := st.FiguresByDoc(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("loading figures: %w", err)
	}
	salient, err := st.SalientSections(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("loading salient sections: %w", err)
	}
	if len(salient) == 0 {
		return 0, nil
	}

	chunks, err := st.ProcessedChunksBySections(ctx, docID, salient)
	if err != nil {
		return 0, fmt.Errorf("loading processed chunks: %w", err)
	}

	resolver := NewResolver(sections, tables, figures)
	written := 0
	for _, chunk := range chunks {
		for _, loc := range Detect(chunk.Text) {
			ref, ok := resolver.Resolve(docID, chunk.SectionID, loc)
			if !ok {
				continue
			}
			if err := st.UpsertReference(ctx, ref); err != nil {
				return written, fmt.Errorf("writing reference from %s: %w", chunk.SectionID, err)
			}
			written++
		}
	}

	slog.Info("refs: resolution complete",
		"doc_id", docID, "sections_scanned", len(salient), "references", written)
	return written, nil
}
