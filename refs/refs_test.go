package refs

import (
	"testing"

	"github.com/okkerlund/strata/store"
)

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

func TestDetectCueGating(t *testing.T) {
	// A locator with no reference language nearby is a self-mention.
	locs := Detect("Section 4.2 establishes the duties of the committee.")
	if len(locs) != 0 {
		t.Fatalf("ungated locator detected: %+v", locs)
	}

	locs = Detect("The valuation method is discussed in Section 4.2 of this charter.")
	if len(locs) != 1 {
		t.Fatalf("expected one locator, got %+v", locs)
	}
	if locs[0].Kind != KindSection || locs[0].Key != "4.2" {
		t.Fatalf("unexpected locator: %+v", locs[0])
	}
}

func TestDetectReasons(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"this term is defined in Section 2.1", ReasonDefinedIn},
		{"the process is detailed in Section 3", ReasonDetailedIn},
		{"the calculation is explained in Appendix A", ReasonDetailedIn},
		{"see Section 5 for the schedule", ReasonReferencedIn},
		{"as shown in Figure 2, growth slowed", ReasonReferencedIn},
	}
	for _, c := range cases {
		locs := Detect(c.text)
		if len(locs) != 1 {
			t.Errorf("%q: expected one locator, got %+v", c.text, locs)
			continue
		}
		if locs[0].Reason != c.want {
			t.Errorf("%q: reason = %s, want %s", c.text, locs[0].Reason, c.want)
		}
	}
}

func TestDetectMultipleTargets(t *testing.T) {
	locs := Detect("as discussed in Section 4.2 and see Table 3 for the breakdown")
	if len(locs) != 2 {
		t.Fatalf("expected exactly two locators, got %+v", locs)
	}
	kinds := map[string]string{}
	for _, l := range locs {
		kinds[l.Kind] = l.Key
	}
	if kinds[KindSection] != "4.2" || kinds[KindTable] != "3" {
		t.Fatalf("unexpected locators: %+v", locs)
	}
}

func TestDetectDedupWithinText(t *testing.T) {
	locs := Detect("see Section 3 here, and again see Section 3 there")
	if len(locs) != 1 {
		t.Fatalf("duplicate locator not collapsed: %+v", locs)
	}
}

func TestDetectPageAndFigureVariants(t *testing.T) {
	locs := Detect("refer to page 12 and Fig. 4 as shown")
	if len(locs) != 2 {
		t.Fatalf("expected page and figure locators, got %+v", locs)
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func testResolver() *Resolver {
	sections := []store.Section{
		{SectionID: "d:sec_001", Title: "1. Introduction", PageStart: 1, PageEnd: 5},
		{SectionID: "d:sec_002", Title: "4 Governance", PageStart: 6, PageEnd: 11},
		{SectionID: "d:sec_003", Title: "4.2 Valuation Methods", PageStart: 12, PageEnd: 15},
		{SectionID: "d:sec_004", Title: "Appendix A Glossary", PageStart: 16, PageEnd: 20},
	}
	tables := []store.TableNode{{TableID: "d:table_3", Label: "Table 3", Page: 7}}
	figures := []store.FigureNode{{FigureID: "d:fig_2", Label: "Figure 2", Page: 13}}
	return NewResolver(sections, tables, figures)
}

func TestResolveSectionByNumber(t *testing.T) {
	r := testResolver()

	ref, ok := r.Resolve("d", "d:sec_001", Locator{Kind: KindSection, Key: "4.2", Reason: ReasonReferencedIn})
	if !ok || ref.TargetID != "d:sec_003" {
		t.Fatalf("exact number resolution failed: %+v ok=%v", ref, ok)
	}
	// "4" must resolve to "4 Governance", not "4.2 Valuation Methods".
	ref, ok = r.Resolve("d", "d:sec_001", Locator{Kind: KindSection, Key: "4", Reason: ReasonReferencedIn})
	if !ok || ref.TargetID != "d:sec_002" {
		t.Fatalf("major number resolution failed: %+v ok=%v", ref, ok)
	}
	// "4.7" has no exact title; it falls back to its major section.
	ref, ok = r.Resolve("d", "d:sec_001", Locator{Kind: KindSection, Key: "4.7", Reason: ReasonReferencedIn})
	if !ok || ref.TargetID != "d:sec_002" {
		t.Fatalf("major fallback failed: %+v ok=%v", ref, ok)
	}
}

func TestResolveAppendixPageTableFigure(t *testing.T) {
	r := testResolver()

	ref, ok := r.Resolve("d", "d:sec_001", Locator{Kind: KindAppendix, Key: "A", Reason: ReasonReferencedIn})
	if !ok || ref.TargetID != "d:sec_004" {
		t.Fatalf("appendix resolution failed: %+v ok=%v", ref, ok)
	}

	ref, ok = r.Resolve("d", "d:sec_001", Locator{Kind: KindPage, Key: "13", Reason: ReasonReferencedIn})
	if !ok || ref.TargetID != "d:sec_003" {
		t.Fatalf("page resolution failed: %+v ok=%v", ref, ok)
	}

	ref, ok = r.Resolve("d", "d:sec_001", Locator{Kind: KindTable, Key: "3", Reason: ReasonReferencedIn})
	if !ok || ref.TargetKind != store.TargetTable || ref.TargetID != "d:table_3" {
		t.Fatalf("table resolution failed: %+v ok=%v", ref, ok)
	}

	ref, ok = r.Resolve("d", "d:sec_001", Locator{Kind: KindFigure, Key: "2", Reason: ReasonReferencedIn})
	if !ok || ref.TargetID != "d:fig_2" {
		t.Fatalf("figure resolution failed: %+v ok=%v", ref, ok)
	}
}

func TestResolveDropsUnresolvableAndSelf(t *testing.T) {
	r := testResolver()

	if _, ok := r.Resolve("d", "d:sec_001", Locator{Kind: KindSection, Key: "99", Reason: ReasonReferencedIn}); ok {
		t.Fatal("dangling section locator resolved")
	}
	// A reference from section 4.2 to itself is dropped.
	if _, ok := r.Resolve("d", "d:sec_003", Locator{Kind: KindSection, Key: "4.2", Reason: ReasonReferencedIn}); ok {
		t.Fatal("self-reference was not dropped")
	}
	if _, ok := r.Resolve("d", "d:sec_001", Locator{Kind: KindTable, Key: "9", Reason: ReasonReferencedIn}); ok {
		t.Fatal("dangling table locator resolved")
	}
}
