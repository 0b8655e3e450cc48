package section

import (
	"strings"
	"testing"

	"github.com/okkerlund/strata/parser"
)

func TestID(t *testing.T) {
	if got := ID("doc1", 3); got != "doc1:sec_003" {
		t.Fatalf("ID = %q", got)
	}
	if got := ID("doc1", 12); got != "doc1:sec_012" {
		t.Fatalf("ID = %q", got)
	}
}

func TestTextBoundedBySection(t *testing.T) {
	sec := Section{ID: "doc1:sec_001", DocID: "doc1", PageStart: 2, PageEnd: 3}
	elements := []parser.Element{
		para("before", 1),
		para("inside one", 2),
		heading("Inside Heading", 1, 2),
		para("  inside two  ", 3),
		para("after", 4),
		para("", 3), // blank elements are dropped
	}

	got := Text(sec, elements)
	if strings.Contains(got, "before") || strings.Contains(got, "after") {
		t.Fatalf("text leaked across section boundary: %q", got)
	}
	want := "inside one\n\nInside Heading\n\ninside two"
	if got != want {
		t.Fatalf("Text = %q, want %q", got, want)
	}
}

func TestAssignTables(t *testing.T) {
	sections := []Section{
		{ID: "doc1:sec_001", PageStart: 1, PageEnd: 5},
		{ID: "doc1:sec_002", PageStart: 6, PageEnd: 10},
	}
	tables := []parser.Table{
		{Label: "Table 1", Page: 3},
		{Label: "Table 2", Page: 6},
		{Label: "Table 3", Page: 99}, // outside every section
	}

	owner := AssignTables(tables, sections)
	if owner[0] != "doc1:sec_001" || owner[1] != "doc1:sec_002" {
		t.Fatalf("unexpected assignment: %v", owner)
	}
	if _, ok := owner[2]; ok {
		t.Fatal("out-of-range table was assigned a section")
	}
}

func TestValidate(t *testing.T) {
	valid := []Section{
		{ID: "a", PageStart: 1, PageEnd: 4},
		{ID: "b", PageStart: 5, PageEnd: 9},
		{ID: "c", PageStart: 10, PageEnd: 12},
	}
	if err := Validate(valid, 12); err != nil {
		t.Fatalf("valid coverage rejected: %v", err)
	}

	cases := []struct {
		name     string
		sections []Section
		pages    int
	}{
		{"empty", nil, 5},
		{"gap", []Section{{ID: "a", PageStart: 1, PageEnd: 3}, {ID: "b", PageStart: 5, PageEnd: 8}}, 8},
		{"overlap", []Section{{ID: "a", PageStart: 1, PageEnd: 4}, {ID: "b", PageStart: 4, PageEnd: 8}}, 8},
		{"late start", []Section{{ID: "a", PageStart: 2, PageEnd: 8}}, 8},
		{"short coverage", []Section{{ID: "a", PageStart: 1, PageEnd: 7}}, 8},
		{"inverted range", []Section{{ID: "a", PageStart: 1, PageEnd: 0}}, 1},
	}
	for _, c := range cases {
		if err := Validate(c.sections, c.pages); err == nil {
			t.Errorf("%s: invalid coverage accepted", c.name)
		}
	}
}
