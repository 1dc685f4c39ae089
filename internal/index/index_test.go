package index_test

import (
	"testing"

	"github.com/mohammad-safakhou/ideaforge/internal/index"
)

func TestIndexAndSearch(t *testing.T) {
	idx, err := index.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	entries := []index.Entry{
		{ID: "a", RunID: "run-1", Directive: "Conceptual Blend", Content: "double-sided printing defaults across the office", Aggregate: 0.82, Depth: 1},
		{ID: "b", RunID: "run-1", Directive: "Invert Assumptions", Content: "replace paper forms with shared tablets at reception", Aggregate: 0.74, Depth: 1},
		{ID: "c", RunID: "run-2", Directive: "Perspective Shift", Content: "compost shredded paper into the rooftop garden", Aggregate: 0.69, Depth: 2},
	}
	if err := idx.IndexIdeas(entries); err != nil {
		t.Fatalf("index: %v", err)
	}
	n, err := idx.Count()
	if err != nil || n != 3 {
		t.Fatalf("count = %d (%v), want 3", n, err)
	}

	hits, err := idx.Search("printing", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("search hits = %+v, want single hit a", hits)
	}
	if hits[0].RunID != "run-1" || hits[0].Rank != 1 {
		t.Fatalf("hit fields lost: %+v", hits[0])
	}

	hits, err = idx.Search("paper", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("k cap ignored: got %d hits", len(hits))
	}
}
