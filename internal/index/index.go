// Package index maintains a full-text bleve index over archived ideas so
// finished explorations stay searchable without loading their snapshots.
package index

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// ideaDoc is the indexed shape of one archived idea.
type ideaDoc struct {
	RunID     string  `json:"run_id"`
	Directive string  `json:"directive"`
	Content   string  `json:"content"`
	Aggregate float64 `json:"aggregate"`
	Depth     int     `json:"depth"`
}

// Entry is an idea to index.
type Entry struct {
	ID        string
	RunID     string
	Directive string
	Content   string
	Aggregate float64
	Depth     int
}

// Hit is one search result.
type Hit struct {
	ID        string  `json:"id"`
	RunID     string  `json:"run_id"`
	Directive string  `json:"directive"`
	Snippet   string  `json:"snippet"`
	Aggregate float64 `json:"aggregate"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// FromNodes converts a run's evaluated nodes into index entries.
func FromNodes(runID string, nodes []tree.Node) []Entry {
	var out []Entry
	for _, n := range nodes {
		if n.IsRoot() || !n.Evaluated() {
			continue
		}
		out = append(out, Entry{
			ID:        n.ID,
			RunID:     runID,
			Directive: n.Directive,
			Content:   n.Content,
			Aggregate: n.Scores.Aggregate,
			Depth:     n.Depth,
		})
	}
	return out
}

// Index wraps a bleve index on disk.
type Index struct {
	idx bleve.Index
}

// Open opens the index at path, creating it on first use.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist || os.IsNotExist(err) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

// OpenMemory creates an in-memory index, used by tests and one-off searches.
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

// IndexIdeas adds or replaces the given ideas in one batch.
func (x *Index) IndexIdeas(entries []Entry) error {
	batch := x.idx.NewBatch()
	for _, e := range entries {
		doc := ideaDoc{
			RunID:     e.RunID,
			Directive: e.Directive,
			Content:   e.Content,
			Aggregate: e.Aggregate,
			Depth:     e.Depth,
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return fmt.Errorf("indexing idea %s: %w", e.ID, err)
		}
	}
	return x.idx.Batch(batch)
}

// Search runs a query-string search and returns up to k hits with stored
// fields resolved.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	req.Fields = []string{"run_id", "directive", "content", "aggregate"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	res, err := x.idx.Search(req)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for i, hit := range res.Hits {
		h := Hit{ID: hit.ID, Score: hit.Score, Rank: i + 1}
		if v, ok := hit.Fields["run_id"].(string); ok {
			h.RunID = v
		}
		if v, ok := hit.Fields["directive"].(string); ok {
			h.Directive = v
		}
		if v, ok := hit.Fields["aggregate"].(float64); ok {
			h.Aggregate = v
		}
		if frags, ok := hit.Fragments["content"]; ok && len(frags) > 0 {
			h.Snippet = frags[0]
		} else if v, ok := hit.Fields["content"].(string); ok {
			h.Snippet = snippet(v)
		}
		out = append(out, h)
	}
	return out, nil
}

// Count returns the number of indexed ideas.
func (x *Index) Count() (uint64, error) { return x.idx.DocCount() }

// Close releases the index.
func (x *Index) Close() error { return x.idx.Close() }

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
