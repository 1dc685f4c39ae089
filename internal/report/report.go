// Package report surfaces results from a finished or loaded search: ranked
// top ideas, a terminal tree view, and an HTML export. Everything here is
// read-only over the tree.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// Metric selects the ranking order for top ideas.
type Metric string

const (
	// MetricAggregate ranks by the immutable evaluation aggregate.
	MetricAggregate Metric = "aggregate"
	// MetricMean ranks by the running mean W/N, which revisits shift.
	MetricMean Metric = "mean_value"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricAggregate:
		return MetricAggregate, nil
	case MetricMean, "mean":
		return MetricMean, nil
	default:
		return "", fmt.Errorf("unknown ranking metric %q", s)
	}
}

func metricValue(n tree.Node, m Metric) float64 {
	if m == MetricMean {
		return n.MeanValue()
	}
	return n.Scores.Aggregate
}

// TopK returns the k best non-root evaluated nodes ranked by the chosen
// metric descending. Ties keep creation order. Calling it twice on an
// unchanged tree yields identical output.
func TopK(tr *tree.Tree, k int, metric Metric) []tree.Node {
	if k <= 0 {
		return nil
	}
	var ranked []tree.Node
	for _, n := range tr.Nodes() {
		if n.IsRoot() || !n.Evaluated() {
			continue
		}
		ranked = append(ranked, n)
	}
	// Nodes() is in creation order, so a stable sort preserves it on ties
	sort.SliceStable(ranked, func(i, j int) bool {
		return metricValue(ranked[i], metric) > metricValue(ranked[j], metric)
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Renderer writes human-readable views of the tree. Color is decided at
// construction so output stays stable for tests and piped output.
type Renderer struct {
	out    io.Writer
	header func(format string, a ...interface{}) string
	score  func(format string, a ...interface{}) string
	dim    func(format string, a ...interface{}) string
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, colorize bool) *Renderer {
	r := &Renderer{
		out:    out,
		header: fmt.Sprintf,
		score:  fmt.Sprintf,
		dim:    fmt.Sprintf,
	}
	if colorize {
		r.header = color.New(color.FgMagenta, color.Bold).Sprintf
		r.score = color.New(color.FgGreen, color.Bold).Sprintf
		r.dim = color.New(color.Faint).Sprintf
	}
	return r
}

// TopIdeas prints the ranked ideas with their full content and statistics.
func (r *Renderer) TopIdeas(nodes []tree.Node, metric Metric) {
	fmt.Fprintf(r.out, "%s\n\n", r.header("TOP %d IDEAS (by %s):", len(nodes), metric))
	for i, n := range nodes {
		fmt.Fprintf(r.out, "%s\n", r.header("%d.", i+1))
		fmt.Fprintf(r.out, "%s\n\n", n.Content)
		if n.Scores != nil {
			fmt.Fprintf(r.out, "  %s\n", r.score("Score: %.3f (mean %.3f over %d visits)",
				n.Scores.Aggregate, n.MeanValue(), n.Visits))
			for _, name := range sortedCriteria(n.Scores.Criteria) {
				fmt.Fprintf(r.out, "  %s\n", r.dim("%s: %.2f", name, n.Scores.Criteria[name]))
			}
		}
		fmt.Fprintf(r.out, "  %s\n\n", r.dim("depth=%d directive=%s id=%s", n.Depth, n.Directive, n.ID))
	}
}

// Tree prints the whole tree with box-drawing connectors, one line per
// node, content truncated for scanning.
func (r *Renderer) Tree(tr *tree.Tree) error {
	root := tr.Root()
	fmt.Fprintf(r.out, "%s\n", r.header("IDEA TREE (%d nodes, depth %d)", tr.Size(), tr.MaxDepth()))
	return r.subtree(tr, root.ID, "")
}

func (r *Renderer) subtree(tr *tree.Tree, id, prefix string) error {
	children, err := tr.ChildrenOf(id)
	if err != nil {
		return err
	}
	for i, ch := range children {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(children)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		marker := ""
		if ch.Terminal {
			marker = " [terminal]"
		}
		fmt.Fprintf(r.out, "%s%s%s %s%s\n",
			prefix, connector,
			r.score("[%.3f]", ch.MeanValue()),
			excerpt(ch.Content, 60),
			r.dim(" (%s, N=%d)%s", ch.Directive, ch.Visits, marker))
		if err := r.subtree(tr, ch.ID, childPrefix); err != nil {
			return err
		}
	}
	return nil
}

func sortedCriteria(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func excerpt(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
