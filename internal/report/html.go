package report

import (
	"fmt"
	"html/template"
	"io"

	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// WriteHTML renders a self-contained HTML report of a run: the problem
// framing, the top-ranked ideas, and the full tree as nested lists.
func WriteHTML(w io.Writer, doc *snapshot.Document, tr *tree.Tree, k int, metric Metric) error {
	type ideaView struct {
		Rank      int
		Content   string
		Aggregate float64
		Mean      float64
		Visits    int
		Depth     int
		Directive string
		Criteria  map[string]float64
	}
	type nodeView struct {
		Content   string
		Directive string
		Mean      float64
		Visits    int
		Terminal  bool
		Children  []*nodeView
	}

	var build func(id string) (*nodeView, error)
	build = func(id string) (*nodeView, error) {
		n, err := tr.Get(id)
		if err != nil {
			return nil, err
		}
		v := &nodeView{
			Content:   n.Content,
			Directive: n.Directive,
			Mean:      n.MeanValue(),
			Visits:    n.Visits,
			Terminal:  n.Terminal,
		}
		for _, cid := range n.Children {
			child, err := build(cid)
			if err != nil {
				return nil, err
			}
			v.Children = append(v.Children, child)
		}
		return v, nil
	}
	root, err := build(tr.RootID())
	if err != nil {
		return fmt.Errorf("html report: %w", err)
	}

	var top []ideaView
	for i, n := range TopK(tr, k, metric) {
		top = append(top, ideaView{
			Rank:      i + 1,
			Content:   n.Content,
			Aggregate: n.Scores.Aggregate,
			Mean:      n.MeanValue(),
			Visits:    n.Visits,
			Depth:     n.Depth,
			Directive: n.Directive,
			Criteria:  n.Scores.Criteria,
		})
	}

	data := struct {
		Statement   string
		Constraints []string
		Iterations  int
		TreeSize    int
		MaxDepth    int
		Metric      Metric
		Top         []ideaView
		Root        *nodeView
	}{
		Statement:   doc.Statement,
		Constraints: doc.Constraints,
		Iterations:  doc.Iterations,
		TreeSize:    tr.Size(),
		MaxDepth:    tr.MaxDepth(),
		Metric:      metric,
		Top:         top,
		Root:        root,
	}
	return htmlTemplate.Execute(w, data)
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>ideaforge report</title>
<style>
  body { font-family: Georgia, serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
  h1, h2 { font-family: Helvetica, Arial, sans-serif; }
  .meta { color: #666; font-size: 0.9rem; }
  .idea { border-left: 4px solid #7b5cd6; padding: 0.5rem 1rem; margin: 1rem 0; background: #faf8ff; }
  .score { color: #2a7a2a; font-weight: bold; }
  .crit { color: #666; font-size: 0.85rem; margin-right: 1rem; }
  ul.tree { list-style: none; border-left: 1px dotted #bbb; margin-left: 0.6rem; padding-left: 1rem; }
  ul.tree li { margin: 0.35rem 0; }
  .terminal { color: #b05a00; font-size: 0.8rem; }
</style>
</head>
<body>
<h1>Idea exploration report</h1>
<p><strong>Problem:</strong> {{.Statement}}</p>
{{if .Constraints}}<p class="meta">Constraints:
<ul>{{range .Constraints}}<li>{{.}}</li>{{end}}</ul></p>{{end}}
<p class="meta">{{.Iterations}} iterations &middot; {{.TreeSize}} nodes &middot; depth {{.MaxDepth}} &middot; ranked by {{.Metric}}</p>

<h2>Top ideas</h2>
{{range .Top}}
<div class="idea">
  <p><strong>#{{.Rank}}</strong> <span class="score">{{printf "%.3f" .Aggregate}}</span>
     <span class="meta">(mean {{printf "%.3f" .Mean}} over {{.Visits}} visits, depth {{.Depth}}, {{.Directive}})</span></p>
  <p>{{.Content}}</p>
  <p>{{range $name, $score := .Criteria}}<span class="crit">{{$name}}: {{printf "%.2f" $score}}</span>{{end}}</p>
</div>
{{end}}

<h2>Full tree</h2>
{{define "node"}}
<li>
  {{if .Content}}<span class="score">[{{printf "%.3f" .Mean}}]</span> {{.Content}}
  <span class="meta">({{.Directive}}, N={{.Visits}})</span>{{if .Terminal}} <span class="terminal">terminal</span>{{end}}
  {{else}}<em>problem statement</em>{{end}}
  {{if .Children}}<ul class="tree">{{range .Children}}{{template "node" .}}{{end}}</ul>{{end}}
</li>
{{end}}
<ul class="tree">{{template "node" .Root}}</ul>
</body>
</html>
`))
