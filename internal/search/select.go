package search

import (
	"math"

	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// uctScore is the upper confidence bound used during selection:
// Q + C * sqrt(ln(N_parent) / N_child). Unvisited children rank above any
// visited sibling, so every committed node receives an evaluation pass
// before its siblings are revisited.
func uctScore(child tree.Node, parentVisits int, c float64) float64 {
	if child.Visits == 0 {
		return math.Inf(1)
	}
	if parentVisits < 1 {
		parentVisits = 1
	}
	exploit := child.TotalValue / float64(child.Visits)
	explore := c * math.Sqrt(math.Log(float64(parentVisits))/float64(child.Visits))
	return exploit + explore
}

// bestChild returns the child with the highest selection priority. Ties keep
// the earlier-created child, so repeated selection over an unchanged tree is
// deterministic. children must be non-empty and in creation order.
func bestChild(children []tree.Node, parentVisits int, c float64) tree.Node {
	best := children[0]
	bestScore := uctScore(best, parentVisits, c)
	for _, ch := range children[1:] {
		if s := uctScore(ch, parentVisits, c); s > bestScore {
			best, bestScore = ch, s
		}
	}
	return best
}

// expandable reports whether any node in the tree can still accept a new
// child under the given caps. When it returns false the search has nothing
// left to widen and terminates early.
func expandable(tr *tree.Tree, maxChildren, maxDepth int) bool {
	found := false
	tr.Walk(func(n tree.Node) bool {
		if !n.Terminal && n.Depth < maxDepth && len(n.Children) < maxChildren {
			found = true
			return false
		}
		return true
	})
	return found
}
