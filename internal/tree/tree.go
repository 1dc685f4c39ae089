// Package tree owns the idea tree: an id-indexed arena of nodes with
// parent/child relationships, visit statistics, and evaluation scores.
// Nodes reference each other by id only; there are no live pointers
// between nodes, so the structure is cycle-free by construction.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a node id does not resolve. It indicates a
// programming error in the caller, not a recoverable condition.
var ErrNotFound = errors.New("node not found")

// ScoreBreakdown holds the per-criterion scores and their aggregate for a
// single evaluation. It is written once when the node is committed and never
// mutated afterwards.
type ScoreBreakdown struct {
	Criteria  map[string]float64 `json:"criteria,omitempty"`
	Aggregate float64            `json:"aggregate"`
}

// Clone returns a deep copy of the breakdown.
func (s ScoreBreakdown) Clone() ScoreBreakdown {
	out := ScoreBreakdown{Aggregate: s.Aggregate}
	if s.Criteria != nil {
		out.Criteria = make(map[string]float64, len(s.Criteria))
		for k, v := range s.Criteria {
			out.Criteria[k] = v
		}
	}
	return out
}

// Node is one idea in the tree. The root carries no idea text and no
// directive; it stands for the problem statement itself. Visits (N) and
// TotalValue (W) change only through Backpropagate; everything else is fixed
// at creation.
type Node struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id,omitempty"`
	Children   []string        `json:"children,omitempty"`
	Content    string          `json:"content,omitempty"`
	Directive  string          `json:"directive,omitempty"`
	Visits     int             `json:"visits"`
	TotalValue float64         `json:"total_value"`
	Scores     *ScoreBreakdown `json:"scores,omitempty"`
	Depth      int             `json:"depth"`
	Terminal   bool            `json:"is_terminal"`
	Seq        int             `json:"seq"`
}

// MeanValue is Q = W/N, or 0 for a node that has never been visited.
func (n Node) MeanValue() float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.TotalValue / float64(n.Visits)
}

// Evaluated reports whether the node carries an evaluation.
func (n Node) Evaluated() bool { return n.Scores != nil }

// IsRoot reports whether the node is the tree root.
func (n Node) IsRoot() bool { return n.ParentID == "" }

func (n *Node) clone() Node {
	out := *n
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	if n.Scores != nil {
		sc := n.Scores.Clone()
		out.Scores = &sc
	}
	return out
}

// Tree is the arena. All access goes through its lock, so a single Tree may
// be shared between the search workers and the checkpoint writer.
type Tree struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	rootID  string
	nextSeq int
}

// New creates a tree containing only the root node.
func New() *Tree {
	t := &Tree{nodes: make(map[string]*Node)}
	root := &Node{ID: uuid.NewString(), Seq: 0}
	t.nodes[root.ID] = root
	t.rootID = root.ID
	t.nextSeq = 1
	return t
}

// RootID returns the id of the root node.
func (t *Tree) RootID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// Root returns a copy of the root node.
func (t *Tree) Root() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[t.rootID].clone()
}

// CreateNode inserts a new child under parentID and returns its id. The
// child starts unvisited and unevaluated; callers are expected to follow up
// with SetEvaluation and Backpropagate before the node is observable by
// selection.
func (t *Tree) CreateNode(parentID, content, directive string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return "", fmt.Errorf("create under %s: %w", parentID, ErrNotFound)
	}
	child := &Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Content:   content,
		Directive: directive,
		Depth:     parent.Depth + 1,
		Seq:       t.nextSeq,
	}
	t.nextSeq++
	t.nodes[child.ID] = child
	parent.Children = append(parent.Children, child.ID)
	return child.ID, nil
}

// Get returns a copy of the node with the given id.
func (t *Tree) Get(id string) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return n.clone(), nil
}

// ChildrenOf returns copies of the children of id in creation order.
func (t *Tree) ChildrenOf(id string) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("children of %s: %w", id, ErrNotFound)
	}
	out := make([]Node, 0, len(n.Children))
	for _, cid := range n.Children {
		out = append(out, t.nodes[cid].clone())
	}
	return out, nil
}

// AncestorsOf returns the ids on the path from id up to and including the
// root. The first element is id itself.
func (t *Tree) AncestorsOf(id string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorsLocked(id)
}

func (t *Tree) ancestorsLocked(id string) ([]string, error) {
	var path []string
	cur, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("ancestors of %s: %w", id, ErrNotFound)
	}
	for {
		path = append(path, cur.ID)
		if cur.ParentID == "" {
			return path, nil
		}
		next, ok := t.nodes[cur.ParentID]
		if !ok {
			return nil, fmt.Errorf("ancestors of %s: parent %s: %w", id, cur.ParentID, ErrNotFound)
		}
		cur = next
	}
}

// Lineage returns the idea texts on the root-to-node path, oldest first.
// The root contributes nothing (it holds no idea text).
func (t *Tree) Lineage(id string) ([]string, error) {
	path, err := t.AncestorsOf(id)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		n := t.nodes[path[i]]
		if n.Content != "" {
			out = append(out, n.Content)
		}
	}
	return out, nil
}

// SetEvaluation records the score breakdown for a node. It may be called at
// most once per node; a second call is an error because evaluations are
// immutable.
func (t *Tree) SetEvaluation(id string, scores ScoreBreakdown) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("evaluate %s: %w", id, ErrNotFound)
	}
	if n.ID == t.rootID {
		return fmt.Errorf("evaluate %s: root is never evaluated", id)
	}
	if n.Scores != nil {
		return fmt.Errorf("evaluate %s: already evaluated", id)
	}
	sc := scores.Clone()
	n.Scores = &sc
	return nil
}

// Backpropagate adds value to TotalValue and increments Visits on every node
// from id up to and including the root. This is the only path that mutates
// N and W.
func (t *Tree) Backpropagate(id string, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, err := t.ancestorsLocked(id)
	if err != nil {
		return err
	}
	for _, nid := range path {
		n := t.nodes[nid]
		n.Visits++
		n.TotalValue += value
	}
	return nil
}

// MarkTerminal flags a node as unexpandable. The flag is sticky; it is never
// cleared once set.
func (t *Tree) MarkTerminal(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("mark terminal %s: %w", id, ErrNotFound)
	}
	n.Terminal = true
	return nil
}

// Size returns the number of nodes in the tree, root included.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// MaxDepth returns the depth of the deepest node.
func (t *Tree) MaxDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	max := 0
	for _, n := range t.nodes {
		if n.Depth > max {
			max = n.Depth
		}
	}
	return max
}

// Nodes returns copies of every node in creation order (root first).
func (t *Tree) Nodes() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Walk visits nodes in preorder, children in creation order. Traversal stops
// when fn returns false.
func (t *Tree) Walk(fn func(Node) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var visit func(id string) bool
	visit = func(id string) bool {
		n := t.nodes[id]
		if !fn(n.clone()) {
			return false
		}
		for _, cid := range n.Children {
			if !visit(cid) {
				return false
			}
		}
		return true
	}
	visit(t.rootID)
}

// Prune detaches the subtree rooted at id and returns the number of nodes
// removed. The root cannot be pruned. Pruning is an offline maintenance
// operation; it must not run while a search is mutating the tree.
func (t *Tree) Prune(id string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return 0, fmt.Errorf("prune %s: %w", id, ErrNotFound)
	}
	if n.ID == t.rootID {
		return 0, fmt.Errorf("prune %s: cannot prune the root", id)
	}
	parent := t.nodes[n.ParentID]
	for i, cid := range parent.Children {
		if cid == id {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	removed := 0
	var drop func(string)
	drop = func(nid string) {
		node := t.nodes[nid]
		for _, cid := range node.Children {
			drop(cid)
		}
		delete(t.nodes, nid)
		removed++
	}
	drop(id)
	return removed, nil
}

// Restore rebuilds a tree from a flat node list, validating the structural
// invariants along the way: exactly one root, every parent resolves, every
// node appears in its parent's children exactly once, depths are consistent,
// and sequence numbers are unique. It returns a descriptive error on the
// first violation found.
func Restore(nodes []Node) (*Tree, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("restore: empty node list")
	}
	t := &Tree{nodes: make(map[string]*Node, len(nodes))}
	seqs := make(map[int]string, len(nodes))
	for i := range nodes {
		n := nodes[i].clone()
		if n.ID == "" {
			return nil, fmt.Errorf("restore: node %d has empty id", i)
		}
		if _, dup := t.nodes[n.ID]; dup {
			return nil, fmt.Errorf("restore: duplicate node id %s", n.ID)
		}
		if prev, dup := seqs[n.Seq]; dup {
			return nil, fmt.Errorf("restore: nodes %s and %s share seq %d", prev, n.ID, n.Seq)
		}
		seqs[n.Seq] = n.ID
		if n.ParentID == "" {
			if t.rootID != "" {
				return nil, fmt.Errorf("restore: multiple roots (%s and %s)", t.rootID, n.ID)
			}
			t.rootID = n.ID
		}
		t.nodes[n.ID] = &n
		if n.Seq >= t.nextSeq {
			t.nextSeq = n.Seq + 1
		}
	}
	if t.rootID == "" {
		return nil, fmt.Errorf("restore: no root node")
	}
	root := t.nodes[t.rootID]
	if root.Depth != 0 {
		return nil, fmt.Errorf("restore: root depth %d, want 0", root.Depth)
	}
	if root.Scores != nil {
		return nil, fmt.Errorf("restore: root carries an evaluation")
	}
	for id, n := range t.nodes {
		if id == t.rootID {
			continue
		}
		parent, ok := t.nodes[n.ParentID]
		if !ok {
			return nil, fmt.Errorf("restore: node %s references missing parent %s", id, n.ParentID)
		}
		if n.Depth != parent.Depth+1 {
			return nil, fmt.Errorf("restore: node %s depth %d, parent depth %d", id, n.Depth, parent.Depth)
		}
		refs := 0
		for _, cid := range parent.Children {
			if cid == id {
				refs++
			}
		}
		if refs != 1 {
			return nil, fmt.Errorf("restore: node %s appears %d times in children of %s", id, refs, n.ParentID)
		}
	}
	for id, n := range t.nodes {
		for _, cid := range n.Children {
			child, ok := t.nodes[cid]
			if !ok {
				return nil, fmt.Errorf("restore: node %s lists missing child %s", id, cid)
			}
			if child.ParentID != id {
				return nil, fmt.Errorf("restore: node %s lists child %s owned by %s", id, cid, child.ParentID)
			}
		}
	}
	// Reaching every node from the root rules out detached cycles.
	seen := 0
	var count func(string)
	count = func(id string) {
		seen++
		for _, cid := range t.nodes[id].Children {
			count(cid)
		}
	}
	count(t.rootID)
	if seen != len(t.nodes) {
		return nil, fmt.Errorf("restore: %d of %d nodes reachable from root", seen, len(t.nodes))
	}
	return t, nil
}
