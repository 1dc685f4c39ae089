// Package snapshot persists the full search state as a single JSON document
// and restores it on resume. Saves are atomic (temp file + rename) so a
// crash mid-write can never produce a file that loads as valid but
// truncated; loads re-check the structural invariants of the tree and
// refuse, rather than repair, anything inconsistent.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// ErrCorrupt marks a snapshot that parsed but violates the tree's structural
// invariants. It is fatal: the caller halts instead of repairing.
var ErrCorrupt = errors.New("corrupt snapshot")

// Version is the current document version.
const Version = 1

// Document is the durable form of a run: the problem framing, the directive
// set, the completed-iteration counter, and the flat node list.
type Document struct {
	Version     int                   `json:"version"`
	RunID       string                `json:"run_id"`
	SavedAt     time.Time             `json:"saved_at"`
	Statement   string                `json:"statement"`
	Constraints []string              `json:"constraints,omitempty"`
	Criteria    []problem.Criterion   `json:"criteria"`
	Directives  []directive.Directive `json:"directives"`
	Iterations  int                   `json:"iterations"`
	Nodes       []tree.Node           `json:"nodes"`
}

// Manager writes successive snapshots of one run to a fixed path. Save is
// serialized internally so the parallel search never interleaves two
// writers.
type Manager struct {
	mu   sync.Mutex
	path string
}

// NewManager creates a manager that writes to path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the snapshot destination.
func (m *Manager) Path() string { return m.path }

// Save writes the document atomically: marshal to a temp file in the
// destination directory, fsync, then rename over the target.
func (m *Manager) Save(doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc.Version = Version
	doc.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename lands

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}

// Capture assembles a document from live state.
func Capture(runID string, p *problem.Problem, dirs *directive.Set, tr *tree.Tree, iterations int) *Document {
	return &Document{
		RunID:       runID,
		Statement:   p.Statement,
		Constraints: append([]string(nil), p.Constraints...),
		Criteria:    append([]problem.Criterion(nil), p.Criteria...),
		Directives:  dirs.All(),
		Iterations:  iterations,
		Nodes:       tr.Nodes(),
	}
}

// Load reads a snapshot, validates it, and reconstructs the tree. Structural
// violations return an error wrapping ErrCorrupt; a missing file returns the
// underlying fs error untouched.
func Load(path string) (*Document, *tree.Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != Version {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}
	if doc.Statement == "" {
		return nil, nil, fmt.Errorf("%w: missing problem statement", ErrCorrupt)
	}
	if len(doc.Directives) == 0 {
		return nil, nil, fmt.Errorf("%w: empty directive set", ErrCorrupt)
	}
	tr, err := tree.Restore(doc.Nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	root := tr.Root()
	if root.Visits != doc.Iterations {
		return nil, nil, fmt.Errorf("%w: iteration count %d disagrees with root visits %d", ErrCorrupt, doc.Iterations, root.Visits)
	}
	for _, n := range tr.Nodes() {
		if n.IsRoot() {
			continue
		}
		if !n.Evaluated() || n.Visits < 1 {
			return nil, nil, fmt.Errorf("%w: node %s persisted without evaluation", ErrCorrupt, n.ID)
		}
	}
	return &doc, tr, nil
}

// Problem rebuilds the problem definition embedded in the document.
func (d *Document) Problem() *problem.Problem {
	return &problem.Problem{
		Title:       d.RunID,
		Statement:   d.Statement,
		Constraints: append([]string(nil), d.Constraints...),
		Criteria:    append([]problem.Criterion(nil), d.Criteria...),
	}
}

// DirectiveSet rebuilds the directive set embedded in the document.
func (d *Document) DirectiveSet() (*directive.Set, error) {
	return directive.NewSet(d.Directives)
}
