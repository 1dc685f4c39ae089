// Package search drives the exploration loop: repeated
// select/expand/evaluate/backpropagate cycles over the idea tree, with
// checkpointing, failure containment, and optional concurrent pipelines.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/ideaforge/internal/budget"
	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/observe"
	"github.com/mohammad-safakhou/ideaforge/internal/oracle"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// StopReason says why a run ended.
type StopReason string

const (
	// StopBudget: the iteration budget completed normally.
	StopBudget StopReason = "budget_exhausted"
	// StopExhausted: no expandable nodes remain, the tree cannot grow.
	StopExhausted StopReason = "tree_exhausted"
	// StopCancelled: the context was cancelled mid-run.
	StopCancelled StopReason = "cancelled"
	// StopFailure: too many consecutive oracle failures.
	StopFailure StopReason = "oracle_failure"
	// StopResources: a cost, token, or wall-clock ceiling was hit.
	StopResources StopReason = "resource_budget"
	// StopInternal: a tree operation failed, which indicates a bug.
	StopInternal StopReason = "internal_error"
)

// PersistentFailureError is returned when the oracle fails on this many
// iterations in a row with no completed iteration in between.
type PersistentFailureError struct {
	Consecutive int
	Last        error
}

func (e *PersistentFailureError) Error() string {
	return fmt.Sprintf("oracle failed %d consecutive iterations: %v", e.Consecutive, e.Last)
}

func (e *PersistentFailureError) Unwrap() error { return e.Last }

// Deps bundles the controller's collaborators. Tree, Oracle, Problem and
// Directives are required; the rest default to inert implementations.
type Deps struct {
	Tree       *tree.Tree
	Oracle     oracle.Oracle
	Problem    *problem.Problem
	Directives *directive.Set

	// Checkpoints persists the tree on the configured cadence. Nil
	// disables persistence entirely.
	Checkpoints *snapshot.Manager

	// Monitor enforces cost, token, and wall-clock ceilings between
	// iterations. Nil runs without resource limits.
	Monitor *budget.Monitor

	Telemetry *observe.Telemetry
	Logger    *log.Logger

	// RunID labels snapshots and logs. Defaults to a fresh UUID.
	RunID string

	// Completed seeds the iteration counter when resuming a snapshot.
	// It must equal the restored root's visit count.
	Completed int
}

// Controller runs the tree search. Construct with New, run once with Run.
type Controller struct {
	cfg         Config
	tree        *tree.Tree
	oracle      oracle.Oracle
	problem     *problem.Problem
	directives  *directive.Set
	picker      directive.Picker
	checkpoints *snapshot.Manager
	monitor     *budget.Monitor
	telemetry   *observe.Telemetry
	logger      *log.Logger
	runID       string

	// mu guards everything below plus the commit of every iteration, so
	// no two iterations interleave their tree mutations. completed counts
	// finished iterations (restored ones included), inFlight the ones
	// claimed by a worker right now. pendingKids/pendingDirs track
	// in-flight expansions per parent so concurrent workers neither
	// overshoot the branching cap nor reuse a sibling's directive.
	// consecutive counts oracle failures since the last completed
	// iteration.
	mu            sync.Mutex
	completed     int
	inFlight      int
	pendingKids   map[string]int
	pendingDirs   map[string][]string
	consecutive   int
	totalFailures int
	revisits      int
	created       int
	reason        StopReason
	fatal         error
}

// New validates the configuration and wires a controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("search config: %w", err)
	}
	if deps.Oracle == nil {
		return nil, errors.New("search: oracle is required")
	}
	if deps.Problem == nil {
		return nil, errors.New("search: problem is required")
	}
	if err := deps.Problem.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if deps.Directives == nil || deps.Directives.Len() == 0 {
		return nil, errors.New("search: directive set is empty")
	}
	if deps.Tree == nil {
		deps.Tree = tree.New()
	}
	if deps.Completed < 0 {
		return nil, fmt.Errorf("search: negative completed count %d", deps.Completed)
	}
	if got := deps.Tree.Root().Visits; got != deps.Completed {
		return nil, fmt.Errorf("search: completed count %d disagrees with root visits %d", deps.Completed, got)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	picker, err := directive.NewPicker(cfg.DirectivePolicy, seed)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = observe.NewTelemetry(observe.Config{})
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}

	return &Controller{
		cfg:         cfg,
		tree:        deps.Tree,
		oracle:      deps.Oracle,
		problem:     deps.Problem,
		directives:  deps.Directives,
		picker:      picker,
		checkpoints: deps.Checkpoints,
		monitor:     deps.Monitor,
		telemetry:   deps.Telemetry,
		logger:      deps.Logger,
		runID:       deps.RunID,
		completed:   deps.Completed,
		pendingKids: make(map[string]int),
		pendingDirs: make(map[string][]string),
	}, nil
}

// Tree exposes the controller's tree for reporting after Run returns.
func (c *Controller) Tree() *tree.Tree { return c.tree }

// RunID returns the identifier snapshots are labeled with.
func (c *Controller) RunID() string { return c.runID }

// Result summarizes a finished run.
type Result struct {
	RunID         string
	Iterations    int // total completed, restored ones included
	NodesCreated  int // created by this run
	Revisits      int
	Failures      int // failed iteration attempts
	TreeSize      int
	MaxDepth      int
	BestNodeID    string
	BestAggregate float64
	StopReason    StopReason
	Elapsed       time.Duration
}

// Run executes the search until the iteration budget completes, the tree
// exhausts, a resource ceiling trips, the oracle fails persistently, or ctx
// is cancelled. It always writes a final checkpoint (when persistence is
// configured) and returns a usable Result alongside any fatal error.
// Run must be called at most once per controller.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	c.logger.Printf("run %s: starting (%d/%d iterations done, %d workers)",
		c.runID, c.completed, c.cfg.Iterations, c.cfg.Workers)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(workerCtx, cancel)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	if c.reason == "" {
		if ctx.Err() != nil {
			c.reason = StopCancelled
		} else {
			c.reason = StopBudget
		}
	}
	res := Result{
		RunID:        c.runID,
		Iterations:   c.completed,
		NodesCreated: c.created,
		Revisits:     c.revisits,
		Failures:     c.totalFailures,
		StopReason:   c.reason,
	}
	err := c.fatal
	c.mu.Unlock()

	if saveErr := c.saveCheckpoint(); saveErr != nil {
		c.logger.Printf("run %s: final checkpoint failed: %v", c.runID, saveErr)
		if err == nil {
			err = saveErr
		}
	}

	res.TreeSize = c.tree.Size()
	res.MaxDepth = c.tree.MaxDepth()
	res.BestNodeID, res.BestAggregate = bestAggregate(c.tree)
	res.Elapsed = time.Since(start)

	c.logger.Printf("run %s: %s after %d iterations, %d nodes, best %.3f (%.1fs)",
		c.runID, res.StopReason, res.Iterations, res.TreeSize, res.BestAggregate,
		res.Elapsed.Seconds())
	return res, err
}

// bestAggregate finds the top-scoring evaluated node by aggregate score,
// earliest creation winning ties.
func bestAggregate(tr *tree.Tree) (string, float64) {
	var bestID string
	var best float64
	for _, n := range tr.Nodes() {
		if n.IsRoot() || !n.Evaluated() {
			continue
		}
		if bestID == "" || n.Scores.Aggregate > best {
			bestID, best = n.ID, n.Scores.Aggregate
		}
	}
	return bestID, best
}
