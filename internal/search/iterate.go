package search

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/observe"
	"github.com/mohammad-safakhou/ideaforge/internal/oracle"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

type action int

const (
	actExpand action = iota
	actRevisit
	actWait
)

// ticket is one claimed iteration: the selected node, and, for expansions,
// the directive and lineage fixed at claim time so concurrent workers under
// the same parent use distinct directives.
type ticket struct {
	act       action
	node      tree.Node
	directive directive.Directive
	lineage   []string
}

// worker claims and runs iterations until a stop condition holds.
func (c *Controller) worker(ctx context.Context, cancel context.CancelFunc) {
	for {
		tk, ok := c.claim(ctx, cancel)
		if !ok {
			return
		}
		if tk == nil {
			// every remaining slot is in flight on another worker; wait
			// for one to land or fail, then re-check
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}
		start := time.Now()
		if tk.act == actRevisit {
			c.commitRevisit(cancel, tk, start)
			continue
		}
		c.runExpansion(ctx, cancel, tk, start)
	}
}

// claim checks the stop conditions and, if the run continues, selects a
// target and reserves it. Returns ok=false when this worker should exit and
// a nil ticket when it should back off and retry.
func (c *Controller) claim(ctx context.Context, cancel context.CancelFunc) (*ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil || c.fatal != nil {
		return nil, false
	}
	if c.completed >= c.cfg.Iterations {
		if c.reason == "" {
			c.reason = StopBudget
		}
		return nil, false
	}
	if c.monitor != nil {
		if err := c.monitor.Exceeded(); err != nil {
			c.fatalLocked(cancel, StopResources, err)
			return nil, false
		}
	}
	if !expandable(c.tree, c.cfg.MaxChildren, c.cfg.MaxDepth) {
		if c.reason == "" {
			c.reason = StopExhausted
		}
		return nil, false
	}
	if c.completed+c.inFlight >= c.cfg.Iterations {
		return nil, true
	}

	target, act := c.selectLocked()
	if act == actWait {
		return nil, true
	}
	tk := &ticket{act: act, node: target}
	if act == actExpand {
		kids, err := c.tree.ChildrenOf(target.ID)
		if err != nil {
			c.fatalLocked(cancel, StopInternal, err)
			return nil, false
		}
		used := make([]string, 0, len(kids)+len(c.pendingDirs[target.ID]))
		for _, k := range kids {
			used = append(used, k.Directive)
		}
		used = append(used, c.pendingDirs[target.ID]...)
		tk.directive = c.picker.Pick(c.directives.Unused(used))
		lineage, err := c.tree.Lineage(target.ID)
		if err != nil {
			c.fatalLocked(cancel, StopInternal, err)
			return nil, false
		}
		tk.lineage = lineage
		c.pendingKids[target.ID]++
		c.pendingDirs[target.ID] = append(c.pendingDirs[target.ID], tk.directive.Name)
	}
	c.inFlight++
	return tk, true
}

// selectLocked walks from the root to the first node that has no children,
// sits under the branching cap, or is terminal. Descent follows the upper
// confidence bound; unvisited children outrank all visited siblings.
// In-flight expansions count against a parent's capacity so siblings being
// generated concurrently cannot overshoot the cap.
func (c *Controller) selectLocked() (tree.Node, action) {
	cur := c.tree.Root()
	for {
		if cur.Terminal || cur.Depth >= c.cfg.MaxDepth {
			return cur, actRevisit
		}
		if len(cur.Children)+c.pendingKids[cur.ID] < c.cfg.MaxChildren {
			return cur, actExpand
		}
		if len(cur.Children) == 0 {
			// childless but fully claimed by in-flight expansions
			if cur.Evaluated() {
				return cur, actRevisit
			}
			return tree.Node{}, actWait
		}
		children, err := c.tree.ChildrenOf(cur.ID)
		if err != nil {
			return tree.Node{}, actWait
		}
		cur = bestChild(children, cur.Visits, c.cfg.ExplorationC)
	}
}

// runExpansion performs the oracle round-trip for a claimed expansion and
// commits the result. Nothing touches the tree until both calls succeed, so
// a failed or abandoned iteration leaves no trace.
func (c *Controller) runExpansion(ctx context.Context, cancel context.CancelFunc, tk *ticket, start time.Time) {
	text, err := c.oracle.Generate(ctx, oracle.GenerateRequest{
		Problem:     c.problem.Statement,
		Constraints: c.problem.ConstraintsText(),
		Lineage:     tk.lineage,
		Directive:   tk.directive,
	})
	var ev oracle.Evaluation
	if err == nil {
		ev, err = c.oracle.Evaluate(ctx, text, c.problem.Criteria)
	}
	if err != nil {
		c.failIteration(ctx, cancel, tk, err, start)
		return
	}
	c.commitExpansion(cancel, tk, text, ev, start)
}

// commitExpansion inserts, scores, and backpropagates the new node as one
// critical section.
func (c *Controller) commitExpansion(cancel context.CancelFunc, tk *ticket, text string, ev oracle.Evaluation, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(tk)

	id, err := c.tree.CreateNode(tk.node.ID, text, tk.directive.Name)
	if err != nil {
		c.fatalLocked(cancel, StopInternal, fmt.Errorf("committing node under %s: %w", tk.node.ID, err))
		return
	}
	if err := c.tree.SetEvaluation(id, tree.ScoreBreakdown{Criteria: ev.Criteria, Aggregate: ev.Aggregate}); err != nil {
		c.fatalLocked(cancel, StopInternal, err)
		return
	}
	child, err := c.tree.Get(id)
	if err != nil {
		c.fatalLocked(cancel, StopInternal, err)
		return
	}
	if child.Depth >= c.cfg.MaxDepth || ev.Aggregate >= c.cfg.QualityThreshold {
		_ = c.tree.MarkTerminal(id)
	}
	if err := c.tree.Backpropagate(id, ev.Aggregate); err != nil {
		c.fatalLocked(cancel, StopInternal, err)
		return
	}
	c.created++
	c.finishLocked(observe.OutcomeExpanded, start)
	c.telemetry.RecordNodeCreated(child.Depth, tk.directive.Name, c.tree.Size())
	c.telemetry.RecordEvaluation(ev.Aggregate)
	c.logger.Printf("iteration %d/%d: +node depth=%d directive=%s score=%.3f",
		c.completed, c.cfg.Iterations, child.Depth, tk.directive.Name, ev.Aggregate)
}

// commitRevisit backpropagates the node's stored aggregate without calling
// the oracle again. Evaluations are immutable, so a revisit reinforces the
// cached score.
func (c *Controller) commitRevisit(cancel context.CancelFunc, tk *ticket, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(tk)

	if err := c.tree.Backpropagate(tk.node.ID, tk.node.Scores.Aggregate); err != nil {
		c.fatalLocked(cancel, StopInternal, err)
		return
	}
	c.revisits++
	c.finishLocked(observe.OutcomeRevisit, start)
	c.logger.Printf("iteration %d/%d: revisit depth=%d score=%.3f",
		c.completed, c.cfg.Iterations, tk.node.Depth, tk.node.Scores.Aggregate)
}

// failIteration releases the claim and counts the oracle failure. A call
// abandoned because the run is shutting down is not a failure.
func (c *Controller) failIteration(ctx context.Context, cancel context.CancelFunc, tk *ticket, err error, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(tk)

	if ctx.Err() != nil {
		return
	}
	c.totalFailures++
	c.consecutive++
	c.telemetry.RecordIteration(observe.OutcomeFailed, time.Since(start))
	c.logger.Printf("iteration failed (%d consecutive): %v", c.consecutive, err)
	if c.consecutive >= c.cfg.MaxConsecutiveFailures {
		c.fatalLocked(cancel, StopFailure, &PersistentFailureError{Consecutive: c.consecutive, Last: err})
	}
}

// releaseLocked returns the ticket's claims.
func (c *Controller) releaseLocked(tk *ticket) {
	c.inFlight--
	if tk.act != actExpand {
		return
	}
	id := tk.node.ID
	if n := c.pendingKids[id] - 1; n > 0 {
		c.pendingKids[id] = n
	} else {
		delete(c.pendingKids, id)
	}
	dirs := c.pendingDirs[id]
	for i, name := range dirs {
		if name == tk.directive.Name {
			dirs = append(dirs[:i], dirs[i+1:]...)
			break
		}
	}
	if len(dirs) == 0 {
		delete(c.pendingDirs, id)
	} else {
		c.pendingDirs[id] = dirs
	}
}

// finishLocked closes out a completed iteration and checkpoints on cadence.
func (c *Controller) finishLocked(outcome string, start time.Time) {
	c.completed++
	c.consecutive = 0
	c.telemetry.RecordIteration(outcome, time.Since(start))
	if c.checkpoints != nil && c.cfg.SnapshotEvery > 0 && c.completed%c.cfg.SnapshotEvery == 0 {
		if err := c.saveLocked(); err != nil {
			c.logger.Printf("checkpoint at iteration %d failed: %v", c.completed, err)
		}
	}
}

// fatalLocked records the first fatal error and wakes every worker.
func (c *Controller) fatalLocked(cancel context.CancelFunc, reason StopReason, err error) {
	if c.fatal == nil {
		c.fatal = err
	}
	if c.reason == "" {
		c.reason = reason
	}
	cancel()
}

// saveCheckpoint writes a snapshot of the current state.
func (c *Controller) saveCheckpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Controller) saveLocked() error {
	if c.checkpoints == nil {
		return nil
	}
	doc := snapshot.Capture(c.runID, c.problem, c.directives, c.tree, c.completed)
	if err := c.checkpoints.Save(doc); err != nil {
		return err
	}
	c.telemetry.RecordCheckpoint(c.checkpoints.Path(), len(doc.Nodes))
	return nil
}
