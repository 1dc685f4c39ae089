package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/ideaforge/internal/budget"
	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/observe"
	"github.com/mohammad-safakhou/ideaforge/internal/oracle"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// fakeOracle scripts generation and evaluation outcomes per call number
// (1-based). Safe for concurrent use.
type fakeOracle struct {
	mu        sync.Mutex
	genCalls  int
	evalCalls int
	requests  []oracle.GenerateRequest

	genErr  func(call int) error
	evalErr func(call int) error
	score   func(call int) float64
	delay   time.Duration
}

func (f *fakeOracle) wait(ctx context.Context) error {
	if f.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.delay):
		return nil
	}
}

func (f *fakeOracle) Generate(ctx context.Context, req oracle.GenerateRequest) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", &oracle.GenerationError{Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls++
	f.requests = append(f.requests, req)
	if f.genErr != nil {
		if err := f.genErr(f.genCalls); err != nil {
			return "", &oracle.GenerationError{Err: err}
		}
	}
	return fmt.Sprintf("idea %d via %s", f.genCalls, req.Directive.Name), nil
}

func (f *fakeOracle) Evaluate(ctx context.Context, text string, criteria []problem.Criterion) (oracle.Evaluation, error) {
	if err := f.wait(ctx); err != nil {
		return oracle.Evaluation{}, &oracle.EvaluationError{Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCalls++
	if f.evalErr != nil {
		if err := f.evalErr(f.evalCalls); err != nil {
			return oracle.Evaluation{}, &oracle.EvaluationError{Err: err}
		}
	}
	score := 0.5
	if f.score != nil {
		score = f.score(f.evalCalls)
	}
	crit := make(map[string]float64, len(criteria))
	for _, c := range criteria {
		crit[c.Name] = score
	}
	return oracle.Evaluation{Criteria: crit, Aggregate: score, Raw: "scripted"}, nil
}

func (f *fakeOracle) calls() (gen, eval int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls, f.evalCalls
}

func testProblem() *problem.Problem {
	return &problem.Problem{
		Title:     "paper",
		Statement: "reduce office paper waste",
		Criteria:  problem.DefaultCriteria(),
	}
}

func dirSet(t *testing.T, names ...string) *directive.Set {
	t.Helper()
	ds := make([]directive.Directive, len(names))
	for i, n := range names {
		ds[i] = directive.Directive{Name: n, Instruction: "use " + n, Explanation: n}
	}
	set, err := directive.NewSet(ds)
	if err != nil {
		t.Fatalf("directive set: %v", err)
	}
	return set
}

func newController(t *testing.T, cfg Config, deps Deps) *Controller {
	t.Helper()
	if deps.Problem == nil {
		deps.Problem = testProblem()
	}
	if deps.Directives == nil {
		deps.Directives = dirSet(t, "alpha", "beta", "gamma")
	}
	if cfg.DirectivePolicy == "" {
		cfg.DirectivePolicy = "round_robin"
	}
	c, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestFreshRunBudgetFive(t *testing.T) {
	o := &fakeOracle{}
	c := newController(t, Config{Iterations: 5, MaxChildren: 2}, Deps{Oracle: o})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Iterations != 5 || res.NodesCreated != 5 || res.Revisits != 0 {
		t.Fatalf("got iterations=%d created=%d revisits=%d, want 5/5/0",
			res.Iterations, res.NodesCreated, res.Revisits)
	}
	if res.StopReason != StopBudget {
		t.Fatalf("stop reason = %s, want %s", res.StopReason, StopBudget)
	}

	tr := c.Tree()
	if tr.Size() != 6 {
		t.Fatalf("tree size = %d, want 6", tr.Size())
	}
	root := tr.Root()
	if root.Visits != 5 {
		t.Fatalf("root visits = %d, want 5", root.Visits)
	}
	if len(root.Children) != 2 {
		t.Fatalf("root children = %d, want branching cap 2", len(root.Children))
	}
	gen, eval := o.calls()
	if gen != 5 || eval != 5 {
		t.Fatalf("oracle calls = %d gen / %d eval, want 5/5 (each node evaluated once)", gen, eval)
	}

	// seed expansions of the root carry no lineage and distinct directives
	if len(o.requests[0].Lineage) != 0 || len(o.requests[1].Lineage) != 0 {
		t.Fatalf("root expansions must have empty lineage")
	}
	if o.requests[0].Directive.Name == o.requests[1].Directive.Name {
		t.Fatalf("sibling expansions reused directive %q", o.requests[0].Directive.Name)
	}
	// the first descent expands a root child, so its lineage has one entry
	if len(o.requests[2].Lineage) != 1 {
		t.Fatalf("depth-1 expansion lineage = %v", o.requests[2].Lineage)
	}

	// every non-root node carries its breakdown and a single visit unless revisited
	for _, n := range tr.Nodes() {
		if n.IsRoot() {
			continue
		}
		if !n.Evaluated() {
			t.Fatalf("node %s committed without evaluation", n.ID)
		}
		if n.Visits < 1 {
			t.Fatalf("node %s has %d visits", n.ID, n.Visits)
		}
	}
}

func TestResumeContinuesToTotalBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	o := &fakeOracle{}
	first := newController(t, Config{Iterations: 5, MaxChildren: 2}, Deps{
		Oracle:      o,
		Checkpoints: snapshot.NewManager(path),
	})
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	doc, restored, err := snapshot.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Iterations != 5 {
		t.Fatalf("snapshot iterations = %d, want 5", doc.Iterations)
	}

	set, err := doc.DirectiveSet()
	if err != nil {
		t.Fatalf("directive set: %v", err)
	}
	second := newController(t, Config{Iterations: 10, MaxChildren: 2}, Deps{
		Oracle:     o,
		Tree:       restored,
		Problem:    doc.Problem(),
		Directives: set,
		Completed:  doc.Iterations,
	})
	res, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Iterations != 10 {
		t.Fatalf("total iterations = %d, want 10", res.Iterations)
	}
	if res.NodesCreated+res.Revisits != 5 {
		t.Fatalf("second run completed %d iterations, want exactly 5 further",
			res.NodesCreated+res.Revisits)
	}
	if got := second.Tree().Root().Visits; got != 10 {
		t.Fatalf("root visits = %d, want 10", got)
	}
}

func TestResumeWithBudgetAlreadyMet(t *testing.T) {
	tr := tree.New()
	id, err := tr.CreateNode(tr.RootID(), "only idea", "alpha")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tr.SetEvaluation(id, tree.ScoreBreakdown{Criteria: map[string]float64{"Innovative": 0.5}, Aggregate: 0.5}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := tr.Backpropagate(id, 0.5); err != nil {
			t.Fatalf("backprop: %v", err)
		}
	}

	o := &fakeOracle{}
	c := newController(t, Config{Iterations: 5, MaxChildren: 2}, Deps{
		Oracle:    o,
		Tree:      tr,
		Completed: 5,
	})
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Iterations != 5 || res.NodesCreated != 0 {
		t.Fatalf("got iterations=%d created=%d, want 5/0", res.Iterations, res.NodesCreated)
	}
	if gen, _ := o.calls(); gen != 0 {
		t.Fatalf("oracle called %d times on an already-met budget", gen)
	}
}

func TestEvaluationFailureAbortsOnlyThatIteration(t *testing.T) {
	o := &fakeOracle{
		evalErr: func(call int) error {
			if call == 3 {
				return errors.New("scoring backend unavailable")
			}
			return nil
		},
	}
	c := newController(t, Config{Iterations: 5, MaxChildren: 2}, Deps{Oracle: o})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Iterations != 5 || res.NodesCreated != 5 {
		t.Fatalf("got iterations=%d created=%d, want 5/5", res.Iterations, res.NodesCreated)
	}
	if res.Failures != 1 {
		t.Fatalf("failures = %d, want 1", res.Failures)
	}
	if got := c.Tree().Root().Visits; got != 5 {
		t.Fatalf("root visits = %d, failed iteration must not backpropagate", got)
	}
	if c.Tree().Size() != 6 {
		t.Fatalf("tree size = %d, failed iteration must not commit a node", c.Tree().Size())
	}
	gen, eval := o.calls()
	if gen != 6 || eval != 6 {
		t.Fatalf("oracle calls = %d/%d, want 6/6 (one wasted round-trip)", gen, eval)
	}
}

func TestPersistentOracleFailureIsFatal(t *testing.T) {
	o := &fakeOracle{
		genErr: func(int) error { return errors.New("provider down") },
	}
	c := newController(t, Config{Iterations: 10, MaxChildren: 2, MaxConsecutiveFailures: 3}, Deps{Oracle: o})

	res, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	var pf *PersistentFailureError
	if !errors.As(err, &pf) || pf.Consecutive != 3 {
		t.Fatalf("expected persistent failure after 3 attempts, got %v", err)
	}
	var ge *oracle.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("cause should unwrap to the oracle error, got %v", err)
	}
	if res.StopReason != StopFailure {
		t.Fatalf("stop reason = %s, want %s", res.StopReason, StopFailure)
	}
	if res.Iterations != 0 || c.Tree().Size() != 1 {
		t.Fatalf("failed runs must leave the tree untouched: iterations=%d size=%d",
			res.Iterations, c.Tree().Size())
	}
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	// fail every other generation: never two consecutive failures
	o := &fakeOracle{
		genErr: func(call int) error {
			if call%2 == 1 {
				return errors.New("flaky")
			}
			return nil
		},
	}
	c := newController(t, Config{Iterations: 3, MaxChildren: 3, MaxConsecutiveFailures: 2}, Deps{Oracle: o})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Iterations != 3 || res.Failures != 3 {
		t.Fatalf("got iterations=%d failures=%d, want 3/3", res.Iterations, res.Failures)
	}
}

func TestQualityThresholdMarksTerminalAndRevisits(t *testing.T) {
	// first idea scores above the threshold and becomes terminal; the
	// second stays open
	scores := map[int]float64{1: 0.9, 2: 0.5, 3: 0.5}
	o := &fakeOracle{score: func(call int) float64 { return scores[call] }}
	c := newController(t, Config{Iterations: 4, MaxChildren: 2, QualityThreshold: 0.87}, Deps{Oracle: o})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Iterations != 4 || res.NodesCreated != 3 || res.Revisits != 1 {
		t.Fatalf("got iterations=%d created=%d revisits=%d, want 4/3/1",
			res.Iterations, res.NodesCreated, res.Revisits)
	}
	gen, eval := o.calls()
	if gen != 3 || eval != 3 {
		t.Fatalf("revisit must not re-invoke the oracle: calls %d/%d, want 3/3", gen, eval)
	}

	tr := c.Tree()
	root := tr.Root()
	kids, err := tr.ChildrenOf(root.ID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if !kids[0].Terminal {
		t.Fatalf("high scorer should be terminal")
	}
	if kids[0].Visits != 2 {
		t.Fatalf("revisited node visits = %d, want 2", kids[0].Visits)
	}
	if kids[0].TotalValue != 1.8 {
		t.Fatalf("revisit must backpropagate the cached 0.9, total = %v", kids[0].TotalValue)
	}
	if kids[1].Terminal {
		t.Fatalf("0.5 scorer must stay open")
	}
}

func TestTreeExhaustionStopsEarly(t *testing.T) {
	// depth cap 1 and branching cap 2: after two terminal children nothing
	// is expandable
	o := &fakeOracle{}
	c := newController(t, Config{Iterations: 10, MaxChildren: 2, MaxDepth: 1}, Deps{Oracle: o})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.StopReason != StopExhausted {
		t.Fatalf("stop reason = %s, want %s", res.StopReason, StopExhausted)
	}
	if res.Iterations != 2 || res.NodesCreated != 2 {
		t.Fatalf("got iterations=%d created=%d, want 2/2", res.Iterations, res.NodesCreated)
	}
	for _, n := range c.Tree().Nodes() {
		if !n.IsRoot() && !n.Terminal {
			t.Fatalf("depth-capped node %s not terminal", n.ID)
		}
	}
}

func TestDirectiveFallbackWhenAllUsed(t *testing.T) {
	o := &fakeOracle{}
	c := newController(t, Config{Iterations: 3, MaxChildren: 3}, Deps{
		Oracle:     o,
		Directives: dirSet(t, "alpha", "beta"),
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.NodesCreated != 3 {
		t.Fatalf("created = %d, want 3", res.NodesCreated)
	}
	kids, err := c.Tree().ChildrenOf(c.Tree().RootID())
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	seen := map[string]int{}
	for _, k := range kids {
		seen[k.Directive]++
	}
	if seen["alpha"] == 0 || seen["beta"] == 0 {
		t.Fatalf("both directives should appear before any repeats: %v", seen)
	}
}

func TestCheckpointCadence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	o := &fakeOracle{}
	tel := observe.NewTelemetry(observe.Config{Enabled: true})
	c := newController(t, Config{Iterations: 4, MaxChildren: 2, SnapshotEvery: 2}, Deps{
		Oracle:      o,
		Checkpoints: snapshot.NewManager(path),
		Telemetry:   tel,
	})

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	doc, restored, err := snapshot.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Iterations != 4 || restored.Size() != c.Tree().Size() {
		t.Fatalf("final snapshot iterations=%d size=%d", doc.Iterations, restored.Size())
	}
	// saves at iterations 2 and 4, plus the final save
	if m := tel.Snapshot(); m.CheckpointSaves != 3 {
		t.Fatalf("checkpoint saves = %d, want 3", m.CheckpointSaves)
	}
}

func TestCancellationLeavesConsistentState(t *testing.T) {
	o := &fakeOracle{delay: 5 * time.Millisecond}
	path := filepath.Join(t.TempDir(), "run.json")
	c := newController(t, Config{Iterations: 1000, MaxChildren: 3}, Deps{
		Oracle:      o,
		Checkpoints: snapshot.NewManager(path),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	res, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if res.StopReason != StopCancelled {
		t.Fatalf("stop reason = %s, want %s", res.StopReason, StopCancelled)
	}
	if res.Iterations >= 1000 {
		t.Fatalf("run should have been cut short")
	}
	// abandoned in-flight work is excluded: completed iterations match root
	if got := c.Tree().Root().Visits; got != res.Iterations {
		t.Fatalf("root visits = %d, completed iterations = %d", got, res.Iterations)
	}
	// the final snapshot passes structural validation
	if _, _, err := snapshot.Load(path); err != nil {
		t.Fatalf("snapshot after cancellation: %v", err)
	}
}

func TestResourceCeilingStopsRun(t *testing.T) {
	limit := 0.01
	mon := budget.NewMonitor(budget.Config{MaxCost: &limit})
	if err := mon.Add(0.02, 100); err == nil {
		t.Fatalf("expected monitor breach")
	}

	o := &fakeOracle{}
	c := newController(t, Config{Iterations: 5, MaxChildren: 2}, Deps{Oracle: o, Monitor: mon})

	res, err := c.Run(context.Background())
	var exceeded budget.ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ErrExceeded, got %v", err)
	}
	if res.StopReason != StopResources || res.Iterations != 0 {
		t.Fatalf("got reason=%s iterations=%d, want %s/0", res.StopReason, res.Iterations, StopResources)
	}
}

func TestParallelWorkersKeepInvariants(t *testing.T) {
	o := &fakeOracle{delay: time.Millisecond}
	path := filepath.Join(t.TempDir(), "run.json")
	c := newController(t, Config{
		Iterations:  20,
		MaxChildren: 3,
		MaxDepth:    3,
		Workers:     4,
	}, Deps{
		Oracle:      o,
		Checkpoints: snapshot.NewManager(path),
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Iterations != 20 {
		t.Fatalf("iterations = %d, want exactly 20", res.Iterations)
	}
	tr := c.Tree()
	if got := tr.Root().Visits; got != 20 {
		t.Fatalf("root visits = %d, want 20", got)
	}
	if res.NodesCreated+res.Revisits != 20 {
		t.Fatalf("created %d + revisits %d must equal the budget", res.NodesCreated, res.Revisits)
	}
	for _, n := range tr.Nodes() {
		if len(n.Children) > 3 {
			t.Fatalf("node %s has %d children, cap is 3", n.ID, len(n.Children))
		}
		if !n.IsRoot() && !n.Evaluated() {
			t.Fatalf("unevaluated node %s committed", n.ID)
		}
	}
	// structural validation via the loader's invariant checks
	if _, _, err := snapshot.Load(path); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
}

func TestSelectionPrefersUnvisitedChild(t *testing.T) {
	children := []tree.Node{
		{ID: "a", Visits: 3, TotalValue: 2.9, Seq: 1},
		{ID: "b", Visits: 0, Seq: 2},
		{ID: "c", Visits: 1, TotalValue: 0.99, Seq: 3},
	}
	got := bestChild(children, 4, DefaultExplorationC)
	if got.ID != "b" {
		t.Fatalf("selected %s, want the unvisited child", got.ID)
	}

	// two unvisited children: the earlier-created one wins
	children[0].Visits = 0
	children[0].TotalValue = 0
	got = bestChild(children, 4, DefaultExplorationC)
	if got.ID != "a" {
		t.Fatalf("selected %s, want the earlier unvisited child", got.ID)
	}
}

func TestSelectionTiesBreakByCreationOrder(t *testing.T) {
	children := []tree.Node{
		{ID: "a", Visits: 2, TotalValue: 1.0, Seq: 1},
		{ID: "b", Visits: 2, TotalValue: 1.0, Seq: 2},
	}
	if got := bestChild(children, 4, DefaultExplorationC); got.ID != "a" {
		t.Fatalf("tie broke to %s, want the earlier child", got.ID)
	}
}

func TestNewRejectsBadDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatalf("missing oracle must fail")
	}
	o := &fakeOracle{}
	if _, err := New(Config{}, Deps{Oracle: o}); err == nil {
		t.Fatalf("missing problem must fail")
	}
	if _, err := New(Config{}, Deps{Oracle: o, Problem: testProblem()}); err == nil {
		t.Fatalf("missing directives must fail")
	}
	set := directive.DefaultSet()
	if _, err := New(Config{}, Deps{Oracle: o, Problem: testProblem(), Directives: set, Completed: 3}); err == nil {
		t.Fatalf("completed count must match root visits")
	}
	if _, err := New(Config{DirectivePolicy: "fifo"}, Deps{Oracle: o, Problem: testProblem(), Directives: set}); err == nil {
		t.Fatalf("unknown directive policy must fail")
	}
}
