// Package exploration wires a full search run together from the application
// config: oracle client, directive set, budget monitor, telemetry, and the
// search controller. The CLI and the serve-mode scheduler both drive runs
// through this engine instead of assembling the pieces themselves.
package exploration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/ideaforge/config"
	"github.com/mohammad-safakhou/ideaforge/internal/budget"
	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/observe"
	"github.com/mohammad-safakhou/ideaforge/internal/oracle"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/search"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// Engine launches searches configured by the application config.
type Engine struct {
	cfg       *config.Config
	telemetry *observe.Telemetry
	logger    *log.Logger
}

// NewEngine builds an engine. The oracle itself is constructed per run
// because its evaluation prompts are framed by the problem statement.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		cfg: cfg,
		telemetry: observe.NewTelemetry(observe.Config{
			Enabled:      cfg.Telemetry.Enabled,
			CostTracking: cfg.Telemetry.CostTracking,
			PeriodicLogs: cfg.Telemetry.PeriodicLogs,
		}),
		logger: log.New(log.Writer(), "[EXPLORE] ", log.LstdFlags),
	}
}

// Telemetry exposes the shared telemetry sink.
func (e *Engine) Telemetry() *observe.Telemetry { return e.telemetry }

// SearchConfig layers the problem's overrides onto the application defaults.
func (e *Engine) SearchConfig(p *problem.Problem) search.Config {
	s := e.cfg.Search
	cfg := search.Config{
		Iterations:       s.Iterations,
		ExplorationC:     s.ExplorationC,
		MaxChildren:      s.MaxChildren,
		MaxDepth:         s.MaxDepth,
		QualityThreshold: s.QualityThreshold,
		SnapshotEvery:    s.SnapshotEvery,
		Workers:          s.Workers,
		DirectivePolicy:  s.DirectivePolicy,
	}
	o := p.Search
	if o.Iterations != nil {
		cfg.Iterations = *o.Iterations
	}
	if o.ExplorationC != nil {
		cfg.ExplorationC = *o.ExplorationC
	}
	if o.MaxChildren != nil {
		cfg.MaxChildren = *o.MaxChildren
	}
	if o.MaxDepth != nil {
		cfg.MaxDepth = *o.MaxDepth
	}
	if o.QualityThreshold != nil {
		cfg.QualityThreshold = *o.QualityThreshold
	}
	if o.SnapshotEvery != nil {
		cfg.SnapshotEvery = *o.SnapshotEvery
	}
	return cfg
}

// Directives resolves the directive set for a problem: its custom YAML file
// when one is named, the built-in set otherwise.
func (e *Engine) Directives(p *problem.Problem) (*directive.Set, error) {
	if p.DirectivesFile != "" {
		return directive.LoadFile(p.DirectivesFile)
	}
	return directive.DefaultSet(), nil
}

// monitor builds a budget monitor from the configured ceilings, or nil when
// no ceiling is set.
func (e *Engine) monitor() (*budget.Monitor, error) {
	var cfg budget.Config
	if v := e.cfg.Budget.MaxCost; v > 0 {
		cfg.MaxCost = &v
	}
	if v := e.cfg.Budget.MaxTokens; v > 0 {
		cfg.MaxTokens = &v
	}
	if v := e.cfg.Budget.MaxTimeSeconds; v > 0 {
		cfg.MaxTimeSeconds = &v
	}
	if cfg.IsZero() {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return budget.NewMonitor(cfg), nil
}

// oracleFor builds the provider-backed oracle for a problem, feeding usage
// into telemetry and the budget monitor.
func (e *Engine) oracleFor(p *problem.Problem, mon *budget.Monitor) (oracle.Oracle, error) {
	oc := e.cfg.Oracle
	client, err := oracle.New(oracle.Config{
		Provider:              oc.Provider,
		APIKey:                oc.APIKey,
		BaseURL:               oc.BaseURL,
		GenerationModel:       oc.GenerationModel,
		EvaluationModel:       oc.EvaluationModel,
		Timeout:               oc.Timeout,
		GenerationRetries:     oc.GenerationRetries,
		EvaluationRetries:     oc.EvaluationRetries,
		RetryDelay:            oc.RetryDelay,
		RequestsPerMinute:     oc.RequestsPerMinute,
		GenerationMaxTokens:   oc.GenerationMaxTokens,
		EvaluationMaxTokens:   oc.EvaluationMaxTokens,
		GenerationTemperature: float32(oc.GenerationTemperature),
		EvaluationTemperature: float32(oc.EvaluationTemperature),
	},
		oracle.WithFraming(p.Statement, p.ConstraintsText()),
		oracle.WithUsageFunc(func(kind string, u oracle.Usage) {
			e.telemetry.RecordOracleCall(kind, u.Model, u.PromptTokens, u.CompletionTokens, u.Cost, true)
			if mon != nil {
				// usage is still recorded past a ceiling; the controller
				// polls Exceeded() between iterations and stops there
				_ = mon.Add(u.Cost, int64(u.PromptTokens+u.CompletionTokens))
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run starts a fresh search for the problem and writes successive snapshots
// to snapshotPath. Returns the search result and the final document.
func (e *Engine) Run(ctx context.Context, p *problem.Problem, snapshotPath, runID string) (search.Result, *snapshot.Document, error) {
	dirs, err := e.Directives(p)
	if err != nil {
		return search.Result{}, nil, fmt.Errorf("directives: %w", err)
	}
	return e.launch(ctx, p, dirs, nil, 0, snapshotPath, runID)
}

// Resume continues a loaded snapshot with the directive set it was captured
// with. The iteration budget still counts from zero, so a snapshot at 5 of 10
// runs 5 more iterations.
func (e *Engine) Resume(ctx context.Context, doc *snapshot.Document, tr *tree.Tree, snapshotPath string) (search.Result, *snapshot.Document, error) {
	dirs, err := doc.DirectiveSet()
	if err != nil {
		return search.Result{}, nil, fmt.Errorf("directives: %w", err)
	}
	return e.launch(ctx, doc.Problem(), dirs, tr, doc.Iterations, snapshotPath, doc.RunID)
}

func (e *Engine) launch(ctx context.Context, p *problem.Problem, dirs *directive.Set, tr *tree.Tree, completed int, snapshotPath, runID string) (search.Result, *snapshot.Document, error) {
	mon, err := e.monitor()
	if err != nil {
		return search.Result{}, nil, fmt.Errorf("budget: %w", err)
	}
	orc, err := e.oracleFor(p, mon)
	if err != nil {
		return search.Result{}, nil, fmt.Errorf("oracle: %w", err)
	}
	var mgr *snapshot.Manager
	if snapshotPath != "" {
		mgr = snapshot.NewManager(snapshotPath)
	}

	ctrl, err := search.New(e.SearchConfig(p), search.Deps{
		Tree:        tr,
		Oracle:      orc,
		Problem:     p,
		Directives:  dirs,
		Checkpoints: mgr,
		Monitor:     mon,
		Telemetry:   e.telemetry,
		RunID:       runID,
		Completed:   completed,
	})
	if err != nil {
		return search.Result{}, nil, err
	}

	res, runErr := ctrl.Run(ctx)
	doc := snapshot.Capture(ctrl.RunID(), p, dirs, ctrl.Tree(), res.Iterations)
	if mon != nil {
		cost, tokens, elapsed := mon.Usage()
		e.logger.Printf("run %s used $%.4f, %d tokens, %s", ctrl.RunID(), cost, tokens, elapsed.Truncate(time.Millisecond))
	}
	return res, doc, runErr
}
