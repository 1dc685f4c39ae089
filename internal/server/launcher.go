package server

import (
	"context"
	"log"
	"path/filepath"

	"github.com/mohammad-safakhou/ideaforge/internal/exploration"
	"github.com/mohammad-safakhou/ideaforge/internal/index"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
)

// Launcher runs explorations in the background and archives the results.
// Both the on-demand endpoint and the scheduler fire through it.
type Launcher struct {
	Store       *store.Store
	Index       *index.Index
	Engine      *exploration.Engine
	SnapshotDir string
	Logger      *log.Logger
}

// Start records a running run row and launches the search in the background.
// It returns immediately with the run id.
func (l *Launcher) Start(p *problem.Problem) (string, error) {
	ctx := context.Background()
	runID, err := l.Store.CreateRun(ctx, p.Title, p.Statement)
	if err != nil {
		return "", err
	}
	go l.run(p, runID)
	return runID, nil
}

func (l *Launcher) run(p *problem.Problem, runID string) {
	ctx := context.Background()
	snapshotPath := filepath.Join(l.SnapshotDir, "run-"+runID+".json")

	res, doc, runErr := l.Engine.Run(ctx, p, snapshotPath, runID)
	if runErr != nil {
		msg := runErr.Error()
		if err := l.Store.FinishRun(ctx, runID, store.RunStatusFailed, string(res.StopReason), &msg); err != nil {
			l.Logger.Printf("run %s: recording failure: %v", runID, err)
		}
		l.Logger.Printf("run %s failed: %v", runID, runErr)
		return
	}
	if _, err := l.Store.ArchiveSnapshot(ctx, runID, doc, string(res.StopReason)); err != nil {
		l.Logger.Printf("run %s: archive failed: %v", runID, err)
		return
	}
	if err := l.Index.IndexIdeas(index.FromNodes(runID, doc.Nodes)); err != nil {
		l.Logger.Printf("run %s: indexing failed: %v", runID, err)
	}
	l.Logger.Printf("run %s archived: %d iterations, %d nodes, best %.3f",
		runID, res.Iterations, res.TreeSize, res.BestAggregate)
}
