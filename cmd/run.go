package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/exploration"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
	"github.com/mohammad-safakhou/ideaforge/internal/report"
	"github.com/mohammad-safakhou/ideaforge/internal/search"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

func runCMD() *cobra.Command {
	var (
		snapshotPath string
		iterations   int
		workers      int
		topK         int
		ranking      string
		showTree     bool
	)
	run := &cobra.Command{
		Use:   "run <problem.yaml>",
		Short: "Start a fresh idea search and write successive snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := problem.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("iterations") {
				p.Search.Iterations = &iterations
			}
			if cmd.Flags().Changed("workers") {
				cfg.Search.Workers = workers
			}
			if ranking == "" {
				ranking = cfg.Search.Ranking
			}
			metric, err := report.ParseMetric(ranking)
			if err != nil {
				return err
			}
			if topK <= 0 {
				topK = cfg.Search.TopK
			}
			if snapshotPath == "" {
				snapshotPath = filepath.Join(cfg.General.SnapshotDir,
					fmt.Sprintf("ideaforge_%s.json", time.Now().Format("20060102_150405")))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := exploration.NewEngine(cfg)
			res, doc, runErr := engine.Run(ctx, p, snapshotPath, "")
			if doc == nil {
				// setup failed before the search started: nothing to report
				return runErr
			}

			tr, err := tree.Restore(doc.Nodes)
			if err != nil {
				return err
			}
			r := report.NewRenderer(os.Stdout, true)
			r.TopIdeas(report.TopK(tr, topK, metric), metric)
			if showTree {
				if err := r.Tree(tr); err != nil {
					return err
				}
			}
			fmt.Printf("\n%d iterations, %d nodes, stop: %s\nsnapshot: %s\n",
				res.Iterations, res.TreeSize, res.StopReason, snapshotPath)
			if runErr != nil && res.StopReason != search.StopCancelled {
				return runErr
			}
			return nil
		},
	}
	run.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot output path (default timestamped file in snapshot dir)")
	run.Flags().IntVarP(&iterations, "iterations", "n", 0, "iteration budget (overrides config and problem)")
	run.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent search pipelines")
	run.Flags().IntVarP(&topK, "top", "k", 0, "how many ideas to report")
	run.Flags().StringVar(&ranking, "ranking", "", "ranking metric: aggregate or mean_value")
	run.Flags().BoolVar(&showTree, "tree", false, "print the full idea tree at the end")
	return run
}
