package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/exploration"
	"github.com/mohammad-safakhou/ideaforge/internal/report"
	"github.com/mohammad-safakhou/ideaforge/internal/search"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

func resumeCMD() *cobra.Command {
	var (
		outPath    string
		iterations int
		topK       int
		ranking    string
	)
	resume := &cobra.Command{
		Use:   "resume <snapshot.json>",
		Short: "Load a snapshot and continue searching until the budget completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, restored, err := snapshot.Load(args[0])
			if errors.Is(err, snapshot.ErrCorrupt) {
				return fmt.Errorf("refusing to resume %s: %w", args[0], err)
			}
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("iterations") {
				cfg.Search.Iterations = iterations
			}
			if cfg.Search.Iterations <= doc.Iterations {
				return fmt.Errorf("snapshot already has %d iterations; raise --iterations above that to continue",
					doc.Iterations)
			}
			if outPath == "" {
				outPath = args[0]
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := exploration.NewEngine(cfg)
			res, finalDoc, runErr := engine.Resume(ctx, doc, restored, outPath)
			if finalDoc == nil {
				// setup failed before the search started: nothing to report
				return runErr
			}

			tr, err := tree.Restore(finalDoc.Nodes)
			if err != nil {
				return err
			}
			r := report.NewRenderer(os.Stdout, true)
			r.TopIdeas(report.TopK(tr, topK, metric), metric)
			fmt.Printf("\n%d iterations (%d resumed), %d nodes, stop: %s\nsnapshot: %s\n",
				res.Iterations, doc.Iterations, res.TreeSize, res.StopReason, outPath)
			if runErr != nil && res.StopReason != search.StopCancelled {
				return runErr
			}
			return nil
		},
	}
	resume.Flags().StringVarP(&outPath, "snapshot", "s", "", "snapshot output path (default overwrites the input)")
	resume.Flags().IntVarP(&iterations, "iterations", "n", 0, "total iteration budget including restored iterations")
	resume.Flags().IntVarP(&topK, "top", "k", 0, "how many ideas to report")
	resume.Flags().StringVar(&ranking, "ranking", "", "ranking metric: aggregate or mean_value")
	return resume
}
