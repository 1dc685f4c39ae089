package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/report"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
)

func topCMD() *cobra.Command {
	var (
		topK     int
		ranking  string
		showTree bool
	)
	top := &cobra.Command{
		Use:   "top <snapshot.json>",
		Short: "Rank and print the best ideas from a snapshot without searching further",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, tr, err := snapshot.Load(args[0])
			if err != nil {
				return err
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
			r := report.NewRenderer(os.Stdout, true)
			r.TopIdeas(report.TopK(tr, topK, metric), metric)
			if showTree {
				return r.Tree(tr)
			}
			return nil
		},
	}
	top.Flags().IntVarP(&topK, "top", "k", 0, "how many ideas to print")
	top.Flags().StringVar(&ranking, "ranking", "", "ranking metric: aggregate or mean_value")
	top.Flags().BoolVar(&showTree, "tree", false, "print the full idea tree as well")
	return top
}
