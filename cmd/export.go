package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/report"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
)

func exportCMD() *cobra.Command {
	var (
		htmlPath string
		topK     int
		ranking  string
	)
	export := &cobra.Command{
		Use:   "export <snapshot.json>",
		Short: "Write a self-contained HTML report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, tr, err := snapshot.Load(args[0])
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
			if htmlPath == "" {
				htmlPath = strings.TrimSuffix(args[0], ".json") + ".html"
			}
			f, err := os.Create(htmlPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := report.WriteHTML(f, doc, tr, topK, metric); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", htmlPath)
			return nil
		},
	}
	export.Flags().StringVar(&htmlPath, "html", "", "output path (default snapshot name with .html)")
	export.Flags().IntVarP(&topK, "top", "k", 0, "how many ideas to feature")
	export.Flags().StringVar(&ranking, "ranking", "", "ranking metric: aggregate or mean_value")
	return export
}
