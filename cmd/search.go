package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/index"
)

func searchCMD() *cobra.Command {
	var k int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over archived ideas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			idx, err := index.Open(cfg.Index.Path)
			if err != nil {
				return err
			}
			defer idx.Close()

			hits, err := idx.Search(strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
				return nil
			}
			header := color.New(color.FgMagenta, color.Bold).FprintfFunc()
			dim := color.New(color.Faint).FprintfFunc()
			for _, h := range hits {
				header(os.Stdout, "%d. [%.3f] %s\n", h.Rank, h.Aggregate, h.Directive)
				fmt.Printf("   %s\n", h.Snippet)
				dim(os.Stdout, "   run=%s idea=%s\n", h.RunID, h.ID)
			}
			return nil
		},
	}
	search.Flags().IntVarP(&k, "limit", "k", 10, "maximum number of hits")
	return search
}
