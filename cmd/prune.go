package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
)

func pruneCMD() *cobra.Command {
	var (
		nodeID  string
		outPath string
	)
	prune := &cobra.Command{
		Use:   "prune <snapshot.json>",
		Short: "Detach a subtree from a snapshot and write the result",
		Long: `Prune removes the node and every descendant from the snapshot. It is an
offline maintenance operation: ancestor statistics keep the contributions the
pruned nodes backpropagated, and the run's iteration count is unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, tr, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}
			removed, err := tr.Prune(nodeID)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = args[0]
			}
			doc.Nodes = tr.Nodes()
			if err := snapshot.NewManager(outPath).Save(doc); err != nil {
				return err
			}
			fmt.Printf("pruned %d nodes, wrote %s\n", removed, outPath)
			return nil
		},
	}
	prune.Flags().StringVar(&nodeID, "node", "", "id of the subtree root to remove")
	prune.Flags().StringVarP(&outPath, "snapshot", "s", "", "output path (default overwrites the input)")
	_ = prune.MarkFlagRequired("node")
	return prune
}
