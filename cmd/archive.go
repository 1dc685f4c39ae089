package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/index"
	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/store"
)

func archiveCMD() *cobra.Command {
	archive := &cobra.Command{
		Use:   "archive <snapshot.json>",
		Short: "Persist a finished run into Postgres and index its ideas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			doc, _, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := store.New(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			runID, err := st.ArchiveSnapshot(ctx, "", doc, "archived")
			if err != nil {
				return err
			}
			idx, err := index.Open(cfg.Index.Path)
			if err != nil {
				return err
			}
			defer idx.Close()
			if err := idx.IndexIdeas(index.FromNodes(runID, doc.Nodes)); err != nil {
				return err
			}
			fmt.Printf("archived run %s (%d iterations, %d nodes)\n", runID, doc.Iterations, len(doc.Nodes))
			return nil
		},
	}
	return archive
}
