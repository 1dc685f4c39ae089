package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/server"
)

func migrateCMD() *cobra.Command {
	var (
		dir       string
		direction string
		steps     int
	)
	mig := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				// Migrate falls back to DATABASE_URL / POSTGRES_* env vars.
				dsn = ""
			}
			return server.Migrate(dir, dsn, direction, steps)
		},
	}
	mig.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source directory")
	mig.Flags().StringVar(&direction, "direction", "up", "up or down")
	mig.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return mig
}
