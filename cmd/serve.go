package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/internal/server"
)

func serveCMD() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API: launch runs, browse archives, search ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return server.Run(cfg)
		},
	}
	return serve
}
