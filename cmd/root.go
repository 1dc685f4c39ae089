// Package cmd defines the ideaforge command surface: running and resuming
// searches, reporting on snapshots, and the archive/serve side.
package cmd

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ideaforge/config"
)

var (
	cfgPath string
	quiet   bool
)

// Execute runs the CLI.
func Execute() {
	root := &cobra.Command{
		Use:   "ideaforge",
		Short: "Explore solution ideas with Monte Carlo tree search over an LLM oracle",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet {
				log.SetOutput(io.Discard)
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config, .)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress logs")

	root.AddCommand(
		runCMD(), resumeCMD(), topCMD(), exportCMD(), pruneCMD(),
		archiveCMD(), searchCMD(), serveCMD(), migrateCMD(),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgPath)
}
