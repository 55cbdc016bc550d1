package main

import (
	"fmt"
	"io"

	"cadbridge/internal/config"

	"github.com/spf13/cobra"
)

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved state file paths",
		Long:  "Prints every path cadbridge uses after CADBRIDGE_* environment overrides.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runPaths(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func runPaths(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "home:     %s\n", cfg.Home)
	fmt.Fprintf(w, "config:   %s\n", cfg.File)
	fmt.Fprintf(w, "endpoint: %s (%s)\n", cfg.Server.Endpoint, cfg.Server.Network)
	fmt.Fprintf(w, "pid:      %s\n", cfg.Server.PIDFile)
	fmt.Fprintf(w, "journal:  %s\n", cfg.Journal.Path)
	fmt.Fprintf(w, "log:      %s\n", cfg.Log.File)
}
