package main

import (
	"errors"
	"fmt"

	"cadbridge/internal/appversion"
	"cadbridge/internal/config"
	"cadbridge/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRootCmd creates the root cadbridge command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cadbridge",
		Short: "Bridge between MCP clients and a running CAD session",
		Long: "cadbridge runs the in-process command server, the stdio MCP bridge,\n" +
			"and a handful of tools for inspecting both.",
		Version:       fmt.Sprintf("cadbridge %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newBridgeCmd(),
		newCallCmd(),
		newStatusCmd(),
		newStopCmd(),
		newHistoryCmd(),
		newPathsCmd(),
	)

	return cmd
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// loadConfig reads config.toml plus environment overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg. console adds a stderr core.
func newLogger(cfg config.Config, console bool) (*zap.Logger, func(), error) {
	return logging.New(logging.Options{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    console,
	})
}
