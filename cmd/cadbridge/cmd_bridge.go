package main

import (
	"context"
	"errors"
	"io"
	"os"

	"cadbridge/internal/appversion"
	"cadbridge/internal/config"
	"cadbridge/pkg/bridge"
	"cadbridge/pkg/client"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBridgeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve MCP on stdin/stdout and forward calls to the server",
		Long: "Run the stdio MCP bridge. An MCP client launches this command; tools\n" +
			"are forwarded to the cadbridge server while it is reachable.\n" +
			"Logs go to the log file and stderr; stdout carries protocol frames only.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if isatty.IsTerminal(os.Stdin.Fd()) && !force {
				return errors.New("bridge speaks MCP on stdin; launch it from an MCP client or pass --force")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, flush, err := newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer flush()

			ctx, cleanup := withSignals(cmd.Context(), "")
			defer cleanup()
			return runBridge(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cfg, log)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even when stdin is a terminal")
	return cmd
}

func runBridge(ctx context.Context, in io.Reader, out io.Writer, cfg config.Config, log *zap.Logger) error {
	c := client.New(client.Config{Network: cfg.Server.Network, Address: cfg.Server.Endpoint}, log)
	defer func() { _ = c.Close() }()

	b := bridge.New(bridge.Config{
		Network: cfg.Server.Network,
		Address: cfg.Server.Endpoint,
		Version: appversion.String(),
	}, c, func(ctx context.Context) bool {
		return client.Probe(ctx, cfg.Server.Network, cfg.Server.Endpoint)
	}, log)

	log.Info("bridge started", zap.String("endpoint", cfg.Server.Endpoint))
	return b.Serve(ctx, in, out)
}
