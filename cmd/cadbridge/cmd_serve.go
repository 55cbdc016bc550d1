package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"cadbridge/internal/config"
	"cadbridge/pkg/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the embedded command server in the foreground",
		Long: "Run the command server over the in-memory reference engine.\n" +
			"The server listens on the configured socket until SIGTERM or SIGINT.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Server.MetricsAddr = metricsAddr
			}

			state, pid, err := serverState(cfg.Server.PIDFile)
			if err != nil {
				return err
			}
			if state == StateRunning {
				return fmt.Errorf("cadbridge server already running (PID %d)", pid)
			}

			log, flush, err := newLogger(cfg, true)
			if err != nil {
				return err
			}
			defer flush()

			if err := writePIDFile(cfg.Server.PIDFile, os.Getpid()); err != nil {
				return err
			}
			ctx, cleanup := withSignals(cmd.Context(), cfg.Server.PIDFile)
			defer cleanup()

			return runServe(ctx, cmd.OutOrStdout(), cfg, log)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

// runServe builds the stack and serves until ctx is cancelled.
func runServe(ctx context.Context, w io.Writer, cfg config.Config, log *zap.Logger) error {
	st, err := buildStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(server.Config{
		Network:      cfg.Server.Network,
		Address:      cfg.Server.Endpoint,
		ReapInterval: cfg.Server.ReapInterval.Std(),
	}, st.dispatcher, st.selection, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, log) })
	}

	fmt.Fprintf(w, "cadbridge server listening on %s (%s)\n", cfg.Server.Endpoint, cfg.Server.Network)
	log.Info("server started",
		zap.String("network", cfg.Server.Network),
		zap.String("endpoint", cfg.Server.Endpoint),
		zap.Bool("journal", cfg.Journal.Enabled),
		zap.Bool("exec", cfg.Exec.Enabled))

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// serveMetrics exposes /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	log.Info("metrics listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
