package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running cadbridge server",
		Long:  "Sends SIGTERM to the server recorded in the PID file and waits for it\nto exit. A stale PID file is removed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runStop(cmd.OutOrStdout(), cfg.Server.PIDFile, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for the server to exit")
	return cmd
}

func runStop(w io.Writer, pidPath string, wait time.Duration) error {
	state, pid, err := serverState(pidPath)
	if err != nil {
		return err
	}

	switch state {
	case StateStopped:
		fmt.Fprintln(w, "server is not running")
		return nil
	case StateStale:
		fmt.Fprintln(w, "removing stale PID file (process already dead)")
		return removePIDFile(pidPath)
	}

	fmt.Fprintf(w, "sending SIGTERM to server (PID %d)\n", pid)
	if _, err := stopServer(pidPath); err != nil {
		return err
	}
	if !waitForExit(pid, wait) {
		return fmt.Errorf("server (PID %d) did not exit within %s", pid, wait)
	}
	fmt.Fprintln(w, "server stopped")
	return nil
}
