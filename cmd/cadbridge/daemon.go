package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ServerState is the lifecycle state recorded by the PID file.
type ServerState string

const (
	// StateRunning means the PID file exists and the process is alive.
	StateRunning ServerState = "running"
	// StateStopped means no PID file exists.
	StateStopped ServerState = "stopped"
	// StateStale means the PID file exists but the process is gone.
	StateStale ServerState = "stale"
)

// writePIDFile records pid at path, creating the parent directory.
func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create PID dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write PID file %s: %w", path, err)
	}
	return nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // PID file path comes from config
	if err != nil {
		return 0, fmt.Errorf("read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID from %s: %w", path, err)
	}
	return pid, nil
}

// removePIDFile is idempotent.
func removePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file %s: %w", path, err)
	}
	return nil
}

// isProcessAlive sends signal 0, which checks existence without signaling.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// serverState reads the PID file and checks process liveness.
// The returned pid is 0 when stopped.
func serverState(pidPath string) (state ServerState, pid int, err error) {
	pid, err = readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateStopped, 0, nil
		}
		return StateStopped, 0, fmt.Errorf("server state: %w", err)
	}
	if isProcessAlive(pid) {
		return StateRunning, pid, nil
	}
	return StateStale, pid, nil
}

// stopServer sends SIGTERM to the recorded process.
func stopServer(pidPath string) (int, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0, fmt.Errorf("stop server: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("send SIGTERM to PID %d: %w", pid, err)
	}
	return pid, nil
}

// waitForExit polls until pid is gone or timeout elapses.
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !isProcessAlive(pid)
}

// withSignals returns a context cancelled on SIGTERM or SIGINT. The cleanup
// func stops signal delivery and removes the PID file; callers defer it.
func withSignals(parent context.Context, pidPath string) (context.Context, func()) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	return ctx, func() {
		stop()
		if pidPath != "" {
			_ = removePIDFile(pidPath)
		}
	}
}
