package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestPIDFileLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "nested", "cadbridge.pid")

	t.Run("write creates parent dir", func(t *testing.T) {
		if err := writePIDFile(pidFile, os.Getpid()); err != nil {
			t.Fatalf("writePIDFile: %v", err)
		}
		got, err := readPIDFile(pidFile)
		if err != nil {
			t.Fatalf("readPIDFile: %v", err)
		}
		if got != os.Getpid() {
			t.Errorf("readPIDFile = %d, want %d", got, os.Getpid())
		}
	})

	t.Run("running for this process", func(t *testing.T) {
		state, pid, err := serverState(pidFile)
		if err != nil {
			t.Fatalf("serverState: %v", err)
		}
		if state != StateRunning || pid != os.Getpid() {
			t.Errorf("serverState = %s/%d, want running/%d", state, pid, os.Getpid())
		}
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		if err := removePIDFile(pidFile); err != nil {
			t.Fatalf("first remove: %v", err)
		}
		if err := removePIDFile(pidFile); err != nil {
			t.Fatalf("second remove: %v", err)
		}
		state, pid, err := serverState(pidFile)
		if err != nil {
			t.Fatalf("serverState: %v", err)
		}
		if state != StateStopped || pid != 0 {
			t.Errorf("serverState = %s/%d, want stopped/0", state, pid)
		}
	})
}

func TestServerState_Stale(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "cadbridge.pid")
	// PIDs this large are not handed out on Linux (pid_max <= 4194304).
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(99999999)), 0o600); err != nil {
		t.Fatal(err)
	}

	state, _, err := serverState(pidFile)
	if err != nil {
		t.Fatalf("serverState: %v", err)
	}
	if state != StateStale {
		t.Errorf("serverState = %s, want stale", state)
	}
}

func TestServerState_Garbage(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "cadbridge.pid")
	if err := os.WriteFile(pidFile, []byte("notanumber"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := serverState(pidFile); err == nil {
		t.Fatal("expected error for non-numeric PID file")
	}
}

func TestRunStop(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		var out strings.Builder
		if err := runStop(&out, filepath.Join(t.TempDir(), "none.pid"), time.Second); err != nil {
			t.Fatalf("runStop: %v", err)
		}
		if !strings.Contains(out.String(), "not running") {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("stale PID file is removed", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "cadbridge.pid")
		if err := os.WriteFile(pidFile, []byte("99999999"), 0o600); err != nil {
			t.Fatal(err)
		}
		var out strings.Builder
		if err := runStop(&out, pidFile, time.Second); err != nil {
			t.Fatalf("runStop: %v", err)
		}
		if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
			t.Errorf("PID file still present: %v", err)
		}
	})
}
