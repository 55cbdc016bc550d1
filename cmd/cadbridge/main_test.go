package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cadbridge/internal/config"
	"cadbridge/pkg/client"
	"cadbridge/pkg/protocol"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"serve", "bridge", "call", "status", "stop", "history", "paths"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
}

func TestRootCmd_Version(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "cadbridge ") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(errors.New("plain")); got != 1 {
		t.Errorf("plain error exit = %d, want 1", got)
	}
	wrapped := fmt.Errorf("outer: %w", &exitError{code: 2, err: errors.New("inner")})
	if got := exitCode(wrapped); got != 2 {
		t.Errorf("exitError exit = %d, want 2", got)
	}
}

// testConfig returns a config rooted in a temp dir with a short socket path.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Server.Network = "unix"
	cfg.Server.Endpoint = fmt.Sprintf("/tmp/cbcmd-%d-%d.sock", os.Getpid(), time.Now().UnixNano()%1e6)
	cfg.Log.File = ""
	t.Cleanup(func() { _ = os.Remove(cfg.Server.Endpoint) })
	return cfg
}

// startServe runs runServe in the background until the test ends.
func startServe(t *testing.T, cfg config.Config) {
	t.Helper()
	log, flush, err := newLogger(cfg, false)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, &bytes.Buffer{}, cfg, log) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runServe: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("runServe did not stop")
		}
		flush()
	})

	deadline := time.Now().Add(3 * time.Second)
	for !client.Probe(context.Background(), cfg.Server.Network, cfg.Server.Endpoint) {
		if time.Now().After(deadline) {
			t.Fatal("server did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeCallHistory(t *testing.T) {
	cfg := testConfig(t)
	startServe(t, cfg)
	ctx := context.Background()

	var out bytes.Buffer
	err := runCall(ctx, &out, cfg, protocol.ToolPartOperations, `{"operation":"box","length":20}`)
	if err != nil {
		t.Fatalf("call box: %v", err)
	}
	if !strings.Contains(out.String(), "Created box: Box (20x10x10mm)") {
		t.Errorf("call output = %q", out.String())
	}

	out.Reset()
	err = runCall(ctx, &out, cfg, protocol.ToolPartDesignOperations, `{"operation":"fillet","object_name":"Box","radius":1}`)
	if err != nil {
		t.Fatalf("call fillet: %v", err)
	}
	if !strings.Contains(out.String(), "awaiting selection") || !strings.Contains(out.String(), "operation_id: ") {
		t.Errorf("fillet output = %q", out.String())
	}

	out.Reset()
	err = runCall(ctx, &out, cfg, "no_such_tool", "")
	if exitCode(err) != 2 || !strings.Contains(err.Error(), "routing: unknown tool: no_such_tool") {
		t.Errorf("unknown tool err = %v", err)
	}

	out.Reset()
	if err := runHistory(ctx, &out, cfg.Journal.Path, historyOpts{limit: 10}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "part_operations/box") {
		t.Errorf("history output = %q", out.String())
	}
}

func TestRunCall_BadArgs(t *testing.T) {
	cfg := testConfig(t)
	err := runCall(context.Background(), &bytes.Buffer{}, cfg, protocol.ToolServerStatus, "{not json")
	if err == nil || !strings.Contains(err.Error(), "parse args") {
		t.Errorf("err = %v, want parse args error", err)
	}
}

func TestRunCall_ServerDown(t *testing.T) {
	cfg := testConfig(t)
	err := runCall(context.Background(), &bytes.Buffer{}, cfg, protocol.ToolServerStatus, "")
	if exitCode(err) != 2 || !strings.Contains(err.Error(), "transport: ") {
		t.Errorf("err = %v, want transport exit error", err)
	}
}

func TestRunStatus(t *testing.T) {
	cfg := testConfig(t)

	var out bytes.Buffer
	if err := runStatus(context.Background(), &out, cfg, false); err != nil {
		t.Fatalf("status (down): %v", err)
	}
	if !strings.Contains(out.String(), "stopped") || !strings.Contains(out.String(), "no") {
		t.Errorf("down status = %q", out.String())
	}

	startServe(t, cfg)
	out.Reset()
	if err := runStatus(context.Background(), &out, cfg, false); err != nil {
		t.Fatalf("status (up): %v", err)
	}
	for _, want := range []string{"yes", "pending selections:", "journal, agent"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("up status missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunHistory_MissingJournal(t *testing.T) {
	err := runHistory(context.Background(), &bytes.Buffer{}, filepath.Join(t.TempDir(), "none.db"), historyOpts{})
	if err == nil || !strings.Contains(err.Error(), "journal not found") {
		t.Errorf("err = %v", err)
	}
}

func TestRunPaths(t *testing.T) {
	cfg := config.Default("/x/.cadbridge")
	var out bytes.Buffer
	runPaths(&out, cfg)
	for _, want := range []string{"/x/.cadbridge/config.toml", "/x/.cadbridge/journal.db", "/x/.cadbridge/cadbridge.pid"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("paths output missing %q:\n%s", want, out.String())
		}
	}
}
