// Package integration drives the whole chain end to end: MCP tool calls into
// the bridge, the internal socket protocol through a real server, the
// dispatcher over the reference engine and surface, and the sqlite journal.
package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cadbridge/pkg/agent"
	"cadbridge/pkg/bridge"
	"cadbridge/pkg/client"
	"cadbridge/pkg/dispatcher"
	"cadbridge/pkg/engine"
	"cadbridge/pkg/journal"
	"cadbridge/pkg/protocol"
	"cadbridge/pkg/selection"
	"cadbridge/pkg/server"
	"cadbridge/pkg/surface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type harness struct {
	surf    *surface.Memory
	bridge  *bridge.Bridge
	journal *journal.Store
	dbPath  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ui := surface.NewUIThread()
	t.Cleanup(ui.Close)
	surf := surface.NewMemory(ui)
	sel := selection.New(selection.Config{}, surf, nil)

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := journal.NewStore(db)
	require.NoError(t, store.Init(context.Background()))

	d := dispatcher.New(dispatcher.Config{Version: "test"}, dispatcher.Deps{
		Engine:    engine.NewMemory(),
		Surface:   surf,
		Selection: sel,
		Journal:   store,
	})
	d.SetAgent(agent.New(agent.Config{}, d, nil))

	sock := fmt.Sprintf("/tmp/cbe2e-%d-%d.sock", os.Getpid(), time.Now().UnixNano()%1e6)
	srv := server.New(server.Config{Network: "unix", Address: sock, ReapInterval: time.Second}, d, sel, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	require.Eventually(t, func() bool { return client.Probe(context.Background(), "unix", sock) },
		3*time.Second, 10*time.Millisecond)

	c := client.New(client.Config{Network: "unix", Address: sock}, nil)
	t.Cleanup(func() { _ = c.Close() })
	b := bridge.New(bridge.Config{Network: "unix", Address: sock, Version: "test"}, c,
		func(ctx context.Context) bool { return client.Probe(ctx, "unix", sock) }, nil)
	require.True(t, b.Refresh(context.Background()))

	return &harness{surf: surf, bridge: b, journal: store, dbPath: dbPath}
}

type toolResult struct {
	IsError bool `json:"isError"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// callTool sends a tools/call through the MCP server exactly as a client would.
func (h *harness) callTool(t *testing.T, name string, args map[string]any) toolResult {
	t.Helper()
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	msg := h.bridge.MCPServer().HandleMessage(context.Background(), req)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var out struct {
		Result toolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	require.NotEmpty(t, out.Result.Content, string(raw))
	return out.Result
}

func TestInteractiveFilletRoundTrip(t *testing.T) {
	h := newHarness(t)

	res := h.callTool(t, protocol.ToolPartOperations, map[string]any{"operation": "box", "length": 20})
	require.False(t, res.IsError, res.Content[0].Text)
	assert.Contains(t, res.Content[0].Text, "Created box: Box")

	args := map[string]any{"operation": "fillet", "object_name": "Box", "radius": 1}
	res = h.callTool(t, protocol.ToolPartDesignOperations, args)
	require.False(t, res.IsError, res.Content[0].Text)
	require.Len(t, res.Content, 2)
	assert.Contains(t, res.Content[0].Text, "Interactive selection required")

	var prompt bridge.Interactive
	require.NoError(t, json.Unmarshal([]byte(res.Content[1].Text), &prompt))
	require.True(t, prompt.Interactive)
	require.NotEmpty(t, prompt.OperationID)
	assert.Equal(t, protocol.SelectEdges, prompt.SelectionType)
	assert.Equal(t, protocol.ToolPartDesignOperations, prompt.ToolName)

	// The human selects two edges in the viewport.
	require.NoError(t, h.surf.Select(context.Background(),
		surface.Element{Object: "Box", SubElements: []string{"Edge1", "Edge3"}}))

	replay := map[string]any{
		protocol.ArgContinueFromInteractive: true,
		"operation_id":                      prompt.OperationID,
		protocol.ArgToolName:                prompt.ToolName,
		protocol.ArgOriginalArgs:            prompt.OriginalArgs,
	}
	res = h.callTool(t, protocol.ToolPartDesignOperations, replay)
	require.False(t, res.IsError, res.Content[0].Text)
	assert.Contains(t, res.Content[0].Text, "Created fillet")
	assert.Contains(t, res.Content[0].Text, "2 edges")

	// The id was consumed; a second completion must not run the fillet again.
	res = h.callTool(t, protocol.ToolContinueSelection, map[string]any{"operation_id": prompt.OperationID})
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(res.Content[0].Text, "not_found: "), res.Content[0].Text)

	res = h.callTool(t, protocol.ToolAgent, map[string]any{"request": "how many objects are there"})
	require.False(t, res.IsError, res.Content[0].Text)
	assert.Contains(t, res.Content[0].Text, "Document contains 2 objects")
}

func TestContinueSelection_EmptySelection(t *testing.T) {
	h := newHarness(t)

	h.callTool(t, protocol.ToolPartOperations, map[string]any{"operation": "box"})
	res := h.callTool(t, protocol.ToolPartDesignOperations,
		map[string]any{"operation": "chamfer", "object_name": "Box", "distance": 0.5})
	require.Len(t, res.Content, 2)
	var prompt bridge.Interactive
	require.NoError(t, json.Unmarshal([]byte(res.Content[1].Text), &prompt))

	res = h.callTool(t, protocol.ToolContinueSelection, map[string]any{"operation_id": prompt.OperationID})
	assert.True(t, res.IsError)
	assert.Equal(t, "precondition: No edges were selected", res.Content[0].Text)
}

func TestJournalRecordsBridgeTraffic(t *testing.T) {
	h := newHarness(t)

	for range 2 {
		h.callTool(t, protocol.ToolPartOperations, map[string]any{"operation": "box"})
		h.callTool(t, protocol.ToolPartOperations, map[string]any{"operation": "cylinder"})
		h.callTool(t, protocol.ToolViewControl, map[string]any{"operation": "fit_all"})
	}

	r, err := journal.NewReader(h.dbPath)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ops, err := r.Operations(context.Background(), journal.QueryOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, ops, 6)
	assert.Equal(t, "view_control/fit_all", ops[0].Tool)

	patterns, err := r.Patterns(context.Background(), 2)
	require.NoError(t, err)
	require.NotEmpty(t, patterns)
	assert.Equal(t, "part_operations/box->part_operations/cylinder->view_control/fit_all", patterns[0].Sequence)
}
