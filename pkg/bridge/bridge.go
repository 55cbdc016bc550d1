// Package bridge exposes the cadbridge server to MCP clients over stdio.
//
// The bridge holds no CAD logic. It advertises a tool catalog that depends on
// whether the server is reachable, forwards each call as one internal request,
// turns awaiting-selection responses into interactive prompts, and replays the
// original arguments when the client resumes one.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"cadbridge/pkg/protocol"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Caller sends one request to the cadbridge server.
type Caller interface {
	Call(ctx context.Context, tool string, args map[string]any) protocol.Response
}

// ProbeFunc reports whether the server currently accepts connections.
type ProbeFunc func(ctx context.Context) bool

// Config holds Bridge configuration.
type Config struct {
	Network string // "unix" or "tcp"; selects socket-file watching.
	Address string // Server endpoint, reported by check_connection.
	Version string
}

// Bridge is the MCP side of the transport.
type Bridge struct {
	cfg    Config
	caller Caller
	probe  ProbeFunc
	log    *zap.Logger
	mcp    *server.MCPServer

	mu   sync.Mutex
	live bool
}

// New builds the MCP server with the always-present tools. Live tools are
// added by Refresh once the server answers.
func New(cfg Config, caller Caller, probe ProbeFunc, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	b := &Bridge{
		cfg:    cfg,
		caller: caller,
		probe:  probe,
		log:    log.With(zap.String("component", "bridge")),
	}
	b.mcp = server.NewMCPServer(
		"cadbridge",
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	b.mcp.AddTool(checkConnectionTool(), b.handleCheckConnection)
	b.mcp.AddTool(testEchoTool(), b.handleTestEcho)
	return b
}

const instructions = `cadbridge drives a running CAD session.
Use part_operations, partdesign_operations and view_control with an "operation" argument.
When a result says an interactive selection is required, ask the user to select in the viewport,
then call continue_selection with the operation id.`

// MCPServer returns the underlying MCP server.
func (b *Bridge) MCPServer() *server.MCPServer {
	return b.mcp
}

// Live reports whether live tools are currently advertised.
func (b *Bridge) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Refresh probes the server and adds or removes the live tools to match.
// Clients are notified through tools/list_changed when the catalog changes.
func (b *Bridge) Refresh(ctx context.Context) bool {
	up := b.probe(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if up == b.live {
		return up
	}
	b.live = up
	if up {
		b.mcp.AddTools(b.liveTools()...)
		b.log.Info("server reachable, live tools advertised")
	} else {
		b.mcp.DeleteTools(liveToolNames()...)
		b.log.Info("server unreachable, live tools withdrawn")
	}
	return up
}

func (b *Bridge) liveTools() []server.ServerTool {
	forward := func(name string) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return b.forward(ctx, name, req.GetArguments()), nil
		}
	}
	return []server.ServerTool{
		{Tool: partOperationsTool(), Handler: forward(protocol.ToolPartOperations)},
		{Tool: partDesignOperationsTool(), Handler: forward(protocol.ToolPartDesignOperations)},
		{Tool: viewControlTool(), Handler: forward(protocol.ToolViewControl)},
		{Tool: executeCodeTool(), Handler: forward(protocol.ToolExecuteCode)},
		{Tool: continueSelectionTool(), Handler: b.handleContinueSelection},
		{Tool: agentTool(), Handler: forward(protocol.ToolAgent)},
	}
}

// Serve runs the MCP protocol on in/out until ctx ends or in closes, keeping
// the catalog in step with the server.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	b.Refresh(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Watch(gctx) })
	g.Go(func() error {
		defer cancel()
		stdio := server.NewStdioServer(b.mcp)
		stdio.SetErrorLogger(zap.NewStdLog(b.log))
		err := stdio.Listen(gctx, in, out)
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

func (b *Bridge) handleCheckConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	up := b.Refresh(ctx)
	status := "cadbridge server is running"
	if !up {
		status = "cadbridge server is not running. Start the CAD application with the cadbridge server enabled."
	}
	body, err := json.MarshalIndent(map[string]any{
		"server_available": up,
		"endpoint":         b.cfg.Address,
		"status":           status,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode connection status: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (b *Bridge) handleTestEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, _ := req.GetArguments()["message"].(string)
	if msg == "" {
		msg = "No message provided"
	}
	return mcp.NewToolResultText("Bridge received: " + msg), nil
}

func (b *Bridge) handleContinueSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["operation_id"].(string)
	if id == "" {
		return errorResult(protocol.Errorf(protocol.KindInvalidArgs,
			"operation_id is required to continue selection")), nil
	}
	args := map[string]any{"operation_id": id}
	resp := b.caller.Call(ctx, protocol.ToolContinueSelection, args)
	return b.result(ctx, protocol.ToolContinueSelection, args, resp), nil
}

// forward sends a live tool call to the server. A call carrying the
// interactive continuation marker replays the stored arguments instead.
func (b *Bridge) forward(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	if args == nil {
		args = map[string]any{}
	}
	tool := name
	if resume, _ := args[protocol.ArgContinueFromInteractive].(bool); resume {
		var err error
		tool, args, err = replay(name, args)
		if err != nil {
			return errorResult(err)
		}
	}
	b.log.Debug("forwarding tool call", zap.String("tool", tool))
	return b.result(ctx, tool, args, b.caller.Call(ctx, tool, args))
}

// replay rebuilds the original call of an interactive prompt, flagged so the
// server completes the parked operation.
func replay(name string, args map[string]any) (string, map[string]any, error) {
	id, _ := args["operation_id"].(string)
	if id == "" {
		return "", nil, protocol.Errorf(protocol.KindInvalidArgs,
			"operation_id is required to continue an interactive selection")
	}
	tool, _ := args[protocol.ArgToolName].(string)
	if tool == "" {
		tool = name
	}
	original, _ := args[protocol.ArgOriginalArgs].(map[string]any)
	merged := make(map[string]any, len(original)+2)
	for k, v := range original {
		merged[k] = v
	}
	merged[protocol.ArgContinueSelection] = true
	merged[protocol.ArgOperationID] = id
	return tool, merged, nil
}

// result converts an envelope to a tool result. Transport failures trigger a
// catalog refresh so a vanished server stops being advertised.
func (b *Bridge) result(ctx context.Context, tool string, args map[string]any, resp protocol.Response) *mcp.CallToolResult {
	switch {
	case resp.Err != nil:
		if resp.Err.Kind == protocol.KindTransport {
			b.Refresh(ctx)
		}
		return errorResult(resp.Err)
	case resp.Awaiting != nil:
		return interactiveResult(tool, args, *resp.Awaiting)
	}
	if s, ok := resp.Result.(string); ok {
		return mcp.NewToolResultText(s)
	}
	body, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return errorResult(protocol.Wrap(protocol.KindDownstream, err, "encode result"))
	}
	return mcp.NewToolResultText(string(body))
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", protocol.KindOf(err), err.Error()))
}

// Interactive is the machine-readable half of a selection prompt.
type Interactive struct {
	Interactive   bool                   `json:"interactive"`
	OperationID   string                 `json:"operation_id"`
	SelectionType protocol.SelectionKind `json:"selection_type"`
	ObjectName    string                 `json:"object_name"`
	ToolName      string                 `json:"tool_name"`
	OriginalArgs  map[string]any         `json:"original_args"`
}

func interactiveResult(tool string, args map[string]any, a protocol.Awaiting) *mcp.CallToolResult {
	original := make(map[string]any, len(args))
	for k, v := range args {
		if strings.HasPrefix(k, "_") {
			continue
		}
		original[k] = v
	}
	body, _ := json.MarshalIndent(Interactive{
		Interactive:   true,
		OperationID:   a.OperationID,
		SelectionType: a.SelectionType,
		ObjectName:    a.ObjectName,
		ToolName:      tool,
		OriginalArgs:  original,
	}, "", "  ")

	target := a.ObjectName
	if target == "" {
		target = "the model"
	}
	what := string(a.SelectionType)
	if what == "" {
		what = "elements"
	}
	text := fmt.Sprintf("Interactive selection required\n\n%s\n\n"+
		"1. In the CAD viewport, select %s on %s.\n"+
		"2. Then call continue_selection with operation_id %q.",
		a.Message, what, target, a.OperationID)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
			mcp.NewTextContent(string(body)),
		},
	}
}
