package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cadbridge/internal/config"
	"cadbridge/pkg/client"
	"cadbridge/pkg/protocol"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Send one tool call to the server and print the response",
		Example: `  cadbridge call part_operations '{"operation":"box","length":20}'
  cadbridge call continue_selection '{"operation_id":"0192..."}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], raw)
		},
	}
}

// runCall prints the result, or the awaiting marker, to w. An error response
// becomes a non-zero exit.
func runCall(ctx context.Context, w io.Writer, cfg config.Config, tool, raw string) error {
	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Errorf("parse args: %w", err)
		}
	}

	c := client.New(client.Config{Network: cfg.Server.Network, Address: cfg.Server.Endpoint}, nil)
	defer func() { _ = c.Close() }()

	resp := c.Call(ctx, tool, args)
	return printResponse(w, resp)
}

func printResponse(w io.Writer, resp protocol.Response) error {
	switch {
	case resp.Err != nil:
		return &exitError{code: 2, err: fmt.Errorf("%s: %w", resp.Err.Kind, resp.Err)}
	case resp.Awaiting != nil:
		a := resp.Awaiting
		fmt.Fprintf(w, "awaiting selection: %s\n", a.Message)
		fmt.Fprintf(w, "operation_id: %s\n", a.OperationID)
		fmt.Fprintf(w, "continue with: cadbridge call %s '{\"operation_id\":%q}'\n", protocol.ToolContinueSelection, a.OperationID)
		return nil
	}
	if s, ok := resp.Result.(string); ok {
		fmt.Fprintln(w, s)
		return nil
	}
	body, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(w, string(body))
	return nil
}
