package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cadbridge/internal/config"
	"cadbridge/pkg/client"
	"cadbridge/pkg/dispatcher"
	"cadbridge/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server process state and session summary",
		Long:  "Displays the PID file state, endpoint reachability and the\nserver_status report (document, pending selections, enabled features).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			color := false
			if f, ok := cmd.OutOrStdout().(*os.File); ok {
				color = isatty.IsTerminal(f.Fd())
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), cfg, color)
		},
	}
}

type statusStyles struct {
	label, good, bad lipgloss.Style
}

func newStatusStyles(color bool) statusStyles {
	if !color {
		return statusStyles{label: lipgloss.NewStyle(), good: lipgloss.NewStyle(), bad: lipgloss.NewStyle()}
	}
	return statusStyles{
		label: lipgloss.NewStyle().Bold(true),
		good:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// runStatus writes a status report to w. It never fails because the server
// is down; that is part of the report.
func runStatus(ctx context.Context, w io.Writer, cfg config.Config, color bool) error {
	st := newStatusStyles(color)
	line := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", st.label.Render(fmt.Sprintf("%-20s", label+":")), value)
	}

	state, pid, err := serverState(cfg.Server.PIDFile)
	if err != nil {
		return err
	}
	switch state {
	case StateRunning:
		line("process", st.good.Render(fmt.Sprintf("running (PID %d)", pid)))
	case StateStale:
		line("process", st.bad.Render(fmt.Sprintf("stale PID file (PID %d not running)", pid)))
	default:
		line("process", "stopped")
	}
	line("endpoint", fmt.Sprintf("%s (%s)", cfg.Server.Endpoint, cfg.Server.Network))

	if !client.Probe(ctx, cfg.Server.Network, cfg.Server.Endpoint) {
		line("reachable", st.bad.Render("no"))
		return nil
	}
	line("reachable", st.good.Render("yes"))

	c := client.New(client.Config{Network: cfg.Server.Network, Address: cfg.Server.Endpoint}, nil)
	defer func() { _ = c.Close() }()
	resp := c.Call(ctx, protocol.ToolServerStatus, nil)
	if resp.Err != nil {
		line("status", st.bad.Render(resp.Err.Error()))
		return nil
	}
	var s dispatcher.Status
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	doc := s.ActiveDocument
	if doc == "" {
		doc = "(none)"
	}
	line("version", s.Version)
	line("uptime", fmt.Sprintf("%.0fs", s.UptimeSeconds))
	line("document", fmt.Sprintf("%s, %d objects", doc, s.Objects))
	line("pending selections", fmt.Sprintf("%d", s.PendingSelections))
	line("features", features(s))
	return nil
}

func features(s dispatcher.Status) string {
	var on []string
	for _, f := range []struct {
		name string
		on   bool
	}{{"journal", s.Journal}, {"agent", s.Agent}, {"code execution", s.CodeExecution}} {
		if f.on {
			on = append(on, f.name)
		}
	}
	if len(on) == 0 {
		return "(none)"
	}
	return strings.Join(on, ", ")
}
