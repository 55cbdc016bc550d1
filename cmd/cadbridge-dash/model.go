package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cadbridge/pkg/dispatcher"
	"cadbridge/pkg/protocol"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// refreshInterval is the polling period; socket events refresh sooner.
const refreshInterval = 2 * time.Second

type tickMsg time.Time

// snapshotMsg carries one completed fetch.
type snapshotMsg snapshot

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func fetchCmd(src dataSource) tea.Cmd {
	return func() tea.Msg { return snapshotMsg(src.Fetch(context.Background())) }
}

// Model is the Bubble Tea model for cadbridge-dash.
type Model struct {
	src     dataSource
	watcher *fsnotify.Watcher
	styles  Styles

	snap      snapshot
	fetched   bool
	updatedAt time.Time
	pending   table.Model
	recent    table.Model

	width int

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

func newModel(src dataSource) Model {
	return Model{
		src:     src,
		watcher: initWatcher(src.SocketDir()),
		styles:  DefaultStyles(),
		pending: table.New(
			table.WithColumns([]table.Column{
				{Title: "Operation", Width: 38},
				{Title: "Tool", Width: 16},
				{Title: "Select", Width: 8},
				{Title: "Object", Width: 14},
				{Title: "Expires", Width: 8},
			}),
			table.WithHeight(6),
		),
		recent: table.New(
			table.WithColumns([]table.Column{
				{Title: "Time", Width: 24},
				{Title: "Tool", Width: 34},
				{Title: "Outcome", Width: 14},
				{Title: "ms", Width: 6},
			}),
			table.WithFocused(true),
			table.WithHeight(recentLimit),
		),
		nowFunc: time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.src), tickCmd(), waitForChange(m.watcher))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.watcher != nil {
				_ = m.watcher.Close()
			}
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.src)
		}
		var cmd tea.Cmd
		m.recent, cmd = m.recent.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.apply(snapshot(msg))

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.src), tickCmd())

	case fsChangeMsg:
		return m, tea.Batch(fetchCmd(m.src), waitForChange(m.watcher))
	}
	return m, nil
}

func (m *Model) apply(s snapshot) {
	m.snap = s
	m.fetched = true
	m.updatedAt = m.nowFunc()
	m.pending.SetRows(pendingRows(s.pending))
	m.recent.SetRows(recentRows(s.recent))
}

func pendingRows(ops []dispatcher.PendingSelection) []table.Row {
	rows := make([]table.Row, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, table.Row{
			op.OperationID,
			op.Tool,
			string(op.SelectionType),
			op.ObjectName,
			fmt.Sprintf("%.0fs", op.ExpiresIn),
		})
	}
	return rows
}

func recentRows(ops []protocol.OperationRow) []table.Row {
	rows := make([]table.Row, 0, len(ops))
	for _, op := range ops {
		outcome := "ok"
		if !op.Success {
			outcome = string(op.ErrorKind)
		}
		rows = append(rows, table.Row{op.CreatedAt, op.Tool, outcome, fmt.Sprintf("%d", op.DurationMS)})
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Title.Render("cadbridge"))
	sb.WriteString("  ")
	switch {
	case !m.fetched:
		sb.WriteString(m.styles.Muted.Render("loading..."))
	case m.snap.online:
		sb.WriteString(m.styles.Online.Render("server online"))
	default:
		sb.WriteString(m.styles.Offline.Render("server offline"))
	}
	if m.fetched {
		sb.WriteString(m.styles.Muted.Render("  updated " + m.updatedAt.Format("15:04:05")))
	}
	sb.WriteString("\n")
	if m.snap.err != nil {
		sb.WriteString(m.styles.Error.Render("error: "+m.snap.err.Error()) + "\n")
	}

	sb.WriteString(m.styles.Section.Render(fmt.Sprintf("Pending selections (%d)", len(m.snap.pending))) + "\n")
	if len(m.snap.pending) == 0 {
		sb.WriteString(m.styles.Muted.Render("No operations waiting for a selection") + "\n")
	} else {
		sb.WriteString(m.pending.View() + "\n")
	}

	sb.WriteString(m.styles.Section.Render("Recent operations") + "\n")
	if len(m.snap.recent) == 0 {
		sb.WriteString(m.styles.Muted.Render("No operations recorded") + "\n")
	} else {
		sb.WriteString(m.recent.View() + "\n")
	}

	sb.WriteString(m.styles.Muted.Render("r refresh · q quit"))
	return sb.String()
}
