// Package main implements cadbridge-dash, a terminal view of pending
// selections and recent journaled operations.
package main

import (
	"fmt"
	"os"

	"cadbridge/internal/config"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cadbridge-dash: %v\n", err)
		os.Exit(1)
	}
	p := tea.NewProgram(newModel(newSource(cfg)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
