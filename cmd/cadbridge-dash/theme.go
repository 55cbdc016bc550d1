package main

import "github.com/charmbracelet/lipgloss"

// Styles are the dashboard's lipgloss styles.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Online  lipgloss.Style
	Offline lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the default dashboard palette.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).MarginTop(1),
		Online:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Offline: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}
