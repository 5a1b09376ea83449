// Package ui renders studio output for the terminal: result tables, run
// status, the grouped transcript and syntax-highlighted JSON/YAML.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles groups the text styles shared by the CLI and the TUI.
type Styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	SQL     lipgloss.Style
	Label   lipgloss.Style
}

// NewStyles returns plain styles when noColor is set.
func NewStyles(noColor bool) Styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return Styles{
			Title:   plain.Bold(true),
			Muted:   plain,
			Error:   plain,
			Success: plain,
			SQL:     plain,
			Label:   plain,
		}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		SQL:     lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}
