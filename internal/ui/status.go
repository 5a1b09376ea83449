package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
)

// StatusIndicator renders status indicators with color.
type StatusIndicator string

const (
	StatusSuccess StatusIndicator = "success"
	StatusError   StatusIndicator = "error"
	StatusWarning StatusIndicator = "warning"
	StatusInfo    StatusIndicator = "info"
	StatusPending StatusIndicator = "pending"
)

// PhaseStatus maps a run phase onto an indicator.
func PhaseStatus(p runstate.Phase) StatusIndicator {
	switch p {
	case runstate.PhaseComplete:
		return StatusSuccess
	case runstate.PhaseFailed:
		return StatusError
	case runstate.PhaseIdle:
		return StatusInfo
	default:
		return StatusPending
	}
}

// RenderStatus renders a status indicator. Without color it falls back to
// bracketed words so piped output stays greppable.
func RenderStatus(status StatusIndicator, noColor bool, useUnicode bool) string {
	if noColor {
		switch status {
		case StatusSuccess:
			return "[OK]"
		case StatusError:
			return "[ERR]"
		case StatusWarning:
			return "[WARN]"
		case StatusInfo:
			return "[INFO]"
		case StatusPending:
			return "[...]"
		default:
			return "[-]"
		}
	}

	type glyph struct{ unicode, ascii, color string }
	glyphs := map[StatusIndicator]glyph{
		StatusSuccess: {"✓", "+", "10"},
		StatusError:   {"✗", "X", "9"},
		StatusWarning: {"⚠", "!", "11"},
		StatusInfo:    {"ℹ", "i", "12"},
		StatusPending: {"⋯", ".", "8"},
	}
	g, ok := glyphs[status]
	if !ok {
		g = glyph{"•", "-", "15"}
	}
	symbol := g.ascii
	if useUnicode {
		symbol = g.unicode
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(g.color)).Bold(true).Render(symbol)
}
