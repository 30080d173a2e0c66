// Package render formats sessions for the terminal: snapshots, verdicts,
// transcripts and branches as lipgloss tables.
package render

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	Primary     = lipgloss.Color("#101F38") // Dark Blue
	Accent      = lipgloss.Color("#8BC34A") // Lime Green
	Muted       = lipgloss.Color("#6b7280")
	Border      = lipgloss.Color("#2a3850")
	Destructive = lipgloss.Color("#e53935") // Red
	Warning     = lipgloss.Color("#FFC107") // Yellow
	Info        = lipgloss.Color("#2196F3") // Blue
)

// Styles holds the styled components, bound to one lipgloss renderer so
// that colour is dropped when the output is not a terminal.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Muted  lipgloss.Style
	Border lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
}

// NewStyles creates the styles for r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title: r.NewStyle().
			Foreground(Accent).
			Bold(true),

		Header: r.NewStyle().
			Bold(true).
			Padding(0, 1),

		Cell: r.NewStyle().
			Padding(0, 1),

		Muted: r.NewStyle().
			Foreground(Muted),

		Border: r.NewStyle().
			Foreground(Border),

		Success: r.NewStyle().
			Foreground(Accent).
			Bold(true),

		Error: r.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: r.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: r.NewStyle().
			Foreground(Info),
	}
}
