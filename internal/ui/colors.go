package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Colors names the terminal colors of each role. Light and dark variants are picked by [lipgloss.AdaptiveColor].
type Colors struct {
	Accent  lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Failure lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
}

var defaultColors = Colors{
	Accent:  lipgloss.AdaptiveColor{Light: "#5A3FC0", Dark: "#7D56F4"},
	Success: lipgloss.AdaptiveColor{Light: "#02875A", Dark: "#04B575"},
	Failure: lipgloss.AdaptiveColor{Light: "#C00000", Dark: "#FF4040"},
	Warning: lipgloss.AdaptiveColor{Light: "#B36B00", Dark: "#FFA500"},
	Muted:   lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#626262"},
}

var styles = NewPalette(defaultColors)

// Palette holds the rendered styles for the sync watcher.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	box   lipgloss.Style
}

func NewPalette(c Colors) *Palette {
	fg := func(color lipgloss.TerminalColor) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(color)
	}

	return &Palette{
		title: fg(c.Accent).Bold(true).MarginBottom(1),
		ok:    fg(c.Success).Bold(true),
		err:   fg(c.Failure).Bold(true),
		warn:  fg(c.Warning),
		help:  fg(c.Muted).Italic(true),
		box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(c.Accent).Padding(0, 1),
	}
}
