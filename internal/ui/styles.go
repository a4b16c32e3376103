// Package ui renders plans, research progress, and agent output for the
// terminal.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	cyan    = lipgloss.Color("14")
	green   = lipgloss.Color("10")
	yellow  = lipgloss.Color("11")
	red     = lipgloss.Color("9")
	magenta = lipgloss.Color("13")

	Dim    = lipgloss.NewStyle().Faint(true)
	Bold   = lipgloss.NewStyle().Bold(true)
	Good   = lipgloss.NewStyle().Foreground(green)
	Warn   = lipgloss.NewStyle().Foreground(yellow)
	Bad    = lipgloss.NewStyle().Foreground(red)
	Accent = lipgloss.NewStyle().Foreground(magenta).Bold(true)

	claudeBadge = lipgloss.NewStyle().Foreground(cyan).Bold(true)
	codexBadge  = lipgloss.NewStyle().Foreground(green).Bold(true)

	headerBox = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(magenta).
			Padding(0, 2)

	planBox = lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(cyan).
		Padding(0, 2)
)

// IsTerminal reports whether stdout is attached to a terminal; plain runs
// (pipes, CI) skip spinners and markdown styling.
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// AgentBadge renders a colored fixed-width agent label.
func AgentBadge(agent string) string {
	label := fmt.Sprintf(" %-6s ", strings.ToUpper(agent))
	switch agent {
	case "claude":
		return claudeBadge.Render(label)
	case "codex":
		return codexBadge.Render(label)
	}
	return Bold.Render(label)
}

func stepColor(name string) lipgloss.Style {
	switch name {
	case "yellow":
		return lipgloss.NewStyle().Foreground(yellow)
	case "green":
		return lipgloss.NewStyle().Foreground(green)
	default:
		return lipgloss.NewStyle().Foreground(cyan)
	}
}
