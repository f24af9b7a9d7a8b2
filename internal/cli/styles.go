// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for REPL output.
//
// Color handling:
// - Colors are automatically disabled for non-TTY output (piped, redirected)
// - Respects NO_COLOR environment variable (https://no-color.org/)
// - Supports FORCE_COLOR environment variable to override detection

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// init configures the lipgloss color profile from terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

var (
	// promptStyle renders the input prompt
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	// bannerStyle renders the welcome banner title
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")). // Purple
			Bold(true)

	// headerStyle renders section headers (/sessions, /usage, /help)
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	// labelStyle renders field labels
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	// valueStyle renders values and command names
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // Green

	// dimStyle renders secondary information and hints
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray

	// warnStyle renders warnings and denials
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Amber

	// errorStyle renders errors
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// okStyle renders success confirmations
	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)
)

// renderSeparator renders a horizontal rule sized to the terminal, capped
// at a readable maximum.
func renderSeparator() string {
	width := GetTerminalWidth()
	if width > 4 {
		width -= 4
	}
	if width > 60 {
		width = 60
	}
	return dimStyle.Render(strings.Repeat("─", width))
}
