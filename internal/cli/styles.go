// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for every kai command.
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/kai/internal/util"
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	// PromptStyle colours the REPL prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	// UserStyle and AssistantStyle label turns in transcripts.
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)
	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

// applyColorProfile switches lipgloss to the detected terminal profile.
func applyColorProfile() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SMALL RENDER HELPERS
// =============================================================================

// Separator returns a horizontal rule of width columns.
func Separator(width int) string {
	return DimStyle.Render(strings.Repeat("-", width))
}

// Row renders "label  value" with the label padded to width columns.
func Row(label string, width int, value string) string {
	return LabelStyle.Render(util.PadRight(label, width)) + "  " + ValueStyle.Render(value)
}

// Check renders a yes/no mark padded to width columns.
func Check(ok bool, width int) string {
	if ok {
		return SuccessStyle.Render(util.PadRight("yes", width))
	}
	return DimStyle.Render(util.PadRight("no", width))
}
