// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// Renderer turns assistant replies into terminal output. A nil renderer or
// one built for plain output returns text unchanged.
type Renderer struct {
	md *glamour.TermRenderer
}

// NewRenderer picks a glamour style from the terminal background. With
// colours disabled replies are printed verbatim.
func NewRenderer(colors bool, width int) *Renderer {
	if !colors {
		return &Renderer{}
	}
	style := styles.DarkStyle
	if !HasDarkBackground() {
		style = styles.LightStyle
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return &Renderer{}
	}
	return &Renderer{md: md}
}

// Render returns the rendered form of content, or content itself when
// rendering fails.
func (r *Renderer) Render(content string) string {
	if r == nil || r.md == nil {
		return ensureNewline(content)
	}
	out, err := r.md.Render(content)
	if err != nil {
		return ensureNewline(content)
	}
	return out
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
