// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		percent float64
		want    string
	}{
		{"empty", 10, 0, "[----------]"},
		{"half", 10, 50, "[#####-----]"},
		{"partial", 10, 55, "[#####:----]"},
		{"full", 4, 100, "[####]"},
		{"clamped high", 4, 250, "[####]"},
		{"clamped low", 4, -5, "[----]"},
		{"no width", 0, 50, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderProgressBar(tt.width, tt.percent))
		})
	}
}

func TestTheme_LayoutMode(t *testing.T) {
	theme := NewTheme()
	theme.SetSize(50, 20)
	assert.Equal(t, LayoutNarrow, theme.GetLayoutMode())
	theme.SetSize(80, 20)
	assert.Equal(t, LayoutMedium, theme.GetLayoutMode())
	theme.SetSize(120, 40)
	assert.Equal(t, LayoutWide, theme.GetLayoutMode())
}

func TestTheme_StylesRenderText(t *testing.T) {
	theme := NewThemeFor("dark")
	assert.True(t, theme.IsDark)
	for name, out := range map[string]string{
		"tab":       theme.TabActive.Render("Devis"),
		"user":      theme.UserBubble.Render("Bonjour"),
		"assistant": theme.AssistantBubble.Render("Bonjour"),
		"status":    theme.StatusBar.Render("prêt"),
	} {
		assert.NotEmpty(t, strings.TrimSpace(out), name)
	}
}

func TestStatusHelpersCarryIndicators(t *testing.T) {
	assert.Contains(t, RenderSuccess("ok"), StatusIndicators.Success)
	assert.Contains(t, RenderError("ko"), StatusIndicators.Error)
	assert.Contains(t, RenderWarning("attention"), StatusIndicators.Warning)
	assert.Contains(t, RenderInfo("note"), StatusIndicators.Info)
}
