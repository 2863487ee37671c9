// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling of the assurbot interface.

All colors are Lip Gloss AdaptiveColors, so one palette serves light and
dark terminals.

# Colors (colors.go)

	Navy    - BH Assurance blue: titles, active tab, user messages
	Teal    - Assistant replies and progress
	Gold    - Devis amounts
	Emerald - Success, signed-in indicator
	Amber   - Validation rejections and authentication prompts
	Rose    - Errors

StatusIndicators pair every state with a text marker so that states stay
distinguishable without color.

# Theme (theme.go)

	theme := styles.NewThemeFor(cfg.UI.Theme)
	theme.SetSize(width, height)
	if theme.GetLayoutMode() == styles.LayoutNarrow {
		// drop margins
	}

# Progress (progress.go)

RenderProgressBar draws a plain-text bar for line-mode output:

	styles.RenderProgressBar(20, 40) // "[########------------]"
*/
package styles
