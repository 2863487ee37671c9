// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bhassurance/assurbot/internal/identity"
)

// Run starts the full screen interface and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, deps Deps) error {
	p := tea.NewProgram(
		New(ctx, deps),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	// Sign ins from the CLI, the file watcher or a rejected token reach the
	// model through the program.
	unsubscribe := deps.Identity.Subscribe(func(snap identity.Snapshot) {
		p.Send(identityMsg{snap: snap})
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run interface: %w", err)
	}
	return nil
}
