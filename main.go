// assurbot - BH Assurance assistant for the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/cli"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/ui/app"
	"github.com/bhassurance/assurbot/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, runTUI, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// runTUI wires the opened application into the full screen interface.
func runTUI(ctx context.Context, a *cli.App) error {
	if a.Config.Identity.Watch {
		if err := a.Identity.Watch(ctx); err != nil && !errors.Is(err, identity.ErrNotWatchable) {
			a.Logger.Warn("credential watcher disabled", zap.Error(err))
		}
	}

	ctrl := a.NewQuoteController()
	defer ctrl.Close()

	return app.Run(ctx, app.Deps{
		Identity:     a.Identity,
		Assistant:    a.NewAssistant(),
		Quote:        ctrl,
		History:      a.Devis,
		Theme:        styles.NewThemeFor(a.Config.UI.Theme),
		Logger:       a.Logger,
		Version:      Version,
		HistoryLimit: 10,
	})
}
