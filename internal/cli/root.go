// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// TUIFunc runs the full-screen interface. It is supplied by main so that
// line-mode commands do not depend on the TUI packages.
type TUIFunc func(ctx context.Context, a *App) error

// root carries the global flags and the lazily opened App.
type root struct {
	opts   Options
	runTUI TUIFunc
	app    *App
}

// open builds the App on first use.
func (r *root) open(cmd *cobra.Command) (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	a, err := OpenApp(cmd.Context(), r.opts)
	if err != nil {
		return nil, err
	}
	r.app = a
	return a, nil
}

func (r *root) close() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

// NewRootCommand builds the assurbot command tree. Callers must run it with
// Execute so the App is released.
func NewRootCommand(runTUI TUIFunc) (*cobra.Command, func() error) {
	r := &root{runTUI: runTUI}

	cmd := &cobra.Command{
		Use:   "assurbot",
		Short: "Assistant BH Assurance : questions, devis et compte client",
		Long: `assurbot est l'assistant BH Assurance en terminal.

Sans sous-commande, l'interface plein écran s'ouvre avec trois onglets :
Assistant, Devis et Compte. Les sous-commandes offrent les mêmes services
en mode ligne, utilisables dans des scripts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.runTUI == nil {
				return cmd.Help()
			}
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			return r.runTUI(cmd.Context(), a)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&r.opts.ConfigPath, "config", "", "config file (default ~/.assurbot/config.toml)")
	pf.StringVar(&r.opts.APIURL, "api-url", "", "backend base URL (overrides api.base_url)")
	pf.BoolVarP(&r.opts.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&r.opts.LogStderr, "log-stderr", false, "write logs to stderr instead of the log file")

	cmd.AddCommand(
		newLoginCommand(r),
		newRegisterCommand(r),
		newLogoutCommand(r),
		newWhoamiCommand(r),
		newProfileCommand(r),
		newPasswdCommand(r),
		newPasswordResetCommand(r),
		newSessionsCommand(r),
		newAskCommand(r),
		newChatCommand(r),
		newDevisCommand(r),
		newHistoryCommand(r),
		newConfigCommand(r),
		newVersionCommand(),
	)
	return cmd, r.close
}

// Execute runs the command tree with args and returns the exit code.
// Errors are printed to stderr once.
func Execute(ctx context.Context, runTUI TUIFunc, args []string, stdout, stderr io.Writer) int {
	cmd, closeApp := NewRootCommand(runTUI)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := closeApp(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(stderr, ErrorStyle.Render("Erreur :")+" "+Describe(err))
		return ExitCode(err)
	}
	return ExitSuccess
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Affiche la version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "assurbot %s\n", Version)
			fmt.Fprintf(out, "  commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  built:  %s\n", BuildDate)
			fmt.Fprintf(out, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

// logCommand records which command ran.
func logCommand(a *App, cmd *cobra.Command) {
	a.Logger.Debug("command", zap.String("name", cmd.CommandPath()))
}
