// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/ui/styles"
)

const devisHelp = `Répondez à chaque question puis validez avec Entrée.
Commandes :
  /progress  où en est le devis
  /login     se connecter (reprend le devis si la connexion était requise)
  /reset     recommencer depuis le début
  /quit      quitter`

func newDevisCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:     "devis",
		Aliases: []string{"quote"},
		Short:   "Obtenir un devis pas à pas (vie, auto, santé, habitation)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)

			in := newLineReader(cmd.InOrStdin(), cmd.OutOrStdout(), "devis_history")
			defer in.Close()
			return runDevis(cmd, a, in)
		},
	}
}

// runDevis drives a quote controller from a line reader.
func runDevis(cmd *cobra.Command, a *App, in LineReader) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	ctrl := a.NewQuoteController()
	defer ctrl.Close()

	fmt.Fprintln(out, TitleStyle.Render("Devis BH Assurance"))
	fmt.Fprintln(out, DimStyle.Render("Tapez /help pour l'aide."))
	a.Identity.Refresh(ctx)
	showStep(out, ctrl.Start(ctx))

	for {
		line, err := in.ReadLine("› ")
		if errors.Is(err, io.EOF) || errors.Is(err, ErrAborted) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		state := ctrl.Snapshot().State

		switch strings.ToLower(line) {
		case "/quit", "/exit", "/q":
			return nil
		case "/help", "/?":
			fmt.Fprintln(out, devisHelp)
			continue
		case "/progress":
			fmt.Fprintln(out, renderProgress(ctrl.Progress()))
			continue
		case "/reset":
			showStep(out, ctrl.Reset(ctx))
			continue
		case "/login":
			if err := signIn(cmd, a, in.ReadLine, in.ReadPassword, "", ""); err != nil {
				fmt.Fprintln(out, ErrorStyle.Render(Describe(err)))
				continue
			}
			if state == quote.StateAuthInterrupted {
				showStep(out, ctrl.Resume(ctx))
			}
			continue
		}

		switch state {
		case quote.StateIdle:
			// The first question never arrived; any input retries.
			showStep(out, ctrl.Start(ctx))
		case quote.StateAwaitingAnswer:
			if line == "" {
				continue
			}
			showStep(out, ctrl.Answer(ctx, line))
		case quote.StateAuthInterrupted:
			fmt.Fprintln(out, WarningStyle.Render("Connectez-vous avec /login pour obtenir votre devis."))
		case quote.StateComplete:
			fmt.Fprintln(out, DimStyle.Render(quote.TextClosed))
		}
	}
}

// showStep prints what a controller step means for the user.
func showStep(out io.Writer, step quote.Step) {
	if step.Notice != nil {
		fmt.Fprintln(out, RenderNotice(step.Notice))
	}
	snap := step.Snapshot
	switch snap.State {
	case quote.StateAwaitingAnswer:
		fmt.Fprintln(out, progressPrefix(snap.Progress)+PromptStyle.Render(snap.Question))
	case quote.StateAuthInterrupted:
		if step.Notice == nil || step.Notice.Kind != quote.NoticeAuth {
			fmt.Fprintln(out, WarningStyle.Render("Connexion requise pour obtenir le devis."))
		}
		fmt.Fprintln(out, DimStyle.Render("Tapez /login : vos réponses sont conservées."))
	case quote.StateComplete:
		if snap.Devis == nil {
			return
		}
		md := quote.DevisMarkdown(snap.Devis, snap.Collected)
		if isTerminalWriter(out) {
			fmt.Fprint(out, renderMarkdown(md))
		} else {
			fmt.Fprintln(out, md)
		}
		fmt.Fprintln(out, DimStyle.Render("Devis enregistré. /reset pour un nouveau devis, /quit pour quitter."))
	case quote.StateIdle:
		if step.Notice != nil && step.Notice.Kind != quote.NoticeInfo {
			fmt.Fprintln(out, DimStyle.Render("Appuyez sur Entrée pour réessayer."))
		}
	}
}

func progressPrefix(p quote.Progress) string {
	if p.Total <= 1 {
		return ""
	}
	return DimStyle.Render(fmt.Sprintf("[%d/%d] ", p.Index+1, p.Total))
}

func renderProgress(p quote.Progress) string {
	var b strings.Builder
	b.WriteString(styles.RenderProgressBar(30, p.Fraction()*100))
	fmt.Fprintf(&b, " %3.0f%%", p.Fraction()*100)
	if p.Product != "" {
		b.WriteString("  " + p.Product.Label())
	}
	if p.Current != nil {
		b.WriteString("\n" + DimStyle.Render("Prochaine question : "+p.Current.Label))
	}
	return b.String()
}
