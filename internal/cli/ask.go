// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bhassurance/assurbot/internal/assistant"
)

func newAskCommand(r *root) *cobra.Command {
	var voice bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Pose une question à l'assistant",
		Example: `  assurbot ask "Quels produits proposez-vous ?"
  echo "Comment déclarer un sinistre ?" | assurbot ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if question == "-" {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4*assistant.MaxMessageLength))
				if err != nil {
					return err
				}
				question = string(data)
			}
			if strings.TrimSpace(question) == "" {
				return usageError("question vide")
			}

			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)

			reply, err := a.NewAssistant().Send(cmd.Context(), question, voice)
			if err != nil {
				return err
			}
			displayReply(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().BoolVar(&voice, "voice", false, "marque le message comme dicté")
	return cmd
}

// displayReply prints an assistant message. Markdown is rendered only when
// the output is a terminal, so piped output stays plain.
func displayReply(w io.Writer, m assistant.Message) {
	if isTerminalWriter(w) {
		fmt.Fprint(w, renderMarkdown(m.Text))
	} else {
		fmt.Fprintln(w, m.Text)
	}
	if m.RequiresAuth {
		fmt.Fprintln(w, WarningStyle.Render("🔒 Information confidentielle : connectez-vous avec `assurbot login`."))
		if m.HowToAuth != "" {
			fmt.Fprintln(w, DimStyle.Render(m.HowToAuth))
		}
	}
}
