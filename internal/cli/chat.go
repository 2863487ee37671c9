// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/util"
)

const chatHelp = `Commandes :
  /login     se connecter
  /logout    se déconnecter
  /history   derniers échanges enregistrés
  /clear     oublier la conversation en cours
  /quit      quitter`

func newChatCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Conversation interactive avec l'assistant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)

			in := newLineReader(cmd.InOrStdin(), cmd.OutOrStdout(), "chat_history")
			defer in.Close()
			return runChat(cmd, a, in)
		},
	}
}

// runChat is the chat REPL. It returns nil on /quit or end of input.
func runChat(cmd *cobra.Command, a *App, in LineReader) error {
	out := cmd.OutOrStdout()
	svc := a.NewAssistant()

	snap := a.Identity.Refresh(cmd.Context())
	fmt.Fprintln(out, TitleStyle.Render("Assistant BH Assurance"))
	if snap.SignedIn {
		fmt.Fprintln(out, DimStyle.Render("Connecté : "+snap.Greeting()))
	}
	fmt.Fprintln(out, DimStyle.Render("Tapez /help pour l'aide, /quit pour quitter."))

	for {
		line, err := in.ReadLine("vous › ")
		if errors.Is(err, io.EOF) || errors.Is(err, ErrAborted) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch strings.ToLower(strings.Fields(line)[0]) {
		case "/quit", "/exit", "/q":
			return nil
		case "/help", "/?":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/clear":
			svc.Clear()
			fmt.Fprintln(out, DimStyle.Render("Conversation effacée."))
			continue
		case "/login":
			if err := signIn(cmd, a, in.ReadLine, in.ReadPassword, "", ""); err != nil {
				fmt.Fprintln(out, ErrorStyle.Render(Describe(err)))
			}
			continue
		case "/logout":
			_ = a.Identity.SignOut(cmd.Context())
			fmt.Fprintln(out, DimStyle.Render("Déconnecté."))
			continue
		case "/history":
			printChatHistory(cmd, a, out)
			continue
		}

		reply, err := svc.Send(cmd.Context(), line, false)
		if err != nil {
			fmt.Fprintln(out, ErrorStyle.Render(assistant.Describe(err)))
			continue
		}
		fmt.Fprint(out, AssistantStyle.Render("assistant › "))
		displayReply(out, reply)
		if reply.Elapsed > 0 {
			fmt.Fprintln(out, DimStyle.Render(reply.Elapsed.Round(time.Millisecond).String()))
		}
	}
}

func printChatHistory(cmd *cobra.Command, a *App, out io.Writer) {
	recs, err := a.Chats.Recent(cmd.Context(), 10)
	if err != nil {
		fmt.Fprintln(out, ErrorStyle.Render(Describe(err)))
		return
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, DimStyle.Render("Aucun échange enregistré."))
		return
	}
	fmt.Fprintln(out, RenderSeparator(GetTerminalWidth()-2))
	for _, rec := range recs {
		fmt.Fprintf(out, "%s  %s\n", DimStyle.Render(rec.CreatedAt.Format("02/01 15:04")), rec.Preview(60))
		fmt.Fprintln(out, "             "+DimStyle.Render(util.TruncateRunes(util.FirstLine(rec.Answer), 60)))
	}
	fmt.Fprintln(out, RenderSeparator(GetTerminalWidth()-2))
}
