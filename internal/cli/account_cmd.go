// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/util"
)

// formFailure prints a rejected form and turns it into a usage error.
func formFailure(w io.Writer, err error) error {
	var formErr *identity.FormError
	if errors.As(err, &formErr) {
		printFieldErrors(w, formErr)
		return &CommandError{Code: ExitUsageError, Err: err}
	}
	return err
}

// =============================================================================
// PROFILE
// =============================================================================

func newProfileCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Gérer son profil",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newProfileEditCommand(r))
	return cmd
}

func newProfileEditCommand(r *root) *cobra.Command {
	var name, phone, bio string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Modifier le nom, le téléphone ou la bio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd api.ProfileUpdate
			f := cmd.Flags()
			if f.Changed("name") {
				upd.Name = &name
			}
			if f.Changed("phone") {
				upd.PhoneNumber = &phone
			}
			if f.Changed("bio") {
				upd.Bio = &bio
			}
			if upd.Empty() {
				return usageError("rien à modifier : précisez --name, --phone ou --bio")
			}

			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)

			snap, err := a.Identity.UpdateProfile(cmd.Context(), upd)
			if err != nil {
				return formFailure(cmd.OutOrStdout(), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, SuccessStyle.Render("✓")+" Profil mis à jour.")
			if snap.User != nil {
				printUser(out, snap.User)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "nom complet")
	f.StringVar(&phone, "phone", "", "numéro de téléphone (vide pour l'effacer)")
	f.StringVar(&bio, "bio", "", "courte présentation")
	return cmd
}

// =============================================================================
// PASSWORD
// =============================================================================

func newPasswdCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Changer de mot de passe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			if a.Identity.Token() == "" {
				return ErrNotSignedIn
			}

			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			var req api.PasswordChange
			if req.CurrentPassword, err = p.password("Mot de passe actuel : "); err != nil {
				return err
			}
			if req.NewPassword, req.NewPasswordConfirm, err = askNewPassword(p); err != nil {
				return err
			}

			msg, err := a.Identity.ChangePassword(cmd.Context(), req)
			if err != nil {
				return formFailure(cmd.OutOrStdout(), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, SuccessStyle.Render("✓")+" "+orDefault(msg, "Mot de passe modifié."))
			fmt.Fprintln(out, InfoStyle.Render("Toutes vos sessions ont été fermées.")+" Reconnectez-vous avec `assurbot login`.")
			return nil
		},
	}
}

func askNewPassword(p *prompter) (pw, confirm string, err error) {
	if pw, err = p.password("Nouveau mot de passe : "); err != nil {
		return "", "", err
	}
	if confirm, err = p.password("Confirmez le nouveau mot de passe : "); err != nil {
		return "", "", err
	}
	if pw == "" {
		return "", "", usageError("nouveau mot de passe requis")
	}
	return pw, confirm, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func newPasswordResetCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password-reset",
		Short: "Réinitialiser un mot de passe oublié",
		Args:  cobra.NoArgs,
	}

	request := &cobra.Command{
		Use:   "request <email>",
		Short: "Recevoir un jeton de réinitialisation par email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			msg, err := a.Client.RequestPasswordReset(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return formFailure(cmd.OutOrStdout(), apiFormError(err))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, SuccessStyle.Render("✓")+" "+orDefault(msg, "Email envoyé."))
			fmt.Fprintln(out, DimStyle.Render("Terminez avec `assurbot password-reset confirm --token <jeton>`."))
			return nil
		},
	}

	var token string
	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Choisir un nouveau mot de passe avec le jeton reçu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			if token == "" {
				if token, err = p.line("Jeton : "); err != nil {
					return err
				}
			}
			req := api.PasswordReset{Token: strings.TrimSpace(token)}
			if req.NewPassword, req.NewPasswordConfirm, err = askNewPassword(p); err != nil {
				return err
			}
			msg, err := a.Client.ConfirmPasswordReset(cmd.Context(), req)
			if err != nil {
				return formFailure(cmd.OutOrStdout(), apiFormError(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" "+orDefault(msg, "Mot de passe réinitialisé."))
			return nil
		},
	}
	confirm.Flags().StringVar(&token, "token", "", "jeton reçu par email")

	cmd.AddCommand(request, confirm)
	return cmd
}

// apiFormError presents a 400 from an anonymous call like a store form
// error.
func apiFormError(err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
		return &identity.FormError{Message: apiErr.Message, Fields: apiErr.Fields}
	}
	return err
}

// =============================================================================
// SESSIONS
// =============================================================================

func newSessionsCommand(r *root) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Connexions actives du compte",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := r.openSignedIn(cmd)
			if err != nil {
				return err
			}
			sessions, err := a.Client.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if format == FormatTable {
				writeSessionTable(cmd.OutOrStdout(), sessions)
				return nil
			}
			return encode(cmd.OutOrStdout(), format, sessions)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "table, json ou yaml")

	terminate := &cobra.Command{
		Use:   "terminate <key>",
		Short: "Fermer une connexion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openSignedIn(cmd)
			if err != nil {
				return err
			}
			msg, err := a.Client.TerminateSession(cmd.Context(), args[0])
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				return &CommandError{Code: ExitNotFoundError, Err: fmt.Errorf("session %q introuvable", args[0])}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" "+orDefault(msg, "Session fermée."))
			return nil
		},
	}

	terminateAll := &cobra.Command{
		Use:   "terminate-all",
		Short: "Fermer toutes les autres connexions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.openSignedIn(cmd)
			if err != nil {
				return err
			}
			msg, err := a.Client.TerminateOtherSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" "+orDefault(msg, "Autres sessions fermées."))
			return nil
		},
	}

	cmd.AddCommand(terminate, terminateAll)
	return cmd
}

// openSignedIn opens the app and refuses early when no token is held.
func (r *root) openSignedIn(cmd *cobra.Command) (*App, error) {
	a, err := r.open(cmd)
	if err != nil {
		return nil, err
	}
	logCommand(a, cmd)
	if a.Identity.Token() == "" {
		return nil, ErrNotSignedIn
	}
	return a, nil
}

func writeSessionTable(w io.Writer, sessions []api.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, DimStyle.Render("Aucune session active."))
		return
	}
	header := util.PadRight("CLÉ", 38) + util.PadRight("ADRESSE IP", 18) +
		util.PadRight("DERNIÈRE ACTIVITÉ", 20) + "APPAREIL"
	fmt.Fprintln(w, DimStyle.Render(header))
	for _, s := range sessions {
		fmt.Fprintln(w, util.PadRight(s.Key, 38)+
			util.PadRight(orDefault(s.IPAddress, "-"), 18)+
			util.PadRight(s.LastActivity.Local().Format("02/01/2006 15:04"), 20)+
			util.TruncateWidth(orDefault(s.UserAgent, "-"), 40))
	}
}
