// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/identity"
)

// =============================================================================
// LOGIN
// =============================================================================

func newLoginCommand(r *root) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Se connecter à son compte BH Assurance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			return signIn(cmd, a, p.line, p.password, email, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "adresse email")
	cmd.Flags().StringVar(&password, "password", "", "mot de passe (déconseillé : visible dans l'historique du shell)")
	return cmd
}

// signIn prompts for whatever is missing and signs in.
func signIn(cmd *cobra.Command, a *App, ask, askPassword func(string) (string, error), email, password string) error {
	var err error
	if email == "" {
		if email, err = ask("Email : "); err != nil {
			return err
		}
	}
	if password == "" {
		if password, err = askPassword("Mot de passe : "); err != nil {
			return err
		}
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return usageError("email et mot de passe requis")
	}

	snap, err := a.Identity.SignIn(cmd.Context(), strings.TrimSpace(email), password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" Bienvenue, "+snap.Greeting()+" !")
	return nil
}

// =============================================================================
// REGISTER
// =============================================================================

func newRegisterCommand(r *root) *cobra.Command {
	var req api.RegisterRequest
	var password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Créer un compte",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())

			if req.Email == "" {
				if req.Email, err = p.line("Email : "); err != nil {
					return err
				}
			}
			if req.Name == "" {
				if req.Name, err = p.line("Nom complet : "); err != nil {
					return err
				}
			}
			if req.PhoneNumber == "" {
				if req.PhoneNumber, err = p.line("Téléphone (facultatif) : "); err != nil {
					return err
				}
			}
			req.Password = password
			if req.Password == "" {
				if req.Password, err = p.password("Mot de passe : "); err != nil {
					return err
				}
				if req.PasswordConfirm, err = p.password("Confirmez le mot de passe : "); err != nil {
					return err
				}
			} else {
				req.PasswordConfirm = req.Password
			}
			req.UserType = strings.ToUpper(strings.TrimSpace(req.UserType))

			snap, err := a.Identity.SignUp(cmd.Context(), req)
			out := cmd.OutOrStdout()
			var formErr *identity.FormError
			switch {
			case errors.Is(err, identity.ErrConfirmationPending):
				fmt.Fprintln(out, InfoStyle.Render("Compte créé.")+" Connectez-vous avec `assurbot login`.")
				return nil
			case errors.As(err, &formErr):
				printFieldErrors(out, formErr)
				return &CommandError{Code: ExitUsageError, Err: err}
			case err != nil:
				return err
			}
			fmt.Fprintln(out, SuccessStyle.Render("✓")+" Compte créé. Bienvenue, "+snap.Greeting()+" !")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Email, "email", "", "adresse email")
	f.StringVar(&req.Name, "name", "", "nom complet")
	f.StringVar(&req.PhoneNumber, "phone", "", "numéro de téléphone")
	f.StringVar(&req.UserType, "type", "CLIENT", "type de compte (CLIENT ou USER)")
	f.StringVar(&password, "password", "", "mot de passe (déconseillé : visible dans l'historique du shell)")
	return cmd
}

func printFieldErrors(w io.Writer, e *identity.FormError) {
	fmt.Fprintln(w, ErrorStyle.Render(e.Message))
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, msg := range e.Fields[k] {
			fmt.Fprintf(w, "  %s %s\n", RenderLabel(k), msg)
		}
	}
}

// =============================================================================
// LOGOUT / WHOAMI
// =============================================================================

func newLogoutCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Se déconnecter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			if a.Identity.Token() == "" {
				fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("Déjà déconnecté."))
				return nil
			}
			// The local credential is gone even when the server call fails.
			if err := a.Identity.SignOut(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("Le serveur n'a pas confirmé la déconnexion : ")+Describe(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" Déconnecté.")
			return nil
		},
	}
}

func newWhoamiCommand(r *root) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Affiche le compte connecté",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			out := cmd.OutOrStdout()

			snap := a.Identity.Refresh(cmd.Context())
			if !snap.SignedIn {
				if asJSON {
					fmt.Fprintln(out, "null")
					return nil
				}
				return ErrNotSignedIn
			}
			if asJSON {
				data, err := json.MarshalIndent(snap.User, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			printUser(out, snap.User)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "sortie JSON")
	return cmd
}

func printUser(w io.Writer, u *api.User) {
	fmt.Fprintln(w, TitleStyle.Render(u.DisplayName()))
	rows := [][2]string{
		{"Email", u.Email},
		{"Téléphone", u.PhoneNumber},
		{"Type de compte", u.UserType},
		{"Inscrit le", u.DateJoined},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		fmt.Fprintln(w, RenderLabel(row[0])+ValueStyle.Render(row[1]))
	}
	verified := "non"
	if u.IsVerified {
		verified = "oui"
	}
	fmt.Fprintln(w, RenderLabel("Vérifié")+ValueStyle.Render(verified))
}
