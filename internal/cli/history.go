// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/storage"
	"github.com/bhassurance/assurbot/internal/util"
)

// Output formats for listings.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

func checkFormat(f string) error {
	switch f {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	}
	return usageError("format inconnu %q (table, json ou yaml)", f)
}

// devisItem is a DevisRecord with its JSON columns decoded for export.
type devisItem struct {
	ID        string         `json:"id" yaml:"id"`
	FlowID    string         `json:"flow_id" yaml:"flow_id"`
	Product   string         `json:"produit" yaml:"produit"`
	Source    string         `json:"source,omitempty" yaml:"source,omitempty"`
	UserEmail string         `json:"user_email,omitempty" yaml:"user_email,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Collected map[string]any `json:"collected" yaml:"collected"`
	Devis     map[string]any `json:"devis" yaml:"devis"`
}

func newDevisItem(r storage.DevisRecord) devisItem {
	it := devisItem{
		ID:        r.ID,
		FlowID:    r.FlowID,
		Product:   r.Product,
		Source:    r.Source,
		UserEmail: r.UserEmail,
		CreatedAt: r.CreatedAt,
	}
	_ = json.Unmarshal(r.Collected, &it.Collected)
	_ = json.Unmarshal(r.Devis, &it.Devis)
	return it
}

func newHistoryCommand(r *root) *cobra.Command {
	var (
		format string
		limit  int
		chats  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Devis et échanges enregistrés localement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			logCommand(a, cmd)
			if limit <= 0 {
				limit = a.Config.Storage.HistoryLimit
			}
			out := cmd.OutOrStdout()

			if chats {
				recs, err := a.Chats.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if format == FormatTable {
					writeChatTable(out, recs)
					return nil
				}
				return encode(out, format, recs)
			}

			recs, err := a.Devis.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if format == FormatTable {
				writeDevisTable(out, recs)
				return nil
			}
			items := make([]devisItem, 0, len(recs))
			for _, rec := range recs {
				items = append(items, newDevisItem(rec))
			}
			return encode(out, format, items)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", FormatTable, "table, json ou yaml")
	f.IntVarP(&limit, "limit", "n", 0, "nombre maximum d'entrées (défaut : storage.history_limit)")
	f.BoolVar(&chats, "chats", false, "lister les échanges avec l'assistant au lieu des devis")

	cmd.AddCommand(newHistoryShowCommand(r), newHistoryDeleteCommand(r))
	return cmd
}

func newHistoryShowCommand(r *root) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Affiche un devis enregistré",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "" {
				if err := checkFormat(format); err != nil {
					return err
				}
			}
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			rec, err := findDevis(cmd, a, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == FormatJSON || format == FormatYAML {
				return encode(out, format, newDevisItem(rec))
			}

			d, err := api.ParseDevis(rec.Devis)
			if err != nil {
				return err
			}
			var collected api.Fields
			if err := json.Unmarshal(rec.Collected, &collected); err != nil {
				return fmt.Errorf("corrupt history entry %s: %w", rec.ID, err)
			}
			md := quote.DevisMarkdown(d, collected)
			md += fmt.Sprintf("\n_Établi le %s_\n", rec.CreatedAt.Local().Format("02/01/2006 15:04"))
			if isTerminalWriter(out) {
				fmt.Fprint(out, renderMarkdown(md))
			} else {
				fmt.Fprintln(out, md)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json ou yaml (défaut : texte)")
	return cmd
}

func newHistoryDeleteCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Supprime un devis enregistré",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.open(cmd)
			if err != nil {
				return err
			}
			rec, err := findDevis(cmd, a, args[0])
			if err != nil {
				return err
			}
			if err := a.Devis.Delete(cmd.Context(), rec.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("✓")+" Devis "+shortID(rec.ID)+" supprimé.")
			return nil
		},
	}
}

// findDevis resolves a full id or an unambiguous prefix of one.
func findDevis(cmd *cobra.Command, a *App, id string) (storage.DevisRecord, error) {
	rec, err := a.Devis.Get(cmd.Context(), id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.DevisRecord{}, err
	}
	recs, err := a.Devis.List(cmd.Context(), 0)
	if err != nil {
		return storage.DevisRecord{}, err
	}
	var match []storage.DevisRecord
	for _, r := range recs {
		if strings.HasPrefix(r.ID, id) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return storage.DevisRecord{}, &CommandError{Code: ExitNotFoundError, Err: fmt.Errorf("devis %q introuvable", id)}
	default:
		return storage.DevisRecord{}, usageError("identifiant %q ambigu (%d devis)", id, len(match))
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func encode(w io.Writer, format string, v any) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeDevisTable(w io.Writer, recs []storage.DevisRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("Aucun devis enregistré."))
		return
	}
	header := util.PadRight("ID", 10) + util.PadRight("DATE", 18) + util.PadRight("PRODUIT", 12) +
		util.PadRight("PRIME ANNUELLE", 18) + "SOURCE"
	fmt.Fprintln(w, DimStyle.Render(header))
	for _, r := range recs {
		premium := "-"
		if d, err := api.ParseDevis(r.Devis); err == nil {
			if v, ok := d.AnnualPremium(); ok {
				premium = fmt.Sprintf("%.2f %s", v, d.Currency())
			}
		}
		fmt.Fprintln(w, util.PadRight(shortID(r.ID), 10)+
			util.PadRight(r.CreatedAt.Local().Format("02/01/2006 15:04"), 18)+
			util.PadRight(r.Product, 12)+
			util.PadRight(premium, 18)+
			r.Source)
	}
}

func writeChatTable(w io.Writer, recs []storage.ChatRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("Aucun échange enregistré."))
		return
	}
	for _, r := range recs {
		flag := " "
		if r.RequiresAuth {
			flag = "🔒"
		}
		fmt.Fprintf(w, "%s %s %s\n",
			util.PadRight(r.CreatedAt.Local().Format("02/01/2006 15:04"), 18),
			util.PadRight(flag, 3),
			r.Preview(GetTerminalWidth()-24))
	}
}
