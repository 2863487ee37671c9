// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quote

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/validate"
)

// devisShown are the keys DevisMarkdown already renders in its own sections.
var devisShown = map[string]bool{
	"produit":         true,
	"prime_mensuelle": true,
	"prime_annuelle":  true,
	"devise":          true,
	"hypotheses":      true,
	"source":          true,
	"note":            true,
	"parametres":      true,
}

// DevisMarkdown renders a devis and the answers behind it as markdown.
// Values are shown as received; nothing is recomputed.
func DevisMarkdown(d *api.Devis, collected api.Fields) string {
	if d == nil {
		return ""
	}
	var b strings.Builder

	title := "Votre devis"
	if p, ok := validate.ParseProduct(d.Product()); ok {
		title += " " + p.Label()
	}
	fmt.Fprintf(&b, "## %s\n\n", title)

	currency := d.Currency()
	if m, ok := d.MonthlyPremium(); ok {
		fmt.Fprintf(&b, "- **Prime mensuelle** : %s\n", money(m, currency))
	}
	if a, ok := d.AnnualPremium(); ok {
		fmt.Fprintf(&b, "- **Prime annuelle** : %s\n", money(a, currency))
	}

	extra := make([]string, 0)
	for _, k := range d.Keys() {
		if !devisShown[k] {
			extra = append(extra, k)
		}
	}
	for _, k := range extra {
		v, _ := d.Get(k)
		fmt.Fprintf(&b, "- **%s** : %s\n", k, inline(v))
	}

	if h := d.Assumptions(); len(h) > 0 {
		b.WriteString("\n### Hypothèses\n\n")
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s : %s\n", k, inline(h[k]))
		}
	}

	if collected.Len() > 0 {
		b.WriteString("\n### Vos réponses\n\n| Champ | Valeur |\n|---|---|\n")
		for _, k := range collected.Keys() {
			v, _ := collected.Get(k)
			label := k
			if spec, ok := validate.Lookup(k); ok {
				label = spec.Label
			}
			fmt.Fprintf(&b, "| %s | %s |\n", label, v.String())
		}
	}

	if note := d.Note(); note != "" {
		fmt.Fprintf(&b, "\n> %s\n", note)
	}
	if src := d.Source(); src != "" {
		fmt.Fprintf(&b, "\n_Source : %s_\n", src)
	}
	return b.String()
}

func money(v float64, currency string) string {
	s := fmt.Sprintf("%.2f", v)
	if currency != "" {
		s += " " + currency
	}
	return s
}

// inline renders a decoded JSON value on one line.
func inline(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case bool:
		if t {
			return "oui"
		}
		return "non"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return "`" + string(data) + "`"
	}
}
