// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ProductKind is the insurance product chosen by the first answer of a flow.
type ProductKind string

const (
	ProductVie        ProductKind = "vie"
	ProductAuto       ProductKind = "auto"
	ProductSante      ProductKind = "sante"
	ProductHabitation ProductKind = "habitation"
)

// Products lists every product in display order.
func Products() []ProductKind {
	return []ProductKind{ProductVie, ProductAuto, ProductSante, ProductHabitation}
}

// String returns the wire value.
func (p ProductKind) String() string { return string(p) }

// Label returns the French display name.
func (p ProductKind) Label() string {
	switch p {
	case ProductVie:
		return "Assurance vie"
	case ProductAuto:
		return "Assurance auto"
	case ProductSante:
		return "Assurance santé"
	case ProductHabitation:
		return "Assurance habitation"
	default:
		return string(p)
	}
}

// ParseProduct folds case and accents, so "Santé", "SANTE" and " sante "
// all map to ProductSante.
func ParseProduct(raw string) (ProductKind, bool) {
	v := Fold(raw)
	for _, p := range Products() {
		if v == string(p) {
			return p, true
		}
	}
	return "", false
}

// Fold lowercases s, strips surrounding space and removes diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}
