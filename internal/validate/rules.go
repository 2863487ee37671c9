// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RuleKind selects how a raw answer is checked.
type RuleKind int

const (
	RuleFreeText RuleKind = iota
	RuleProduct
	RuleNationalID
	RuleIntRange
	RuleContractNature
	RuleDate
	RuleYesNo
)

func (k RuleKind) String() string {
	switch k {
	case RuleProduct:
		return "product"
	case RuleNationalID:
		return "national_id"
	case RuleIntRange:
		return "int_range"
	case RuleContractNature:
		return "contract_nature"
	case RuleDate:
		return "date"
	case RuleYesNo:
		return "yes_no"
	default:
		return "free_text"
	}
}

// Rule is the check attached to one field key. Min and Max are inclusive and
// only meaningful for RuleIntRange.
type Rule struct {
	Kind RuleKind
	Min  int
	Max  int
}

// Result is the outcome of a check. Normalized is the canonical form of an
// accepted answer, for display only: the raw text is what gets submitted.
type Result struct {
	Accepted   bool
	Reason     string
	Normalized string
}

func accept(normalized string) Result { return Result{Accepted: true, Normalized: normalized} }
func reject(reason string) Result     { return Result{Reason: reason} }

// NationalIDDigits is the length of a national identity card number.
const NationalIDDigits = 8

// Contract nature values as the backend stores them.
const (
	NatureRenewal = "renouvellement"
	NatureNew     = "nouveau"
)

var natureSynonyms = map[string]string{
	"r":                NatureRenewal,
	"renouvellement":   NatureRenewal,
	"renouveler":       NatureRenewal,
	"renewal":          NatureRenewal,
	"n":                NatureNew,
	"nouveau":          NatureNew,
	"nouvelle":         NatureNew,
	"new":              NatureNew,
	"affaire nouvelle": NatureNew,
}

var (
	yesWords = map[string]bool{"oui": true, "o": true, "yes": true, "y": true, "vrai": true, "1": true}
	noWords  = map[string]bool{"non": true, "n": true, "no": true, "faux": true, "0": true}
)

// Accepted date shapes. Anything else is rejected, including otherwise
// unambiguous forms like 2025/08/20.
var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
	{regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), "02/01/2006"},
	{regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`), "02-01-2006"},
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// Check applies the rule to raw.
func (r Rule) Check(raw string) Result {
	trimmed := strings.TrimSpace(raw)

	switch r.Kind {
	case RuleProduct:
		if trimmed == "" {
			return reject("Merci de préciser votre choix.")
		}
		p, ok := ParseProduct(trimmed)
		if !ok {
			return reject("Choix invalide. Options : vie, auto, sante, habitation.")
		}
		return accept(string(p))

	case RuleNationalID:
		digits := nonDigits.ReplaceAllString(trimmed, "")
		if len(digits) != NationalIDDigits {
			return reject(fmt.Sprintf("Le numéro CIN doit contenir exactement %d chiffres.", NationalIDDigits))
		}
		return accept(digits)

	case RuleIntRange:
		if trimmed == "" {
			return reject("Valeur requise.")
		}
		digits := nonDigits.ReplaceAllString(trimmed, "")
		if digits == "" {
			return reject("Veuillez indiquer un nombre entier.")
		}
		v, err := strconv.Atoi(digits)
		if err != nil {
			// Only overflow gets here: every remaining rune is a digit.
			return reject(fmt.Sprintf("La valeur doit être ≤ %d.", r.Max))
		}
		if v < r.Min {
			return reject(fmt.Sprintf("La valeur doit être ≥ %d.", r.Min))
		}
		if v > r.Max {
			return reject(fmt.Sprintf("La valeur doit être ≤ %d.", r.Max))
		}
		return accept(strconv.Itoa(v))

	case RuleContractNature:
		if v, ok := natureSynonyms[Fold(trimmed)]; ok {
			return accept(v)
		}
		return reject("Répondez par « renouvellement » (R) ou « nouveau » (N).")

	case RuleDate:
		for _, p := range datePatterns {
			if !p.re.MatchString(trimmed) {
				continue
			}
			d, err := time.Parse(p.layout, trimmed)
			if err != nil {
				return reject("Cette date n'existe pas.")
			}
			return accept(d.Format("2006-01-02"))
		}
		return reject("Format de date invalide. Utilisez AAAA-MM-JJ, JJ/MM/AAAA ou JJ-MM-AAAA.")

	case RuleYesNo:
		if trimmed == "" {
			return reject("Répondez par oui/non.")
		}
		v := Fold(trimmed)
		if yesWords[v] {
			return accept("oui")
		}
		if noWords[v] {
			return accept("non")
		}
		return reject("Répondez par oui ou non.")
	}

	return accept(trimmed)
}
