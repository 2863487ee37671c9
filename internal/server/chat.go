// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"regexp"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/validate"
)

// MaxChatMessage bounds the accepted message length in runes.
const MaxChatMessage = 2000

// confidentialKeywords flag questions about a client's personal data.
// Matching runs on accent-folded lowercase text.
var confidentialKeywords = []string{
	"profession",
	"birthdate",
	"date de naissance",
	"income",
	"revenu",
	"salary",
	"salaire",
	"marital",
	"situation familiale",
	"adresse",
	"address",
	"telephone",
	"phone number",
	"iban",
	"numero de contrat",
	"contract number",
	"who is",
	"qui est",
}

// clientName matches "of|de|about|sur" followed by two or more capitalized
// words, the shape of a named-client lookup.
var clientName = regexp.MustCompile(`\b(?:of|de|about|sur)\s+(\p{Lu}[\p{L}'\-]+(?:\s+\p{Lu}[\p{L}'\-]+)+)`)

// confidentialMatches returns what marks msg as confidential, if anything.
func confidentialMatches(msg string) []string {
	folded := validate.Fold(msg)
	var matched []string
	for _, kw := range confidentialKeywords {
		if strings.Contains(folded, kw) {
			matched = append(matched, kw)
		}
	}
	if m := clientName.FindStringSubmatch(msg); m != nil {
		matched = append(matched, "client_name:"+m[1])
	}
	return matched
}

// cannedReply picks the assistant answer for a general question.
func cannedReply(msg string) string {
	folded := validate.Fold(msg)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(folded, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("bonjour", "salut", "hello", "bonsoir"):
		return "Bonjour ! Je suis l'assistant BH Assurance. Comment puis-je vous aider aujourd'hui ?"
	case has("sinistre", "claim", "accident", "declarer"):
		return "Pour déclarer un sinistre, contactez votre agence BH Assurance dans les 5 jours ouvrés " +
			"avec votre contrat, une pièce d'identité et tout justificatif utile (constat, photos, factures)."
	case has("devis", "quote", "prix", "tarif", "prime"):
		return "Vous pouvez obtenir un devis depuis l'onglet Devis : répondez à quelques questions " +
			"et la prime estimée s'affiche une fois connecté."
	case has("produit", "offre", "types of insurance", "assurances", "insurance"):
		return "BH Assurance propose des assurances **vie**, **auto**, **santé** et **habitation**. " +
			"Laquelle vous intéresse ?"
	case has("bh assurance", "qui etes", "who are you", "what is bh"):
		return "BH Assurance est une compagnie d'assurance tunisienne qui accompagne particuliers " +
			"et entreprises en assurance de personnes et de biens."
	default:
		return "Je peux vous renseigner sur nos produits, vos démarches en cas de sinistre " +
			"ou vous aider à établir un devis. Pouvez-vous préciser votre question ?"
	}
}

func (s *Server) handleChat(ctx *fasthttp.RequestCtx, p *principal) {
	start := time.Now()
	var req struct {
		Message string `json:"message"`
		IsVoice bool   `json:"is_voice"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{"detail": "JSON parse error."})
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{
			"response": "Veuillez saisir un message.",
			"error":    "empty_message",
		})
		return
	}
	if len([]rune(msg)) > MaxChatMessage {
		msg = string([]rune(msg)[:MaxChatMessage])
	}

	elapsed := func() float64 { return time.Since(start).Seconds() }

	if matched := confidentialMatches(msg); len(matched) > 0 {
		if p == nil {
			s.logger.Info("confidential chat refused", zap.Strings("matched", matched))
			writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]any{
				"response": "Cette question concerne des données client confidentielles. " +
					"Veuillez vous connecter pour y accéder.",
				"confidential":  true,
				"requires_auth": true,
				"matched":       matched,
				"how_to_auth":   msgHowToAuth,
				"response_time": elapsed(),
			})
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"response": "Aucune fiche client ne correspond à votre recherche dans cet environnement " +
				"de démonstration.",
			"confidential":  true,
			"authenticated": true,
			"matched":       matched,
			"response_time": elapsed(),
		})
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"response":      cannedReply(msg),
		"confidential":  false,
		"authenticated": p != nil,
		"is_voice":      req.IsVoice,
		"response_time": elapsed(),
	})
}
