// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"maps"
	"strings"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/validate"
)

// Quote flow messages.
const (
	msgAuthRequired = "Authentification requise pour obtenir un devis."
	msgHowToAuth    = "Envoyez l'en-tête Authorization: Token <votre_token> ou connectez-vous via session."
	msgDevis        = "Voici votre devis"
	msgReset        = "Flux devis réinitialisé."
	reasonAuth      = "auth_required_for_devis"
)

// nextField returns the first unanswered field of the flow. The product
// answer selects the sequence; before it only the product is asked.
func nextField(collected map[string]api.Value) (validate.FieldSpec, bool) {
	product := validate.ProductKind("")
	if v, ok := collected[validate.KeyProduct]; ok {
		product, _ = validate.ParseProduct(v.String())
	}
	return validate.Next(product, func(key string) bool {
		_, ok := collected[key]
		return ok
	})
}

// handleQuote advances the session's flow by one answer. An empty message
// re-asks the pending question, or computes the devis once every field is
// collected.
func (s *Server) handleQuote(ctx *fasthttp.RequestCtx, p *principal) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]any{"detail": "JSON parse error."})
		return
	}
	msg := strings.TrimSpace(req.Message)

	sess, unlock := s.sessions.acquire(ctx)
	flow := sess.flow

	field, pending := nextField(flow.collected)
	if pending && msg != "" {
		res := field.Rule.Check(msg)
		if !res.Accepted {
			collected := api.NewFields(flow.collected)
			unlock()
			writeJSON(ctx, fasthttp.StatusOK, map[string]any{
				"question":  res.Reason + " " + field.Question,
				"collected": collected,
				"complete":  false,
			})
			return
		}
		flow.collected[field.Key] = api.TypedValue(field.Key, res)
		field, pending = nextField(flow.collected)
	}

	if pending {
		collected := api.NewFields(flow.collected)
		unlock()
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"question":  field.Question,
			"collected": collected,
			"complete":  false,
		})
		return
	}

	if p == nil {
		collected := api.NewFields(flow.collected)
		unlock()
		writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]any{
			"message":       msgAuthRequired,
			"requires_auth": true,
			"reason":        reasonAuth,
			"collected":     collected,
			"complete":      false,
			"how_to_auth":   msgHowToAuth,
		})
		return
	}

	// Pricing may call out to external APIs, so it runs outside the lock
	// on a copy of the answers.
	collected := maps.Clone(flow.collected)
	reissued := flow.complete
	unlock()

	auth := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
	devis, source := s.pricer.price(collected, auth)
	s.persistQuote(ctx, p, sess.id, collected, devis, source)
	s.sessions.finish(sess, flow)

	s.logger.Info("devis issued",
		zap.String("product", productOf(collected)),
		zap.String("source", source),
		zap.Bool("reissued", reissued),
		zap.Int64("user", p.account.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"message":  msgDevis,
		"devis":    devis,
		"complete": true,
	})
}

// persistQuote records a completed request. Failures are logged only.
func (s *Server) persistQuote(ctx *fasthttp.RequestCtx, p *principal, sessionID string, collected map[string]api.Value, devis map[string]any, source string) {
	collectedJSON, err := json.Marshal(collected)
	if err != nil {
		s.logger.Warn("failed to persist quote request", zap.Error(err))
		return
	}
	devisJSON, err := json.Marshal(devis)
	if err != nil {
		s.logger.Warn("failed to persist quote request", zap.Error(err))
		return
	}

	q := &QuoteRequest{
		UserID:     p.account.ID,
		Product:    productOf(collected),
		Collected:  collectedJSON,
		Devis:      devisJSON,
		Source:     source,
		SessionKey: sessionID,
		UserAgent:  string(ctx.UserAgent()),
		IPAddress:  ClientIP(ctx),
	}
	if n, ok := intValue(collected, validate.KeyAge); ok {
		q.Age = &n
	}
	if n, ok := legacyCapital(collected); ok {
		q.Capital = &n
	}
	if n, ok := intValue(collected, validate.KeyDuration); ok {
		q.Duration = &n
	}
	if v, ok := collected[validate.KeySmoker]; ok {
		if b, ok := v.Bool(); ok {
			q.Smoker = &b
		}
	}

	if err := s.quotes.Save(ctx, q); err != nil {
		s.logger.Warn("failed to persist quote request", zap.Error(err))
	}
}

func (s *Server) handleQuoteReset(ctx *fasthttp.RequestCtx) {
	s.sessions.reset(ctx)
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"message": msgReset})
}
