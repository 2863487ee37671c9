// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TurnKind is the variant of a quote turn response.
type TurnKind int

const (
	// TurnQuestion carries the next question to ask.
	TurnQuestion TurnKind = iota + 1
	// TurnComplete carries the final devis.
	TurnComplete
	// TurnAuthRequired means every field is collected but the devis is only
	// released to a signed-in user.
	TurnAuthRequired
)

func (k TurnKind) String() string {
	switch k {
	case TurnQuestion:
		return "question"
	case TurnComplete:
		return "complete"
	case TurnAuthRequired:
		return "auth_required"
	default:
		return "unknown"
	}
}

// TurnResult is one normalized quote turn. Exactly one of Question, Devis
// or the auth fields is meaningful, as selected by Kind. Collected is the
// server's echo of every answer so far.
type TurnResult struct {
	Kind      TurnKind
	Question  string
	Message   string
	Collected Fields
	Devis     *Devis
	Reason    string
	HowToAuth string
}

// IsComplete reports whether the turn carries the final devis.
func (r TurnResult) IsComplete() bool { return r.Kind == TurnComplete }

// AuthRequired reports whether the turn interrupted the flow for sign-in.
func (r TurnResult) AuthRequired() bool { return r.Kind == TurnAuthRequired }

// Default auth messages used when a bare 401 carries no explanation.
const (
	DefaultAuthMessage = "Authentification requise pour obtenir un devis."
	DefaultAuthReason  = "auth_required_for_devis"
)

// quotePayload is the union of every quote response variant.
type quotePayload struct {
	Message      *string         `json:"message"`
	Question     *string         `json:"question"`
	Collected    *Fields         `json:"collected"`
	Complete     *bool           `json:"complete"`
	Devis        json.RawMessage `json:"devis"`
	RequiresAuth *bool           `json:"requires_auth"`
	Reason       *string         `json:"reason"`
	HowToAuth    *string         `json:"how_to_auth"`
}

// NormalizeQuoteTurn maps a raw quote response to a TurnResult. Any 401 is
// an auth interruption, with or without a body. A 2xx payload must match one
// variant exactly; otherwise ErrMalformedResponse is returned.
func NormalizeQuoteTurn(status int, body []byte) (TurnResult, error) {
	var p quotePayload
	decodeErr := json.Unmarshal(body, &p)

	if status == http.StatusUnauthorized {
		res := TurnResult{
			Kind:    TurnAuthRequired,
			Message: DefaultAuthMessage,
			Reason:  DefaultAuthReason,
		}
		if decodeErr == nil {
			if p.Message != nil && *p.Message != "" {
				res.Message = *p.Message
			}
			if p.Reason != nil {
				res.Reason = *p.Reason
			}
			if p.HowToAuth != nil {
				res.HowToAuth = *p.HowToAuth
			}
			if p.Collected != nil {
				res.Collected = *p.Collected
			}
		}
		return res, nil
	}

	if status < 200 || status >= 300 {
		return TurnResult{}, handleErrorResponse(&response{Status: status, Body: body})
	}
	if decodeErr != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}

	complete := p.Complete != nil && *p.Complete
	hasDevis := len(p.Devis) > 0 && string(p.Devis) != "null"
	var collected Fields
	if p.Collected != nil {
		collected = *p.Collected
	}

	switch {
	case p.RequiresAuth != nil && *p.RequiresAuth:
		if complete || hasDevis {
			return TurnResult{}, fmt.Errorf("%w: requires_auth alongside a devis", ErrMalformedResponse)
		}
		res := TurnResult{Kind: TurnAuthRequired, Collected: collected, Message: DefaultAuthMessage}
		if p.Message != nil && *p.Message != "" {
			res.Message = *p.Message
		}
		if p.Reason != nil {
			res.Reason = *p.Reason
		}
		if p.HowToAuth != nil {
			res.HowToAuth = *p.HowToAuth
		}
		return res, nil

	case complete:
		if !hasDevis {
			return TurnResult{}, fmt.Errorf("%w: complete without devis", ErrMalformedResponse)
		}
		devis, err := ParseDevis(p.Devis)
		if err != nil {
			return TurnResult{}, err
		}
		res := TurnResult{Kind: TurnComplete, Collected: collected, Devis: devis}
		if p.Message != nil {
			res.Message = *p.Message
		}
		return res, nil

	case p.Question != nil && *p.Question != "":
		if hasDevis {
			return TurnResult{}, fmt.Errorf("%w: question alongside a devis", ErrMalformedResponse)
		}
		return TurnResult{Kind: TurnQuestion, Question: *p.Question, Collected: collected}, nil
	}

	return TurnResult{}, fmt.Errorf("%w: no question, devis or auth requirement", ErrMalformedResponse)
}

// QuoteTurn submits one answer. An empty message starts (or re-asks) the
// current question.
func (c *Client) QuoteTurn(ctx context.Context, message string) (TurnResult, error) {
	resp, err := c.do(ctx, http.MethodPost, PathQuote, map[string]string{"message": message})
	if err != nil {
		return TurnResult{}, err
	}
	res, err := NormalizeQuoteTurn(resp.Status, resp.Body)
	if err != nil {
		c.logger.Warn("quote turn rejected", zap.Int("status", resp.Status), zap.Error(err))
		return TurnResult{}, err
	}
	c.logger.Debug("quote turn",
		zap.Stringer("kind", res.Kind),
		zap.Int("collected", res.Collected.Len()))
	return res, nil
}

// QuoteReset clears the server-side flow and returns its confirmation.
func (c *Client) QuoteReset(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodDelete, PathQuote, nil)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", handleErrorResponse(resp)
	}
	var body struct {
		Message string `json:"message"`
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return body.Message, nil
}

// =============================================================================
// DEVIS
// =============================================================================

// Devis is the server-computed quote. It is display-only: the accessors
// read well-known keys on a best-effort basis and nothing is recomputed.
type Devis struct {
	raw    json.RawMessage
	fields map[string]any
}

// ParseDevis wraps a devis object.
func ParseDevis(raw []byte) (*Devis, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: devis is not an object: %v", ErrMalformedResponse, err)
	}
	return &Devis{raw: append(json.RawMessage(nil), raw...), fields: m}, nil
}

// Raw returns the devis exactly as received.
func (d *Devis) Raw() json.RawMessage { return d.raw }

// MarshalJSON returns the raw devis.
func (d *Devis) MarshalJSON() ([]byte, error) { return d.raw, nil }

// Get returns a top-level entry.
func (d *Devis) Get(key string) (any, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Keys returns the top-level keys, sorted.
func (d *Devis) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for k := range d.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Devis) str(key string) string {
	if s, ok := d.fields[key].(string); ok {
		return s
	}
	return ""
}

func (d *Devis) num(key string) (float64, bool) {
	n, ok := d.fields[key].(float64)
	return n, ok
}

func (d *Devis) Product() string  { return d.str("produit") }
func (d *Devis) Currency() string { return d.str("devise") }
func (d *Devis) Source() string   { return d.str("source") }
func (d *Devis) Note() string     { return d.str("note") }

// MonthlyPremium returns prime_mensuelle when present.
func (d *Devis) MonthlyPremium() (float64, bool) { return d.num("prime_mensuelle") }

// AnnualPremium returns prime_annuelle when present.
func (d *Devis) AnnualPremium() (float64, bool) { return d.num("prime_annuelle") }

// Assumptions returns the hypotheses block when present.
func (d *Devis) Assumptions() map[string]any {
	m, _ := d.fields["hypotheses"].(map[string]any)
	return m
}
