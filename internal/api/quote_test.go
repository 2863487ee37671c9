// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// QUOTE TURN NORMALIZATION
// =============================================================================

func TestNormalizeQuoteTurn_Variants(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  TurnKind
		wantKeys  []string
		wantQ     string
		wantMsg   string
		wantError error
	}{
		{
			name:     "first question",
			status:   200,
			body:     `{"question":"Quel produit souhaitez-vous assurer ?","collected":{},"complete":false}`,
			wantKind: TurnQuestion,
			wantKeys: []string{},
			wantQ:    "Quel produit souhaitez-vous assurer ?",
		},
		{
			name:     "question with echo",
			status:   200,
			body:     `{"question":"Quel est votre âge ?","collected":{"produit":"vie"},"complete":false}`,
			wantKind: TurnQuestion,
			wantKeys: []string{"produit"},
			wantQ:    "Quel est votre âge ?",
		},
		{
			name:     "complete",
			status:   200,
			body:     `{"message":"Voici votre devis","devis":{"prime_mensuelle":12.5,"devise":"TND"},"complete":true}`,
			wantKind: TurnComplete,
			wantKeys: []string{},
			wantMsg:  "Voici votre devis",
		},
		{
			name:     "auth required body",
			status:   401,
			body:     `{"message":"Authentification requise pour obtenir un devis.","requires_auth":true,"reason":"auth_required_for_devis","collected":{"produit":"vie","age":35},"complete":false,"how_to_auth":"Envoyez l'en-tête Authorization"}`,
			wantKind: TurnAuthRequired,
			wantKeys: []string{"produit", "age"},
			wantMsg:  "Authentification requise pour obtenir un devis.",
		},
		{
			name:     "bare 401",
			status:   401,
			body:     ``,
			wantKind: TurnAuthRequired,
			wantKeys: []string{},
			wantMsg:  DefaultAuthMessage,
		},
		{
			name:     "requires_auth with 200",
			status:   200,
			body:     `{"requires_auth":true,"collected":{"produit":"vie"}}`,
			wantKind: TurnAuthRequired,
			wantKeys: []string{"produit"},
			wantMsg:  DefaultAuthMessage,
		},
		{
			name:      "complete without devis",
			status:    200,
			body:      `{"message":"Voici votre devis","complete":true}`,
			wantError: ErrMalformedResponse,
		},
		{
			name:      "empty object",
			status:    200,
			body:      `{}`,
			wantError: ErrMalformedResponse,
		},
		{
			name:      "question and devis",
			status:    200,
			body:      `{"question":"?","devis":{"a":1}}`,
			wantError: ErrMalformedResponse,
		},
		{
			name:      "nested collected value",
			status:    200,
			body:      `{"question":"?","collected":{"produit":{"x":1}}}`,
			wantError: ErrMalformedResponse,
		},
		{
			name:      "not json",
			status:    200,
			body:      `<html>`,
			wantError: ErrMalformedResponse,
		},
		{
			name:      "rate limited",
			status:    429,
			body:      ``,
			wantError: ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NormalizeQuoteTurn(tt.status, []byte(tt.body))
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.wantQ, res.Question)
			assert.Equal(t, tt.wantMsg, res.Message)
			keys := res.Collected.Keys()
			if keys == nil {
				keys = []string{}
			}
			if diff := cmp.Diff(tt.wantKeys, keys); diff != "" {
				t.Errorf("collected keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeQuoteTurn_AuthDetails(t *testing.T) {
	res, err := NormalizeQuoteTurn(401, []byte(`{"requires_auth":true,"reason":"auth_required_for_devis","how_to_auth":"Token <votre_token>"}`))
	require.NoError(t, err)
	assert.True(t, res.AuthRequired())
	assert.False(t, res.IsComplete())
	assert.Equal(t, "auth_required_for_devis", res.Reason)
	assert.Equal(t, "Token <votre_token>", res.HowToAuth)
	assert.Nil(t, res.Devis)
}

// =============================================================================
// COLLECTED FIELDS
// =============================================================================

func TestFields_OrderFollowsProductSequence(t *testing.T) {
	var f Fields
	body := `{"classe":3,"produit":"auto","zz_extra":"x","n_cin":"12345678","nature_contrat":"nouveau","aa_extra":true,"valeur_venale":25000}`
	require.NoError(t, json.Unmarshal([]byte(body), &f))

	want := []string{"produit", "n_cin", "valeur_venale", "nature_contrat", "classe", "aa_extra", "zz_extra"}
	if diff := cmp.Diff(want, f.Keys()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	p, ok := f.Product()
	require.True(t, ok)
	assert.Equal(t, "auto", p.String())

	v, ok := f.Get("valeur_venale")
	require.True(t, ok)
	n, isNum := v.Number()
	assert.True(t, isNum)
	assert.Equal(t, 25000.0, n)
	assert.Equal(t, "25000", v.String())

	b, _ := f.Get("aa_extra")
	assert.Equal(t, "oui", b.String())

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"produit":"auto","n_cin":"12345678","valeur_venale":25000,"nature_contrat":"nouveau","classe":3,"aa_extra":true,"zz_extra":"x"}`, string(out))
}

func TestFields_Equal(t *testing.T) {
	a := NewFields(map[string]Value{"produit": StringValue("vie"), "age": NumberValue(35)})
	b := NewFields(map[string]Value{"age": NumberValue(35), "produit": StringValue("vie")})
	c := NewFields(map[string]Value{"produit": StringValue("vie"), "age": NumberValue(36)})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, Fields{}.Equal(NewFields(nil)))
	assert.Equal(t, 2, a.Len())
	assert.False(t, a.Has("duree"))
}

// =============================================================================
// DEVIS
// =============================================================================

func TestDevis_Accessors(t *testing.T) {
	raw := `{"produit":"vie","capital":50000,"prime_mensuelle":13.02,"prime_annuelle":156.25,"devise":"TND","hypotheses":{"taux_de_base":0.0025}}`
	d, err := ParseDevis([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "vie", d.Product())
	assert.Equal(t, "TND", d.Currency())
	m, ok := d.MonthlyPremium()
	assert.True(t, ok)
	assert.Equal(t, 13.02, m)
	a, ok := d.AnnualPremium()
	assert.True(t, ok)
	assert.Equal(t, 156.25, a)
	assert.Equal(t, 0.0025, d.Assumptions()["taux_de_base"])
	assert.Equal(t, "", d.Note())
	assert.Contains(t, d.Keys(), "capital")
	assert.JSONEq(t, raw, string(d.Raw()))

	_, err = ParseDevis([]byte(`"not an object"`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
