// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RANGE BOUNDARIES
// =============================================================================

func TestValidate_IntRangeBoundaries(t *testing.T) {
	for key, spec := range specs {
		if spec.Rule.Kind != RuleIntRange {
			continue
		}
		lo, hi := spec.Rule.Min, spec.Rule.Max
		t.Run(key, func(t *testing.T) {
			assert.True(t, Validate(key, strconv.Itoa(lo)).Accepted, "min %d", lo)
			assert.True(t, Validate(key, strconv.Itoa(hi)).Accepted, "max %d", hi)

			below := Validate(key, strconv.Itoa(lo-1))
			assert.False(t, below.Accepted)
			assert.Contains(t, below.Reason, "≥ "+strconv.Itoa(lo))

			above := Validate(key, strconv.Itoa(hi+1))
			assert.False(t, above.Accepted)
			assert.Contains(t, above.Reason, "≤ "+strconv.Itoa(hi))
		})
	}
}

func TestValidate_SeatCount(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", false},
		{"2", true},
		{"5 places", true},
		{"9", true},
		{"10", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(KeySeats, tt.in).Accepted)
		})
	}
}

func TestValidate_IntStripsSeparators(t *testing.T) {
	res := Validate(KeyMarketValue, "25 000 TND")
	require.True(t, res.Accepted)
	assert.Equal(t, "25000", res.Normalized)

	res = Validate(KeyCapital, "beaucoup")
	assert.False(t, res.Accepted)
	assert.Equal(t, "Veuillez indiquer un nombre entier.", res.Reason)

	res = Validate(KeyCapital, "   ")
	assert.False(t, res.Accepted)
	assert.Equal(t, "Valeur requise.", res.Reason)

	res = Validate(KeyCapital, "99999999999999999999999")
	assert.False(t, res.Accepted)
}

// =============================================================================
// NATIONAL ID
// =============================================================================

func TestValidate_NationalID(t *testing.T) {
	tests := []struct {
		in       string
		accepted bool
		norm     string
	}{
		{"12345678", true, "12345678"},
		{"1234-5678", true, "12345678"},
		{" 12 34 56 78 ", true, "12345678"},
		{"1234567", false, ""},
		{"123456789", false, ""},
		{"", false, ""},
		{"abcdefgh", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res := Validate(KeyNationalID, tt.in)
			assert.Equal(t, tt.accepted, res.Accepted)
			if tt.accepted {
				assert.Equal(t, tt.norm, res.Normalized)
			} else {
				assert.Contains(t, res.Reason, "8 chiffres")
			}
		})
	}
}

// =============================================================================
// DATES
// =============================================================================

func TestValidate_Date(t *testing.T) {
	accepted := []string{"2025-08-20", "20/08/2025", "20-08-2025"}
	for _, in := range accepted {
		t.Run("accept "+in, func(t *testing.T) {
			res := Validate(KeyFirstRegistration, in)
			require.True(t, res.Accepted, res.Reason)
			assert.Equal(t, "2025-08-20", res.Normalized)
		})
	}

	rejected := []string{"2025/08/20", "Aug 20 2025", "20.08.2025", "2025-8-20", "", "31/02/2025"}
	for _, in := range rejected {
		t.Run("reject "+in, func(t *testing.T) {
			assert.False(t, Validate(KeyFirstRegistration, in).Accepted)
		})
	}
}

func TestValidate_DateOffCalendar(t *testing.T) {
	for _, in := range []string{"2025-02-30", "31/04/2025", "29-02-2023"} {
		res := Validate(KeyFirstRegistration, in)
		assert.False(t, res.Accepted, in)
		assert.Equal(t, "Cette date n'existe pas.", res.Reason, in)
	}

	res := Validate(KeyFirstRegistration, "29/02/2024")
	require.True(t, res.Accepted)
	assert.Equal(t, "2024-02-29", res.Normalized)

	res = Validate(KeyFirstRegistration, "2025/08/20")
	assert.Contains(t, res.Reason, "Format de date invalide")
}

// =============================================================================
// CHOICES
// =============================================================================

func TestValidate_Product(t *testing.T) {
	tests := map[string]string{
		"vie":        "vie",
		"AUTO":       "auto",
		"Santé":      "sante",
		" sante ":    "sante",
		"Habitation": "habitation",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			res := Validate(KeyProduct, in)
			require.True(t, res.Accepted)
			assert.Equal(t, want, res.Normalized)
		})
	}

	assert.False(t, Validate(KeyProduct, "moto").Accepted)
	assert.False(t, Validate(KeyProduct, "").Accepted)
}

func TestValidate_ContractNature(t *testing.T) {
	for _, in := range []string{"R", "renouvellement", "Renewal"} {
		assert.Equal(t, NatureRenewal, Validate(KeyContractNature, in).Normalized, in)
	}
	for _, in := range []string{"n", "Nouveau", "new", "Affaire  nouvelle"} {
		assert.Equal(t, NatureNew, Validate(KeyContractNature, in).Normalized, in)
	}
	assert.False(t, Validate(KeyContractNature, "peut-être").Accepted)
}

func TestValidate_YesNo(t *testing.T) {
	for _, in := range []string{"oui", "O", "yes", "y", "Vrai", "1"} {
		assert.Equal(t, "oui", Validate(KeySmoker, in).Normalized, in)
	}
	for _, in := range []string{"non", "N", "no", "faux", "0"} {
		assert.Equal(t, "non", Validate(KeySmoker, in).Normalized, in)
	}
	res := Validate(KeySmoker, "parfois")
	assert.False(t, res.Accepted)
	assert.Equal(t, "Répondez par oui ou non.", res.Reason)
}

// =============================================================================
// UNKNOWN KEYS AND SEQUENCES
// =============================================================================

func TestValidate_UnknownKeyFailsOpen(t *testing.T) {
	res := Validate("commentaire", "n'importe quoi")
	assert.True(t, res.Accepted)

	_, ok := Lookup("commentaire")
	assert.False(t, ok)
	_, ok = Lookup(KeyNationalID)
	assert.True(t, ok)
}

func TestSequences(t *testing.T) {
	for _, p := range Products() {
		t.Run(string(p), func(t *testing.T) {
			seq := Sequence(p)
			require.NotEmpty(t, seq)
			assert.Equal(t, KeyProduct, seq[0].Key)
			for _, s := range seq {
				_, ok := Lookup(s.Key)
				assert.True(t, ok, "missing rule for %s", s.Key)
			}
		})
	}

	assert.Equal(t, []string{KeyProduct}, Keys(""))
	assert.Len(t, Keys(ProductAuto), 11)
}

func TestNext(t *testing.T) {
	collected := map[string]bool{KeyProduct: true, KeyNationalID: true}
	spec, ok := Next(ProductAuto, func(k string) bool { return collected[k] })
	require.True(t, ok)
	assert.Equal(t, KeyMarketValue, spec.Key)

	for _, k := range Keys(ProductVie) {
		collected[k] = true
	}
	_, ok = Next(ProductVie, func(k string) bool { return collected[k] })
	assert.False(t, ok)
}

func TestParseProductAndFold(t *testing.T) {
	p, ok := ParseProduct("SANTÉ")
	require.True(t, ok)
	assert.Equal(t, ProductSante, p)
	assert.Equal(t, "Assurance santé", p.Label())
	assert.Equal(t, "affaire nouvelle", Fold("  Affaire   Nouvelle "))
}
