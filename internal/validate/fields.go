// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

// FieldSpec describes one question of the quote flow.
type FieldSpec struct {
	Key      string
	Label    string
	Question string
	Rule     Rule
}

// Field keys as the backend names them.
const (
	KeyProduct           = "produit"
	KeyNationalID        = "n_cin"
	KeyAge               = "age"
	KeyCapital           = "capital"
	KeyDuration          = "duree"
	KeySmoker            = "fumeur"
	KeyMarketValue       = "valeur_venale"
	KeyContractNature    = "nature_contrat"
	KeySeats             = "nombre_place"
	KeyNewValue          = "valeur_a_neuf"
	KeyFirstRegistration = "date_premiere_mise_en_circulation"
	KeyGlassCover        = "capital_bris_de_glace"
	KeyCollisionCover    = "capital_dommage_collision"
	KeyPower             = "puissance"
	KeyVehicleClass      = "classe"
	KeyPropertyValue     = "valeur_bien"
	KeySurface           = "superficie"
	KeyContentsCover     = "capital_contenu"
)

func intRange(lo, hi int) Rule { return Rule{Kind: RuleIntRange, Min: lo, Max: hi} }

// One rule per key, shared by every product that asks for it.
var specs = map[string]FieldSpec{
	KeyProduct: {
		Key:      KeyProduct,
		Label:    "Produit",
		Question: "Quel produit souhaitez-vous assurer ? (vie, auto, sante, habitation)",
		Rule:     Rule{Kind: RuleProduct},
	},
	KeyNationalID: {
		Key:      KeyNationalID,
		Label:    "N° CIN",
		Question: "Quel est votre numéro de CIN (8 chiffres) ?",
		Rule:     Rule{Kind: RuleNationalID},
	},
	KeyAge: {
		Key:      KeyAge,
		Label:    "Âge",
		Question: "Quel est votre âge ?",
		Rule:     intRange(18, 80),
	},
	KeyCapital: {
		Key:      KeyCapital,
		Label:    "Capital",
		Question: "Quel capital à assurer (en TND) ?",
		Rule:     intRange(1000, 1000000),
	},
	KeyDuration: {
		Key:      KeyDuration,
		Label:    "Durée",
		Question: "Quelle durée d'assurance (en années) ?",
		Rule:     intRange(1, 40),
	},
	KeySmoker: {
		Key:      KeySmoker,
		Label:    "Fumeur",
		Question: "Êtes-vous fumeur ? (oui/non)",
		Rule:     Rule{Kind: RuleYesNo},
	},
	KeyMarketValue: {
		Key:      KeyMarketValue,
		Label:    "Valeur vénale",
		Question: "Quelle est la valeur vénale du véhicule (en TND) ?",
		Rule:     intRange(1000, 500000),
	},
	KeyContractNature: {
		Key:      KeyContractNature,
		Label:    "Nature du contrat",
		Question: "S'agit-il d'un renouvellement (R) ou d'une affaire nouvelle (N) ?",
		Rule:     Rule{Kind: RuleContractNature},
	},
	KeySeats: {
		Key:      KeySeats,
		Label:    "Nombre de places",
		Question: "Combien de places compte le véhicule ?",
		Rule:     intRange(2, 9),
	},
	KeyNewValue: {
		Key:      KeyNewValue,
		Label:    "Valeur à neuf",
		Question: "Quelle est la valeur à neuf du véhicule (en TND) ?",
		Rule:     intRange(1000, 600000),
	},
	KeyFirstRegistration: {
		Key:      KeyFirstRegistration,
		Label:    "Première mise en circulation",
		Question: "Date de première mise en circulation ? (AAAA-MM-JJ, JJ/MM/AAAA ou JJ-MM-AAAA)",
		Rule:     Rule{Kind: RuleDate},
	},
	KeyGlassCover: {
		Key:      KeyGlassCover,
		Label:    "Capital bris de glace",
		Question: "Quel capital bris de glace souhaitez-vous (en TND) ?",
		Rule:     intRange(100, 20000),
	},
	KeyCollisionCover: {
		Key:      KeyCollisionCover,
		Label:    "Capital dommage collision",
		Question: "Quel capital dommage collision souhaitez-vous (en TND) ?",
		Rule:     intRange(500, 500000),
	},
	KeyPower: {
		Key:      KeyPower,
		Label:    "Puissance fiscale",
		Question: "Quelle est la puissance fiscale du véhicule (en CV) ?",
		Rule:     intRange(3, 20),
	},
	KeyVehicleClass: {
		Key:      KeyVehicleClass,
		Label:    "Classe",
		Question: "Quelle est la classe du véhicule (1 à 5) ?",
		Rule:     intRange(1, 5),
	},
	KeyPropertyValue: {
		Key:      KeyPropertyValue,
		Label:    "Valeur du bien",
		Question: "Quelle est la valeur du bien (en TND) ?",
		Rule:     intRange(10000, 2000000),
	},
	KeySurface: {
		Key:      KeySurface,
		Label:    "Superficie",
		Question: "Quelle est la superficie du logement (en m²) ?",
		Rule:     intRange(20, 1000),
	},
	KeyContentsCover: {
		Key:      KeyContentsCover,
		Label:    "Capital contenu",
		Question: "Quel capital souhaitez-vous pour le contenu (en TND) ?",
		Rule:     intRange(1000, 500000),
	},
}

var sequences = map[ProductKind][]string{
	ProductVie: {KeyProduct, KeyAge, KeyCapital, KeyDuration, KeySmoker},
	ProductAuto: {
		KeyProduct, KeyNationalID, KeyMarketValue, KeyContractNature, KeySeats,
		KeyNewValue, KeyFirstRegistration, KeyGlassCover, KeyCollisionCover,
		KeyPower, KeyVehicleClass,
	},
	ProductSante:      {KeyProduct, KeyNationalID, KeyAge, KeyCapital, KeyDuration, KeySmoker},
	ProductHabitation: {KeyProduct, KeyNationalID, KeyPropertyValue, KeySurface, KeyContractNature, KeyContentsCover},
}

// Lookup returns the spec registered for key.
func Lookup(key string) (FieldSpec, bool) {
	s, ok := specs[key]
	return s, ok
}

// Validate checks raw against the rule registered for key. Keys without a
// rule are accepted as free text; use Lookup to tell the two cases apart.
func Validate(key, raw string) Result {
	s, ok := specs[key]
	if !ok {
		return Rule{Kind: RuleFreeText}.Check(raw)
	}
	return s.Rule.Check(raw)
}

// Keys returns the ordered field keys for kind. An unknown kind yields only
// the product selector, which is all that is known before the first answer.
func Keys(kind ProductKind) []string {
	seq, ok := sequences[kind]
	if !ok {
		return []string{KeyProduct}
	}
	out := make([]string, len(seq))
	copy(out, seq)
	return out
}

// Sequence returns the ordered specs for kind.
func Sequence(kind ProductKind) []FieldSpec {
	keys := Keys(kind)
	out := make([]FieldSpec, 0, len(keys))
	for _, k := range keys {
		out = append(out, specs[k])
	}
	return out
}

// Next returns the first spec of kind's sequence for which has reports
// false. ok is false once every field is present.
func Next(kind ProductKind, has func(key string) bool) (FieldSpec, bool) {
	for _, s := range Sequence(kind) {
		if !has(s.Key) {
			return s, true
		}
	}
	return FieldSpec{}, false
}
