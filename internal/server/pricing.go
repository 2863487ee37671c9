// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/validate"
)

// Devis sources, as stored with each quote request.
const (
	SourceExternal  = "api_externe"
	SourceSimulated = "simulated"
	SourceAPI       = "api"
)

// Currency of every premium.
const Currency = "TND"

// baseRates are annual premium rates per unit of capital.
var baseRates = map[validate.ProductKind]float64{
	validate.ProductVie:        0.0025,
	validate.ProductAuto:       0.015,
	validate.ProductSante:      0.010,
	validate.ProductHabitation: 0.006,
}

// Defaults applied when a product's questionnaire does not ask for a
// pricing input.
const (
	defaultAge      = 30
	defaultDuration = 1
)

// pricingInputs are the values the premium model reads.
type pricingInputs struct {
	product  validate.ProductKind
	age      int
	capital  int
	duration int
	smoker   bool
}

func inputsFrom(collected map[string]api.Value) pricingInputs {
	in := pricingInputs{age: defaultAge, duration: defaultDuration}
	if v, ok := collected[validate.KeyProduct]; ok {
		in.product, _ = validate.ParseProduct(v.String())
	}
	if n, ok := intValue(collected, validate.KeyAge); ok {
		in.age = n
	}
	if n, ok := intValue(collected, validate.KeyDuration); ok {
		in.duration = n
	}
	// Capital falls back to the vehicle or property value.
	for _, k := range []string{validate.KeyCapital, validate.KeyMarketValue, validate.KeyPropertyValue} {
		if n, ok := intValue(collected, k); ok {
			in.capital = n
			break
		}
	}
	if v, ok := collected[validate.KeySmoker]; ok {
		in.smoker, _ = v.Bool()
	}
	return in
}

func intValue(collected map[string]api.Value, key string) (int, bool) {
	v, ok := collected[key]
	if !ok {
		return 0, false
	}
	n, ok := v.Number()
	return int(n), ok
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// SimulateQuote prices a quote locally with the simple premium model.
func SimulateQuote(collected map[string]api.Value) map[string]any {
	in := inputsFrom(collected)
	baseRate := baseRates[in.product]

	risk := 1.0
	switch in.product {
	case validate.ProductVie:
		risk *= 1.0 + float64(max(0, in.age-30))*0.02
		if in.smoker {
			risk *= 1.25
		}
	case validate.ProductAuto:
		if in.age < 25 {
			risk *= 1.3
		}
	case validate.ProductSante:
		risk *= 1.0 + float64(max(0, in.age-40))*0.015
	}

	durationFactor := 1.0 - float64(min(in.duration, 20))*0.01
	annual := float64(in.capital) * baseRate * risk * durationFactor

	return map[string]any{
		"produit":         string(in.product),
		"capital":         in.capital,
		"age":             in.age,
		"duree":           in.duration,
		"fumeur":          in.smoker,
		"prime_mensuelle": round(annual/12, 2),
		"prime_annuelle":  round(annual, 2),
		"devise":          Currency,
		"hypotheses": map[string]any{
			"taux_de_base":   baseRate,
			"facteur_risque": round(risk, 3),
			"facteur_duree":  round(durationFactor, 3),
		},
	}
}

// pricer produces devis, preferring the configured external APIs and
// falling back to SimulateQuote.
type pricer struct {
	autoURL  string
	quoteURL string
	timeout  time.Duration
	client   *fasthttp.Client
	logger   *zap.Logger
}

func newPricer(cfg Config, logger *zap.Logger) *pricer {
	return &pricer{
		autoURL:  cfg.AutoQuoteURL,
		quoteURL: cfg.QuoteURL,
		timeout:  cfg.ExternalTimeout,
		client: &fasthttp.Client{
			Name:                "assurbot-stub",
			MaxConnsPerHost:     16,
			ReadTimeout:         cfg.ExternalTimeout,
			WriteTimeout:        cfg.ExternalTimeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		logger: logger,
	}
}

// autoParams are forwarded to the external auto pricing API.
var autoParams = []string{
	validate.KeyNationalID, validate.KeyMarketValue, validate.KeyContractNature,
	validate.KeySeats, validate.KeyNewValue, validate.KeyFirstRegistration,
	validate.KeyGlassCover, validate.KeyCollisionCover, validate.KeyPower,
	validate.KeyVehicleClass,
}

// price returns the devis and its source. authorization is forwarded to the
// generic quote API.
func (p *pricer) price(collected map[string]api.Value, authorization string) (map[string]any, string) {
	product, _ := validate.ParseProduct(collected[validate.KeyProduct].String())

	if product == validate.ProductAuto {
		if p.autoURL == "" {
			return p.simulated(collected), SourceAPI
		}
		raw, err := p.fetchAuto(collected)
		if err != nil {
			p.logger.Warn("external auto api failed", zap.Error(err))
			dev := p.simulated(collected)
			dev["note"] = fmt.Sprintf("API externe indisponible, devis simulé localement. Erreur: %v", err)
			dev["api_error"] = err.Error()
			dev["source"] = SourceSimulated
			return dev, SourceSimulated
		}
		dev := map[string]any{
			"produit":      string(validate.ProductAuto),
			"source":       SourceExternal,
			"api_response": raw,
			"parametres":   collected,
			"message":      "Devis auto généré via API externe",
			"api_url":      p.autoURL,
		}
		return dev, SourceExternal
	}

	if p.quoteURL == "" {
		return p.simulated(collected), SourceAPI
	}
	dev, err := p.fetchQuote(collected, authorization)
	if err != nil {
		p.logger.Warn("quote api failed", zap.Error(err))
		dev = p.simulated(collected)
		dev["note"] = fmt.Sprintf("API indisponible, devis simulé localement (%v)", err)
		dev["source"] = SourceSimulated
		return dev, SourceSimulated
	}
	return dev, SourceAPI
}

func (p *pricer) simulated(collected map[string]api.Value) map[string]any {
	dev := SimulateQuote(collected)
	dev["source"] = SourceAPI
	return dev
}

func (p *pricer) fetchAuto(collected map[string]api.Value) (json.RawMessage, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.autoURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	args := req.URI().QueryArgs()
	for _, k := range autoParams {
		if v, ok := collected[k]; ok {
			args.Add(k, v.String())
		}
	}

	if err := p.client.DoTimeout(req, resp, p.timeout); err != nil {
		return nil, err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, fmt.Errorf("HTTP %d", code)
	}
	body := append([]byte(nil), resp.Body()...)
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON from %s", p.autoURL)
	}
	return body, nil
}

func (p *pricer) fetchQuote(collected map[string]api.Value, authorization string) (map[string]any, error) {
	payload, err := json.Marshal(collected)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.quoteURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if authorization != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, authorization)
	}
	req.SetBody(payload)

	if err := p.client.DoTimeout(req, resp, p.timeout); err != nil {
		return nil, err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, fmt.Errorf("HTTP %d", code)
	}
	var dev map[string]any
	if err := json.Unmarshal(resp.Body(), &dev); err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("empty devis")
	}
	if _, ok := dev["source"]; !ok {
		dev["source"] = SourceAPI
	}
	return dev, nil
}

// legacyCapital mirrors the single capital column of the quote_requests
// table.
func legacyCapital(collected map[string]api.Value) (int, bool) {
	for _, k := range []string{validate.KeyCapital, validate.KeyMarketValue} {
		if n, ok := intValue(collected, k); ok {
			return n, true
		}
	}
	return 0, false
}

func productOf(collected map[string]api.Value) string {
	if v, ok := collected[validate.KeyProduct]; ok {
		return strings.ToLower(v.String())
	}
	return ""
}
