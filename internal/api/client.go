// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bhassurance/assurbot/internal/logging"
)

// Configuration defaults.
const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 1
	DefaultUserAgent   = "assurbot"

	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 8 * time.Second

	// MaxResponseSize bounds how much of a response body is read.
	// SECURITY: prevents memory exhaustion from a misbehaving backend.
	MaxResponseSize = 4 * 1024 * 1024
)

// Backend paths.
const (
	PathRegister = "/api/auth/register/"
	PathLogin    = "/api/auth/login/"
	PathLogout   = "/api/auth/logout/"
	PathProfile  = "/api/auth/profile/"
	PathChat     = "/api/chat/"
	PathQuote    = "/api/quote/"

	PathProfileUpdate        = "/api/auth/profile/update/"
	PathChangePassword       = "/api/auth/change-password/"
	PathPasswordResetRequest = "/api/auth/request-password-reset/"
	PathPasswordResetConfirm = "/api/auth/confirm-password-reset/"
	PathSessions             = "/api/auth/sessions/"
	PathSessionsTerminateAll = "/api/auth/sessions/terminate-all/"
)

var (
	// ErrAuthRequired indicates a 401: no credential, or an invalid one.
	ErrAuthRequired = errors.New("authentication required")

	// ErrRateLimited indicates a 429 that outlived the retry budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedResponse indicates a payload matching none of the
	// expected response variants.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError is a non-2xx response not covered by a sentinel.
type APIError struct {
	Status  int
	Message string
	// Fields holds per-field validation messages, when the backend sent any.
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// TokenSource yields the credential to attach. An empty string means
// anonymous.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource with a fixed value.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() string { return string(s) }

// Config configures a Client. Zero values select the defaults.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// RequestsPerSecond <= 0 disables the outbound throttle.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the transport, mainly for tests. Its cookie jar
	// is replaced when nil.
	HTTPClient *http.Client
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL     string
	userAgent   string
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration

	http    *http.Client
	limiter *rate.Limiter
	tokens  TokenSource
	logger  *zap.Logger

	mu             sync.RWMutex
	onUnauthorized []func(rejected string)

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client. tokens may be nil for an anonymous client.
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = defaultBackoffMax
	}
	if tokens == nil {
		tokens = StaticToken("")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: cfg.Timeout,
		}
	}
	if httpClient.Jar == nil {
		jar, _ := cookiejar.New(nil) // only fails on a bad PublicSuffixList
		httpClient.Jar = jar
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:   cfg.UserAgent,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		http:        httpClient,
		limiter:     limiter,
		tokens:      tokens,
		logger:      logging.OrNop(logger).Named("api"),
		sleep:       sleepCtx,
	}
}

// BaseURL returns the backend root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// OnUnauthorized registers fn to run whenever the backend answers 401.
// rejected is the token the request carried, empty for an anonymous
// request. A non-empty value is a credential proven invalid.
func (c *Client) OnUnauthorized(fn func(rejected string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = append(c.onUnauthorized, fn)
}

func (c *Client) notifyUnauthorized(token string) {
	c.mu.RLock()
	hooks := append([]func(string){}, c.onUnauthorized...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(token)
	}
}

// =============================================================================
// REQUEST EXECUTION
// =============================================================================

// response is a fully read HTTP response.
type response struct {
	Status int
	Body   []byte
}

func (r *response) ok() bool { return r.Status >= 200 && r.Status < 300 }

// do sends one logical request, retrying transient failures per policy.
// A non-2xx status is not an error here; callers decide what it means.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	idempotent := method == http.MethodGet || method == http.MethodDelete

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.calculateBackoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if idempotent && isNetworkError(err) {
				continue
			}
			return nil, err
		}

		switch {
		case resp.Status == http.StatusTooManyRequests:
			lastErr = &retryAfterError{status: resp.Status, after: resp.retryAfter}
			continue
		case resp.Status >= 500 && idempotent:
			lastErr = &retryAfterError{status: resp.Status}
			continue
		}
		return &resp.response, nil
	}

	var ra *retryAfterError
	if errors.As(lastErr, &ra) {
		if ra.status == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}
		return nil, &APIError{Status: ra.status, Message: http.StatusText(ra.status)}
	}
	return nil, fmt.Errorf("max attempts exceeded: %w", lastErr)
}

type sentResponse struct {
	response
	retryAfter time.Duration
}

// send performs exactly one HTTP exchange.
func (c *Client) send(ctx context.Context, method, path string, body []byte) (*sentResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	token := c.tokens.Token()
	c.setHeaders(req, token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	// CLOUD: secure logging. Method, path, status, duration and a token
	// fingerprint only; never headers or bodies.
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		logging.Token(token))

	if resp.StatusCode == http.StatusUnauthorized {
		c.notifyUnauthorized(token)
	}

	return &sentResponse{
		response:   response{Status: resp.StatusCode, Body: data},
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// RETRY POLICY
// =============================================================================

type retryAfterError struct {
	status int
	after  time.Duration
}

func (e *retryAfterError) Error() string { return fmt.Sprintf("status %d", e.status) }

// calculateBackoff returns a full-jitter delay in [0, min(max, base<<attempt)].
// A server supplied Retry-After wins when it is within the cap.
func (c *Client) calculateBackoff(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.after > 0 && ra.after <= c.backoffMax {
		return ra.after
	}
	ceiling := c.backoffBase << uint(attempt-1)
	if ceiling <= 0 || ceiling > c.backoffMax {
		ceiling = c.backoffMax
	}
	return rand.N(ceiling + 1)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// errorBody is the union of the backend's error payload shapes.
type errorBody struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Error   string          `json:"error"`
	Errors  json.RawMessage `json:"errors"`
}

// handleErrorResponse converts a non-2xx response to an error.
func handleErrorResponse(resp *response) error {
	switch resp.Status {
	case http.StatusUnauthorized:
		return ErrAuthRequired
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	apiErr := &APIError{Status: resp.Status}
	var eb errorBody
	if err := json.Unmarshal(resp.Body, &eb); err == nil {
		apiErr.Message = firstNonEmpty(eb.Message, eb.Detail, eb.Error)
		apiErr.Fields = decodeFieldErrors(eb.Errors)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.Status)
	}
	return apiErr
}

// decodeFieldErrors accepts {"field": ["msg", ...]}, {"field": "msg"} and a
// bare list (stored under "non_field_errors").
func decodeFieldErrors(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return map[string][]string{"non_field_errors": list}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	out := make(map[string][]string, len(obj))
	for field, v := range obj {
		var msgs []string
		if err := json.Unmarshal(v, &msgs); err == nil {
			out[field] = msgs
			continue
		}
		var msg string
		if err := json.Unmarshal(v, &msg); err == nil {
			out[field] = []string{msg}
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
