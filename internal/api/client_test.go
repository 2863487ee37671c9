// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at srv with retries that never sleep.
func newTestClient(t *testing.T, srv *httptest.Server, tokens TokenSource, attempts int) *Client {
	t.Helper()
	c := NewClient(Config{BaseURL: srv.URL, MaxAttempts: attempts, Timeout: 5 * time.Second}, tokens, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

// =============================================================================
// HEADERS AND COOKIES
// =============================================================================

func TestClient_HeadersAndToken(t *testing.T) {
	var gotAuth, gotType, gotAccept, gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotType.Store(r.Header.Get("Content-Type"))
		gotAccept.Store(r.Header.Get("Accept"))
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Write([]byte(`{"question":"Quel produit ?","collected":{},"complete":false}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, StaticToken("abc123"), 1)
	_, err := c.QuoteTurn(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "Token abc123", gotAuth.Load())
	assert.Equal(t, "application/json", gotType.Load())
	assert.Equal(t, "application/json", gotAccept.Load())
	assert.Equal(t, DefaultUserAgent, gotUA.Load())
}

func TestClient_AnonymousSendsNoAuthorization(t *testing.T) {
	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			sawAuth.Store(true)
		}
		w.Write([]byte(`{"message":"Flux devis réinitialisé."}`))
	}))
	defer srv.Close()

	msg, err := newTestClient(t, srv, nil, 1).QuoteReset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Flux devis réinitialisé.", msg)
	assert.False(t, sawAuth.Load())
}

func TestClient_SessionCookiePersists(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "s1", Path: "/"})
			w.Write([]byte(`{"question":"Quel produit ?","collected":{},"complete":false}`))
			return
		}
		cookie, err := r.Cookie("sessionid")
		if err != nil || cookie.Value != "s1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"question":"Quel est votre âge ?","collected":{"produit":"vie"},"complete":false}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil, 1)
	_, err := c.QuoteTurn(context.Background(), "")
	require.NoError(t, err)
	res, err := c.QuoteTurn(context.Background(), "vie")
	require.NoError(t, err)
	assert.Equal(t, "Quel est votre âge ?", res.Question)
}

// =============================================================================
// UNAUTHORIZED HOOK
// =============================================================================

func TestClient_OnUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid token."}`))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		tokens TokenSource
		want   bool
	}{
		{"with token", StaticToken("stale"), true},
		{"anonymous", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, srv, tt.tokens, 3)
			var calls []bool
			var mu sync.Mutex
			c.OnUnauthorized(func(rejected string) {
				mu.Lock()
				defer mu.Unlock()
				calls = append(calls, rejected != "")
			})

			_, err := c.Profile(context.Background())
			assert.ErrorIs(t, err, ErrAuthRequired)
			assert.Equal(t, []bool{tt.want}, calls, "401 is never retried")
		})
	}
}

// =============================================================================
// RETRY POLICY
// =============================================================================

func TestClient_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		call      func(*Client) error
		attempts  int
		wantCalls int32
		wantErr   error
	}{
		{
			name:      "429 then ok on POST",
			statuses:  []int{429, 200},
			call:      func(c *Client) error { _, err := c.QuoteTurn(context.Background(), "vie"); return err },
			attempts:  3,
			wantCalls: 2,
		},
		{
			name:      "429 exhausts budget",
			statuses:  []int{429, 429, 429},
			call:      func(c *Client) error { _, err := c.QuoteTurn(context.Background(), "vie"); return err },
			attempts:  3,
			wantCalls: 3,
			wantErr:   ErrRateLimited,
		},
		{
			name:      "500 on POST is not retried",
			statuses:  []int{500, 200},
			call:      func(c *Client) error { _, err := c.QuoteTurn(context.Background(), "vie"); return err },
			attempts:  3,
			wantCalls: 1,
		},
		{
			name:      "503 on GET is retried",
			statuses:  []int{503, 200},
			call:      func(c *Client) error { _, err := c.Profile(context.Background()); return err },
			attempts:  3,
			wantCalls: 2,
		},
		{
			name:      "single attempt disables retries",
			statuses:  []int{429, 200},
			call:      func(c *Client) error { _, err := c.QuoteTurn(context.Background(), "vie"); return err },
			attempts:  1,
			wantCalls: 1,
			wantErr:   ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				w.WriteHeader(status)
				if status == http.StatusOK {
					if r.Method == http.MethodGet {
						w.Write([]byte(`{"success":true,"data":{"email":"a@b.tn","name":"Amira"}}`))
					} else {
						w.Write([]byte(`{"question":"Quel est votre âge ?","collected":{"produit":"vie"},"complete":false}`))
					}
				}
			}))
			defer srv.Close()

			err := tt.call(newTestClient(t, srv, StaticToken("t"), tt.attempts))
			assert.Equal(t, tt.wantCalls, calls.Load())

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.name == "500 on POST is not retried":
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, 500, apiErr.Status)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_CalculateBackoff(t *testing.T) {
	c := NewClient(Config{BackoffBase: 100 * time.Millisecond, BackoffMax: time.Second}, nil, nil)
	for attempt := 1; attempt < 10; attempt++ {
		d := c.calculateBackoff(attempt, nil)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}

	d := c.calculateBackoff(1, &retryAfterError{status: 429, after: 700 * time.Millisecond})
	assert.Equal(t, 700*time.Millisecond, d)

	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestClient_DefaultSendsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil, nil)
	_, err := c.QuoteTurn(context.Background(), "vie")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxAttempts: 5, BackoffBase: time.Minute, BackoffMax: time.Minute}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.QuoteTurn(ctx, "vie")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_RateLimiterThrottles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 20, Burst: 1}, nil, nil)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.QuoteReset(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestReadResponse_SizeLimit(t *testing.T) {
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(strings.Repeat("a", MaxResponseSize+1)))}
	_, err := readResponse(resp)
	assert.Error(t, err)

	resp = &http.Response{Body: io.NopCloser(strings.NewReader("{}"))}
	body, err := readResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

// =============================================================================
// AUTH CALLS
// =============================================================================

func TestClient_LoginAndRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathLogin:
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"password":"secret123"`) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"success":false,"message":"Login failed","errors":{"non_field_errors":["Invalid email or password."]}}`))
				return
			}
			w.Write([]byte(`{"success":true,"data":{"token":"tok","user":{"id":7,"email":"a@b.tn","name":"Amira"}}}`))
		case PathRegister:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"message":"Registration failed","errors":{"email":["A user with this email already exists."],"password_confirm":"Password confirmation does not match."}}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil, 1)

	res, err := c.Login(context.Background(), "a@b.tn", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Token)
	require.NotNil(t, res.User)
	assert.Equal(t, "Amira", res.User.DisplayName())
	assert.Equal(t, "7", res.User.ID.String())

	_, err = c.Login(context.Background(), "a@b.tn", "wrong")
	assert.True(t, IsCredentialRejection(err))

	_, err = c.Register(context.Background(), RegisterRequest{Email: "a@b.tn"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Registration failed", apiErr.Message)
	assert.Equal(t, []string{"A user with this email already exists."}, apiErr.Fields["email"])
	assert.Equal(t, []string{"Password confirmation does not match."}, apiErr.Fields["password_confirm"])
}

func TestNormalizeAuthAndProfile(t *testing.T) {
	res, err := NormalizeAuth([]byte(`{"token":"bare"}`))
	require.NoError(t, err)
	assert.Equal(t, "bare", res.Token)
	assert.Nil(t, res.User)

	u, err := NormalizeProfile([]byte(`{"success":true,"data":{"email":"x@y.tn","name":""}}`))
	require.NoError(t, err)
	assert.Equal(t, "x@y.tn", u.DisplayName())

	u, err = NormalizeProfile([]byte(`{"email":"bare@y.tn"}`))
	require.NoError(t, err)
	assert.Equal(t, "bare@y.tn", u.Email)

	_, err = NormalizeProfile([]byte(`{"success":true,"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = NormalizeProfile([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

// =============================================================================
// CHAT
// =============================================================================

func TestNormalizeChat(t *testing.T) {
	reply, err := NormalizeChat(200, []byte(`{"response":"Bonjour","response_time":0.42}`))
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", reply.Text)
	assert.InDelta(t, 0.42, reply.ResponseTime, 1e-9)
	assert.False(t, reply.RequiresAuth)

	reply, err = NormalizeChat(401, []byte(`{"response":"Connectez-vous.","confidential":true,"requires_auth":true,"matched":["profession"],"how_to_auth":"Token"}`))
	require.NoError(t, err)
	assert.True(t, reply.Confidential)
	assert.True(t, reply.RequiresAuth)
	assert.Equal(t, []string{"profession"}, reply.Matched)

	_, err = NormalizeChat(401, nil)
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = NormalizeChat(200, []byte(`{"answer":"?"}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = NormalizeChat(429, nil)
	assert.ErrorIs(t, err, ErrRateLimited)
}
