// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/logging"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "127.0.0.1:8000"

	// MaxRequestBodySize bounds request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the stub version reported by /health.
	Version = "0.3.0"
)

// Route paths, matching the production backend.
const (
	pathRegister = "/api/auth/register/"
	pathLogin    = "/api/auth/login/"
	pathLogout   = "/api/auth/logout/"
	pathProfile  = "/api/auth/profile/"
	pathChat     = "/api/chat/"
	pathQuote    = "/api/quote/"
	pathHealth   = "/health"

	pathProfileUpdate        = "/api/auth/profile/update/"
	pathChangePassword       = "/api/auth/change-password/"
	pathPasswordResetRequest = "/api/auth/request-password-reset/"
	pathPasswordResetConfirm = "/api/auth/confirm-password-reset/"
	pathSessions             = "/api/auth/sessions/"
	pathSessionsTerminateAll = "/api/auth/sessions/terminate-all/"
)

// Config configures a Server. Zero values select the defaults.
type Config struct {
	Addr string

	// RequestsPerSecond and Burst size the per-client limiter. A zero rate
	// disables limiting.
	RequestsPerSecond float64
	Burst             int

	// DSN selects the quote request store: "postgres://..." uses lib/pq,
	// anything else is a sqlite file path. Empty disables persistence.
	DSN string

	// AutoQuoteURL is the external auto pricing API. Empty always simulates.
	AutoQuoteURL string
	// QuoteURL prices the other products when set.
	QuoteURL string
	// ExternalTimeout bounds calls to either external API.
	ExternalTimeout time.Duration

	// SessionTTL expires idle quote sessions.
	SessionTTL time.Duration

	// OnPasswordReset receives each issued reset token in place of an email.
	OnPasswordReset func(email, token string)
}

// Server is the reference backend.
type Server struct {
	cfg    Config
	logger *zap.Logger

	users    *userStore
	sessions *sessionStore
	quotes   QuoteRepository
	pricer   *pricer
	limiter  *RateLimiter

	handler fasthttp.RequestHandler
	server  *fasthttp.Server
	started time.Time

	mu       sync.Mutex
	shutdown bool
}

// New builds a Server and opens its quote store.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 30 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	logger = logging.OrNop(logger).Named("server")

	quotes, err := OpenQuoteRepository(context.Background(), cfg.DSN)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		users:    newUserStore(),
		sessions: newSessionStore(cfg.SessionTTL),
		quotes:   quotes,
		pricer:   newPricer(cfg, logger),
		started:  time.Now(),
	}

	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(logger),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewRateLimiter(cfg.RequestsPerSecond, burst, 0)
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, logger))
	}
	s.handler = Chain(middlewares...)(s.route)

	s.server = &fasthttp.Server{
		Handler:            s.handler,
		Name:               "assurbot-stub",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxRequestBodySize: MaxRequestBodySize,
		Logger:             zap.NewStdLog(logger),
	}
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() fasthttp.RequestHandler { return s.handler }

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	// Token authentication runs before routing, so an invalid token is
	// refused even on endpoints that allow anonymous access.
	u, ok := s.authenticate(ctx)
	if !ok {
		writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]any{"detail": "Invalid token."})
		return
	}

	path := string(ctx.Path())
	method := string(ctx.Method())
	if u != nil {
		s.users.seen(u.account, s.sessions.current(ctx))
	}

	switch {
	case path == pathHealth && method == fasthttp.MethodGet:
		s.handleHealth(ctx)
	case path == pathRegister && method == fasthttp.MethodPost:
		s.handleRegister(ctx)
	case path == pathLogin && method == fasthttp.MethodPost:
		s.handleLogin(ctx)
	case path == pathLogout && method == fasthttp.MethodPost:
		s.handleLogout(ctx, u)
	case path == pathProfile && method == fasthttp.MethodGet:
		s.handleProfile(ctx, u)
	case path == pathChat && method == fasthttp.MethodPost:
		s.handleChat(ctx, u)
	case path == pathQuote && method == fasthttp.MethodPost:
		s.handleQuote(ctx, u)
	case path == pathQuote && method == fasthttp.MethodDelete:
		s.handleQuoteReset(ctx)
	case path == pathProfileUpdate && (method == fasthttp.MethodPut || method == fasthttp.MethodPatch):
		s.handleProfileUpdate(ctx, u)
	case path == pathChangePassword && method == fasthttp.MethodPost:
		s.handleChangePassword(ctx, u)
	case path == pathPasswordResetRequest && method == fasthttp.MethodPost:
		s.handleRequestReset(ctx)
	case path == pathPasswordResetConfirm && method == fasthttp.MethodPost:
		s.handleConfirmReset(ctx)
	case path == pathSessions && method == fasthttp.MethodGet:
		s.handleSessions(ctx, u)
	case path == pathSessionsTerminateAll && method == fasthttp.MethodDelete:
		s.handleTerminateAll(ctx, u)
	case method == fasthttp.MethodDelete && strings.HasPrefix(path, pathSessions):
		if key, ok := sessionKeyFromPath(path); ok {
			s.handleTerminateSession(ctx, u, key)
			return
		}
		writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{"detail": "Not found."})
	case isKnownPath(path):
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]any{
			"detail": "Method \"" + method + "\" not allowed.",
		})
	default:
		writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{"detail": "Not found."})
	}
}

func isKnownPath(path string) bool {
	switch path {
	case pathRegister, pathLogin, pathLogout, pathProfile, pathChat, pathQuote, pathHealth,
		pathProfileUpdate, pathChangePassword, pathPasswordResetRequest, pathPasswordResetConfirm,
		pathSessions, pathSessionsTerminateAll:
		return true
	}
	_, ok := sessionKeyFromPath(path)
	return ok
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":   "ok",
		"version":  Version,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"sessions": s.sessions.Len(),
		"users":    s.users.Len(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server start", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
	return s.server.Serve(ln)
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections, waits for in-flight requests and
// releases the quote store and limiter. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.logger.Info("server shutdown")
	err := s.server.ShutdownWithContext(ctx)
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.quotes != nil {
		err = errors.Join(err, s.quotes.Close())
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes v with status.
func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"success":false,"message":"encoding failure"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// writeFailure writes the {success:false} envelope the auth endpoints use.
func writeFailure(ctx *fasthttp.RequestCtx, status int, message string, fields map[string][]string) {
	body := map[string]any{"success": false, "message": message}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	writeJSON(ctx, status, body)
}

// decodeBody unmarshals a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(ctx *fasthttp.RequestCtx, v any) error {
	body := ctx.PostBody()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
