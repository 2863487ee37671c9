// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/bhassurance/assurbot/internal/api"
)

// SessionCookie is the cookie carrying the quote session id.
const SessionCookie = "sessionid"

// flowState is the server-side quote progress of one session.
type flowState struct {
	collected map[string]api.Value
	complete  bool
}

type session struct {
	id       string
	flow     *flowState
	lastSeen time.Time
}

// sessionStore maps session ids to quote progress. Idle sessions are
// dropped lazily on access.
type sessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Len returns the number of live sessions.
func (s *sessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.sessions)
}

// acquire returns the request's session, issuing a cookie for a new one.
// The returned unlock func must be called once the caller is done with the
// flow state.
func (s *sessionStore) acquire(ctx *fasthttp.RequestCtx) (*session, func()) {
	id := string(ctx.Request.Header.Cookie(SessionCookie))

	s.mu.Lock()
	s.expireLocked()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{id: uuid.NewString()}
		s.sessions[sess.id] = sess
		setSessionCookie(ctx, sess.id)
	}
	sess.lastSeen = s.now()
	if sess.flow == nil {
		sess.flow = &flowState{collected: make(map[string]api.Value)}
	}
	return sess, s.mu.Unlock
}

// touch returns the request's session id, issuing a cookie for a new
// session. Logins are recorded against it.
func (s *sessionStore) touch(ctx *fasthttp.RequestCtx) string {
	sess, unlock := s.acquire(ctx)
	defer unlock()
	return sess.id
}

// current returns the request's session id without creating one.
func (s *sessionStore) current(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Request.Header.Cookie(SessionCookie))
}

// drop deletes a session and its quote progress.
func (s *sessionStore) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// reset forgets the quote progress of the request's session, if any.
func (s *sessionStore) reset(ctx *fasthttp.RequestCtx) {
	id := string(ctx.Request.Header.Cookie(SessionCookie))
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.flow = nil
		sess.lastSeen = s.now()
	}
}

func (s *sessionStore) expireLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

func setSessionCookie(ctx *fasthttp.RequestCtx, id string) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)
	c.SetKey(SessionCookie)
	c.SetValue(id)
	c.SetPath("/")
	c.SetHTTPOnly(true)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	ctx.Response.Header.SetCookie(c)
}

// finish marks flow complete unless the session was reset meanwhile.
func (s *sessionStore) finish(sess *session, flow *flowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.flow == flow {
		flow.complete = true
	}
}
