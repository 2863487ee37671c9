// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/logging"
)

var (
	// ErrInvalidCredentials means the backend rejected the email/password pair.
	ErrInvalidCredentials = errors.New("identifiants invalides")

	// ErrConfirmationPending means the account was created but the backend
	// issued no token yet (e.g. email confirmation required).
	ErrConfirmationPending = errors.New("compte créé, confirmation requise")

	// ErrNotSignedIn means the operation needs a credential and none is held.
	ErrNotSignedIn = errors.New("aucun compte connecté")
)

// FormError carries the backend's per-field complaints about a submitted
// form: registration, profile update or password change.
type FormError struct {
	Message string
	Fields  map[string][]string
}

func (e *FormError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// Backend is the subset of the API client the store needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (api.AuthResult, error)
	Register(ctx context.Context, req api.RegisterRequest) (api.AuthResult, error)
	Logout(ctx context.Context) error
	Profile(ctx context.Context) (*api.User, error)
	UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (*api.User, error)
	ChangePassword(ctx context.Context, req api.PasswordChange) (string, error)
}

// Snapshot is a read-only view of the identity.
type Snapshot struct {
	SignedIn bool
	User     *api.User
}

// Greeting returns the name to greet, or "" when anonymous.
func (s Snapshot) Greeting() string {
	if !s.SignedIn {
		return ""
	}
	return s.User.DisplayName()
}

// Store is the process's identity. It is safe for concurrent use.
type Store struct {
	backend Backend
	persist Persister
	logger  *zap.Logger

	mu   sync.RWMutex
	cred Credential

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	refresh singleflight.Group

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewStore builds an anonymous store. Call Load to restore a persisted
// credential.
func NewStore(backend Backend, persist Persister, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		persist: persist,
		logger:  logging.OrNop(logger).Named("identity"),
		subs:    make(map[int]func(Snapshot)),
	}
}

// Token implements api.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.Token
}

// Snapshot returns the current identity.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked reports signed in whenever a token is held, so the snapshot
// agrees with what Token attaches. A profile not fetched yet reads as an
// empty user until Refresh fills it in.
func (s *Store) snapshotLocked() Snapshot {
	if s.cred.Empty() {
		return Snapshot{}
	}
	var u api.User
	if s.cred.User != nil {
		u = *s.cred.User
	}
	return Snapshot{SignedIn: true, User: &u}
}

// Subscribe registers fn for identity changes and returns a function that
// removes it. fn runs on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Load restores the persisted credential. An unreadable file is treated as
// no credential and removed.
func (s *Store) Load() error {
	cred, err := s.persist.Load()
	if err != nil {
		s.logger.Warn("discarding unreadable credentials", zap.Error(err))
		_ = s.persist.Clear()
		cred = Credential{}
	}

	s.mu.Lock()
	s.cred = cred
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if !cred.Empty() {
		s.logger.Info("credential restored", logging.Token(cred.Token))
	}
	s.notify(snap)
	return nil
}

// Refresh verifies the held token by fetching the profile. Any failure,
// expired token or unreachable backend alike, silently returns the store to
// anonymous. Concurrent calls share one request.
func (s *Store) Refresh(ctx context.Context) Snapshot {
	token := s.Token()
	if token == "" {
		return s.Snapshot()
	}

	v, _, _ := s.refresh.Do(token, func() (any, error) {
		user, err := s.backend.Profile(ctx)
		if err != nil {
			s.logger.Info("stored credential no longer valid", logging.Token(token), zap.Error(err))
			s.clearIfCurrent(token)
			return s.Snapshot(), nil
		}
		s.mu.Lock()
		if s.cred.Token != token {
			// Signed out or replaced while the profile was in flight.
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		s.cred.User = user
		cred := s.cred
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if err := s.persist.Save(cred); err != nil {
			s.logger.Warn("failed to persist refreshed profile", zap.Error(err))
		}
		s.notify(snap)
		return snap, nil
	})
	return v.(Snapshot)
}

// SignIn exchanges credentials for a token and profile.
func (s *Store) SignIn(ctx context.Context, email, password string) (Snapshot, error) {
	res, err := s.backend.Login(ctx, strings.TrimSpace(strings.ToLower(email)), password)
	if err != nil {
		if api.IsCredentialRejection(err) {
			return s.Snapshot(), ErrInvalidCredentials
		}
		return s.Snapshot(), fmt.Errorf("sign in: %w", err)
	}
	return s.complete(ctx, res)
}

// SignUp registers an account. When the backend issues a token right away
// the user is signed in; otherwise ErrConfirmationPending is returned.
func (s *Store) SignUp(ctx context.Context, req api.RegisterRequest) (Snapshot, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.UserType == "" {
		req.UserType = api.UserTypeClient
	}

	res, err := s.backend.Register(ctx, req)
	if err != nil {
		if fe := asFormError(err); fe != nil {
			return s.Snapshot(), fe
		}
		return s.Snapshot(), fmt.Errorf("sign up: %w", err)
	}
	if res.Token == "" {
		return s.Snapshot(), ErrConfirmationPending
	}
	return s.complete(ctx, res)
}

// complete adopts a token, fetching the profile when the response lacked it.
func (s *Store) complete(ctx context.Context, res api.AuthResult) (Snapshot, error) {
	user := res.User
	if user == nil {
		// The profile call authenticates with the new token.
		s.mu.Lock()
		s.cred = Credential{Token: res.Token}
		s.mu.Unlock()

		u, err := s.backend.Profile(ctx)
		if err != nil {
			s.clearIfCurrent(res.Token)
			return s.Snapshot(), fmt.Errorf("fetch profile: %w", err)
		}
		user = u
	}

	cred := Credential{Token: res.Token, User: user, SavedAt: time.Now().UTC()}
	s.mu.Lock()
	s.cred = cred
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist.Save(cred); err != nil {
		// Signed in for this run even if it cannot be remembered.
		s.logger.Warn("failed to persist credential", zap.Error(err))
	}
	s.logger.Info("signed in", logging.Token(cred.Token))
	s.notify(snap)
	return snap, nil
}

// SignOut asks the backend to revoke the token and clears local state no
// matter what the backend answers. The logout error is returned for
// logging only.
func (s *Store) SignOut(ctx context.Context) error {
	token := s.Token()
	if token == "" {
		return nil
	}
	err := s.backend.Logout(ctx)
	if err != nil {
		s.logger.Info("server-side logout failed", zap.Error(err))
	}
	s.clear()
	return err
}

// Reject is the api.Client OnUnauthorized hook: a 401 for the current token
// signs the user out.
func (s *Store) Reject(token string) {
	if token == "" {
		return
	}
	s.clearIfCurrent(token)
}

func (s *Store) clearIfCurrent(token string) { s.clearMatching(token, true) }

func (s *Store) clear() { s.clearMatching("", false) }

// clearMatching drops the credential; with check set, only when it still
// holds token.
func (s *Store) clearMatching(token string, check bool) {
	s.mu.Lock()
	if check && s.cred.Token != token {
		s.mu.Unlock()
		return
	}
	had := !s.cred.Empty()
	s.cred = Credential{}
	s.mu.Unlock()

	if err := s.persist.Clear(); err != nil {
		s.logger.Warn("failed to remove persisted credential", zap.Error(err))
	}
	if had {
		s.logger.Info("signed out")
		s.notify(Snapshot{})
	}
}

// Close stops the file watcher, if any.
func (s *Store) Close() error {
	s.watchMu.Lock()
	cancel, done := s.watchCancel, s.watchDone
	s.watchCancel, s.watchDone = nil, nil
	s.watchMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
