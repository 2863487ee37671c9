// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bhassurance/assurbot/internal/logging"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// Accepted user types.
var userTypes = map[string]bool{"CLIENT": true, "USER": true}

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\.\-\']+$`)
	emailShape  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// commonPasswords is a small deny list in the spirit of the production
// password validators.
var commonPasswords = map[string]bool{
	"password": true, "password1": true, "12345678": true, "123456789": true,
	"qwertyui": true, "azertyui": true, "motdepasse": true, "iloveyou": true,
}

// account is one registered user.
type account struct {
	ID          int64
	Email       string
	Name        string
	PhoneNumber string
	UserType    string
	IsVerified  bool
	DateJoined  time.Time
	Bio         string
	hash        []byte
}

// userJSON is the profile shape returned by every auth endpoint.
type userJSON struct {
	ID             int64   `json:"id"`
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	PhoneNumber    string  `json:"phone_number"`
	UserType       string  `json:"user_type"`
	IsVerified     bool    `json:"is_verified"`
	DateJoined     string  `json:"date_joined"`
	ProfilePicture *string `json:"profile_picture"`
	Bio            string  `json:"bio"`
}

func (a *account) public() userJSON {
	return userJSON{
		ID:          a.ID,
		Email:       a.Email,
		Name:        a.Name,
		PhoneNumber: a.PhoneNumber,
		UserType:    a.UserType,
		IsVerified:  a.IsVerified,
		DateJoined:  a.DateJoined.UTC().Format(time.RFC3339),
		Bio:         a.Bio,
	}
}

// userStore keeps accounts and issued tokens in memory.
type userStore struct {
	mu      sync.RWMutex
	nextID  int64
	byEmail map[string]*account
	phones  map[string]bool
	tokens  map[string]*account
	logins  map[string]*loginRecord
	resets  map[string]*resetToken
}

func newUserStore() *userStore {
	return &userStore{
		nextID:  1,
		byEmail: make(map[string]*account),
		phones:  make(map[string]bool),
		tokens:  make(map[string]*account),
		logins:  make(map[string]*loginRecord),
		resets:  make(map[string]*resetToken),
	}
}

// profile returns a's public shape. Profile edits happen under the same
// lock.
func (s *userStore) profile(a *account) userJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return a.public()
}

// Len returns the number of registered accounts.
func (s *userStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}

// registration is the register request body.
type registration struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phone_number"`
	UserType        string `json:"user_type"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) { f[field] = append(f[field], msg) }

// validate checks r the way the production serializer does and returns the
// cleaned email and name.
func (s *userStore) validate(r registration) (string, string, fieldErrors) {
	errs := fieldErrors{}

	email := strings.ToLower(strings.TrimSpace(r.Email))
	switch {
	case email == "":
		errs.add("email", "This field is required.")
	case !emailShape.MatchString(email):
		errs.add("email", "Enter a valid email address.")
	}

	name := strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		errs.add("name", "This field is required.")
	case len([]rune(name)) < 2:
		errs.add("name", "Name must be at least 2 characters long.")
	case !namePattern.MatchString(r.Name):
		errs.add("name", "Name can only contain letters, numbers, spaces, dots, hyphens, and apostrophes.")
	}
	name = cases.Title(language.Und).String(name)

	if r.UserType == "" {
		errs.add("user_type", "This field is required.")
	} else if !userTypes[r.UserType] {
		errs.add("user_type", "User type must be one of: CLIENT, USER")
	}

	if r.Password == "" {
		errs.add("password", "This field is required.")
	} else if len([]rune(r.Password)) < MinPasswordLength {
		errs.add("password", "Ensure this field has at least 8 characters.")
	}
	if r.PasswordConfirm == "" {
		errs.add("password_confirm", "This field is required.")
	}

	s.mu.RLock()
	_, taken := s.byEmail[email]
	phoneTaken := r.PhoneNumber != "" && s.phones[r.PhoneNumber]
	s.mu.RUnlock()
	if email != "" && taken {
		errs.add("email", "A user with this email already exists.")
	}
	if phoneTaken {
		errs.add("phone_number", "A user with this phone number already exists.")
	}

	// Cross-field checks only run once every field is individually valid.
	if len(errs) == 0 {
		if r.Password != r.PasswordConfirm {
			errs.add("password_confirm", "Password confirmation does not match.")
		} else {
			for _, msg := range passwordProblems(r.Password) {
				errs.add("password", msg)
			}
		}
	}
	return email, name, errs
}

// passwordProblems applies the strength rules shared by registration,
// password change and password reset.
func passwordProblems(pw string) []string {
	var out []string
	if len([]rune(pw)) < MinPasswordLength {
		out = append(out, "Ensure this field has at least 8 characters.")
	}
	if commonPasswords[strings.ToLower(pw)] {
		out = append(out, "This password is too common.")
	}
	if strings.Trim(pw, "0123456789") == "" {
		out = append(out, "This password is entirely numeric.")
	}
	return out
}

// create stores a new account. It re-checks email uniqueness under the
// write lock.
func (s *userStore) create(r registration, email, name string) (*account, bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return nil, false, nil
	}
	a := &account{
		ID:          s.nextID,
		Email:       email,
		Name:        name,
		PhoneNumber: r.PhoneNumber,
		UserType:    r.UserType,
		DateJoined:  time.Now(),
		hash:        hash,
	}
	s.nextID++
	s.byEmail[email] = a
	if a.PhoneNumber != "" {
		s.phones[a.PhoneNumber] = true
	}
	return a, true, nil
}

// check returns the account when password matches.
func (s *userStore) check(email, password string) *account {
	s.mu.RLock()
	a := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	var hash []byte
	if a != nil {
		hash = a.hash
	}
	s.mu.RUnlock()
	if a == nil {
		// Hash anyway so unknown emails cost the same as wrong passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return nil
	}
	return a
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("assurbot-dummy"), bcrypt.MinCost)

// issue returns the account's token, creating one when none exists.
func (s *userStore) issue(a *account) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, owner := range s.tokens {
		if owner == a {
			return tok, nil
		}
	}
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	s.tokens[tok] = a
	return tok, nil
}

// lookup resolves a token.
func (s *userStore) lookup(token string) *account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[token]
}

// revoke deletes a token.
func (s *userStore) revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func newToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ============================================================================
// AUTHENTICATION
// ============================================================================

// principal is the authenticated caller of a request; nil when anonymous.
type principal struct {
	account *account
	token   string
}

// authenticate parses "Authorization: Token <value>". ok is false when a
// token was presented but is unknown. Other schemes are ignored.
func (s *Server) authenticate(ctx *fasthttp.RequestCtx) (*principal, bool) {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
	if header == "" {
		return nil, true
	}
	scheme, token, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Token") {
		return nil, true
	}
	token = strings.TrimSpace(token)
	if !found || token == "" || strings.Contains(token, " ") {
		return nil, false
	}
	a := s.users.lookup(token)
	if a == nil {
		s.logger.Info("token rejected", logging.Token(token))
		return nil, false
	}
	return &principal{account: a, token: token}, true
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleRegister(ctx *fasthttp.RequestCtx) {
	var req registration
	if err := decodeBody(ctx, &req); err != nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Registration failed",
			map[string][]string{"non_field_errors": {"Invalid JSON body."}})
		return
	}

	email, name, errs := s.users.validate(req)
	if len(errs) > 0 {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Registration failed", errs)
		return
	}
	a, created, err := s.users.create(req, email, name)
	if err != nil {
		s.logger.Error("registration failed", zap.Error(err))
		writeFailure(ctx, fasthttp.StatusInternalServerError, "Registration failed", nil)
		return
	}
	if !created {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Registration failed",
			map[string][]string{"email": {"A user with this email already exists."}})
		return
	}
	token, err := s.users.issue(a)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		writeFailure(ctx, fasthttp.StatusInternalServerError, "Registration failed", nil)
		return
	}

	s.recordLogin(ctx, a)
	s.logger.Info("user registered", zap.Int64("id", a.ID), zap.String("user_type", a.UserType))
	writeJSON(ctx, fasthttp.StatusCreated, map[string]any{
		"success": true,
		"message": "User registered successfully",
		"data":    map[string]any{"user": s.users.profile(a), "token": token},
	})
}

func (s *Server) handleLogin(ctx *fasthttp.RequestCtx) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Login failed",
			map[string][]string{"non_field_errors": {"Invalid JSON body."}})
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Login failed",
			map[string][]string{"non_field_errors": {"Email and password are required."}})
		return
	}
	a := s.users.check(req.Email, req.Password)
	if a == nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Login failed",
			map[string][]string{"non_field_errors": {"Invalid email or password."}})
		return
	}
	token, err := s.users.issue(a)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		writeFailure(ctx, fasthttp.StatusInternalServerError, "Login failed", nil)
		return
	}

	s.recordLogin(ctx, a)
	s.logger.Info("user logged in", zap.Int64("id", a.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Login successful",
		"data":    map[string]any{"user": s.users.profile(a), "token": token},
	})
}

func (s *Server) handleLogout(ctx *fasthttp.RequestCtx, p *principal) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	s.users.revoke(p.token)
	s.logger.Info("user logged out", zap.Int64("id", p.account.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Logout successful",
	})
}

func (s *Server) handleProfile(ctx *fasthttp.RequestCtx, p *principal) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"data":    s.users.profile(p.account),
	})
}
