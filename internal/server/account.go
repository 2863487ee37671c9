// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ResetTokenTTL is how long a mailed password reset token stays valid.
const ResetTokenTTL = time.Hour

// loginRecord is one login, keyed by the quote session cookie it happened
// under.
type loginRecord struct {
	key          string
	owner        *account
	ip           string
	userAgent    string
	created      time.Time
	lastActivity time.Time
	active       bool
}

type loginJSON struct {
	SessionKey   string `json:"session_key"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	IsActive     bool   `json:"is_active"`
}

type resetToken struct {
	owner   *account
	expires time.Time
	used    bool
}

// ============================================================================
// STORE OPERATIONS
// ============================================================================

// recordLogin notes a login for a under the request's session.
func (s *Server) recordLogin(ctx *fasthttp.RequestCtx, a *account) {
	key := s.sessions.touch(ctx)
	now := time.Now()

	u := s.users
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.logins[key]
	if !ok {
		rec = &loginRecord{key: key, created: now}
		u.logins[key] = rec
	}
	rec.owner = a
	rec.ip = ClientIP(ctx)
	rec.userAgent = string(ctx.UserAgent())
	rec.lastActivity = now
	rec.active = true
}

// seen bumps the activity time of an active login.
func (s *userStore) seen(a *account, key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.logins[key]; ok && rec.active && rec.owner == a {
		rec.lastActivity = time.Now()
	}
}

// activeLogins lists a's active logins, most recent first.
func (s *userStore) activeLogins(a *account) []loginJSON {
	s.mu.RLock()
	recs := make([]*loginRecord, 0)
	for _, rec := range s.logins {
		if rec.active && rec.owner == a {
			recs = append(recs, rec)
		}
	}
	out := make([]loginJSON, 0, len(recs))
	sort.Slice(recs, func(i, j int) bool { return recs[i].lastActivity.After(recs[j].lastActivity) })
	for _, rec := range recs {
		out = append(out, loginJSON{
			SessionKey:   rec.key,
			IPAddress:    rec.ip,
			UserAgent:    rec.userAgent,
			CreatedAt:    rec.created.UTC().Format(time.RFC3339Nano),
			LastActivity: rec.lastActivity.UTC().Format(time.RFC3339Nano),
			IsActive:     true,
		})
	}
	s.mu.RUnlock()
	return out
}

// endLogin deactivates a's login key. It reports false when there is no
// such active login.
func (s *userStore) endLogin(a *account, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.logins[key]
	if !ok || !rec.active || rec.owner != a {
		return false
	}
	rec.active = false
	return true
}

// endOtherLogins deactivates every login of a except keep and returns the
// ended keys.
func (s *userStore) endOtherLogins(a *account, keep string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ended []string
	for key, rec := range s.logins {
		if rec.active && rec.owner == a && key != keep {
			rec.active = false
			ended = append(ended, key)
		}
	}
	return ended
}

// setPassword replaces a's password, revokes every token of a and ends all
// its logins.
func (s *userStore) setPassword(a *account, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.hash = hash
	for tok, owner := range s.tokens {
		if owner == a {
			delete(s.tokens, tok)
		}
	}
	for _, rec := range s.logins {
		if rec.owner == a {
			rec.active = false
		}
	}
	return nil
}

// passwordMatches checks password against a's current hash.
func (s *userStore) passwordMatches(a *account, password string) bool {
	s.mu.RLock()
	hash := a.hash
	s.mu.RUnlock()
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// issueReset creates a reset token for email. ok is false when no account
// has that email.
func (s *userStore) issueReset(email string) (token string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byEmail[email]
	if a == nil {
		return "", false
	}
	token = uuid.NewString()
	s.resets[token] = &resetToken{owner: a, expires: time.Now().Add(ResetTokenTTL)}
	return token, true
}

// redeemReset marks token used and returns its account. msg explains a
// refusal.
func (s *userStore) redeemReset(token string) (a *account, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.resets[token]
	if !ok || rt.used {
		return nil, "Invalid password reset token"
	}
	if time.Now().After(rt.expires) {
		return nil, "Password reset token has expired"
	}
	rt.used = true
	return rt.owner, ""
}

// profileEdit is the profile update body. Nil members are absent.
type profileEdit struct {
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phone_number"`
	Bio         *string `json:"bio"`
}

// editProfile validates and applies e to a. partial selects PATCH
// semantics; otherwise name is required.
func (s *userStore) editProfile(a *account, e profileEdit, partial bool) fieldErrors {
	errs := fieldErrors{}
	var name string
	switch {
	case e.Name == nil:
		if !partial {
			errs.add("name", "This field is required.")
		}
	case len([]rune(strings.TrimSpace(*e.Name))) < 2:
		errs.add("name", "Name must be at least 2 characters long.")
	case !namePattern.MatchString(*e.Name):
		errs.add("name", "Name can only contain letters, numbers, spaces, dots, hyphens, and apostrophes.")
	default:
		name = cases.Title(language.Und).String(strings.TrimSpace(*e.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.PhoneNumber != nil && *e.PhoneNumber != "" && *e.PhoneNumber != a.PhoneNumber && s.phones[*e.PhoneNumber] {
		errs.add("phone_number", "A user with this phone number already exists.")
	}
	if len(errs) > 0 {
		return errs
	}

	if name != "" {
		a.Name = name
	}
	if e.PhoneNumber != nil && *e.PhoneNumber != a.PhoneNumber {
		delete(s.phones, a.PhoneNumber)
		a.PhoneNumber = *e.PhoneNumber
		if a.PhoneNumber != "" {
			s.phones[a.PhoneNumber] = true
		}
	}
	if e.Bio != nil {
		a.Bio = *e.Bio
	}
	return nil
}

// ============================================================================
// HANDLERS
// ============================================================================

// unauthenticated answers an anonymous call to a protected endpoint.
func unauthenticated(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]any{
		"detail": "Authentication credentials were not provided.",
	})
}

func (s *Server) handleProfileUpdate(ctx *fasthttp.RequestCtx, p *principal) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	var req profileEdit
	if err := decodeBody(ctx, &req); err != nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Profile update failed",
			map[string][]string{"non_field_errors": {"Invalid JSON body."}})
		return
	}
	partial := string(ctx.Method()) == fasthttp.MethodPatch
	if errs := s.users.editProfile(p.account, req, partial); len(errs) > 0 {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Profile update failed", errs)
		return
	}
	s.logger.Info("profile updated", zap.Int64("id", p.account.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Profile updated successfully",
		"data":    s.users.profile(p.account),
	})
}

// newPasswordErrors checks a new password and its confirmation.
func newPasswordErrors(errs fieldErrors, pw, confirm string) {
	if pw == "" {
		errs.add("new_password", "This field is required.")
	}
	if confirm == "" {
		errs.add("new_password_confirm", "This field is required.")
	}
	if pw == "" || confirm == "" {
		return
	}
	if pw != confirm {
		errs.add("new_password_confirm", "New password confirmation does not match.")
		return
	}
	for _, msg := range passwordProblems(pw) {
		errs.add("new_password", msg)
	}
}

func (s *Server) handleChangePassword(ctx *fasthttp.RequestCtx, p *principal) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	var req struct {
		CurrentPassword    string `json:"current_password"`
		NewPassword        string `json:"new_password"`
		NewPasswordConfirm string `json:"new_password_confirm"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password change failed",
			map[string][]string{"non_field_errors": {"Invalid JSON body."}})
		return
	}

	errs := fieldErrors{}
	switch {
	case req.CurrentPassword == "":
		errs.add("current_password", "This field is required.")
	case !s.users.passwordMatches(p.account, req.CurrentPassword):
		errs.add("current_password", "Current password is incorrect.")
	}
	newPasswordErrors(errs, req.NewPassword, req.NewPasswordConfirm)
	if len(errs) > 0 {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password change failed", errs)
		return
	}

	if err := s.users.setPassword(p.account, req.NewPassword); err != nil {
		s.logger.Error("password change failed", zap.Error(err))
		writeFailure(ctx, fasthttp.StatusInternalServerError, "Password change failed", nil)
		return
	}
	s.logger.Info("password changed", zap.Int64("id", p.account.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Password changed successfully. Please login again.",
	})
}

func (s *Server) handleRequestReset(ctx *fasthttp.RequestCtx) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password reset request failed",
			map[string][]string{"non_field_errors": {"Invalid JSON body."}})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	errs := fieldErrors{}
	switch {
	case email == "":
		errs.add("email", "This field is required.")
	case !emailShape.MatchString(email):
		errs.add("email", "Enter a valid email address.")
	}
	if len(errs) > 0 {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password reset request failed", errs)
		return
	}

	token, ok := s.users.issueReset(email)
	if !ok {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password reset request failed",
			map[string][]string{"email": {"No active user found with this email address."}})
		return
	}
	if s.cfg.OnPasswordReset != nil {
		s.cfg.OnPasswordReset(email, token)
	}
	s.logger.Info("password reset requested")
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset email sent successfully",
	})
}

func (s *Server) handleConfirmReset(ctx *fasthttp.RequestCtx) {
	var req struct {
		Token              string `json:"token"`
		NewPassword        string `json:"new_password"`
		NewPasswordConfirm string `json:"new_password_confirm"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password reset confirmation failed",
			map[string][]string{"non_field_errors": {"Invalid JSON body."}})
		return
	}

	errs := fieldErrors{}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		errs.add("token", "This field is required.")
	} else if _, err := uuid.Parse(token); err != nil {
		errs.add("token", "Must be a valid UUID.")
	}
	newPasswordErrors(errs, req.NewPassword, req.NewPasswordConfirm)
	if len(errs) > 0 {
		writeFailure(ctx, fasthttp.StatusBadRequest, "Password reset confirmation failed", errs)
		return
	}

	a, msg := s.users.redeemReset(token)
	if a == nil {
		writeFailure(ctx, fasthttp.StatusBadRequest, msg, nil)
		return
	}
	if err := s.users.setPassword(a, req.NewPassword); err != nil {
		s.logger.Error("password reset failed", zap.Error(err))
		writeFailure(ctx, fasthttp.StatusInternalServerError, "Password reset confirmation failed", nil)
		return
	}
	s.logger.Info("password reset", zap.Int64("id", a.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successful. Please login with your new password.",
	})
}

func (s *Server) handleSessions(ctx *fasthttp.RequestCtx, p *principal) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"data":    s.users.activeLogins(p.account),
	})
}

func (s *Server) handleTerminateSession(ctx *fasthttp.RequestCtx, p *principal, key string) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	if !s.users.endLogin(p.account, key) {
		writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{
			"success": false,
			"message": "Session not found",
		})
		return
	}
	s.sessions.drop(key)
	s.logger.Info("session terminated", zap.Int64("id", p.account.ID))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "Session terminated successfully",
	})
}

func (s *Server) handleTerminateAll(ctx *fasthttp.RequestCtx, p *principal) {
	if p == nil {
		unauthenticated(ctx)
		return
	}
	ended := s.users.endOtherLogins(p.account, s.sessions.current(ctx))
	for _, key := range ended {
		s.sessions.drop(key)
	}
	s.logger.Info("other sessions terminated", zap.Int64("id", p.account.ID), zap.Int("count", len(ended)))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"success": true,
		"message": "All other sessions terminated successfully",
	})
}

// sessionKeyFromPath extracts <key> from /api/auth/sessions/<key>/terminate/.
func sessionKeyFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, pathSessions)
	if !ok {
		return "", false
	}
	key, ok := strings.CutSuffix(rest, "/terminate/")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
