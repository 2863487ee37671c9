// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ProfileUpdate is a partial profile edit. Nil members are left unchanged.
// Email, user type and verification are read-only on the backend.
type ProfileUpdate struct {
	Name        *string `json:"name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// Empty reports whether u changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.PhoneNumber == nil && u.Bio == nil
}

// PasswordChange is the change-password form.
type PasswordChange struct {
	CurrentPassword    string `json:"current_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// PasswordReset confirms a reset with the token mailed to the user.
type PasswordReset struct {
	Token              string `json:"token"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// Session is one login of the signed-in account.
type Session struct {
	Key          string    `json:"session_key"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsActive     bool      `json:"is_active"`
}

// NormalizeSessions accepts an enveloped or bare session list.
func NormalizeSessions(body []byte) ([]Session, error) {
	data := bytes.TrimSpace(body)
	if len(data) == 0 || data[0] != '[' {
		var err error
		if data, _, err = unwrap(body); err != nil {
			return nil, err
		}
	}
	var out []Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: sessions: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// UpdateProfile edits the signed-in user's profile and returns the result.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	resp, err := c.do(ctx, http.MethodPatch, PathProfileUpdate, upd)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, handleErrorResponse(resp)
	}
	return NormalizeProfile(resp.Body)
}

// ChangePassword sets a new password. The backend revokes every token of
// the account on success, the one used for this call included.
func (c *Client) ChangePassword(ctx context.Context, req PasswordChange) (string, error) {
	return c.message(ctx, http.MethodPost, PathChangePassword, req)
}

// RequestPasswordReset asks the backend to mail a reset token to email.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return c.message(ctx, http.MethodPost, PathPasswordResetRequest, map[string]string{"email": email})
}

// ConfirmPasswordReset sets a new password with a mailed token.
func (c *Client) ConfirmPasswordReset(ctx context.Context, req PasswordReset) (string, error) {
	return c.message(ctx, http.MethodPost, PathPasswordResetConfirm, req)
}

// Sessions lists the active logins of the signed-in account.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	resp, err := c.do(ctx, http.MethodGet, PathSessions, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, handleErrorResponse(resp)
	}
	return NormalizeSessions(resp.Body)
}

// TerminateSession ends one login. An unknown key is a 404 *APIError.
func (c *Client) TerminateSession(ctx context.Context, key string) (string, error) {
	return c.message(ctx, http.MethodDelete, SessionTerminatePath(key), nil)
}

// TerminateOtherSessions ends every login except the one this client's
// session cookie belongs to.
func (c *Client) TerminateOtherSessions(ctx context.Context) (string, error) {
	return c.message(ctx, http.MethodDelete, PathSessionsTerminateAll, nil)
}

// SessionTerminatePath is the path ending the session key.
func SessionTerminatePath(key string) string {
	return PathSessions + url.PathEscape(key) + "/terminate/"
}

// message runs a call whose only useful output is the envelope message.
func (c *Client) message(ctx context.Context, method, path string, payload any) (string, error) {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", handleErrorResponse(resp)
	}
	_, msg, err := unwrap(resp.Body)
	if err != nil {
		// A 2xx with an odd body still succeeded.
		c.logger.Debug("unexpected success body", zap.String("path", path), zap.Error(err))
		return "", nil
	}
	return msg, nil
}
