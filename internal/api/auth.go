// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// User is the profile the backend returns.
type User struct {
	ID             json.Number `json:"id,omitempty"`
	Email          string      `json:"email"`
	Name           string      `json:"name"`
	PhoneNumber    string      `json:"phone_number,omitempty"`
	UserType       string      `json:"user_type,omitempty"`
	IsVerified     bool        `json:"is_verified,omitempty"`
	DateJoined     string      `json:"date_joined,omitempty"`
	ProfilePicture string      `json:"profile_picture,omitempty"`
	Bio            string      `json:"bio,omitempty"`
}

// DisplayName returns the name, falling back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

// User types accepted at registration.
const (
	UserTypeClient = "CLIENT"
	UserTypeUser   = "USER"
)

// RegisterRequest is the registration form.
type RegisterRequest struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	UserType        string `json:"user_type"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// AuthResult is a normalized login or registration response. Token or User
// may be missing; callers decide how to complete them.
type AuthResult struct {
	Token   string
	User    *User
	Message string
}

// NormalizeAuth extracts token and user from a login or registration body.
func NormalizeAuth(body []byte) (AuthResult, error) {
	data, msg, err := unwrap(body)
	if err != nil {
		return AuthResult{}, err
	}
	var payload struct {
		Token string          `json:"token"`
		Key   string          `json:"key"`
		User  json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	res := AuthResult{Token: firstNonEmpty(payload.Token, payload.Key), Message: msg}
	if len(payload.User) > 0 && string(payload.User) != "null" {
		var u User
		if err := json.Unmarshal(payload.User, &u); err != nil {
			return AuthResult{}, fmt.Errorf("%w: user: %v", ErrMalformedResponse, err)
		}
		if u.Email != "" {
			res.User = &u
		}
	}
	return res, nil
}

// NormalizeProfile extracts a user from a profile body.
func NormalizeProfile(body []byte) (*User, error) {
	data, _, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if u.Email == "" {
		return nil, fmt.Errorf("%w: profile without email", ErrMalformedResponse)
	}
	return &u, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	resp, err := c.do(ctx, http.MethodPost, PathRegister, req)
	if err != nil {
		return AuthResult{}, err
	}
	if !resp.ok() {
		return AuthResult{}, handleErrorResponse(resp)
	}
	res, err := NormalizeAuth(resp.Body)
	if err != nil {
		return AuthResult{}, err
	}
	c.logger.Info("registered", zap.Bool("token", res.Token != ""), zap.Bool("profile", res.User != nil))
	return res, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	resp, err := c.do(ctx, http.MethodPost, PathLogin, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return AuthResult{}, err
	}
	if !resp.ok() {
		return AuthResult{}, handleErrorResponse(resp)
	}
	res, err := NormalizeAuth(resp.Body)
	if err != nil {
		return AuthResult{}, err
	}
	if res.Token == "" {
		return AuthResult{}, fmt.Errorf("%w: login response without token", ErrMalformedResponse)
	}
	return res, nil
}

// Logout invalidates the current token server-side.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, PathLogout, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return handleErrorResponse(resp)
	}
	return nil
}

// Profile fetches the signed-in user's profile.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, PathProfile, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, handleErrorResponse(resp)
	}
	return NormalizeProfile(resp.Body)
}

// IsCredentialRejection reports whether err is the backend refusing an
// email/password pair (as opposed to a transport failure).
func IsCredentialRejection(err error) bool {
	if errors.Is(err, ErrAuthRequired) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusForbidden)
}
