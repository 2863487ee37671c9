// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_UpdateProfileSendsOnlySetFields(t *testing.T) {
	var (
		mu           sync.Mutex
		method, path string
		body         map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path = r.Method, r.URL.Path
		_ = json.Unmarshal(raw, &body)
		mu.Unlock()
		w.Write([]byte(`{"success":true,"message":"Profile updated successfully","data":{"id":7,"email":"amira@example.tn","name":"Amira Ben Salah","bio":""}}`))
	}))
	defer srv.Close()

	name := "amira ben salah"
	u, err := newTestClient(t, srv, StaticToken("t"), 1).UpdateProfile(context.Background(), ProfileUpdate{Name: &name})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, PathProfileUpdate, path)
	assert.Equal(t, map[string]any{"name": "amira ben salah"}, body)
	assert.Equal(t, "Amira Ben Salah", u.Name)
}

func TestProfileUpdate_Empty(t *testing.T) {
	assert.True(t, ProfileUpdate{}.Empty())
	bio := ""
	assert.False(t, ProfileUpdate{Bio: &bio}.Empty())
}

func TestClient_ChangePasswordFieldErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"Password change failed","errors":{"current_password":["Current password is incorrect."]}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, StaticToken("t"), 1).ChangePassword(context.Background(), PasswordChange{
		CurrentPassword: "wrong", NewPassword: "Nouveau#2025", NewPasswordConfirm: "Nouveau#2025",
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, []string{"Current password is incorrect."}, apiErr.Fields["current_password"])
}

func TestClient_PasswordResetMessages(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil, 1)
	msg, err := c.RequestPasswordReset(context.Background(), "amira@example.tn")
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)
	_, err = c.ConfirmPasswordReset(context.Background(), PasswordReset{Token: "x", NewPassword: "a", NewPasswordConfirm: "a"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{PathPasswordResetRequest, PathPasswordResetConfirm}, paths)
}

func TestClient_SessionsAndTermination(t *testing.T) {
	var (
		mu      sync.Mutex
		deleted []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == PathSessions:
			w.Write([]byte(`{"success":true,"data":[{"session_key":"k1","ip_address":"10.0.0.1","user_agent":"assurbot","created_at":"2025-08-20T10:00:00.123456Z","last_activity":"2025-08-20T11:00:00Z","is_active":true}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == SessionTerminatePath("gone"):
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"message":"Session not found"}`))
		case r.Method == http.MethodDelete:
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()
			w.Write([]byte(`{"success":true,"message":"Session terminated successfully"}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, StaticToken("t"), 1)
	sessions, err := c.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "k1", sessions[0].Key)
	assert.True(t, sessions[0].LastActivity.Equal(time.Date(2025, 8, 20, 11, 0, 0, 0, time.UTC)))
	assert.True(t, sessions[0].IsActive)

	msg, err := c.TerminateSession(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "Session terminated successfully", msg)
	_, err = c.TerminateOtherSessions(context.Background())
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"/api/auth/sessions/k1/terminate/", PathSessionsTerminateAll}, deleted)
	mu.Unlock()

	_, err = c.TerminateSession(context.Background(), "gone")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestNormalizeSessions_BareList(t *testing.T) {
	out, err := NormalizeSessions([]byte(`[{"session_key":"k","is_active":true}]`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "k", out[0].Key)

	out, err = NormalizeSessions([]byte(`{"success":true,"data":[]}`))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = NormalizeSessions([]byte(`"nope"`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
