// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/config"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/server"
)

// =============================================================================
// HARNESS
// =============================================================================

const (
	testEmail    = "amira@example.tn"
	testPassword = "Tunis-2025!"
)

// env is an isolated assurbot home talking to a stub backend.
type env struct {
	t   *testing.T
	url string
	dir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ASSURBOT_HOME", dir)

	srv, err := server.New(server.Config{}, zap.NewNop())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln) //nolint:errcheck // returns once the listener closes
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &env{t: t, url: "http://" + ln.Addr().String(), dir: dir}
}

type result struct {
	stdout string
	stderr string
	err    error
	code   int
}

// run executes one assurbot invocation with stdin as input.
func (e *env) run(stdin string, args ...string) result {
	e.t.Helper()
	cmd, closeApp := NewRootCommand(nil)
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(append([]string{"--api-url", e.url}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(context.Background())
	if cerr := closeApp(); cerr != nil && err == nil {
		err = cerr
	}
	res := result{stdout: stdout.String(), stderr: stderr.String(), err: err}
	if err != nil {
		res.code = ExitCode(err)
	}
	return res
}

func (e *env) register() {
	e.t.Helper()
	res := e.run("",
		"register", "--email", testEmail, "--name", "amira ben salah", "--password", testPassword)
	require.NoError(e.t, res.err, res.stdout)
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestRegisterLoginWhoamiLogout(t *testing.T) {
	e := newEnv(t)

	res := e.run("",
		"register", "--email", testEmail, "--name", "amira ben salah", "--password", testPassword)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Compte créé")

	res = e.run("", "logout")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Déconnecté")

	res = e.run("", "whoami", "--json")
	require.NoError(t, res.err)
	assert.Equal(t, "null", strings.TrimSpace(res.stdout))

	// Email and password from stdin.
	res = e.run(testEmail+"\n"+testPassword+"\n", "login")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Bienvenue, Amira Ben Salah !")

	_, err := os.Stat(filepath.Join(e.dir, "credentials.json"))
	require.NoError(t, err, "credential persisted")

	res = e.run("", "whoami", "--json")
	require.NoError(t, res.err)
	var user api.User
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &user))
	assert.Equal(t, testEmail, user.Email)

	res = e.run("", "whoami")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, testEmail)

	res = e.run("", "logout")
	require.NoError(t, res.err)
	res = e.run("", "whoami")
	assert.ErrorIs(t, res.err, ErrNotSignedIn)
	assert.Equal(t, ExitAuthError, res.code)
	res = e.run("", "logout")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Déjà déconnecté")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	e := newEnv(t)
	e.register()
	e.run("", "logout")

	res := e.run("", "login", "--email", testEmail, "--password", "wrong-password")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, identity.ErrInvalidCredentials)
	assert.Equal(t, ExitAuthError, res.code)
}

func TestRegister_FieldErrors(t *testing.T) {
	e := newEnv(t)
	e.register()
	e.run("", "logout")

	res := e.run("", "register", "--email", testEmail, "--name", "x", "--password", "short")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stdout, "email")
	assert.Contains(t, res.stdout, "password")
}

func TestProfileEdit(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "profile", "edit", "--name", "amira trabelsi")
	assert.ErrorIs(t, res.err, identity.ErrNotSignedIn)
	assert.Equal(t, ExitAuthError, res.code)

	e.register()
	res = e.run("", "profile", "edit")
	assert.Equal(t, ExitUsageError, res.code)

	res = e.run("", "profile", "edit", "--name", "amira trabelsi", "--phone", "+21698000000")
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "Profil mis à jour")
	assert.Contains(t, res.stdout, "Amira Trabelsi")

	res = e.run("", "whoami", "--json")
	require.NoError(t, res.err)
	var user api.User
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &user))
	assert.Equal(t, "Amira Trabelsi", user.Name)
	assert.Equal(t, "+21698000000", user.PhoneNumber)

	res = e.run("", "profile", "edit", "--name", "x")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stdout, "Name must be at least 2 characters long.")
}

func TestPasswd_SignsOut(t *testing.T) {
	e := newEnv(t)
	e.register()

	res := e.run("wrong\nNouveau#2025\nNouveau#2025\n", "passwd")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stdout, "Current password is incorrect.")

	res = e.run(testPassword+"\nNouveau#2025\nNouveau#2025\n", "passwd")
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "assurbot login")

	res = e.run("", "whoami")
	assert.ErrorIs(t, res.err, ErrNotSignedIn, "the credential is cleared")

	res = e.run("", "login", "--email", testEmail, "--password", testPassword)
	assert.ErrorIs(t, res.err, identity.ErrInvalidCredentials)
	res = e.run("", "login", "--email", testEmail, "--password", "Nouveau#2025")
	require.NoError(t, res.err)
}

func TestPasswordResetRequest_UnknownEmail(t *testing.T) {
	e := newEnv(t)
	res := e.run("", "password-reset", "request", "nobody@example.tn")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stdout, "No active user found with this email address.")

	res = e.run("not-a-uuid\nNouveau#2025\nNouveau#2025\n", "password-reset", "confirm")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stdout, "token")
}

func TestSessions(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "sessions")
	assert.ErrorIs(t, res.err, ErrNotSignedIn)

	e.register()
	e.run("", "login", "--email", testEmail, "--password", testPassword)

	res = e.run("", "sessions", "-f", "json")
	require.NoError(t, res.err, res.stderr)
	var sessions []api.Session
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &sessions))
	require.Len(t, sessions, 2)

	res = e.run("", "sessions")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, sessions[0].Key)

	res = e.run("", "sessions", "terminate", "missing")
	assert.Equal(t, ExitNotFoundError, res.code)

	res = e.run("", "sessions", "terminate", sessions[0].Key)
	require.NoError(t, res.err)
	res = e.run("", "sessions", "terminate-all")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "All other sessions terminated successfully")

	res = e.run("", "sessions")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Aucune session active.")
}

// =============================================================================
// ASSISTANT
// =============================================================================

func TestAsk(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "ask", "Bonjour")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "assistant BH Assurance")

	res = e.run("Comment déclarer un sinistre ?", "ask", "-")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "sinistre")

	res = e.run("", "ask", "quel est mon revenu ?")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Information confidentielle")

	res = e.run("", "history", "--chats", "-f", "json")
	require.NoError(t, res.err)
	var chats []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &chats))
	assert.Len(t, chats, 3)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	e := newEnv(t)
	res := e.run("   ", "ask", "-")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, res.code)
}

func TestChatREPL(t *testing.T) {
	e := newEnv(t)
	script := strings.Join([]string{
		"/help",
		"Quels produits proposez-vous ?",
		"",
		"/history",
		"/quit",
	}, "\n") + "\n"

	res := e.run(script, "chat")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "/quit")
	assert.Contains(t, res.stdout, "vie")
}

// =============================================================================
// DEVIS
// =============================================================================

func TestDevisREPL_AuthInterruptThenLogin(t *testing.T) {
	e := newEnv(t)
	e.register()
	e.run("", "logout")

	script := strings.Join([]string{
		"vie",
		"150", // rejected locally
		"35",
		"50000",
		"20",
		"non",
		"/login",
		testEmail,
		testPassword,
		"encore", // flow closed
		"/quit",
	}, "\n") + "\n"

	res := e.run(script, "devis")
	require.NoError(t, res.err, res.stderr)
	out := res.stdout
	assert.Contains(t, out, "Quel produit")
	assert.Contains(t, out, "Quel est votre âge")
	assert.Contains(t, out, "Tapez /login")
	assert.Contains(t, out, "Bienvenue")
	assert.Contains(t, out, "Prime annuelle")
	assert.Contains(t, out, "Devis enregistré")

	res = e.run("", "history", "-f", "json")
	require.NoError(t, res.err)
	var items []devisItem
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "vie", items[0].Product)
	assert.Equal(t, testEmail, items[0].UserEmail)
	assert.EqualValues(t, 35, items[0].Collected["age"])

	res = e.run("", "history", "-f", "yaml")
	require.NoError(t, res.err)
	var fromYAML []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &fromYAML))
	require.Len(t, fromYAML, 1)

	res = e.run("", "history")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "PRIME ANNUELLE")

	res = e.run("", "history", "show", items[0].ID[:6])
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Assurance vie")

	res = e.run("", "history", "delete", items[0].ID)
	require.NoError(t, res.err)
	res = e.run("", "history", "show", items[0].ID)
	require.Error(t, res.err)
	assert.Equal(t, ExitNotFoundError, res.code)
}

func TestDevisREPL_ProgressAndReset(t *testing.T) {
	e := newEnv(t)
	script := strings.Join([]string{
		"habitation",
		"/progress",
		"/reset",
		"/quit",
	}, "\n") + "\n"

	res := e.run(script, "devis")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Assurance habitation")
	assert.Contains(t, res.stdout, "réinitialisé")
}

func TestHistory_BadFormat(t *testing.T) {
	e := newEnv(t)
	res := e.run("", "history", "-f", "xml")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, res.code)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfigCommands(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "config", "init")
	require.NoError(t, res.err)
	path := filepath.Join(e.dir, "config.toml")
	assert.FileExists(t, path)

	res = e.run("", "config", "init")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, res.code)

	res = e.run("", "config", "set", "ui.theme", "dark")
	require.NoError(t, res.err)

	res = e.run("", "config", "get", "ui.theme")
	require.NoError(t, res.err)
	assert.Equal(t, "dark", strings.TrimSpace(res.stdout))

	res = e.run("", "config", "set", "ui.theme", "neon")
	require.Error(t, res.err)
	assert.Equal(t, ExitConfigError, res.code)

	res = e.run("", "config", "get", "nope.key")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, res.code)

	res = e.run("", "config", "path")
	require.NoError(t, res.err)
	assert.Equal(t, path, strings.TrimSpace(res.stdout))

	res = e.run("", "config", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, e.url, "--api-url is reflected in the effective config")

	res = e.run("", "config", "show", "-f", "json")
	require.NoError(t, res.err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &shown))
	assert.Contains(t, shown, "ui")
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	res := e.run("", "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "assurbot "+Version)
}

// =============================================================================
// ERRORS
// =============================================================================

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageError("bad"), ExitUsageError},
		{"credentials", fmt.Errorf("login: %w", identity.ErrInvalidCredentials), ExitAuthError},
		{"auth required", api.ErrAuthRequired, ExitAuthError},
		{"no credential", fmt.Errorf("passwd: %w", identity.ErrNotSignedIn), ExitAuthError},
		{"config", config.ValidateErrors{{Field: "ui.theme", Message: "bad"}}, ExitConfigError},
		{"network", &net.OpError{Op: "dial", Err: timeoutErr{}}, ExitNetworkError},
		{"deadline", context.DeadlineExceeded, ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Contains(t, Describe(identity.ErrInvalidCredentials), "invalide")
	assert.Contains(t, Describe(api.ErrRateLimited), "requêtes")
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}
