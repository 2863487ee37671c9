// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/storage"
	"github.com/bhassurance/assurbot/internal/ui/styles"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeIdentity struct {
	mu        sync.Mutex
	snap      identity.Snapshot
	signInErr error
	signOuts  int
}

func (f *fakeIdentity) Snapshot() identity.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeIdentity) Refresh(context.Context) identity.Snapshot { return f.Snapshot() }

func (f *fakeIdentity) SignIn(_ context.Context, email, _ string) (identity.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return f.snap, f.signInErr
	}
	f.snap = identity.Snapshot{SignedIn: true, User: &api.User{Email: email, Name: "Sami"}}
	return f.snap, nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.snap = identity.Snapshot{}
	return nil
}

func (f *fakeIdentity) Subscribe(func(identity.Snapshot)) func() { return func() {} }

type fakeAssistant struct {
	mu         sync.Mutex
	transcript []assistant.Message
	cleared    int
}

func (f *fakeAssistant) Send(_ context.Context, text string, _ bool) (assistant.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcript = append(f.transcript, assistant.Message{ID: "u", Role: assistant.RoleUser, Text: text})
	reply := assistant.Message{ID: "a", Role: assistant.RoleAssistant, Text: "Réponse à " + text}
	f.transcript = append(f.transcript, reply)
	return reply, nil
}

func (f *fakeAssistant) Transcript() []assistant.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.Message(nil), f.transcript...)
}

func (f *fakeAssistant) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcript = nil
	f.cleared++
}

// fakeQuote walks a one-question flow that needs a signed-in user.
type fakeQuote struct {
	mu      sync.Mutex
	snap    quote.Snapshot
	answers []string
	resumes int
	resets  int
}

func (f *fakeQuote) step(s quote.Snapshot) quote.Step {
	f.snap = s
	return quote.Step{Snapshot: s, Sent: true}
}

func (f *fakeQuote) Start(context.Context) quote.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step(quote.Snapshot{
		FlowID:     "flow-1",
		State:      quote.StateAwaitingAnswer,
		Question:   "Quel produit ?",
		Transcript: []quote.Entry{{ID: "q1", Kind: quote.EntryQuestion, Text: "Quel produit ?"}},
		Progress:   quote.Progress{Total: 1},
	})
}

func (f *fakeQuote) Answer(_ context.Context, text string) quote.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	s := f.snap
	s.State = quote.StateAuthInterrupted
	s.Transcript = append(s.Transcript, quote.Entry{ID: "a1", Kind: quote.EntryAnswer, Text: text})
	return f.step(s)
}

func (f *fakeQuote) Resume(context.Context) quote.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	d, _ := api.ParseDevis([]byte(`{"produit":"vie","prime_annuelle":120,"devise":"TND"}`))
	s := f.snap
	s.State = quote.StateComplete
	s.Devis = d
	s.Progress = quote.Progress{Complete: true, Total: 1, Index: 1}
	s.Transcript = append(s.Transcript, quote.Entry{ID: "d1", Kind: quote.EntryDevis, Devis: d})
	return f.step(s)
}

func (f *fakeQuote) Reset(context.Context) quote.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.step(quote.Snapshot{State: quote.StateIdle})
}

func (f *fakeQuote) Snapshot() quote.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeHistory struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeHistory) List(context.Context, int) ([]storage.DevisRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []storage.DevisRecord{{
		ID:        "rec-1",
		Product:   "vie",
		Devis:     []byte(`{"prime_annuelle":120,"devise":"TND"}`),
		CreatedAt: time.Now(),
	}}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type harness struct {
	ident   *fakeIdentity
	chat    *fakeAssistant
	quote   *fakeQuote
	history *fakeHistory
}

func newModel(t *testing.T) (Model, *harness) {
	t.Helper()
	h := &harness{
		ident:   &fakeIdentity{},
		chat:    &fakeAssistant{},
		quote:   &fakeQuote{},
		history: &fakeHistory{},
	}
	m := New(context.Background(), Deps{
		Identity:  h.ident,
		Assistant: h.chat,
		Quote:     h.quote,
		History:   h.history,
		Theme:     styles.NewThemeFor("dark"),
		Version:   "test",
	})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), h
}

// drain runs cmd and feeds every message of this package back into the
// model. Blink and spinner ticks are ignored.
func drain(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for _, msg := range collect(cmd) {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
		m = drain(t, m, cmd)
	}
	return m
}

func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, collect(c)...)
		}
		return out
	case chatReplyMsg, quoteStepMsg, identityMsg, signInMsg, signOutMsg, historyMsg:
		return []tea.Msg{msg}
	default:
		return nil
	}
}

func press(m Model, k tea.KeyType) (Model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(Model), cmd
}

// =============================================================================
// TESTS
// =============================================================================

func TestModel_InitStartsQuoteAndLoadsHistory(t *testing.T) {
	m, h := newModel(t)
	m = drain(t, m, m.Init())

	assert.Equal(t, quote.StateAwaitingAnswer, m.quoteSnap.State)
	assert.Equal(t, 1, h.history.calls)
	assert.Len(t, m.history, 1)
}

func TestModel_ChatRoundTrip(t *testing.T) {
	m, h := newModel(t)
	m.chatInput.SetValue("  bonjour ")

	m, cmd := press(m, tea.KeyEnter)
	assert.True(t, m.chatBusy)
	assert.Empty(t, m.chatInput.Value())

	m = drain(t, m, cmd)
	assert.False(t, m.chatBusy)
	require.Len(t, h.chat.Transcript(), 2)
	assert.Equal(t, "bonjour", h.chat.Transcript()[0].Text)
	assert.Contains(t, m.chatView.View(), "bonjour")
}

func TestModel_EmptyChatIgnored(t *testing.T) {
	m, _ := newModel(t)
	m.chatInput.SetValue("   ")
	m, cmd := press(m, tea.KeyEnter)
	assert.False(t, m.chatBusy)
	assert.Nil(t, cmd)
}

func TestModel_ClearDropsReplyInFlight(t *testing.T) {
	m, h := newModel(t)
	m.chatInput.SetValue("question")
	m, cmd := press(m, tea.KeyEnter)

	m, _ = press(m, tea.KeyCtrlL)
	assert.Equal(t, 1, h.chat.cleared)
	assert.False(t, m.chatBusy)

	// The reply computed for the cleared conversation must not reset state.
	for _, msg := range collect(cmd) {
		reply, ok := msg.(chatReplyMsg)
		require.True(t, ok)
		assert.NotEqual(t, m.chatGen, reply.gen)
	}
}

func TestModel_TabCycling(t *testing.T) {
	m, _ := newModel(t)
	m, _ = press(m, tea.KeyTab)
	assert.Equal(t, tabDevis, m.active)
	assert.True(t, m.quoteInput.Focused())
	assert.False(t, m.chatInput.Focused())

	m, _ = press(m, tea.KeyTab)
	assert.Equal(t, tabCompte, m.active)
	assert.True(t, m.emailInput.Focused())

	m, _ = press(m, tea.KeyShiftTab)
	assert.Equal(t, tabDevis, m.active)
}

func TestModel_AuthInterruptedQuoteResumesAfterSignIn(t *testing.T) {
	m, h := newModel(t)
	m = drain(t, m, m.Init())
	m, _ = press(m, tea.KeyTab)

	m.quoteInput.SetValue("vie")
	m, cmd := press(m, tea.KeyEnter)
	assert.True(t, m.quoteBusy)
	m = drain(t, m, cmd)
	require.Equal(t, quote.StateAuthInterrupted, m.quoteSnap.State)
	assert.Equal(t, []string{"vie"}, h.quote.answers)

	// Anonymous: enter sends the user to the sign in form.
	m, _ = press(m, tea.KeyEnter)
	assert.Equal(t, tabCompte, m.active)
	assert.NotEmpty(t, m.status)

	m.emailInput.SetValue("sami@example.tn")
	m, _ = press(m, tea.KeyEnter)
	assert.Equal(t, fieldPassword, m.formFocus)

	m.passwordInput.SetValue("secret123")
	m, cmd = press(m, tea.KeyEnter)
	assert.True(t, m.accountBusy)
	m = drain(t, m, cmd)

	assert.True(t, m.ident.SignedIn)
	assert.Equal(t, 1, h.quote.resumes)
	assert.Equal(t, quote.StateComplete, m.quoteSnap.State)
	assert.Equal(t, tabDevis, m.active)
	assert.Empty(t, m.passwordInput.Value())
	// Init, sign in and completion each reload the history.
	assert.GreaterOrEqual(t, h.history.calls, 2)
}

func TestModel_IdentityPushResumesInterruptedQuote(t *testing.T) {
	m, h := newModel(t)
	m = drain(t, m, m.Init())
	m.quoteInput.SetValue("vie")
	m.active = tabDevis
	m, cmd := press(m, tea.KeyEnter)
	m = drain(t, m, cmd)
	require.Equal(t, quote.StateAuthInterrupted, m.quoteSnap.State)

	snap := identity.Snapshot{SignedIn: true, User: &api.User{Email: "x@example.tn"}}
	next, cmd := m.Update(identityMsg{snap: snap})
	m = drain(t, next.(Model), cmd)

	assert.Equal(t, 1, h.quote.resumes)
	assert.Equal(t, quote.StateComplete, m.quoteSnap.State)

	// A second notification for the same user does not resume again.
	next, cmd = m.Update(identityMsg{snap: snap})
	drain(t, next.(Model), cmd)
	assert.Equal(t, 1, h.quote.resumes)
}

func TestModel_ResetDropsTurnInFlight(t *testing.T) {
	m, h := newModel(t)
	m = drain(t, m, m.Init())
	m.active = tabDevis

	m.quoteInput.SetValue("auto")
	m, answer := press(m, tea.KeyEnter)

	m, reset := press(m, tea.KeyCtrlR)
	m = drain(t, m, reset)
	assert.Equal(t, 1, h.quote.resets)
	assert.Equal(t, quote.StateIdle, m.quoteSnap.State)

	// The answer started before the reset arrives late and is dropped.
	m = drain(t, m, answer)
	assert.Equal(t, quote.StateIdle, m.quoteSnap.State)
	assert.False(t, m.quoteBusy)
}

func TestModel_CompleteQuoteRefusesInput(t *testing.T) {
	m, h := newModel(t)
	h.ident.snap = identity.Snapshot{SignedIn: true, User: &api.User{Email: "x@example.tn"}}
	m.ident = h.ident.snap
	m.quoteSnap = h.quote.Resume(context.Background()).Snapshot
	m.active = tabDevis

	m, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Equal(t, textClosed, m.status)
}

func TestModel_SignInFailureShowsError(t *testing.T) {
	m, h := newModel(t)
	h.ident.signInErr = identity.ErrInvalidCredentials
	m, _ = press(m, tea.KeyTab)
	m, _ = press(m, tea.KeyTab)

	m.emailInput.SetValue("sami@example.tn")
	m.formFocus = fieldPassword
	m.passwordInput.SetValue("wrong")
	m, cmd := press(m, tea.KeyEnter)
	m = drain(t, m, cmd)

	assert.False(t, m.ident.SignedIn)
	assert.False(t, m.accountBusy)
	assert.Equal(t, "Email ou mot de passe invalide.", m.accountErr)
	assert.Contains(t, m.View(), "Email ou mot de passe invalide.")
}

func TestModel_SignInRequiresBothFields(t *testing.T) {
	m, _ := newModel(t)
	m.active = tabCompte
	m.formFocus = fieldPassword
	m, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.NotEmpty(t, m.accountErr)
}

func TestModel_SignOut(t *testing.T) {
	m, h := newModel(t)
	h.ident.snap = identity.Snapshot{SignedIn: true, User: &api.User{Email: "x@example.tn", Name: "Sami"}}
	m.ident = h.ident.snap
	m.active = tabCompte
	assert.Contains(t, m.View(), "Sami")

	m, cmd := press(m, tea.KeyCtrlO)
	m = drain(t, m, cmd)
	assert.Equal(t, 1, h.ident.signOuts)
	assert.False(t, m.ident.SignedIn)
	assert.Equal(t, "Déconnecté.", m.status)
}

func TestModel_ViewShowsChrome(t *testing.T) {
	m, _ := newModel(t)
	out := m.View()
	for _, want := range []string{"BH Assurance", "Assistant", "Devis", "Compte", "invité"} {
		assert.Contains(t, out, want)
	}
}

func TestModel_ViewBeforeResize(t *testing.T) {
	m := New(context.Background(), Deps{
		Identity:  &fakeIdentity{},
		Assistant: &fakeAssistant{},
		Quote:     &fakeQuote{},
	})
	assert.Equal(t, "Chargement…", m.View())
}

func TestDescribeSignIn(t *testing.T) {
	assert.Empty(t, describeSignIn(nil))
	assert.Equal(t, "Email ou mot de passe invalide.", describeSignIn(identity.ErrInvalidCredentials))
	assert.NotEmpty(t, describeSignIn(errors.New("boom")))
}
