// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/logging"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/storage"
	"github.com/bhassurance/assurbot/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Identity is the part of identity.Store the interface uses.
type Identity interface {
	Snapshot() identity.Snapshot
	Refresh(ctx context.Context) identity.Snapshot
	SignIn(ctx context.Context, email, password string) (identity.Snapshot, error)
	SignOut(ctx context.Context) error
	Subscribe(fn func(identity.Snapshot)) (unsubscribe func())
}

// Assistant is the part of assistant.Service the interface uses.
type Assistant interface {
	Send(ctx context.Context, text string, voice bool) (assistant.Message, error)
	Transcript() []assistant.Message
	Clear()
}

// Quote is the part of quote.Controller the interface uses.
type Quote interface {
	Start(ctx context.Context) quote.Step
	Answer(ctx context.Context, text string) quote.Step
	Resume(ctx context.Context) quote.Step
	Reset(ctx context.Context) quote.Step
	Snapshot() quote.Snapshot
}

// History lists saved devis for the Compte tab.
type History interface {
	List(ctx context.Context, limit int) ([]storage.DevisRecord, error)
}

// Deps are the services behind the interface. History may be nil.
type Deps struct {
	Identity  Identity
	Assistant Assistant
	Quote     Quote
	History   History
	Theme     *styles.Theme
	Logger    *zap.Logger
	Version   string
	// HistoryLimit bounds the Compte tab's devis list.
	HistoryLimit int
}

// =============================================================================
// MODEL
// =============================================================================

type tab int

const (
	tabAssistant tab = iota
	tabDevis
	tabCompte
	tabCount
)

var tabNames = [tabCount]string{"Assistant", "Devis", "Compte"}

const textClosed = "Le devis est terminé. C-r pour en commencer un nouveau."

const (
	fieldEmail = iota
	fieldPassword
)

// Model is the root bubbletea model.
type Model struct {
	ctx    context.Context
	deps   Deps
	logger *zap.Logger
	theme  *styles.Theme
	keys   KeyMap
	help   help.Model

	width, height int
	active        tab
	status        string

	spinner  spinner.Model
	progress progress.Model
	ident    identity.Snapshot

	// markdown renders replies and devis; rendered caches its output by
	// transcript id and is dropped when the width changes.
	markdown *glamour.TermRenderer
	rendered map[string]string

	// Assistant tab
	chatInput textinput.Model
	chatView  viewport.Model
	chatGen   uint64
	chatBusy  bool

	// Devis tab
	quoteInput textinput.Model
	quoteView  viewport.Model
	quoteGen   uint64
	quoteBusy  bool
	quoteSnap  quote.Snapshot

	// Compte tab
	emailInput    textinput.Model
	passwordInput textinput.Model
	formFocus     int
	accountBusy   bool
	accountErr    string
	history       []storage.DevisRecord
}

// New builds the model. ctx bounds every background request.
func New(ctx context.Context, deps Deps) Model {
	theme := deps.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 10
	}

	chatInput := textinput.New()
	chatInput.Prompt = "› "
	chatInput.Placeholder = "Posez votre question…"
	chatInput.CharLimit = assistant.MaxMessageLength
	chatInput.Focus()

	quoteInput := textinput.New()
	quoteInput.Prompt = "› "
	quoteInput.Placeholder = "Votre réponse…"
	quoteInput.CharLimit = 256

	emailInput := textinput.New()
	emailInput.Placeholder = "vous@exemple.tn"
	emailInput.CharLimit = 254

	passwordInput := textinput.New()
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.EchoCharacter = '•'
	passwordInput.CharLimit = 128

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Spinner))

	return Model{
		ctx:           ctx,
		deps:          deps,
		logger:        logging.OrNop(deps.Logger).Named("tui"),
		theme:         theme,
		keys:          DefaultKeyMap(),
		help:          help.New(),
		spinner:       sp,
		progress:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		ident:         deps.Identity.Snapshot(),
		rendered:      make(map[string]string),
		chatInput:     chatInput,
		chatView:      viewport.New(80, 20),
		quoteInput:    quoteInput,
		quoteView:     viewport.New(80, 20),
		quoteSnap:     deps.Quote.Snapshot(),
		emailInput:    emailInput,
		passwordInput: passwordInput,
	}
}

// Init starts the first quote turn, verifies the stored credential and
// loads the history.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.refreshIdentity(),
		m.startQuote(),
		m.loadHistory(),
	)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshViews()
		return m, cmd

	case chatReplyMsg:
		return m.handleChatReply(msg)

	case quoteStepMsg:
		return m.handleQuoteStep(msg)

	case identityMsg:
		return m.handleIdentity(msg.snap)

	case signInMsg:
		m.accountBusy = false
		if msg.err != nil {
			m.accountErr = describeSignIn(msg.err)
			return m, nil
		}
		m.accountErr = ""
		m.passwordInput.Reset()
		return m.handleIdentity(msg.snap)

	case signOutMsg:
		m.accountBusy = false
		if msg.err != nil {
			m.logger.Warn("sign out not confirmed by server", zap.Error(msg.err))
		}
		m.status = "Déconnecté."
		return m.handleIdentity(m.deps.Identity.Snapshot())

	case historyMsg:
		if msg.err != nil {
			m.logger.Warn("failed to load history", zap.Error(msg.err))
			return m, nil
		}
		m.history = msg.records
		return m, nil
	}

	return m.updateInputs(msg)
}

func (m Model) busy() bool {
	return m.chatBusy || m.quoteBusy || m.accountBusy
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	// header + tabs + input (border + line) + status bar, plus the
	// progress line on the Devis tab.
	const reserved = 1 + 1 + 2 + 1 + 1
	h := m.height - reserved
	if m.help.ShowAll {
		h -= 3
	}
	if h < 1 {
		h = 1
	}
	w := m.width
	if w < 1 {
		w = 1
	}
	m.chatView.Width, m.chatView.Height = w, h
	m.quoteView.Width, m.quoteView.Height = w, h

	inputWidth := w - 6
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.chatInput.Width = inputWidth
	m.quoteInput.Width = inputWidth
	m.emailInput.Width = 40
	m.passwordInput.Width = 40
	m.progress.Width = min(40, w/2)
	m.help.Width = w

	m.resetMarkdown(w - 10)
	m.refreshViews()
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m.handleResize(tea.WindowSizeMsg{Width: m.width, Height: m.height})

	case key.Matches(msg, m.keys.NextTab):
		m.status = ""
		return m.switchTab((m.active + 1) % tabCount)

	case key.Matches(msg, m.keys.PrevTab):
		m.status = ""
		return m.switchTab((m.active + tabCount - 1) % tabCount)

	case key.Matches(msg, m.keys.PageUp):
		m.activeView().HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.activeView().HalfViewDown()
		return m, nil
	}

	switch m.active {
	case tabAssistant:
		return m.handleAssistantKey(msg)
	case tabDevis:
		return m.handleDevisKey(msg)
	default:
		return m.handleCompteKey(msg)
	}
}

func (m *Model) activeView() *viewport.Model {
	if m.active == tabDevis {
		return &m.quoteView
	}
	return &m.chatView
}

func (m Model) switchTab(t tab) (tea.Model, tea.Cmd) {
	m.active = t
	m.focusInputs()
	m.refreshViews()
	return m, textinput.Blink
}

// focusInputs gives focus to the active tab's input only.
func (m *Model) focusInputs() {
	m.chatInput.Blur()
	m.quoteInput.Blur()
	m.emailInput.Blur()
	m.passwordInput.Blur()
	switch m.active {
	case tabAssistant:
		m.chatInput.Focus()
	case tabDevis:
		m.quoteInput.Focus()
	case tabCompte:
		if m.ident.SignedIn {
			return
		}
		if m.formFocus == fieldEmail {
			m.emailInput.Focus()
		} else {
			m.passwordInput.Focus()
		}
	}
}

// updateInputs forwards other messages (cursor blink, typing) to the
// focused input.
func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.active {
	case tabAssistant:
		m.chatInput, cmd = m.chatInput.Update(msg)
	case tabDevis:
		m.quoteInput, cmd = m.quoteInput.Update(msg)
	case tabCompte:
		if m.formFocus == fieldEmail {
			m.emailInput, cmd = m.emailInput.Update(msg)
		} else {
			m.passwordInput, cmd = m.passwordInput.Update(msg)
		}
	}
	return m, cmd
}

// =============================================================================
// ASSISTANT TAB
// =============================================================================

func (m Model) handleAssistantKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Clear):
		// A reply still in flight belongs to the cleared conversation.
		m.chatGen++
		m.chatBusy = false
		m.deps.Assistant.Clear()
		m.refreshViews()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.chatInput.Value())
		if text == "" || m.chatBusy {
			return m, nil
		}
		m.chatInput.Reset()
		m.chatBusy = true
		m.status = ""
		m.refreshViews()
		return m, tea.Batch(m.sendChat(text), m.spinner.Tick)
	}
	return m.updateInputs(msg)
}

func (m Model) handleChatReply(msg chatReplyMsg) (tea.Model, tea.Cmd) {
	if msg.gen != m.chatGen {
		return m, nil
	}
	m.chatBusy = false
	if msg.err != nil {
		m.status = assistant.Describe(msg.err)
	} else if msg.reply.RequiresAuth && !m.ident.SignedIn {
		m.status = "Information confidentielle : connectez-vous dans l'onglet Compte."
	}
	m.refreshViews()
	return m, nil
}

func (m Model) sendChat(text string) tea.Cmd {
	ctx, svc, gen := m.ctx, m.deps.Assistant, m.chatGen
	return func() tea.Msg {
		reply, err := svc.Send(ctx, text, false)
		return chatReplyMsg{gen: gen, reply: reply, err: err}
	}
}

// =============================================================================
// DEVIS TAB
// =============================================================================

func (m Model) handleDevisKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Reset):
		// The result of a turn still in flight is dropped.
		m.quoteGen++
		m.quoteBusy = true
		m.quoteInput.Reset()
		m.refreshViews()
		return m, tea.Batch(m.quoteOp(m.deps.Quote.Reset), m.spinner.Tick)

	case key.Matches(msg, m.keys.Submit):
		if m.quoteBusy {
			m.status = quote.TextBusy
			return m, nil
		}
		switch m.quoteSnap.State {
		case quote.StateIdle:
			return m.runQuote(m.deps.Quote.Start)

		case quote.StateAwaitingAnswer:
			text := strings.TrimSpace(m.quoteInput.Value())
			if text == "" {
				return m, nil
			}
			m.quoteInput.Reset()
			return m.runQuote(func(ctx context.Context) quote.Step {
				return m.deps.Quote.Answer(ctx, text)
			})

		case quote.StateAuthInterrupted:
			if m.ident.SignedIn {
				return m.runQuote(m.deps.Quote.Resume)
			}
			m.status = "Connectez-vous pour obtenir votre devis : vos réponses sont conservées."
			return m.switchTab(tabCompte)

		case quote.StateComplete:
			m.status = textClosed
			return m, nil
		}
		return m, nil
	}
	return m.updateInputs(msg)
}

func (m Model) runQuote(op func(context.Context) quote.Step) (tea.Model, tea.Cmd) {
	m.quoteBusy = true
	m.status = ""
	m.refreshViews()
	return m, tea.Batch(m.quoteOp(op), m.spinner.Tick)
}

func (m Model) quoteOp(op func(context.Context) quote.Step) tea.Cmd {
	ctx, gen := m.ctx, m.quoteGen
	return func() tea.Msg {
		return quoteStepMsg{gen: gen, step: op(ctx)}
	}
}

func (m Model) startQuote() tea.Cmd {
	return m.quoteOp(m.deps.Quote.Start)
}

func (m Model) handleQuoteStep(msg quoteStepMsg) (tea.Model, tea.Cmd) {
	if msg.gen != m.quoteGen {
		m.logger.Debug("dropping stale quote result", zap.Uint64("gen", msg.gen))
		return m, nil
	}
	m.quoteBusy = false
	if msg.step.Stale {
		return m, nil
	}
	m.quoteSnap = msg.step.Snapshot
	if n := msg.step.Notice; n != nil && n.Kind == quote.NoticeBusy {
		m.status = n.Text
	}
	m.refreshViews()

	if m.quoteSnap.State == quote.StateComplete {
		return m, m.loadHistory()
	}
	return m, nil
}

// resumeIfInterrupted collects the withheld devis once the user is signed in.
func (m Model) resumeIfInterrupted() (tea.Model, tea.Cmd) {
	if m.quoteSnap.State != quote.StateAuthInterrupted || m.quoteBusy || !m.ident.SignedIn {
		return m, nil
	}
	m.active = tabDevis
	m.focusInputs()
	return m.runQuote(m.deps.Quote.Resume)
}

// =============================================================================
// COMPTE TAB
// =============================================================================

func (m Model) handleCompteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.ident.SignedIn {
		if key.Matches(msg, m.keys.Logout) && !m.accountBusy {
			m.accountBusy = true
			ctx, id := m.ctx, m.deps.Identity
			return m, tea.Batch(func() tea.Msg {
				return signOutMsg{err: id.SignOut(ctx)}
			}, m.spinner.Tick)
		}
		return m, nil
	}

	switch msg.String() {
	case "up", "down":
		m.formFocus = 1 - m.formFocus
		m.focusInputs()
		return m, textinput.Blink
	}

	if key.Matches(msg, m.keys.Submit) {
		if m.formFocus == fieldEmail {
			m.formFocus = fieldPassword
			m.focusInputs()
			return m, textinput.Blink
		}
		email := strings.TrimSpace(m.emailInput.Value())
		password := m.passwordInput.Value()
		if email == "" || password == "" {
			m.accountErr = "Email et mot de passe requis."
			return m, nil
		}
		if m.accountBusy {
			return m, nil
		}
		m.accountBusy = true
		m.accountErr = ""
		ctx, id := m.ctx, m.deps.Identity
		return m, tea.Batch(func() tea.Msg {
			snap, err := id.SignIn(ctx, email, password)
			return signInMsg{snap: snap, err: err}
		}, m.spinner.Tick)
	}
	return m.updateInputs(msg)
}

// handleIdentity adopts a new identity and resumes an interrupted devis.
func (m Model) handleIdentity(snap identity.Snapshot) (tea.Model, tea.Cmd) {
	was := m.ident.SignedIn
	m.ident = snap
	if !snap.SignedIn {
		m.formFocus = fieldEmail
	}
	m.focusInputs()
	m.refreshViews()
	if !was && snap.SignedIn {
		m.status = "Connecté : " + snap.Greeting()
		next, cmd := m.resumeIfInterrupted()
		return next, tea.Batch(cmd, m.loadHistory())
	}
	return m, nil
}

func (m Model) refreshIdentity() tea.Cmd {
	ctx, id := m.ctx, m.deps.Identity
	return func() tea.Msg {
		return identityMsg{snap: id.Refresh(ctx)}
	}
}

func (m Model) loadHistory() tea.Cmd {
	if m.deps.History == nil {
		return nil
	}
	ctx, h, limit := m.ctx, m.deps.History, m.deps.HistoryLimit
	return func() tea.Msg {
		recs, err := h.List(ctx, limit)
		return historyMsg{records: recs, err: err}
	}
}

func describeSignIn(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "Email ou mot de passe invalide."
	default:
		return assistant.Describe(err)
	}
}
