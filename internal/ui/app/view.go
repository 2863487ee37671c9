// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/ui/styles"
	"github.com/bhassurance/assurbot/internal/util"
)

// View renders the interface.
func (m Model) View() string {
	if m.width == 0 {
		return "Chargement…"
	}

	sections := []string{m.renderHeader(), m.renderTabs()}
	switch m.active {
	case tabAssistant:
		sections = append(sections, m.chatView.View(), m.renderInput(m.chatInput.View(), m.chatBusy))
	case tabDevis:
		sections = append(sections,
			m.quoteView.View(),
			m.renderProgress(),
			m.renderInput(m.quoteInput.View(), m.quoteBusy))
	case tabCompte:
		sections = append(sections, lipgloss.NewStyle().Height(m.chatView.Height+3).Render(m.renderCompte()))
	}
	sections = append(sections, m.renderStatus())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// CHROME
// =============================================================================

func (m Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("BH Assurance")
	user := m.theme.HeaderUser.Render("invité")
	if m.ident.SignedIn {
		user = m.theme.HeaderUser.Render(styles.StatusIndicators.Success + " " + m.ident.Greeting())
	}
	gap := m.width - lipgloss.Width(brand) - lipgloss.Width(user) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Render(brand + strings.Repeat(" ", gap) + user)
}

func (m Model) renderTabs() string {
	tabs := make([]string, 0, tabCount)
	for i, name := range tabNames {
		if tab(i) == m.active {
			tabs = append(tabs, m.theme.TabActive.Render(name))
		} else {
			tabs = append(tabs, m.theme.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) renderInput(input string, busy bool) string {
	if busy {
		input = m.spinner.View() + " " + m.theme.Muted.Render("En attente du serveur…")
	}
	return m.theme.InputContainer.Width(max(m.width-2, 1)).Render(input)
}

func (m Model) renderProgress() string {
	p := m.quoteSnap.Progress
	label := "Étape " + fmt.Sprintf("%d/%d", p.Index, p.Total)
	if p.Total <= 1 && !p.Complete {
		label = "Choix du produit"
	}
	if p.Complete {
		label = "Devis émis"
	} else if p.Product != "" {
		label = p.Product.Label() + " · " + label
	}
	return " " + m.progress.ViewAs(p.Fraction()) + " " + m.theme.Muted.Render(label)
}

func (m Model) renderStatus() string {
	if m.help.ShowAll {
		return m.help.View(m.keys)
	}
	left := m.status
	if left == "" {
		left = m.help.View(m.keys)
	} else {
		left = m.theme.WarningStyle.Render(left)
	}
	right := m.theme.Muted.Render("assurbot " + m.deps.Version)
	avail := m.width - lipgloss.Width(right) - 2
	if avail < 0 {
		avail = 0
	}
	left = util.TruncateWidth(left, avail)
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return m.theme.StatusBar.Render(left + strings.Repeat(" ", gap) + right)
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// refreshViews re-renders both transcripts into their viewports.
func (m *Model) refreshViews() {
	m.chatView.SetContent(m.renderChat())
	m.chatView.GotoBottom()
	m.quoteView.SetContent(m.renderQuote())
	m.quoteView.GotoBottom()
}

// resetMarkdown rebuilds the renderer for a new wrap width.
func (m *Model) resetMarkdown(width int) {
	if width < 20 {
		width = 20
	}
	style := "light"
	if m.theme.IsDark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(width))
	if err != nil {
		m.logger.Warn("markdown renderer unavailable", zap.Error(err))
		r = nil
	}
	m.markdown = r
	m.rendered = make(map[string]string)
}

func (m *Model) renderMarkdown(id, text string) string {
	if out, ok := m.rendered[id]; ok {
		return out
	}
	if m.markdown == nil {
		return text
	}
	out, err := m.markdown.Render(text)
	if err != nil {
		return text
	}
	out = strings.TrimRight(out, "\n")
	m.rendered[id] = out
	return out
}

func (m *Model) renderChat() string {
	msgs := m.deps.Assistant.Transcript()
	if len(msgs) == 0 {
		return m.theme.Muted.Render("\n  Bonjour ! Posez une question sur nos produits d'assurance.\n")
	}
	width := max(m.width-4, 20)
	var b strings.Builder
	for _, msg := range msgs {
		switch msg.Role {
		case assistant.RoleUser:
			bubble := m.theme.UserBubble.Render(msg.Text)
			b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble))
		case assistant.RoleAssistant:
			b.WriteString(m.renderReply(msg))
		default:
			b.WriteString(m.theme.WarningStyle.Render(styles.StatusIndicators.Warning + " " + msg.Text))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m *Model) renderReply(msg assistant.Message) string {
	body := m.renderMarkdown(msg.ID, msg.Text)
	if !msg.Confidential {
		return m.theme.AssistantBubble.Render(body)
	}
	lines := []string{body}
	lines = append(lines, m.theme.WarningStyle.Render(styles.StatusIndicators.Locked+" Information réservée aux clients connectés."))
	if msg.HowToAuth != "" {
		lines = append(lines, m.theme.Muted.Render(msg.HowToAuth))
	}
	return m.theme.ConfidentialBubble.Render(strings.Join(lines, "\n"))
}

func (m *Model) renderQuote() string {
	snap := m.quoteSnap
	if len(snap.Transcript) == 0 {
		return m.theme.Muted.Render("\n  " + quote.TextNotStarted + " Appuyez sur entrée pour commencer.\n")
	}
	var b strings.Builder
	for _, e := range snap.Transcript {
		switch e.Kind {
		case quote.EntryQuestion:
			b.WriteString(m.theme.Question.Render(e.Text))
		case quote.EntryAnswer:
			b.WriteString(m.theme.Answer.Render("› " + e.Text))
		case quote.EntryNotice:
			b.WriteString(m.renderNotice(e.Notice, e.Text))
		case quote.EntryDevis:
			b.WriteString(m.renderMarkdown(e.ID, quote.DevisMarkdown(e.Devis, snap.Collected)))
		}
		b.WriteString("\n\n")
	}
	if snap.State == quote.StateAuthInterrupted {
		b.WriteString(m.theme.WarningStyle.Render(styles.StatusIndicators.Locked + " Connectez-vous dans l'onglet Compte pour recevoir votre devis."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderNotice(n *quote.Notice, text string) string {
	if n == nil {
		return m.theme.InfoStyle.Render(text)
	}
	line := n.Text
	if n.Hint != "" {
		line += "\n" + n.Hint
	}
	switch n.Kind {
	case quote.NoticeValidation, quote.NoticeAuth, quote.NoticeRateLimited, quote.NoticeBusy:
		return m.theme.WarningStyle.Render(line)
	case quote.NoticeTransport:
		return m.theme.ErrorStyle.Render(line)
	default:
		return m.theme.InfoStyle.Render(line)
	}
}

// =============================================================================
// COMPTE
// =============================================================================

func (m Model) renderCompte() string {
	if !m.ident.SignedIn {
		return m.renderLoginForm()
	}
	u := m.ident.User
	var b strings.Builder
	b.WriteString("\n")
	row := func(label, value string) {
		if value == "" {
			value = "-"
		}
		b.WriteString("  " + m.theme.ProfileLabel.Render(label) + m.theme.ProfileValue.Render(value) + "\n")
	}
	row("Nom", u.DisplayName())
	row("Email", u.Email)
	row("Téléphone", u.PhoneNumber)
	row("Profil", u.UserType)
	verified := "non"
	if u.IsVerified {
		verified = "oui"
	}
	row("Vérifié", verified)

	b.WriteString("\n  " + m.theme.FormLabel.Render("Devis récents") + "\n")
	if len(m.history) == 0 {
		b.WriteString("  " + m.theme.Muted.Render("Aucun devis enregistré.") + "\n")
	}
	for _, r := range m.history {
		premium := "-"
		if d, err := api.ParseDevis(r.Devis); err == nil {
			if v, ok := d.AnnualPremium(); ok {
				premium = fmt.Sprintf("%.2f %s/an", v, d.Currency())
			}
		}
		b.WriteString("  " + m.theme.Timestamp.Render(r.CreatedAt.Local().Format("02/01 15:04")) + "  " +
			util.PadRight(r.Product, 10) + premium + "\n")
	}
	if m.accountBusy {
		b.WriteString("\n  " + m.spinner.View() + " Déconnexion…\n")
	}
	return b.String()
}

func (m Model) renderLoginForm() string {
	label := func(text string, focused bool) string {
		if focused {
			return m.theme.FormFocused.Render(text)
		}
		return m.theme.FormLabel.Render(text)
	}
	var b strings.Builder
	b.WriteString("\n  " + m.theme.Muted.Render("Connectez-vous pour accéder aux informations de votre contrat.") + "\n\n")
	b.WriteString("  " + label("Email", m.formFocus == fieldEmail) + "\n")
	b.WriteString("  " + m.emailInput.View() + "\n\n")
	b.WriteString("  " + label("Mot de passe", m.formFocus == fieldPassword) + "\n")
	b.WriteString("  " + m.passwordInput.View() + "\n\n")
	switch {
	case m.accountBusy:
		b.WriteString("  " + m.spinner.View() + " Connexion…\n")
	case m.accountErr != "":
		b.WriteString("  " + m.theme.ErrorStyle.Render(m.accountErr) + "\n")
	}
	return b.String()
}
