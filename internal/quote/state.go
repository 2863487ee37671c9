// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quote

import (
	"time"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/validate"
)

// =============================================================================
// FLOW STATE
// =============================================================================

// State is the controller's position in the flow.
type State int

const (
	// StateIdle - No flow started yet, or the last Start failed
	StateIdle State = iota

	// StateAwaitingAnswer - A question is pending
	StateAwaitingAnswer

	// StateSubmitting - A turn is in flight
	StateSubmitting

	// StateAuthInterrupted - The backend wants a signed-in user; progress is kept
	StateAuthInterrupted

	// StateComplete - The devis has been issued; input is closed
	StateComplete
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingAnswer:
		return "AwaitingAnswer"
	case StateSubmitting:
		return "Submitting"
	case StateAuthInterrupted:
		return "AuthInterrupted"
	case StateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// AcceptsInput reports whether Answer may be called in s.
func (s State) AcceptsInput() bool {
	return s == StateAwaitingAnswer
}

// =============================================================================
// NOTICES
// =============================================================================

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	// NoticeInfo - Neutral information (reset confirmation)
	NoticeInfo NoticeKind = iota

	// NoticeValidation - The answer was rejected locally, nothing was sent
	NoticeValidation

	// NoticeAuth - Sign in to continue
	NoticeAuth

	// NoticeRateLimited - The backend asked us to slow down
	NoticeRateLimited

	// NoticeTransport - Network or backend failure; resubmit to retry
	NoticeTransport

	// NoticeBusy - A turn is already in flight
	NoticeBusy

	// NoticeClosed - Input is closed (flow complete or controller closed)
	NoticeClosed
)

// String returns the string representation of a notice kind.
func (k NoticeKind) String() string {
	switch k {
	case NoticeInfo:
		return "info"
	case NoticeValidation:
		return "validation"
	case NoticeAuth:
		return "auth"
	case NoticeRateLimited:
		return "rate_limited"
	case NoticeTransport:
		return "transport"
	case NoticeBusy:
		return "busy"
	case NoticeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Notice is a message meant for the user. Err, when set, is for logs only.
type Notice struct {
	Kind NoticeKind
	Text string
	Hint string
	Err  error
}

// Fixed notice texts.
const (
	TextRateLimited = "Trop de requêtes. Veuillez patienter quelques instants avant de réessayer."
	TextTransport   = "Le service de devis est momentanément indisponible. Veuillez réessayer."
	TextBusy        = "Votre réponse précédente est en cours de traitement."
	TextClosed      = "Le devis est terminé. Utilisez /reset pour en commencer un nouveau."
	TextNotStarted  = "Le devis n'a pas encore commencé."
	TextReset       = "Flux devis réinitialisé."
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// EntryKind classifies a transcript entry.
type EntryKind int

const (
	EntryQuestion EntryKind = iota
	EntryAnswer
	EntryNotice
	EntryDevis
)

// Entry is one line of the flow's transcript.
type Entry struct {
	ID     string
	Kind   EntryKind
	Text   string
	Notice *Notice
	Devis  *api.Devis
	At     time.Time
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Progress is the display-only position within the product's sequence.
type Progress struct {
	Product  validate.ProductKind
	Index    int // number of leading fields collected
	Total    int // sequence length; 1 until the product is known
	Current  *validate.FieldSpec
	Complete bool
}

// Fraction returns Index/Total in [0,1].
func (p Progress) Fraction() float64 {
	if p.Complete {
		return 1
	}
	if p.Total == 0 {
		return 0
	}
	return float64(p.Index) / float64(p.Total)
}

// Snapshot is a copy of the controller's state.
type Snapshot struct {
	FlowID     string
	State      State
	Question   string
	Collected  api.Fields
	Devis      *api.Devis
	AuthReason string
	AuthHint   string
	Transcript []Entry
	Progress   Progress
}

// Step is the outcome of one controller operation.
type Step struct {
	Snapshot Snapshot

	// Notice is set when the user should be told something.
	Notice *Notice

	// Sent reports whether a request reached the transport.
	Sent bool

	// Stale reports that the result belonged to a replaced flow and was
	// discarded.
	Stale bool
}
