// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/identity"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/storage"
)

// Results of background commands carry the generation they were started
// under. A result whose generation no longer matches the model's is stale
// and dropped.

// chatReplyMsg is the outcome of one assistant message.
type chatReplyMsg struct {
	gen   uint64
	reply assistant.Message
	err   error
}

// quoteStepMsg is the outcome of a quote controller operation.
type quoteStepMsg struct {
	gen  uint64
	step quote.Step
}

// identityMsg is pushed whenever the identity store changes.
type identityMsg struct {
	snap identity.Snapshot
}

// signInMsg is the outcome of the Compte tab's form.
type signInMsg struct {
	snap identity.Snapshot
	err  error
}

// signOutMsg is the outcome of a sign out.
type signOutMsg struct {
	err error
}

// historyMsg carries the most recent saved devis.
type historyMsg struct {
	records []storage.DevisRecord
	err     error
}
