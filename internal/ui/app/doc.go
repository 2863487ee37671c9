// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app is the full screen Bubble Tea interface.
//
// It has three tabs:
//
//	Assistant  free-form questions to the assistant
//	Devis      the guided quote flow, with a progress bar
//	Compte     sign in form, or the profile and recent devis once signed in
//
// Every request runs as a tea.Cmd. Its result carries the generation it was
// started under and is dropped when the tab has moved on (reset, cleared
// conversation). A quote interrupted for authentication resumes on its own
// once the user signs in, whichever way the sign in happened.
package app
