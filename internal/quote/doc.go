// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quote drives the conversational quote (devis) flow.
//
// The backend owns the question sequence and computes the devis; the
// Controller mirrors its progress, validates each answer locally before it
// is sent, and turns every failure into a display-safe Notice:
//
//	Idle -> AwaitingAnswer -> (Submitting) -> AwaitingAnswer | AuthInterrupted | Complete
//
// At most one turn is in flight per Controller. Results that come back after
// Reset or Close belong to a previous flow instance and are dropped.
package quote
