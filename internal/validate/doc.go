// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validate is the local gate in front of the quote flow.
//
// Every field the backend asks for has a rule keyed by its field key. The
// rules are pure: Validate never performs I/O and never returns an error.
// A rejection is a Result the caller inspects before any network call.
//
// Field sequences per product live here too, so the controller can derive
// which field the next answer belongs to and how far along the flow is.
// The backend stays authoritative for the actual question order.
package validate
