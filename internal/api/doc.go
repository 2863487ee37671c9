// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the insurance assistant backend.
//
// A single Client carries the shared configuration: base URL, JSON headers,
// a cookie jar (the backend keeps quote flow state in its session cookie)
// and the current credential, attached as "Authorization: Token <value>"
// whenever the TokenSource has one.
//
// Raw payloads never leave this package. Every call returns a normalized
// shape: TurnResult for quote turns, ChatReply for the assistant, AuthResult
// and User for the auth endpoints. A payload that fits none of the expected
// variants is reported as ErrMalformedResponse rather than silently defaulted.
//
// # Resilience
//
// Requests pass through an outbound rate limiter. Transient failures are
// retried with bounded exponential backoff and full jitter: 429 on any
// method, 5xx and network errors only on idempotent methods (GET, DELETE),
// so a quote answer is never submitted twice.
//
// # Errors
//
//   - ErrAuthRequired: 401 on a call that has no richer meaning for it
//   - ErrRateLimited: 429 after the retry budget is spent
//   - *APIError: any other non-2xx status
//   - ErrMalformedResponse: a 2xx payload of unexpected shape
package api
