// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is a reference implementation of the insurance assistant
// backend, used for local development and end-to-end tests.
//
// # Endpoints
//
//   - POST   /api/auth/register/ - Create an account, returns a token
//   - POST   /api/auth/login/    - Exchange email and password for a token
//   - POST   /api/auth/logout/   - Revoke the presented token
//   - GET    /api/auth/profile/  - Current user profile
//   - POST   /api/chat/          - Assistant reply; confidential topics need a token
//   - POST   /api/quote/         - One turn of the quote flow
//   - DELETE /api/quote/         - Reset the quote flow
//   - GET    /health             - Health check
//
// # Sessions and Authentication
//
// Requests authenticate with "Authorization: Token <value>". An unknown
// token is answered with 401 on every endpoint. Quote state lives in the
// server keyed by the sessionid cookie, which is issued on first contact.
//
// # Key Types
//
//   - Server: fasthttp server with routing and middleware
//   - Config: listen address, rate limits, quote store DSN, external APIs
//   - QuoteRepository: persistence for completed quote requests
//
// # Usage
//
//	srv, err := server.New(server.Config{Addr: ":8000"}, logger)
//	if err != nil {
//		return err
//	}
//	defer srv.Shutdown(context.Background())
//	return srv.ListenAndServe()
package server
