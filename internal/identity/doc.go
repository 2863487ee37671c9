// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity holds the signed-in credential and user profile.
//
// A Store is constructed explicitly and handed to whatever needs it: the
// API client reads the token through Store.Token, the interface subscribes
// to changes. Lifecycle:
//
//	store := identity.NewStore(client, identity.NewFilePersister(path), logger)
//	client.OnUnauthorized(store.Reject)
//	_ = store.Load()            // init from persisted storage
//	go store.Refresh(ctx)       // verify the token, clear silently if stale
//	...                         // SignIn / SignUp / SignOut
//	store.Close()
//
// Any 401 for the current token clears the credential. SignOut always
// clears local state, even when the server-side logout fails.
package identity
