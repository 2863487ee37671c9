// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for assurbot.
//
// Everything lives in one SQLite database (pure Go driver, no cgo):
//
//   - DevisStore: completed quotes, for the history command
//   - ChatStore: assistant exchanges
//
// # Usage
//
//	db, err := storage.Open(ctx, cfg.Storage.DatabasePath)
//	devis := storage.NewDevisStore(db)
//	controller := quote.NewController(client, logger,
//		quote.WithRecorder(devis.Recorder(store.CurrentEmail)))
//
// # Storage Location
//
// The database defaults to ~/.assurbot/assurbot.db.
package storage
