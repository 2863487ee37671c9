// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by assurbot packages: crash-safe
// file writes and display-width aware string handling.
package util
