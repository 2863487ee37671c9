// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// SchemaVersion tracks the database schema version for migrations.
const SchemaVersion = 2

// migrations[i] upgrades a database from version i to i+1.
var migrations = []string{
	// 0 -> 1: devis history
	`
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS devis (
    id TEXT PRIMARY KEY,
    flow_id TEXT NOT NULL,
    product TEXT NOT NULL,
    collected TEXT NOT NULL,    -- JSON object, sequence order
    devis TEXT NOT NULL,        -- JSON object as received
    source TEXT,                -- api, api_externe, simulated
    user_email TEXT,
    created_at INTEGER NOT NULL -- Unix nanoseconds
);

CREATE INDEX IF NOT EXISTS idx_devis_created_at ON devis(created_at);
CREATE INDEX IF NOT EXISTS idx_devis_product ON devis(product);
`,
	// 1 -> 2: assistant exchanges
	`
CREATE TABLE IF NOT EXISTS chat (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    voice INTEGER NOT NULL DEFAULT 0,
    confidential INTEGER NOT NULL DEFAULT 0,
    requires_auth INTEGER NOT NULL DEFAULT 0,
    elapsed_ms INTEGER,
    user_email TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_created_at ON chat(created_at);
`,
}
