// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// QuoteRequest is one completed quote, as persisted.
type QuoteRequest struct {
	ID         int64
	UserID     int64
	Product    string
	Collected  json.RawMessage
	Age        *int
	Capital    *int
	Duration   *int
	Smoker     *bool
	Devis      json.RawMessage
	Source     string
	SessionKey string
	UserAgent  string
	IPAddress  string
	CreatedAt  time.Time
}

// QuoteRepository stores completed quote requests.
type QuoteRepository interface {
	Save(ctx context.Context, q *QuoteRequest) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]QuoteRequest, error)
	Close() error
}

// OpenQuoteRepository picks a store by DSN: "postgres://" or
// "postgresql://" selects PostgreSQL, any other non-empty value is a SQLite
// path, and an empty DSN keeps requests in memory.
func OpenQuoteRepository(ctx context.Context, dsn string) (QuoteRepository, error) {
	switch {
	case dsn == "":
		return &memoryQuotes{}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return openSQLQuotes(ctx, "postgres", dsn)
	default:
		return openSQLQuotes(ctx, "sqlite", dsn)
	}
}

// ============================================================================
// SQL STORE
// ============================================================================

type sqlQuotes struct {
	db     *sql.DB
	driver string
}

const quoteRequestsSQLite = `
CREATE TABLE IF NOT EXISTS quote_requests (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        INTEGER,
    produit        TEXT NOT NULL,
    collected_data TEXT NOT NULL,
    age            INTEGER,
    capital        INTEGER,
    duree          INTEGER,
    fumeur         INTEGER,
    devis          TEXT NOT NULL,
    source         TEXT NOT NULL DEFAULT 'simulated',
    session_key    TEXT NOT NULL DEFAULT '',
    user_agent     TEXT NOT NULL DEFAULT '',
    ip_address     TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quote_requests_user ON quote_requests(user_id, created_at DESC);
`

const quoteRequestsPostgres = `
CREATE TABLE IF NOT EXISTS quote_requests (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT,
    produit        VARCHAR(32) NOT NULL,
    collected_data JSONB NOT NULL,
    age            INTEGER,
    capital        INTEGER,
    duree          INTEGER,
    fumeur         BOOLEAN,
    devis          JSONB NOT NULL,
    source         VARCHAR(30) NOT NULL DEFAULT 'simulated',
    session_key    VARCHAR(64) NOT NULL DEFAULT '',
    user_agent     TEXT NOT NULL DEFAULT '',
    ip_address     VARCHAR(64) NOT NULL DEFAULT '',
    created_at     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quote_requests_user ON quote_requests(user_id, created_at DESC);
`

func openSQLQuotes(ctx context.Context, driver, dsn string) (*sqlQuotes, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open quote store: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping quote store: %w", err)
	}

	schema := quoteRequestsSQLite
	if driver == "postgres" {
		schema = quoteRequestsPostgres
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create quote_requests: %w", err)
		}
	}
	return &sqlQuotes{db: db, driver: driver}, nil
}

// bind rewrites ? placeholders to $n for PostgreSQL.
func (s *sqlQuotes) bind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlQuotes) Save(ctx context.Context, q *QuoteRequest) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	var userID any
	if q.UserID != 0 {
		userID = q.UserID
	}
	var smoker any
	if q.Smoker != nil {
		smoker = *q.Smoker
		if s.driver == "sqlite" {
			smoker = boolInt(*q.Smoker)
		}
	}

	query := s.bind(`
INSERT INTO quote_requests (user_id, produit, collected_data, age, capital, duree, fumeur,
    devis, source, session_key, user_agent, ip_address, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`)
	return s.db.QueryRowContext(ctx, query,
		userID,
		q.Product,
		string(q.Collected),
		nullableInt(q.Age),
		nullableInt(q.Capital),
		nullableInt(q.Duration),
		smoker,
		string(q.Devis),
		q.Source,
		q.SessionKey,
		q.UserAgent,
		q.IPAddress,
		q.CreatedAt.UnixMilli(),
	).Scan(&q.ID)
}

func (s *sqlQuotes) ListByUser(ctx context.Context, userID int64, limit int) ([]QuoteRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.bind(`
SELECT id, produit, collected_data, devis, source, session_key, created_at
FROM quote_requests
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuoteRequest
	for rows.Next() {
		var (
			q         QuoteRequest
			collected string
			devis     string
			created   int64
		)
		if err := rows.Scan(&q.ID, &q.Product, &collected, &devis, &q.Source, &q.SessionKey, &created); err != nil {
			return nil, err
		}
		q.UserID = userID
		q.Collected = json.RawMessage(collected)
		q.Devis = json.RawMessage(devis)
		q.CreatedAt = time.UnixMilli(created)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqlQuotes) Close() error { return s.db.Close() }

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ============================================================================
// MEMORY STORE
// ============================================================================

type memoryQuotes struct {
	mu     sync.Mutex
	nextID int64
	rows   []QuoteRequest
}

func (m *memoryQuotes) Save(_ context.Context, q *QuoteRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	m.nextID++
	q.ID = m.nextID
	m.rows = append(m.rows, *q)
	return nil
}

func (m *memoryQuotes) ListByUser(_ context.Context, userID int64, limit int) ([]QuoteRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []QuoteRequest
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID != userID {
			continue
		}
		out = append(out, m.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryQuotes) Close() error { return nil }
