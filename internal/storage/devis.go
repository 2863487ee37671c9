// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/bhassurance/assurbot/internal/quote"
)

// DevisRecord is a completed quote.
type DevisRecord struct {
	ID        string          `json:"id" yaml:"id"`
	FlowID    string          `json:"flow_id" yaml:"flow_id"`
	Product   string          `json:"produit" yaml:"produit"`
	Collected json.RawMessage `json:"collected" yaml:"-"`
	Devis     json.RawMessage `json:"devis" yaml:"-"`
	Source    string          `json:"source,omitempty" yaml:"source,omitempty"`
	UserEmail string          `json:"user_email,omitempty" yaml:"user_email,omitempty"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
}

// DevisStore keeps completed quotes.
type DevisStore struct {
	db *DB
	// MaxRecords limits stored quotes (0 = unlimited)
	MaxRecords int
}

// NewDevisStore returns a store over db keeping at most 200 quotes.
func NewDevisStore(db *DB) *DevisStore {
	return &DevisStore{db: db, MaxRecords: 200}
}

// Record saves r, filling ID and CreatedAt when unset, and returns the ID.
func (s *DevisStore) Record(ctx context.Context, r DevisRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if len(r.Collected) == 0 {
		r.Collected = json.RawMessage("{}")
	}
	if len(r.Devis) == 0 {
		r.Devis = json.RawMessage("{}")
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO devis (id, flow_id, product, collected, devis, source, user_email, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FlowID, r.Product, string(r.Collected), string(r.Devis),
		r.Source, r.UserEmail, r.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("%w: insert devis: %v", ErrDatabaseError, err)
	}

	if s.MaxRecords > 0 {
		s.enforceLimit(ctx)
	}
	return r.ID, nil
}

// enforceLimit removes the oldest quotes beyond MaxRecords.
func (s *DevisStore) enforceLimit(ctx context.Context) {
	_, _ = s.db.sql.ExecContext(ctx,
		`DELETE FROM devis WHERE id NOT IN (
		     SELECT id FROM devis ORDER BY created_at DESC LIMIT ?)`, s.MaxRecords)
}

// List returns the most recent quotes first. limit <= 0 means all.
func (s *DevisStore) List(ctx context.Context, limit int) ([]DevisRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, flow_id, product, collected, devis, source, user_email, created_at
		 FROM devis ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list devis: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []DevisRecord
	for rows.Next() {
		r, err := scanDevis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the quote with the given ID.
func (s *DevisStore) Get(ctx context.Context, id string) (DevisRecord, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, flow_id, product, collected, devis, source, user_email, created_at
		 FROM devis WHERE id = ?`, id)
	r, err := scanDevis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DevisRecord{}, ErrNotFound
	}
	return r, err
}

// Delete removes a quote.
func (s *DevisStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM devis WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete devis: %v", ErrDatabaseError, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevis(sc scanner) (DevisRecord, error) {
	var (
		r                 DevisRecord
		collected, devis  string
		source, userEmail sql.NullString
		created           int64
	)
	if err := sc.Scan(&r.ID, &r.FlowID, &r.Product, &collected, &devis, &source, &userEmail, &created); err != nil {
		return DevisRecord{}, err
	}
	r.Collected = json.RawMessage(collected)
	r.Devis = json.RawMessage(devis)
	r.Source = source.String
	r.UserEmail = userEmail.String
	r.CreatedAt = time.Unix(0, created)
	return r, nil
}

// =============================================================================
// QUOTE FLOW RECORDER
// =============================================================================

// DevisRecorder adapts a DevisStore to quote.Recorder.
type DevisRecorder struct {
	store *DevisStore
	email func() string
}

// Recorder returns a quote.Recorder that stamps each quote with email().
// email may be nil.
func (s *DevisStore) Recorder(email func() string) *DevisRecorder {
	return &DevisRecorder{store: s, email: email}
}

// RecordDevis implements quote.Recorder.
func (r *DevisRecorder) RecordDevis(ctx context.Context, c quote.Completed) error {
	collected, err := c.Collected.MarshalJSON()
	if err != nil {
		return err
	}
	rec := DevisRecord{
		FlowID:    c.FlowID,
		Product:   c.Product.String(),
		Collected: collected,
		CreatedAt: c.At,
	}
	if c.Devis != nil {
		rec.Devis = json.RawMessage(c.Devis.Raw())
		rec.Source = c.Devis.Source()
	}
	if r.email != nil {
		rec.UserEmail = r.email()
	}
	_, err = r.store.Record(ctx, rec)
	return err
}
