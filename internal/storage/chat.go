// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/util"
)

// ChatRecord is one question and the assistant's answer.
type ChatRecord struct {
	ID           string        `json:"id"`
	Question     string        `json:"question"`
	Answer       string        `json:"answer"`
	Voice        bool          `json:"voice,omitempty"`
	Confidential bool          `json:"confidential,omitempty"`
	RequiresAuth bool          `json:"requires_auth,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	UserEmail    string        `json:"user_email,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Preview returns the question on one line, truncated for listings.
func (r ChatRecord) Preview(width int) string {
	q := strings.ReplaceAll(r.Question, "\n", " ")
	q = strings.ReplaceAll(q, "\r", "")
	return util.TruncateWidth(q, width)
}

// ChatStore keeps assistant exchanges.
type ChatStore struct {
	db *DB
	// MaxRecords limits stored exchanges (0 = unlimited)
	MaxRecords int
	email      func() string
}

// NewChatStore returns a store over db keeping at most 1000 exchanges.
// email stamps each exchange with the signed-in user and may be nil.
func NewChatStore(db *DB, email func() string) *ChatStore {
	return &ChatStore{db: db, MaxRecords: 1000, email: email}
}

// Append saves r.
func (s *ChatStore) Append(ctx context.Context, r ChatRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO chat (id, question, answer, voice, confidential, requires_auth, elapsed_ms, user_email, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Question, r.Answer, boolInt(r.Voice), boolInt(r.Confidential), boolInt(r.RequiresAuth),
		r.Elapsed.Milliseconds(), r.UserEmail, r.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("%w: insert chat: %v", ErrDatabaseError, err)
	}
	if s.MaxRecords > 0 {
		_, _ = s.db.sql.ExecContext(ctx,
			`DELETE FROM chat WHERE id NOT IN (
			     SELECT id FROM chat ORDER BY created_at DESC LIMIT ?)`, s.MaxRecords)
	}
	return r.ID, nil
}

// Recent returns the latest exchanges, oldest first, so they read as a
// conversation. limit <= 0 means all.
func (s *ChatStore) Recent(ctx context.Context, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT * FROM (
		     SELECT id, question, answer, voice, confidential, requires_auth, elapsed_ms, user_email, created_at, rowid AS rid
		     FROM chat ORDER BY created_at DESC, rowid DESC LIMIT ?)
		 ORDER BY created_at ASC, rid ASC`, limit)
}

// Search finds exchanges whose question or answer contains query,
// case-insensitively, most recent first.
func (s *ChatStore) Search(ctx context.Context, query string, limit int) ([]ChatRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	like := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx,
		`SELECT id, question, answer, voice, confidential, requires_auth, elapsed_ms, user_email, created_at, rowid
		 FROM chat
		 WHERE lower(question) LIKE ? ESCAPE '\' OR lower(answer) LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, like, like, limit)
}

func (s *ChatStore) query(ctx context.Context, q string, args ...any) ([]ChatRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query chat: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var (
			r                              ChatRecord
			voice, confidential, needsAuth int
			elapsed                        sql.NullInt64
			email                          sql.NullString
			created, rowid                 int64
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &voice, &confidential, &needsAuth,
			&elapsed, &email, &created, &rowid); err != nil {
			return nil, err
		}
		r.Voice = voice != 0
		r.Confidential = confidential != 0
		r.RequiresAuth = needsAuth != 0
		r.Elapsed = time.Duration(elapsed.Int64) * time.Millisecond
		r.UserEmail = email.String
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordChat implements assistant.Recorder.
func (s *ChatStore) RecordChat(ctx context.Context, ex assistant.Exchange) error {
	r := ChatRecord{
		Question:     ex.Question.Text,
		Answer:       ex.Answer.Text,
		Voice:        ex.Question.Voice,
		Confidential: ex.Answer.Confidential,
		RequiresAuth: ex.Answer.RequiresAuth,
		Elapsed:      ex.Answer.Elapsed,
		CreatedAt:    ex.Answer.At,
	}
	if s.email != nil {
		r.UserEmail = s.email()
	}
	_, err := s.Append(ctx, r)
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
