// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bhassurance/assurbot/internal/api"
	"github.com/bhassurance/assurbot/internal/assistant"
	"github.com/bhassurance/assurbot/internal/quote"
	"github.com/bhassurance/assurbot/internal/validate"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "assurbot.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// =============================================================================
// SCHEMA
// =============================================================================

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	db := openTestDB(t)
	v, err := db.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("Version = %d, want %d", v, SchemaVersion)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "assurbot.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	id, err := NewDevisStore(db).Record(ctx, DevisRecord{FlowID: "f1", Product: "vie"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	if _, err := NewDevisStore(db).Get(ctx, id); err != nil {
		t.Errorf("Get after reopen failed: %v", err)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "assurbot.db")
	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := db.sql.Exec(`UPDATE metadata SET value = '99' WHERE key = 'schema_version'`); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	db.Close()

	if _, err := Open(ctx, path); !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("Open error = %v, want ErrSchemaTooNew", err)
	}
}

// =============================================================================
// DEVIS
// =============================================================================

func TestDevisStore_RecordListGet(t *testing.T) {
	ctx := context.Background()
	s := NewDevisStore(openTestDB(t))

	base := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	for i, p := range []string{"vie", "auto", "sante"} {
		_, err := s.Record(ctx, DevisRecord{
			FlowID:    fmt.Sprintf("flow-%d", i),
			Product:   p,
			Devis:     []byte(`{"prime_annuelle":100}`),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List len = %d, want 3", len(all))
	}
	if all[0].Product != "sante" || all[2].Product != "vie" {
		t.Errorf("List order = %s..%s, want most recent first", all[0].Product, all[2].Product)
	}
	if string(all[0].Collected) != "{}" {
		t.Errorf("Collected default = %s, want {}", all[0].Collected)
	}

	two, err := s.List(ctx, 2)
	if err != nil || len(two) != 2 {
		t.Fatalf("List(2) = %d, %v", len(two), err)
	}

	got, err := s.Get(ctx, all[1].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, got.ID); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, got.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestDevisStore_EnforcesLimit(t *testing.T) {
	ctx := context.Background()
	s := NewDevisStore(openTestDB(t))
	s.MaxRecords = 2

	base := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := s.Record(ctx, DevisRecord{FlowID: fmt.Sprint(i), Product: "vie", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	all, _ := s.List(ctx, 0)
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].FlowID != "3" || all[1].FlowID != "2" {
		t.Errorf("kept %s,%s, want 3,2", all[0].FlowID, all[1].FlowID)
	}
}

func TestDevisRecorder(t *testing.T) {
	ctx := context.Background()
	s := NewDevisStore(openTestDB(t))
	rec := s.Recorder(func() string { return "amira@example.tn" })

	d, err := api.ParseDevis([]byte(`{"produit":"vie","source":"simulated","prime_annuelle":150}`))
	if err != nil {
		t.Fatal(err)
	}
	collected := api.NewFields(map[string]api.Value{
		validate.KeyAge:     api.NumberValue(35),
		validate.KeyProduct: api.StringValue("vie"),
	})

	err = rec.RecordDevis(ctx, quote.Completed{
		FlowID:    "flow-x",
		Product:   validate.ProductVie,
		Collected: collected,
		Devis:     d,
		At:        time.Now(),
	})
	if err != nil {
		t.Fatalf("RecordDevis failed: %v", err)
	}

	all, _ := s.List(ctx, 1)
	if len(all) != 1 {
		t.Fatalf("len = %d", len(all))
	}
	r := all[0]
	if r.Source != "simulated" || r.UserEmail != "amira@example.tn" || r.Product != "vie" {
		t.Errorf("record = %+v", r)
	}
	if string(r.Collected) != `{"produit":"vie","age":35}` {
		t.Errorf("Collected = %s, want sequence order", r.Collected)
	}
}

// =============================================================================
// CHAT
// =============================================================================

func TestChatStore_RecentAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewChatStore(openTestDB(t), nil)

	base := time.Now()
	questions := []string{"Bonjour", "Quel est le prix 100% auto ?", "Merci"}
	for i, q := range questions {
		if _, err := s.Append(ctx, ChatRecord{Question: q, Answer: "réponse " + q, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Question != questions[1] || recent[1].Question != questions[2] {
		t.Errorf("Recent = %+v, want last two oldest first", recent)
	}

	found, err := s.Search(ctx, "100%", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("Search(100%%) = %d results, want 1", len(found))
	}
	found, _ = s.Search(ctx, "MERCI", 0)
	if len(found) != 1 {
		t.Errorf("Search is not case-insensitive: %d results", len(found))
	}
}

func TestChatStore_RecordChat(t *testing.T) {
	ctx := context.Background()
	s := NewChatStore(openTestDB(t), func() string { return "a@b.tn" })

	err := s.RecordChat(ctx, assistant.Exchange{
		Question: assistant.Message{Text: "Mes contrats ?", Voice: true},
		Answer: assistant.Message{
			Text:         "Connectez-vous.",
			Confidential: true,
			RequiresAuth: true,
			Elapsed:      1500 * time.Millisecond,
			At:           time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("RecordChat failed: %v", err)
	}

	got, _ := s.Recent(ctx, 0)
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	r := got[0]
	if !r.Voice || !r.Confidential || !r.RequiresAuth || r.Elapsed != 1500*time.Millisecond || r.UserEmail != "a@b.tn" {
		t.Errorf("record = %+v", r)
	}
}

func TestChatRecord_Preview(t *testing.T) {
	r := ChatRecord{Question: "ligne un\nligne deux"}
	if got := r.Preview(40); got != "ligne un ligne deux" {
		t.Errorf("Preview = %q", got)
	}
	if got := r.Preview(8); len([]rune(got)) > 8 {
		t.Errorf("Preview(8) = %q too wide", got)
	}
}
