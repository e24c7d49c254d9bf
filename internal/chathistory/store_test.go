package chathistory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemoryStoreSaveOverwritesByMessageTS(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(10)
	ctx := context.Background()
	if err := s.Save(ctx, Record{MessageTS: " 1739667600.000100 ", Message: "first"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, Record{MessageTS: "1739667600.000100", Message: "second"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len mismatch: got %d want 1", s.Len())
	}
	rec, ok := s.Get("1739667600.000100")
	if !ok {
		t.Fatalf("Get() not found")
	}
	if rec.Message != "second" {
		t.Fatalf("message mismatch: got %q want %q", rec.Message, "second")
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be filled")
	}
}

func TestMemoryStoreRejectsMissingTS(t *testing.T) {
	t.Parallel()

	if err := NewMemoryStore(0).Save(context.Background(), Record{Message: "x"}); err == nil {
		t.Fatalf("Save() expected error for missing ts")
	}
}

func TestMemoryStorePrunesOldest(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(2)
	base := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	for i, ts := range []string{"1.0", "2.0", "3.0"} {
		if err := s.Save(context.Background(), Record{MessageTS: ts, Message: ts, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if s.Len() != 2 {
		t.Fatalf("len mismatch: got %d want 2", s.Len())
	}
	if _, ok := s.Get("1.0"); ok {
		t.Fatalf("oldest record should be pruned")
	}
}

func TestSQLiteStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "history", "aichat.sqlite")
	ctx := context.Background()
	store, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()
	s, ok := store.(*SQLStore)
	if !ok {
		t.Fatalf("store type mismatch: got %T want *SQLStore", store)
	}

	created := time.Date(2026, 2, 16, 1, 2, 3, 0, time.UTC)
	if err := s.Save(ctx, Record{
		MessageTS: "1739667600.000100",
		ThreadTS:  "1739667000.000050",
		ChannelID: "C222",
		UserID:    "U333",
		Message:   "what is a goroutine?",
		CreatedAt: created,
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, Record{
		MessageTS: "1739667600.000100",
		ChannelID: "C222",
		Message:   "what is a channel?",
		CreatedAt: created,
	}); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	rec, found, err := s.Get(ctx, "1739667600.000100")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatalf("Get() not found")
	}
	if rec.Message != "what is a channel?" {
		t.Fatalf("message mismatch: got %q", rec.Message)
	}
	if rec.ThreadTS != "" {
		t.Fatalf("thread_ts mismatch: got %q want empty", rec.ThreadTS)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Fatalf("created_at mismatch: got %s want %s", rec.CreatedAt, created)
	}

	_, found, err = s.Get(ctx, "0.0")
	if err != nil {
		t.Fatalf("Get() missing error = %v", err)
	}
	if found {
		t.Fatalf("Get() found a record that was never saved")
	}
}

func TestOpenRejectsUnknownDriverAndCollection(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Driver = "mongo"
	if _, err := Open(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "unsupported history driver") {
		t.Fatalf("Open() error mismatch: got %v", err)
	}

	cfg = DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "x.sqlite")
	cfg.Collection = "chat history; DROP"
	if _, err := Open(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "invalid history collection") {
		t.Fatalf("Open() error mismatch: got %v", err)
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Driver = " Memory "
	store, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("store type mismatch: got %T want *MemoryStore", store)
	}
}

func TestSQLStoreBindPlaceholders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		postgres bool
		in       string
		want     string
	}{
		{name: "sqlite keeps", postgres: false, in: "SELECT a FROM t WHERE x = ? AND y = ?", want: "SELECT a FROM t WHERE x = ? AND y = ?"},
		{name: "postgres numbers", postgres: true, in: "SELECT a FROM t WHERE x = ? AND y = ?", want: "SELECT a FROM t WHERE x = $1 AND y = $2"},
		{name: "postgres values", postgres: true, in: "VALUES (?, ?, ?)", want: "VALUES ($1, $2, $3)"},
		{name: "postgres none", postgres: true, in: "SELECT 1", want: "SELECT 1"},
	}
	for _, tc := range cases {
		s := &SQLStore{postgres: tc.postgres}
		if got := s.bind(tc.in); got != tc.want {
			t.Fatalf("%s: bind mismatch: got %q want %q", tc.name, got, tc.want)
		}
	}
}
