package sqlite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='media_items'").Scan(&name)
	if err != nil {
		t.Errorf("table media_items not found: %v", err)
	}

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Re-open should work (schema is idempotent).
	s2, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}
	s2.Close()
}

func TestOpen_MediaItemIndexes(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.db.Query(`SELECT name FROM sqlite_master
		WHERE type='index' AND tbl_name='media_items' AND sql IS NOT NULL ORDER BY name`)
	if err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate indexes: %v", err)
	}

	// Codec filtering happens in Go; only converted_path lookups use an index.
	if len(names) != 1 || names[0] != "idx_media_items_converted_path" {
		t.Errorf("unexpected media_items indexes: %v", names)
	}
}
