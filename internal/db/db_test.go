package db_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sheratan/internal/db"
)

func TestOpenCreatesStateDirWithPragmas(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if _, err := os.Stat(filepath.Join(dir, db.StateDir)); err != nil {
		t.Fatalf("state dir missing: %v", err)
	}
	if got := db.Path(dir); got != filepath.Join(dir, ".sheratan", "stub.db") {
		t.Fatalf("unexpected path %s", got)
	}
	var fk int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign keys off")
	}
	var mode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal mode %q", mode)
	}
}
