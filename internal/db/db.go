// Package db opens the sqlite store of the development stub backend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// StateDir holds the stub database and the dashboard log below a workspace.
const StateDir = ".sheratan"

const stubDB = "stub.db"

// Config selects the database file. An empty Workspace means the current
// directory.
type Config struct {
	Workspace string
}

func (c Config) dir() string {
	ws := c.Workspace
	if ws == "" {
		ws = "."
	}
	return filepath.Join(ws, StateDir)
}

func (c Config) dsn() string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", filepath.Join(c.dir(), stubDB))
}

// EnsureWorkspace creates the state directory below workspace and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := Config{Workspace: workspace}.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// Open opens the stub database and checks that it answers. sqlite allows one
// writer, so the pool is limited to a single connection.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}

// Path returns the database file of workspace.
func Path(workspace string) string {
	return filepath.Join(Config{Workspace: workspace}.dir(), stubDB)
}
