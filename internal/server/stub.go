package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"sheratan/internal/db"
	"sheratan/internal/engine"
	"sheratan/internal/migrate"
)

// StubOptions configure Start.
type StubOptions struct {
	Workspace string
	// Addr defaults to 127.0.0.1:0.
	Addr   string
	Seed   bool
	Logger *slog.Logger
	// Now overrides the engine clock.
	Now func() time.Time
}

// Stub is a running stub backend.
type Stub struct {
	// URL is the API base, including the /api prefix.
	URL    string
	Addr   string
	Engine engine.Engine

	srv  *http.Server
	conn *sql.DB
	done chan error
}

// Start opens and migrates the workspace database and serves the API on
// opts.Addr until Close.
func Start(ctx context.Context, opts StubOptions) (*Stub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(ctx, db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("stub schema migrated", "applied", applied)
	}
	e := engine.New(conn)
	if opts.Now != nil {
		e.Now = opts.Now
	}
	if opts.Seed {
		if err := e.Seed(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	handler, err := New(Config{Engine: e, BasePath: "/api", Port: port, Logger: logger})
	if err != nil {
		ln.Close()
		conn.Close()
		return nil, err
	}
	s := &Stub{
		URL:    "http://" + ln.Addr().String() + "/api",
		Addr:   ln.Addr().String(),
		Engine: e,
		srv:    &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		conn:   conn,
		done:   make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	logger.Info("stub backend listening", "url", s.URL, "db", db.Path(opts.Workspace))
	return s, nil
}

// Wait blocks until the server stops and returns its serve error.
func (s *Stub) Wait() error {
	err := <-s.done
	s.done <- err
	return err
}

// Close shuts the server down gracefully and closes the database.
func (s *Stub) Close(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
