// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
	// DefaultSQLiteParams enables foreign keys and waits on a locked database
	DefaultSQLiteParams = "_foreign_keys=on&_busy_timeout=5000"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the single-file backend.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "", "seed", len(cfg.Seed))

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", withSQLiteParams(dsn))
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	// SQLite compares timestamps as text, so every stored time shares one zone.
	s := &SQLiteStore{sqlStore{db: db, dialect: dialectSQLite, now: func() time.Time { return time.Now().UTC() }}}
	if err := s.seedIfEmpty(context.Background(), cfg.Seed); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// withSQLiteParams appends the default connection parameters unless the DSN has its own.
func withSQLiteParams(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return "file:" + strings.TrimPrefix(dsn, "file:") + "?" + DefaultSQLiteParams
}
