// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL backend.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	s := newPostgresStore(db)
	if err := s.seedIfEmpty(context.Background(), cfg.Seed); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, dialect: dialectPostgres, now: time.Now}}
}
