// Package store provides storage backends for CarSherpa.
//
// The SQL stores (SQLite and PostgreSQL) hold the car inventory, test drive and service
// bookings, conversation snapshots, inbound message dedup records and the reply outbox.
// InMemoryStore serves the inventory and dedup contracts without a database.
package store

import (
	"context"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Opts holds configuration options for the SQL stores.
type Opts struct {
	DSN string
	// Seed is inserted into an empty cars table after migrations.
	Seed []models.Car
}

// Option defines a configuration option for the SQL stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSeed inserts cars when the inventory is empty.
func WithSeed(cars []models.Car) Option {
	return func(o *Opts) { o.Seed = cars }
}

// Store is everything the composition root needs from a backend.
type Store interface {
	models.CarStore
	conversation.Persister
	DedupRepo
	OutboxRepo
	InboundPruner
	ConversationPruner
	Close() error
}

// Compile-time checks.
var (
	_ Store           = (*SQLiteStore)(nil)
	_ Store           = (*PostgresStore)(nil)
	_ models.CarStore = (*InMemoryStore)(nil)
	_ DedupRepo       = (*InMemoryStore)(nil)
	_ InboundPruner   = (*InMemoryStore)(nil)
)

// InboundPruner drops dedup records older than a cutoff.
type InboundPruner interface {
	PruneInbound(ctx context.Context, before time.Time) (int64, error)
}

// ConversationPruner drops conversation snapshots older than a cutoff.
type ConversationPruner interface {
	PruneConversations(ctx context.Context, before time.Time) (int64, error)
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, userID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}
