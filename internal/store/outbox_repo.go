// Package store provides the OutboxRepo interface and model for restart-safe reply delivery.
package store

import (
	"context"
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// DefaultMaxSendAttempts is the number of delivery attempts before a reply is abandoned.
const DefaultMaxSendAttempts = 5

// OutboxMessage represents a durable outgoing reply.
type OutboxMessage struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Body          string       `json:"body"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo defines the interface for durable outbox message persistence.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a new outbox message. If dedupeKey is non-empty
	// and a message with that key exists, returns the existing ID.
	EnqueueOutboxMessage(ctx context.Context, userID, body, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully sent.
	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a send failure. A zero nextAttemptAt marks the message
	// permanently failed; otherwise it is queued again for that time.
	FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}
