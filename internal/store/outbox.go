package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/util"
)

const outboxColumns = `id, user_id, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// EnqueueOutboxMessage inserts a queued reply.
func (s *sqlStore) EnqueueOutboxMessage(ctx context.Context, userID, body, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT id FROM outbox_messages WHERE dedupe_key = ?`), dedupeKey).Scan(&existingID)
		if err == nil {
			slog.Debug("sqlStore.EnqueueOutboxMessage: dedupe hit", "dedupe_key", dedupeKey, "existing_id", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := util.GenerateOutboxID()
	now := s.now()
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO outbox_messages
		(id, user_id, body, status, attempts, dedupe_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`),
		id, userID, body, string(OutboxStatusQueued), nilIfEmpty(dedupeKey), now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("sqlStore.EnqueueOutboxMessage: queued", "id", id, "user", userID)
	return id, nil
}

// ClaimDueOutboxMessages moves due queued messages to sending and returns them.
func (s *sqlStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim outbox begin failed: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + outboxColumns + ` FROM outbox_messages
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at ASC LIMIT ?`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := tx.QueryContext(ctx, s.dialect.rebind(query), string(OutboxStatusQueued), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}

	for i := range msgs {
		_, err := tx.ExecContext(ctx, s.dialect.rebind(`UPDATE outbox_messages SET status = ?, locked_at = ?, updated_at = ? WHERE id = ?`),
			string(OutboxStatusSending), now, now, msgs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim outbox commit failed: %w", err)
	}
	return msgs, nil
}

// MarkOutboxMessageSent marks a reply delivered.
func (s *sqlStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE outbox_messages SET status = ?, locked_at = NULL, updated_at = ? WHERE id = ?`),
		string(OutboxStatusSent), s.now(), id)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

// FailOutboxMessage records a failed attempt.
func (s *sqlStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	status := OutboxStatusQueued
	var next any = nextAttemptAt
	if nextAttemptAt.IsZero() {
		status = OutboxStatusFailed
		next = nil
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE outbox_messages
		SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		WHERE id = ?`),
		string(status), errMsg, next, s.now(), id)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

// RequeueStaleSendingMessages returns abandoned sends to the queue.
func (s *sqlStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE outbox_messages SET status = ?, locked_at = NULL, updated_at = ?
		WHERE status = ? AND locked_at < ?`),
		string(OutboxStatusQueued), s.now(), string(OutboxStatusSending), staleBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("sqlStore.RequeueStaleSendingMessages: requeued", "count", n)
	}
	return int(n), nil
}

func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var status string
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.UserID, &m.Body, &status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.Status = OutboxStatus(status)
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
