// Package store provides the OutboxSender for delivering queued replies.
package store

import (
	"context"
	"log/slog"
	"time"
)

// Default configuration constants
const (
	// DefaultOutboxPollInterval is how often due replies are claimed
	DefaultOutboxPollInterval = 2 * time.Second
	// DefaultOutboxStaleThreshold is how long a send may stay claimed before recovery
	DefaultOutboxStaleThreshold = 5 * time.Minute
	// DefaultOutboxClaimLimit is the batch size of one poll
	DefaultOutboxClaimLimit = 10
)

// OutboxSendFunc is the callback that performs the actual message send.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSenderOpts holds configuration options for the OutboxSender.
type OutboxSenderOpts struct {
	PollInterval   time.Duration
	StaleThreshold time.Duration
	ClaimLimit     int
	MaxAttempts    int
	Now            func() time.Time
}

// OutboxSenderOption defines a configuration option for the OutboxSender.
type OutboxSenderOption func(*OutboxSenderOpts)

// WithPollInterval sets how often due replies are claimed.
func WithPollInterval(d time.Duration) OutboxSenderOption {
	return func(o *OutboxSenderOpts) { o.PollInterval = d }
}

// WithMaxAttempts sets the number of delivery attempts per reply.
func WithMaxAttempts(n int) OutboxSenderOption {
	return func(o *OutboxSenderOpts) { o.MaxAttempts = n }
}

// WithSenderClock overrides the time source.
func WithSenderClock(now func() time.Time) OutboxSenderOption {
	return func(o *OutboxSenderOpts) { o.Now = now }
}

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, opts ...OutboxSenderOption) *OutboxSender {
	cfg := OutboxSenderOpts{
		PollInterval:   DefaultOutboxPollInterval,
		StaleThreshold: DefaultOutboxStaleThreshold,
		ClaimLimit:     DefaultOutboxClaimLimit,
		MaxAttempts:    DefaultMaxSendAttempts,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   cfg.PollInterval,
		staleThreshold: cfg.StaleThreshold,
		claimLimit:     cfg.ClaimLimit,
		maxAttempts:    cfg.MaxAttempts,
		now:            cfg.Now,
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStaleSendingMessages(ctx, s.now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims and sends one batch of due replies and returns how many were delivered.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "user", msg.UserID, "attempt", msg.Attempts+1)
		if err := s.sendFunc(ctx, msg); err != nil {
			var next time.Time
			if msg.Attempts+1 < s.maxAttempts {
				// Exponential backoff: 10s, 20s, 40s, ...
				next = now.Add(time.Duration(10*(1<<msg.Attempts)) * time.Second)
			}
			slog.Error("OutboxSender.Poll: send failed", "id", msg.ID, "user", msg.UserID, "attempt", msg.Attempts+1, "abandoned", next.IsZero(), "error", err)
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), next); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
