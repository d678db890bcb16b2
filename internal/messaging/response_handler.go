// Package messaging connects message transports to the dispatcher.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/store"
)

// Default configuration constants
const (
	// DefaultWorkers is the number of goroutines processing inbound messages
	DefaultWorkers = 8
	// TooLongMessage answers messages over models.MaxMessageLength
	TooLongMessage = "That message is a bit long for me. Could you send a shorter version?"
)

// MessageHandler turns one inbound message into the reply text.
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string) string
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, userID, text string) string

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, userID, text string) string {
	return f(ctx, userID, text)
}

// ResponseHandlerOpts holds configuration options for the ResponseHandler.
type ResponseHandlerOpts struct {
	Dedup   store.DedupRepo
	Outbox  store.OutboxRepo
	Workers int
}

// ResponseHandlerOption defines a configuration option for the ResponseHandler.
type ResponseHandlerOption func(*ResponseHandlerOpts)

// WithDedup drops inbound messages whose transport id was already recorded.
func WithDedup(repo store.DedupRepo) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) { o.Dedup = repo }
}

// WithOutbox queues replies in the outbox instead of sending them inline.
func WithOutbox(repo store.OutboxRepo) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) { o.Outbox = repo }
}

// WithWorkers sets the number of processing goroutines.
func WithWorkers(n int) ResponseHandlerOption {
	return func(o *ResponseHandlerOpts) { o.Workers = n }
}

// ResponseHandler reads inbound messages from a Service, runs them through the
// MessageHandler and delivers the replies. Messages from one user always land on the
// same worker, so they are answered in arrival order.
type ResponseHandler struct {
	msgService Service
	handler    MessageHandler
	dedup      store.DedupRepo
	outbox     store.OutboxRepo
	workers    int
	group      errgroup.Group
}

// NewResponseHandler creates a new ResponseHandler.
func NewResponseHandler(msgService Service, handler MessageHandler, opts ...ResponseHandlerOption) *ResponseHandler {
	cfg := ResponseHandlerOpts{Workers: DefaultWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	slog.Debug("NewResponseHandler: created", "workers", cfg.Workers, "dedup", cfg.Dedup != nil, "outbox", cfg.Outbox != nil)
	return &ResponseHandler{
		msgService: msgService,
		handler:    handler,
		dedup:      cfg.Dedup,
		outbox:     cfg.Outbox,
		workers:    cfg.Workers,
	}
}

// ProcessResponse handles one inbound message end to end.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) error {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: invalid sender", "error", err, "from", msg.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	msg.From = from

	if err := msg.Validate(); errors.Is(err, models.ErrBodyTooLong) {
		slog.Warn("ResponseHandler.ProcessResponse: message too long", "from", from, "length", len(msg.Body))
		return rh.deliver(ctx, from, TooLongMessage, msg.MessageID)
	}

	tracked := rh.dedup != nil && msg.MessageID != ""
	if tracked {
		fresh, err := rh.dedup.RecordInbound(ctx, msg.MessageID, from)
		switch {
		case err != nil:
			slog.Warn("ResponseHandler.ProcessResponse: dedup check failed, processing anyway", "id", msg.MessageID, "error", err)
		case !fresh:
			slog.Info("ResponseHandler.ProcessResponse: duplicate message dropped", "id", msg.MessageID, "from", from)
			return nil
		}
	}

	slog.Debug("ResponseHandler.ProcessResponse: dispatching", "from", from, "id", msg.MessageID, "body_length", len(msg.Body))
	reply := rh.handler.HandleMessage(ctx, from, msg.Body)
	if err := rh.deliver(ctx, from, reply, msg.MessageID); err != nil {
		return err
	}

	if tracked {
		if err := rh.dedup.MarkProcessed(ctx, msg.MessageID); err != nil {
			slog.Warn("ResponseHandler.ProcessResponse: mark processed failed", "id", msg.MessageID, "error", err)
		}
	}
	return nil
}

// deliver queues the reply when an outbox is configured and sends it directly otherwise.
func (rh *ResponseHandler) deliver(ctx context.Context, to, body, messageID string) error {
	if rh.outbox != nil {
		id, err := rh.outbox.EnqueueOutboxMessage(ctx, to, body, messageID)
		if err == nil {
			slog.Debug("ResponseHandler.deliver: reply queued", "to", to, "outbox_id", id)
			return nil
		}
		slog.Error("ResponseHandler.deliver: outbox enqueue failed, sending directly", "to", to, "error", err)
	}
	if err := rh.msgService.SendMessage(ctx, to, body); err != nil {
		slog.Error("ResponseHandler.deliver: send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// Start begins processing inbound messages. It returns immediately; Wait blocks until
// the service channel closes or ctx is cancelled and queued messages are drained.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: starting", "workers", rh.workers)
	// In-flight replies finish even after shutdown begins.
	workCtx := context.WithoutCancel(ctx)

	shards := make([]chan models.InboundMessage, rh.workers)
	for i := range shards {
		ch := make(chan models.InboundMessage, DefaultChannelBufferSize)
		shards[i] = ch
		rh.group.Go(func() error {
			for msg := range ch {
				if err := rh.ProcessResponse(workCtx, msg); err != nil {
					slog.Error("ResponseHandler.Start: failed to process message", "error", err, "from", msg.From)
				}
			}
			return nil
		})
	}

	rh.group.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
			slog.Info("ResponseHandler.Start: stopped reading messages")
		}()
		for {
			select {
			case msg, ok := <-rh.msgService.Responses():
				if !ok {
					return nil
				}
				shards[shardFor(msg.From, len(shards))] <- msg
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// Wait blocks until every worker has finished.
func (rh *ResponseHandler) Wait() {
	_ = rh.group.Wait()
}

// shardFor picks the worker for a sender. Only the digits count, so "+91 98765 43210"
// and "919876543210" share a worker.
func shardFor(from string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(phoneNumberRegex.ReplaceAllString(from, "")))
	return int(h.Sum32() % uint32(n))
}
