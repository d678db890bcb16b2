package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/store"
	"github.com/BTreeMap/CarSherpa/internal/whatsapp"
)

// echoHandler records every dispatch and replies with "echo: <text>".
type echoHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *echoHandler) HandleMessage(ctx context.Context, userID, text string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, userID+"|"+text)
	return "echo: " + text
}

func (h *echoHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type fakeOutbox struct {
	mu       sync.Mutex
	queued   []store.OutboxMessage
	enqueErr error
}

func (f *fakeOutbox) EnqueueOutboxMessage(ctx context.Context, userID, body, dedupeKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueErr != nil {
		return "", f.enqueErr
	}
	f.queued = append(f.queued, store.OutboxMessage{UserID: userID, Body: body, DedupeKey: dedupeKey})
	return "ob_1", nil
}

func (f *fakeOutbox) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]store.OutboxMessage, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkOutboxMessageSent(ctx context.Context, id string) error { return nil }

func (f *fakeOutbox) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	return nil
}

func (f *fakeOutbox) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	return 0, nil
}

func newTestHandler(opts ...ResponseHandlerOption) (*ResponseHandler, *whatsapp.MockClient, *echoHandler) {
	client := whatsapp.NewMockClient()
	h := &echoHandler{}
	return NewResponseHandler(NewWhatsAppService(client), h, opts...), client, h
}

func TestProcessResponse_RepliesToCanonicalSender(t *testing.T) {
	rh, client, h := newTestHandler()
	msg := models.InboundMessage{From: "+91 98765 43210", Body: "I want a Honda", MessageID: "m1"}

	if err := rh.ProcessResponse(context.Background(), msg); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if calls := h.Calls(); len(calls) != 1 || calls[0] != "919876543210|I want a Honda" {
		t.Errorf("unexpected dispatch %v", calls)
	}
	sent := client.Messages()
	if len(sent) != 1 || sent[0].To != "919876543210" || sent[0].Body != "echo: I want a Honda" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
}

func TestProcessResponse_InvalidSender(t *testing.T) {
	rh, client, h := newTestHandler()
	if err := rh.ProcessResponse(context.Background(), models.InboundMessage{From: "abc", Body: "hi"}); err == nil {
		t.Error("expected error for a sender without digits")
	}
	if len(h.Calls()) != 0 || len(client.Messages()) != 0 {
		t.Error("invalid sender must not be dispatched")
	}
}

func TestProcessResponse_TooLong(t *testing.T) {
	rh, client, h := newTestHandler()
	msg := models.InboundMessage{From: "919876543210", Body: strings.Repeat("a", models.MaxMessageLength+1)}
	if err := rh.ProcessResponse(context.Background(), msg); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if len(h.Calls()) != 0 {
		t.Error("oversized message must not be dispatched")
	}
	if sent := client.Messages(); len(sent) != 1 || sent[0].Body != TooLongMessage {
		t.Errorf("expected too-long reply, got %+v", sent)
	}
}

func TestProcessResponse_DropsDuplicates(t *testing.T) {
	dedup := store.NewInMemoryStore(nil)
	rh, client, h := newTestHandler(WithDedup(dedup))
	msg := models.InboundMessage{From: "919876543210", Body: "hi", MessageID: "wamid.1"}

	for i := 0; i < 3; i++ {
		if err := rh.ProcessResponse(context.Background(), msg); err != nil {
			t.Fatalf("ProcessResponse failed: %v", err)
		}
	}
	if len(h.Calls()) != 1 || len(client.Messages()) != 1 {
		t.Errorf("expected a single dispatch and reply, got %d and %d", len(h.Calls()), len(client.Messages()))
	}

	msg.MessageID = ""
	rh.ProcessResponse(context.Background(), msg)
	rh.ProcessResponse(context.Background(), msg)
	if len(h.Calls()) != 3 {
		t.Errorf("messages without an id are never deduplicated, got %d dispatches", len(h.Calls()))
	}
}

func TestProcessResponse_Outbox(t *testing.T) {
	outbox := &fakeOutbox{}
	rh, client, _ := newTestHandler(WithOutbox(outbox))
	msg := models.InboundMessage{From: "919876543210", Body: "hi", MessageID: "wamid.2"}

	if err := rh.ProcessResponse(context.Background(), msg); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if len(client.Messages()) != 0 {
		t.Error("reply must be queued, not sent inline")
	}
	if len(outbox.queued) != 1 || outbox.queued[0].DedupeKey != "wamid.2" || outbox.queued[0].Body != "echo: hi" {
		t.Errorf("unexpected outbox contents %+v", outbox.queued)
	}

	outbox.enqueErr = errors.New("db locked")
	if err := rh.ProcessResponse(context.Background(), models.InboundMessage{From: "919876543210", Body: "again"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if sent := client.Messages(); len(sent) != 1 || sent[0].Body != "echo: again" {
		t.Errorf("expected direct send after enqueue failure, got %+v", sent)
	}
}

func TestProcessResponse_SendFailure(t *testing.T) {
	rh, client, _ := newTestHandler()
	client.Err = errors.New("not connected")
	if err := rh.ProcessResponse(context.Background(), models.InboundMessage{From: "919876543210", Body: "hi"}); err == nil {
		t.Error("expected send error")
	}
}

func TestResponseHandler_StartProcessesInOrder(t *testing.T) {
	client := whatsapp.NewMockClient()
	svc := NewTwilioService(nil)
	wa := NewWhatsAppService(client)
	h := &echoHandler{}
	// Replies go out through the WhatsApp service while input arrives on the Twilio inbox.
	rh := NewResponseHandler(&splitService{in: svc, out: wa}, h, WithWorkers(3))
	rh.Start(context.Background())

	for _, body := range []string{"one", "two", "three"} {
		svc.Emit(models.InboundMessage{From: "whatsapp:+919876543210", Body: body})
	}
	svc.Emit(models.InboundMessage{From: "whatsapp:+14155550100", Body: "other"})
	svc.Stop()
	rh.Wait()

	var mine []string
	for _, c := range h.Calls() {
		if strings.HasPrefix(c, "919876543210|") {
			mine = append(mine, strings.TrimPrefix(c, "919876543210|"))
		}
	}
	if strings.Join(mine, ",") != "one,two,three" {
		t.Errorf("expected per-user order preserved, got %v", mine)
	}
	if len(client.Messages()) != 4 {
		t.Errorf("expected 4 replies, got %d", len(client.Messages()))
	}
}

func TestResponseHandler_StopsOnCancel(t *testing.T) {
	rh, _, _ := newTestHandler()
	ctx, cancel := context.WithCancel(context.Background())
	rh.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		rh.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestShardFor(t *testing.T) {
	if shardFor("+91 98765 43210", 8) != shardFor("919876543210", 8) {
		t.Error("formatting must not change the shard")
	}
	if got := shardFor("919876543210", 1); got != 0 {
		t.Errorf("single shard must be 0, got %d", got)
	}
}

// splitService reads from one service and sends through another.
type splitService struct {
	in  Service
	out Service
}

func (s *splitService) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	return s.out.ValidateAndCanonicalizeRecipient(r)
}
func (s *splitService) SendMessage(ctx context.Context, to, body string) error {
	return s.out.SendMessage(ctx, to, body)
}
func (s *splitService) Start(ctx context.Context) error         { return nil }
func (s *splitService) Stop() error                             { return nil }
func (s *splitService) Responses() <-chan models.InboundMessage { return s.in.Responses() }
