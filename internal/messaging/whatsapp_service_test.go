package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/twiliowhatsapp"
	"github.com/BTreeMap/CarSherpa/internal/whatsapp"
)

// Ensure every transport implements Service
func TestServicesImplementService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
	var _ Service = (*CloudService)(nil)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+91 98765 43210", "919876543210", false},
		{"whatsapp:+14155238886", "14155238886", false},
		{"(415) 555-0100", "4155550100", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone("test", tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestWhatsAppService_SendMessage(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+91 98765 43210", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if sent := mockClient.Messages(); len(sent) != 1 || sent[0].To != "919876543210" {
		t.Errorf("expected canonical recipient, got %+v", sent)
	}
	if err := svc.SendMessage(context.Background(), "12", "hello"); err == nil {
		t.Error("expected validation error")
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if msg, ok := <-svc.Responses(); ok {
		t.Errorf("expected responses channel closed, got value %v", msg)
	}
	if err := svc.SendMessage(context.Background(), "919876543210", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioService_EmitAndSend(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if !svc.Emit(models.InboundMessage{From: "whatsapp:+919876543210", Body: "hi", MessageID: "SM1"}) {
		t.Fatal("expected emit to succeed")
	}
	msg := <-svc.Responses()
	if msg.Body != "hi" || msg.MessageID != "SM1" || msg.Time.IsZero() {
		t.Errorf("unexpected inbound message %+v", msg)
	}

	if err := svc.SendMessage(context.Background(), "whatsapp:+919876543210", "reply"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent := mock.Messages(); len(sent) != 1 || sent[0].To != "919876543210" {
		t.Errorf("unexpected sent messages %+v", sent)
	}

	svc.Stop()
	if svc.Emit(models.InboundMessage{From: "919876543210", Body: "late"}) {
		t.Error("emit after Stop must be dropped")
	}
}
