package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestOptions(t *testing.T) {
	opts := &Opts{}
	WithDBDSN("/tmp/test.db")(opts)
	WithQRCodeOutput("/tmp/qr.txt")(opts)
	WithNumericCode()(opts)
	WithLogLevel("debug")(opts)

	if opts.DBDSN != "/tmp/test.db" || opts.QRPath != "/tmp/qr.txt" || !opts.NumericCode || opts.LogLevel != "DEBUG" {
		t.Errorf("options not applied: %+v", opts)
	}
}

func TestHasForeignKeys(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"file:/var/lib/carsherpa/whatsmeow.db?_foreign_keys=on", true},
		{"file:test.db?foreign_keys=1", true},
		{"/var/lib/carsherpa/whatsmeow.db", false},
	}
	for _, tt := range tests {
		if got := HasForeignKeys(tt.dsn); got != tt.want {
			t.Errorf("HasForeignKeys(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func textEvent(text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID("919876543210", JIDSuffix),
				Chat:   types.NewJID("919876543210", JIDSuffix),
			},
			ID:        "3EB0C767D26A",
			Timestamp: time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestInboundFromEvent(t *testing.T) {
	in, ok := InboundFromEvent(textEvent("I want a Honda"))
	if !ok {
		t.Fatal("expected text message accepted")
	}
	if in.From != "919876543210" || in.Body != "I want a Honda" || in.MessageID != "3EB0C767D26A" {
		t.Errorf("unexpected inbound message %+v", in)
	}

	ext := textEvent("")
	ext.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("reply text")}}
	if in, ok := InboundFromEvent(ext); !ok || in.Body != "reply text" {
		t.Errorf("expected extended text accepted, got %+v", in)
	}

	mine := textEvent("hello")
	mine.Info.IsFromMe = true
	group := textEvent("hello")
	group.Info.IsGroup = true
	image := textEvent("")
	image.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
	for name, evt := range map[string]*events.Message{"own": mine, "group": group, "image": image, "nil": nil} {
		if _, ok := InboundFromEvent(evt); ok {
			t.Errorf("%s message should be skipped", name)
		}
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "919876543210", "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	m.Err = errors.New("offline")
	if err := m.SendMessage(context.Background(), "919876543210", "again"); err == nil {
		t.Error("expected configured error")
	}
	if msgs := m.Messages(); len(msgs) != 1 || msgs[0].Body != "hi" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}
