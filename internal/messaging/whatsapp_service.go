package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // set when events can be subscribed to
	*inbox
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{client: client, inbox: newInbox("WhatsAppService")}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("NewWhatsAppService: created with full client for event handling")
	} else {
		slog.Debug("NewWhatsAppService: created with interface client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("WhatsAppService", recipient)
}

// Start subscribes to inbound WhatsApp messages.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	s.waClient.OnMessage(func(msg models.InboundMessage) {
		s.emit(msg)
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop closes the inbound channel and disconnects the client.
func (s *WhatsAppService) Stop() error {
	s.close()
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	return nil
}

// SendMessage sends a text reply.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Responses returns a channel of incoming messages.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}
