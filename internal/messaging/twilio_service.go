package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API. Inbound messages
// arrive through the HTTP webhook, which hands them to Emit.
type TwilioService struct {
	client twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	*inbox
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client, inbox: newInbox("TwilioService")}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters, including the "whatsapp:" prefix.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("TwilioService", recipient)
}

// Start is a no-op for Twilio (inbound messages come from the webhook)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.close()
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// Emit queues a message received by the webhook.
func (s *TwilioService) Emit(msg models.InboundMessage) bool {
	return s.emit(msg)
}

// Responses returns the channel of inbound messages.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}
