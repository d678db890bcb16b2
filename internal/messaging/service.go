package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an emit waits on a full channel
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted canonical phone number
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
// It supports sending text replies and provides a channel of inbound user messages.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event subscriptions).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.InboundMessage
}

// canonicalizePhone strips everything but digits from a phone number.
// WhatsApp identifiers such as "whatsapp:+91 98765 43210" become "919876543210".
func canonicalizePhone(service, recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug(service+".ValidateAndCanonicalizeRecipient: canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// inbox is the inbound channel shared by every service implementation. Emits after
// close are dropped instead of panicking.
type inbox struct {
	name      string
	mu        sync.RWMutex
	stopped   bool
	responses chan models.InboundMessage
}

func newInbox(name string) *inbox {
	return &inbox{name: name, responses: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

// emit queues msg for the response handler, waiting at most DefaultChannelTimeout.
func (b *inbox) emit(msg models.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn(b.name+".emit: dropping inbound message, service stopped", "from", msg.From)
		return false
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	select {
	case b.responses <- msg:
		slog.Debug(b.name+".emit: inbound message queued", "from", msg.From, "id", msg.MessageID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(b.name+".emit: channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// close marks the inbox stopped and closes the channel once.
func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.responses)
	slog.Info(b.name + ".Stop: stopped and channel closed")
}
