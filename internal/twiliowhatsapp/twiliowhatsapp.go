// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in CarSherpa.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppPrefix marks a Twilio address as a WhatsApp channel.
const WhatsAppPrefix = "whatsapp:"

// Sender sends WhatsApp text messages through Twilio.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
// This focuses solely on Twilio API requirements
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number. The "whatsapp:" prefix is optional.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// messageCreator is the slice of the Twilio REST API the client uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api       messageCreator
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// NewClient creates a Twilio client. Unset options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{api: rest.Api, fromWhats: WhatsAppAddress(cfg.FromWhats)}, nil
}

// WhatsAppAddress prefixes a phone number with "whatsapp:" and "+" when missing.
func WhatsAppAddress(number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), WhatsAppPrefix)
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return WhatsAppPrefix + number
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: Twilio request failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "sid", sid)
	return nil
}

// SignatureValidator checks X-Twilio-Signature headers on webhook requests.
type SignatureValidator struct {
	validator twilioClient.RequestValidator
}

// NewSignatureValidator creates a validator for the account's auth token.
func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilioClient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full request URL and form parameters.
func (v *SignatureValidator) Validate(fullURL string, form url.Values, signature string) bool {
	params := make(map[string]string, len(form))
	for k, vals := range form {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	return v.validator.Validate(fullURL, params, signature)
}

// MockClient records messages instead of calling Twilio (for tests).
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the sent messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
