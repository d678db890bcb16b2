package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Meta WhatsApp Cloud API defaults.
const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultGraphVersion = "v18.0"
	// DefaultCloudTimeout bounds one Graph API request
	DefaultCloudTimeout = 15 * time.Second
)

// CloudOpts holds configuration options for the CloudService.
type CloudOpts struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	Version       string
	HTTPClient    *http.Client
}

// CloudOption defines a configuration option for the CloudService.
type CloudOption func(*CloudOpts)

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) CloudOption {
	return func(o *CloudOpts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the business phone number id replies are sent from.
func WithPhoneNumberID(id string) CloudOption {
	return func(o *CloudOpts) { o.PhoneNumberID = id }
}

// WithGraphBaseURL overrides the Graph API host.
func WithGraphBaseURL(baseURL string) CloudOption {
	return func(o *CloudOpts) { o.BaseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient sets the HTTP client used for Graph API calls.
func WithHTTPClient(c *http.Client) CloudOption {
	return func(o *CloudOpts) { o.HTTPClient = c }
}

// CloudService implements Service on the Meta WhatsApp Cloud API. Inbound messages
// arrive through the HTTP webhook, which hands them to Emit.
type CloudService struct {
	accessToken string
	endpoint    string
	httpClient  *http.Client
	*inbox
}

// NewCloudService creates a CloudService. Access token and phone number id are required.
func NewCloudService(opts ...CloudOption) (*CloudService, error) {
	cfg := CloudOpts{BaseURL: DefaultGraphBaseURL, Version: DefaultGraphVersion}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("access token and phone number id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultCloudTimeout}
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", cfg.BaseURL, cfg.Version, cfg.PhoneNumberID)
	slog.Debug("NewCloudService: created", "endpoint", endpoint)
	return &CloudService{
		accessToken: cfg.AccessToken,
		endpoint:    endpoint,
		httpClient:  cfg.HTTPClient,
		inbox:       newInbox("CloudService"),
	}, nil
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *CloudService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("CloudService", recipient)
}

// Start is a no-op (inbound messages come from the webhook).
func (s *CloudService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *CloudService) Stop() error {
	s.close()
	return nil
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudMessage struct {
	MessagingProduct string    `json:"messaging_product"`
	To               string    `json:"to"`
	Type             string    `json:"type"`
	Text             cloudText `json:"text"`
}

// SendMessage posts a text message to the Graph API.
func (s *CloudService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cloudMessage{MessagingProduct: "whatsapp", To: canonicalTo, Type: "text", Text: cloudText{Body: body}})
	if err != nil {
		return fmt.Errorf("failed to marshal cloud message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build cloud request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("CloudService.SendMessage: request failed", "to", canonicalTo, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("CloudService.SendMessage: graph api rejected message", "to", canonicalTo, "status", resp.StatusCode, "body", string(detail))
		return fmt.Errorf("graph api returned %d for %s: %s", resp.StatusCode, canonicalTo, strings.TrimSpace(string(detail)))
	}
	slog.Debug("CloudService.SendMessage: sent", "to", canonicalTo)
	return nil
}

// Emit queues a message received by the webhook.
func (s *CloudService) Emit(msg models.InboundMessage) bool {
	return s.emit(msg)
}

// Responses returns the channel of inbound messages.
func (s *CloudService) Responses() <-chan models.InboundMessage {
	return s.responses
}
