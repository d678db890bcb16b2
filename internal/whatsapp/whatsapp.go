// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in CarSherpa.
//
// It provides methods for sending text replies and turning incoming WhatsApp events
// into inbound messages.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/carsherpa/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// WhatsAppSender is an interface for sending WhatsApp messages (for production and testing)
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on WhatsApp/whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
	LogLevel    string // whatsmeow log level
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the whatsmeow logger level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = strings.ToUpper(level)
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient creates a new WhatsApp client, applying any provided options for customization.
// This handles WhatsApp/whatsmeow database configuration with proper validation and warnings.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient: no database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == store.DriverSQLite && !HasForeignKeys(dbDSN) {
		slog.Warn("whatsapp.NewClient: SQLite database does not appear to have foreign keys enabled. "+
			"The whatsmeow library strongly recommends enabling foreign keys for data integrity.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("whatsapp.NewClient: initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to initialize DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))

	if waClient.Store.ID == nil {
		slog.Info("whatsapp.NewClient: login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(ctx)
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient: failed to connect during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("whatsapp.NewClient: failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
				continue
			}
			slog.Info("whatsapp.NewClient: login event", "event", evt.Event)
		}
	} else {
		slog.Debug("whatsapp.NewClient: already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient: failed to connect to server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("whatsapp.NewClient: connected")
	return &Client{waClient: waClient}, nil
}

// HasForeignKeys reports whether a SQLite DSN enables foreign keys.
func HasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// SendMessage sends a WhatsApp text message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Client.SendMessage: failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "body_length", len(body))
	return nil
}

// OnMessage registers fn for every inbound one-to-one text message.
func (c *Client) OnMessage(fn func(models.InboundMessage)) {
	c.waClient.AddEventHandler(func(evt any) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		if in, ok := InboundFromEvent(msg); ok {
			fn(in)
		}
	})
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// InboundFromEvent converts a whatsmeow message event. Own messages, group chats and
// messages without text are skipped.
func InboundFromEvent(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}
	text := MessageText(evt.Message)
	if text == "" {
		slog.Debug("whatsapp.InboundFromEvent: ignoring non-text message", "from", evt.Info.Sender.String())
		return models.InboundMessage{}, false
	}
	return models.InboundMessage{
		From:      evt.Info.Sender.User,
		Body:      text,
		MessageID: string(evt.Info.ID),
		Time:      evt.Info.Timestamp,
	}, true
}

// MessageText returns the plain or extended text of a message, or "".
func MessageText(m *waE2E.Message) string {
	if text := m.GetConversation(); text != "" {
		return text
	}
	return m.GetExtendedTextMessage().GetText()
}

// MockClient records sent messages instead of talking to WhatsApp (for tests).
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the sent messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
