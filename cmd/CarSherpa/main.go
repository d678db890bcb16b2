package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/api"
	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/dispatcher"
	"github.com/BTreeMap/CarSherpa/internal/genai"
	"github.com/BTreeMap/CarSherpa/internal/store"
	"github.com/BTreeMap/CarSherpa/internal/twiliowhatsapp"
	"github.com/BTreeMap/CarSherpa/internal/util"
	"github.com/BTreeMap/CarSherpa/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CarSherpa state data
	DefaultStateDir = "/var/lib/carsherpa"
	// DefaultAppDBFileName is the default SQLite database for inventory and bookings
	DefaultAppDBFileName = "carsherpa.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultLogLevel is used when LOG_LEVEL is unset or invalid
	DefaultLogLevel = "debug"
	// DefaultDedupRetention is how long inbound message ids are remembered
	DefaultDedupRetention = 7 * 24 * time.Hour
	// DefaultPruneInterval is how often retention jobs run
	DefaultPruneInterval = time.Hour
)

// Messaging providers.
const (
	ProviderWhatsmeow = "whatsmeow"
	ProviderTwilio    = "twilio"
	ProviderCloud     = "cloud"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CarSherpa", "provider", flags.Provider, "state_dir", flags.StateDir, "api_addr", flags.APIAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("CarSherpa failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CarSherpa exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	OpenAIKey        string
	OpenAIModel      string
	APIAddr          string
	Provider         string
	LogLevel         string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	MetaVerifyToken   string
	MetaAppSecret     string
	MetaAccessToken   string
	MetaPhoneNumberID string

	AdminJWTSecret       string
	PersistConversations bool
	ConversationTTL      time.Duration
	DispatchTimeout      time.Duration
	WebhookRateLimit     float64
	GenAIDebug           bool
}

// Flags holds the resolved settings after command line overrides
type Flags struct {
	Config
	QROutput    string
	NumericCode bool
	InMemory    bool
}

// initializeLogger sets up structured logging at the named level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelDebug
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:             util.GetEnvOrDefault("CARSHERPA_STATE_DIR", DefaultStateDir),
		ApplicationDBDSN:     os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          util.GetEnvOrDefault("OPENAI_MODEL", genai.DefaultModel),
		APIAddr:              util.GetEnvOrDefault("API_ADDR", api.DefaultAddr),
		Provider:             strings.ToLower(util.GetEnvOrDefault("MESSAGING_PROVIDER", ProviderWhatsmeow)),
		LogLevel:             util.GetEnvOrDefault("LOG_LEVEL", DefaultLogLevel),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:           os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:     os.Getenv("TWILIO_WEBHOOK_URL"),
		MetaVerifyToken:      os.Getenv("META_VERIFY_TOKEN"),
		MetaAppSecret:        os.Getenv("META_APP_SECRET"),
		MetaAccessToken:      os.Getenv("META_ACCESS_TOKEN"),
		MetaPhoneNumberID:    os.Getenv("META_PHONE_NUMBER_ID"),
		AdminJWTSecret:       os.Getenv("ADMIN_JWT_SECRET"),
		PersistConversations: util.ParseBoolEnv("PERSIST_CONVERSATIONS", false),
		ConversationTTL:      util.ParseDurationEnv("CONVERSATION_TTL", conversation.DefaultSnapshotTTL),
		DispatchTimeout:      util.ParseDurationEnv("DISPATCH_TIMEOUT", dispatcher.DefaultHandlerTimeout),
		WebhookRateLimit:     util.ParseFloatEnv("WEBHOOK_RATE_LIMIT", api.DefaultWebhookRate),
		GenAIDebug:           util.ParseBoolEnv("GENAI_DEBUG", false),
	}

	// DATABASE_URL is the older name for the application database.
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No application database DSN provided, defaulting to SQLite", "path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"CARSHERPA_STATE_DIR", config.StateDir,
		"MESSAGING_PROVIDER", config.Provider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"ADMIN_JWT_SECRET_SET", config.AdminJWTSecret != "",
		"PERSIST_CONVERSATIONS", config.PersistConversations,
		"API_ADDR", config.APIAddr)
	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags applies command line overrides on top of config
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	f := Flags{Config: config}
	fs.StringVar(&f.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&f.NumericCode, "numeric-code", false, "use a numeric login code instead of a QR code")
	fs.BoolVar(&f.InMemory, "in-memory", false, "serve the sample inventory from memory without a database")
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory (overrides $CARSHERPA_STATE_DIR)")
	fs.StringVar(&f.ApplicationDBDSN, "db-dsn", config.ApplicationDBDSN, "application database DSN (overrides $DATABASE_DSN)")
	fs.StringVar(&f.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow session DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "HTTP listen address (overrides $API_ADDR)")
	fs.StringVar(&f.Provider, "provider", config.Provider, "messaging provider: whatsmeow, twilio or cloud (overrides $MESSAGING_PROVIDER)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Database paths follow an overridden state directory unless set explicitly.
	if f.StateDir != config.StateDir {
		if f.ApplicationDBDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			f.ApplicationDBDSN = filepath.Join(f.StateDir, DefaultAppDBFileName)
		}
		if f.WhatsAppDBDSN == defaultWhatsAppDSN(config.StateDir) {
			f.WhatsAppDBDSN = defaultWhatsAppDSN(f.StateDir)
		}
	}

	f.Provider = strings.ToLower(f.Provider)
	switch f.Provider {
	case ProviderWhatsmeow, ProviderTwilio, ProviderCloud:
	default:
		return Flags{}, fmt.Errorf("unknown messaging provider %q", f.Provider)
	}
	return f, nil
}

// buildWhatsAppOptions constructs whatsmeow client options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(flags.WhatsAppDBDSN), whatsapp.WithLogLevel(flags.LogLevel)}
	if flags.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(flags.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(flags.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(flags.TwilioFrom),
	}
}

// buildStoreOptions picks the application store driver from the DSN
func buildStoreOptions(flags Flags) (string, []store.Option) {
	if store.DetectDSNType(flags.ApplicationDBDSN) == store.DriverPostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.DriverPostgres, []store.Option{store.WithPostgresDSN(flags.ApplicationDBDSN)}
	}
	slog.Debug("Configuring SQLite store", "path", flags.ApplicationDBDSN)
	return store.DriverSQLite, []store.Option{store.WithSQLiteDSN(flags.ApplicationDBDSN), store.WithSeed(store.SampleInventory)}
}

// buildGenAIOptions constructs language model client options
func buildGenAIOptions(flags Flags) []genai.Option {
	return []genai.Option{
		genai.WithAPIKey(flags.OpenAIKey),
		genai.WithModel(flags.OpenAIModel),
		genai.WithDebugMode(flags.GenAIDebug, flags.StateDir),
	}
}

// buildDispatcherOptions constructs dispatcher options; collaborators are added by run
func buildDispatcherOptions(flags Flags) []dispatcher.Option {
	var opts []dispatcher.Option
	if flags.DispatchTimeout > 0 {
		opts = append(opts, dispatcher.WithHandlerTimeout(flags.DispatchTimeout))
	}
	return opts
}

// buildAPIOptions constructs HTTP server options that do not depend on live services
func buildAPIOptions(flags Flags) []api.Option {
	opts := []api.Option{api.WithAddr(flags.APIAddr)}
	burst := int(2 * flags.WebhookRateLimit)
	if burst < 1 {
		burst = 1
	}
	opts = append(opts, api.WithWebhookRateLimit(flags.WebhookRateLimit, burst))
	return opts
}
