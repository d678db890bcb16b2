// Package api serves the CarSherpa HTTP surface: the WhatsApp Cloud API and Twilio
// webhooks that feed inbound messages into the messaging layer, a health probe, and a
// small JWT-protected admin API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/twiliowhatsapp"
	"github.com/gin-gonic/gin"
)

// Default configuration constants
const (
	// DefaultAddr is the listen address used when none is configured
	DefaultAddr = ":8080"
	// DefaultWebhookRate is the sustained webhook requests per second allowed per IP
	DefaultWebhookRate = 20.0
	// DefaultWebhookBurst is the webhook burst allowed per IP
	DefaultWebhookBurst = 40
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// MaxWebhookBodyBytes caps the size of a webhook payload
	MaxWebhookBodyBytes = 1 << 20
)

// Emitter accepts inbound messages decoded from a webhook.
type Emitter interface {
	Emit(msg models.InboundMessage) bool
}

// CacheInvalidator drops cached reference data.
type CacheInvalidator interface {
	Invalidate()
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr             string
	VerifyToken      string
	AppSecret        string
	CloudEmitter     Emitter
	TwilioEmitter    Emitter
	TwilioValidator  *twiliowhatsapp.SignatureValidator
	TwilioWebhookURL string
	AdminSecret      string
	Conversations    *conversation.Store
	Cache            CacheInvalidator
	WebhookRate      float64
	WebhookBurst     int
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCloudWebhook enables the WhatsApp Cloud API webhook. An empty appSecret disables
// signature checks.
func WithCloudWebhook(e Emitter, verifyToken, appSecret string) Option {
	return func(o *Opts) {
		o.CloudEmitter = e
		o.VerifyToken = verifyToken
		o.AppSecret = appSecret
	}
}

// WithTwilioWebhook enables the Twilio webhook. A nil validator disables signature
// checks; publicURL is the externally visible webhook URL Twilio signs.
func WithTwilioWebhook(e Emitter, v *twiliowhatsapp.SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioEmitter = e
		o.TwilioValidator = v
		o.TwilioWebhookURL = publicURL
	}
}

// WithAdmin enables the admin API guarded by HS256 bearer tokens signed with secret.
func WithAdmin(secret string, conversations *conversation.Store, cache CacheInvalidator) Option {
	return func(o *Opts) {
		o.AdminSecret = secret
		o.Conversations = conversations
		o.Cache = cache
	}
}

// WithWebhookRateLimit sets the per-IP webhook rate. A non-positive rate disables limiting.
func WithWebhookRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.WebhookRate = rps
		o.WebhookBurst = burst
	}
}

// Server is the HTTP front door.
type Server struct {
	cfg     Opts
	engine  *gin.Engine
	httpSrv *http.Server
}

// NewServer builds the router for the configured endpoints.
func NewServer(opts ...Option) *Server {
	cfg := Opts{
		Addr:         DefaultAddr,
		WebhookRate:  DefaultWebhookRate,
		WebhookBurst: DefaultWebhookBurst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{cfg: cfg}
	s.engine = s.routes()
	slog.Debug("api.NewServer: created", "addr", cfg.Addr, "cloud", cfg.CloudEmitter != nil, "twilio", cfg.TwilioEmitter != nil, "admin", cfg.AdminSecret != "")
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	r.GET("/health", s.healthHandler)

	hooks := r.Group("")
	if s.cfg.WebhookRate > 0 {
		hooks.Use(NewRateLimiter(s.cfg.WebhookRate, s.cfg.WebhookBurst).PerIP())
	}
	if s.cfg.CloudEmitter != nil {
		hooks.GET("/webhook", s.verifyWebhookHandler)
		hooks.POST("/webhook", s.cloudWebhookHandler)
	}
	if s.cfg.TwilioEmitter != nil {
		hooks.POST("/twilio/webhook", s.twilioWebhookHandler)
	}

	if s.cfg.AdminSecret != "" {
		admin := r.Group("/admin", adminAuth(s.cfg.AdminSecret))
		admin.POST("/cache/invalidate", s.invalidateCacheHandler)
		admin.GET("/conversations/:user", s.getConversationHandler)
		admin.DELETE("/conversations/:user", s.deleteConversationHandler)
	}
	return r
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server.Run: listener failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("Server.request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
