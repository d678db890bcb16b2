package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const (
	// EmptyTwiML acknowledges a Twilio callback without replying inline.
	EmptyTwiML = "<Response></Response>"
	// SignatureHeader carries the Cloud API payload signature.
	SignatureHeader = "X-Hub-Signature-256"
	// TwilioSignatureHeader carries the Twilio request signature.
	TwilioSignatureHeader = "X-Twilio-Signature"

	signaturePrefix = "sha256="
)

// verifyWebhookHandler answers the Cloud API subscription handshake.
func (s *Server) verifyWebhookHandler(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || s.cfg.VerifyToken == "" || !hmac.Equal([]byte(token), []byte(s.cfg.VerifyToken)) {
		slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", mode)
		c.String(http.StatusForbidden, "Forbidden")
		return
	}
	slog.Info("Server.verifyWebhookHandler: webhook verified")
	c.String(http.StatusOK, challenge)
}

// cloudWebhookHandler decodes Cloud API notifications. Accepted payloads are always
// acknowledged with 200 so Meta does not redeliver them.
func (s *Server) cloudWebhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxWebhookBodyBytes))
	if err != nil {
		slog.Warn("Server.cloudWebhookHandler: failed to read body", "error", err)
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}
	if s.cfg.AppSecret != "" && !validSignature(s.cfg.AppSecret, body, c.GetHeader(SignatureHeader)) {
		slog.Warn("Server.cloudWebhookHandler: signature mismatch")
		writeJSON(c, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}
	if !gjson.ValidBytes(body) {
		slog.Warn("Server.cloudWebhookHandler: ignoring invalid JSON payload", "bytes", len(body))
		writeJSON(c, http.StatusOK, models.Success(nil))
		return
	}

	msgs := ParseCloudMessages(body)
	for _, msg := range msgs {
		if !s.cfg.CloudEmitter.Emit(msg) {
			slog.Warn("Server.cloudWebhookHandler: message not accepted", "from", msg.From, "message_id", msg.MessageID)
		}
	}
	slog.Debug("Server.cloudWebhookHandler: notification processed", "messages", len(msgs))
	writeJSON(c, http.StatusOK, models.Success(nil))
}

// ParseCloudMessages extracts text messages from a Cloud API notification. Status
// updates and non-text messages are skipped.
func ParseCloudMessages(body []byte) []models.InboundMessage {
	var out []models.InboundMessage
	gjson.GetBytes(body, "entry.#.changes.#.value.messages|@flatten|@flatten").ForEach(func(_, m gjson.Result) bool {
		if m.Get("type").String() != "text" {
			return true
		}
		msg := models.InboundMessage{
			From:      m.Get("from").String(),
			Body:      m.Get("text.body").String(),
			MessageID: m.Get("id").String(),
		}
		if ts := m.Get("timestamp").Int(); ts > 0 {
			msg.Time = time.Unix(ts, 0).UTC()
		}
		if msg.From != "" && msg.Body != "" {
			out = append(out, msg)
		}
		return true
	})
	return out
}

// validSignature checks an "sha256=<hex>" HMAC of body under secret.
func validSignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// twilioWebhookHandler decodes Twilio's form-encoded inbound message callback.
func (s *Server) twilioWebhookHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes)
	if err := c.Request.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeJSON(c, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}
	form := c.Request.PostForm

	if s.cfg.TwilioValidator != nil {
		fullURL := s.cfg.TwilioWebhookURL
		if fullURL == "" {
			fullURL = requestURL(c.Request)
		}
		if !s.cfg.TwilioValidator.Validate(fullURL, form, c.GetHeader(TwilioSignatureHeader)) {
			slog.Warn("Server.twilioWebhookHandler: signature mismatch", "url", fullURL)
			writeJSON(c, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
	}

	msg := models.InboundMessage{
		From:      strings.TrimPrefix(form.Get("From"), "whatsapp:"),
		Body:      form.Get("Body"),
		MessageID: form.Get("MessageSid"),
	}
	if msg.From == "" || msg.Body == "" {
		slog.Debug("Server.twilioWebhookHandler: ignoring callback without text", "message_id", msg.MessageID)
		c.Data(http.StatusOK, "text/xml", []byte(EmptyTwiML))
		return
	}
	if !s.cfg.TwilioEmitter.Emit(msg) {
		slog.Warn("Server.twilioWebhookHandler: message not accepted", "from", msg.From, "message_id", msg.MessageID)
	}
	c.Data(http.StatusOK, "text/xml", []byte(EmptyTwiML))
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
