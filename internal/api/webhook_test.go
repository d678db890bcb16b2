package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/twiliowhatsapp"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// recordingEmitter keeps every emitted message.
type recordingEmitter struct {
	mu     sync.Mutex
	msgs   []models.InboundMessage
	reject bool
}

func (e *recordingEmitter) Emit(msg models.InboundMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
	return !e.reject
}

func (e *recordingEmitter) messages() []models.InboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.InboundMessage(nil), e.msgs...)
}

const cloudPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "919876543210", "id": "wamid.1", "timestamp": "1718445600", "type": "text", "text": {"body": "I want a Honda"}},
          {"from": "919876543210", "id": "wamid.2", "timestamp": "1718445601", "type": "image", "image": {"id": "img"}}
        ]
      }
    }, {
      "field": "messages",
      "value": {"statuses": [{"id": "wamid.0", "status": "delivered"}]}
    }]
  }, {
    "id": "WABA2",
    "changes": [{
      "value": {"messages": [{"from": "919000000001", "id": "wamid.3", "type": "text", "text": {"body": "calculate emi"}}]}
    }]
  }]
}`

func hubSignature(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestParseCloudMessages(t *testing.T) {
	msgs := ParseCloudMessages([]byte(cloudPayload))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 text messages, got %d: %+v", len(msgs), msgs)
	}
	first := msgs[0]
	if first.From != "919876543210" || first.Body != "I want a Honda" || first.MessageID != "wamid.1" {
		t.Errorf("unexpected first message %+v", first)
	}
	if !first.Time.Equal(time.Unix(1718445600, 0)) {
		t.Errorf("unexpected timestamp %v", first.Time)
	}
	if msgs[1].MessageID != "wamid.3" || !msgs[1].Time.IsZero() {
		t.Errorf("unexpected second message %+v", msgs[1])
	}
	if got := ParseCloudMessages([]byte(`{"entry":[]}`)); len(got) != 0 {
		t.Errorf("expected no messages, got %+v", got)
	}
}

func TestVerifyWebhook(t *testing.T) {
	s := NewServer(WithCloudWebhook(&recordingEmitter{}, "sherpa-token", ""))

	w := do(s.Handler(), httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=sherpa-token&hub.challenge=12345", nil))
	if w.Code != http.StatusOK || w.Body.String() != "12345" {
		t.Errorf("expected challenge echoed, got %d %q", w.Code, w.Body.String())
	}

	for _, q := range []string{
		"hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"hub.mode=unsubscribe&hub.verify_token=sherpa-token&hub.challenge=1",
		"hub.challenge=1",
	} {
		w := do(s.Handler(), httptest.NewRequest(http.MethodGet, "/webhook?"+q, nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", q, w.Code)
		}
	}
}

func TestCloudWebhook_EmitsTextMessages(t *testing.T) {
	em := &recordingEmitter{}
	s := NewServer(WithCloudWebhook(em, "tok", ""))

	w := do(s.Handler(), httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cloudPayload)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("expected ok envelope, got %s", w.Body.String())
	}
	if got := em.messages(); len(got) != 2 || got[0].Body != "I want a Honda" {
		t.Errorf("unexpected emitted messages %+v", got)
	}
}

func TestCloudWebhook_Signature(t *testing.T) {
	em := &recordingEmitter{}
	s := NewServer(WithCloudWebhook(em, "tok", "app-secret"))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cloudPayload))
	req.Header.Set(SignatureHeader, hubSignature("app-secret", cloudPayload))
	if w := do(s.Handler(), req); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a valid signature, got %d", w.Code)
	}

	for name, header := range map[string]string{
		"missing":    "",
		"wrong key":  hubSignature("other", cloudPayload),
		"bad hex":    "sha256=zz",
		"no prefix":  strings.TrimPrefix(hubSignature("app-secret", cloudPayload), signaturePrefix),
		"other body": hubSignature("app-secret", "{}"),
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cloudPayload))
		if header != "" {
			req.Header.Set(SignatureHeader, header)
		}
		if w := do(s.Handler(), req); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, w.Code)
		}
	}
	if got := em.messages(); len(got) != 2 {
		t.Errorf("expected only the signed delivery emitted, got %d messages", len(got))
	}
}

func TestCloudWebhook_InvalidJSONAcknowledged(t *testing.T) {
	em := &recordingEmitter{}
	s := NewServer(WithCloudWebhook(em, "tok", ""))
	w := do(s.Handler(), httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json")))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if len(em.messages()) != 0 {
		t.Error("expected nothing emitted")
	}
}

func twilioSign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func twilioRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(TwilioSignatureHeader, signature)
	}
	return req
}

func TestTwilioWebhook(t *testing.T) {
	const publicURL = "https://bot.example.com/twilio/webhook"
	form := url.Values{"From": {"whatsapp:+919876543210"}, "Body": {"book a service"}, "MessageSid": {"SM123"}}

	em := &recordingEmitter{}
	s := NewServer(WithTwilioWebhook(em, twiliowhatsapp.NewSignatureValidator("auth"), publicURL))

	w := do(s.Handler(), twilioRequest(form, twilioSign("auth", publicURL, form)))
	if w.Code != http.StatusOK || w.Body.String() != EmptyTwiML {
		t.Fatalf("expected empty TwiML, got %d %q", w.Code, w.Body.String())
	}
	got := em.messages()
	if len(got) != 1 || got[0].From != "+919876543210" || got[0].Body != "book a service" || got[0].MessageID != "SM123" {
		t.Errorf("unexpected emitted messages %+v", got)
	}

	if w := do(s.Handler(), twilioRequest(form, twilioSign("wrong", publicURL, form))); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad signature, got %d", w.Code)
	}
	if w := do(s.Handler(), twilioRequest(form, "")); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a signature, got %d", w.Code)
	}
	if len(em.messages()) != 1 {
		t.Error("rejected callbacks must not be emitted")
	}
}

func TestTwilioWebhook_WithoutValidatorAndEmptyBody(t *testing.T) {
	em := &recordingEmitter{}
	s := NewServer(WithTwilioWebhook(em, nil, ""))

	status := url.Values{"MessageSid": {"SM9"}, "MessageStatus": {"delivered"}}
	if w := do(s.Handler(), twilioRequest(status, "")); w.Code != http.StatusOK {
		t.Errorf("expected 200 for a status callback, got %d", w.Code)
	}
	if len(em.messages()) != 0 {
		t.Error("status callbacks must not be emitted")
	}

	form := url.Values{"From": {"whatsapp:+919876543210"}, "Body": {"hi"}, "MessageSid": {"SM1"}}
	do(s.Handler(), twilioRequest(form, ""))
	if len(em.messages()) != 1 {
		t.Error("expected unsigned callback accepted without a validator")
	}
}

func TestWebhookRoutesDisabledWithoutEmitters(t *testing.T) {
	s := NewServer()
	if w := do(s.Handler(), httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for the cloud webhook, got %d", w.Code)
	}
	if w := do(s.Handler(), twilioRequest(url.Values{}, "")); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for the twilio webhook, got %d", w.Code)
	}
}
