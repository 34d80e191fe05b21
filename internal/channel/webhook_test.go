package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordingDispatcher struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, raw []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bodies = append(d.bodies, string(raw))
	return d.err
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestWebhook(secret string, d Dispatcher) http.Handler {
	return NewWebhook(WebhookConfig{
		Path:        "/crisp/webhook",
		Secret:      secret,
		MetricsPath: "/metrics",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("crispdesk_uptime_seconds 1\n"))
		}),
		Dispatcher: d,
		Logger:     testWebhookLogger(),
	}).Handler()
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"message:send"}`)

	if !verifySignature(body, "s3cret", "", sign("s3cret", string(body))) {
		t.Error("valid body signature should verify")
	}
	if !verifySignature(body, "s3cret", "", "sha256="+sign("s3cret", string(body))) {
		t.Error("prefixed signature should verify")
	}
	if !verifySignature(body, "s3cret", "1700000000", sign("s3cret", "[1700000000;"+string(body)+"]")) {
		t.Error("timestamped signature should verify")
	}
	if verifySignature(body, "s3cret", "1700000001", sign("s3cret", "[1700000000;"+string(body)+"]")) {
		t.Error("signature over another timestamp must fail")
	}
	if verifySignature(body, "s3cret", "", "") {
		t.Error("empty signature should not verify")
	}
	if verifySignature(body, "other", "", sign("s3cret", string(body))) {
		t.Error("wrong secret should not verify")
	}
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("malformed event")}
	h := newTestWebhook("", d)

	for _, body := range []string{`{"event":"message:send"}`, `not json`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/crisp/webhook", strings.NewReader(body)))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != `{"success":true}` {
			t.Errorf("body = %s", got)
		}
	}
	if len(d.bodies) != 2 || d.bodies[1] != "not json" {
		t.Errorf("dispatcher got %v", d.bodies)
	}
}

func TestWebhook_Signature(t *testing.T) {
	d := &recordingDispatcher{}
	h := newTestWebhook("s3cret", d)
	body := `{"event":"message:send"}`

	unsigned := httptest.NewRequest(http.MethodPost, "/crisp/webhook", strings.NewReader(body))

	badSig := httptest.NewRequest(http.MethodPost, "/crisp/webhook", strings.NewReader(body))
	badSig.Header.Set("X-Crisp-Signature", sign("wrong", body))

	good := httptest.NewRequest(http.MethodPost, "/crisp/webhook", strings.NewReader(body))
	good.Header.Set("X-Crisp-Request-Timestamp", "1700000000")
	good.Header.Set("X-Crisp-Signature", sign("s3cret", "[1700000000;"+body+"]"))

	for name, req := range map[string]*http.Request{"unsigned": unsigned, "bad signature": badSig, "good signature": good} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, name)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String(), name)
	}

	assert.Len(t, d.bodies, 1, "only the signed request is dispatched")
}

func TestWebhook_Routes(t *testing.T) {
	h := newTestWebhook("", &recordingDispatcher{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/crisp/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET webhook: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthz: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "crispdesk_uptime_seconds") {
		t.Errorf("metrics not served: %s", rec.Body.String())
	}
}
