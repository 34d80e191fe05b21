// Package channel exposes the bot to the outside: the HTTP endpoint Crisp
// posts web hooks to, and a local console for trying dialogs without Crisp.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crispdesk/internal/metrics"
)

const (
	maxBodyBytes           = 1 << 20
	defaultSignatureHeader = "X-Crisp-Signature"
	timestampHeader        = "X-Crisp-Request-Timestamp"
)

// Dispatcher receives raw web hook bodies.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) error
}

// WebhookConfig configures the web hook server.
type WebhookConfig struct {
	Host            string
	Port            int
	Path            string // web hook URL path (default: /)
	Secret          string // HMAC secret; empty disables verification
	SignatureHeader string
	MetricsPath     string       // empty disables the metrics route
	Metrics         http.Handler // served on MetricsPath
	Dispatcher      Dispatcher
	Logger          *slog.Logger
}

// Webhook is the HTTP entry point for platform events.
type Webhook struct {
	addr        string
	path        string
	secret      string
	sigHeader   string
	metricsPath string
	metrics     http.Handler
	dispatcher  Dispatcher
	logger      *slog.Logger
	server      *http.Server
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = defaultSignatureHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		path:        cfg.Path,
		secret:      cfg.Secret,
		sigHeader:   cfg.SignatureHeader,
		metricsPath: cfg.MetricsPath,
		metrics:     cfg.Metrics,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger,
	}
}

// Handler builds the router. The web hook path only accepts POST.
func (w *Webhook) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(w.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	if w.metricsPath != "" && w.metrics != nil {
		r.Method(http.MethodGet, w.metricsPath, w.metrics)
	}
	r.Post(w.path, w.handleWebhook)
	return r
}

// Start serves until ctx is cancelled, then shuts the server down.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.addr, "path", w.path, "signed", w.secret != "")

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// handleWebhook acknowledges every request with 200, so the platform never
// retries a delivery the bot chose to drop. Unreadable bodies and missing or
// invalid signatures are logged and dropped without reaching the dispatcher.
func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	defer writeJSON(rw, http.StatusOK, map[string]bool{"success": true})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhooksRejected.Inc()
		w.logger.Warn("webhook body unreadable", "err", err)
		return
	}

	if w.secret != "" {
		sig := r.Header.Get(w.sigHeader)
		if sig == "" {
			metrics.WebhooksRejected.Inc()
			w.logger.Warn("webhook signature missing, delivery dropped", "remote", r.RemoteAddr)
			return
		}
		if !verifySignature(body, w.secret, r.Header.Get(timestampHeader), sig) {
			metrics.WebhooksRejected.Inc()
			w.logger.Warn("webhook signature invalid, delivery dropped", "remote", r.RemoteAddr)
			return
		}
	}

	_ = w.dispatcher.Dispatch(r.Context(), body)
}

// verifySignature checks an HMAC-SHA256 hex signature. When the platform sent
// a request timestamp the signed message is "[timestamp;body]", otherwise the
// raw body. A "sha256=" prefix on the signature is accepted.
func verifySignature(body []byte, secret, timestamp, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if timestamp != "" {
		fmt.Fprintf(mac, "[%s;%s]", timestamp, body)
	} else {
		mac.Write(body)
	}
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (w *Webhook) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		w.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
