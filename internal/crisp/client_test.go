package crisp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crispdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		APIBase:           srv.URL,
		Identifier:        "ident",
		Key:               "secret",
		WebsiteID:         "site-default",
		RequestsPerSecond: 1000,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		HTTPClient:        srv.Client(),
		Logger:            testLogger(),
	})
}

func TestSendMessage(t *testing.T) {
	var got sendMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/website/site-1/conversation/sess-1/message", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ident", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "plugin", r.Header.Get("X-Crisp-Tier"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"error":false,"reason":"dispatched","data":{"fingerprint":1}}`))
	})

	err := c.SendMessage(context.Background(), "sess-1", "site-1", domain.TextMessage("hello"))
	require.NoError(t, err)
	assert.Equal(t, sendMessageRequest{Type: "text", From: "operator", Origin: "chat", Content: "hello"}, got)
}

func TestConversationPathFallsBackToDefaultWebsite(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/website/site-default/conversation/sess-1/routing", r.URL.Path)
		assert.Equal(t, http.MethodPatch, r.Method)
		var body routingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "op-7", body.Assigned.UserID)
		w.Write([]byte(`{"error":false,"reason":"updated"}`))
	})

	require.NoError(t, c.AssignRouting(context.Background(), "sess-1", "", "op-7"))
}

func TestFetchTranscript(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/website/site-1/conversation/sess-1/messages", r.URL.Path)
		w.Write([]byte(`{"error":false,"reason":"resolved","data":[
			{"from":"operator","type":"text","content":"Pick one","fingerprint":22,"timestamp":1700000002000},
			{"from":"user","type":"text","content":"hi","fingerprint":11,"timestamp":1700000001000},
			{"from":"user","type":"file","content":{"name":"shot.png","url":"https://x/shot.png","type":"image/png"},"fingerprint":33,"timestamp":1700000003000}
		]}`))
	})

	entries, err := c.FetchTranscript(context.Background(), "sess-1", "site-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, domain.AuthorUser, entries[0].Author)
	assert.Equal(t, "hi", entries[0].Content)
	assert.Equal(t, "11", entries[0].Fingerprint)
	assert.Equal(t, time.UnixMilli(1700000001000), entries[0].Timestamp)
	assert.Equal(t, domain.AuthorOperator, entries[1].Author)
	assert.Equal(t, "https://x/shot.png", entries[2].Content)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"error":false,"data":[]}`))
	})

	entries, err := c.FetchTranscript(context.Background(), "s", "w")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.SendMessage(context.Background(), "s", "w", domain.TextMessage("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":true,"reason":"session_not_found","data":{}}`))
	})

	err := c.SendMessage(context.Background(), "s", "w", domain.TextMessage("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "session_not_found", apiErr.Reason)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnvelopeErrorFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":true,"reason":"invalid_data"}`))
	})

	err := c.SendMessage(context.Background(), "s", "w", domain.TextMessage("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_data", apiErr.Reason)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.retrier.backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.SendMessage(ctx, "s", "w", domain.TextMessage("x"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
