// Package crisp talks to the Crisp REST API on behalf of the bot.
package crisp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"crispdesk/internal/domain"
	"crispdesk/internal/httpclient"
)

const (
	defaultAPIBase = "https://api.crisp.chat/v1"
	defaultTier    = "plugin"
)

// APIError is a non-retryable error reported by the Crisp API.
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crisp api: HTTP %d: %s", e.StatusCode, e.Reason)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIBase           string
	Identifier        string
	Key               string
	Tier              string
	WebsiteID         string // used when an event carries no website id
	RequestsPerSecond float64
	MaxRetries        int
	Timeout           time.Duration
	RetryBackoff      time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client implements domain.Gateway against the Crisp REST API.
type Client struct {
	apiBase    string
	identifier string
	key        string
	tier       string
	websiteID  string
	retrier    *retrier
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Tier == "" {
		cfg.Tier = defaultTier
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New(httpclient.Options{Timeout: cfg.Timeout, UserAgent: "crispdesk-crisp"})
	}
	burst := max(1, int(cfg.RequestsPerSecond))
	return &Client{
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		identifier: cfg.Identifier,
		key:        cfg.Key,
		tier:       cfg.Tier,
		websiteID:  cfg.WebsiteID,
		retrier: &retrier{
			client:     cfg.HTTPClient,
			limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
			maxRetries: cfg.MaxRetries,
			backoff:    cfg.RetryBackoff,
			logger:     cfg.Logger,
		},
		logger: cfg.Logger,
	}
}

type sendMessageRequest struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Origin  string `json:"origin"`
	Content string `json:"content"`
}

type routingRequest struct {
	Assigned struct {
		UserID string `json:"user_id"`
	} `json:"assigned"`
}

type envelope struct {
	Error  bool            `json:"error"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

type wireMessage struct {
	From        string          `json:"from"`
	Type        string          `json:"type"`
	Content     json.RawMessage `json:"content"`
	Fingerprint json.Number     `json:"fingerprint"`
	Timestamp   int64           `json:"timestamp"`
}

func (c *Client) SendMessage(ctx context.Context, conversationID, channelID string, msg domain.OutgoingMessage) error {
	kind := string(msg.Kind)
	if kind == "" {
		kind = string(domain.MessageText)
	}
	from := string(msg.From)
	if from == "" {
		from = string(domain.AuthorOperator)
	}
	origin := msg.Origin
	if origin == "" {
		origin = "chat"
	}
	body := sendMessageRequest{Type: kind, From: from, Origin: origin, Content: msg.Content}
	_, err := c.call(ctx, http.MethodPost, c.conversationPath(conversationID, channelID, "message"), body)
	return err
}

func (c *Client) FetchTranscript(ctx context.Context, conversationID, channelID string) ([]domain.TranscriptEntry, error) {
	data, err := c.call(ctx, http.MethodGet, c.conversationPath(conversationID, channelID, "messages"), nil)
	if err != nil {
		return nil, err
	}
	var raw []wireMessage
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	}

	entries := make([]domain.TranscriptEntry, 0, len(raw))
	for _, m := range raw {
		entries = append(entries, domain.TranscriptEntry{
			Author:      domain.Author(m.From),
			Content:     ContentText(m.Content),
			Fingerprint: m.Fingerprint.String(),
			Timestamp:   time.UnixMilli(m.Timestamp),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (c *Client) AssignRouting(ctx context.Context, conversationID, channelID, operatorID string) error {
	var body routingRequest
	body.Assigned.UserID = operatorID
	_, err := c.call(ctx, http.MethodPatch, c.conversationPath(conversationID, channelID, "routing"), body)
	return err
}

// ContentText flattens message content. Text messages carry a string; file
// and other structured messages carry an object whose url or text is used.
func ContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Text != "":
			return obj.Text
		case obj.URL != "":
			return obj.URL
		default:
			return obj.Name
		}
	}
	return ""
}

func (c *Client) conversationPath(conversationID, channelID, suffix string) string {
	website := channelID
	if website == "" {
		website = c.websiteID
	}
	return fmt.Sprintf("/website/%s/conversation/%s/%s",
		url.PathEscape(website), url.PathEscape(conversationID), suffix)
}

// call performs one API request and returns the envelope's data field.
func (c *Client) call(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	resp, err := c.retrier.do(ctx, func() (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, rd)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.identifier, c.key)
		req.Header.Set("X-Crisp-Tier", c.tier)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 || env.Error {
		reason := env.Reason
		if reason == "" {
			reason = strings.TrimSpace(string(respBody))
		}
		c.logger.Warn("crisp api error", "method", method, "path", path, "status", resp.StatusCode, "reason", reason)
		return nil, &APIError{StatusCode: resp.StatusCode, Reason: reason}
	}
	return env.Data, nil
}
