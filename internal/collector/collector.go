// Package collector implements turn-taking over a chat platform that can only
// be read by polling the conversation transcript.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crispdesk/internal/domain"
	"crispdesk/internal/metrics"
)

const defaultPollInterval = 500 * time.Millisecond

// ErrAwaitTimeout is returned when no new user message arrived in time.
var ErrAwaitTimeout = errors.New("await timeout")

// Watermark marks the newest transcript entry already consumed.
type Watermark struct {
	At          time.Time
	Fingerprint string
}

// covers reports whether e was consumed at or before the watermark.
func (w Watermark) covers(e domain.TranscriptEntry) bool {
	if e.Timestamp.After(w.At) {
		return false
	}
	if e.Timestamp.Equal(w.At) && e.Fingerprint != "" && w.Fingerprint != "" && e.Fingerprint != w.Fingerprint {
		return false
	}
	return true
}

// Config configures a Collector.
type Config struct {
	Gateway      domain.Gateway
	PollInterval time.Duration
	// OnConsume, when set, is called with the fingerprint of every user
	// message a cursor consumes, so the web hook for that message can be
	// recognised as already handled.
	OnConsume func(conversationID, fingerprint string)
	Logger    *slog.Logger
}

// Collector hands out cursors over conversations.
type Collector struct {
	gateway   domain.Gateway
	interval  time.Duration
	onConsume func(conversationID, fingerprint string)
	logger    *slog.Logger
}

func New(cfg Config) *Collector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Collector{
		gateway:   cfg.Gateway,
		interval:  cfg.PollInterval,
		onConsume: cfg.OnConsume,
		logger:    cfg.Logger,
	}
}

// Open returns a cursor for one flow run. Messages at or before start are
// treated as already consumed; start is normally the triggering message.
func (c *Collector) Open(conversationID, channelID string, start Watermark) *Cursor {
	return &Cursor{
		c:              c,
		conversationID: conversationID,
		channelID:      channelID,
		mark:           start,
	}
}

// Cursor reads user replies from one conversation. It is owned by a single
// flow run and is not safe for concurrent use.
type Cursor struct {
	c              *Collector
	conversationID string
	channelID      string
	mark           Watermark
}

// Watermark returns the position of the last consumed message.
func (cur *Cursor) Watermark() Watermark { return cur.mark }

// Await sends prompt (if not empty) and polls the transcript until the most
// recent entry is an unconsumed user message, returning its trimmed text.
// It returns ErrAwaitTimeout once timeout has elapsed, including when a
// transcript fetch is still in flight at the deadline, and ctx.Err() if ctx
// ends first.
func (cur *Cursor) Await(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	c := cur.c
	if prompt != "" {
		if err := c.gateway.SendMessage(ctx, cur.conversationID, cur.channelID, domain.TextMessage(prompt)); err != nil {
			return "", fmt.Errorf("send prompt: %w", err)
		}
	}

	start := time.Now()
	deadline := start.Add(timeout)
	polls := 0

	for {
		polls++
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		entries, err := c.gateway.FetchTranscript(fetchCtx, cur.conversationID, cur.channelID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !time.Now().Before(deadline) {
				return "", cur.timedOut(polls, timeout)
			}
			return "", fmt.Errorf("fetch transcript: %w", err)
		}

		if n := len(entries); n > 0 {
			last := entries[n-1]
			if last.Author == domain.AuthorUser && !cur.mark.covers(last) {
				cur.mark = Watermark{At: last.Timestamp, Fingerprint: last.Fingerprint}
				if c.onConsume != nil && last.Fingerprint != "" {
					c.onConsume(cur.conversationID, last.Fingerprint)
				}
				text := strings.TrimSpace(last.Content)
				if text != "" {
					c.logger.Debug("user reply received",
						"conversation_id", cur.conversationID,
						"polls", polls,
						"waited", time.Since(start),
					)
					return text, nil
				}
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", cur.timedOut(polls, timeout)
		}

		timer := time.NewTimer(min(c.interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (cur *Cursor) timedOut(polls int, timeout time.Duration) error {
	cur.c.logger.Debug("await timed out",
		"conversation_id", cur.conversationID,
		"polls", polls,
		"timeout", timeout,
	)
	metrics.AwaitTimeouts.Inc()
	return ErrAwaitTimeout
}
