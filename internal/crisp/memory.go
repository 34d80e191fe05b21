package crisp

import (
	"context"
	"strconv"
	"sync"
	"time"

	"crispdesk/internal/domain"
)

// MemoryGateway is an in-process Gateway. It backs the local console and the
// package tests. Timestamps are strictly increasing per gateway so that
// watermarks behave as they do against the real transcript.
type MemoryGateway struct {
	mu          sync.Mutex
	convs       map[string][]domain.TranscriptEntry
	assignments map[string]string
	last        time.Time
	seq         int

	// OnSend, when set, is called after every operator message is recorded.
	OnSend func(conversationID string, msg domain.OutgoingMessage)

	// Fail, when set, is returned by every gateway call.
	Fail error
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		convs:       make(map[string][]domain.TranscriptEntry),
		assignments: make(map[string]string),
	}
}

func (g *MemoryGateway) nextStamp() (time.Time, string) {
	now := time.Now().Truncate(time.Millisecond)
	if !now.After(g.last) {
		now = g.last.Add(time.Millisecond)
	}
	g.last = now
	g.seq++
	return now, strconv.Itoa(g.seq)
}

func (g *MemoryGateway) append(conversationID string, author domain.Author, content string) domain.TranscriptEntry {
	at, fp := g.nextStamp()
	e := domain.TranscriptEntry{Author: author, Content: content, Fingerprint: fp, Timestamp: at}
	g.convs[conversationID] = append(g.convs[conversationID], e)
	return e
}

func (g *MemoryGateway) SendMessage(ctx context.Context, conversationID, channelID string, msg domain.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.Fail != nil {
		err := g.Fail
		g.mu.Unlock()
		return err
	}
	author := msg.From
	if author == "" {
		author = domain.AuthorOperator
	}
	g.append(conversationID, author, msg.Content)
	hook := g.OnSend
	g.mu.Unlock()

	if hook != nil {
		hook(conversationID, msg)
	}
	return nil
}

func (g *MemoryGateway) FetchTranscript(ctx context.Context, conversationID, channelID string) ([]domain.TranscriptEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return nil, g.Fail
	}
	return append([]domain.TranscriptEntry(nil), g.convs[conversationID]...), nil
}

func (g *MemoryGateway) AssignRouting(ctx context.Context, conversationID, channelID, operatorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Fail != nil {
		return g.Fail
	}
	g.assignments[conversationID] = operatorID
	return nil
}

// Say records a user message and returns the stored entry, so callers can
// build the matching webhook event.
func (g *MemoryGateway) Say(conversationID, content string) domain.TranscriptEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.append(conversationID, domain.AuthorUser, content)
}

// SetFailure switches failure injection on (err != nil) or off.
func (g *MemoryGateway) SetFailure(err error) {
	g.mu.Lock()
	g.Fail = err
	g.mu.Unlock()
}

// Sent returns the operator messages posted to a conversation, oldest first.
func (g *MemoryGateway) Sent(conversationID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, e := range g.convs[conversationID] {
		if e.Author == domain.AuthorOperator {
			out = append(out, e.Content)
		}
	}
	return out
}

// Assignment returns the operator a conversation was routed to.
func (g *MemoryGateway) Assignment(conversationID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, ok := g.assignments[conversationID]
	return op, ok
}
