package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crispdesk/internal/crisp"
	"crispdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCollector(g *crisp.MemoryGateway) *Collector {
	return New(Config{Gateway: g, PollInterval: 10 * time.Millisecond, Logger: testLogger()})
}

func TestAwaitReturnsReply(t *testing.T) {
	g := crisp.NewMemoryGateway()
	trigger := g.Say("c1", "1")
	c := newTestCollector(g)
	cur := c.Open("c1", "w", Watermark{At: trigger.Timestamp, Fingerprint: trigger.Fingerprint})

	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Say("c1", "  the app crashes  ")
	}()

	text, err := cur.Await(context.Background(), "Describe the bug", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "the app crashes", text)
	assert.Equal(t, []string{"Describe the bug"}, g.Sent("c1"))
}

func TestAwaitDoesNotConsumeTrigger(t *testing.T) {
	g := crisp.NewMemoryGateway()
	trigger := g.Say("c1", "6")
	cur := newTestCollector(g).Open("c1", "w", Watermark{At: trigger.Timestamp, Fingerprint: trigger.Fingerprint})

	_, err := cur.Await(context.Background(), "", 60*time.Millisecond)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
}

func TestAwaitAdvancesWatermark(t *testing.T) {
	g := crisp.NewMemoryGateway()
	trigger := g.Say("c1", "1")
	cur := newTestCollector(g).Open("c1", "w", Watermark{At: trigger.Timestamp, Fingerprint: trigger.Fingerprint})

	reply := g.Say("c1", "first")
	text, err := cur.Await(context.Background(), "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.Equal(t, Watermark{At: reply.Timestamp, Fingerprint: reply.Fingerprint}, cur.Watermark())

	// The same message must not be returned twice.
	_, err = cur.Await(context.Background(), "", 60*time.Millisecond)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
}

func TestAwaitIgnoresOperatorTail(t *testing.T) {
	g := crisp.NewMemoryGateway()
	trigger := g.Say("c1", "1")
	cur := newTestCollector(g).Open("c1", "w", Watermark{At: trigger.Timestamp, Fingerprint: trigger.Fingerprint})

	// The prompt is the newest entry until the user answers.
	_, err := cur.Await(context.Background(), "Anything else?", 60*time.Millisecond)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
}

func TestAwaitTimeoutIsBounded(t *testing.T) {
	g := crisp.NewMemoryGateway()
	c := New(Config{Gateway: g, PollInterval: 400 * time.Millisecond, Logger: testLogger()})
	cur := c.Open("c1", "w", Watermark{})

	start := time.Now()
	_, err := cur.Await(context.Background(), "", time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrAwaitTimeout)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestAwaitCancelled(t *testing.T) {
	g := crisp.NewMemoryGateway()
	cur := newTestCollector(g).Open("c1", "w", Watermark{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := cur.Await(ctx, "", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwaitPropagatesGatewayError(t *testing.T) {
	g := crisp.NewMemoryGateway()
	cur := newTestCollector(g).Open("c1", "w", Watermark{})

	boom := errors.New("boom")
	g.SetFailure(boom)
	_, err := cur.Await(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, boom)

	_, err = cur.Await(context.Background(), "prompt", time.Second)
	assert.ErrorIs(t, err, boom)
}

func TestAwaitSkipsBlankReply(t *testing.T) {
	g := crisp.NewMemoryGateway()
	cur := newTestCollector(g).Open("c1", "w", Watermark{})

	g.Say("c1", "   ")
	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Say("c1", "real answer")
	}()

	text, err := cur.Await(context.Background(), "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "real answer", text)
}

// stalledGateway never answers a transcript fetch before its context ends.
type stalledGateway struct {
	*crisp.MemoryGateway
}

func (s stalledGateway) FetchTranscript(ctx context.Context, _, _ string) ([]domain.TranscriptEntry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, nil
	}
}

func TestAwaitTimeoutBoundsSlowFetch(t *testing.T) {
	g := stalledGateway{crisp.NewMemoryGateway()}
	c := New(Config{Gateway: g, PollInterval: 10 * time.Millisecond, Logger: testLogger()})
	cur := c.Open("c1", "w", Watermark{At: time.Now()})

	start := time.Now()
	_, err := cur.Await(context.Background(), "", time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrAwaitTimeout)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestAwaitReportsConsumedMessage(t *testing.T) {
	g := crisp.NewMemoryGateway()
	trigger := g.Say("c1", "1")

	var consumed []string
	c := New(Config{
		Gateway:      g,
		PollInterval: 10 * time.Millisecond,
		OnConsume: func(conversationID, fingerprint string) {
			consumed = append(consumed, conversationID+"/"+fingerprint)
		},
		Logger: testLogger(),
	})
	cur := c.Open("c1", "w", Watermark{At: trigger.Timestamp, Fingerprint: trigger.Fingerprint})

	reply := g.Say("c1", "exit")
	_, err := cur.Await(context.Background(), "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1/" + reply.Fingerprint}, consumed)
}
