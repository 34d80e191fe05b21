package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crispdesk/internal/collector"
	"crispdesk/internal/crisp"
	"crispdesk/internal/domain"
	"crispdesk/internal/extract"
	"crispdesk/internal/intent"
)

const (
	testConv    = "session_test"
	testChannel = "website_test"
	testUser    = "user_test"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDirectory struct {
	mu      sync.Mutex
	users   []domain.User
	posts   []domain.Post
	reports []domain.BugReport
	err     error
}

func (d *fakeDirectory) SearchUsers(_ context.Context, term string) ([]domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []domain.User
	term = strings.ToLower(term)
	for _, u := range d.users {
		if strings.Contains(strings.ToLower(u.Name), term) || strings.Contains(strings.ToLower(u.Email), term) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) CountUsers(context.Context) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	return len(d.users), nil
}

func (d *fakeDirectory) ListUsers(context.Context) ([]domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users, nil
}

func (d *fakeDirectory) PostsSince(_ context.Context, since time.Time) ([]domain.Post, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []domain.Post
	for _, p := range d.posts {
		if !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *fakeDirectory) SaveBugReport(_ context.Context, r domain.BugReport) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, d.err
	}
	d.reports = append(d.reports, r)
	return int64(len(d.reports)), nil
}

func (d *fakeDirectory) savedReports() []domain.BugReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.BugReport(nil), d.reports...)
}

type fakeNLU struct {
	result *domain.NLUResult
	err    error
	calls  int
}

func (n *fakeNLU) Name() string { return "fake" }

func (n *fakeNLU) Classify(context.Context, string) (*domain.NLUResult, error) {
	n.calls++
	return n.result, n.err
}

// harness wires an Engine to an in-memory gateway with short timings.
type harness struct {
	t       *testing.T
	gateway *crisp.MemoryGateway
	dir     *fakeDirectory
	engine  *Engine
}

type harnessOption func(*EngineConfig, *BuiltinConfig)

func withTimeout(d time.Duration) harnessOption {
	return func(ec *EngineConfig, bc *BuiltinConfig) {
		ec.Timeout = d
		bc.Timeout = d
		bc.LongTimeout = d
	}
}

func withNLU(n domain.NLU) harnessOption {
	return func(ec *EngineConfig, _ *BuiltinConfig) { ec.NLU = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	g := crisp.NewMemoryGateway()
	dir := &fakeDirectory{}
	ex, err := extract.NewExtractor(nil)
	require.NoError(t, err)

	bc := BuiltinConfig{
		Directory:   dir,
		BugReports:  dir,
		Extractor:   ex,
		ExitKeyword: "exit",
		Timeout:     5 * time.Second,
		LongTimeout: 5 * time.Second,
	}
	ec := EngineConfig{
		Gateway:   g,
		Collector: collector.New(collector.Config{Gateway: g, PollInterval: 5 * time.Millisecond, Logger: testLogger()}),
		Classifier: intent.NewClassifier(intent.ClassifierConfig{
			FuzzyThreshold: 10,
			NLULabels:      map[string]string{"check_balance": "3"},
			MinConfidence:  0.6,
		}),
		ExitKeyword: "exit",
		Timeout:     5 * time.Second,
		Logger:      testLogger(),
	}
	for _, o := range opts {
		o(&ec, &bc)
	}
	ec.Flows = Builtin(bc)

	e, err := NewEngine(ec)
	require.NoError(t, err)
	return &harness{t: t, gateway: g, dir: dir, engine: e}
}

// say records a user message and returns the event a webhook would carry.
func (h *harness) say(text string) domain.InboundEvent {
	entry := h.gateway.Say(testConv, text)
	return domain.InboundEvent{
		Kind:           domain.EventMessageSent,
		ConversationID: testConv,
		ChannelID:      testChannel,
		ParticipantID:  testUser,
		MessageKind:    domain.MessageText,
		Content:        text,
		Timestamp:      entry.Timestamp,
		Fingerprint:    entry.Fingerprint,
	}
}

// start handles ev in the background and returns a channel with the result.
func (h *harness) start(ctx context.Context, ev domain.InboundEvent) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.engine.Handle(ctx, ev) }()
	return done
}

// waitSent blocks until at least n operator messages were posted.
func (h *harness) waitSent(n int) []string {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.gateway.Sent(testConv)) >= n
	}, 3*time.Second, 2*time.Millisecond, "expected %d sent messages", n)
	return h.gateway.Sent(testConv)
}

func (h *harness) wait(done <-chan error) error {
	h.t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("flow did not finish")
		return errors.New("unreachable")
	}
}
