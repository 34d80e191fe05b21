package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crispdesk/internal/collector"
	"crispdesk/internal/crisp"
	"crispdesk/internal/domain"
	"crispdesk/internal/intent"
	"crispdesk/internal/metrics"
)

func TestEngine_NumericBalance(t *testing.T) {
	h := newHarness(t)

	err := h.engine.Handle(context.Background(), h.say("3"))
	require.NoError(t, err)

	sent := h.gateway.Sent(testConv)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "100")
}

func TestEngine_NamedSelection(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Handle(context.Background(), h.say("check balanse")))
	assert.Equal(t, []string{"Your current balance is 100 FCFA."}, h.gateway.Sent(testConv))
}

func TestEngine_SmallTalk(t *testing.T) {
	h := newHarness(t)
	cat := intent.DefaultCatalog()

	require.NoError(t, h.engine.Handle(context.Background(), h.say("Hello")))
	require.NoError(t, h.engine.Handle(context.Background(), h.say(" thank you ")))
	assert.Equal(t, []string{cat.GreetingReply, cat.AppreciationReply}, h.gateway.Sent(testConv))
}

func TestEngine_NoMatchRendersMenu(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Handle(context.Background(), h.say("I would like to know about the weather on mars")))
	sent := h.gateway.Sent(testConv)
	require.Len(t, sent, 1)
	assert.Equal(t, h.engine.Menu().Render(), sent[0])
	assert.Contains(t, sent[0], "1. Report a bug")
	assert.Contains(t, sent[0], "11. Make an inquiry")
}

func TestEngine_NLULabelSelectsFlow(t *testing.T) {
	n := &fakeNLU{result: &domain.NLUResult{Labels: []domain.IntentLabel{{Name: "check_balance", Confidence: 0.9}}}}
	h := newHarness(t, withNLU(n))

	require.NoError(t, h.engine.Handle(context.Background(), h.say("how much money do I have left in my wallet")))
	assert.Equal(t, []string{"Your current balance is 100 FCFA."}, h.gateway.Sent(testConv))
	assert.Equal(t, 1, n.calls)
}

func TestEngine_NLUSkippedForSmallTalk(t *testing.T) {
	n := &fakeNLU{err: errors.New("should not be called")}
	h := newHarness(t, withNLU(n))

	require.NoError(t, h.engine.Handle(context.Background(), h.say("hi")))
	assert.Equal(t, 0, n.calls)
}

func TestEngine_NLUFailureFallsBack(t *testing.T) {
	n := &fakeNLU{err: errors.New("wit down")}
	h := newHarness(t, withNLU(n))

	require.NoError(t, h.engine.Handle(context.Background(), h.say("3")))
	assert.Equal(t, []string{"Your current balance is 100 FCFA."}, h.gateway.Sent(testConv))
	assert.Equal(t, 1, n.calls)
}

func TestEngine_FlowErrorBecomesApology(t *testing.T) {
	h := newHarness(t)
	h.dir.err = errors.New("database is locked")
	before := metrics.FlowFailures.Value()

	err := h.engine.Handle(context.Background(), h.say("9"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count_users")

	sent := h.gateway.Sent(testConv)
	require.Len(t, sent, 1)
	assert.Equal(t, msgApology, sent[0])
	assert.NotContains(t, sent[0], "database is locked")
	assert.Equal(t, before+1, metrics.FlowFailures.Value())
}

type panicFlow struct{}

func (panicFlow) Name() string { return "panics" }

func (panicFlow) Run(context.Context, *Session) (StepOutcome, error) {
	panic("nil map write")
}

func TestEngine_PanicBecomesApology(t *testing.T) {
	g := crisp.NewMemoryGateway()
	cat := &intent.Catalog{
		MenuHeader: "Menu",
		Options:    []intent.MenuOption{{Key: "1", Label: "Boom", Flow: "panics"}},
	}
	e, err := NewEngine(EngineConfig{
		Gateway:    g,
		Collector:  collector.New(collector.Config{Gateway: g, Logger: testLogger()}),
		Classifier: intent.NewClassifier(intent.ClassifierConfig{Catalog: cat, FuzzyThreshold: 10}),
		Catalog:    cat,
		Flows:      []Flow{panicFlow{}},
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	g.Say(testConv, "1")
	err = e.Handle(context.Background(), domain.InboundEvent{ConversationID: testConv, ChannelID: testChannel, Content: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, []string{msgApology}, g.Sent(testConv))
}

func TestEngine_CancelStopsFlowWithoutApology(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := h.start(ctx, h.say("1"))
	h.waitSent(1)
	cancel()

	err := h.wait(done)
	assert.ErrorIs(t, err, context.Canceled)
	sent := h.gateway.Sent(testConv)
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "You have selected 'Report a bug'"))
}

func TestNewEngine_RejectsUnknownFlow(t *testing.T) {
	g := crisp.NewMemoryGateway()
	_, err := NewEngine(EngineConfig{
		Gateway:    g,
		Collector:  collector.New(collector.Config{Gateway: g, Logger: testLogger()}),
		Classifier: intent.NewClassifier(intent.ClassifierConfig{FuzzyThreshold: 10}),
		Flows:      []Flow{NewReply(intent.FlowCheckBalance, "x")},
		Logger:     testLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flow")
}

func TestNewEngine_RejectsDuplicateFlow(t *testing.T) {
	g := crisp.NewMemoryGateway()
	_, err := NewEngine(EngineConfig{
		Gateway:    g,
		Collector:  collector.New(collector.Config{Gateway: g, Logger: testLogger()}),
		Classifier: intent.NewClassifier(intent.ClassifierConfig{FuzzyThreshold: 10}),
		Flows:      []Flow{NewReply("a", "x"), NewReply("a", "y")},
		Logger:     testLogger(),
	})
	require.Error(t, err)
}

func TestSession_AskOutcomes(t *testing.T) {
	h := newHarness(t)
	ev := h.say("1")
	s := h.engine.newSession(ev)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.gateway.Say(testConv, " EXIT ")
	}()
	turn, err := s.Ask(context.Background(), "prompt", time.Second)
	require.NoError(t, err)
	assert.Equal(t, Exit, turn.Outcome)
	assert.Equal(t, "EXIT", turn.Text)

	turn, err = s.Ask(context.Background(), "again", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Timeout, turn.Outcome)

	h.gateway.SetFailure(errors.New("boom"))
	_, err = s.Ask(context.Background(), "", 50*time.Millisecond)
	assert.Error(t, err)
}

func TestEngine_ReloadSwapsCatalog(t *testing.T) {
	h := newHarness(t)

	cat := intent.DefaultCatalog()
	cat.Greetings = []string{"bonjour"}
	cat.GreetingReply = "Bonjour !"
	cat.MenuHeader = "Menu:"
	cat.Options = []intent.MenuOption{{Key: "1", Label: "Solde", Flow: intent.FlowCheckBalance}}
	require.NoError(t, h.engine.Reload(cat))

	require.NoError(t, h.engine.Handle(context.Background(), h.say("bonjour")))
	require.NoError(t, h.engine.Handle(context.Background(), h.say("1")))
	require.NoError(t, h.engine.Handle(context.Background(), h.say("what is the weather like on planet mars today")))
	assert.Equal(t, []string{
		"Bonjour !",
		"Your current balance is 100 FCFA.",
		"Menu:\n1. Solde\n",
	}, h.gateway.Sent(testConv))
}

func TestEngine_ReloadRejectsUnknownFlow(t *testing.T) {
	h := newHarness(t)
	before := h.engine.Menu()

	cat := intent.DefaultCatalog()
	cat.Options = []intent.MenuOption{{Key: "1", Label: "Mystery", Flow: "no_such_flow"}}
	assert.Error(t, h.engine.Reload(cat))
	assert.Same(t, before, h.engine.Menu())
}
