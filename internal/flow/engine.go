package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crispdesk/internal/collector"
	"crispdesk/internal/domain"
	"crispdesk/internal/intent"
	"crispdesk/internal/metrics"
)

var tracer = otel.Tracer("crispdesk/flow")

const nluTimeout = 3 * time.Second

// EngineConfig configures an Engine.
type EngineConfig struct {
	Gateway     domain.Gateway
	Collector   *collector.Collector
	Classifier  *intent.Classifier
	Catalog     *intent.Catalog
	NLU         domain.NLU // optional
	Flows       []Flow
	ExitKeyword string
	Timeout     time.Duration // default per-turn timeout
	Logger      *slog.Logger
}

// vocabulary is the catalog-derived state swapped as a unit on reload.
type vocabulary struct {
	catalog    *intent.Catalog
	menu       *intent.Menu
	classifier *intent.Classifier
}

// Engine classifies an inbound message and runs the flow it selects.
type Engine struct {
	gateway     domain.Gateway
	collector   *collector.Collector
	vocab       atomic.Pointer[vocabulary]
	nlu         domain.NLU
	flows       map[string]Flow
	exitKeyword string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewEngine validates that every menu option names a registered flow.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Gateway == nil || cfg.Collector == nil || cfg.Classifier == nil {
		return nil, errors.New("flow engine requires a gateway, a collector and a classifier")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = intent.DefaultCatalog()
	}
	if cfg.ExitKeyword == "" {
		cfg.ExitKeyword = "exit"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	flows := make(map[string]Flow, len(cfg.Flows))
	for _, f := range cfg.Flows {
		if _, dup := flows[f.Name()]; dup {
			return nil, fmt.Errorf("flow %q registered twice", f.Name())
		}
		flows[f.Name()] = f
	}

	e := &Engine{
		gateway:     cfg.Gateway,
		collector:   cfg.Collector,
		nlu:         cfg.NLU,
		flows:       flows,
		exitKeyword: intent.Normalize(cfg.ExitKeyword),
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
	v, err := e.compile(cfg.Catalog, cfg.Classifier)
	if err != nil {
		return nil, err
	}
	e.vocab.Store(v)
	return e, nil
}

func (e *Engine) compile(cat *intent.Catalog, cls *intent.Classifier) (*vocabulary, error) {
	menu, err := cat.Menu()
	if err != nil {
		return nil, fmt.Errorf("build menu: %w", err)
	}
	for _, opt := range menu.Options() {
		if _, ok := e.flows[opt.Flow]; !ok {
			return nil, fmt.Errorf("menu option %s: unknown flow %q", opt.Key, opt.Flow)
		}
	}
	return &vocabulary{catalog: cat, menu: menu, classifier: cls}, nil
}

// Reload swaps in a new dialog catalog. The classifier keeps its tuning and
// learns the new small-talk phrases. Flows already running are unaffected;
// on error the current catalog stays in place.
func (e *Engine) Reload(cat *intent.Catalog) error {
	cur := e.vocab.Load()
	v, err := e.compile(cat, cur.classifier.WithCatalog(cat))
	if err != nil {
		return err
	}
	e.vocab.Store(v)
	e.logger.Info("dialog catalog reloaded", "options", len(v.menu.Options()))
	return nil
}

// Menu returns the menu the engine classifies against.
func (e *Engine) Menu() *intent.Menu { return e.vocab.Load().menu }

// Classify resolves the intent of text, consulting the NLU service when one
// is configured. NLU failures are logged and ignored.
func (e *Engine) Classify(ctx context.Context, text string) intent.Intent {
	return e.classify(ctx, e.vocab.Load(), text)
}

func (e *Engine) classify(ctx context.Context, v *vocabulary, text string) intent.Intent {
	in := v.classifier.Classify(text, v.menu, nil)
	if e.nlu == nil || in.Kind == intent.Greeting || in.Kind == intent.Appreciation {
		return in
	}
	if intent.Normalize(text) == "" {
		return in
	}

	nctx, cancel := context.WithTimeout(ctx, nluTimeout)
	defer cancel()
	res, err := e.nlu.Classify(nctx, text)
	if err != nil {
		e.logger.Warn("nlu classification failed", "provider", e.nlu.Name(), "err", err)
		return in
	}
	return v.classifier.Classify(text, v.menu, res)
}

// Handle answers one accepted message event. Small talk and unrecognised
// text are answered directly; menu selections run the matching flow to
// completion. Any flow failure is reported to the user as an apology and
// returned for logging. Handle blocks for as long as the flow runs.
func (e *Engine) Handle(ctx context.Context, ev domain.InboundEvent) error {
	v := e.vocab.Load()
	in := e.classify(ctx, v, ev.Content)
	log := e.logger.With("conversation_id", ev.ConversationID)
	log.Debug("message classified", "intent", in.Kind.String(), "key", in.Key, "source", in.Source)

	send := func(text string) error {
		return e.gateway.SendMessage(ctx, ev.ConversationID, ev.ChannelID, domain.TextMessage(text))
	}

	switch in.Kind {
	case intent.Greeting:
		return send(v.catalog.GreetingReply)
	case intent.Appreciation:
		return send(v.catalog.AppreciationReply)
	case intent.Numeric, intent.Named:
		opt, ok := v.menu.Lookup(in.Key)
		if !ok {
			return send(v.menu.Render())
		}
		return e.run(ctx, e.flows[opt.Flow], ev)
	default:
		return send(v.menu.Render())
	}
}

func (e *Engine) newSession(ev domain.InboundEvent) *Session {
	runID := uuid.NewString()
	start := collector.Watermark{At: ev.Timestamp, Fingerprint: ev.Fingerprint}
	return &Session{
		RunID:          runID,
		ConversationID: ev.ConversationID,
		ChannelID:      ev.ChannelID,
		ParticipantID:  ev.ParticipantID,
		Trigger:        ev.Content,
		gateway:        e.gateway,
		cursor:         e.collector.Open(ev.ConversationID, ev.ChannelID, start),
		exitKeyword:    e.exitKeyword,
		timeout:        e.timeout,
		logger:         e.logger.With("conversation_id", ev.ConversationID, "run_id", runID),
	}
}

func (e *Engine) run(ctx context.Context, f Flow, ev domain.InboundEvent) error {
	s := e.newSession(ev)
	name := f.Name()
	log := s.logger.With("flow", name)

	ctx, span := tracer.Start(ctx, "flow.run", trace.WithAttributes(
		attribute.String("flow.name", name),
		attribute.String("flow.run_id", s.RunID),
		attribute.String("conversation.id", ev.ConversationID),
	))
	defer span.End()

	metrics.FlowRuns(name).Inc()
	metrics.ActiveFlows.Inc()
	started := time.Now()
	defer func() {
		metrics.ActiveFlows.Dec()
		metrics.FlowDuration.Since(started)
	}()

	log.Info("flow started")
	outcome, err := e.runGuarded(ctx, f, s)
	span.SetAttributes(attribute.String("flow.outcome", outcome.String()))

	if err == nil {
		log.Info("flow finished", "outcome", outcome.String(), "duration", time.Since(started))
		return nil
	}
	if ctx.Err() != nil {
		log.Info("flow cancelled", "err", err)
		return ctx.Err()
	}

	metrics.FlowFailures.Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Error("flow failed", "err", err)
	if sendErr := s.Send(ctx, msgApology); sendErr != nil {
		log.Warn("apology not delivered", "err", sendErr)
	}
	return fmt.Errorf("flow %s: %w", name, err)
}

// runGuarded converts a panic inside a flow into an error.
func (e *Engine) runGuarded(ctx context.Context, f Flow, s *Session) (outcome StepOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("flow panicked", "flow", f.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.Run(ctx, s)
}
