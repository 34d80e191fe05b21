// Package dispatch accepts inbound chat events, drops duplicates and
// concurrent events for busy conversations, and runs each accepted event on
// its own goroutine.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crispdesk/internal/domain"
	"crispdesk/internal/metrics"
)

var tracer = otel.Tracer("crispdesk/dispatch")

const (
	defaultDedupeTTL        = 10 * time.Minute
	defaultDedupeMaxEntries = 10000
)

// Handler processes one accepted event. It may block for the whole flow.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
}

// Config configures a Dispatcher.
type Config struct {
	Handler          Handler
	DedupeTTL        time.Duration
	DedupeMaxEntries int
	Logger           *slog.Logger
}

// Dispatcher owns the lifetime of every flow it starts. Flows run under a
// context that ends when Shutdown is called, not when the request that
// delivered their event completes.
type Dispatcher struct {
	handler Handler
	seen    *dedupeSet
	gate    *gate
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if cfg.DedupeMaxEntries <= 0 {
		cfg.DedupeMaxEntries = defaultDedupeMaxEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: cfg.Handler,
		seen:    newDedupeSet(cfg.DedupeTTL, cfg.DedupeMaxEntries),
		gate:    newGate(),
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch decodes a raw web hook body and dispatches it. The returned error
// is informational: every rejection has already been logged, and callers
// acknowledge the delivery regardless.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	ctx, span := tracer.Start(ctx, "dispatch.webhook")
	defer span.End()
	metrics.WebhooksReceived.Inc()

	ev, err := DecodeEvent(raw)
	if err != nil {
		metrics.WebhooksRejected.Inc()
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("webhook rejected", "err", err, "bytes", len(raw))
		return err
	}
	return d.dispatch(ctx, span, ev)
}

// DispatchEvent dispatches an already decoded event. Events without a
// delivery id get a fresh one and are never treated as duplicates.
func (d *Dispatcher) DispatchEvent(ctx context.Context, ev domain.InboundEvent) error {
	ctx, span := tracer.Start(ctx, "dispatch.event")
	defer span.End()
	if ev.DeliveryID == "" {
		ev.DeliveryID = uuid.NewString()
	}
	return d.dispatch(ctx, span, ev)
}

func (d *Dispatcher) dispatch(ctx context.Context, span trace.Span, ev domain.InboundEvent) error {
	span.SetAttributes(
		attribute.String("event.kind", ev.RawKind),
		attribute.String("conversation.id", ev.ConversationID),
		attribute.String("delivery.id", ev.DeliveryID),
	)
	log := d.logger.With("conversation_id", ev.ConversationID, "delivery_id", ev.DeliveryID)

	if ev.Kind != domain.EventMessageSent {
		log.Debug("event ignored", "event", ev.RawKind)
		return ErrUnsupportedEvent
	}
	if !ev.IsSupportedMessage() {
		log.Debug("message ignored", "type", string(ev.MessageKind))
		return ErrUnsupportedMessage
	}
	if !d.seen.Add(ev.DeliveryID) {
		metrics.DuplicateDeliveries.Inc()
		log.Info("duplicate delivery dropped")
		return ErrDuplicateDelivery
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Warn("event dropped during shutdown")
		return ErrClosed
	}
	if !d.gate.TryAcquire(ev.ConversationID) {
		d.mu.Unlock()
		metrics.BusyConversations.Inc()
		log.Info("conversation busy, event left to the active flow")
		return ErrConversationBusy
	}
	d.wg.Add(1)
	d.mu.Unlock()

	flowCtx := trace.ContextWithSpanContext(d.ctx, span.SpanContext())
	go func() {
		defer d.wg.Done()
		defer d.gate.Release(ev.ConversationID)
		if err := d.handler.Handle(flowCtx, ev); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("handler returned error", "err", err)
		}
	}()
	return nil
}

// MarkConsumed records a message a running flow has already read from the
// transcript. Its web hook, if it arrives later, is dropped as a duplicate.
func (d *Dispatcher) MarkConsumed(conversationID, deliveryID string) {
	if deliveryID == "" {
		return
	}
	if d.seen.Add(deliveryID) {
		d.logger.Debug("delivery consumed by running flow", "conversation_id", conversationID, "delivery_id", deliveryID)
	}
}

// Wait blocks until every started flow has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Active returns the number of conversations with a running flow.
func (d *Dispatcher) Active() int {
	return d.gate.Active()
}

// Shutdown stops accepting events, cancels running flows and waits for them
// until ctx ends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run sweeps expired delivery ids until ctx ends, then shuts down.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := max(d.seen.ttl/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.Shutdown(shutdownCtx); err != nil {
				d.logger.Warn("flows still running at shutdown", "active", d.Active(), "err", err)
			}
			return nil
		case <-ticker.C:
			if n := d.seen.Sweep(); n > 0 {
				d.logger.Debug("expired delivery ids swept", "count", n, "remaining", d.seen.Len())
			}
		}
	}
}
