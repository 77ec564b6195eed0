package bus

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Backoff bounds the delay between attempts at a failing message.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

var DefaultBackoff = Backoff{Initial: 50 * time.Millisecond, Max: 5 * time.Second}

// policy doubles the delay up to Max and never gives up on its own.
func (b Backoff) policy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = b.Initial
	p.MaxInterval = b.Max
	p.Multiplier = 2
	p.RandomizationFactor = 0
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}

type dispatcher struct {
	system  string
	group   string
	handler HandlerFunc
	backoff Backoff
	logger  *zap.Logger
	metrics instruments
}

func newDispatcher(system, group string, h HandlerFunc, b Backoff, logger *zap.Logger) *dispatcher {
	if b.Initial <= 0 {
		b = DefaultBackoff
	}
	return &dispatcher{
		system:  system,
		group:   group,
		handler: h,
		backoff: b,
		logger:  logger,
		metrics: newInstruments(),
	}
}

// deliver runs the handler until it succeeds, reports poison, or ctx ends.
// A nil return means the message may be committed.
func (d *dispatcher) deliver(ctx context.Context, msg Message) error {
	ctx = extractTrace(ctx, msg)
	ctx, span := tracer().Start(ctx, msg.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(messageAttributes(d.system, msg)...),
	)
	defer span.End()

	log := d.logger.With(
		zap.String("topic", msg.Topic),
		zap.String("group", d.group),
		zap.ByteString("key", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	attempt := 0
	op := func() error {
		attempt++
		started := time.Now()
		err := d.handler(ctx, msg)
		switch {
		case err == nil:
			d.metrics.recordAttempt(ctx, msg.Topic, outcomeCommitted, started)
			return nil
		case errors.Is(err, ErrPoison):
			d.metrics.recordAttempt(ctx, msg.Topic, outcomePoison, started)
			return backoff.Permanent(err)
		default:
			d.metrics.recordAttempt(ctx, msg.Topic, outcomeRetry, started)
			span.RecordError(err)
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("handler failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(d.backoff.policy(), ctx), notify)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPoison):
		span.RecordError(err)
		span.SetStatus(codes.Error, "poison message")
		log.Error("dropping poison message", zap.Error(err), zap.ByteString("value", msg.Value))
		return nil
	default:
		span.SetStatus(codes.Error, "abandoned before success")
		return err
	}
}
