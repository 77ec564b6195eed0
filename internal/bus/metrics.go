package bus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeCommitted = "committed"
	outcomePoison    = "poison"
	outcomeRetry     = "retry"
)

type instruments struct {
	consumed  metric.Int64Counter
	published metric.Int64Counter
	duration  metric.Float64Histogram
}

func newInstruments() instruments {
	meter := otel.Meter(tracerName)

	// Instrument constructors only fail on invalid names; the no-op
	// instruments they return alongside are still usable.
	consumed, _ := meter.Int64Counter("bus.messages.consumed",
		metric.WithDescription("Messages handled by consumers, by outcome."))
	published, _ := meter.Int64Counter("bus.messages.published",
		metric.WithDescription("Messages written to the broker."))
	duration, _ := meter.Float64Histogram("bus.handler.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent in a handler per attempt."))

	return instruments{consumed: consumed, published: published, duration: duration}
}

func (i instruments) recordAttempt(ctx context.Context, topic, outcome string, started time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	)
	i.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	i.consumed.Add(ctx, 1, attrs)
}

func (i instruments) recordPublish(ctx context.Context, topic string, err error) {
	i.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Bool("error", err != nil),
	))
}
