package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/andreasstove999/ecommerce-system/product-sync/internal/bus"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// injectTrace writes the current trace context into msg headers.
func injectTrace(ctx context.Context, msg *Message) {
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Headers))
}

func extractTrace(ctx context.Context, msg Message) context.Context {
	if len(msg.Headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
}

func messageAttributes(system string, msg Message) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.MessagingSystemKey.String(system),
		semconv.MessagingDestinationName(msg.Topic),
		attribute.String("messaging.message.key", string(msg.Key)),
	}
	if msg.Offset != NoOffset {
		attrs = append(attrs,
			attribute.Int("messaging.destination.partition.id", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		)
	}
	return attrs
}

// startPublishSpan opens a producer span and stamps its context on msg.
func startPublishSpan(ctx context.Context, system string, msg *Message) (context.Context, trace.Span) {
	ctx, span := tracer().Start(ctx, msg.Topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messageAttributes(system, *msg)...),
	)
	injectTrace(ctx, msg)
	return ctx, span
}
