// Package bus carries keyed messages between services over Kafka or
// RabbitMQ, with an in-memory transport for tests.
package bus

import (
	"context"
	"errors"
)

// ErrPoison marks a message that can never be processed. Consumers log and
// commit it instead of retrying.
var ErrPoison = errors.New("poison message")

const (
	HeaderEventName   = "event-name"
	HeaderEventID     = "event-id"
	HeaderProducer    = "producer"
	HeaderContentType = "content-type"
)

// NoOffset is reported by transports that do not expose a log position.
const NoOffset int64 = -1

type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

// HandlerFunc processes one message. Returning nil commits it; an error
// wrapping ErrPoison drops it; any other error retries it in place.
type HandlerFunc func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Transport is a broker connection able to publish and to run consumer
// loops for a topic within a consumer group.
type Transport interface {
	Publisher
	// Subscribe blocks until ctx is cancelled or the transport fails.
	Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error
	Close() error
}
