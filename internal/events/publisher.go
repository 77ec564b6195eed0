package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/bus"
)

// Publisher writes ProductMessages keyed by product id, so every event for
// one product stays on one partition.
type Publisher struct {
	bus      bus.Publisher
	producer string
	timeout  time.Duration
}

func NewPublisher(b bus.Publisher, producer string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Publisher{bus: b, producer: producer, timeout: timeout}
}

// PublishControl is the shop announcing a product's quantity.
func (p *Publisher) PublishControl(ctx context.Context, id int64, quantity int32) error {
	return p.publish(ctx, TopicStoreControl, ProductMessage{ID: id, Quantity: quantity})
}

// PublishStatus is the warehouse reporting its authoritative quantity.
func (p *Publisher) PublishStatus(ctx context.Context, id int64, quantity int32) error {
	return p.publish(ctx, TopicStoreStatus, ProductMessage{ID: id, Quantity: quantity})
}

func (p *Publisher) publish(ctx context.Context, topic string, m ProductMessage) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal ProductMessage: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.bus.Publish(pubCtx, bus.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(m.ID, 10)),
		Value: body,
		Headers: map[string]string{
			bus.HeaderEventName:   EventProductMessage,
			bus.HeaderEventID:     uuid.NewString(),
			bus.HeaderProducer:    p.producer,
			bus.HeaderContentType: "application/json",
		},
	})
}
