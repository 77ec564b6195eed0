package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	systemRabbit = "rabbitmq"
	// RabbitExchange is the topic exchange every message is published to,
	// with the bus topic as routing key.
	RabbitExchange = "product-sync.events"
	// headerMessageKey carries Message.Key, which AMQP has no field for.
	headerMessageKey = "message-key"
)

// Rabbit publishes to one topic exchange and gives every consumer group its
// own durable queue per topic, so each group receives every message.
// Consumers in the same group share the queue and take one unacked message
// at a time, so per-key order holds with a single consumer per queue.
type Rabbit struct {
	conn    *amqp.Connection
	backoff Backoff
	logger  *zap.Logger
	metrics instruments

	mu    sync.Mutex
	pubCh *amqp.Channel
}

func DialRabbit(url string, b Backoff, logger *zap.Logger) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Rabbit{
		conn:    conn,
		backoff: b,
		logger:  logger,
		metrics: newInstruments(),
		pubCh:   ch,
	}, nil
}

// groupQueue names the queue a consumer group reads topic from.
func groupQueue(group, topic string) string {
	return group + "." + topic
}

func declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		RabbitExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("exchange declare %s: %w", RabbitExchange, err)
	}
	return nil
}

// declareGroupQueue declares the group's durable queue for topic and binds
// it to the exchange.
func declareGroupQueue(ch *amqp.Channel, group, topic string) (string, error) {
	name := groupQueue(group, topic)
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("queue declare %s: %w", name, err)
	}
	if err := ch.QueueBind(name, topic, RabbitExchange, false, nil); err != nil {
		return "", fmt.Errorf("queue bind %s: %w", name, err)
	}
	return name, nil
}

// EnsureQueues declares the group's queues for topics ahead of any consumer,
// so messages published before Subscribe runs are kept for the group.
func (r *Rabbit) EnsureQueues(group string, topics ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range topics {
		if _, err := declareGroupQueue(r.pubCh, group, topic); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rabbit) Publish(ctx context.Context, msg Message) error {
	ctx, span := startPublishSpan(ctx, systemRabbit, &msg)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.pubCh.PublishWithContext(
		ctx,
		RabbitExchange,
		msg.Topic, // routing key
		false,
		false,
		toPublishing(msg),
	)
	r.metrics.recordPublish(ctx, msg.Topic, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (r *Rabbit) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	queue, err := declareGroupQueue(ch, group, topic)
	if err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		"",    // consumer tag, server generated
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	d := newDispatcher(systemRabbit, group, h, r.backoff, r.logger)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping consumer", zap.String("topic", topic), zap.String("queue", queue))
			return nil
		case dl, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := d.deliver(ctx, fromDelivery(topic, dl)); err != nil {
				_ = dl.Nack(false, true)
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := dl.Ack(false); err != nil {
				return fmt.Errorf("ack: %w", err)
			}
		}
	}
}

func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.pubCh.Close(), r.conn.Close())
}

func toPublishing(msg Message) amqp.Publishing {
	headers := amqp.Table{headerMessageKey: string(msg.Key)}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Headers[HeaderEventID],
		Headers:      headers,
		Body:         msg.Value,
	}
}

func fromDelivery(topic string, dl amqp.Delivery) Message {
	msg := Message{
		Topic:   topic,
		Value:   dl.Body,
		Headers: make(map[string]string, len(dl.Headers)),
		Offset:  NoOffset,
	}
	for k, v := range dl.Headers {
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case []byte:
			s = string(t)
		default:
			s = fmt.Sprint(t)
		}
		if k == headerMessageKey {
			msg.Key = []byte(s)
			continue
		}
		msg.Headers[k] = s
	}
	return msg
}
