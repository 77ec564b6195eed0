package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const systemKafka = "kafka"

type KafkaConfig struct {
	Brokers []string
	// Consumers is the number of readers started per subscription. They share
	// the consumer group, so partitions are split between them.
	Consumers  int
	Partitions int
	Backoff    Backoff
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka publishes with a hash balancer so every message for a key lands on
// one partition, and consumes with explicit commits after the handler
// succeeds.
type Kafka struct {
	cfg       KafkaConfig
	writer    kafkaWriter
	newReader func(topic, group string) kafkaReader
	logger    *zap.Logger
	metrics   instruments
}

func NewKafka(cfg KafkaConfig, logger *zap.Logger) *Kafka {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}

	k := &Kafka{
		cfg: cfg,
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		logger:  logger,
		metrics: newInstruments(),
	}
	k.newReader = func(topic, group string) kafkaReader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     group,
			Topic:       topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafkago.FirstOffset,
		})
	}
	return k
}

// EnsureTopics creates any missing topic through the cluster controller.
func (k *Kafka) EnsureTopics(ctx context.Context, topics ...string) error {
	if len(k.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafkago.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := kafkago.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	configs := make([]kafkago.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafkago.TopicConfig{
			Topic:             t,
			NumPartitions:     k.cfg.Partitions,
			ReplicationFactor: 1,
		})
	}
	if err := cc.CreateTopics(configs...); err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	ctx, span := startPublishSpan(ctx, systemKafka, &msg)
	defer span.End()

	err := k.writer.WriteMessages(ctx, toKafka(msg))
	k.metrics.recordPublish(ctx, msg.Topic, err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("write %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe starts the configured number of readers in group and blocks
// until ctx ends or one of them fails.
func (k *Kafka) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	d := newDispatcher(systemKafka, group, h, k.cfg.Backoff, k.logger)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < k.cfg.Consumers; i++ {
		g.Go(func() error {
			return k.consume(gctx, k.newReader(topic, group), d)
		})
	}
	return g.Wait()
}

func (k *Kafka) consume(ctx context.Context, r kafkaReader, d *dispatcher) error {
	defer r.Close()

	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}

		if err := d.deliver(ctx, fromKafka(km)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := r.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s/%d@%d: %w", km.Topic, km.Partition, km.Offset, err)
		}
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func toKafka(msg Message) kafkago.Message {
	km := kafkago.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for name, v := range msg.Headers {
		km.Headers = append(km.Headers, kafkago.Header{Key: name, Value: []byte(v)})
	}
	return km
}

func fromKafka(km kafkago.Message) Message {
	msg := Message{
		Topic:     km.Topic,
		Key:       km.Key,
		Value:     km.Value,
		Headers:   make(map[string]string, len(km.Headers)),
		Partition: km.Partition,
		Offset:    km.Offset,
	}
	for _, h := range km.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}
