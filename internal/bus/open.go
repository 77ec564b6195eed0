package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/config"
)

// Open connects the transport selected by cfg.Driver. For Kafka the given
// topics are created up front when missing; failure to do so is logged
// because writers may still auto-create them. For RabbitMQ the queues of
// cfg.ConsumerGroup are declared for every topic.
func Open(ctx context.Context, cfg config.Bus, logger *zap.Logger, topics ...string) (Transport, error) {
	switch cfg.Driver {
	case config.BusKafka:
		k := NewKafka(KafkaConfig{
			Brokers:    cfg.KafkaBrokers,
			Consumers:  cfg.KafkaConsumers,
			Partitions: cfg.KafkaPartitions,
			Backoff:    DefaultBackoff,
		}, logger)
		if err := k.EnsureTopics(ctx, topics...); err != nil {
			logger.Warn("ensure kafka topics", zap.Strings("topics", topics), zap.Error(err))
		}
		logger.Info("bus connected", zap.String("driver", cfg.Driver), zap.Strings("brokers", cfg.KafkaBrokers))
		return k, nil
	case config.BusRabbitMQ:
		r, err := DialRabbit(cfg.RabbitURL, DefaultBackoff, logger)
		if err != nil {
			return nil, err
		}
		if err := r.EnsureQueues(cfg.ConsumerGroup, topics...); err != nil {
			_ = r.Close()
			return nil, err
		}
		logger.Info("bus connected", zap.String("driver", cfg.Driver))
		return r, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
