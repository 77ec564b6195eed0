package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/bus"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/catalog"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/product-sync/internal/stock"
)

// storeStatusConsumerName keys the shop's offset checkpoints.
const storeStatusConsumerName = "shop-store-status"

// Reconciler answers store_control on the warehouse side.
type Reconciler interface {
	Reconcile(ctx context.Context, id int64, announced int32) (stock.Entry, error)
}

// StoreStatusHandler overwrites the shop's quantity with the warehouse's.
// Unknown ids are dropped: the warehouse never invents ids, so a missing row
// means the product was deleted here.
func StoreStatusHandler(applier catalog.QuantityApplier, logger *zap.Logger) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) error {
		m, err := DecodeProductMessage(msg.Value)
		if err != nil {
			return err
		}

		pos := dedup.Position{
			Consumer:  storeStatusConsumerName,
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}
		outcome, err := applier.ApplyQuantity(ctx, m.ID, m.Quantity, pos)
		if err != nil {
			return fmt.Errorf("apply quantity for product %d: %w", m.ID, err)
		}

		fields := []zap.Field{
			zap.Int64("product_id", m.ID),
			zap.Int32("quantity", m.Quantity),
			zap.Stringer("outcome", outcome),
		}
		switch outcome {
		case catalog.QuantityApplied:
			logger.Info("quantity updated from warehouse", fields...)
		case catalog.QuantityBehindCheckpoint:
			// A recreated topic restarts at offset 0; the consumer_offsets
			// rows for it must be cleared before updates apply again.
			logger.Warn("store_status far behind checkpoint, skipped",
				append(fields, zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))...)
		default:
			logger.Debug("store_status ignored", fields...)
		}
		return nil
	}
}

// StoreControlHandler registers the id in the warehouse if needed and replies
// on store_status with the stored quantity.
func StoreControlHandler(r Reconciler, logger *zap.Logger) bus.HandlerFunc {
	return func(ctx context.Context, msg bus.Message) error {
		m, err := DecodeProductMessage(msg.Value)
		if err != nil {
			return err
		}

		entry, err := r.Reconcile(ctx, m.ID, m.Quantity)
		if err != nil {
			return fmt.Errorf("reconcile product %d: %w", m.ID, err)
		}

		logger.Info("store_status sent",
			zap.Int64("product_id", entry.ID),
			zap.Int32("announced", m.Quantity),
			zap.Int32("quantity", entry.Quantity),
		)
		return nil
	}
}
