package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrNegativeQuantity = errors.New("quantity must not be negative")

// StatusPublisher reports the warehouse's quantity on store_status.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, id int64, quantity int32) error
}

const lockStripes = 64

type Service struct {
	repo            Repository
	pub             StatusPublisher
	seedFromControl bool
	logger          *zap.Logger

	// locks serialize Reconcile and Adjust per id from the read or write
	// through the publish, so the last status sent for an id carries the
	// last quantity stored for it.
	locks [lockStripes]sync.Mutex
}

type Option func(*Service)

// WithSeedFromControl makes first sight of an id store the quantity the shop
// announced instead of zero.
func WithSeedFromControl(enabled bool) Option {
	return func(s *Service) { s.seedFromControl = enabled }
}

func NewService(repo Repository, pub StatusPublisher, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, pub: pub, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile answers a store_control announcement. The warehouse record wins:
// an unknown id is registered, and the stored quantity is always reported
// back, whatever the shop announced.
func (s *Service) Reconcile(ctx context.Context, id int64, announced int32) (Entry, error) {
	unlock := s.lock(id)
	defer unlock()

	var seed int32
	if s.seedFromControl {
		seed = announced
	}

	entry, created, err := s.repo.Materialize(ctx, id, seed)
	if err != nil {
		return Entry{}, err
	}
	if created {
		s.logger.Info("registered product",
			zap.Int64("product_id", id),
			zap.Int32("quantity", entry.Quantity),
		)
	}

	if err := s.pub.PublishStatus(ctx, entry.ID, entry.Quantity); err != nil {
		return Entry{}, fmt.Errorf("publish store_status %d: %w", id, err)
	}
	return entry, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	return s.repo.Get(ctx, id)
}

// Adjust overwrites the stored quantity and pushes it to the shop.
// A publish failure is logged; the next store_control round trip for the id
// carries the value again.
func (s *Service) Adjust(ctx context.Context, id int64, quantity int32) (Entry, error) {
	if quantity < 0 {
		return Entry{}, ErrNegativeQuantity
	}

	unlock := s.lock(id)
	defer unlock()

	if err := s.repo.SetQuantity(ctx, id, quantity); err != nil {
		return Entry{}, err
	}

	entry := Entry{ID: id, Quantity: quantity}
	if err := s.pub.PublishStatus(ctx, id, quantity); err != nil {
		s.logger.Warn("publish store_status failed",
			zap.Int64("product_id", id),
			zap.Int32("quantity", quantity),
			zap.Error(err),
		)
	}
	return entry, nil
}

func (s *Service) lock(id int64) func() {
	mu := &s.locks[uint64(id)%lockStripes]
	mu.Lock()
	return mu.Unlock
}
