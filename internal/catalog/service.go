package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ControlPublisher announces a product's quantity on store_control.
type ControlPublisher interface {
	PublishControl(ctx context.Context, id int64, quantity int32) error
}

// Service implements the catalog operations behind the HTTP surface.
// Only Create emits a store_control event; Update and Delete stay local.
type Service struct {
	repo   Repository
	pub    ControlPublisher
	logger *zap.Logger
}

func NewService(repo Repository, pub ControlPublisher, logger *zap.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger}
}

// Create persists the product and then publishes its quantity. A publish
// failure is logged but does not fail the call: the product exists and the
// warehouse bootstraps the id on the next event that references it.
// The publish outlives a cancelled request once the insert has committed;
// the publisher's own timeout bounds it.
func (s *Service) Create(ctx context.Context, d Draft) (Product, error) {
	p, err := d.Validate()
	if err != nil {
		return Product{}, err
	}

	id, err := s.repo.Insert(ctx, p)
	if err != nil {
		return Product{}, err
	}
	p.ID = id

	if err := s.pub.PublishControl(context.WithoutCancel(ctx), p.ID, p.Quantity); err != nil {
		s.logger.Warn("publish store_control failed",
			zap.Int64("product_id", p.ID),
			zap.Int32("quantity", p.Quantity),
			zap.Error(err),
		)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	return s.repo.FindAll(ctx)
}

func (s *Service) Update(ctx context.Context, id int64, d Draft) (Product, error) {
	p, err := d.Validate()
	if err != nil {
		return Product{}, err
	}
	if err := s.repo.Update(ctx, id, p); err != nil {
		return Product{}, err
	}
	p.ID = id
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	deleted, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("delete product %d: %w", id, ErrNotFound)
	}
	return nil
}
