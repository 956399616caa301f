package catalog

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/store"
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log}
}

// ListProducts renvoie le catalogue actif.
func (s *Service) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Products(ctx, true)
		return err
	})
	return out, err
}

// GetProduct masque les produits inactifs aux clients.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	var p models.Product
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.Product(ctx, id)
		return err
	})
	if err != nil {
		return models.Product{}, err
	}
	if !p.IsActive {
		return models.Product{}, apperr.NotFound("product")
	}
	return p, nil
}
