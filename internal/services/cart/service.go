package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/cache"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/store"
)

// View : le panier chiffré renvoyé au client. Les prix sont lus en direct et ne
// sont figés qu'au checkout.
type View struct {
	UserID     string            `json:"user_id"`
	Items      []models.CartLine `json:"items"`
	TotalItems int               `json:"total_items"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
}

type Service struct {
	store  store.Store
	events cache.CartEvents
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithEvents partage le bus d'événements panier avec les autres services.
func WithEvents(e cache.CartEvents) Option { return func(s *Service) { s.events = e } }

func NewService(st store.Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		events: cache.NewLocalCartEvents(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	var v View
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		c, err := tx.Cart(ctx, userID)
		if err != nil {
			return err
		}
		v, err = s.view(ctx, tx, c)
		return err
	})
	return v, err
}

// Add fusionne qty avec la ligne existante du produit, s'il y en a une.
func (s *Service) Add(ctx context.Context, userID string, productID uuid.UUID, qty int) (View, error) {
	if qty < 1 {
		return View{}, apperr.Validation("quantity must be at least 1")
	}
	return s.mutate(ctx, userID, func(tx store.Tx, c *models.Cart) error {
		p, err := activeProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		i := c.Find(productID)
		wanted := qty
		if i >= 0 {
			wanted += c.Items[i].Quantity
		}
		if wanted > p.Stock {
			return apperr.InsufficientStock(p.ID.String(), p.Name, p.Stock, wanted)
		}
		if i >= 0 {
			c.Items[i].Quantity = wanted
		} else {
			c.Items = append(c.Items, models.CartItem{ProductID: productID, Quantity: wanted})
		}
		return nil
	})
}

// Update remplace la quantité d'une ligne déjà présente.
func (s *Service) Update(ctx context.Context, userID string, productID uuid.UUID, qty int) (View, error) {
	if qty < 1 {
		return View{}, apperr.Validation("quantity must be at least 1")
	}
	return s.mutate(ctx, userID, func(tx store.Tx, c *models.Cart) error {
		i := c.Find(productID)
		if i < 0 {
			return apperr.NotFound("cart item")
		}
		p, err := activeProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if qty > p.Stock {
			return apperr.InsufficientStock(p.ID.String(), p.Name, p.Stock, qty)
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

func (s *Service) Remove(ctx context.Context, userID string, productID uuid.UUID) (View, error) {
	return s.mutate(ctx, userID, func(_ store.Tx, c *models.Cart) error {
		i := c.Find(productID)
		if i < 0 {
			return apperr.NotFound("cart item")
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		return tx.ClearCart(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.log.Info("🧹 panier vidé", zap.String("user_id", userID))
	s.publish(ctx, userID, cache.CartCleared)
	return nil
}

// Watch s'abonne aux changements du panier de l'utilisateur.
func (s *Service) Watch(ctx context.Context, userID string) (<-chan cache.CartEvent, func(), error) {
	return s.events.Subscribe(ctx, userID)
}

// publish est best-effort : le panier est déjà enregistré.
func (s *Service) publish(ctx context.Context, userID string, ev cache.CartEvent) {
	if err := s.events.Publish(ctx, userID, ev); err != nil {
		s.log.Warn("⚠️ notification panier échouée", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(tx store.Tx, c *models.Cart) error) (View, error) {
	var v View
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		c, err := tx.Cart(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(tx, &c); err != nil {
			return err
		}
		c.UserID = userID
		c.UpdatedAt = s.now()
		if err := tx.SaveCart(ctx, c); err != nil {
			return err
		}
		v, err = s.view(ctx, tx, c)
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.log.Debug("🛒 panier mis à jour", zap.String("user_id", userID), zap.Int("items", v.TotalItems))
	s.publish(ctx, userID, cache.CartUpdated)
	return v, nil
}

// view chiffre le panier. Les lignes dont le produit a disparu sont absentes de
// la vue mais restent dans le panier ; le checkout les signale.
func (s *Service) view(ctx context.Context, tx store.Tx, c models.Cart) (View, error) {
	v := View{UserID: c.UserID, Items: make([]models.CartLine, 0, len(c.Items)), Subtotal: decimal.Zero}
	for _, item := range c.Items {
		p, err := tx.Product(ctx, item.ProductID)
		if errors.Is(err, apperr.ErrNotFound) {
			s.log.Warn("⚠️ produit du panier introuvable",
				zap.String("user_id", c.UserID), zap.String("product_id", item.ProductID.String()))
			continue
		}
		if err != nil {
			return View{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		line := models.CartLine{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  item.Quantity,
			Subtotal:  models.Cents(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
			InStock:   p.Stock,
		}
		v.Items = append(v.Items, line)
		v.TotalItems += item.Quantity
		v.Subtotal = v.Subtotal.Add(line.Subtotal)
	}
	return v, nil
}

func activeProduct(ctx context.Context, tx store.Tx, id uuid.UUID) (models.Product, error) {
	p, err := tx.Product(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	if !p.IsActive {
		return models.Product{}, apperr.NotFound("product")
	}
	return p, nil
}
