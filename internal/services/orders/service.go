package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/cache"
	"storefront_back_end/internal/metrics"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/store"
)

// ReceiptArchiver garde une copie de chaque commande hors du store principal.
type ReceiptArchiver interface {
	Archive(ctx context.Context, order models.Order) error
}

// PaymentSync fait suivre le paiement d'une commande dont le statut change,
// dans la même unité de travail.
type PaymentSync interface {
	OrderStatusChanged(ctx context.Context, tx store.Tx, o models.Order, to models.OrderStatus) error
}

type Service struct {
	store    store.Store
	pricing  Pricing
	receipts ReceiptArchiver
	payments PaymentSync
	locker   cache.Locker
	events   cache.CartEvents
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithReceipts(r ReceiptArchiver) Option { return func(s *Service) { s.receipts = r } }

func WithPaymentSync(p PaymentSync) Option { return func(s *Service) { s.payments = p } }

// WithLocker remplace le verrou local par un verrou partagé entre instances.
func WithLocker(l cache.Locker) Option { return func(s *Service) { s.locker = l } }

func WithCartEvents(e cache.CartEvents) Option { return func(s *Service) { s.events = e } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(st store.Store, pricing Pricing, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		pricing: pricing,
		locker:  cache.NewLocalLocker(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateShipping(ship models.ShippingInfo) error {
	switch {
	case strings.TrimSpace(ship.Address) == "":
		return apperr.Validation("shipping address is required")
	case strings.TrimSpace(ship.City) == "":
		return apperr.Validation("shipping city is required")
	case strings.TrimSpace(ship.PhoneNumber) == "":
		return apperr.Validation("phone number is required")
	}
	return nil
}

func checkoutLockKey(userID string) string { return "checkout:" + userID }

func newOrderNumber() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(hex[:8])
}

// Checkout convertit le panier de l'utilisateur en commande. Le contrôle du
// stock, la décrémentation, la création des lignes et le vidage du panier
// forment une seule unité de travail. Le verrou par utilisateur couvre aussi
// le vidage du panier, qui a lieu après le commit sur Scylla.
func (s *Service) Checkout(ctx context.Context, p models.Principal, ship models.ShippingInfo) (models.Order, error) {
	if err := validateShipping(ship); err != nil {
		return models.Order{}, err
	}

	unlock, err := s.locker.Lock(ctx, checkoutLockKey(p.ID))
	if err != nil {
		return models.Order{}, err
	}
	defer unlock()

	var order models.Order
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		cart, err := tx.Cart(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return apperr.ErrEmptyCart
		}

		now := s.now()
		order = models.Order{
			ID:          uuid.New(),
			OrderNumber: newOrderNumber(),
			UserID:      p.ID,
			Status:      models.OrderPending,
			Shipping:    ship,
			Items:       make([]models.OrderItem, 0, len(cart.Items)),
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		subtotal := decimal.Zero
		for _, item := range cart.Items {
			product, err := tx.Product(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if !product.IsActive {
				return apperr.New(apperr.CodeNotFound,
					fmt.Sprintf("product %s is no longer available", product.Name),
					map[string]any{"product_id": product.ID.String()})
			}
			if item.Quantity > product.Stock {
				return apperr.InsufficientStock(product.ID.String(), product.Name, product.Stock, item.Quantity)
			}

			left, err := tx.DecrementStock(ctx, product.ID, item.Quantity)
			if err != nil {
				return err
			}
			if err := tx.RecordMovement(ctx, models.StockMovement{
				ID:        uuid.New(),
				ProductID: product.ID,
				Type:      models.MovementSale,
				Quantity:  item.Quantity,
				NewStock:  left,
				Reason:    "order " + order.OrderNumber,
				OrderID:   order.ID,
				UserID:    p.ID,
				CreatedAt: now,
			}); err != nil {
				return err
			}

			line := models.OrderItem{
				ProductID:    product.ID,
				ProductName:  product.Name,
				ProductPrice: product.Price,
				Quantity:     item.Quantity,
				Subtotal:     models.Cents(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
			}
			subtotal = subtotal.Add(line.Subtotal)
			order.Items = append(order.Items, line)
		}

		order.Subtotal = subtotal
		order.ShippingCost = s.pricing.Shipping(subtotal, ship)
		order.Tax = s.pricing.Tax(subtotal, ship)
		order.Total = order.Subtotal.Add(order.ShippingCost).Add(order.Tax)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.ClearCart(ctx, p.ID)
	})
	if err != nil {
		s.metrics.Checkout(checkoutResult(err))
		s.log.Info("❌ checkout refusé", zap.String("user_id", p.ID), zap.Error(err))
		return models.Order{}, err
	}

	s.metrics.Checkout("ok")
	s.log.Info("🧾 commande créée",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", p.ID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("items", order.ItemCount()))

	if s.events != nil {
		if err := s.events.Publish(ctx, p.ID, cache.CartCleared); err != nil {
			s.log.Warn("⚠️ notification panier échouée", zap.String("user_id", p.ID), zap.Error(err))
		}
	}
	if s.receipts != nil {
		if err := s.receipts.Archive(ctx, order); err != nil {
			s.log.Warn("⚠️ archivage du reçu échoué", zap.String("order_number", order.OrderNumber), zap.Error(err))
		}
	}
	return order, nil
}

func checkoutResult(err error) string {
	if code := apperr.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// UpdateStatus : chemin staff à travers la table des transitions. Passer à
// cancelled remet le stock comme Cancel.
func (s *Service) UpdateStatus(ctx context.Context, p models.Principal, orderID uuid.UUID, to models.OrderStatus) (models.Order, error) {
	if !p.CanManageOrders() {
		return models.Order{}, apperr.Forbidden("only admins can update order status")
	}
	if !to.Valid() {
		return models.Order{}, apperr.Validation(fmt.Sprintf("unknown order status %q", to))
	}

	var updated models.Order
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return illegalTransition(o.Status, to)
		}
		if to == models.OrderCancelled {
			updated, err = s.cancel(ctx, tx, o, p)
			return err
		}

		ok, err := tx.SetOrderStatus(ctx, o.ID, o.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrConflict
		}
		o.Status = to
		o.UpdatedAt = s.now()
		updated = o
		return s.syncPayment(ctx, tx, o, to)
	})
	if err != nil {
		return models.Order{}, err
	}

	s.log.Info("📦 statut commande mis à jour",
		zap.String("order_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
		zap.String("by", p.ID))
	return updated, nil
}

// Cancel annule une commande du client et remet les quantités en stock.
func (s *Service) Cancel(ctx context.Context, p models.Principal, orderID uuid.UUID) (models.Order, error) {
	var updated models.Order
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != p.ID {
			return apperr.NotFound("order")
		}
		if !Cancellable(o.Status) {
			return apperr.NotCancellable(string(o.Status))
		}
		updated, err = s.cancel(ctx, tx, o, p)
		return err
	})
	if err != nil {
		return models.Order{}, err
	}

	s.log.Info("🚫 commande annulée",
		zap.String("order_id", updated.ID.String()),
		zap.String("order_number", updated.OrderNumber),
		zap.String("by", p.ID))
	return updated, nil
}

// cancel prend le statut en premier : une annulation concurrente ne peut pas
// remettre le stock deux fois.
func (s *Service) cancel(ctx context.Context, tx store.Tx, o models.Order, actor models.Principal) (models.Order, error) {
	from := o.Status
	ok, err := tx.SetOrderStatus(ctx, o.ID, from, models.OrderCancelled)
	if err != nil {
		return models.Order{}, err
	}
	if !ok {
		return models.Order{}, apperr.ErrConflict
	}

	now := s.now()
	for _, item := range o.Items {
		left, err := tx.IncrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return models.Order{}, fmt.Errorf("restock %s: %w", item.ProductID, err)
		}
		if err := tx.RecordMovement(ctx, models.StockMovement{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			Type:      models.MovementReturn,
			Quantity:  item.Quantity,
			NewStock:  left,
			Reason:    "cancel " + o.OrderNumber,
			OrderID:   o.ID,
			UserID:    actor.ID,
			CreatedAt: now,
		}); err != nil {
			return models.Order{}, err
		}
	}

	o.Status = models.OrderCancelled
	o.UpdatedAt = now
	if err := s.syncPayment(ctx, tx, o, models.OrderCancelled); err != nil {
		return models.Order{}, err
	}
	s.metrics.Cancellation(string(from))
	return o, nil
}

func (s *Service) syncPayment(ctx context.Context, tx store.Tx, o models.Order, to models.OrderStatus) error {
	if s.payments == nil {
		return nil
	}
	return s.payments.OrderStatusChanged(ctx, tx, o, to)
}

func illegalTransition(from, to models.OrderStatus) error {
	err := apperr.IllegalTransition(string(from), string(to))
	next := Next(from)
	allowed := make([]string, 0, len(next))
	for _, st := range next {
		allowed = append(allowed, string(st))
	}
	err.Details["allowed"] = allowed
	err.Details["terminal"] = Terminal(from)
	return err
}

// Get renvoie la commande si l'appelant en est le propriétaire ou fait partie du staff.
func (s *Service) Get(ctx context.Context, p models.Principal, orderID uuid.UUID) (models.Order, error) {
	var o models.Order
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Order(ctx, orderID)
		return err
	})
	if err != nil {
		return models.Order{}, err
	}
	if o.UserID != p.ID && !p.CanManageOrders() {
		return models.Order{}, apperr.NotFound("order")
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, p models.Principal) ([]models.Order, error) {
	var out []models.Order
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.OrdersByUser(ctx, p.ID)
		return err
	})
	if out == nil && err == nil {
		out = []models.Order{}
	}
	return out, err
}
