package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/services/orders"
	"storefront_back_end/internal/store"
)

// paymentEvent : ce qui s'est passé côté paiement et que la commande doit suivre.
type paymentEvent string

const (
	paymentCompleted paymentEvent = "payment_completed"
	cashConfirmed    paymentEvent = "cash_confirmed"
)

type orderMove struct {
	from, to models.OrderStatus
}

// orderFollows : seul endroit où un événement de paiement fait bouger une commande.
var orderFollows = map[paymentEvent]orderMove{
	paymentCompleted: {from: models.OrderPending, to: models.OrderProcessing},
	cashConfirmed:    {from: models.OrderPending, to: models.OrderProcessing},
}

// syncOrder applique le mouvement de commande associé à ev. Une commande déjà
// plus loin est laissée telle quelle ; une commande annulée reste annulée et la
// course est journalisée.
func (s *Service) syncOrder(ctx context.Context, tx store.Tx, orderID uuid.UUID, ev paymentEvent) error {
	move, ok := orderFollows[ev]
	if !ok {
		return nil
	}
	o, err := tx.Order(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status != move.from {
		if o.Status == models.OrderCancelled {
			s.log.Warn("⚠️ paiement reçu pour une commande annulée",
				zap.String("order_id", o.ID.String()),
				zap.String("order_number", o.OrderNumber),
				zap.String("event", string(ev)))
		}
		return nil
	}
	if !orders.CanTransition(move.from, move.to) {
		return nil
	}

	changed, err := tx.SetOrderStatus(ctx, o.ID, move.from, move.to)
	if err != nil {
		return err
	}
	if changed {
		s.log.Info("📦 commande synchronisée avec le paiement",
			zap.String("order_id", o.ID.String()),
			zap.String("from", string(move.from)),
			zap.String("to", string(move.to)))
	}
	return nil
}

type paymentMove struct {
	method   models.PaymentMethod
	from, to models.PaymentStatus
}

// paymentFollows : sens inverse, le statut de commande fait bouger un paiement.
// Le paiement à la livraison est encaissé quand la commande est livrée.
var paymentFollows = map[models.OrderStatus]paymentMove{
	models.OrderDelivered: {method: models.MethodCash, from: models.PaymentPending, to: models.PaymentCompleted},
	models.OrderCancelled: {method: models.MethodCash, from: models.PaymentPending, to: models.PaymentCancelled},
}

// OrderStatusChanged est appelé par le service commandes dans la même unité de
// travail que le changement de statut.
func (s *Service) OrderStatusChanged(ctx context.Context, tx store.Tx, o models.Order, to models.OrderStatus) error {
	move, ok := paymentFollows[to]
	if !ok {
		return nil
	}
	pay, err := tx.PaymentByOrder(ctx, o.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pay.Method != move.method || pay.Status != move.from {
		return nil
	}

	now := s.now()
	next := pay
	next.Status = move.to
	next.UpdatedAt = now
	if move.to == models.PaymentCompleted {
		next.PaidAt = &now
		next.TransactionID = "cash:" + o.OrderNumber
	}
	changed, err := tx.UpdatePayment(ctx, next, move.from)
	if err != nil {
		return err
	}
	if !changed {
		return apperr.ErrConflict
	}

	s.metrics.PaymentTransition(string(move.from), string(move.to))
	s.log.Info("💵 paiement suit la commande",
		zap.String("payment_id", pay.ID.String()),
		zap.String("order_id", o.ID.String()),
		zap.String("order_status", string(to)),
		zap.String("from", string(move.from)),
		zap.String("to", string(move.to)))
	return nil
}
