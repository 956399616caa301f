// Package store persiste les agrégats du checkout. Tout accès passe par une
// unité de travail ouverte avec Store.Atomically ; un Tx ne doit plus servir
// après le retour du callback.
package store

import (
	"context"

	"github.com/google/uuid"

	"storefront_back_end/internal/models"
)

type Store interface {
	// Atomically exécute fn dans une unité de travail. Si fn renvoie une
	// erreur, toutes les écritures faites via tx sont annulées.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx : les opérations disponibles dans une unité de travail. Une écriture n'est
// pas forcément visible aux lectures du même Tx ; l'appelant garde sa propre
// copie de ce qu'il a écrit.
type Tx interface {
	Product(ctx context.Context, id uuid.UUID) (models.Product, error)
	Products(ctx context.Context, activeOnly bool) ([]models.Product, error)
	// DecrementStock retire qty unités seulement si au moins qty sont
	// disponibles et renvoie le nouveau stock. Sinon elle échoue avec
	// apperr.ErrInsufficientStock sans toucher au stock.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error)
	IncrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error)
	RecordMovement(ctx context.Context, m models.StockMovement) error

	Cart(ctx context.Context, userID string) (models.Cart, error)
	SaveCart(ctx context.Context, cart models.Cart) error
	ClearCart(ctx context.Context, userID string) error

	InsertOrder(ctx context.Context, o models.Order) error
	Order(ctx context.Context, id uuid.UUID) (models.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	// SetOrderStatus fait passer la commande de from à to et renvoie false,
	// sans erreur, si le statut stocké n'est plus from.
	SetOrderStatus(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) (bool, error)

	InsertPayment(ctx context.Context, p models.Payment) error
	Payment(ctx context.Context, id uuid.UUID) (models.Payment, error)
	PaymentByOrder(ctx context.Context, orderID uuid.UUID) (models.Payment, error)
	PaymentByIntent(ctx context.Context, intentID string) (models.Payment, error)
	PaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error)
	// UpdatePayment enregistre p si le statut stocké vaut encore expected.
	UpdatePayment(ctx context.Context, p models.Payment, expected models.PaymentStatus) (bool, error)
	// CustomerID renvoie le client passerelle enregistré sur un paiement
	// précédent de l'utilisateur, ou "".
	CustomerID(ctx context.Context, userID string) (string, error)

	InsertRefund(ctx context.Context, r models.Refund) error
	UpdateRefund(ctx context.Context, r models.Refund) error
	RefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error)
	RefundsByUser(ctx context.Context, userID string) ([]models.Refund, error)
}
