package models

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementSale   MovementType = "sale"
	MovementReturn MovementType = "return"
)

// StockMovement trace chaque variation de stock provoquée par une commande.
type StockMovement struct {
	ID        uuid.UUID    `json:"id"`
	ProductID uuid.UUID    `json:"product_id"`
	Type      MovementType `json:"type"`
	Quantity  int          `json:"quantity"`
	NewStock  int          `json:"new_stock"`
	Reason    string       `json:"reason"`
	OrderID   uuid.UUID    `json:"order_id"`
	UserID    string       `json:"user_id"`
	CreatedAt time.Time    `json:"created_at"`
}
