package orders

import "storefront_back_end/internal/models"

// transitions est la seule source des changements de statut autorisés.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:    {models.OrderProcessing, models.OrderCancelled},
	models.OrderProcessing: {models.OrderShipped, models.OrderCancelled},
	models.OrderShipped:    {models.OrderDelivered},
	models.OrderDelivered:  nil,
	models.OrderCancelled:  nil,
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next liste les statuts accessibles depuis s.
func Next(s models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), transitions[s]...)
}

func Cancellable(s models.OrderStatus) bool {
	return CanTransition(s, models.OrderCancelled)
}

func Terminal(s models.OrderStatus) bool {
	return len(transitions[s]) == 0
}
