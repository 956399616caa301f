package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storefront_back_end/internal/models"
)

func TestTransitionTable(t *testing.T) {
	all := []models.OrderStatus{
		models.OrderPending, models.OrderProcessing, models.OrderShipped,
		models.OrderDelivered, models.OrderCancelled,
	}
	legal := map[[2]models.OrderStatus]bool{
		{models.OrderPending, models.OrderProcessing}:   true,
		{models.OrderPending, models.OrderCancelled}:    true,
		{models.OrderProcessing, models.OrderShipped}:   true,
		{models.OrderProcessing, models.OrderCancelled}: true,
		{models.OrderShipped, models.OrderDelivered}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]models.OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCancellableAndTerminal(t *testing.T) {
	assert.True(t, Cancellable(models.OrderPending))
	assert.True(t, Cancellable(models.OrderProcessing))
	assert.False(t, Cancellable(models.OrderShipped))
	assert.False(t, Cancellable(models.OrderCancelled))

	assert.True(t, Terminal(models.OrderDelivered))
	assert.True(t, Terminal(models.OrderCancelled))
	assert.False(t, Terminal(models.OrderShipped))
	assert.Equal(t, []models.OrderStatus{models.OrderDelivered}, Next(models.OrderShipped))
}
