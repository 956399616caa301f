package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/cache"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/store"
)

func setup(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewService(st, zap.NewNop()), st
}

func TestAddMergesQuantities(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)
	p := st.PutProduct(models.Product{Name: "Tea", Price: decimal.RequireFromString("4.50"), Stock: 10, IsActive: true})

	_, err := svc.Add(ctx, "u1", p.ID, 2)
	require.NoError(t, err)
	v, err := svc.Add(ctx, "u1", p.ID, 3)
	require.NoError(t, err)

	require.Len(t, v.Items, 1)
	assert.Equal(t, 5, v.Items[0].Quantity)
	assert.Equal(t, 5, v.TotalItems)
	assert.Equal(t, "22.50", v.Subtotal.StringFixed(2))
	assert.Equal(t, 10, v.Items[0].InStock)
}

func TestAddChecksStockAgainstMergedQuantity(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)
	p := st.PutProduct(models.Product{Name: "Tea", Price: decimal.NewFromInt(1), Stock: 4, IsActive: true})

	_, err := svc.Add(ctx, "u1", p.ID, 3)
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", p.ID, 2)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 5, apperr.DetailsOf(err)["requested"])

	v, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, v.TotalItems)
}

func TestAddRejectsInactiveAndUnknownProducts(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)
	off := st.PutProduct(models.Product{Name: "Old", Price: decimal.NewFromInt(1), Stock: 4})

	_, err := svc.Add(ctx, "u1", off.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Add(ctx, "u1", uuid.New(), 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Add(ctx, "u1", off.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	svc, st := setup(t)
	a := st.PutProduct(models.Product{Name: "A", Price: decimal.NewFromInt(2), Stock: 5, IsActive: true})
	b := st.PutProduct(models.Product{Name: "B", Price: decimal.NewFromInt(3), Stock: 5, IsActive: true})

	_, err := svc.Add(ctx, "u1", a.ID, 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", b.ID, 1)
	require.NoError(t, err)

	v, err := svc.Update(ctx, "u1", a.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, v.TotalItems)

	_, err = svc.Update(ctx, "u1", a.ID, 6)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	_, err = svc.Update(ctx, "u2", a.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	v, err = svc.Remove(ctx, "u1", a.ID)
	require.NoError(t, err)
	require.Len(t, v.Items, 1)
	assert.Equal(t, b.ID, v.Items[0].ProductID)

	_, err = svc.Remove(ctx, "u1", a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, svc.Clear(ctx, "u1"))
	v, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, v.Items)
	assert.True(t, v.Subtotal.IsZero())
}

func TestGetEmptyCart(t *testing.T) {
	svc, _ := setup(t)
	v, err := svc.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, v.Items)
	assert.Zero(t, v.TotalItems)
}

func TestMutationsNotifyWatchers(t *testing.T) {
	ctx := context.Background()
	events := cache.NewLocalCartEvents()
	st := store.NewMemoryStore()
	svc := NewService(st, zap.NewNop(), WithEvents(events))
	p := st.PutProduct(models.Product{Name: "Tea", Price: decimal.NewFromInt(2), Stock: 5, IsActive: true})

	ch, stop, err := svc.Watch(ctx, "u1")
	require.NoError(t, err)
	defer stop()

	_, err = svc.Add(ctx, "u1", p.ID, 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", p.ID, 10)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	require.NoError(t, svc.Clear(ctx, "u1"))

	require.Len(t, ch, 2)
	assert.Equal(t, cache.CartUpdated, <-ch)
	assert.Equal(t, cache.CartCleared, <-ch)
}
