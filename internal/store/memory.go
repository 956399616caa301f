package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/models"
)

// MemoryStore garde tout en mémoire. Les unités de travail sont sérialisées et
// tournent sur une copie de l'état qui remplace l'état courant en cas de succès.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	products  map[uuid.UUID]models.Product
	carts     map[string]models.Cart
	orders    map[uuid.UUID]models.Order
	payments  map[uuid.UUID]models.Payment
	refunds   map[uuid.UUID]models.Refund
	movements []models.StockMovement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		products: make(map[uuid.UUID]models.Product),
		carts:    make(map[string]models.Cart),
		orders:   make(map[uuid.UUID]models.Order),
		payments: make(map[uuid.UUID]models.Payment),
		refunds:  make(map[uuid.UUID]models.Refund),
	}}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// PutProduct alimente le catalogue. Les ids et dates vides sont remplis.
func (m *MemoryStore) PutProduct(p models.Product) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.state.products[p.ID] = p
	return p
}

// Movements renvoie une copie du journal de stock.
func (m *MemoryStore) Movements() []models.StockMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StockMovement(nil), m.state.movements...)
}

func (s *memState) clone() *memState {
	c := &memState{
		products:  make(map[uuid.UUID]models.Product, len(s.products)),
		carts:     make(map[string]models.Cart, len(s.carts)),
		orders:    make(map[uuid.UUID]models.Order, len(s.orders)),
		payments:  make(map[uuid.UUID]models.Payment, len(s.payments)),
		refunds:   make(map[uuid.UUID]models.Refund, len(s.refunds)),
		movements: append([]models.StockMovement(nil), s.movements...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		v.Items = append([]models.CartItem(nil), v.Items...)
		c.carts[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]models.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	return c
}

type memTx struct{ s *memState }

func (t *memTx) Product(_ context.Context, id uuid.UUID) (models.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return models.Product{}, apperr.NotFound("product")
	}
	return p, nil
}

func (t *memTx) Products(_ context.Context, activeOnly bool) ([]models.Product, error) {
	out := make([]models.Product, 0, len(t.s.products))
	for _, p := range t.s.products {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sortProducts(out)
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, id uuid.UUID, qty int) (int, error) {
	p, ok := t.s.products[id]
	if !ok {
		return 0, apperr.NotFound("product")
	}
	if p.Stock < qty {
		return p.Stock, apperr.InsufficientStock(id.String(), p.Name, p.Stock, qty)
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	t.s.products[id] = p
	return p.Stock, nil
}

func (t *memTx) IncrementStock(_ context.Context, id uuid.UUID, qty int) (int, error) {
	p, ok := t.s.products[id]
	if !ok {
		return 0, apperr.NotFound("product")
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	t.s.products[id] = p
	return p.Stock, nil
}

func (t *memTx) RecordMovement(_ context.Context, m models.StockMovement) error {
	t.s.movements = append(t.s.movements, m)
	return nil
}

func (t *memTx) Cart(_ context.Context, userID string) (models.Cart, error) {
	c, ok := t.s.carts[userID]
	if !ok {
		return models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	c.Items = append([]models.CartItem(nil), c.Items...)
	return c, nil
}

func (t *memTx) SaveCart(_ context.Context, cart models.Cart) error {
	cart.Items = append([]models.CartItem(nil), cart.Items...)
	t.s.carts[cart.UserID] = cart
	return nil
}

func (t *memTx) ClearCart(_ context.Context, userID string) error {
	delete(t.s.carts, userID)
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o models.Order) error {
	if _, exists := t.s.orders[o.ID]; exists {
		return apperr.Wrap(apperr.CodeConflict, "order already exists", nil)
	}
	for _, other := range t.s.orders {
		if other.OrderNumber == o.OrderNumber {
			return apperr.Wrap(apperr.CodeConflict, "duplicate order number", nil)
		}
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	t.s.orders[o.ID] = o
	return nil
}

func (t *memTx) Order(_ context.Context, id uuid.UUID) (models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return models.Order{}, apperr.NotFound("order")
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o, nil
}

func (t *memTx) OrdersByUser(_ context.Context, userID string) ([]models.Order, error) {
	var out []models.Order
	for _, o := range t.s.orders {
		if o.UserID == userID {
			o.Items = append([]models.OrderItem(nil), o.Items...)
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) SetOrderStatus(_ context.Context, id uuid.UUID, from, to models.OrderStatus) (bool, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return false, apperr.NotFound("order")
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	t.s.orders[id] = o
	return true, nil
}

func (t *memTx) InsertPayment(_ context.Context, p models.Payment) error {
	if _, exists := t.s.payments[p.ID]; exists {
		return apperr.Wrap(apperr.CodeConflict, "payment already exists", nil)
	}
	t.s.payments[p.ID] = p
	return nil
}

func (t *memTx) Payment(_ context.Context, id uuid.UUID) (models.Payment, error) {
	p, ok := t.s.payments[id]
	if !ok {
		return models.Payment{}, apperr.NotFound("payment")
	}
	return p, nil
}

// PaymentByOrder renvoie le paiement le plus récent de la commande.
func (t *memTx) PaymentByOrder(_ context.Context, orderID uuid.UUID) (models.Payment, error) {
	var (
		found models.Payment
		ok    bool
	)
	for _, p := range t.s.payments {
		if p.OrderID == orderID && (!ok || p.CreatedAt.After(found.CreatedAt)) {
			found, ok = p, true
		}
	}
	if !ok {
		return models.Payment{}, apperr.NotFound("payment")
	}
	return found, nil
}

func (t *memTx) PaymentByIntent(_ context.Context, intentID string) (models.Payment, error) {
	for _, p := range t.s.payments {
		if intentID != "" && p.GatewayIntentID == intentID {
			return p, nil
		}
	}
	return models.Payment{}, apperr.NotFound("payment")
}

func (t *memTx) PaymentsByUser(_ context.Context, userID string) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range t.s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) UpdatePayment(_ context.Context, p models.Payment, expected models.PaymentStatus) (bool, error) {
	cur, ok := t.s.payments[p.ID]
	if !ok {
		return false, apperr.NotFound("payment")
	}
	if cur.Status != expected {
		return false, nil
	}
	t.s.payments[p.ID] = p
	return true, nil
}

func (t *memTx) CustomerID(_ context.Context, userID string) (string, error) {
	var (
		latest models.Payment
		ok     bool
	)
	for _, p := range t.s.payments {
		if p.UserID == userID && p.GatewayCustomerID != "" && (!ok || p.CreatedAt.After(latest.CreatedAt)) {
			latest, ok = p, true
		}
	}
	return latest.GatewayCustomerID, nil
}

func (t *memTx) InsertRefund(_ context.Context, r models.Refund) error {
	if _, exists := t.s.refunds[r.ID]; exists {
		return apperr.Wrap(apperr.CodeConflict, "refund already exists", nil)
	}
	t.s.refunds[r.ID] = r
	return nil
}

func (t *memTx) UpdateRefund(_ context.Context, r models.Refund) error {
	if _, ok := t.s.refunds[r.ID]; !ok {
		return apperr.NotFound("refund")
	}
	t.s.refunds[r.ID] = r
	return nil
}

func (t *memTx) RefundsByPayment(_ context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	var out []models.Refund
	for _, r := range t.s.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	sortRefundsOldestFirst(out)
	return out, nil
}

func (t *memTx) RefundsByUser(_ context.Context, userID string) ([]models.Refund, error) {
	var out []models.Refund
	for _, r := range t.s.refunds {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
