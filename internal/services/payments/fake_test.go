package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront_back_end/internal/models"
	"storefront_back_end/internal/services/audit"
	"storefront_back_end/internal/services/orders"
	"storefront_back_end/internal/store"
)

const testSecret = "whsec_test_secret"

type fakeGateway struct {
	mu sync.Mutex

	seq       int
	intents   map[string]Intent
	customers map[string]bool
	requests  []IntentRequest
	refunds   []RefundRequest

	customersCreated int
	retrieveCalls    int

	intentErr    error
	refundErr    error
	refundStatus RefundStatus
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents:      map[string]Intent{},
		customers:    map[string]bool{},
		refundStatus: GatewayRefundSucceeded,
	}
}

func (f *fakeGateway) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.customersCreated++
	id := fmt.Sprintf("cus_%d", f.seq)
	f.customers[id] = true
	return id, nil
}

func (f *fakeGateway) CustomerExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customers[id], nil
}

func (f *fakeGateway) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return Intent{}, f.intentErr
	}
	f.seq++
	f.requests = append(f.requests, req)
	in := Intent{
		ID:          fmt.Sprintf("pi_%d", f.seq),
		Status:      IntentRequiresPaymentMethod,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		CustomerID:  req.CustomerID,
		Metadata:    req.Metadata,
	}
	in.ClientSecret = in.ID + "_secret"
	f.intents[in.ID] = in
	return in, nil
}

func (f *fakeGateway) RetrieveIntent(_ context.Context, id string) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls++
	in, ok := f.intents[id]
	if !ok {
		return Intent{}, errors.New("No such payment_intent: " + id)
	}
	return in, nil
}

func (f *fakeGateway) CreateRefund(_ context.Context, req RefundRequest) (GatewayRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return GatewayRefund{}, f.refundErr
	}
	f.seq++
	f.refunds = append(f.refunds, req)
	return GatewayRefund{ID: fmt.Sprintf("re_%d", f.seq), Status: f.refundStatus}, nil
}

func (f *fakeGateway) settle(id string, st IntentStatus, failure string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.intents[id]
	in.Status = st
	in.FailureMessage = failure
	if st == IntentSucceeded {
		in.ChargeID = "ch_" + id
	}
	f.intents[id] = in
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *fakeAuditor) Record(_ context.Context, ev audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAuditor) count(typ string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ev := range a.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	orders  *orders.Service
	st      *store.MemoryStore
	gw      *fakeGateway
	auditor *fakeAuditor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	gw := newFakeGateway()
	aud := &fakeAuditor{}
	svc := NewService(st, gw, NewStripeVerifier(testSecret), "USD", zap.NewNop(), append([]Option{WithAuditor(aud)}, opts...)...)
	ord := orders.NewService(st, orders.DefaultPricing, zap.NewNop(), orders.WithPaymentSync(svc))
	return &fixture{svc: svc, orders: ord, st: st, gw: gw, auditor: aud}
}

// placeOrder enregistre une commande pending de userID avec le total donné.
func (f *fixture) placeOrder(t *testing.T, userID, total string) models.Order {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	o := models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-" + uuid.NewString()[:8],
		UserID:      userID,
		Status:      models.OrderPending,
		Total:       decimal.RequireFromString(total),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.st.Atomically(ctx, func(tx store.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))
	return o
}

func (f *fixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	ctx := context.Background()
	var o models.Order
	require.NoError(t, f.st.Atomically(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Order(ctx, id)
		return err
	}))
	return o
}

func (f *fixture) setOrderStatus(t *testing.T, id uuid.UUID, from, to models.OrderStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.st.Atomically(ctx, func(tx store.Tx) error {
		_, err := tx.SetOrderStatus(ctx, id, from, to)
		return err
	}))
}

// paidPayment fait passer une commande par un paiement carte réussi.
func (f *fixture) paidPayment(t *testing.T, user models.Principal, total string) models.Payment {
	t.Helper()
	ctx := context.Background()
	o := f.placeOrder(t, user.ID, total)
	res, err := f.svc.CreateIntent(ctx, user, o.ID, models.MethodCard)
	require.NoError(t, err)
	f.gw.settle(res.Payment.GatewayIntentID, IntentSucceeded, "")
	pay, err := f.svc.ConfirmFromGateway(ctx, res.Payment.GatewayIntentID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentCompleted, pay.Status)
	return pay
}
