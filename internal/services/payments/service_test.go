package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/models"
)

var (
	alice = models.Principal{ID: "alice", Email: "alice@example.com"}
	bob   = models.Principal{ID: "bob", Email: "bob@example.com"}
	staff = models.Principal{ID: "ops", Email: "ops@example.com", Role: "admin"}
)

func TestCreateIntentForCardPayment(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "43.00")

	res, err := f.svc.CreateIntent(context.Background(), alice, o.ID, models.MethodCard)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, res.Payment.Status)
	assert.Equal(t, "usd", res.Payment.Currency)
	assert.True(t, res.Payment.Amount.Equal(o.Total))
	assert.Equal(t, res.Payment.GatewayIntentID+"_secret", res.ClientSecret)
	assert.NotEmpty(t, res.Payment.GatewayCustomerID)

	require.Len(t, f.gw.requests, 1)
	req := f.gw.requests[0]
	assert.Equal(t, int64(4300), req.AmountMinor)
	assert.Equal(t, o.ID.String(), req.Metadata["order_id"])
	assert.Equal(t, "intent-"+res.Payment.ID.String(), req.IdempotencyKey)
	assert.Equal(t, 1, f.auditor.count("payment.created"))
}

func TestCreateIntentRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "10.00")

	_, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCash)
	assert.ErrorIs(t, err, apperr.ErrWrongMethodEndpoint)
	_, err = f.svc.CreateIntent(ctx, alice, o.ID, models.MethodPayPal)
	assert.ErrorIs(t, err, apperr.ErrUnsupportedMethod)
	_, err = f.svc.CreateIntent(ctx, alice, o.ID, "bitcoin")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateIntent(ctx, bob, o.ID, models.MethodCard)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.NoError(t, err)
	_, err = f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	assert.ErrorIs(t, err, apperr.ErrPaymentExists)

	cancelled := f.placeOrder(t, alice.ID, "10.00")
	f.setOrderStatus(t, cancelled.ID, models.OrderPending, models.OrderCancelled)
	_, err = f.svc.CreateIntent(ctx, alice, cancelled.ID, models.MethodCard)
	require.ErrorIs(t, err, apperr.ErrOrderNotPayable)
	assert.Equal(t, "cancelled", apperr.DetailsOf(err)["status"])
}

func TestCreateIntentGatewayErrorStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.intentErr = errors.New("Your account cannot currently make live charges.")
	o := f.placeOrder(t, alice.ID, "10.00")

	_, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.ErrorIs(t, err, apperr.ErrGateway)
	assert.Contains(t, err.Error(), "cannot currently make live charges")

	list, err := f.svc.List(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGatewayCustomerIsReusedOrRecreated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.CreateIntent(ctx, alice, f.placeOrder(t, alice.ID, "5.00").ID, models.MethodCard)
	require.NoError(t, err)
	second, err := f.svc.CreateIntent(ctx, alice, f.placeOrder(t, alice.ID, "6.00").ID, models.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, first.Payment.GatewayCustomerID, second.Payment.GatewayCustomerID)
	assert.Equal(t, 1, f.gw.customersCreated)

	delete(f.gw.customers, first.Payment.GatewayCustomerID)
	third, err := f.svc.CreateIntent(ctx, alice, f.placeOrder(t, alice.ID, "7.00").ID, models.MethodCard)
	require.NoError(t, err)
	assert.NotEqual(t, first.Payment.GatewayCustomerID, third.Payment.GatewayCustomerID)
	assert.Equal(t, 2, f.gw.customersCreated)
}

func TestDoubleConfirmTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "43.00")
	res, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.NoError(t, err)
	intentID := res.Payment.GatewayIntentID
	f.gw.settle(intentID, IntentSucceeded, "")

	first, err := f.svc.Confirm(ctx, alice, intentID)
	require.NoError(t, err)
	second, err := f.svc.ConfirmFromGateway(ctx, intentID)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentCompleted, first.Status)
	assert.Equal(t, models.PaymentCompleted, second.Status)
	require.NotNil(t, second.PaidAt)
	assert.Equal(t, "ch_"+intentID, second.TransactionID)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	assert.Equal(t, 1, f.auditor.count("payment.transition"))
	assert.Equal(t, models.OrderProcessing, f.order(t, o.ID).Status)
}

func TestConfirmChecksOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.svc.CreateIntent(ctx, alice, f.placeOrder(t, alice.ID, "1.00").ID, models.MethodCard)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, bob, res.Payment.GatewayIntentID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Confirm(ctx, alice, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.gw.retrieveCalls)
}

func TestReconcileStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "20.00")
	res, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.NoError(t, err)
	id := res.Payment.GatewayIntentID

	pay, err := f.svc.Reconcile(ctx, Intent{ID: id, Status: IntentRequiresAction})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pay.Status)

	pay, err = f.svc.Reconcile(ctx, Intent{ID: id, Status: IntentProcessing})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentProcessing, pay.Status)

	pay, err = f.svc.Reconcile(ctx, Intent{ID: id, Status: IntentFailed, FailureMessage: "Your card was declined."})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, pay.Status)
	assert.Equal(t, "Your card was declined.", pay.FailureReason)
	assert.Equal(t, models.OrderPending, f.order(t, o.ID).Status)

	pay, err = f.svc.Reconcile(ctx, Intent{ID: id, Status: IntentProcessing})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, pay.Status, "failed is never overwritten by processing")

	pay, err = f.svc.Reconcile(ctx, Intent{ID: id, Status: IntentSucceeded, ChargeID: "ch_retry"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, pay.Status)
	assert.Empty(t, pay.FailureReason)
	assert.Equal(t, models.OrderProcessing, f.order(t, o.ID).Status)

	for _, st := range []IntentStatus{IntentFailed, IntentCanceled, IntentProcessing} {
		pay, err = f.svc.Reconcile(ctx, Intent{ID: id, Status: st})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentCompleted, pay.Status, "completed is sticky against %s", st)
	}

	_, err = f.svc.Reconcile(ctx, Intent{ID: "pi_unknown", Status: IntentSucceeded})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFailedPaymentCanBeRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "20.00")
	first, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, Intent{ID: first.Payment.GatewayIntentID, Status: IntentCanceled})
	require.NoError(t, err)

	second, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.NoError(t, err)
	assert.NotEqual(t, first.Payment.GatewayIntentID, second.Payment.GatewayIntentID)
}

func TestPaymentForCancelledOrderLeavesOrderCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "20.00")
	res, err := f.svc.CreateIntent(ctx, alice, o.ID, models.MethodCard)
	require.NoError(t, err)
	f.setOrderStatus(t, o.ID, models.OrderPending, models.OrderCancelled)

	pay, err := f.svc.Reconcile(ctx, Intent{ID: res.Payment.GatewayIntentID, Status: IntentSucceeded})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, pay.Status)
	assert.Equal(t, models.OrderCancelled, f.order(t, o.ID).Status)
}

func TestConfirmCash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "43.00")

	pay, err := f.svc.ConfirmCash(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MethodCash, pay.Method)
	assert.Equal(t, models.PaymentPending, pay.Status)
	assert.True(t, pay.Amount.Equal(o.Total))
	assert.Equal(t, models.OrderProcessing, f.order(t, o.ID).Status)

	_, err = f.svc.ConfirmCash(ctx, alice, o.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotPayable)

	other := f.placeOrder(t, alice.ID, "5.00")
	_, err = f.svc.CreateIntent(ctx, alice, other.ID, models.MethodCard)
	require.NoError(t, err)
	_, err = f.svc.ConfirmCash(ctx, alice, other.ID)
	assert.ErrorIs(t, err, apperr.ErrPaymentExists)
	_, err = f.svc.ConfirmCash(ctx, bob, other.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRefundLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.paidPayment(t, alice, "100.00")

	r1, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(40), "damaged")
	require.NoError(t, err)
	assert.Equal(t, models.RefundCompleted, r1.Status)
	assert.NotNil(t, r1.ProcessedAt)
	assert.NotEmpty(t, r1.GatewayRefundID)
	got, err := f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)

	_, err = f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(61), "too much")
	require.ErrorIs(t, err, apperr.ErrRefundExceedsBalance)
	assert.Equal(t, "60.00", apperr.DetailsOf(err)["remaining"])

	r2, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(60), "rest")
	require.NoError(t, err)
	assert.Equal(t, models.RefundCompleted, r2.Status)
	got, err = f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.Status)

	_, err = f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(1), "again")
	assert.ErrorIs(t, err, apperr.ErrPaymentNotRefundable)

	require.Len(t, f.gw.refunds, 2)
	assert.Equal(t, int64(4000), f.gw.refunds[0].AmountMinor)
	assert.Equal(t, pay.GatewayIntentID, f.gw.refunds[0].IntentID)

	refunds, err := f.svc.ListRefunds(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)
}

func TestRefundValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.paidPayment(t, alice, "10.00")

	_, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.Zero, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateRefund(ctx, alice, pay.ID, decimal.RequireFromString("1.005"), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateRefund(ctx, bob, pay.ID, decimal.NewFromInt(1), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.CreateRefund(ctx, alice, uuid.New(), decimal.NewFromInt(1), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rf, err := f.svc.CreateRefund(ctx, staff, pay.ID, decimal.NewFromInt(1), "goodwill")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, rf.UserID)

	pending, err := f.svc.CreateIntent(ctx, alice, f.placeOrder(t, alice.ID, "3.00").ID, models.MethodCard)
	require.NoError(t, err)
	_, err = f.svc.CreateRefund(ctx, alice, pending.Payment.ID, decimal.NewFromInt(1), "")
	assert.ErrorIs(t, err, apperr.ErrPaymentNotRefundable)
}

func TestRefundStillProcessingAtGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.paidPayment(t, alice, "50.00")
	f.gw.refundStatus = GatewayRefundPending

	rf, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(50), "")
	require.NoError(t, err)
	assert.Equal(t, models.RefundProcessing, rf.Status)
	assert.Nil(t, rf.ProcessedAt)

	got, err := f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)
}

func TestRefundGatewayFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.paidPayment(t, alice, "50.00")
	f.gw.refundErr = errors.New("charge already refunded")

	_, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(10), "")
	require.ErrorIs(t, err, apperr.ErrGateway)

	refunds, err := f.svc.ListRefunds(ctx, alice)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, models.RefundFailed, refunds[0].Status)
}

func TestCashIsCollectedOnDelivery(t *testing.T) {
	ctx := context.Background()
	deliveredAt := time.Date(2025, 3, 14, 16, 30, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return deliveredAt }))
	o := f.placeOrder(t, alice.ID, "30.00")
	pay, err := f.svc.ConfirmCash(ctx, alice, o.ID)
	require.NoError(t, err)

	_, err = f.orders.UpdateStatus(ctx, staff, o.ID, models.OrderShipped)
	require.NoError(t, err)
	stored, err := f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.Status)
	assert.Nil(t, stored.PaidAt)

	_, err = f.orders.UpdateStatus(ctx, staff, o.ID, models.OrderDelivered)
	require.NoError(t, err)
	stored, err = f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, deliveredAt.Equal(*stored.PaidAt))
	assert.Equal(t, "cash:"+o.OrderNumber, stored.TransactionID)
}

func TestCashRefundIsRecordedForManualProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "30.00")
	pay, err := f.svc.ConfirmCash(ctx, alice, o.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(30), "")
	require.ErrorIs(t, err, apperr.ErrPaymentNotRefundable)

	for _, to := range []models.OrderStatus{models.OrderShipped, models.OrderDelivered} {
		_, err := f.orders.UpdateStatus(ctx, staff, o.ID, to)
		require.NoError(t, err)
	}

	rf, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(30), "")
	require.NoError(t, err)
	assert.Equal(t, models.RefundPending, rf.Status)
	assert.Empty(t, f.gw.refunds)
}

func TestCancelledOrderCancelsPendingCash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.placeOrder(t, alice.ID, "12.00")
	pay, err := f.svc.ConfirmCash(ctx, alice, o.ID)
	require.NoError(t, err)

	_, err = f.orders.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, stored.Status)
	assert.Nil(t, stored.PaidAt)
}

func TestDeliveryLeavesCardPaymentAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.paidPayment(t, alice, "20.00")
	paidAt := *pay.PaidAt

	for _, to := range []models.OrderStatus{models.OrderShipped, models.OrderDelivered} {
		_, err := f.orders.UpdateStatus(ctx, staff, pay.OrderID, to)
		require.NoError(t, err)
	}

	stored, err := f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, stored.Status)
	assert.True(t, paidAt.Equal(*stored.PaidAt))
}

func TestConcurrentRefundsNeverExceedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pay := f.paidPayment(t, alice, "100.00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateRefund(ctx, alice, pay.ID, decimal.NewFromInt(20), "")
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	refunds, err := f.svc.ListRefunds(ctx, alice)
	require.NoError(t, err)
	assert.True(t, models.CompletedTotal(refunds).Equal(decimal.NewFromInt(100)))
	got, err := f.svc.Get(ctx, alice, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.Status)
}
