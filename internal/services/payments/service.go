package payments

import (
	"context"
	"errors"
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
	"storefront_back_end/internal/services/audit"
	"storefront_back_end/internal/store"
)

// Auditor reçoit les événements de paiement une fois validés.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

type Service struct {
	store    store.Store
	gateway  Gateway
	verifier Verifier
	locker   cache.Locker
	dedupe   cache.Deduper
	audit    Auditor
	metrics  *metrics.Metrics
	log      *zap.Logger
	currency string
	now      func() time.Time
}

type Option func(*Service)

func WithLocker(l cache.Locker) Option { return func(s *Service) { s.locker = l } }

func WithDeduper(d cache.Deduper) Option { return func(s *Service) { s.dedupe = d } }

func WithAuditor(a Auditor) Option { return func(s *Service) { s.audit = a } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService utilise des verrous et une déduplication locaux sauf si les
// options en fournissent de partagés.
func NewService(st store.Store, gw Gateway, v Verifier, currency string, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		gateway:  gw,
		verifier: v,
		locker:   cache.NewLocalLocker(),
		dedupe:   cache.NewLocalDeduper(),
		log:      log,
		currency: strings.ToLower(currency),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IntentResult : ce dont le client a besoin pour finir un paiement carte.
type IntentResult struct {
	Payment      models.Payment `json:"payment"`
	ClientSecret string         `json:"client_secret"`
}

func orderLockKey(orderID uuid.UUID) string    { return "payment:order:" + orderID.String() }
func refundLockKey(paymentID uuid.UUID) string { return "payment:refund:" + paymentID.String() }

// blocksNewPayment indique si un paiement existant empêche une nouvelle
// tentative sur la même commande.
func blocksNewPayment(st models.PaymentStatus) bool {
	switch st {
	case models.PaymentFailed, models.PaymentCancelled:
		return false
	}
	return true
}

// payableOrder charge une commande de p encore payable.
func payableOrder(ctx context.Context, tx store.Tx, p models.Principal, orderID uuid.UUID) (models.Order, error) {
	o, err := tx.Order(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if o.UserID != p.ID {
		return models.Order{}, apperr.NotFound("order")
	}
	if o.Status != models.OrderPending {
		return models.Order{}, apperr.New(apperr.CodeOrderNotPayable,
			fmt.Sprintf("order is %s", o.Status), map[string]any{"status": string(o.Status)})
	}
	return o, nil
}

// CreateIntent ouvre un paiement carte pour une commande pending.
func (s *Service) CreateIntent(ctx context.Context, p models.Principal, orderID uuid.UUID, method models.PaymentMethod) (IntentResult, error) {
	switch method {
	case models.MethodCard:
	case models.MethodCash:
		return IntentResult{}, apperr.ErrWrongMethodEndpoint
	case models.MethodPayPal:
		return IntentResult{}, apperr.ErrUnsupportedMethod
	default:
		return IntentResult{}, apperr.Validation(fmt.Sprintf("unknown payment method %q", method))
	}

	unlock, err := s.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return IntentResult{}, err
	}
	defer unlock()

	var (
		order      models.Order
		customerID string
	)
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		if order, err = payableOrder(ctx, tx, p, orderID); err != nil {
			return err
		}
		if err := noBlockingPayment(ctx, tx, orderID); err != nil {
			return err
		}
		customerID, err = tx.CustomerID(ctx, p.ID)
		return err
	})
	if err != nil {
		return IntentResult{}, err
	}

	customerID, err = s.ensureCustomer(ctx, p, customerID)
	if err != nil {
		return IntentResult{}, err
	}

	paymentID := uuid.New()
	intent, err := s.gateway.CreateIntent(ctx, IntentRequest{
		AmountMinor: models.ToMinorUnits(order.Total),
		Currency:    s.currency,
		CustomerID:  customerID,
		Metadata: map[string]string{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
			"payment_id":   paymentID.String(),
			"user_id":      p.ID,
		},
		IdempotencyKey: "intent-" + paymentID.String(),
	})
	if err != nil {
		s.log.Error("❌ création intent échouée", zap.String("order_id", orderID.String()), zap.Error(err))
		return IntentResult{}, apperr.Gateway(err)
	}

	now := s.now()
	payment := models.Payment{
		ID:                paymentID,
		OrderID:           order.ID,
		UserID:            p.ID,
		Method:            models.MethodCard,
		Status:            models.PaymentPending,
		Amount:            order.Total,
		Currency:          s.currency,
		GatewayIntentID:   intent.ID,
		GatewayCustomerID: customerID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		if _, err := payableOrder(ctx, tx, p, orderID); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		s.log.Warn("⚠️ intent créé mais paiement non enregistré",
			zap.String("intent_id", intent.ID), zap.String("order_id", orderID.String()), zap.Error(err))
		return IntentResult{}, err
	}

	s.metrics.PaymentTransition("", string(models.PaymentPending))
	s.record(ctx, audit.Event{
		Type:      "payment.created",
		PaymentID: payment.ID.String(),
		OrderID:   order.ID.String(),
		UserID:    p.ID,
		To:        string(payment.Status),
		Amount:    payment.Amount.StringFixed(2),
		Source:    "card",
	})
	s.log.Info("💳 intent de paiement créé",
		zap.String("payment_id", payment.ID.String()),
		zap.String("intent_id", intent.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("amount", payment.Amount.StringFixed(2)))

	return IntentResult{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

func noBlockingPayment(ctx context.Context, tx store.Tx, orderID uuid.UUID) error {
	existing, err := tx.PaymentByOrder(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if blocksNewPayment(existing.Status) {
		return apperr.New(apperr.CodePaymentExists, "order already has a payment",
			map[string]any{"payment_id": existing.ID.String(), "status": string(existing.Status)})
	}
	return nil
}

// ensureCustomer réutilise le client passerelle enregistré s'il existe encore,
// sinon en crée un.
func (s *Service) ensureCustomer(ctx context.Context, p models.Principal, known string) (string, error) {
	if known != "" {
		ok, err := s.gateway.CustomerExists(ctx, known)
		if err != nil {
			return "", apperr.Gateway(err)
		}
		if ok {
			return known, nil
		}
		s.log.Info("🔁 client Stripe introuvable, recréation", zap.String("user_id", p.ID), zap.String("customer_id", known))
	}
	id, err := s.gateway.CreateCustomer(ctx, p.Email, p.ID)
	if err != nil {
		return "", apperr.Gateway(err)
	}
	return id, nil
}

// Confirm : chemin déclenché par le client, qui doit posséder le paiement.
func (s *Service) Confirm(ctx context.Context, p models.Principal, intentID string) (models.Payment, error) {
	if strings.TrimSpace(intentID) == "" {
		return models.Payment{}, apperr.Validation("payment_intent_id is required")
	}
	var owner string
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		pay, err := tx.PaymentByIntent(ctx, intentID)
		owner = pay.UserID
		return err
	})
	if err != nil {
		return models.Payment{}, err
	}
	if owner != p.ID && !p.CanManageOrders() {
		return models.Payment{}, apperr.NotFound("payment")
	}
	return s.ConfirmFromGateway(ctx, intentID)
}

// ConfirmFromGateway demande l'état de référence à la passerelle et réconcilie
// le paiement local.
func (s *Service) ConfirmFromGateway(ctx context.Context, intentID string) (models.Payment, error) {
	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return models.Payment{}, apperr.Gateway(err)
	}
	return s.Reconcile(ctx, intent)
}

// targetStatus traduit un état passerelle en statut de paiement. ok vaut false
// pour les états qui ne font pas bouger le paiement.
func targetStatus(st IntentStatus) (models.PaymentStatus, bool) {
	switch st {
	case IntentSucceeded:
		return models.PaymentCompleted, true
	case IntentProcessing:
		return models.PaymentProcessing, true
	case IntentCanceled, IntentFailed:
		return models.PaymentFailed, true
	}
	return "", false
}

// canMove porte la machine à états des paiements. completed n'en sort que par
// remboursement ; un nouvel essai côté passerelle peut faire passer failed à
// completed.
func canMove(from, to models.PaymentStatus) bool {
	switch to {
	case models.PaymentCompleted:
		return from == models.PaymentPending || from == models.PaymentProcessing || from == models.PaymentFailed
	case models.PaymentProcessing:
		return from == models.PaymentPending
	case models.PaymentFailed:
		return from == models.PaymentPending || from == models.PaymentProcessing
	}
	return false
}

const reconcileAttempts = 3

// Reconcile applique l'état d'un intent au paiement correspondant. Appeler
// plusieurs fois avec le même état ne change rien, que ce soit depuis le
// webhook ou depuis la confirmation.
func (s *Service) Reconcile(ctx context.Context, intent Intent) (models.Payment, error) {
	var (
		pay  models.Payment
		from models.PaymentStatus
		err  error
	)
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		pay, from, err = s.reconcileOnce(ctx, intent)
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}
	}
	if err != nil {
		return models.Payment{}, err
	}

	if from != pay.Status {
		s.metrics.PaymentTransition(string(from), string(pay.Status))
		s.record(ctx, audit.Event{
			Type:      "payment.transition",
			PaymentID: pay.ID.String(),
			OrderID:   pay.OrderID.String(),
			UserID:    pay.UserID,
			From:      string(from),
			To:        string(pay.Status),
			Amount:    pay.Amount.StringFixed(2),
			Source:    string(intent.Status),
			Message:   pay.FailureReason,
		})
		s.log.Info("🔄 paiement réconcilié",
			zap.String("payment_id", pay.ID.String()),
			zap.String("intent_id", intent.ID),
			zap.String("from", string(from)),
			zap.String("to", string(pay.Status)))
	}
	return pay, nil
}

func (s *Service) reconcileOnce(ctx context.Context, intent Intent) (models.Payment, models.PaymentStatus, error) {
	var (
		pay  models.Payment
		from models.PaymentStatus
	)
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		cur, err := tx.PaymentByIntent(ctx, intent.ID)
		if err != nil {
			return err
		}
		pay, from = cur, cur.Status

		to, ok := targetStatus(intent.Status)
		if !ok || to == cur.Status || !canMove(cur.Status, to) {
			return nil
		}

		now := s.now()
		next := cur
		next.Status = to
		next.UpdatedAt = now
		switch to {
		case models.PaymentCompleted:
			next.PaidAt = &now
			next.TransactionID = intent.ChargeID
			if next.TransactionID == "" {
				next.TransactionID = intent.ID
			}
			next.FailureReason = ""
		case models.PaymentFailed:
			next.FailureReason = intent.FailureMessage
			if next.FailureReason == "" {
				next.FailureReason = "payment " + string(intent.Status)
			}
		}

		changed, err := tx.UpdatePayment(ctx, next, cur.Status)
		if err != nil {
			return err
		}
		if !changed {
			return apperr.ErrConflict
		}
		pay = next

		if to == models.PaymentCompleted {
			return s.syncOrder(ctx, tx, cur.OrderID, paymentCompleted)
		}
		return nil
	})
	return pay, from, err
}

// HandleWebhook traite une livraison signée. Un événement déjà traité est
// acquitté sans effet ; une erreur demande une nouvelle livraison.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	ev, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		s.metrics.Webhook("unknown", "rejected")
		s.log.Warn("❌ webhook rejeté", zap.Error(err))
		return err
	}

	seen, err := s.dedupe.Seen(ctx, ev.ID)
	if err != nil {
		s.log.Warn("⚠️ déduplication indisponible", zap.String("event_id", ev.ID), zap.Error(err))
	}
	if seen {
		s.metrics.Webhook(ev.Type, "duplicate")
		s.log.Info("🔁 événement déjà traité", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return nil
	}

	s.log.Info("📥 événement Stripe reçu", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
	result := "processed"
	switch ev.Type {
	case EventIntentSucceeded:
		_, err = s.ConfirmFromGateway(ctx, ev.Intent.ID)
	case EventIntentFailed:
		failed := ev.Intent
		failed.Status = IntentFailed
		_, err = s.Reconcile(ctx, failed)
	default:
		result = "ignored"
	}

	if errors.Is(err, apperr.ErrNotFound) {
		s.log.Warn("⚠️ intent inconnu, événement ignoré", zap.String("intent_id", ev.Intent.ID))
		err, result = nil, "unknown_intent"
	}
	if err != nil {
		s.metrics.Webhook(ev.Type, "error")
		s.log.Error("❌ traitement webhook échoué", zap.String("event_id", ev.ID), zap.Error(err))
		return err
	}

	if err := s.dedupe.Mark(ctx, ev.ID); err != nil {
		s.log.Warn("⚠️ marquage événement échoué", zap.String("event_id", ev.ID), zap.Error(err))
	}
	s.metrics.Webhook(ev.Type, result)
	return nil
}

// ConfirmCash enregistre un paiement à la livraison et libère la commande pour
// la préparation. Le paiement reste pending jusqu'à la livraison.
func (s *Service) ConfirmCash(ctx context.Context, p models.Principal, orderID uuid.UUID) (models.Payment, error) {
	unlock, err := s.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return models.Payment{}, err
	}
	defer unlock()

	var pay models.Payment
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		o, err := payableOrder(ctx, tx, p, orderID)
		if err != nil {
			return err
		}
		existing, err := tx.PaymentByOrder(ctx, orderID)
		if err == nil {
			return apperr.New(apperr.CodePaymentExists, "order already has a payment",
				map[string]any{"payment_id": existing.ID.String(), "status": string(existing.Status)})
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		now := s.now()
		pay = models.Payment{
			ID:        uuid.New(),
			OrderID:   o.ID,
			UserID:    p.ID,
			Method:    models.MethodCash,
			Status:    models.PaymentPending,
			Amount:    o.Total,
			Currency:  s.currency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertPayment(ctx, pay); err != nil {
			return err
		}
		return s.syncOrder(ctx, tx, o.ID, cashConfirmed)
	})
	if err != nil {
		return models.Payment{}, err
	}

	s.metrics.PaymentTransition("", string(models.PaymentPending))
	s.record(ctx, audit.Event{
		Type:      "payment.created",
		PaymentID: pay.ID.String(),
		OrderID:   pay.OrderID.String(),
		UserID:    p.ID,
		To:        string(pay.Status),
		Amount:    pay.Amount.StringFixed(2),
		Source:    "cash",
	})
	s.log.Info("💵 paiement à la livraison enregistré",
		zap.String("payment_id", pay.ID.String()), zap.String("order_id", pay.OrderID.String()))
	return pay, nil
}

// CreateRefund rembourse tout ou partie d'un paiement completed. Les demandes
// sur un même paiement sont sérialisées : le contrôle du solde ne peut pas
// être doublé.
func (s *Service) CreateRefund(ctx context.Context, p models.Principal, paymentID uuid.UUID, amount decimal.Decimal, reason string) (models.Refund, error) {
	if !amount.IsPositive() {
		return models.Refund{}, apperr.Validation("refund amount must be positive")
	}
	if !amount.Equal(models.Cents(amount)) {
		return models.Refund{}, apperr.Validation("refund amount has more than two decimals")
	}

	unlock, err := s.locker.Lock(ctx, refundLockKey(paymentID))
	if err != nil {
		return models.Refund{}, err
	}
	defer unlock()

	var (
		pay models.Payment
		rf  models.Refund
	)
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		if pay, err = tx.Payment(ctx, paymentID); err != nil {
			return err
		}
		if pay.UserID != p.ID && !p.CanManageOrders() {
			return apperr.NotFound("payment")
		}
		if pay.Status != models.PaymentCompleted {
			return apperr.New(apperr.CodePaymentNotRefundable, "only completed payments can be refunded",
				map[string]any{"status": string(pay.Status)})
		}
		refunds, err := tx.RefundsByPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		remaining := pay.Amount.Sub(models.CompletedTotal(refunds))
		if amount.GreaterThan(remaining) {
			return apperr.RefundExceedsBalance(remaining.StringFixed(2))
		}

		now := s.now()
		rf = models.Refund{
			ID:        uuid.New(),
			PaymentID: pay.ID,
			UserID:    pay.UserID,
			Amount:    amount,
			Reason:    reason,
			Status:    models.RefundProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if pay.Method == models.MethodCash {
			rf.Status = models.RefundPending
		}
		return tx.InsertRefund(ctx, rf)
	})
	if err != nil {
		s.metrics.Refund(refundResult(err))
		return models.Refund{}, err
	}

	if pay.Method == models.MethodCash {
		s.metrics.Refund(string(rf.Status))
		s.recordRefund(ctx, rf, pay)
		s.log.Info("💵 remboursement espèces à traiter manuellement",
			zap.String("refund_id", rf.ID.String()), zap.String("amount", rf.Amount.StringFixed(2)))
		return rf, nil
	}

	gr, gwErr := s.gateway.CreateRefund(ctx, RefundRequest{
		IntentID:       pay.GatewayIntentID,
		AmountMinor:    models.ToMinorUnits(amount),
		Reason:         reason,
		Metadata:       map[string]string{"refund_id": rf.ID.String(), "payment_id": pay.ID.String()},
		IdempotencyKey: "refund-" + rf.ID.String(),
	})

	now := s.now()
	rf.UpdatedAt = now
	switch {
	case gwErr != nil:
		rf.Status = models.RefundFailed
	case gr.Status == GatewayRefundSucceeded:
		rf.Status = models.RefundCompleted
		rf.ProcessedAt = &now
	case gr.Status == GatewayRefundFailed || gr.Status == GatewayRefundCanceled:
		rf.Status = models.RefundFailed
	}
	rf.GatewayRefundID = gr.ID

	var fullyRefunded bool
	err = s.store.Atomically(ctx, func(tx store.Tx) error {
		if err := tx.UpdateRefund(ctx, rf); err != nil {
			return err
		}
		if rf.Status != models.RefundCompleted {
			return nil
		}
		refunds, err := tx.RefundsByPayment(ctx, pay.ID)
		if err != nil {
			return err
		}
		for i := range refunds {
			if refunds[i].ID == rf.ID {
				refunds[i] = rf
			}
		}
		if !models.CompletedTotal(refunds).Equal(pay.Amount) {
			return nil
		}
		next := pay
		next.Status = models.PaymentRefunded
		next.UpdatedAt = now
		changed, err := tx.UpdatePayment(ctx, next, models.PaymentCompleted)
		if err != nil {
			return err
		}
		fullyRefunded = changed
		return nil
	})
	if err != nil {
		s.log.Error("❌ mise à jour remboursement échouée",
			zap.String("refund_id", rf.ID.String()), zap.String("gateway_refund_id", gr.ID), zap.Error(err))
		return models.Refund{}, err
	}

	s.metrics.Refund(string(rf.Status))
	s.recordRefund(ctx, rf, pay)
	if gwErr != nil {
		s.log.Error("❌ remboursement refusé par Stripe", zap.String("refund_id", rf.ID.String()), zap.Error(gwErr))
		return models.Refund{}, apperr.Gateway(gwErr)
	}
	if fullyRefunded {
		s.metrics.PaymentTransition(string(models.PaymentCompleted), string(models.PaymentRefunded))
		s.record(ctx, audit.Event{
			Type:      "payment.transition",
			PaymentID: pay.ID.String(),
			OrderID:   pay.OrderID.String(),
			UserID:    pay.UserID,
			From:      string(models.PaymentCompleted),
			To:        string(models.PaymentRefunded),
			Amount:    pay.Amount.StringFixed(2),
			Source:    "refund",
		})
	}
	s.log.Info("✅ remboursement traité",
		zap.String("refund_id", rf.ID.String()),
		zap.String("gateway_refund_id", gr.ID),
		zap.String("status", string(rf.Status)),
		zap.Bool("fully_refunded", fullyRefunded))
	return rf, nil
}

func refundResult(err error) string {
	if code := apperr.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

func (s *Service) recordRefund(ctx context.Context, rf models.Refund, pay models.Payment) {
	s.record(ctx, audit.Event{
		Type:      "refund." + string(rf.Status),
		PaymentID: pay.ID.String(),
		RefundID:  rf.ID.String(),
		OrderID:   pay.OrderID.String(),
		UserID:    rf.UserID,
		To:        string(rf.Status),
		Amount:    rf.Amount.StringFixed(2),
		Message:   rf.Reason,
	})
}

// record est best-effort : le store fait foi.
func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.audit.Record(ctx, ev); err != nil {
		s.log.Warn("⚠️ audit non enregistré", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Get renvoie un paiement de l'appelant ; le staff peut tout lire.
func (s *Service) Get(ctx context.Context, p models.Principal, paymentID uuid.UUID) (models.Payment, error) {
	var pay models.Payment
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		pay, err = tx.Payment(ctx, paymentID)
		return err
	})
	if err != nil {
		return models.Payment{}, err
	}
	if pay.UserID != p.ID && !p.CanManageOrders() {
		return models.Payment{}, apperr.NotFound("payment")
	}
	return pay, nil
}

func (s *Service) List(ctx context.Context, p models.Principal) ([]models.Payment, error) {
	out := []models.Payment{}
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		list, err := tx.PaymentsByUser(ctx, p.ID)
		if list != nil {
			out = list
		}
		return err
	})
	return out, err
}

func (s *Service) ListRefunds(ctx context.Context, p models.Principal) ([]models.Refund, error) {
	out := []models.Refund{}
	err := s.store.Atomically(ctx, func(tx store.Tx) error {
		list, err := tx.RefundsByUser(ctx, p.ID)
		if list != nil {
			out = list
		}
		return err
	})
	return out, err
}
