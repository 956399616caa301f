package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/models"
)

// CartStore garde les paniers hors de Scylla ; Redis en production.
type CartStore interface {
	Load(ctx context.Context, userID string) (models.Cart, error)
	Save(ctx context.Context, cart models.Cart) error
	Delete(ctx context.Context, userID string) error
}

const casAttempts = 5

// ScyllaStore projette une unité de travail sur Scylla, qui n'a pas de
// transaction multi-partition. Les écritures gardées (stock, statuts, numéros
// de commande) partent tout de suite en transactions légères et sont
// compensées si l'unité échoue. Les insertions simples sont mises en tampon
// puis appliquées en un batch loggé au commit. Les écritures panier partent
// vers le CartStore après le batch.
type ScyllaStore struct {
	session *gocql.Session
	carts   CartStore
	log     *zap.Logger
}

func NewScyllaStore(session *gocql.Session, carts CartStore, log *zap.Logger) *ScyllaStore {
	return &ScyllaStore{session: session, carts: carts, log: log}
}

var _ Store = (*ScyllaStore)(nil)

func (s *ScyllaStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &scyllaTx{s: s, batch: s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)}

	if err := fn(tx); err != nil {
		tx.compensate()
		return err
	}
	if len(tx.batch.Entries) > 0 {
		if err := s.session.ExecuteBatch(tx.batch); err != nil {
			tx.compensate()
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	for _, op := range tx.carts {
		if err := op.apply(ctx); err != nil {
			if op.required {
				return fmt.Errorf("panier %s: %w", op.userID, err)
			}
			s.log.Warn("⚠️ écriture panier après commit échouée", zap.String("user_id", op.userID), zap.Error(err))
		}
	}
	return nil
}

type cartOp struct {
	userID   string
	required bool
	apply    func(ctx context.Context) error
}

type scyllaTx struct {
	s     *ScyllaStore
	batch *gocql.Batch
	undo  []func(ctx context.Context) error
	carts []cartOp
}

// compensate annule les transactions légères appliquées, dans l'ordre inverse.
// Contexte détaché : une requête annulée remet quand même le stock.
func (t *scyllaTx) compensate() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](ctx); err != nil {
			t.s.log.Error("❌ compensation Scylla échouée", zap.Error(err))
		}
	}
	t.undo = nil
}

func (t *scyllaTx) query(ctx context.Context, stmt string, args ...any) *gocql.Query {
	return t.s.session.Query(stmt, args...).WithContext(ctx)
}

func cql(id uuid.UUID) gocql.UUID { return gocql.UUID(id) }

func notFound(err error, what string) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return apperr.NotFound(what)
	}
	return err
}

// --- produits -------------------------------------------------------------

func scanProduct(scan func(dest ...any) error) (models.Product, error) {
	var (
		p     models.Product
		id    gocql.UUID
		cents int64
	)
	if err := scan(&id, &p.Name, &p.Description, &cents, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.Product{}, err
	}
	p.ID = uuid.UUID(id)
	p.Price = models.FromMinorUnits(cents)
	return p, nil
}

func (t *scyllaTx) Product(ctx context.Context, id uuid.UUID) (models.Product, error) {
	p, err := scanProduct(t.query(ctx, qProductByID, cql(id)).Scan)
	if err != nil {
		return models.Product{}, notFound(err, "product")
	}
	return p, nil
}

func (t *scyllaTx) Products(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	iter := t.query(ctx, qProductsAll).Iter()
	scanner := iter.Scanner()
	out := make([]models.Product, 0)
	for scanner.Next() {
		p, err := scanProduct(scanner.Scan)
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sortProducts(out)
	return out, nil
}

// casStock applique delta par compare-and-set sur le stock courant, en
// réessayant tant qu'un autre écrivain gagne la course.
func (t *scyllaTx) casStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		var (
			name  string
			stock int
		)
		if err := t.query(ctx, qStockOf, cql(id)).Scan(&name, &stock); err != nil {
			return 0, notFound(err, "product")
		}
		next := stock + delta
		if next < 0 {
			return stock, apperr.InsufficientStock(id.String(), name, stock, -delta)
		}

		applied, err := t.query(ctx, qStockCAS, next, time.Now().UTC(), cql(id), stock).MapScanCAS(map[string]any{})
		if err != nil {
			return 0, fmt.Errorf("stock %s: %w", id, err)
		}
		if applied {
			return next, nil
		}
	}
	return 0, apperr.Wrap(apperr.CodeConflict, "stock contention on "+id.String(), nil)
}

func (t *scyllaTx) adjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	left, err := t.casStock(ctx, id, delta)
	if err != nil {
		return left, err
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		_, err := t.casStock(ctx, id, -delta)
		return err
	})
	return left, nil
}

func (t *scyllaTx) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	return t.adjustStock(ctx, id, -qty)
}

func (t *scyllaTx) IncrementStock(ctx context.Context, id uuid.UUID, qty int) (int, error) {
	return t.adjustStock(ctx, id, qty)
}

func (t *scyllaTx) RecordMovement(_ context.Context, m models.StockMovement) error {
	t.batch.Query(qInsertMove, cql(m.ProductID), m.CreatedAt, cql(m.ID), m.Type, m.Quantity, m.NewStock,
		m.Reason, cql(m.OrderID), m.UserID)
	return nil
}

// --- paniers --------------------------------------------------------------

func (t *scyllaTx) Cart(ctx context.Context, userID string) (models.Cart, error) {
	return t.s.carts.Load(ctx, userID)
}

func (t *scyllaTx) SaveCart(_ context.Context, cart models.Cart) error {
	t.carts = append(t.carts, cartOp{userID: cart.UserID, required: true, apply: func(ctx context.Context) error {
		return t.s.carts.Save(ctx, cart)
	}})
	return nil
}

// ClearCart passe après le commit de la commande ; un échec ne laisse qu'un
// panier périmé.
func (t *scyllaTx) ClearCart(_ context.Context, userID string) error {
	t.carts = append(t.carts, cartOp{userID: userID, apply: func(ctx context.Context) error {
		return t.s.carts.Delete(ctx, userID)
	}})
	return nil
}

// --- commandes ------------------------------------------------------------

func (t *scyllaTx) InsertOrder(ctx context.Context, o models.Order) error {
	applied, err := t.query(ctx, qOrderNumberClaim, o.OrderNumber, cql(o.ID)).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("order number %s: %w", o.OrderNumber, err)
	}
	if !applied {
		return apperr.Wrap(apperr.CodeConflict, "duplicate order number", nil)
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		_, err := t.query(ctx, qOrderNumberRelease, o.OrderNumber, cql(o.ID)).MapScanCAS(map[string]any{})
		return err
	})

	sh := o.Shipping
	t.batch.Query(qInsertOrder, cql(o.ID), o.OrderNumber, o.UserID, string(o.Status),
		sh.Address, sh.City, sh.State, sh.ZipCode, sh.Country, sh.PhoneNumber, sh.Notes,
		models.ToMinorUnits(o.Subtotal), models.ToMinorUnits(o.ShippingCost),
		models.ToMinorUnits(o.Tax), models.ToMinorUnits(o.Total), o.CreatedAt, o.UpdatedAt)
	for i, it := range o.Items {
		t.batch.Query(qInsertOrderItem, cql(o.ID), i, cql(it.ProductID), it.ProductName,
			models.ToMinorUnits(it.ProductPrice), it.Quantity, models.ToMinorUnits(it.Subtotal))
	}
	t.batch.Query(qInsertOrderByUser, o.UserID, o.CreatedAt, cql(o.ID))
	return nil
}

func (t *scyllaTx) Order(ctx context.Context, id uuid.UUID) (models.Order, error) {
	var (
		o                              models.Order
		oid                            gocql.UUID
		status                         string
		subtotal, shipping, tax, total int64
	)
	sh := &o.Shipping
	err := t.query(ctx, qOrderByID, cql(id)).Scan(&oid, &o.OrderNumber, &o.UserID, &status,
		&sh.Address, &sh.City, &sh.State, &sh.ZipCode, &sh.Country, &sh.PhoneNumber, &sh.Notes,
		&subtotal, &shipping, &tax, &total, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Order{}, notFound(err, "order")
	}
	o.ID = uuid.UUID(oid)
	o.Status = models.OrderStatus(status)
	o.Subtotal = models.FromMinorUnits(subtotal)
	o.ShippingCost = models.FromMinorUnits(shipping)
	o.Tax = models.FromMinorUnits(tax)
	o.Total = models.FromMinorUnits(total)

	iter := t.query(ctx, qOrderItems, cql(id)).Iter()
	var (
		pid        gocql.UUID
		name       string
		price, sub int64
		qty        int
	)
	o.Items = make([]models.OrderItem, 0)
	for iter.Scan(&pid, &name, &price, &qty, &sub) {
		o.Items = append(o.Items, models.OrderItem{
			ProductID:    uuid.UUID(pid),
			ProductName:  name,
			ProductPrice: models.FromMinorUnits(price),
			Quantity:     qty,
			Subtotal:     models.FromMinorUnits(sub),
		})
	}
	if err := iter.Close(); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

func (t *scyllaTx) OrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	ids, err := t.ids(ctx, qOrdersByUser, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := t.Order(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (t *scyllaTx) SetOrderStatus(ctx context.Context, id uuid.UUID, from, to models.OrderStatus) (bool, error) {
	prev := map[string]any{}
	applied, err := t.query(ctx, qOrderStatusCAS, string(to), time.Now().UTC(), cql(id), string(from)).MapScanCAS(prev)
	if err != nil {
		return false, fmt.Errorf("order status %s: %w", id, err)
	}
	if !applied {
		if current, _ := prev["status"].(string); current == "" {
			return false, apperr.NotFound("order")
		}
		return false, nil
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		_, err := t.query(ctx, qOrderStatusCAS, string(from), time.Now().UTC(), cql(id), string(to)).MapScanCAS(map[string]any{})
		return err
	})
	return true, nil
}

// ids lit une colonne uuid d'une table d'index.
func (t *scyllaTx) ids(ctx context.Context, stmt string, args ...any) ([]uuid.UUID, error) {
	iter := t.query(ctx, stmt, args...).Iter()
	var (
		id  gocql.UUID
		out []uuid.UUID
	)
	for iter.Scan(&id) {
		out = append(out, uuid.UUID(id))
	}
	return out, iter.Close()
}

// --- paiements ------------------------------------------------------------

func scanPayment(scan func(dest ...any) error) (models.Payment, error) {
	var (
		p           models.Payment
		id, orderID gocql.UUID
		method      string
		status      string
		cents       int64
		paidAt      time.Time
	)
	err := scan(&id, &orderID, &p.UserID, &method, &status, &cents, &p.Currency,
		&p.GatewayIntentID, &p.GatewayCustomerID, &p.TransactionID, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt, &paidAt)
	if err != nil {
		return models.Payment{}, err
	}
	p.ID = uuid.UUID(id)
	p.OrderID = uuid.UUID(orderID)
	p.Method = models.PaymentMethod(method)
	p.Status = models.PaymentStatus(status)
	p.Amount = models.FromMinorUnits(cents)
	if !paidAt.IsZero() {
		p.PaidAt = &paidAt
	}
	return p, nil
}

func (t *scyllaTx) InsertPayment(_ context.Context, p models.Payment) error {
	t.batch.Query(qInsertPayment, cql(p.ID), cql(p.OrderID), p.UserID, string(p.Method), string(p.Status),
		models.ToMinorUnits(p.Amount), p.Currency, p.GatewayIntentID, p.GatewayCustomerID,
		p.TransactionID, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.PaidAt)
	t.batch.Query(qInsertPaymentByOrd, cql(p.OrderID), p.CreatedAt, cql(p.ID))
	t.batch.Query(qInsertPaymentByUser, p.UserID, p.CreatedAt, cql(p.ID))
	if p.GatewayIntentID != "" {
		t.batch.Query(qInsertPaymentByInt, p.GatewayIntentID, cql(p.ID))
	}
	if p.GatewayCustomerID != "" {
		t.batch.Query(qUpsertCustomer, p.UserID, p.GatewayCustomerID, p.UpdatedAt)
	}
	return nil
}

func (t *scyllaTx) Payment(ctx context.Context, id uuid.UUID) (models.Payment, error) {
	p, err := scanPayment(t.query(ctx, qPaymentByID, cql(id)).Scan)
	if err != nil {
		return models.Payment{}, notFound(err, "payment")
	}
	return p, nil
}

func (t *scyllaTx) paymentVia(ctx context.Context, stmt string, key any) (models.Payment, error) {
	var id gocql.UUID
	if err := t.query(ctx, stmt, key).Scan(&id); err != nil {
		return models.Payment{}, notFound(err, "payment")
	}
	return t.Payment(ctx, uuid.UUID(id))
}

func (t *scyllaTx) PaymentByOrder(ctx context.Context, orderID uuid.UUID) (models.Payment, error) {
	return t.paymentVia(ctx, qLatestPaymentOfOrd, cql(orderID))
}

func (t *scyllaTx) PaymentByIntent(ctx context.Context, intentID string) (models.Payment, error) {
	if intentID == "" {
		return models.Payment{}, apperr.NotFound("payment")
	}
	return t.paymentVia(ctx, qPaymentOfIntent, intentID)
}

func (t *scyllaTx) PaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	ids, err := t.ids(ctx, qPaymentsOfUser, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := t.Payment(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *scyllaTx) UpdatePayment(ctx context.Context, p models.Payment, expected models.PaymentStatus) (bool, error) {
	prev, err := t.Payment(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if prev.Status != expected {
		return false, nil
	}

	applied, err := t.query(ctx, qPaymentCAS, string(p.Status), p.TransactionID, p.FailureReason,
		p.UpdatedAt, p.PaidAt, cql(p.ID), string(expected)).MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("payment status %s: %w", p.ID, err)
	}
	if !applied {
		return false, nil
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		_, err := t.query(ctx, qPaymentCAS, string(prev.Status), prev.TransactionID, prev.FailureReason,
			prev.UpdatedAt, prev.PaidAt, cql(prev.ID), string(p.Status)).MapScanCAS(map[string]any{})
		return err
	})
	return true, nil
}

func (t *scyllaTx) CustomerID(ctx context.Context, userID string) (string, error) {
	var id string
	err := t.query(ctx, qCustomerOfUser, userID).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", nil
	}
	return id, err
}

// --- remboursements -------------------------------------------------------

func scanRefund(scan func(dest ...any) error) (models.Refund, error) {
	var (
		r             models.Refund
		paymentID, id gocql.UUID
		status        string
		cents         int64
		processedAt   time.Time
	)
	err := scan(&paymentID, &id, &r.UserID, &cents, &r.Reason, &status, &r.GatewayRefundID,
		&r.CreatedAt, &r.UpdatedAt, &processedAt)
	if err != nil {
		return models.Refund{}, err
	}
	r.ID = uuid.UUID(id)
	r.PaymentID = uuid.UUID(paymentID)
	r.Status = models.RefundStatus(status)
	r.Amount = models.FromMinorUnits(cents)
	if !processedAt.IsZero() {
		r.ProcessedAt = &processedAt
	}
	return r, nil
}

func (t *scyllaTx) upsertRefund(r models.Refund) {
	t.batch.Query(qUpsertRefund, cql(r.PaymentID), cql(r.ID), r.UserID, models.ToMinorUnits(r.Amount),
		r.Reason, string(r.Status), r.GatewayRefundID, r.CreatedAt, r.UpdatedAt, r.ProcessedAt)
}

func (t *scyllaTx) InsertRefund(ctx context.Context, r models.Refund) error {
	var id gocql.UUID
	err := t.query(ctx, qRefundExists, cql(r.PaymentID), cql(r.ID)).Scan(&id)
	if err == nil {
		return apperr.Wrap(apperr.CodeConflict, "refund already exists", nil)
	}
	if !errors.Is(err, gocql.ErrNotFound) {
		return err
	}
	t.upsertRefund(r)
	t.batch.Query(qInsertRefUsr, r.UserID, r.CreatedAt, cql(r.ID), cql(r.PaymentID))
	return nil
}

func (t *scyllaTx) UpdateRefund(ctx context.Context, r models.Refund) error {
	var id gocql.UUID
	if err := t.query(ctx, qRefundExists, cql(r.PaymentID), cql(r.ID)).Scan(&id); err != nil {
		return notFound(err, "refund")
	}
	t.upsertRefund(r)
	return nil
}

func (t *scyllaTx) RefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	iter := t.query(ctx, qRefundsOfPay, cql(paymentID)).Iter()
	scanner := iter.Scanner()
	var out []models.Refund
	for scanner.Next() {
		r, err := scanRefund(scanner.Scan)
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sortRefundsOldestFirst(out)
	return out, nil
}

func (t *scyllaTx) RefundsByUser(ctx context.Context, userID string) ([]models.Refund, error) {
	iter := t.query(ctx, qRefundsOfUsr, userID).Iter()
	var (
		paymentID, refundID gocql.UUID
		keys                [][2]gocql.UUID
	)
	for iter.Scan(&paymentID, &refundID) {
		keys = append(keys, [2]gocql.UUID{paymentID, refundID})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([]models.Refund, 0, len(keys))
	for _, k := range keys {
		r, err := scanRefund(t.query(ctx, qRefundOne, k[0], k[1]).Scan)
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
