package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"storefront_back_end/internal/cache"
	"storefront_back_end/internal/handlers"
	"storefront_back_end/internal/metrics"
	"storefront_back_end/internal/middleware"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/services/cart"
	"storefront_back_end/internal/services/catalog"
	"storefront_back_end/internal/services/orders"
	"storefront_back_end/internal/services/payments"
	"storefront_back_end/internal/store"
)

const (
	jwtSecret     = "route-test-secret"
	webhookSecret = "whsec_route_test"
)

func init() { gin.SetMode(gin.TestMode) }

type stubGateway struct {
	mu      sync.Mutex
	seq     int
	intents map[string]payments.Intent
}

func (g *stubGateway) CreateCustomer(context.Context, string, string) (string, error) {
	return "cus_1", nil
}

func (g *stubGateway) CustomerExists(context.Context, string) (bool, error) { return true, nil }

func (g *stubGateway) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	in := payments.Intent{
		ID:          fmt.Sprintf("pi_%d", g.seq),
		Status:      payments.IntentRequiresPaymentMethod,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		CustomerID:  req.CustomerID,
		Metadata:    req.Metadata,
	}
	in.ClientSecret = in.ID + "_secret"
	g.intents[in.ID] = in
	return in, nil
}

func (g *stubGateway) RetrieveIntent(_ context.Context, id string) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intents[id], nil
}

func (g *stubGateway) CreateRefund(context.Context, payments.RefundRequest) (payments.GatewayRefund, error) {
	return payments.GatewayRefund{ID: "re_1", Status: payments.GatewayRefundSucceeded}, nil
}

func (g *stubGateway) succeed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.intents[id]
	in.Status = payments.IntentSucceeded
	in.ChargeID = "ch_" + id
	g.intents[id] = in
}

type app struct {
	engine  *gin.Engine
	store   *store.MemoryStore
	gateway *stubGateway
	widget  models.Product
}

func newApp(t *testing.T) *app {
	t.Helper()
	log := zap.NewNop()
	st := store.NewMemoryStore()
	gw := &stubGateway{intents: map[string]payments.Intent{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	widget := st.PutProduct(models.Product{Name: "Widget", Price: decimal.RequireFromString("10.00"), Stock: 5, IsActive: true})

	events := cache.NewLocalCartEvents()
	paySvc := payments.NewService(st, gw, payments.NewStripeVerifier(webhookSecret), "usd", log, payments.WithMetrics(m))
	orderSvc := orders.NewService(st, orders.DefaultPricing, log,
		orders.WithMetrics(m), orders.WithPaymentSync(paySvc), orders.WithCartEvents(events))
	r := gin.New()
	RegisterRoutes(r, Deps{
		Log:         log,
		Metrics:     m,
		Gatherer:    reg,
		JWTSecret:   []byte(jwtSecret),
		CORSOrigins: []string{"http://localhost:3000"},
		Limiter:     middleware.NewLocalCounter(),
		Catalog:     handlers.NewCatalogHandler(catalog.NewService(st, log), log),
		Cart:        handlers.NewCartHandler(cart.NewService(st, log, cart.WithEvents(events)), log),
		Orders:      handlers.NewOrderHandler(orderSvc, nil, log),
		Payments:    handlers.NewPaymentHandler(paySvc, log),
	})
	return &app{engine: r, store: st, gateway: gw, widget: widget}
}

func bearer(t *testing.T, userID string, staff bool) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID:  userID,
		Email:   userID + "@example.com",
		IsStaff: staff,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return tok
}

func (a *app) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var shipping = map[string]string{
	"shipping_address": "1 Market St",
	"shipping_city":    "Springfield",
	"shipping_country": "US",
	"phone_number":     "+1 555 0100",
}

func TestCheckoutAndWebhookFlow(t *testing.T) {
	a := newApp(t)
	alice := bearer(t, "alice", false)

	w := a.do(http.MethodPost, "/api/cart/add", alice, map[string]any{"product_id": a.widget.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/api/orders/create", alice, shipping)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.Order](t, w)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("32.00")), order.Total.String())
	assert.Equal(t, models.OrderPending, order.Status)

	w = a.do(http.MethodPost, "/api/payments/intent", alice, map[string]any{"order_id": order.ID, "payment_method": "card"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	intent := decode[struct {
		Payment      models.Payment `json:"payment"`
		ClientSecret string         `json:"client_secret"`
	}](t, w)
	require.NotEmpty(t, intent.ClientSecret)

	a.gateway.succeed(intent.Payment.GatewayIntentID)
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":%q,"object":"payment_intent","status":"succeeded"}}}`,
		intent.Payment.GatewayIntentID))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w = a.do(http.MethodGet, "/api/orders/"+order.ID.String(), alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderProcessing, decode[models.Order](t, w).Status)

	w = a.do(http.MethodGet, "/api/payments/"+intent.Payment.ID.String(), alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PaymentCompleted, decode[models.Payment](t, w).Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	a := newApp(t)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader([]byte(`{"id":"evt_x"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_signature", decode[map[string]any](t, w)["error"])
}

func TestCheckoutErrorsAreStructured(t *testing.T) {
	a := newApp(t)
	alice := bearer(t, "alice", false)

	w := a.do(http.MethodPost, "/api/orders/create", alice, shipping)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_cart", decode[map[string]any](t, w)["error"])

	w = a.do(http.MethodPost, "/api/cart/add", alice, map[string]any{"product_id": a.widget.ID, "quantity": 6})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "insufficient_stock", body["error"])
	assert.EqualValues(t, 5, body["details"].(map[string]any)["available"])

	w = a.do(http.MethodGet, "/api/products/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, "/api/orders/not-a-uuid", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelAndStaffOnlyStatus(t *testing.T) {
	a := newApp(t)
	alice := bearer(t, "alice", false)
	ops := bearer(t, "ops", true)

	a.do(http.MethodPost, "/api/cart/add", alice, map[string]any{"product_id": a.widget.ID, "quantity": 1})
	order := decode[models.Order](t, a.do(http.MethodPost, "/api/orders/create", alice, shipping))
	path := "/api/orders/" + order.ID.String()

	w := a.do(http.MethodPatch, path+"/status", alice, map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPatch, path+"/status", ops, map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "illegal_transition", decode[map[string]any](t, w)["error"])

	w = a.do(http.MethodPost, path+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderCancelled, decode[models.Order](t, w).Status)

	w = a.do(http.MethodPost, path+"/cancel", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "not_cancellable", decode[map[string]any](t, w)["error"])

	w = a.do(http.MethodGet, path+"/receipt", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicAndAuthBoundaries(t *testing.T) {
	a := newApp(t)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/cart", "", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/products", "", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", nil).Code)

	w := a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storefront_http_request_duration_seconds")
}

func TestCartSocketFollowsCartChanges(t *testing.T) {
	a := newApp(t)
	alice := bearer(t, "alice", false)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/cart/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer " + alice}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/cart/ws", header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg struct {
		Type string `json:"type"`
		Cart *struct {
			Items      []json.RawMessage `json:"items"`
			TotalItems int               `json:"total_items"`
		} `json:"cart"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	w := a.do(http.MethodPost, "/api/cart/add", alice, map[string]any{"product_id": a.widget.ID, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cart_updated", msg.Type)
	require.NotNil(t, msg.Cart)
	assert.Equal(t, 2, msg.Cart.TotalItems)

	w = a.do(http.MethodPost, "/api/orders/create", alice, shipping)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg.Cart = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cart_updated", msg.Type)
	require.NotNil(t, msg.Cart)
	assert.Empty(t, msg.Cart.Items)
	assert.Zero(t, msg.Cart.TotalItems)
}
