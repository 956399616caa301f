package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront_back_end/internal/models"
	"storefront_back_end/internal/services/payments"
)

const maxWebhookBytes = int64(65536)

type PaymentHandler struct {
	payments *payments.Service
	log      *zap.Logger
}

func NewPaymentHandler(svc *payments.Service, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: svc, log: log}
}

type intentRequest struct {
	OrderID       uuid.UUID `json:"order_id" binding:"required"`
	PaymentMethod string    `json:"payment_method"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

type cashRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
}

type refundRequest struct {
	PaymentID uuid.UUID       `json:"payment_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

func (h *PaymentHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.payments.List(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

func (h *PaymentHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	pay, err := h.payments.Get(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pay)
}

// 💳 POST /api/payments/intent
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "order_id requis")
		return
	}
	method := models.PaymentMethod(req.PaymentMethod)
	if method == "" {
		method = models.MethodCard
	}
	res, err := h.payments.CreateIntent(c.Request.Context(), p, req.OrderID, method)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment":       res.Payment,
		"client_secret": res.ClientSecret,
	})
}

// POST /api/payments/confirm : le client revient du formulaire de paiement
func (h *PaymentHandler) Confirm(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "payment_intent_id requis")
		return
	}
	pay, err := h.payments.Confirm(c.Request.Context(), p, req.PaymentIntentID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, pay)
}

// 💵 POST /api/payments/cash : paiement à la livraison
func (h *PaymentHandler) Cash(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req cashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "order_id requis")
		return
	}
	pay, err := h.payments.ConfirmCash(c.Request.Context(), p, req.OrderID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, pay)
}

// 🔔 POST /api/payments/webhook : aucune auth, la signature fait foi
func (h *PaymentHandler) Webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)

	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Lecture corps échouée")
		return
	}
	if err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// 💸 POST /api/payments/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "payment_id et amount requis")
		return
	}
	rf, err := h.payments.CreateRefund(c.Request.Context(), p, req.PaymentID, req.Amount, req.Reason)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, rf)
}

func (h *PaymentHandler) ListRefunds(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.payments.ListRefunds(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": list})
}
