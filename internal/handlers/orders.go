package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront_back_end/internal/apperr"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/services/orders"
)

// ReceiptLinker signe un lien de téléchargement vers un reçu archivé.
type ReceiptLinker interface {
	URL(ctx context.Context, order models.Order, expiry time.Duration) (string, error)
}

type OrderHandler struct {
	orders   *orders.Service
	receipts ReceiptLinker
	log      *zap.Logger
}

// NewOrderHandler accepte un receipts nil : la route du reçu répond alors 404.
func NewOrderHandler(svc *orders.Service, receipts ReceiptLinker, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: svc, receipts: receipts, log: log}
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ✅ Récupère toutes les commandes de l'utilisateur connecté
func (h *OrderHandler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.orders.List(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *OrderHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Get(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// 🛒 POST /api/orders/create : transforme le panier en commande
func (h *OrderHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var ship models.ShippingInfo
	if err := c.ShouldBindJSON(&ship); err != nil {
		badRequest(c, "Informations de livraison invalides")
		return
	}
	o, err := h.orders.Checkout(c.Request.Context(), p, ship)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.Cancel(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// PATCH /api/orders/:id/status (personnel uniquement)
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status requis")
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), p, id, models.OrderStatus(req.Status))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// 🧾 GET /api/orders/:id/receipt : lien signé valable 15 minutes
func (h *OrderHandler) Receipt(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if h.receipts == nil {
		respondError(c, h.log, apperr.NotFound("receipt"))
		return
	}
	o, err := h.orders.Get(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	const expiry = 15 * time.Minute
	url, err := h.receipts.URL(c.Request.Context(), o, expiry)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_at": time.Now().UTC().Add(expiry),
	})
}
