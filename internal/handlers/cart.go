package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storefront_back_end/internal/services/cart"
)

type CartHandler struct {
	carts *cart.Service
	log   *zap.Logger
}

func NewCartHandler(carts *cart.Service, log *zap.Logger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

type addToCartRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

type updateCartRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// 🟢 GET /api/cart
func (h *CartHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	view, err := h.carts.Get(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// 🟢 POST /api/cart/add
func (h *CartHandler) Add(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Requête invalide: product_id et quantity (≥ 1) requis")
		return
	}
	view, err := h.carts.Add(c.Request.Context(), p.ID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// 🟡 PATCH /api/cart/items/:productId
func (h *CartHandler) Update(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	var req updateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Requête invalide: quantity (≥ 1) requis")
		return
	}
	view, err := h.carts.Update(c.Request.Context(), p.ID, productID, req.Quantity)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// 🔴 DELETE /api/cart/items/:productId
func (h *CartHandler) Remove(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	productID, ok := uuidParam(c, "productId")
	if !ok {
		return
	}
	view, err := h.carts.Remove(c.Request.Context(), p.ID, productID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// 🔴 DELETE /api/cart
func (h *CartHandler) Clear(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.carts.Clear(c.Request.Context(), p.ID); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const cartPingInterval = 30 * time.Second

var cartUpgrader = websocket.Upgrader{
	// les origines sont déjà filtrées par le middleware CORS
	CheckOrigin: func(r *http.Request) bool { return true },
}

type cartMessage struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"`
	Cart    *cart.View `json:"cart,omitempty"`
}

// 🔄 GET /api/cart/ws
func (h *CartHandler) Socket(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, stop, err := h.carts.Watch(ctx, p.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer stop()

	conn, err := cartUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("❌ upgrade WebSocket échoué", zap.String("user_id", p.ID), zap.Error(err))
		return
	}
	defer conn.Close()

	// le client n'envoie rien ; la lecture sert à détecter la fermeture
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(cartMessage{Type: "connected", Message: "Synchronisation panier activée"}); err != nil {
		return
	}
	h.log.Debug("🔌 WebSocket panier ouvert", zap.String("user_id", p.ID))

	ping := time.NewTicker(cartPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case _, open := <-events:
			if !open {
				return
			}
			view, err := h.carts.Get(ctx, p.ID)
			if err != nil {
				h.log.Warn("⚠️ lecture panier pour WebSocket échouée", zap.String("user_id", p.ID), zap.Error(err))
				continue
			}
			if err := conn.WriteJSON(cartMessage{Type: "cart_updated", Cart: &view}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
