package routes

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storefront_back_end/internal/handlers"
	"storefront_back_end/internal/metrics"
	"storefront_back_end/internal/middleware"
)

type Deps struct {
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	JWTSecret   []byte
	CORSOrigins []string
	Limiter     middleware.Counter
	Health      func() map[string]string

	Catalog  *handlers.CatalogHandler
	Cart     *handlers.CartHandler
	Orders   *handlers.OrderHandler
	Payments *handlers.PaymentHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(middleware.Recovery(d.Log), middleware.RequestLogger(d.Log, d.Metrics))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if d.Health != nil {
			body["dependencies"] = d.Health()
		}
		c.JSON(http.StatusOK, body)
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	limit := func(name string, max int64, key middleware.KeyFunc) gin.HandlerFunc {
		return middleware.RateLimit(d.Limiter, name, max, middleware.RateWindow, key, d.Log)
	}
	auth := middleware.AuthRequired(d.JWTSecret, d.Log)

	api := r.Group("/api")
	api.Use(limit("api", middleware.APIMaxRequests, middleware.ByIP))

	// Catalogue public
	api.GET("/products", d.Catalog.List)
	api.GET("/products/:id", d.Catalog.Get)

	// Webhook Stripe : pas d'auth, signature vérifiée
	api.POST("/payments/webhook", d.Payments.Webhook)

	authed := api.Group("")
	authed.Use(auth)

	cart := authed.Group("/cart")
	cart.GET("", d.Cart.Get)
	cart.POST("/add", limit("cart", middleware.CartMaxRequests, middleware.ByUser), d.Cart.Add)
	cart.PATCH("/items/:productId", d.Cart.Update)
	cart.DELETE("/items/:productId", d.Cart.Remove)
	cart.DELETE("", d.Cart.Clear)
	cart.GET("/ws", d.Cart.Socket)

	orders := authed.Group("/orders")
	orders.GET("", d.Orders.List)
	orders.POST("/create", limit("checkout", middleware.CheckoutMaxRequests, middleware.ByUser), d.Orders.Create)
	orders.GET("/:id", d.Orders.Get)
	orders.GET("/:id/receipt", d.Orders.Receipt)
	orders.POST("/:id/cancel", d.Orders.Cancel)
	orders.PATCH("/:id/status", middleware.RequireStaff(), d.Orders.UpdateStatus)

	payments := authed.Group("/payments")
	payments.GET("", d.Payments.List)
	payments.GET("/refunds", d.Payments.ListRefunds)
	payments.GET("/:id", d.Payments.Get)
	payments.POST("/intent", d.Payments.CreateIntent)
	payments.POST("/confirm", d.Payments.Confirm)
	payments.POST("/cash", d.Payments.Cash)
	payments.POST("/refund", d.Payments.Refund)
}
