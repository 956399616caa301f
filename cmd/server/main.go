package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront_back_end/internal/cache"
	"storefront_back_end/internal/config"
	"storefront_back_end/internal/database"
	"storefront_back_end/internal/handlers"
	"storefront_back_end/internal/logger"
	"storefront_back_end/internal/metrics"
	"storefront_back_end/internal/middleware"
	"storefront_back_end/internal/models"
	"storefront_back_end/internal/routes"
	"storefront_back_end/internal/services/audit"
	"storefront_back_end/internal/services/cart"
	"storefront_back_end/internal/services/catalog"
	"storefront_back_end/internal/services/orders"
	"storefront_back_end/internal/services/payments"
	"storefront_back_end/internal/services/receipts"
	"storefront_back_end/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Configuration invalide: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("❌ Logger: %v", err)
	}
	defer zl.Sync()

	if cfg.Stripe.SecretKey == "" {
		zl.Fatal("❌ Impossible d'initialiser Stripe : clé manquante")
	}
	if cfg.JWTSecret == "" {
		zl.Fatal("❌ JWT_SECRET manquant")
	}
	if cfg.Stripe.WebhookSecret == "" {
		zl.Warn("⚠️ STRIPE_WEBHOOK_SECRET absent, tous les webhooks seront rejetés")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		st       store.Store
		conns                       = &database.Connections{}
		locker   cache.Locker       = cache.NewLocalLocker()
		deduper  cache.Deduper      = cache.NewLocalDeduper()
		limiter  middleware.Counter = middleware.NewLocalCounter()
		events   cache.CartEvents   = cache.NewLocalCartEvents()
		auditor  payments.Auditor   = audit.NewLogRecorder(zl)
		archiver *receipts.MinIOArchiver
	)

	switch cfg.StoreDriver {
	case config.StoreMemory:
		mem := store.NewMemoryStore()
		seedDemoCatalog(mem)
		st = mem
		zl.Warn("⚠️ Store mémoire actif : données perdues au redémarrage")
	default:
		if conns, err = database.Connect(ctx, cfg, zl); err != nil {
			zl.Fatal("❌ Connexion aux bases impossible", zap.Error(err))
		}
		defer conns.Close(zl)

		st = store.NewScyllaStore(conns.Scylla, cache.NewRedisCarts(conns.Redis), zl)
		locker = cache.NewRedisLocker(conns.Redis)
		deduper = cache.NewRedisDeduper(conns.Redis)
		limiter = middleware.NewRedisCounter(conns.Redis)
		events = cache.NewRedisCartEvents(conns.Redis)

		if conns.Elastic != nil {
			auditor = audit.NewElasticRecorder(conns.Elastic, cfg.Elastic.AuditIndex)
		}
		if conns.MinIO != nil {
			archiver = receipts.NewMinIOArchiver(conns.MinIO, cfg.MinIO.Bucket)
			if _, err := conns.MinIO.HealthCheck(30 * time.Second); err != nil {
				zl.Warn("⚠️ Health check MinIO non démarré", zap.Error(err))
			}
		}
	}

	gateway := payments.NewStripeGateway(cfg.Stripe.SecretKey)
	zl.Info("✅ Stripe initialisé", zap.String("currency", cfg.Stripe.Currency))

	catalogSvc := catalog.NewService(st, zl)
	cartSvc := cart.NewService(st, zl, cart.WithEvents(events))

	paymentSvc := payments.NewService(st, gateway, payments.NewStripeVerifier(cfg.Stripe.WebhookSecret), cfg.Stripe.Currency, zl,
		payments.WithLocker(locker),
		payments.WithDeduper(deduper),
		payments.WithAuditor(auditor),
		payments.WithMetrics(m),
	)

	orderOpts := []orders.Option{
		orders.WithMetrics(m),
		orders.WithLocker(locker),
		orders.WithPaymentSync(paymentSvc),
		orders.WithCartEvents(events),
	}
	var linker handlers.ReceiptLinker
	if archiver != nil {
		orderOpts = append(orderOpts, orders.WithReceipts(archiver))
		linker = archiver
	}
	orderSvc := orders.NewService(st, orders.NewFlatPricing(cfg.Pricing), zl, orderOpts...)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	routes.RegisterRoutes(r, routes.Deps{
		Log:         zl,
		Metrics:     m,
		Gatherer:    reg,
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Health:      func() map[string]string { return conns.Health(context.Background()) },
		Catalog:     handlers.NewCatalogHandler(catalogSvc, zl),
		Cart:        handlers.NewCartHandler(cartSvc, zl),
		Orders:      handlers.NewOrderHandler(orderSvc, linker, zl),
		Payments:    handlers.NewPaymentHandler(paymentSvc, zl),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zl.Info("🚀 Serveur storefront lancé", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("❌ Serveur HTTP", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("🛑 Arrêt demandé, fermeture des connexions")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("❌ Arrêt du serveur", zap.Error(err))
	}
}

func seedDemoCatalog(mem *store.MemoryStore) {
	demo := []models.Product{
		{Name: "Mug émaillé", Description: "Mug 35 cl, émail blanc", Price: decimal.RequireFromString("12.50"), Stock: 40},
		{Name: "Carnet A5", Description: "Carnet pointillé, 160 pages", Price: decimal.RequireFromString("9.90"), Stock: 120},
		{Name: "Sac en toile", Description: "Coton bio, anses longues", Price: decimal.RequireFromString("15.00"), Stock: 25},
	}
	for _, p := range demo {
		p.IsActive = true
		mem.PutProduct(p)
	}
}
