package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string
	Env         string
	JWTSecret   string
	StoreDriver string
	CORSOrigins []string

	Stripe  StripeConfig
	Pricing PricingConfig
	Scylla  ScyllaConfig
	Redis   RedisConfig
	Elastic ElasticConfig
	MinIO   MinIOConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// PricingConfig alimente la politique de frais de port et de taxe.
type PricingConfig struct {
	ShippingCost decimal.Decimal
	TaxRate      decimal.Decimal
}

type ScyllaConfig struct {
	Hosts      []string
	Keyspace   string
	Username   string
	Password   string
	SSLEnabled bool
	CACertPath string
	Timeout    time.Duration
	NumConns   int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ElasticConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

const (
	StoreScylla = "scylla"
	StoreMemory = "memory"
)

// Load lit le fichier .env s'il existe puis construit la configuration depuis
// les variables d'environnement.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  Aucun fichier .env trouvé — on continue avec les variables d'environnement du système")
	} else {
		log.Println("✅ Fichier .env chargé avec succès")
	}
	return FromEnv()
}

// FromEnv construit la configuration depuis l'environnement du processus uniquement.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		Env:         getenv("APP_ENV", "development"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", StoreScylla)),
		CORSOrigins: splitList(getenv("CORS_ORIGINS", "http://localhost:3000")),
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Currency:      strings.ToLower(getenv("CURRENCY", "usd")),
		},
		Scylla: ScyllaConfig{
			Hosts:      splitList(getenv("SCYLLA_HOSTS", "127.0.0.1")),
			Keyspace:   getenv("SCYLLA_KEYSPACE", "storefront"),
			Username:   os.Getenv("SCYLLA_USERNAME"),
			Password:   os.Getenv("SCYLLA_PASSWORD"),
			SSLEnabled: strings.ToLower(os.Getenv("SCYLLA_SSL_ENABLED")) == "true",
			CACertPath: os.Getenv("SCYLLA_SSL_CA_PATH"),
			Timeout:    5 * time.Second,
			NumConns:   20,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_HOST"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Elastic: ElasticConfig{
			URL:        os.Getenv("ELASTIC_URL"),
			Username:   os.Getenv("ELASTIC_USER"),
			Password:   os.Getenv("ELASTIC_PASSWORD"),
			AuditIndex: getenv("ELASTIC_AUDIT_INDEX", "payment-events"),
		},
		MinIO: MinIOConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
			Bucket:    getenv("MINIO_BUCKET", "receipts"),
		},
	}

	var err error
	if cfg.Pricing.ShippingCost, err = getDecimal("SHIPPING_COST", "10.00"); err != nil {
		return nil, err
	}
	if cfg.Pricing.TaxRate, err = getDecimal("TAX_RATE", "0.10"); err != nil {
		return nil, err
	}
	if cfg.Pricing.ShippingCost.IsNegative() || cfg.Pricing.TaxRate.IsNegative() {
		return nil, fmt.Errorf("SHIPPING_COST et TAX_RATE doivent être positifs")
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		if cfg.Redis.DB, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("REDIS_DB invalide: %w", err)
		}
	}
	if v := os.Getenv("SCYLLA_TIMEOUT"); v != "" {
		if cfg.Scylla.Timeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("SCYLLA_TIMEOUT invalide: %w", err)
		}
	}

	switch cfg.StoreDriver {
	case StoreScylla, StoreMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER inconnu: %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDecimal(key, def string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getenv(key, def))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s invalide: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
