package database

import (
	"context"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gocql/gocql"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storefront_back_end/internal/config"
)

// Connections regroupe les clients ouverts au démarrage. Elastic et MinIO
// sont optionnels et restent nil quand ils ne sont pas configurés.
type Connections struct {
	Scylla  *gocql.Session
	Redis   *redis.Client
	Elastic *elasticsearch.Client
	MinIO   *minio.Client
}

// Connect ouvre Scylla et Redis (obligatoires) puis Elastic et MinIO si
// configurés.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Connections, error) {
	c := &Connections{}

	session, err := ConnectScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("échec initialisation ScyllaDB: %w", err)
	}
	c.Scylla = session
	log.Info("✅ Connecté à ScyllaDB", zap.String("keyspace", cfg.Scylla.Keyspace), zap.Strings("hosts", cfg.Scylla.Hosts))

	if c.Redis, err = ConnectRedis(ctx, cfg.Redis); err != nil {
		c.Close(log)
		return nil, err
	}
	log.Info("✅ Connecté à Redis", zap.String("addr", cfg.Redis.Addr))

	if cfg.Elastic.URL == "" {
		log.Warn("⚠️ ELASTIC_URL absent, audit Elastic désactivé (repli sur les logs)")
	} else if c.Elastic, err = ConnectElastic(cfg.Elastic); err != nil {
		c.Close(log)
		return nil, err
	} else {
		log.Info("✅ Connecté à Elasticsearch", zap.String("url", cfg.Elastic.URL))
	}

	if cfg.MinIO.Endpoint == "" {
		log.Warn("⚠️ MINIO_ENDPOINT absent, archivage des reçus désactivé")
	} else if c.MinIO, err = ConnectMinIO(ctx, cfg.MinIO, log); err != nil {
		c.Close(log)
		return nil, err
	} else {
		log.Info("✅ Connecté à MinIO", zap.String("endpoint", cfg.MinIO.Endpoint))
	}

	log.Info("✅ Toutes les bases de données sont connectées")
	return c, nil
}

func (c *Connections) Close(log *zap.Logger) {
	if c.Scylla != nil {
		c.Scylla.Close()
		log.Info("🔌 Session ScyllaDB fermée")
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn("⚠️ fermeture Redis", zap.Error(err))
		}
	}
}

// Health ping chaque dépendance ouverte.
func (c *Connections) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := func(err error) string {
		if err != nil {
			return "down: " + err.Error()
		}
		return "up"
	}
	out := map[string]string{}
	if c.Scylla != nil {
		out["scylla"] = status(c.Scylla.Query("SELECT now() FROM system.local").WithContext(ctx).Exec())
	}
	if c.Redis != nil {
		out["redis"] = status(c.Redis.Ping(ctx).Err())
	}
	if c.Elastic != nil {
		res, err := c.Elastic.Ping(c.Elastic.Ping.WithContext(ctx))
		if err == nil {
			res.Body.Close()
			if res.IsError() {
				err = fmt.Errorf("%s", res.Status())
			}
		}
		out["elastic"] = status(err)
	}
	if c.MinIO != nil {
		out["minio"] = "up"
		if c.MinIO.IsOffline() {
			out["minio"] = "down"
		}
	}
	return out
}

// =============================================
// SCYLLA DB
// =============================================

func newScyllaCluster(cfg config.ScyllaConfig) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	// Les transactions légères (stock, statuts) restent dans le datacenter local.
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = cfg.Timeout
	cluster.NumConns = cfg.NumConns
	cluster.MaxWaitSchemaAgreement = 30 * time.Second
	cluster.ReconnectInterval = 1 * time.Second

	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	if cfg.SSLEnabled {
		if cfg.CACertPath == "" {
			return nil, fmt.Errorf("SCYLLA_SSL_CA_PATH requis quand SCYLLA_SSL_ENABLED=true")
		}
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 cfg.CACertPath,
			EnableHostVerification: true,
		}
	}

	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster, nil
}

// ConnectScylla ouvre une session sur le keyspace configuré. Les tables sont
// créées à part via scripts/scylladb_init.cql.
func ConnectScylla(cfg config.ScyllaConfig) (*gocql.Session, error) {
	cluster, err := newScyllaCluster(cfg)
	if err != nil {
		return nil, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("erreur création session pour %s: %w", cfg.Keyspace, err)
	}
	return session, nil
}

// =============================================
// REDIS
// =============================================

// ConnectRedis ouvre le client partagé par le panier, les verrous, la
// déduplication des webhooks et la limitation de débit.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("REDIS_HOST non configuré")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("erreur connexion Redis: %w", err)
	}
	return client, nil
}

// =============================================
// ELASTICSEARCH
// =============================================

func ConnectElastic(cfg config.ElasticConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("erreur création client Elasticsearch: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("erreur connexion Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch a répondu %s", res.Status())
	}
	return client, nil
}

// =============================================
// MINIO
// =============================================

func ConnectMinIO(ctx context.Context, cfg config.MinIOConfig, log *zap.Logger) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erreur connexion MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("erreur vérification bucket MinIO: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("erreur création bucket MinIO: %w", err)
		}
		log.Info("🪣 Bucket créé", zap.String("bucket", cfg.Bucket))
	} else {
		log.Info("🪣 Bucket MinIO déjà présent", zap.String("bucket", cfg.Bucket))
	}
	return client, nil
}
