package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	APIMaxRequests      = 100 // par minute pour les endpoints généraux
	CheckoutMaxRequests = 10
	CartMaxRequests     = 20
	RateWindow          = time.Minute
)

// Counter incrémente un compteur fenêtré et renvoie la nouvelle valeur.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter { return &RedisCounter{rdb: rdb} }

func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// LocalCounter : repli mono-processus.
type LocalCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]bucket
}

type bucket struct {
	count   int64
	resetAt time.Time
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{now: time.Now, buckets: make(map[string]bucket)}
}

func (l *LocalCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b := l.buckets[key]
	if !now.Before(b.resetAt) {
		b = bucket{resetAt: now.Add(window)}
	}
	b.count++
	l.buckets[key] = b
	return b.count, nil
}

// KeyFunc extrait le sujet limité d'une requête.
type KeyFunc func(c *gin.Context) string

func ByIP(c *gin.Context) string { return c.ClientIP() }

// ByUser se rabat sur l'IP du client pour les appelants anonymes.
func ByUser(c *gin.Context) string {
	if p, ok := PrincipalFrom(c); ok {
		return "user:" + p.ID
	}
	return c.ClientIP()
}

// RateLimit limite à max requêtes par fenêtre et par sujet. Une panne du
// compteur laisse passer la requête.
func RateLimit(counter Counter, name string, max int64, window time.Duration, key KeyFunc, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := counter.Incr(c.Request.Context(), "ratelimit:"+name+":"+key(c), window)
		if err != nil {
			log.Warn("⚠️ Rate limit indisponible", zap.String("limit", name), zap.Error(err))
			c.Next()
			return
		}

		remaining := max - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(max, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if n > max {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     "Trop de requêtes. Réessayez plus tard",
				"retry_after": int(window.Seconds()),
			})
			return
		}
		c.Next()
	}
}
