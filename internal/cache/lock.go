package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker sérialise le travail sur une clé entre requêtes. La fonction retournée
// libère le verrou.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var ErrLockTimeout = errors.New("lock timeout")

const (
	lockTTL       = 30 * time.Second
	lockRetry     = 50 * time.Millisecond
	lockMaxWait   = 10 * time.Second
	lockKeyPrefix = "lock:"
)

// unlockScript ne supprime la clé que si elle porte encore notre jeton.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := lockKeyPrefix + key

	ctx, cancel := context.WithTimeout(ctx, lockMaxWait)
	defer cancel()

	ticker := time.NewTicker(lockRetry)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, full, token, lockTTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("verrou %s: %w", key, err)
		}
		if ok {
			return func() {
				// contexte détaché : la requête peut déjà être annulée
				_ = unlockScript.Run(context.Background(), l.rdb, []string{full}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("verrou %s: %w", key, ErrLockTimeout)
		case <-ticker.C:
		}
	}
}

// LocalLocker : verrou mono-processus utilisé avec le store mémoire.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("verrou %s: %w", key, ErrLockTimeout)
	}
}
