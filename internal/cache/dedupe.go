package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper retient les ids d'événements webhook traités. Le marquage a lieu
// après un traitement réussi : une livraison en échec est renvoyée par la passerelle.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

const EventTTL = 72 * time.Hour

type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: EventTTL}
}

func eventKey(id string) string { return "webhook:evt:" + id }

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.rdb.Exists(ctx, eventKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, eventKey(id), "1", d.ttl).Err()
}

type LocalDeduper struct {
	seen sync.Map
}

func NewLocalDeduper() *LocalDeduper { return &LocalDeduper{} }

func (d *LocalDeduper) Seen(_ context.Context, id string) (bool, error) {
	_, ok := d.seen.Load(id)
	return ok, nil
}

func (d *LocalDeduper) Mark(_ context.Context, id string) error {
	d.seen.Store(id, struct{}{})
	return nil
}
