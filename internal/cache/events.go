package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CartEvent est la notification publiée sur le canal cart:<user_id>.
type CartEvent string

const (
	CartUpdated CartEvent = "updated"
	CartCleared CartEvent = "cleared"
)

// CartEvents diffuse les changements de panier aux sessions ouvertes de
// l'utilisateur. La fonction retournée par Subscribe ferme l'abonnement.
type CartEvents interface {
	Publish(ctx context.Context, userID string, ev CartEvent) error
	Subscribe(ctx context.Context, userID string) (<-chan CartEvent, func(), error)
}

const cartEventBuffer = 16

func cartChannel(userID string) string { return "cart:" + userID }

// RedisCartEvents passe par le pub/sub Redis pour que toutes les instances
// voient les changements.
type RedisCartEvents struct {
	rdb *redis.Client
}

func NewRedisCartEvents(rdb *redis.Client) *RedisCartEvents {
	return &RedisCartEvents{rdb: rdb}
}

func (e *RedisCartEvents) Publish(ctx context.Context, userID string, ev CartEvent) error {
	return e.rdb.Publish(ctx, cartChannel(userID), string(ev)).Err()
}

func (e *RedisCartEvents) Subscribe(ctx context.Context, userID string) (<-chan CartEvent, func(), error) {
	pubsub := e.rdb.Subscribe(ctx, cartChannel(userID))
	// attendre la confirmation, sinon les premiers messages sont perdus
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("abonnement %s: %w", cartChannel(userID), err)
	}

	out := make(chan CartEvent, cartEventBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- CartEvent(msg.Payload):
			default:
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }, nil
}

// LocalCartEvents est la version mono-processus utilisée avec le store mémoire.
type LocalCartEvents struct {
	mu   sync.Mutex
	subs map[string]map[chan CartEvent]struct{}
}

func NewLocalCartEvents() *LocalCartEvents {
	return &LocalCartEvents{subs: make(map[string]map[chan CartEvent]struct{})}
}

func (e *LocalCartEvents) Publish(_ context.Context, userID string, ev CartEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs[userID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (e *LocalCartEvents) Subscribe(_ context.Context, userID string) (<-chan CartEvent, func(), error) {
	ch := make(chan CartEvent, cartEventBuffer)
	e.mu.Lock()
	if e.subs[userID] == nil {
		e.subs[userID] = make(map[chan CartEvent]struct{})
	}
	e.subs[userID][ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs[userID], ch)
			if len(e.subs[userID]) == 0 {
				delete(e.subs, userID)
			}
			e.mu.Unlock()
			close(ch)
		})
	}, nil
}
