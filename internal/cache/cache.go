package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront_back_end/internal/models"
)

const CartTTL = 30 * 24 * time.Hour

// RedisCarts stocke un document JSON par utilisateur sous cart:<user_id>.
type RedisCarts struct {
	rdb *redis.Client
}

func NewRedisCarts(rdb *redis.Client) *RedisCarts {
	return &RedisCarts{rdb: rdb}
}

func cartKey(userID string) string { return "cart:" + userID }

func (c *RedisCarts) Load(ctx context.Context, userID string) (models.Cart, error) {
	data, err := c.rdb.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return models.Cart{}, fmt.Errorf("lecture panier %s: %w", userID, err)
	}

	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return models.Cart{}, fmt.Errorf("décodage panier %s: %w", userID, err)
	}
	cart.UserID = userID
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return cart, nil
}

func (c *RedisCarts) Save(ctx context.Context, cart models.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cartKey(cart.UserID), data, CartTTL).Err()
}

func (c *RedisCarts) Delete(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, cartKey(userID)).Err()
}
