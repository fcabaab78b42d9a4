package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/domain"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client), mr
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)

	ctx := context.Background()
	userID := "user123"

	cart := &domain.Cart{
		UserID: userID,
		Items: []domain.CartItem{
			{ProductID: "p1", Quantity: 2, UnitPriceAtAdd: 100},
			{ProductID: "p2", Quantity: 3, UnitPriceAtAdd: 50},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	cart.DeriveTotals()

	cartJSON, _ := json.Marshal(cart)
	mr.Set(cacheKey(userID), string(cartJSON))

	result, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, result.UserID)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 350.0, result.Subtotal)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSet_ThenGet(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	cart := &domain.Cart{
		UserID: "user123",
		Items:  []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPriceAtAdd: 20}},
	}
	cart.DeriveTotals()

	require.NoError(t, cache.Set(ctx, "user123", cart))

	got, err := cache.Get(ctx, "user123")
	require.NoError(t, err)
	assert.Equal(t, cart.Total, got.Total)
}

func TestDelete_RemovesEntry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	cart := &domain.Cart{UserID: "user123"}
	require.NoError(t, cache.Set(ctx, "user123", cart))
	require.NoError(t, cache.Delete(ctx, "user123"))

	assert.False(t, mr.Exists(cacheKey("user123")))
	_, err := cache.Get(ctx, "user123")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
