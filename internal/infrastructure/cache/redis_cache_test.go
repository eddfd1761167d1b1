package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/cache"
)

func newCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client), mr
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	key := repository.StockCacheKey("W1", "P1")

	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, key, []byte(`{"quantity":5}`), time.Minute))
	val, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"quantity":5}`, string(val))
	assert.True(t, mr.Exists("warehouse:stock:W1:P1"), "las claves llevan prefijo")

	require.NoError(t, c.Delete(ctx, key, repository.MovementCacheKey("M1")))
	_, found, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "movement:M1", []byte("x"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, found, err := c.Get(ctx, "movement:M1")
	require.NoError(t, err)
	assert.False(t, found, "la entrada expira")
}

func TestRedisCache_ErrorSiRedisCae(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "movement:M1")
	assert.Error(t, err)
}
