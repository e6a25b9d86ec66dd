package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "vkflow:token:"

func setupRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: testPrefix})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStorage(t *testing.T) {
	s, mr := setupRedisStorage(t)
	exerciseStorage(t, s)
	assert.False(t, mr.Exists(testPrefix+testKey))
}

func TestRedisStorageTTLFollowsExpiry(t *testing.T) {
	s, mr := setupRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testKey, New(testValue, time.Hour, nil)))
	ttl := mr.TTL(testPrefix + testKey)
	assert.Greater(t, ttl, 59*time.Minute)

	mr.FastForward(2 * time.Hour)
	_, err := s.Load(ctx, testKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageNeverExpiringHasNoTTL(t *testing.T) {
	s, mr := setupRedisStorage(t)

	require.NoError(t, s.Save(context.Background(), testKey, New(testValue, 0, nil)))
	assert.Equal(t, time.Duration(0), mr.TTL(testPrefix+testKey))
}

func TestRedisStorageAlreadyExpiredIsRemoved(t *testing.T) {
	s, mr := setupRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testKey, New(testValue, 0, nil)))
	expired := &Token{Value: testValue, ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.Save(ctx, testKey, expired))
	assert.False(t, mr.Exists(testPrefix+testKey))
}

func TestNewRedisStorageUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStorage(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}
