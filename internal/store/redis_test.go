package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:", ttl)
	t.Cleanup(func() { _ = s.Close() })

	return mr, s
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, s := setupMiniredis(t, 0)
	ctx := context.Background()

	rec := Record{KeyAddress: "0xabc", KeyState: "start", "count": float64(3)}
	require.NoError(t, s.SaveSession(ctx, "0xabc", rec))
	assert.True(t, mr.Exists("test:0xabc"))

	got, err := s.LoadSession(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRedisStore_LoadMissing(t *testing.T) {
	_, s := setupMiniredis(t, 0)

	got, err := s.LoadSession(context.Background(), "0xmissing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, s := setupMiniredis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, "0xabc", Record{KeyAddress: "0xabc"}))
	assert.Equal(t, time.Hour, mr.TTL("test:0xabc"))

	mr.FastForward(2 * time.Hour)
	got, err := s.LoadSession(ctx, "0xabc")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_Closed(t *testing.T) {
	_, s := setupMiniredis(t, 0)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.LoadSession(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrClosed)
	err = s.SaveSession(context.Background(), "0xabc", Record{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRedisStore_RequiresAddr(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	assert.Error(t, err)
}
