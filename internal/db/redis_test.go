package db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	s := miniredis.RunT(t)
	store := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
	t.Cleanup(store.Close)
	return s, store
}

func TestRedisStore_IncrementHourlyServe(t *testing.T) {
	mr, store := setupTestRedis(t)
	at := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	n, err := store.IncrementHourlyServe("ci-1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.IncrementHourlyServe("ci-1", at.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	key := HourlyServeKey("ci-1", at)
	assert.Equal(t, "serves:hour:ci-1:2025031014", key)
	assert.Equal(t, 2*time.Hour, mr.TTL(key))

	// next hour starts a new counter
	n, err = store.IncrementHourlyServe("ci-1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_AdEventCounters(t *testing.T) {
	_, store := setupTestRedis(t)
	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	n, err := store.GetAdEventCount("cs-1", "clicked", at)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, store.IncrementAdEvent("cs-1", "clicked", at))
	require.NoError(t, store.IncrementAdEvent("cs-1", "clicked", at))
	n, err = store.GetAdEventCount("cs-1", "clicked", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisStore_VerificationState(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.GetVerificationState(ctx, "turn-1")
	assert.ErrorIs(t, err, ErrVerificationNotFound)

	require.NoError(t, store.SetVerificationState(ctx, "turn-1", VerificationPending, time.Hour))

	state, err := store.GetVerificationState(ctx, "turn-1")
	require.NoError(t, err)
	assert.Equal(t, VerificationPending, state)

	require.NoError(t, store.SetVerificationState(ctx, "turn-1", VerificationVerified, 24*time.Hour))
	assert.Equal(t, 24*time.Hour, mr.TTL("near:turn:turn-1"))
	state, err = store.GetVerificationState(ctx, "turn-1")
	require.NoError(t, err)
	assert.Equal(t, VerificationVerified, state)
}
