package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Verification states stored under near:turn:{uuid}.
const (
	VerificationPending    = "pending"
	VerificationVerified   = "verified"
	VerificationUnverified = "unverified"
)

// ErrVerificationNotFound is returned when no verification state is cached
// for a turn.
var ErrVerificationNotFound = errors.New("verification state not found")

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// HourlyServeKey is the counter of serves of a creative instance during the
// clock hour containing at.
func HourlyServeKey(creativeInstanceID string, at time.Time) string {
	return fmt.Sprintf("serves:hour:%s:%s", creativeInstanceID, at.UTC().Format("2006010215"))
}

// IncrementHourlyServe bumps the hourly serve counter for a creative instance.
// The key expires shortly after its hour ends.
func (r *RedisStore) IncrementHourlyServe(creativeInstanceID string, at time.Time) (int64, error) {
	key := HourlyServeKey(creativeInstanceID, at)
	val, err := r.Client.Incr(r.Ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 {
		r.Client.Expire(r.Ctx, key, 2*time.Hour)
	}
	return val, nil
}

// IncrementAdEvent increments the daily counter for an event type on a
// creative set. A 24h TTL is applied on first set.
func (r *RedisStore) IncrementAdEvent(creativeSetID, eventType string, at time.Time) error {
	key := fmt.Sprintf("event:%s:set:%s:%s", eventType, creativeSetID, at.UTC().Format("2006-01-02"))
	val, err := r.Client.Incr(r.Ctx, key).Result()
	if err != nil {
		return err
	}
	if val == 1 {
		r.Client.Expire(r.Ctx, key, 24*time.Hour)
	}
	return nil
}

// GetAdEventCount returns the daily counter written by IncrementAdEvent.
func (r *RedisStore) GetAdEventCount(creativeSetID, eventType string, at time.Time) (int64, error) {
	key := fmt.Sprintf("event:%s:set:%s:%s", eventType, creativeSetID, at.UTC().Format("2006-01-02"))
	n, err := r.Client.Get(r.Ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func verificationKey(turnID string) string {
	return "near:turn:" + turnID
}

// SetVerificationState caches the verification state of a turn.
func (r *RedisStore) SetVerificationState(ctx context.Context, turnID, state string, ttl time.Duration) error {
	return r.Client.Set(ctx, verificationKey(turnID), state, ttl).Err()
}

// GetVerificationState returns the cached state of a turn.
func (r *RedisStore) GetVerificationState(ctx context.Context, turnID string) (string, error) {
	state, err := r.Client.Get(ctx, verificationKey(turnID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrVerificationNotFound
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
