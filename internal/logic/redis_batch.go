package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/redis/go-redis/v9"
)

// BatchPerHourCheck reads the hourly serve counters of all capped creatives
// in one pipeline. The result maps creative instance IDs to true when the
// cap is reached; uncapped creatives are absent.
func BatchPerHourCheck(store *db.RedisStore, ads []models.CreativeAd, now time.Time) (map[string]bool, error) {
	if store == nil || store.Client == nil {
		return nil, ErrNilRedisStore
	}

	result := make(map[string]bool)
	pipe := store.Client.Pipeline()
	commands := make(map[string]*redis.StringCmd)
	caps := make(map[string]int)

	for _, ad := range ads {
		if ad.PerHour <= 0 {
			continue
		}
		if _, seen := commands[ad.CreativeInstanceID]; seen {
			continue
		}
		commands[ad.CreativeInstanceID] = pipe.Get(store.Ctx, db.HourlyServeKey(ad.CreativeInstanceID, now))
		caps[ad.CreativeInstanceID] = ad.PerHour
	}
	if len(commands) == 0 {
		return result, nil
	}

	_, err := pipe.Exec(store.Ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipeline exec failed: %w", err)
	}

	for id, cmd := range commands {
		count, err := cmd.Int64()
		if err != nil {
			count = 0 // missing key or fail open
		}
		result[id] = count >= int64(caps[id])
	}
	return result, nil
}
