package logic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HasExceededHourlyCap returns true if the creative instance was already
// served PerHour times during the current hour. Creatives without a per-hour
// cap never exceed it.
func HasExceededHourlyCap(store *db.RedisStore, ad models.CreativeAd, now time.Time) (bool, error) {
	if store == nil || store.Client == nil {
		return false, ErrNilRedisStore
	}
	if ad.PerHour <= 0 {
		return false, nil
	}

	val, err := store.Client.Get(store.Ctx, db.HourlyServeKey(ad.CreativeInstanceID, now)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		zap.L().Error("redis hourly cap", zap.Error(err))
		// fail open: allow the ad if Redis is down or slow
		return false, nil
	}
	return val >= int64(ad.PerHour), nil
}

// RecordHourlyServe counts a serve towards the creative's per-hour cap.
// This should be called AFTER successful ad serving, not during filtering.
func RecordHourlyServe(store *db.RedisStore, ad models.CreativeAd, now time.Time) error {
	if store == nil || store.Client == nil {
		return ErrNilRedisStore
	}
	if ad.PerHour <= 0 {
		return nil
	}
	if _, err := store.IncrementHourlyServe(ad.CreativeInstanceID, now); err != nil {
		zap.L().Error("failed to increment hourly serves", zap.Error(err))
		return err
	}
	return nil
}

// EventWindow is how far back individual ad events are needed: the per-week
// cap window. Recency scoring saturates after a day, and totals and flags
// are read from an aggregate over the retention period instead.
const EventWindow = 7 * 24 * time.Hour

// LoadAdHistory reads the individual events of the last EventWindow and a
// summary of everything within retention. A retention <= 0 summarizes the
// whole history.
func LoadAdHistory(ctx context.Context, store db.AdEventStore, now time.Time, retention time.Duration) ([]models.AdEvent, models.AdHistorySummary, error) {
	window := EventWindow
	if retention > 0 && retention < window {
		window = retention
	}
	events, err := store.GetAdEventsSince(ctx, now.Add(-window))
	if err != nil {
		return nil, models.AdHistorySummary{}, fmt.Errorf("load ad events: %w", err)
	}
	var since time.Time
	if retention > 0 {
		since = now.Add(-retention)
	}
	summary, err := store.SummarizeAdEventsSince(ctx, since)
	if err != nil {
		return nil, models.AdHistorySummary{}, fmt.Errorf("summarize ad events: %w", err)
	}
	return events, summary, nil
}

// CapCounts are served counts for one creative set over the rolling windows
// used by frequency caps.
type CapCounts struct {
	Day   int
	Week  int
	Total int
}

// CountServedByCreativeSet tallies served events per creative set. Day and
// week are rolling windows ending at now.
func CountServedByCreativeSet(events []models.AdEvent, now time.Time) map[string]CapCounts {
	dayStart := now.Add(-24 * time.Hour)
	weekStart := now.Add(-EventWindow)
	counts := make(map[string]CapCounts)
	for _, e := range events {
		if e.Type != models.ConfirmationServed {
			continue
		}
		c := counts[e.CreativeSetID]
		c.Total++
		if !e.CreatedAt.Before(weekStart) {
			c.Week++
		}
		if !e.CreatedAt.Before(dayStart) {
			c.Day++
		}
		counts[e.CreativeSetID] = c
	}
	return counts
}

// ExceedsCaps reports whether any of the creative's per-day, per-week or
// total caps has been reached. A cap of 0 is unlimited.
func ExceedsCaps(ad models.CreativeAd, c CapCounts) bool {
	return (ad.PerDay > 0 && c.Day >= ad.PerDay) ||
		(ad.PerWeek > 0 && c.Week >= ad.PerWeek) ||
		(ad.TotalMax > 0 && c.Total >= ad.TotalMax)
}
