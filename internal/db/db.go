package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/models"
)

// CreativeAdLoader is the source of truth for creative ads.
type CreativeAdLoader interface {
	LoadCreativeAds(ctx context.Context) ([]models.CreativeAd, error)
}

// ReloadCreativeAds loads creative ads into the in-memory store.
func ReloadCreativeAds(ctx context.Context, s CreativeAdLoader, dataStore models.AdDataStore) (int, error) {
	ads, err := s.LoadCreativeAds(ctx)
	if err != nil {
		return 0, fmt.Errorf("load creative ads: %w", err)
	}
	for _, ad := range ads {
		if _, ok := models.ParseAdFormat(string(ad.Format)); !ok {
			return 0, fmt.Errorf("creative ad %s has unknown format %q", ad.CreativeInstanceID, ad.Format)
		}
	}
	if err := dataStore.ReloadAll(ads); err != nil {
		return 0, fmt.Errorf("reload data store: %w", err)
	}
	return len(ads), nil
}

// AdEventStore persists the ad-event history read back during selection.
// Selection reads recent events individually and older ones only as a
// summary.
type AdEventStore interface {
	RecordAdEvent(ctx context.Context, ev models.AdEvent) error
	GetAdEventsSince(ctx context.Context, since time.Time) ([]models.AdEvent, error)
	SummarizeAdEventsSince(ctx context.Context, since time.Time) (models.AdHistorySummary, error)
}

var _ AdEventStore = (*SQLite)(nil)

// RetainAdEvents purges events older than retention on every tick until ctx
// is cancelled.
func RetainAdEvents(ctx context.Context, s *SQLite, retention, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeAdEventsBefore(ctx, now().Add(-retention))
			if err != nil {
				zap.L().Error("purge ad events", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("purged ad events", zap.Int64("count", n))
			}
		}
	}
}
