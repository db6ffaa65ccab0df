package selectors

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/observability"
)

var testNow = time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) *db.RedisStore {
	s := miniredis.RunT(t)
	return &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: s.Addr()}),
		Ctx:    context.Background(),
	}
}

// withSampleFn swaps SampleFn for the duration of the test.
func withSampleFn(t *testing.T, fn func([]float64) int) {
	orig := SampleFn
	SampleFn = fn
	t.Cleanup(func() { SampleFn = orig })
}

// pickBest always chooses the highest score, first wins on ties.
func pickBest(scores []float64) int {
	best := -1
	for i, s := range scores {
		if s > 0 && (best < 0 || s > scores[best]) {
			best = i
		}
	}
	return best
}

func newTestSelector(t *testing.T, store *db.RedisStore, ads ...models.CreativeAd) (*PredictorSelector, *observability.CountingRegistry) {
	t.Helper()
	dataStore := models.NewTestAdDataStore()
	if err := dataStore.ReloadAll(ads); err != nil {
		t.Fatalf("reload: %v", err)
	}
	metrics := observability.NewCountingRegistry()
	weights := predictor.WeightSet{}
	return NewPredictorSelector(store, dataStore, weights, predictor.Terms{}, metrics, nil), metrics
}

func notificationAd(id, segment string) models.CreativeAd {
	return models.CreativeAd{
		CreativeInstanceID: id,
		CreativeSetID:      "set-" + id,
		CampaignID:         "campaign-" + id,
		AdvertiserID:       "advertiser-" + id,
		Format:             models.AdFormatNotification,
		Segment:            segment,
		Priority:           1,
		Title:              "title " + id,
		TargetURL:          "https://example.com/" + id,
	}
}
