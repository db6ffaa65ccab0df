package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/models"
)

var testNow = time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)

type memEvents struct {
	events []models.AdEvent
}

func (m *memEvents) RecordAdEvent(_ context.Context, ev models.AdEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) GetAdEventsSince(_ context.Context, since time.Time) ([]models.AdEvent, error) {
	var out []models.AdEvent
	for _, ev := range m.events {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvents) SummarizeAdEventsSince(ctx context.Context, since time.Time) (models.AdHistorySummary, error) {
	events, err := m.GetAdEventsSince(ctx, since)
	return models.SummarizeAdEvents(events), err
}

func newToolServer(t *testing.T, events *memEvents, ads ...models.CreativeAd) *ToolServer {
	t.Helper()
	mr := miniredis.RunT(t)
	store := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Ctx:    context.Background(),
	}
	dataStore := models.NewTestAdDataStore()
	require.NoError(t, dataStore.ReloadAll(ads))
	return &ToolServer{
		store:     store,
		events:    events,
		selector:  selectors.NewPredictorSelector(store, dataStore, predictor.WeightSet{}, predictor.Terms{}, nil, nil),
		retention: 30 * 24 * time.Hour,
		now:       func() time.Time { return testNow },
		logger:    zap.NewNop(),
	}
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
	}
}

func TestGetTurnVerification(t *testing.T) {
	ts := newToolServer(t, &memEvents{})
	ctx := context.Background()
	require.NoError(t, ts.store.SetVerificationState(ctx, "turn-1", db.VerificationVerified, time.Hour))

	_, out, err := ts.GetTurnVerification(ctx, nil, GetTurnVerificationInput{TurnID: "turn-1"})
	require.NoError(t, err)
	assert.Equal(t, GetTurnVerificationOutput{TurnID: "turn-1", Status: db.VerificationVerified}, out)

	_, out, err = ts.GetTurnVerification(ctx, nil, GetTurnVerificationInput{TurnID: "turn-2"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", out.Status)

	_, _, err = ts.GetTurnVerification(ctx, nil, GetTurnVerificationInput{})
	assert.Error(t, err)
}

func TestScoreAds(t *testing.T) {
	ts := newToolServer(t, &memEvents{},
		notificationAd("software", "technology & computing-software"),
		notificationAd("sports", "sports"),
	)

	_, out, err := ts.ScoreAds(context.Background(), nil, ScoreAdsInput{
		Format:         "notification",
		IntentSegments: []string{"technology & computing-software"},
	})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 2)

	scores := map[string]float64{}
	for _, c := range out.Candidates {
		scores[c.CreativeInstanceID] = c.Score
	}
	assert.Greater(t, scores["software"], scores["sports"])
}

func TestScoreAdsReportsDailyCounters(t *testing.T) {
	ad := notificationAd("software", "technology & computing-software")
	ts := newToolServer(t, &memEvents{}, ad)
	require.NoError(t, ts.store.IncrementAdEvent(ad.CreativeSetID, "served", testNow))
	require.NoError(t, ts.store.IncrementAdEvent(ad.CreativeSetID, "served", testNow))
	require.NoError(t, ts.store.IncrementAdEvent(ad.CreativeSetID, "clicked", testNow))
	// yesterday's counter is a different key
	require.NoError(t, ts.store.IncrementAdEvent(ad.CreativeSetID, "served", testNow.Add(-24*time.Hour)))

	_, out, err := ts.ScoreAds(context.Background(), nil, ScoreAdsInput{Format: "notification"})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, int64(2), out.Candidates[0].ServedToday)
	assert.Equal(t, int64(1), out.Candidates[0].ClickedToday)
}

func TestScoreAdsExcludesFlaggedSets(t *testing.T) {
	flagged := notificationAd("flagged", "sports")
	events := &memEvents{events: []models.AdEvent{
		models.NewAdEvent(flagged, "p-1", models.ConfirmationFlagged, testNow.Add(-time.Hour)),
	}}
	ts := newToolServer(t, events, flagged, notificationAd("other", "sports"))

	_, out, err := ts.ScoreAds(context.Background(), nil, ScoreAdsInput{Format: "notification"})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "other", out.Candidates[0].CreativeInstanceID)
}

func TestScoreAdsUsesSummaryBeyondEventWindow(t *testing.T) {
	flagged := notificationAd("flagged", "sports")
	capped := notificationAd("capped", "sports")
	capped.TotalMax = 1
	events := &memEvents{events: []models.AdEvent{
		models.NewAdEvent(flagged, "p-1", models.ConfirmationFlagged, testNow.Add(-10*24*time.Hour)),
		models.NewAdEvent(capped, "p-2", models.ConfirmationServed, testNow.Add(-20*24*time.Hour)),
		// past retention
		models.NewAdEvent(notificationAd("expired", "sports"), "p-3", models.ConfirmationFlagged, testNow.Add(-40*24*time.Hour)),
	}}
	ts := newToolServer(t, events, flagged, capped, notificationAd("expired", "sports"))

	_, out, err := ts.ScoreAds(context.Background(), nil, ScoreAdsInput{Format: "notification"})
	require.NoError(t, err)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "expired", out.Candidates[0].CreativeInstanceID)
}

func TestScoreAdsUnknownFormat(t *testing.T) {
	ts := newToolServer(t, &memEvents{})
	_, _, err := ts.ScoreAds(context.Background(), nil, ScoreAdsInput{Format: "banner"})
	assert.Error(t, err)
}

func TestScoreAdsNoCreatives(t *testing.T) {
	ts := newToolServer(t, &memEvents{})
	_, out, err := ts.ScoreAds(context.Background(), nil, ScoreAdsInput{Format: "new_tab_page"})
	require.NoError(t, err)
	assert.Empty(t, out.Candidates)
}
