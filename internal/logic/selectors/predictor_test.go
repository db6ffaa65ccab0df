package selectors

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/attestads/internal/logic"
	"github.com/patrickwarner/attestads/internal/models"
)

func TestSelectAdPrefersMatchingSegment(t *testing.T) {
	withSampleFn(t, pickBest)
	sel, metrics := newTestSelector(t, nil,
		notificationAd("sports", "sports-football"),
		notificationAd("tech", "technology & computing-software"),
	)

	resp, err := sel.SelectAd(context.Background(), Request{
		Format:    models.AdFormatNotification,
		User:      models.UserModel{IntentSegments: []string{"technology & computing-software"}},
		Targeting: models.TargetingContext{Now: testNow},
	})
	require.NoError(t, err)
	assert.Equal(t, "tech", resp.CreativeInstanceID)
	assert.Equal(t, "set-tech", resp.CreativeSetID)
	// intent child (1) + last seen ad never (1)
	assert.InDelta(t, 2.0, resp.Score, 1e-9)
	_, err = uuid.Parse(resp.PlacementID)
	assert.NoError(t, err)
	assert.Equal(t, 1, metrics.Count("ads_served:notification"))
}

func TestSelectAdNoEligible(t *testing.T) {
	withSampleFn(t, pickBest)
	ad := notificationAd("a", models.UntargetedSegment)
	ad.Priority = 0
	sel, metrics := newTestSelector(t, nil, ad)

	_, err := sel.SelectAd(context.Background(), Request{
		Format:    models.AdFormatNotification,
		Targeting: models.TargetingContext{Now: testNow},
	})
	assert.ErrorIs(t, err, ErrNoEligibleAd)
	assert.Equal(t, 1, metrics.Count("nofill:notification"))
}

func TestSelectAdWrongFormat(t *testing.T) {
	sel, _ := newTestSelector(t, nil, notificationAd("a", models.UntargetedSegment))
	_, err := sel.SelectAd(context.Background(), Request{
		Format:    models.AdFormatNewTabPage,
		Targeting: models.TargetingContext{Now: testNow},
	})
	assert.ErrorIs(t, err, ErrNoEligibleAd)
}

func TestSelectAdZeroScoresNoFill(t *testing.T) {
	withSampleFn(t, defaultSampleFn)
	ad := notificationAd("a", "sports")
	sel, _ := newTestSelector(t, nil, ad)
	justNow := testNow.Add(-10 * time.Minute)

	// no segment match and viewed within the hour scores 0
	_, err := sel.SelectAd(context.Background(), Request{
		Format: models.AdFormatNotification,
		Events: []models.AdEvent{
			models.NewAdEvent(ad, "p-1", models.ConfirmationViewed, justNow),
		},
		Targeting: models.TargetingContext{Now: testNow},
	})
	assert.ErrorIs(t, err, ErrNoEligibleAd)
}

func TestSelectAdHourlyCap(t *testing.T) {
	store := setupTestRedis(t)
	ad := notificationAd("a", models.UntargetedSegment)
	ad.PerHour = 1
	_, err := store.IncrementHourlyServe(ad.CreativeInstanceID, testNow)
	require.NoError(t, err)
	sel, metrics := newTestSelector(t, store, ad)

	_, err = sel.SelectAd(context.Background(), Request{
		Format:    models.AdFormatNotification,
		Targeting: models.TargetingContext{Now: testNow},
	})
	assert.ErrorIs(t, err, ErrHourlyCapReached)
	assert.Equal(t, 1, metrics.Count("nofill:notification"))
}

func TestSelectAdHistoryExcludesFlagged(t *testing.T) {
	withSampleFn(t, pickBest)
	good := notificationAd("good", "sports")
	bad := notificationAd("bad", "technology & computing")
	sel, _ := newTestSelector(t, nil, good, bad)

	resp, err := sel.SelectAd(context.Background(), Request{
		Format: models.AdFormatNotification,
		User:   models.UserModel{InterestSegments: []string{"technology & computing"}},
		Events: []models.AdEvent{
			models.NewAdEvent(bad, "p-1", models.ConfirmationFlagged, testNow.Add(-time.Hour)),
		},
		Targeting: models.TargetingContext{Now: testNow},
	})
	require.NoError(t, err)
	assert.Equal(t, "good", resp.CreativeInstanceID)
}

func TestSelectAdTrace(t *testing.T) {
	withSampleFn(t, pickBest)
	sel, _ := newTestSelector(t, nil,
		notificationAd("a", models.UntargetedSegment),
		notificationAd("b", "sports"),
	)
	trace := &logic.SelectionTrace{}

	_, err := sel.SelectAd(context.Background(), Request{
		Format:    models.AdFormatNotification,
		Targeting: models.TargetingContext{Now: testNow},
		Trace:     trace,
	})
	require.NoError(t, err)

	stages := make([]string, 0, len(trace.Steps))
	for _, s := range trace.Steps {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{"start", "single_pass_start", "single_pass_complete", "score", "sample"}, stages)
	assert.Equal(t, "2.0000", trace.Steps[3].Details["a"])
	assert.Equal(t, "1.0000", trace.Steps[3].Details["b"])
	assert.Equal(t, []string{"a"}, trace.Steps[4].CreativeInstanceIDs)
}

func TestCandidatesReturnsScores(t *testing.T) {
	sel, _ := newTestSelector(t, nil,
		notificationAd("a", models.UntargetedSegment),
		notificationAd("b", "sports-football"),
	)
	ads, scores, err := sel.Candidates(context.Background(), Request{
		Format:    models.AdFormatNotification,
		User:      models.UserModel{LatentInterestSegments: []string{"sports-tennis"}},
		Targeting: models.TargetingContext{Now: testNow},
	})
	require.NoError(t, err)
	require.Len(t, ads, 2)
	assert.Equal(t, []float64{2, 2}, scores) // untargeted+last seen; latent parent+last seen
}

func TestDefaultSampleFn(t *testing.T) {
	assert.Equal(t, -1, defaultSampleFn(nil))
	assert.Equal(t, -1, defaultSampleFn([]float64{0, -1}))
	assert.Equal(t, 2, defaultSampleFn([]float64{0, -3, 0.5}))

	counts := make([]int, 2)
	const n = 20000
	for i := 0; i < n; i++ {
		counts[defaultSampleFn([]float64{1, 3})]++
	}
	// expect roughly a quarter on the first index
	share := float64(counts[0]) / n
	assert.True(t, math.Abs(share-0.25) < 0.03, "share %f", share)
}
