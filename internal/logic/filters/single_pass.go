package filters

import (
	"context"
	"strconv"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic"
	"github.com/patrickwarner/attestads/internal/models"
)

// SinglePassFilter applies every eligibility rule in one walk over the
// candidates, followed by one Redis round trip for the hourly caps.
type SinglePassFilter struct {
	store *db.RedisStore
}

// NewSinglePassFilter creates a filter. A nil store skips the hourly caps.
func NewSinglePassFilter(store *db.RedisStore) *SinglePassFilter {
	return &SinglePassFilter{store: store}
}

// FilterCreatives returns the creatives eligible for format under the given
// targeting context and history.
func (spf *SinglePassFilter) FilterCreatives(
	ctx context.Context,
	ads []models.CreativeAd,
	format models.AdFormat,
	targetingCtx models.TargetingContext,
	history EventHistory,
) ([]models.CreativeAd, error) {
	if len(ads) == 0 {
		return nil, nil
	}

	filtered := make([]models.CreativeAd, 0, len(ads))
	needsRedis := false
	for _, ad := range ads {
		if ad.Format != format {
			continue
		}
		if ad.Priority <= 0 {
			continue
		}
		if !ad.InFlight(targetingCtx.Now) {
			continue
		}
		if !logic.MatchesTargeting(ad, targetingCtx) {
			continue
		}
		if !history.Allows(ad) {
			continue
		}
		if ad.PerHour > 0 {
			needsRedis = true
		}
		filtered = append(filtered, ad)
	}

	if len(filtered) == 0 {
		return nil, nil
	}
	if !needsRedis || spf.store == nil || spf.store.Client == nil {
		return filtered, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capped, err := logic.BatchPerHourCheck(spf.store, filtered, targetingCtx.Now)
	if err != nil {
		return nil, err
	}
	out := make([]models.CreativeAd, 0, len(filtered))
	for _, ad := range filtered {
		if !capped[ad.CreativeInstanceID] {
			out = append(out, ad)
		}
	}
	if len(out) == 0 {
		return nil, ErrHourlyCapReached
	}
	return out, nil
}

// FilterCreativesWithTrace behaves like FilterCreatives and records the
// candidates before and after filtering.
func (spf *SinglePassFilter) FilterCreativesWithTrace(
	ctx context.Context,
	ads []models.CreativeAd,
	format models.AdFormat,
	targetingCtx models.TargetingContext,
	history EventHistory,
	trace *logic.SelectionTrace,
) ([]models.CreativeAd, error) {
	trace.AddStep("single_pass_start", ads)

	filtered, err := spf.FilterCreatives(ctx, ads, format, targetingCtx, history)

	trace.AddStepWithDetails("single_pass_complete", filtered, map[string]string{
		"input_count":  strconv.Itoa(len(ads)),
		"output_count": strconv.Itoa(len(filtered)),
		"format":       string(format),
	})
	return filtered, err
}
