package selectors

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic/filters"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/observability"
)

var (
	ErrNoEligibleAd     = errors.New("no eligible ad found for user")
	ErrHourlyCapReached = errors.New("creative hourly cap reached")
)

// defaultSampleFn picks an index with probability proportional to its score.
// Non-positive scores are never picked. It returns -1 when no score is
// positive.
var defaultSampleFn = func(scores []float64) int {
	total := 0.0
	for _, s := range scores {
		if s > 0 {
			total += s
		}
	}
	if total <= 0 {
		return -1
	}
	r := rand.Float64() * total
	last := -1
	for i, s := range scores {
		if s <= 0 {
			continue
		}
		last = i
		r -= s
		if r < 0 {
			return i
		}
	}
	return last
}

// SampleFn chooses among scored candidates. Tests replace it to make the
// choice deterministic.
var SampleFn = defaultSampleFn

// scoredAd pairs a candidate with its predictor score.
type scoredAd struct {
	ad    models.CreativeAd
	score float64
}

// PredictorSelector filters the creatives for a format, scores each with the
// predictor and samples one proportionally to its score.
type PredictorSelector struct {
	store     *db.RedisStore
	dataStore models.AdDataStore
	weights   predictor.WeightSet
	terms     predictor.Terms
	metrics   observability.MetricsRegistry
	logger    *zap.Logger
}

// NewPredictorSelector creates a selector. store may be nil, in which case
// per-hour caps are not enforced.
func NewPredictorSelector(store *db.RedisStore, dataStore models.AdDataStore, weights predictor.WeightSet,
	terms predictor.Terms, metrics observability.MetricsRegistry, logger *zap.Logger) *PredictorSelector {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictorSelector{
		store:     store,
		dataStore: dataStore,
		weights:   weights,
		terms:     terms,
		metrics:   metrics,
		logger:    logger,
	}
}

// SelectAd chooses a creative for the request.
func (s *PredictorSelector) SelectAd(ctx context.Context, req Request) (*models.AdResponse, error) {
	if req.Targeting.Now.IsZero() {
		req.Targeting.Now = time.Now()
	}
	ad, score, err := s.selectCreative(ctx, req)
	if err != nil {
		if errors.Is(err, ErrNoEligibleAd) || errors.Is(err, ErrHourlyCapReached) {
			s.metrics.IncrementNoFill(string(req.Format))
		}
		return nil, err
	}
	s.metrics.IncrementAdsServed(string(req.Format))
	return buildAdResponse(ad, score), nil
}

// Candidates returns every eligible creative with its score, in filter order.
// It is used for dry runs and does not sample.
func (s *PredictorSelector) Candidates(ctx context.Context, req Request) ([]models.CreativeAd, []float64, error) {
	if req.Targeting.Now.IsZero() {
		req.Targeting.Now = time.Now()
	}
	eligible, err := s.filter(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	scored := s.score(req, eligible)
	ads := make([]models.CreativeAd, len(scored))
	scores := make([]float64, len(scored))
	for i, sa := range scored {
		ads[i] = sa.ad
		scores[i] = sa.score
	}
	return ads, scores, nil
}

func (s *PredictorSelector) selectCreative(ctx context.Context, req Request) (models.CreativeAd, float64, error) {
	eligible, err := s.filter(ctx, req)
	if err != nil {
		return models.CreativeAd{}, 0, err
	}
	if len(eligible) == 0 {
		return models.CreativeAd{}, 0, ErrNoEligibleAd
	}

	scored := s.score(req, eligible)
	scores := make([]float64, len(scored))
	for i, sa := range scored {
		scores[i] = sa.score
	}
	idx := SampleFn(scores)
	if idx < 0 || idx >= len(scored) {
		return models.CreativeAd{}, 0, ErrNoEligibleAd
	}
	chosen := scored[idx]
	if req.Trace != nil {
		req.Trace.AddStepWithDetails("sample", []models.CreativeAd{chosen.ad}, map[string]string{
			"score": strconv.FormatFloat(chosen.score, 'f', 4, 64),
		})
	}
	s.logger.Debug("ad selected",
		zap.String("format", string(req.Format)),
		zap.String("creative_instance_id", chosen.ad.CreativeInstanceID),
		zap.Float64("score", chosen.score),
		zap.Int("candidates", len(scored)))
	return chosen.ad, chosen.score, nil
}

// filter runs the eligibility rules and records filter metrics.
func (s *PredictorSelector) filter(ctx context.Context, req Request) ([]models.CreativeAd, error) {
	creatives := s.dataStore.GetCreativeAdsByFormat(req.Format)
	creativeCountBucket := observability.GetCreativeCountBucket(len(creatives))
	if req.Trace != nil {
		req.Trace.AddStep("start", creatives)
	}

	filterStart := time.Now()
	history := filters.NewEventHistory(req.Events, req.Targeting.Now)
	if req.Summary != nil {
		history = filters.NewEventHistoryWithSummary(req.Events, *req.Summary, req.Targeting.Now)
	}
	spFilter := filters.NewSinglePassFilter(s.store)
	var err error
	if req.Trace != nil {
		creatives, err = spFilter.FilterCreativesWithTrace(ctx, creatives, req.Format, req.Targeting, history, req.Trace)
	} else {
		creatives, err = spFilter.FilterCreatives(ctx, creatives, req.Format, req.Targeting, history)
	}

	filterDuration := time.Since(filterStart).Seconds()
	result := "success"
	if err != nil {
		if errors.Is(err, filters.ErrHourlyCapReached) {
			observability.FilterDuration.WithLabelValues(creativeCountBucket, "hourly_cap").Observe(filterDuration)
			return nil, ErrHourlyCapReached
		}
		observability.FilterDuration.WithLabelValues(creativeCountBucket, "error").Observe(filterDuration)
		return nil, err
	} else if len(creatives) == 0 {
		result = "no_eligible"
	}
	observability.FilterDuration.WithLabelValues(creativeCountBucket, result).Observe(filterDuration)
	observability.FilterStageCount.WithLabelValues("filtered").Set(float64(len(creatives)))
	return creatives, nil
}

// score computes the predictor score of every candidate.
func (s *PredictorSelector) score(req Request, ads []models.CreativeAd) []scoredAd {
	w := s.weights.For(req.Format)
	out := make([]scoredAd, 0, len(ads))
	for _, ad := range ads {
		v := predictor.BuildInputVariables(ad, req.User, req.Events, req.Targeting.Now)
		sc := predictor.ComputeScore(v, w, s.terms)
		s.metrics.RecordPredictorScore(string(req.Format), sc)
		out = append(out, scoredAd{ad: ad, score: sc})
	}
	if req.Trace != nil {
		details := make(map[string]string, len(out))
		for _, sa := range out {
			details[sa.ad.CreativeInstanceID] = strconv.FormatFloat(sa.score, 'f', 4, 64)
		}
		req.Trace.AddStepWithDetails("score", ads, details)
	}
	return out
}

func buildAdResponse(ad models.CreativeAd, score float64) *models.AdResponse {
	return &models.AdResponse{
		PlacementID:        uuid.NewString(),
		CreativeInstanceID: ad.CreativeInstanceID,
		CreativeSetID:      ad.CreativeSetID,
		CampaignID:         ad.CampaignID,
		AdvertiserID:       ad.AdvertiserID,
		Format:             ad.Format,
		Segment:            ad.Segment,
		Title:              ad.Title,
		Body:               ad.Body,
		TargetURL:          ad.TargetURL,
		Value:              ad.Value,
		Score:              score,
	}
}
