package predictor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/patrickwarner/attestads/internal/config"
	"github.com/patrickwarner/attestads/internal/models"
	"go.uber.org/zap"
)

// weightCount is the number of values in a weights list.
const weightCount = 10

// ErrMalformedWeights is returned for weight lists that cannot be parsed.
var ErrMalformedWeights = errors.New("malformed predictor weights")

// Weights are the per-format multipliers applied by ComputeScore.
type Weights struct {
	IntentChild          float64
	IntentParent         float64
	LatentInterestChild  float64
	LatentInterestParent float64
	InterestChild        float64
	InterestParent       float64
	Untargeted           float64
	LastSeenAd           float64
	LastSeenAdvertiser   float64
	Priority             float64
}

// DefaultWeights weighs every signal equally.
func DefaultWeights() Weights {
	return Weights{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
}

// ParseWeights reads ten comma separated numbers in field order. An empty
// string yields the defaults.
func ParseWeights(s string) (Weights, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultWeights(), nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != weightCount {
		return DefaultWeights(), fmt.Errorf("%w: want %d values, got %d", ErrMalformedWeights, weightCount, len(parts))
	}
	vals := make([]float64, weightCount)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return DefaultWeights(), fmt.Errorf("%w: value %d: %v", ErrMalformedWeights, i, err)
		}
		vals[i] = f
	}
	return Weights{
		IntentChild:          vals[0],
		IntentParent:         vals[1],
		LatentInterestChild:  vals[2],
		LatentInterestParent: vals[3],
		InterestChild:        vals[4],
		InterestParent:       vals[5],
		Untargeted:           vals[6],
		LastSeenAd:           vals[7],
		LastSeenAdvertiser:   vals[8],
		Priority:             vals[9],
	}, nil
}

// WeightSet maps each ad format to its weights.
type WeightSet map[models.AdFormat]Weights

// For returns the weights for format, or the defaults for an unknown format.
func (ws WeightSet) For(format models.AdFormat) Weights {
	if w, ok := ws[format]; ok {
		return w
	}
	return DefaultWeights()
}

// WeightsFromConfig parses the configured weight lists. Malformed lists are
// logged and replaced by the defaults.
func WeightsFromConfig(cfg config.Config, logger *zap.Logger) WeightSet {
	raw := map[models.AdFormat]string{
		models.AdFormatNotification:  cfg.NotificationAdPredictorWeights,
		models.AdFormatInlineContent: cfg.InlineContentAdPredictorWeights,
		models.AdFormatNewTabPage:    cfg.NewTabPageAdPredictorWeights,
	}
	ws := make(WeightSet, len(raw))
	for format, s := range raw {
		w, err := ParseWeights(s)
		if err != nil && logger != nil {
			logger.Warn("using default predictor weights",
				zap.String("format", string(format)), zap.Error(err))
		}
		ws[format] = w
	}
	return ws
}

// TermsFromConfig returns the optional scoring terms enabled in cfg.
func TermsFromConfig(cfg config.Config) Terms {
	return Terms{
		LastSeenAdvertiser: cfg.PredictorAdvertiserRecency,
		Priority:           cfg.PredictorPriority,
	}
}
