package predictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dur(d time.Duration) *time.Duration { return &d }

func TestComputeSegmentScore(t *testing.T) {
	assert.Equal(t, 1.0, ComputeSegmentScore(SegmentMatch{ChildMatches: true, ParentMatches: true}, 1.0, 1.0))
	assert.Equal(t, 1.0, ComputeSegmentScore(SegmentMatch{ParentMatches: true}, 1.0, 1.0))
	assert.Equal(t, 0.0, ComputeSegmentScore(SegmentMatch{}, 1.0, 1.0))

	// child wins over parent regardless of the parent weight
	assert.Equal(t, 3.0, ComputeSegmentScore(SegmentMatch{ChildMatches: true, ParentMatches: true}, 3.0, 0.5))
	assert.Equal(t, 3.0, ComputeSegmentScore(SegmentMatch{ChildMatches: true}, 3.0, 0.5))
	assert.Equal(t, 0.5, ComputeSegmentScore(SegmentMatch{ParentMatches: true}, 3.0, 0.5))
}

func TestComputeUntargetedScore(t *testing.T) {
	assert.Equal(t, 0.7, ComputeUntargetedScore(true, 0.7))
	assert.Equal(t, 0.0, ComputeUntargetedScore(false, 0.7))
}

func TestComputeLastSeenScore(t *testing.T) {
	tests := []struct {
		name     string
		lastSeen *time.Duration
		weight   float64
		want     float64
	}{
		{"never seen", nil, 1.0, 1.0},
		{"seen over a day ago", dur(25 * time.Hour), 1.0, 1.0},
		{"seen exactly a day ago", dur(24 * time.Hour), 2.0, 2.0},
		{"seen seven hours ago", dur(7 * time.Hour), 1.0, 7.0 / 24.0},
		{"partial hours are floored", dur(7*time.Hour + 59*time.Minute), 1.0, 7.0 / 24.0},
		{"just seen", dur(10 * time.Minute), 1.0, 0.0},
		{"weighted", dur(12 * time.Hour), 3.0, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeLastSeenScore(tt.lastSeen, tt.weight), 1e-9)
		})
	}
}

func TestComputePriorityScore(t *testing.T) {
	for _, w := range []float64{0, 1, 2.5, 100} {
		assert.Equal(t, 0.0, ComputePriorityScore(0, w))
		assert.Equal(t, 0.0, ComputePriorityScore(-3, w))
	}
	assert.Equal(t, 1.0, ComputePriorityScore(1, 1.0))
	assert.Equal(t, 0.5, ComputePriorityScore(2, 1.0))
	assert.Equal(t, 2.0, ComputePriorityScore(5, 10.0))
}

func TestComputeScore(t *testing.T) {
	v := InputVariables{
		IntentSegment:         SegmentMatch{ChildMatches: true, ParentMatches: true},
		LatentInterestSegment: SegmentMatch{ParentMatches: true},
		InterestSegment:       SegmentMatch{},
		Untargeted:            false,
		LastSeenAd:            dur(6 * time.Hour),
		LastSeenAdvertiser:    dur(12 * time.Hour),
		Priority:              2,
	}
	w := Weights{
		IntentChild:          1.0,
		IntentParent:         0.9,
		LatentInterestChild:  0.8,
		LatentInterestParent: 0.7,
		InterestChild:        0.6,
		InterestParent:       0.5,
		Untargeted:           0.4,
		LastSeenAd:           2.0,
		LastSeenAdvertiser:   4.0,
		Priority:             3.0,
	}

	base := 1.0 + 0.7 + 0.0 + 0.0 + 2.0*6/24
	assert.InDelta(t, base, ComputeScore(v, w, Terms{}), 1e-9)
	assert.InDelta(t, base+4.0*12/24, ComputeScore(v, w, Terms{LastSeenAdvertiser: true}), 1e-9)
	assert.InDelta(t, base+1.5, ComputeScore(v, w, Terms{Priority: true}), 1e-9)
	assert.InDelta(t, base+2.0+1.5, ComputeScore(v, w, Terms{LastSeenAdvertiser: true, Priority: true}), 1e-9)
}

func TestComputeScore_UntargetedNeverSeen(t *testing.T) {
	v := InputVariables{Untargeted: true}
	assert.Equal(t, 2.0, ComputeScore(v, DefaultWeights(), Terms{}))
}
