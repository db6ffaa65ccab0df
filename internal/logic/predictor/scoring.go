package predictor

import (
	"math"
	"time"
)

// recencyWindow is the period over which a recently seen ad is suppressed.
const recencyWindow = 24 * time.Hour

// ComputeSegmentScore returns childWeight for a child match, parentWeight for
// a parent-only match and 0 otherwise.
func ComputeSegmentScore(m SegmentMatch, childWeight, parentWeight float64) float64 {
	switch {
	case m.ChildMatches:
		return childWeight
	case m.ParentMatches:
		return parentWeight
	default:
		return 0
	}
}

func ComputeUntargetedScore(untargeted bool, weight float64) float64 {
	if untargeted {
		return weight
	}
	return 0
}

// ComputeLastSeenScore scales weight by the whole hours since the ad was last
// seen, out of 24. Never seen, or seen more than a day ago, scores the full
// weight.
func ComputeLastSeenScore(lastSeen *time.Duration, weight float64) float64 {
	if lastSeen == nil || *lastSeen > recencyWindow {
		return weight
	}
	hours := math.Floor(lastSeen.Hours())
	return weight * hours / recencyWindow.Hours()
}

// ComputePriorityScore favours lower priority values. Priority 0 or below
// scores 0.
func ComputePriorityScore(priority int, weight float64) float64 {
	if priority <= 0 {
		return 0
	}
	return weight / float64(priority)
}

// Terms selects the optional addends of ComputeScore.
type Terms struct {
	LastSeenAdvertiser bool
	Priority           bool
}

// ComputeScore sums the segment, untargeted and last-seen-ad scores, plus
// whichever optional terms are enabled.
func ComputeScore(v InputVariables, w Weights, terms Terms) float64 {
	score := ComputeSegmentScore(v.IntentSegment, w.IntentChild, w.IntentParent) +
		ComputeSegmentScore(v.LatentInterestSegment, w.LatentInterestChild, w.LatentInterestParent) +
		ComputeSegmentScore(v.InterestSegment, w.InterestChild, w.InterestParent) +
		ComputeUntargetedScore(v.Untargeted, w.Untargeted) +
		ComputeLastSeenScore(v.LastSeenAd, w.LastSeenAd)
	if terms.LastSeenAdvertiser {
		score += ComputeLastSeenScore(v.LastSeenAdvertiser, w.LastSeenAdvertiser)
	}
	if terms.Priority {
		score += ComputePriorityScore(v.Priority, w.Priority)
	}
	return score
}
