// Package predictor scores eligible creative ads against a user model and
// the user's ad-event history.
package predictor

import (
	"time"

	"github.com/patrickwarner/attestads/internal/models"
)

// SegmentMatch records how an ad's segment relates to one of the user's
// segment lists.
type SegmentMatch struct {
	ChildMatches  bool
	ParentMatches bool
}

// InputVariables are the per-ad signals fed into the scoring functions.
type InputVariables struct {
	IntentSegment         SegmentMatch
	LatentInterestSegment SegmentMatch
	InterestSegment       SegmentMatch
	Untargeted            bool
	// nil when the creative (or advertiser) was never viewed
	LastSeenAd         *time.Duration
	LastSeenAdvertiser *time.Duration
	Priority           int
}

// MatchSegment compares segment with the user's segments. A child match is an
// exact match; a parent match compares the part before the first "-".
func MatchSegment(segment string, userSegments []string) SegmentMatch {
	var m SegmentMatch
	for _, s := range userSegments {
		if s == segment {
			m.ChildMatches = true
			break
		}
	}
	parent := models.ParentSegment(segment)
	for _, p := range models.ParentSegments(userSegments) {
		if p == parent {
			m.ParentMatches = true
			break
		}
	}
	return m
}

// BuildInputVariables derives the scoring inputs for ad. events is the user's
// ad-event history in any order; only viewed events count towards recency.
func BuildInputVariables(ad models.CreativeAd, user models.UserModel, events []models.AdEvent, now time.Time) InputVariables {
	return InputVariables{
		IntentSegment:         MatchSegment(ad.Segment, user.IntentSegments),
		LatentInterestSegment: MatchSegment(ad.Segment, user.LatentInterestSegments),
		InterestSegment:       MatchSegment(ad.Segment, user.InterestSegments),
		Untargeted:            ad.IsUntargeted(),
		LastSeenAd: lastSeen(events, now, func(e models.AdEvent) bool {
			return e.CreativeInstanceID == ad.CreativeInstanceID
		}),
		LastSeenAdvertiser: lastSeen(events, now, func(e models.AdEvent) bool {
			return e.AdvertiserID != "" && e.AdvertiserID == ad.AdvertiserID
		}),
		Priority: ad.Priority,
	}
}

// lastSeen returns the time since the most recent matching viewed event.
func lastSeen(events []models.AdEvent, now time.Time, match func(models.AdEvent) bool) *time.Duration {
	var latest time.Time
	found := false
	for _, e := range events {
		if e.Type != models.ConfirmationViewed || !match(e) {
			continue
		}
		if !found || e.CreatedAt.After(latest) {
			latest = e.CreatedAt
			found = true
		}
	}
	if !found {
		return nil
	}
	d := now.Sub(latest)
	if d < 0 {
		d = 0
	}
	return &d
}
