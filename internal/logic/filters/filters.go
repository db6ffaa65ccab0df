package filters

import (
	"errors"
	"time"

	"github.com/patrickwarner/attestads/internal/db"
	logic "github.com/patrickwarner/attestads/internal/logic"
	"github.com/patrickwarner/attestads/internal/models"
)

// ErrHourlyCapReached is returned when every otherwise eligible creative hit
// its per-hour serve cap.
var ErrHourlyCapReached = errors.New("creative hourly cap reached")

// EventHistory is the part of a user's ad-event history that eligibility
// depends on.
type EventHistory struct {
	Caps                map[string]logic.CapCounts
	FlaggedCreativeSets map[string]struct{}
	FlaggedAdvertisers  map[string]struct{}
}

// NewEventHistory summarises events as of now.
func NewEventHistory(events []models.AdEvent, now time.Time) EventHistory {
	h := EventHistory{
		Caps:                logic.CountServedByCreativeSet(events, now),
		FlaggedCreativeSets: make(map[string]struct{}),
		FlaggedAdvertisers:  make(map[string]struct{}),
	}
	for _, e := range events {
		if e.Type != models.ConfirmationFlagged {
			continue
		}
		if e.CreativeSetID != "" {
			h.FlaggedCreativeSets[e.CreativeSetID] = struct{}{}
		}
		if e.AdvertiserID != "" {
			h.FlaggedAdvertisers[e.AdvertiserID] = struct{}{}
		}
	}
	return h
}

// NewEventHistoryWithSummary combines recent events with a summary of the
// whole retention period. events must cover at least logic.EventWindow so
// day and week caps are exact; totals and flags come from summary.
func NewEventHistoryWithSummary(events []models.AdEvent, summary models.AdHistorySummary, now time.Time) EventHistory {
	h := NewEventHistory(events, now)
	for setID, total := range summary.ServedByCreativeSet {
		c := h.Caps[setID]
		if total > c.Total {
			c.Total = total
		}
		h.Caps[setID] = c
	}
	for id := range summary.FlaggedCreativeSets {
		h.FlaggedCreativeSets[id] = struct{}{}
	}
	for id := range summary.FlaggedAdvertisers {
		h.FlaggedAdvertisers[id] = struct{}{}
	}
	return h
}

// Allows reports whether the history permits showing ad.
func (h EventHistory) Allows(ad models.CreativeAd) bool {
	if _, ok := h.FlaggedCreativeSets[ad.CreativeSetID]; ok {
		return false
	}
	if _, ok := h.FlaggedAdvertisers[ad.AdvertiserID]; ok {
		return false
	}
	return !logic.ExceedsCaps(ad, h.Caps[ad.CreativeSetID])
}

// FilterByFormat keeps creatives of the requested format.
func FilterByFormat(ads []models.CreativeAd, format models.AdFormat) []models.CreativeAd {
	var out []models.CreativeAd
	for _, ad := range ads {
		if ad.Format == format {
			out = append(out, ad)
		}
	}
	return out
}

// FilterByFlight removes creatives outside their start/end window.
func FilterByFlight(ads []models.CreativeAd, now time.Time) []models.CreativeAd {
	var out []models.CreativeAd
	for _, ad := range ads {
		if ad.InFlight(now) {
			out = append(out, ad)
		}
	}
	return out
}

// FilterByPriority drops creatives with priority 0, which are never shown.
func FilterByPriority(ads []models.CreativeAd) []models.CreativeAd {
	var out []models.CreativeAd
	for _, ad := range ads {
		if ad.Priority > 0 {
			out = append(out, ad)
		}
	}
	return out
}

// FilterByTargeting keeps creatives whose geo, platform and daypart rules
// match the request.
func FilterByTargeting(ads []models.CreativeAd, ctx models.TargetingContext) []models.CreativeAd {
	var out []models.CreativeAd
	for _, ad := range ads {
		if logic.MatchesTargeting(ad, ctx) {
			out = append(out, ad)
		}
	}
	return out
}

// FilterByHistory removes flagged and capped creatives.
func FilterByHistory(ads []models.CreativeAd, history EventHistory) []models.CreativeAd {
	var out []models.CreativeAd
	for _, ad := range ads {
		if history.Allows(ad) {
			out = append(out, ad)
		}
	}
	return out
}

// FilterByHourlyCap removes creatives that reached their per-hour serve cap.
func FilterByHourlyCap(store *db.RedisStore, ads []models.CreativeAd, now time.Time) ([]models.CreativeAd, error) {
	capped, err := logic.BatchPerHourCheck(store, ads, now)
	if err != nil {
		return nil, err
	}
	var out []models.CreativeAd
	for _, ad := range ads {
		if !capped[ad.CreativeInstanceID] {
			out = append(out, ad)
		}
	}
	return out, nil
}
