package models

import (
	"strings"
	"time"
)

// AdFormat identifies the surface a creative is rendered on. Predictor
// weights are configured per format.
type AdFormat string

const (
	AdFormatNotification  AdFormat = "notification"
	AdFormatInlineContent AdFormat = "inline_content"
	AdFormatNewTabPage    AdFormat = "new_tab_page"
)

// AdFormats lists every supported format in a stable order.
var AdFormats = []AdFormat{AdFormatNotification, AdFormatInlineContent, AdFormatNewTabPage}

// ParseAdFormat validates a format name.
func ParseAdFormat(s string) (AdFormat, bool) {
	f := AdFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AdFormats {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// Daypart restricts delivery to a window of minutes on the listed weekdays.
// DaysOfWeek holds time.Weekday digits, e.g. "12345" for Monday to Friday.
type Daypart struct {
	DaysOfWeek  string `json:"days_of_week" toml:"days_of_week"`
	StartMinute int    `json:"start_minute" toml:"start_minute"`
	EndMinute   int    `json:"end_minute" toml:"end_minute"`
}

// Matches reports whether t falls inside the daypart.
func (d Daypart) Matches(t time.Time) bool {
	day := string(rune('0' + int(t.Weekday())))
	if d.DaysOfWeek != "" && !strings.Contains(d.DaysOfWeek, day) {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= d.StartMinute && minute <= d.EndMinute
}

// CreativeAd is a candidate advertisement. Creative instances belong to a
// creative set, which belongs to a campaign run by an advertiser.
type CreativeAd struct {
	CreativeInstanceID string   `json:"creative_instance_id" toml:"creative_instance_id"`
	CreativeSetID      string   `json:"creative_set_id" toml:"creative_set_id"`
	CampaignID         string   `json:"campaign_id" toml:"campaign_id"`
	AdvertiserID       string   `json:"advertiser_id" toml:"advertiser_id"`
	Format             AdFormat `json:"format" toml:"format"`
	// Segment is the taxonomy string the creative targets, or
	// UntargetedSegment.
	Segment string `json:"segment" toml:"segment"`
	// Priority orders campaigns; lower values are preferred and 0 means the
	// creative must not be shown.
	Priority int     `json:"priority" toml:"priority"`
	Value    float64 `json:"value" toml:"value"`
	// Caps on how often the creative set may be shown. 0 means unlimited.
	PerDay   int `json:"per_day" toml:"per_day"`
	PerWeek  int `json:"per_week" toml:"per_week"`
	TotalMax int `json:"total_max" toml:"total_max"`
	// PerHour caps served creative instances per hour via Redis.
	PerHour    int       `json:"per_hour" toml:"per_hour"`
	GeoTargets []string  `json:"geo_targets,omitempty" toml:"geo_targets"`
	Platforms  []string  `json:"platforms,omitempty" toml:"platforms"`
	Dayparts   []Daypart `json:"dayparts,omitempty" toml:"dayparts"`
	StartAt    time.Time `json:"start_at" toml:"start_at"`
	EndAt      time.Time `json:"end_at" toml:"end_at"`
	Title      string    `json:"title" toml:"title"`
	Body       string    `json:"body" toml:"body"`
	TargetURL  string    `json:"target_url" toml:"target_url"`
}

// IsUntargeted reports whether the creative ignores the user model.
func (c CreativeAd) IsUntargeted() bool {
	return c.Segment == UntargetedSegment
}

// InFlight reports whether t is inside the creative's start/end window. Zero
// bounds are open.
func (c CreativeAd) InFlight(t time.Time) bool {
	if !c.StartAt.IsZero() && t.Before(c.StartAt) {
		return false
	}
	if !c.EndAt.IsZero() && t.After(c.EndAt) {
		return false
	}
	return true
}

// ConfirmationType is the kind of interaction recorded for a served ad.
type ConfirmationType string

const (
	ConfirmationServed    ConfirmationType = "served"
	ConfirmationViewed    ConfirmationType = "viewed"
	ConfirmationClicked   ConfirmationType = "clicked"
	ConfirmationDismissed ConfirmationType = "dismissed"
	ConfirmationFlagged   ConfirmationType = "flagged"
)

// ParseConfirmationType validates an event type received from a client.
func ParseConfirmationType(s string) (ConfirmationType, bool) {
	switch ct := ConfirmationType(strings.ToLower(s)); ct {
	case ConfirmationServed, ConfirmationViewed, ConfirmationClicked, ConfirmationDismissed, ConfirmationFlagged:
		return ct, true
	}
	return "", false
}

// AdEvent is one entry of the ad-event history used for frequency caps and
// recency scoring.
type AdEvent struct {
	PlacementID        string           `json:"placement_id"`
	CreativeInstanceID string           `json:"creative_instance_id"`
	CreativeSetID      string           `json:"creative_set_id"`
	CampaignID         string           `json:"campaign_id"`
	AdvertiserID       string           `json:"advertiser_id"`
	Segment            string           `json:"segment"`
	Format             AdFormat         `json:"format"`
	Type               ConfirmationType `json:"type"`
	CreatedAt          time.Time        `json:"created_at"`
}

// NewAdEvent builds an event for the given creative.
func NewAdEvent(ad CreativeAd, placementID string, ct ConfirmationType, at time.Time) AdEvent {
	return AdEvent{
		PlacementID:        placementID,
		CreativeInstanceID: ad.CreativeInstanceID,
		CreativeSetID:      ad.CreativeSetID,
		CampaignID:         ad.CampaignID,
		AdvertiserID:       ad.AdvertiserID,
		Segment:            ad.Segment,
		Format:             ad.Format,
		Type:               ct,
		CreatedAt:          at,
	}
}

// AdResponse is returned to clients for a served ad.
type AdResponse struct {
	PlacementID        string   `json:"placement_id"`
	CreativeInstanceID string   `json:"creative_instance_id"`
	CreativeSetID      string   `json:"creative_set_id"`
	CampaignID         string   `json:"campaign_id"`
	AdvertiserID       string   `json:"advertiser_id"`
	Format             AdFormat `json:"format"`
	Segment            string   `json:"segment"`
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	TargetURL          string   `json:"target_url"`
	Value              float64  `json:"value"`
	Score              float64  `json:"score"`
	Token              string   `json:"token,omitempty"`
}
