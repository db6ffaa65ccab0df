package models

// AdHistorySummary aggregates the parts of the ad-event history that
// eligibility needs over the whole retention period: total serves per
// creative set and everything the user flagged.
type AdHistorySummary struct {
	ServedByCreativeSet map[string]int
	FlaggedCreativeSets map[string]struct{}
	FlaggedAdvertisers  map[string]struct{}
}

// NewAdHistorySummary returns an empty summary.
func NewAdHistorySummary() AdHistorySummary {
	return AdHistorySummary{
		ServedByCreativeSet: make(map[string]int),
		FlaggedCreativeSets: make(map[string]struct{}),
		FlaggedAdvertisers:  make(map[string]struct{}),
	}
}

// Add folds one event into the summary.
func (s AdHistorySummary) Add(ev AdEvent) {
	switch ev.Type {
	case ConfirmationServed:
		s.ServedByCreativeSet[ev.CreativeSetID]++
	case ConfirmationFlagged:
		if ev.CreativeSetID != "" {
			s.FlaggedCreativeSets[ev.CreativeSetID] = struct{}{}
		}
		if ev.AdvertiserID != "" {
			s.FlaggedAdvertisers[ev.AdvertiserID] = struct{}{}
		}
	}
}

// SummarizeAdEvents builds a summary from individual events.
func SummarizeAdEvents(events []AdEvent) AdHistorySummary {
	s := NewAdHistorySummary()
	for _, ev := range events {
		s.Add(ev)
	}
	return s
}
