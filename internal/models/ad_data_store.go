package models

import (
	"sort"
	"sync/atomic"
)

// AdDataStore provides thread-safe access to creative ads without global
// variables. Reloads replace the whole data set atomically.
type AdDataStore interface {
	// Read operations (hot path)
	GetCreativeAd(creativeInstanceID string) *CreativeAd
	GetCreativeAdsByFormat(format AdFormat) []CreativeAd
	GetAllCreativeAds() []CreativeAd

	// Write operations (reload path)
	ReloadAll(ads []CreativeAd) error
}

// dataSnapshot represents an immutable snapshot of all ad data
type dataSnapshot struct {
	ads      []CreativeAd
	byID     map[string]*CreativeAd
	byFormat map[AdFormat][]CreativeAd
}

// InMemoryAdDataStore implements AdDataStore with atomic snapshot updates
type InMemoryAdDataStore struct {
	// Atomic pointer to current data snapshot
	data atomic.Pointer[dataSnapshot]
}

// NewInMemoryAdDataStore creates a new AdDataStore instance
func NewInMemoryAdDataStore() *InMemoryAdDataStore {
	store := &InMemoryAdDataStore{}
	store.data.Store(buildSnapshot(nil))
	return store
}

func buildSnapshot(ads []CreativeAd) *dataSnapshot {
	snap := &dataSnapshot{
		ads:      make([]CreativeAd, len(ads)),
		byID:     make(map[string]*CreativeAd, len(ads)),
		byFormat: make(map[AdFormat][]CreativeAd),
	}
	copy(snap.ads, ads)
	sort.SliceStable(snap.ads, func(i, j int) bool {
		return snap.ads[i].CreativeInstanceID < snap.ads[j].CreativeInstanceID
	})
	for i := range snap.ads {
		ad := &snap.ads[i]
		snap.byID[ad.CreativeInstanceID] = ad
		snap.byFormat[ad.Format] = append(snap.byFormat[ad.Format], *ad)
	}
	return snap
}

// GetCreativeAd retrieves a creative by creative instance ID.
func (s *InMemoryAdDataStore) GetCreativeAd(creativeInstanceID string) *CreativeAd {
	if ad, ok := s.data.Load().byID[creativeInstanceID]; ok {
		cp := *ad
		return &cp
	}
	return nil
}

// GetCreativeAdsByFormat returns the creatives for an ad format.
func (s *InMemoryAdDataStore) GetCreativeAdsByFormat(format AdFormat) []CreativeAd {
	ads := s.data.Load().byFormat[format]
	if len(ads) == 0 {
		return nil
	}
	// Return a copy to prevent external modification
	out := make([]CreativeAd, len(ads))
	copy(out, ads)
	return out
}

// GetAllCreativeAds returns every creative.
func (s *InMemoryAdDataStore) GetAllCreativeAds() []CreativeAd {
	data := s.data.Load()
	out := make([]CreativeAd, len(data.ads))
	copy(out, data.ads)
	return out
}

// ReloadAll replaces all creatives and rebuilds indexes.
func (s *InMemoryAdDataStore) ReloadAll(ads []CreativeAd) error {
	for _, ad := range ads {
		if ad.CreativeInstanceID == "" {
			return ErrInvalidEntity
		}
	}
	s.data.Store(buildSnapshot(ads))
	return nil
}
