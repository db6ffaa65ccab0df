package logic

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/patrickwarner/attestads/internal/geoip"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestResolveTargetingFromUA(t *testing.T) {
	tests := []struct {
		name             string
		ua               string
		expectedPlatform string
		expectedIsBot    bool
	}{
		{
			name:             "Windows Chrome",
			ua:               "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36",
			expectedPlatform: PlatformDesktop,
		},
		{
			name:             "iPhone Safari",
			ua:               "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedPlatform: PlatformMobile,
		},
		{
			name:             "Android Chrome",
			ua:               "Mozilla/5.0 (Linux; Android 11; SM-G975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.58 Mobile Safari/537.36",
			expectedPlatform: PlatformMobile,
		},
		{
			name:             "iPad Safari",
			ua:               "Mozilla/5.0 (iPad; CPU OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedPlatform: PlatformTablet,
		},
		{
			name:             "Googlebot",
			ua:               "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			expectedPlatform: PlatformDesktop, // uasurfer identifies Googlebot as DeviceComputer
			expectedIsBot:    true,
		},
		{
			name:             "Empty UA",
			ua:               "",
			expectedPlatform: PlatformOther,
		},
		{
			name:             "Bogus UA",
			ua:               "completely-bogus-ua-string-12345",
			expectedPlatform: PlatformOther,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := ResolveTargetingFromUA(tc.ua)
			assert.Equal(t, tc.expectedPlatform, ctx.Platform)
			assert.Equal(t, tc.expectedIsBot, ctx.IsBot)
		})
	}
}

func TestResolveTargeting(t *testing.T) {
	g := geoip.FromRanges(map[string]string{"203.0.113.0/24": "de"})
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	ctx := ResolveTargeting(g, "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36", "203.0.113.9", now)
	assert.Equal(t, "DE", ctx.Country)
	assert.Equal(t, PlatformDesktop, ctx.Platform)
	assert.Equal(t, now, ctx.Now)

	ctx = ResolveTargeting(nil, "", "not-an-ip", now)
	assert.Equal(t, "", ctx.Country)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.4:5555"
	assert.Equal(t, "198.51.100.4", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestMatchesTargeting(t *testing.T) {
	// Monday 09:30 UTC
	monday := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name          string
		ad            models.CreativeAd
		userContext   models.TargetingContext
		expectedMatch bool
	}{
		{
			name:          "No targeting rules",
			ad:            models.CreativeAd{CreativeInstanceID: "ci-1"},
			userContext:   models.TargetingContext{Platform: PlatformMobile, Country: "US", Now: monday},
			expectedMatch: true,
		},
		{
			name:          "Geo match is case insensitive",
			ad:            models.CreativeAd{GeoTargets: []string{"us", "CA"}},
			userContext:   models.TargetingContext{Country: "US", Now: monday},
			expectedMatch: true,
		},
		{
			name:          "Geo mismatch",
			ad:            models.CreativeAd{GeoTargets: []string{"US"}},
			userContext:   models.TargetingContext{Country: "DE", Now: monday},
			expectedMatch: false,
		},
		{
			name:          "Geo targeted with unknown country",
			ad:            models.CreativeAd{GeoTargets: []string{"US"}},
			userContext:   models.TargetingContext{Now: monday},
			expectedMatch: false,
		},
		{
			name:          "Platform mismatch",
			ad:            models.CreativeAd{Platforms: []string{PlatformDesktop}},
			userContext:   models.TargetingContext{Platform: PlatformMobile, Now: monday},
			expectedMatch: false,
		},
		{
			name:          "Inside daypart",
			ad:            models.CreativeAd{Dayparts: []models.Daypart{{DaysOfWeek: "1", StartMinute: 540, EndMinute: 600}}},
			userContext:   models.TargetingContext{Now: monday},
			expectedMatch: true,
		},
		{
			name: "Outside every daypart",
			ad: models.CreativeAd{Dayparts: []models.Daypart{
				{DaysOfWeek: "06", StartMinute: 0, EndMinute: 1439},
				{DaysOfWeek: "1", StartMinute: 600, EndMinute: 700},
			}},
			userContext:   models.TargetingContext{Now: monday},
			expectedMatch: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedMatch, MatchesTargeting(tc.ad, tc.userContext))
		})
	}
}
