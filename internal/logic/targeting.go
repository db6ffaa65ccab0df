package logic

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/attestads/internal/geoip"
	"github.com/patrickwarner/attestads/internal/models"
)

// Platform names used by creative platform targeting.
const (
	PlatformDesktop = "desktop"
	PlatformMobile  = "mobile"
	PlatformTablet  = "tablet"
	PlatformOther   = "other"
)

// ResolveTargetingFromUA parses a raw User-Agent string into the platform
// and bot flag of a TargetingContext.
func ResolveTargetingFromUA(uaString string) models.TargetingContext {
	u := uasurfer.Parse(uaString)

	var platform string
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		platform = PlatformDesktop
	case uasurfer.DevicePhone:
		platform = PlatformMobile
	case uasurfer.DeviceTablet:
		platform = PlatformTablet
	default:
		platform = PlatformOther
	}

	return models.TargetingContext{
		Platform: platform,
		IsBot:    u.IsBot(),
	}
}

// ResolveTargeting builds a TargetingContext from the UA string and IP
// address, evaluated at now.
func ResolveTargeting(g *geoip.GeoIP, uaString, ipString string, now time.Time) models.TargetingContext {
	ctx := ResolveTargetingFromUA(uaString)
	if ip := net.ParseIP(ipString); ip != nil && g != nil {
		ctx.Country = g.Country(ip)
	}
	ctx.Now = now
	return ctx
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For entry.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			xff = xff[:idx]
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// MatchesTargeting checks the creative's geo, platform and daypart rules
// against the request. Empty rule lists match everything.
func MatchesTargeting(ad models.CreativeAd, ctx models.TargetingContext) bool {
	if len(ad.GeoTargets) > 0 && !containsFold(ad.GeoTargets, ctx.Country) {
		return false
	}
	if len(ad.Platforms) > 0 && !containsFold(ad.Platforms, ctx.Platform) {
		return false
	}
	return MatchesDayparts(ad, ctx.Now)
}

// MatchesDayparts reports whether now falls inside any of the creative's
// dayparts.
func MatchesDayparts(ad models.CreativeAd, now time.Time) bool {
	if len(ad.Dayparts) == 0 {
		return true
	}
	for _, dp := range ad.Dayparts {
		if dp.Matches(now) {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
