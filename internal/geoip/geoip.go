package geoip

import (
	"encoding/json"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP provides country lookup using a MaxMind DB or a JSON fallback.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
}

// Init opens the GeoIP2 database located at path. When the file is not a
// MaxMind database it is read as a JSON list of {"net", "country"} entries.
func Init(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	ranges := make(map[string]string, len(entries))
	for _, e := range entries {
		ranges[e.Net] = e.Country
	}
	return FromRanges(ranges), nil
}

// FromRanges builds a lookup from CIDR ranges to country codes. Invalid
// ranges are skipped.
func FromRanges(ranges map[string]string) *GeoIP {
	g := &GeoIP{}
	for cidr, country := range ranges {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			g.fallback = append(g.fallback, record{net: n, country: strings.ToUpper(country)})
		}
	}
	return g
}

// Country returns the ISO country code for the given IP. If the IP is not found
// in the database or the database hasn't been initialised, an empty string is returned.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil {
		return ""
	}
	if g.db != nil {
		rec, err := g.db.Country(ip)
		if err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
