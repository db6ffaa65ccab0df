package models

import "time"

// TargetingContext holds request-derived information used by eligibility
// filters. Platform and IsBot come from the User-Agent; Country from the
// client IP unless the client supplied one.
type TargetingContext struct {
	Platform string // "desktop", "mobile", "tablet" or "other".
	IsBot    bool
	Country  string // ISO 3166-1 alpha-2.
	// Now is the evaluation time; filters and recency scoring use it instead
	// of the wall clock so a serve request is evaluated at one instant.
	Now time.Time
}
