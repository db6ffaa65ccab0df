package models

import "strings"

// UntargetedSegment is the segment assigned to creatives that are shown
// regardless of the user's interests.
const UntargetedSegment = "untargeted"

// segmentSeparator splits a segment into its parent and child parts,
// e.g. "technology & computing-software".
const segmentSeparator = "-"

// ParentSegment returns the parent part of a hierarchical segment. A segment
// without a separator is its own parent.
func ParentSegment(segment string) string {
	if i := strings.Index(segment, segmentSeparator); i >= 0 {
		return segment[:i]
	}
	return segment
}

// ParentSegments returns the distinct parents of the given segments in
// first-seen order.
func ParentSegments(segments []string) []string {
	seen := make(map[string]struct{}, len(segments))
	var out []string
	for _, s := range segments {
		p := ParentSegment(s)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// UserModel holds the interest signals derived on the client for a user.
type UserModel struct {
	IntentSegments         []string `json:"intent_segments"`
	LatentInterestSegments []string `json:"latent_interest_segments"`
	InterestSegments       []string `json:"interest_segments"`
}
