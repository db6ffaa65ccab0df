package nearverify

import (
	"encoding/json"
)

// attestation is the outcome carried by one verification response body.
type attestation int

const (
	// attestationInvalid covers bodies that are not a JSON object and status
	// values of an unexpected type.
	attestationInvalid attestation = iota
	attestationPending
	attestationVerified
	attestationRejected
)

func (a attestation) String() string {
	switch a {
	case attestationPending:
		return "pending"
	case attestationVerified:
		return "verified"
	case attestationRejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// parseAttestation classifies a verification response body. The body must be
// a JSON object; its "status" member decides the outcome:
//
//	true           verified
//	false          rejected
//	null / absent  pending
//	anything else  invalid
func parseAttestation(body []byte) attestation {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return attestationInvalid
	}
	raw, ok := obj["status"]
	if !ok {
		return attestationPending
	}
	var status any
	if err := json.Unmarshal(raw, &status); err != nil {
		return attestationInvalid
	}
	switch s := status.(type) {
	case nil:
		return attestationPending
	case bool:
		if s {
			return attestationVerified
		}
		return attestationRejected
	default:
		return attestationInvalid
	}
}
