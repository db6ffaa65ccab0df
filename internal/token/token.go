package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/patrickwarner/attestads/internal/models"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// payload structure for encoding/decoding
type payload struct {
	PlacementID        string `json:"pl"`
	CreativeInstanceID string `json:"ci"`
	CreativeSetID      string `json:"cs"`
	CampaignID         string `json:"c"`
	AdvertiserID       string `json:"a"`
	Segment            string `json:"s"`
	Format             string `json:"f"`
	TS                 int64  `json:"t"`
}

// Claims identify the served ad an event refers to.
type Claims struct {
	PlacementID        string
	CreativeInstanceID string
	CreativeSetID      string
	CampaignID         string
	AdvertiserID       string
	Segment            string
	Format             models.AdFormat
	IssuedAt           time.Time
}

// ClaimsFor builds the claims of a served ad response.
func ClaimsFor(resp *models.AdResponse) Claims {
	return Claims{
		PlacementID:        resp.PlacementID,
		CreativeInstanceID: resp.CreativeInstanceID,
		CreativeSetID:      resp.CreativeSetID,
		CampaignID:         resp.CampaignID,
		AdvertiserID:       resp.AdvertiserID,
		Segment:            resp.Segment,
		Format:             resp.Format,
	}
}

// Event converts the claims into an ad event of type ct.
func (c Claims) Event(ct models.ConfirmationType, at time.Time) models.AdEvent {
	return models.AdEvent{
		PlacementID:        c.PlacementID,
		CreativeInstanceID: c.CreativeInstanceID,
		CreativeSetID:      c.CreativeSetID,
		CampaignID:         c.CampaignID,
		AdvertiserID:       c.AdvertiserID,
		Segment:            c.Segment,
		Format:             c.Format,
		Type:               ct,
		CreatedAt:          at,
	}
}

// Generate creates a signed token for the claims, issued now.
func Generate(c Claims, secret []byte) (string, error) {
	return GenerateAt(c, secret, time.Now())
}

// GenerateAt creates a signed token issued at the given time.
func GenerateAt(c Claims, secret []byte, at time.Time) (string, error) {
	pl := payload{
		PlacementID:        c.PlacementID,
		CreativeInstanceID: c.CreativeInstanceID,
		CreativeSetID:      c.CreativeSetID,
		CampaignID:         c.CampaignID,
		AdvertiserID:       c.AdvertiserID,
		Segment:            c.Segment,
		Format:             string(c.Format),
		TS:                 at.Unix(),
	}
	data, err := json.Marshal(pl)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token integrity and expiry and returns its claims.
func Verify(token string, secret []byte, ttl time.Duration) (Claims, error) {
	return VerifyAt(token, secret, ttl, time.Now())
}

// VerifyAt is Verify evaluated at now. A ttl of 0 disables the expiry check.
func VerifyAt(token string, secret []byte, ttl time.Duration, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return Claims{}, ErrInvalid
	}
	issued := time.Unix(pl.TS, 0)
	if ttl > 0 && now.Sub(issued) > ttl {
		return Claims{}, ErrExpired
	}
	return Claims{
		PlacementID:        pl.PlacementID,
		CreativeInstanceID: pl.CreativeInstanceID,
		CreativeSetID:      pl.CreativeSetID,
		CampaignID:         pl.CampaignID,
		AdvertiserID:       pl.AdvertiserID,
		Segment:            pl.Segment,
		Format:             models.AdFormat(pl.Format),
		IssuedAt:           issued,
	}, nil
}
