package token

import (
	"strings"
	"testing"
	"time"

	"github.com/patrickwarner/attestads/internal/models"
)

var issued = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

func testClaims() Claims {
	return Claims{
		PlacementID:        "pl-1",
		CreativeInstanceID: "ci-1",
		CreativeSetID:      "cs-1",
		CampaignID:         "c-1",
		AdvertiserID:       "a-1",
		Segment:            "sports-football",
		Format:             models.AdFormatNotification,
	}
}

func TestGenerateVerify(t *testing.T) {
	secret := []byte("secret")
	tok, err := GenerateAt(testClaims(), secret, issued)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := VerifyAt(tok, secret, time.Minute, issued.Add(30*time.Second))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := testClaims()
	want.IssuedAt = issued
	if !c.IssuedAt.Equal(want.IssuedAt) {
		t.Fatalf("issued at %v, want %v", c.IssuedAt, want.IssuedAt)
	}
	c.IssuedAt = want.IssuedAt
	if c != want {
		t.Fatalf("unexpected claims: %+v", c)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s")
	tok, err := GenerateAt(testClaims(), secret, issued)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := VerifyAt(tok, secret, time.Minute, issued.Add(2*time.Minute)); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := VerifyAt(tok, secret, 0, issued.Add(48*time.Hour)); err != nil {
		t.Fatalf("ttl 0 should not expire: %v", err)
	}
}

func TestVerifyInvalid(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate(testClaims(), secret)
	cases := map[string]string{
		"tampered signature": tok + "x",
		"wrong parts":        strings.Replace(tok, ".", "", 1),
		"bad base64":         "!!!." + strings.Split(tok, ".")[1],
		"empty":              "",
	}
	for name, in := range cases {
		if _, err := Verify(in, secret, time.Minute); err != ErrInvalid {
			t.Fatalf("%s: expected invalid, got %v", name, err)
		}
	}
	if _, err := Verify(tok, []byte("other"), time.Minute); err != ErrInvalid {
		t.Fatalf("wrong secret: expected invalid, got %v", err)
	}
}

func TestClaimsRoundTripThroughResponse(t *testing.T) {
	resp := &models.AdResponse{
		PlacementID:        "pl-9",
		CreativeInstanceID: "ci-9",
		CreativeSetID:      "cs-9",
		CampaignID:         "c-9",
		AdvertiserID:       "a-9",
		Segment:            "untargeted",
		Format:             models.AdFormatNewTabPage,
	}
	c := ClaimsFor(resp)
	ev := c.Event(models.ConfirmationClicked, issued)
	if ev.CreativeSetID != "cs-9" || ev.Type != models.ConfirmationClicked || ev.Format != models.AdFormatNewTabPage {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.CreatedAt.Equal(issued) {
		t.Fatalf("created at %v", ev.CreatedAt)
	}
}
