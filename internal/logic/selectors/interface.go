package selectors

import (
	"context"

	"github.com/patrickwarner/attestads/internal/logic"
	"github.com/patrickwarner/attestads/internal/models"
)

// Request describes one ad opportunity.
type Request struct {
	Format    models.AdFormat
	User      models.UserModel
	Events    []models.AdEvent         // the user's recent ad-event history, any order
	Summary   *models.AdHistorySummary // totals and flags older than Events, optional
	Targeting models.TargetingContext
	// Trace, when set, receives the candidate list at each stage.
	Trace *logic.SelectionTrace
}

// Selector defines a pluggable interface for ad selection.
type Selector interface {
	SelectAd(ctx context.Context, req Request) (*models.AdResponse, error)
}
