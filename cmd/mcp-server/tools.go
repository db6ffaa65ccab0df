package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/models"
)

type GetTurnVerificationInput struct {
	TurnID string `json:"turn_id"`
}

type GetTurnVerificationOutput struct {
	TurnID string `json:"turn_id"`
	Status string `json:"status"` // pending, verified, unverified or unknown
}

type ScoreAdsInput struct {
	Format                 string   `json:"format"`
	IntentSegments         []string `json:"intent_segments,omitempty"`
	LatentInterestSegments []string `json:"latent_interest_segments,omitempty"`
	InterestSegments       []string `json:"interest_segments,omitempty"`
	Country                string   `json:"country,omitempty"`
	Platform               string   `json:"platform,omitempty"`
}

type ScoredCandidate struct {
	CreativeInstanceID string  `json:"creative_instance_id"`
	CreativeSetID      string  `json:"creative_set_id"`
	AdvertiserID       string  `json:"advertiser_id"`
	Segment            string  `json:"segment"`
	Score              float64 `json:"score"`
	ServedToday        int64   `json:"served_today"`
	ClickedToday       int64   `json:"clicked_today"`
}

type ScoreAdsOutput struct {
	Format     string            `json:"format"`
	Candidates []ScoredCandidate `json:"candidates"`
}

// ToolServer holds the dependencies of the MCP tools.
type ToolServer struct {
	store     *db.RedisStore
	events    db.AdEventStore
	selector  *selectors.PredictorSelector
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// GetTurnVerification reports the cached verification state of a turn.
func (s *ToolServer) GetTurnVerification(ctx context.Context, req *mcp.CallToolRequest, input GetTurnVerificationInput) (*mcp.CallToolResult, GetTurnVerificationOutput, error) {
	if strings.TrimSpace(input.TurnID) == "" {
		return nil, GetTurnVerificationOutput{}, fmt.Errorf("turn_id is required")
	}
	state, err := s.store.GetVerificationState(ctx, input.TurnID)
	if errors.Is(err, db.ErrVerificationNotFound) {
		return nil, GetTurnVerificationOutput{TurnID: input.TurnID, Status: "unknown"}, nil
	}
	if err != nil {
		return nil, GetTurnVerificationOutput{}, fmt.Errorf("read verification state: %w", err)
	}
	return nil, GetTurnVerificationOutput{TurnID: input.TurnID, Status: state}, nil
}

// ScoreAds runs eligibility and scoring for a hypothetical user without
// serving anything.
func (s *ToolServer) ScoreAds(ctx context.Context, req *mcp.CallToolRequest, input ScoreAdsInput) (*mcp.CallToolResult, ScoreAdsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	format, ok := models.ParseAdFormat(input.Format)
	if !ok {
		return nil, ScoreAdsOutput{}, fmt.Errorf("unknown ad format %q", input.Format)
	}
	now := s.now()
	var (
		history []models.AdEvent
		summary *models.AdHistorySummary
	)
	if s.events != nil {
		events, sum, err := logic.LoadAdHistory(ctx, s.events, now, s.retention)
		if err != nil {
			return nil, ScoreAdsOutput{}, err
		}
		history, summary = events, &sum
	}

	ads, scores, err := s.selector.Candidates(ctx, selectors.Request{
		Format: format,
		User: models.UserModel{
			IntentSegments:         input.IntentSegments,
			LatentInterestSegments: input.LatentInterestSegments,
			InterestSegments:       input.InterestSegments,
		},
		Events:  history,
		Summary: summary,
		Targeting: models.TargetingContext{
			Country:  strings.ToUpper(input.Country),
			Platform: input.Platform,
			Now:      now,
		},
	})
	if err != nil && !errors.Is(err, selectors.ErrHourlyCapReached) {
		return nil, ScoreAdsOutput{}, fmt.Errorf("score ads: %w", err)
	}

	out := ScoreAdsOutput{Format: string(format), Candidates: []ScoredCandidate{}}
	for i, ad := range ads {
		out.Candidates = append(out.Candidates, ScoredCandidate{
			CreativeInstanceID: ad.CreativeInstanceID,
			CreativeSetID:      ad.CreativeSetID,
			AdvertiserID:       ad.AdvertiserID,
			Segment:            ad.Segment,
			Score:              scores[i],
			ServedToday:        s.dailyCount(ad.CreativeSetID, "served", now),
			ClickedToday:       s.dailyCount(ad.CreativeSetID, "clicked", now),
		})
	}
	s.logger.Info("scored ads", zap.String("format", input.Format), zap.Int("candidates", len(out.Candidates)))
	return nil, out, nil
}

// dailyCount reads a per-set daily event counter. The counters are
// informational, so a Redis error reports zero.
func (s *ToolServer) dailyCount(creativeSetID, eventType string, now time.Time) int64 {
	n, err := s.store.GetAdEventCount(creativeSetID, eventType, now)
	if err != nil {
		s.logger.Warn("read daily event counter",
			zap.String("creative_set_id", creativeSetID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return 0
	}
	return n
}

func registerTools(server *mcp.Server, ts *ToolServer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_turn_verification",
		Description: "Look up the NEAR attestation verdict of a conversation turn",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"turn_id": map[string]interface{}{
					"type":        "string",
					"description": "UUID of the conversation turn",
				},
			},
			"required": []string{"turn_id"},
		},
	}, ts.GetTurnVerification)

	segmentList := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": desc,
		}
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "score_ads",
		Description: "Score every eligible creative ad of a format for the given user segments, with today's served and clicked counts per creative set",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"format": map[string]interface{}{
					"type": "string",
					"enum": []string{
						string(models.AdFormatNotification),
						string(models.AdFormatInlineContent),
						string(models.AdFormatNewTabPage),
					},
					"description": "Ad format to score",
				},
				"intent_segments":          segmentList("Intent segments of the user"),
				"latent_interest_segments": segmentList("Latent interest segments of the user"),
				"interest_segments":        segmentList("Interest segments of the user"),
				"country": map[string]interface{}{
					"type":        "string",
					"description": "ISO country code used for geo targeting (optional)",
				},
				"platform": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"desktop", "mobile", "tablet", "other"},
					"description": "Platform used for platform targeting (optional)",
				},
			},
			"required": []string{"format"},
		},
	}, ts.ScoreAds)
}
