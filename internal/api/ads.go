package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/analytics"
	"github.com/patrickwarner/attestads/internal/logic"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/middleware"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/observability"
	"github.com/patrickwarner/attestads/internal/token"
)

var tracer = observability.Tracer("api")

// serveRequest is the body of POST /v1/ads/serve.
type serveRequest struct {
	Format string           `json:"format"`
	User   models.UserModel `json:"user"`
	// Country overrides the GeoIP lookup when set.
	Country string `json:"country,omitempty"`
}

// clientEventTypes are the confirmations a client may report. Served events
// are recorded by the server itself.
var clientEventTypes = map[models.ConfirmationType]struct{}{
	models.ConfirmationViewed:    {},
	models.ConfirmationClicked:   {},
	models.ConfirmationDismissed: {},
	models.ConfirmationFlagged:   {},
}

// ServeAdHandler handles POST /v1/ads/serve. It answers with the chosen ad,
// or 204 when nothing is eligible.
func (s *Server) ServeAdHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ServeAdHandler",
		trace.WithAttributes(attribute.String("http.route", "/v1/ads/serve")))
	defer span.End()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	var req serveRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.Warn("decode serve request", zap.Error(err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	format, ok := models.ParseAdFormat(req.Format)
	if !ok {
		http.Error(w, "unknown ad format", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("ad.format", string(format)))

	now := s.Clock.Now()
	targetingCtx := logic.ResolveTargeting(s.GeoIP, r.UserAgent(), logic.ClientIP(r), now)
	if req.Country != "" {
		targetingCtx.Country = strings.ToUpper(req.Country)
	}
	if targetingCtx.IsBot {
		span.SetAttributes(attribute.String("ad.result", "bot"))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	history, summary, err := logic.LoadAdHistory(ctx, s.Events, now, s.Config.AdEventRetention)
	if err != nil {
		logger.Error("load ad event history", zap.Error(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	debugEnabled := s.DebugTrace || r.URL.Query().Get("debug") == "1"
	var selTrace *logic.SelectionTrace
	if debugEnabled {
		selTrace = &logic.SelectionTrace{}
	}

	ad, err := s.Selector.SelectAd(ctx, selectors.Request{
		Format:    format,
		User:      req.User,
		Events:    history,
		Summary:   &summary,
		Targeting: targetingCtx,
		Trace:     selTrace,
	})
	if err != nil {
		if errors.Is(err, selectors.ErrNoEligibleAd) || errors.Is(err, selectors.ErrHourlyCapReached) {
			span.SetAttributes(attribute.String("ad.result", "no_fill"))
			if observability.ShouldSample(observability.GetSamplingRate()) {
				logger.Info("no fill", zap.String("format", string(format)), zap.Error(err))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logger.Error("select ad", zap.Error(err))
		http.Error(w, "selection failed", http.StatusInternalServerError)
		return
	}

	claims := token.ClaimsFor(ad)
	ad.Token, err = token.Generate(claims, s.TokenSecret)
	if err != nil {
		logger.Error("generate token", zap.Error(err))
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}

	served := claims.Event(models.ConfirmationServed, now)
	if err := s.recordAdEvent(ctx, logger, served, targetingCtx); err != nil {
		http.Error(w, "event store unavailable", http.StatusInternalServerError)
		return
	}
	if creative := s.AdDataStore.GetCreativeAd(ad.CreativeInstanceID); creative != nil && s.Store != nil {
		if err := logic.RecordHourlyServe(s.Store, *creative, now); err != nil {
			logger.Warn("record hourly serve", zap.Error(err))
		}
	}

	span.SetAttributes(
		attribute.String("ad.result", "filled"),
		attribute.String("ad.creative_instance_id", ad.CreativeInstanceID),
		attribute.Float64("ad.score", ad.Score),
	)
	out := struct {
		*models.AdResponse
		Debug any `json:"debug,omitempty"`
	}{AdResponse: ad}
	if debugEnabled {
		out.Debug = map[string]any{"trace": selTrace}
	}
	writeJSON(w, http.StatusOK, out)
}

// AdEventHandler handles POST /v1/ads/events?t={token}&type={type}.
func (s *Server) AdEventHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)

	tok := r.URL.Query().Get("t")
	if tok == "" {
		s.Metrics.IncrementAdEvent("bad_event")
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	now := s.Clock.Now()
	claims, err := token.VerifyAt(tok, s.TokenSecret, s.TokenTTL, now)
	if err != nil {
		logger.Warn("token verify", zap.Error(err))
		s.Metrics.IncrementAdEvent("bad_event")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	evType, ok := models.ParseConfirmationType(r.URL.Query().Get("type"))
	if _, allowed := clientEventTypes[evType]; !ok || !allowed {
		s.Metrics.IncrementAdEvent("bad_event")
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	targetingCtx := logic.ResolveTargeting(s.GeoIP, r.UserAgent(), logic.ClientIP(r), now)
	if err := s.recordAdEvent(r.Context(), logger, claims.Event(evType, now), targetingCtx); err != nil {
		http.Error(w, "event store unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordAdEvent appends ev to the history and updates counters and
// analytics. Only the history write is fatal.
func (s *Server) recordAdEvent(ctx context.Context, logger *zap.Logger, ev models.AdEvent, targetingCtx models.TargetingContext) error {
	if err := s.Events.RecordAdEvent(ctx, ev); err != nil {
		logger.Error("record ad event", zap.String("type", string(ev.Type)), zap.Error(err))
		return err
	}
	s.Metrics.IncrementAdEvent(string(ev.Type))

	if s.Store != nil && s.Store.Client != nil {
		if err := s.Store.IncrementAdEvent(ev.CreativeSetID, string(ev.Type), ev.CreatedAt); err != nil {
			logger.Warn("increment ad event counter", zap.Error(err))
		}
	}
	if s.Analytics != nil {
		err := s.Analytics.RecordAdEvent(ctx, ev, targetingCtx)
		if err != nil && !errors.Is(err, analytics.ErrUnavailable) {
			logger.Error("analytics record", zap.Error(err))
		}
	}
	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("ad event",
			zap.String("event_type", string(ev.Type)),
			zap.String("placement_id", ev.PlacementID),
			zap.String("creative_instance_id", ev.CreativeInstanceID))
	}
	return nil
}
