package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/analytics"
	"github.com/patrickwarner/attestads/internal/config"
	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/geoip"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/middleware"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/nearverify"
	"github.com/patrickwarner/attestads/internal/observability"
)

// defaultVerificationTTL is how long a turn's verification state stays cached when
// the configuration does not say otherwise.
const defaultVerificationTTL = 24 * time.Hour

// pendingMargin is added to the longest a verification can stay pending to
// get the TTL of the pending marker. Turns still verifying after it expires
// are answered from the verifier's in-memory state.
const pendingMargin = time.Minute

// callbackTimeout bounds the writes made when a verdict arrives.
const callbackTimeout = 5 * time.Second

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Store       *db.RedisStore
	Events      db.AdEventStore
	Creatives   db.CreativeAdLoader
	Analytics   analytics.AnalyticsService
	GeoIP       *geoip.GeoIP
	Selector    selectors.Selector
	Verifier    *nearverify.Verifier
	AdDataStore models.AdDataStore
	Metrics     observability.MetricsRegistry
	Config      config.Config
	Clock       clockwork.Clock
	DebugTrace  bool
	TokenSecret []byte
	TokenTTL    time.Duration
	reloadMu    sync.Mutex

	// turnMu orders pending markers against verdicts so a verdict of an
	// earlier run never replaces the marker of a live one.
	turnMu sync.Mutex
}

// NewServer constructs a Server. The verifier is created from client and
// models and reports verdicts to the server.
func NewServer(logger *zap.Logger, store *db.RedisStore, events db.AdEventStore, creatives db.CreativeAdLoader,
	analyticsSvc analytics.AnalyticsService, geo *geoip.GeoIP, selector selectors.Selector,
	client nearverify.HTTPClient, modelStore models.ModelStore, adDataStore models.AdDataStore,
	metrics observability.MetricsRegistry, clock clockwork.Clock, cfg config.Config) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		Logger:      logger,
		Store:       store,
		Events:      events,
		Creatives:   creatives,
		Analytics:   analyticsSvc,
		GeoIP:       geo,
		Selector:    selector,
		AdDataStore: adDataStore,
		Metrics:     metrics,
		Config:      cfg,
		Clock:       clock,
		DebugTrace:  cfg.DebugTrace,
		TokenSecret: []byte(cfg.TokenSecret),
		TokenTTL:    cfg.TokenTTL,
	}
	s.Verifier = nearverify.NewVerifier(client, modelStore, s.OnTurnVerified, nearverify.Options{
		PendingRetryInterval:     cfg.NEARPendingRetryInterval,
		ServerErrorRetryInterval: cfg.NEARServerErrorRetryInterval,
		MaxPendingDuration:       cfg.NEARMaxPendingDuration,
		Clock:                    clock,
		Logger:                   logger.Named("nearverify"),
		Metrics:                  metrics,
	})
	return s
}

// OnTurnVerified caches the verdict for the turn and records it for
// analytics. It runs on the verifier's goroutines. The cached state is left
// alone when the turn was posted again and is being verified anew.
func (s *Server) OnTurnVerified(turnID string, verified bool) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	state := db.VerificationUnverified
	if verified {
		state = db.VerificationVerified
	}
	s.turnMu.Lock()
	if s.Verifier.IsVerifying(turnID) {
		s.Logger.Debug("turn verified again, keeping pending state", zap.String("turn_id", turnID))
	} else {
		s.cacheVerificationState(ctx, turnID, state, s.verificationTTL())
	}
	s.turnMu.Unlock()

	if s.Analytics != nil {
		err := s.Analytics.RecordVerification(ctx, turnID, verified, s.Clock.Now())
		if err != nil && !errors.Is(err, analytics.ErrUnavailable) {
			s.Logger.Error("analytics record verification", zap.String("turn_id", turnID), zap.Error(err))
		}
	}
}

func (s *Server) cacheVerificationState(ctx context.Context, turnID, state string, ttl time.Duration) {
	if s.Store == nil || s.Store.Client == nil {
		return
	}
	if err := s.Store.SetVerificationState(ctx, turnID, state, ttl); err != nil {
		s.Logger.Error("cache verification state",
			zap.String("turn_id", turnID),
			zap.String("state", state),
			zap.Error(err))
	}
}

func (s *Server) verificationTTL() time.Duration {
	if s.Config.VerificationResultTTL > 0 {
		return s.Config.VerificationResultTTL
	}
	return defaultVerificationTTL
}

func (s *Server) pendingTTL() time.Duration {
	maxPending := s.Config.NEARMaxPendingDuration
	if maxPending <= 0 {
		maxPending = nearverify.DefaultMaxPendingDuration
	}
	return maxPending + pendingMargin
}

// Reload refreshes creative ads from SQLite.
func (s *Server) Reload(ctx context.Context) (int, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.Creatives == nil {
		return 0, fmt.Errorf("creative store unavailable")
	}
	n, err := db.ReloadCreativeAds(ctx, s.Creatives, s.AdDataStore)
	if err != nil {
		return 0, err
	}
	s.Logger.Info("creative ads reloaded", zap.Int("count", n))
	return n, nil
}

// Close stops verification and caches every turn still under verification
// as unverified.
func (s *Server) Close() {
	if s.Verifier == nil {
		return
	}
	abandoned := s.Verifier.Close()
	if len(abandoned) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	for _, turnID := range abandoned {
		s.cacheVerificationState(ctx, turnID, db.VerificationUnverified, s.verificationTTL())
	}
	s.Logger.Warn("abandoned turns under verification", zap.Int("count", len(abandoned)))
}

// Router wires every endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations/turns", middleware.Instrument(s.Metrics, "turns", s.TurnHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/turns/{uuid}/verification",
		middleware.Instrument(s.Metrics, "turn_verification", s.VerificationHandler)).Methods(http.MethodGet)
	v1.HandleFunc("/ads/serve", middleware.Instrument(s.Metrics, "ads_serve", s.ServeAdHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/ads/events", middleware.Instrument(s.Metrics, "ads_events", s.AdEventHandler)).Methods(http.MethodPost)

	r.HandleFunc("/health", middleware.Instrument(s.Metrics, "health", s.HealthHandler)).Methods(http.MethodGet)
	r.HandleFunc("/reload", middleware.Instrument(s.Metrics, "reload", s.ReloadHandler)).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())
	return r
}
