package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/attestads/internal/analytics"
	"github.com/patrickwarner/attestads/internal/config"
	"github.com/patrickwarner/attestads/internal/db"
	"github.com/patrickwarner/attestads/internal/logic/predictor"
	"github.com/patrickwarner/attestads/internal/logic/selectors"
	"github.com/patrickwarner/attestads/internal/models"
	"github.com/patrickwarner/attestads/internal/nearverify"
	"github.com/patrickwarner/attestads/internal/observability"
)

var testNow = time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)

const (
	nearModelKey  = "near-llama"
	nearModelName = "llama-3.1-70b"
	desktopUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// memEvents is an in-memory ad-event store.
type memEvents struct {
	mu     sync.Mutex
	events []models.AdEvent
	since  []time.Time // arguments of GetAdEventsSince
}

func (m *memEvents) RecordAdEvent(ctx context.Context, ev models.AdEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) GetAdEventsSince(ctx context.Context, since time.Time) ([]models.AdEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = append(m.since, since)
	var out []models.AdEvent
	for _, ev := range m.events {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvents) SummarizeAdEventsSince(ctx context.Context, since time.Time) (models.AdHistorySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := models.NewAdHistorySummary()
	for _, ev := range m.events {
		if !ev.CreatedAt.Before(since) {
			summary.Add(ev)
		}
	}
	return summary, nil
}

func (m *memEvents) lastSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.since) == 0 {
		return time.Time{}
	}
	return m.since[len(m.since)-1]
}

func (m *memEvents) all() []models.AdEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AdEvent(nil), m.events...)
}

// staticCreatives serves a fixed creative list to Reload.
type staticCreatives []models.CreativeAd

func (s staticCreatives) LoadCreativeAds(ctx context.Context) ([]models.CreativeAd, error) {
	return s, nil
}

// nearStub answers attestation requests with a fixed body.
type nearStub struct {
	mu    sync.Mutex
	body  string
	paths []string
}

func (n *nearStub) Get(ctx context.Context, path string) (*nearverify.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return &nearverify.Response{StatusCode: http.StatusOK, Body: []byte(n.body)}, nil
}

type testEnv struct {
	srv       *Server
	handler   http.Handler
	redis     *miniredis.Miniredis
	store     *db.RedisStore
	events    *memEvents
	analytics *analytics.MockAnalytics
	near      *nearStub
	clock     *clockwork.FakeClock
	metrics   *observability.CountingRegistry
}

func newTestEnv(t *testing.T, creatives ...models.CreativeAd) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	store := &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Ctx:    context.Background(),
	}
	env := &testEnv{
		redis:     mr,
		store:     store,
		events:    &memEvents{},
		analytics: analytics.NewMockAnalytics(),
		near:      &nearStub{body: `{"status":true}`},
		clock:     clockwork.NewFakeClockAt(testNow),
		metrics:   observability.NewCountingRegistry(),
	}
	cfg := config.Config{
		TokenSecret:      "secret",
		TokenTTL:         time.Hour,
		AdEventRetention: 30 * 24 * time.Hour,
	}
	modelStore := models.NewTestModelStore(
		models.ChatModel{Key: nearModelKey, Name: nearModelName, IsNEAR: true},
		models.ChatModel{Key: "plain", Name: "plain-model"},
	)
	adStore := models.NewTestAdDataStore()
	require.NoError(t, adStore.ReloadAll(creatives))
	selector := selectors.NewPredictorSelector(store, adStore, predictor.WeightSet{}, predictor.Terms{}, env.metrics, nil)

	env.srv = NewServer(zap.NewNop(), store, env.events, staticCreatives(creatives), env.analytics, nil, selector,
		env.near, modelStore, adStore, env.metrics, env.clock, cfg)
	env.handler = env.srv.Router()
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("User-Agent", desktopUA)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func strPtr(s string) *string { return &s }

func nearTurn(id string, logIDs ...string) models.ConversationTurn {
	turn := models.ConversationTurn{UUID: strPtr(id), ModelKey: strPtr(nearModelKey)}
	for _, logID := range logIDs {
		turn.Events = append(turn.Events, models.CompletionEvent{Completion: "hi", LogID: strPtr(logID)})
	}
	return turn
}
