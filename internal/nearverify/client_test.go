package nearverify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/patrickwarner/attestads/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *observability.CountingRegistry) {
	t.Helper()
	server := httptest.NewServer(handler)
	metrics := observability.NewCountingRegistry()
	client := NewClient(server.URL+"/", time.Second, zap.NewNop(), metrics)
	t.Cleanup(func() {
		client.httpClient.CloseIdleConnections()
		server.Close()
	})
	return client, metrics
}

func TestClient_Get(t *testing.T) {
	client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/near-result-verification/llama-3.1-70b/log%2F1", r.URL.EscapedPath())
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true}`))
	})

	resp, err := client.Get(context.Background(), VerificationPath("llama-3.1-70b", "log/1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":true}`, string(resp.Body))
	assert.Equal(t, 1, metrics.Count("verification_request:2xx"))
}

func TestClient_NonSuccessStatusIsNotAnError(t *testing.T) {
	client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	resp, err := client.Get(context.Background(), VerificationPath("m", "l"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(resp.Body), "upstream down"))
	assert.Equal(t, 1, metrics.Count("verification_request:5xx"))
}

func TestClient_CancelledContext(t *testing.T) {
	client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Get(ctx, VerificationPath("m", "l"))
	require.Error(t, err)
	assert.Equal(t, 1, metrics.Count("verification_request:error"))
}

func TestClient_BodyIsBounded(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxBodySize+10)))
	})

	resp, err := client.Get(context.Background(), VerificationPath("m", "l"))
	require.NoError(t, err)
	assert.Len(t, resp.Body, maxBodySize)
}

func TestClient_UnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second, nil, nil)
	_, err := client.Get(context.Background(), "/v1/near-result-verification/m/l")
	assert.Error(t, err)
}
