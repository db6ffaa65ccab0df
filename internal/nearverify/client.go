package nearverify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickwarner/attestads/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// maxBodySize bounds how much of a verification response is read.
const maxBodySize = 1 << 20

// Response is the part of an HTTP response the verifier inspects.
type Response struct {
	StatusCode int
	Body       []byte
}

// HTTPClient issues GET requests against the attestation service. A non-nil
// error means no response was received at all. Implementations must allow
// any number of concurrent calls.
type HTTPClient interface {
	Get(ctx context.Context, path string) (*Response, error)
}

// VerificationPath builds the attestation route for one completion log ID.
func VerificationPath(modelName, logID string) string {
	return "/v1/near-result-verification/" + url.PathEscape(modelName) + "/" + url.PathEscape(logID)
}

// Client is the default HTTPClient backed by net/http.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// NewClient creates a client for the attestation service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Get performs the request and returns the status code and body. Non-2xx
// statuses are not errors.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		c.metrics.RecordVerificationRequestLatency(time.Since(start))
		c.metrics.IncrementVerificationRequests(outcome)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	outcome = statusClass(resp.StatusCode)
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
