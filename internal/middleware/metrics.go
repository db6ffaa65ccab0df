package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/patrickwarner/attestads/internal/observability"
)

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests to endpoint by status and records their latency.
func Instrument(metrics observability.MetricsRegistry, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.IncrementRequests(endpoint, r.Method, strconv.Itoa(rec.status))
		metrics.RecordRequestLatency(endpoint, r.Method, time.Since(start))
	}
}
