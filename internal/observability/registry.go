package observability

import (
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry provides an interface for recording application metrics
// so components receive metrics through dependency injection.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// NEAR verification metrics
	IncrementVerificationStarted()
	IncrementVerificationCompleted(verified bool, reason string)
	IncrementVerificationRetries(reason string)
	SetVerificationActive(n int)
	IncrementVerificationRequests(status string)
	RecordVerificationRequestLatency(duration time.Duration)

	// Ad serving metrics
	IncrementAdsServed(format string)
	IncrementNoFill(format string)
	IncrementAdEvent(eventType string)
	RecordPredictorScore(format string, score float64)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementVerificationStarted() {
	VerificationStarted.Inc()
}

func (r *PrometheusRegistry) IncrementVerificationCompleted(verified bool, reason string) {
	VerificationCompleted.WithLabelValues(strconv.FormatBool(verified), reason).Inc()
}

func (r *PrometheusRegistry) IncrementVerificationRetries(reason string) {
	VerificationRetries.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) SetVerificationActive(n int) {
	VerificationActive.Set(float64(n))
}

func (r *PrometheusRegistry) IncrementVerificationRequests(status string) {
	VerificationRequests.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) RecordVerificationRequestLatency(duration time.Duration) {
	VerificationRequestLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdsServed(format string) {
	AdsServed.WithLabelValues(format).Inc()
}

func (r *PrometheusRegistry) IncrementNoFill(format string) {
	NoFillCount.WithLabelValues(format).Inc()
}

func (r *PrometheusRegistry) IncrementAdEvent(eventType string) {
	AdEventCount.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) RecordPredictorScore(format string, score float64) {
	PredictorScore.WithLabelValues(format).Observe(score)
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementVerificationStarted()                                        {}
func (r *NoOpRegistry) IncrementVerificationCompleted(verified bool, reason string)          {}
func (r *NoOpRegistry) IncrementVerificationRetries(reason string)                           {}
func (r *NoOpRegistry) SetVerificationActive(n int)                                          {}
func (r *NoOpRegistry) IncrementVerificationRequests(status string)                          {}
func (r *NoOpRegistry) RecordVerificationRequestLatency(duration time.Duration)              {}
func (r *NoOpRegistry) IncrementAdsServed(format string)                                     {}
func (r *NoOpRegistry) IncrementNoFill(format string)                                        {}
func (r *NoOpRegistry) IncrementAdEvent(eventType string)                                    {}
func (r *NoOpRegistry) RecordPredictorScore(format string, score float64)                    {}

// CountingRegistry records counter increments in memory. Tests use it to
// assert which outcomes a component reported.
type CountingRegistry struct {
	NoOpRegistry
	mu       sync.Mutex
	counters map[string]int
	active   int
}

// NewCountingRegistry creates an empty CountingRegistry.
func NewCountingRegistry() *CountingRegistry {
	return &CountingRegistry{counters: make(map[string]int)}
}

func (r *CountingRegistry) inc(key string) {
	r.mu.Lock()
	r.counters[key]++
	r.mu.Unlock()
}

// Count returns how many times key was incremented.
func (r *CountingRegistry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[key]
}

// Active returns the last value passed to SetVerificationActive.
func (r *CountingRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *CountingRegistry) IncrementVerificationStarted() { r.inc("verification_started") }

func (r *CountingRegistry) IncrementVerificationCompleted(verified bool, reason string) {
	r.inc("verification_completed:" + strconv.FormatBool(verified) + ":" + reason)
}

func (r *CountingRegistry) IncrementVerificationRetries(reason string) {
	r.inc("verification_retry:" + reason)
}

func (r *CountingRegistry) SetVerificationActive(n int) {
	r.mu.Lock()
	r.active = n
	r.mu.Unlock()
}

func (r *CountingRegistry) IncrementVerificationRequests(status string) {
	r.inc("verification_request:" + status)
}

func (r *CountingRegistry) IncrementAdsServed(format string)  { r.inc("ads_served:" + format) }
func (r *CountingRegistry) IncrementNoFill(format string)     { r.inc("nofill:" + format) }
func (r *CountingRegistry) IncrementAdEvent(eventType string) { r.inc("ad_event:" + eventType) }
