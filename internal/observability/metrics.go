package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attestads_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// turns entering verification
	VerificationStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attestads_near_verifications_started_total",
			Help: "Conversation turns that entered NEAR verification",
		},
	)

	// turns leaving verification, labelled by result and the reason that ended them
	VerificationCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_near_verifications_completed_total",
			Help: "Conversation turns that finished NEAR verification",
		},
		[]string{"verified", "reason"},
	)

	// retries scheduled per log ID, labelled by reason
	VerificationRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_near_verification_retries_total",
			Help: "Verification retries scheduled",
		},
		[]string{"reason"},
	)

	// turns currently under verification
	VerificationActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attestads_near_verifications_active",
			Help: "Conversation turns currently under verification",
		},
	)

	// attestation endpoint calls labelled by status class
	VerificationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_near_requests_total",
			Help: "Requests sent to the attestation endpoint",
		},
		[]string{"status"},
	)

	// latency of attestation endpoint calls
	VerificationRequestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attestads_near_request_duration_seconds",
			Help:    "Duration of attestation endpoint requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ads served per format
	AdsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_ads_served_total",
			Help: "Ads served",
		},
		[]string{"format"},
	)

	// serve requests with no eligible ad
	NoFillCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_nofill_total",
			Help: "Serve requests without an eligible ad",
		},
		[]string{"format"},
	)

	// ad events recorded, labelled by confirmation type
	AdEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attestads_ad_events_total",
			Help: "Ad events recorded",
		},
		[]string{"type"},
	)

	// predictor scores of chosen ads
	PredictorScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attestads_predictor_score",
			Help:    "Predictor score of the chosen ad",
			Buckets: prometheus.LinearBuckets(0, 0.5, 21),
		},
		[]string{"format"},
	)

	// eligibility filtering duration by candidate pool size and outcome
	FilterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attestads_filter_duration_seconds",
			Help:    "Duration of eligibility filtering",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"creative_count", "result"},
	)

	// candidates left after the last selection stage
	FilterStageCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attestads_filter_stage_creatives",
			Help: "Creatives remaining after a selection stage",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		VerificationStarted,
		VerificationCompleted,
		VerificationRetries,
		VerificationActive,
		VerificationRequests,
		VerificationRequestLatency,
		AdsServed,
		NoFillCount,
		AdEventCount,
		PredictorScore,
		FilterDuration,
		FilterStageCount,
	)
}

// GetCreativeCountBucket maps a candidate pool size to a low-cardinality label.
func GetCreativeCountBucket(n int) string {
	switch {
	case n == 0:
		return "0"
	case n <= 10:
		return "1-10"
	case n <= 100:
		return "11-100"
	case n <= 1000:
		return "101-1000"
	default:
		return "1000+"
	}
}
