// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_scans_total",
			Help: "Total number of qr code scans",
		},
		[]string{"classroom", "has_session"},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peer_evaluations_total",
			Help: "Total number of peer evaluation submissions",
		},
		[]string{"session"},
	)

	ContributionScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contribution_score",
			Help:    "Distribution of submitted contribution scores",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		},
		[]string{"session"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
