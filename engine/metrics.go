package engine

import "github.com/prometheus/client_golang/prometheus"

// latencyBuckets covers provider latencies from 50ms to 30s.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Query outcomes recorded in QueriesTotal.
const (
	outcomeOK       = "ok"
	outcomeNetwork  = "network_error"
	outcomeTimeout  = "timeout"
	outcomeRender   = "render_error"
	outcomeCanceled = "canceled"
)

var (
	// QueriesTotal counts executed queries by provider and outcome.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfindr_queries_total",
			Help: "Queries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency records provider call latency in seconds, retries included.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wayfindr_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: latencyBuckets,
		},
		[]string{"provider", "command"},
	)

	// ResolutionsTotal counts resolution attempts: matched, fallback or no_match.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfindr_resolutions_total",
			Help: "Resolution attempts",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal,
		ProviderLatency,
		ResolutionsTotal,
	)
}
