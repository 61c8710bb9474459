package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Request lifecycle volume
	GenerationsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_started_total",
		Help: "Generation units of work dispatched to the worker pool.",
	})

	GenerationsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_completed_total",
		Help: "Generation requests that reached Completed.",
	})

	GenerationsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_failed_total",
		Help: "Generation requests that reached Failed.",
	})

	GenerationsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generations_cancelled_total",
		Help: "Generation requests cancelled by the user or the stale sweep.",
	})

	// Admission control
	AdmissionDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_denied_total",
		Help: "Operations rejected by the per-user admission controller.",
	}, []string{"action"})

	// Content cache
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_cache_hits_total",
		Help: "Generation requests served from the content cache.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_cache_misses_total",
		Help: "Generation requests that had to call the provider.",
	})

	// Worker pool
	PoolBacklogDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_pool_backlog_depth",
		Help: "Units of work waiting in the pool backlog.",
	})

	PoolRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_pool_rejected_total",
		Help: "StartGeneration calls rejected because the backlog was full.",
	})

	// Provider
	ProviderLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "provider_latency_seconds",
		Help:    "Wall time of upstream provider calls.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
	})

	// Usage
	TokensRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokens_recorded_total",
		Help: "Tokens recorded in the usage ledger, by direction.",
	}, []string{"direction"})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		GenerationsStartedTotal,
		GenerationsCompletedTotal,
		GenerationsFailedTotal,
		GenerationsCancelledTotal,
		AdmissionDeniedTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		PoolBacklogDepth,
		PoolRejectedTotal,
		ProviderLatencySeconds,
		TokensRecordedTotal,
	)
}
