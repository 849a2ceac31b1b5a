package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// StatsComputations counts full per-chain stats recomputations.
	StatsComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexstats_computations_total",
			Help: "Number of full stats computations per chain.",
		},
		[]string{"chain"},
	)

	// StatsComputeDuration observes how long a full recomputation takes.
	StatsComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dexstats_compute_duration_seconds",
			Help:    "Duration of full stats computations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// FeedFailures counts spot-price feed request failures per feed role.
	FeedFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexstats_feed_failures_total",
			Help: "Number of failed spot price feed requests.",
		},
		[]string{"feed"},
	)

	// VolumeCoverageGap counts volume buckets excluded from totals because
	// neither side of the pool had a resolved price. Excluded volume is
	// observable here instead of being masked as zero activity.
	VolumeCoverageGap = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexstats_volume_coverage_gap_total",
			Help: "Volume buckets dropped because neither pool side had a resolved price.",
		},
		[]string{"chain"},
	)

	// IndexerFailovers counts primary-to-fallback switches of the indexer client.
	IndexerFailovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dexstats_indexer_failovers_total",
			Help: "Number of indexer base URL failovers.",
		},
	)
)

// MustRegisterMetrics registers all engine collectors with the default registry.
func MustRegisterMetrics() {
	prometheus.MustRegister(
		StatsComputations,
		StatsComputeDuration,
		FeedFailures,
		VolumeCoverageGap,
		IndexerFailovers,
	)
}
