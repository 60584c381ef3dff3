package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the citation resolution service.
// Metrics are organized by subsystem: lookups, cascade, providers, cache and
// batches. All collectors are registered via promauto against the registry
// passed to NewMetrics.
type Metrics struct {
	// LookupsTotal counts resolution lookups, labeled by answering tier
	// (user, shared, provider, miss).
	LookupsTotal *prometheus.CounterVec

	// LookupDuration observes end-to-end per-citation resolution time in
	// seconds, labeled by answering tier.
	LookupDuration *prometheus.HistogramVec

	// ProviderCallsTotal counts provider invocations, labeled by provider
	// and outcome (success, empty, transient_error, terminal_error).
	ProviderCallsTotal *prometheus.CounterVec

	// ProviderCallDuration observes provider call latency in seconds,
	// labeled by provider.
	ProviderCallDuration *prometheus.HistogramVec

	// ProviderRateLimited counts rate-limit responses, labeled by provider.
	ProviderRateLimited *prometheus.CounterVec

	// ResolutionCost counts accumulated spend in USD, labeled by provider.
	ResolutionCost *prometheus.CounterVec

	// CachePromotions counts shared-tier hits copied into a user tier.
	CachePromotions prometheus.Counter

	// CacheWriteConflicts counts shared-tier writes that landed on the
	// increment path because the record already existed.
	CacheWriteConflicts prometheus.Counter

	// CacheStoreErrors counts persistence failures degraded to a miss.
	CacheStoreErrors prometheus.Counter

	// BatchSize observes the number of citations per resolveBatch call.
	BatchSize prometheus.Histogram

	// BatchDuration observes resolveBatch wall time in seconds.
	BatchDuration prometheus.Histogram

	// CitationTimeouts counts per-citation timeouts converted to misses.
	CitationTimeouts prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry so parallel tests do not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "resolution",
			Name:      "lookups_total",
			Help:      "Total citation lookups by answering tier.",
		}, []string{"tier"}),

		LookupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "citegenie",
			Subsystem: "resolution",
			Name:      "lookup_duration_seconds",
			Help:      "End-to-end per-citation resolution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),

		ProviderCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider invocations by provider and outcome.",
		}, []string{"provider", "outcome"}),

		ProviderCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "citegenie",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		ProviderRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "provider",
			Name:      "rate_limited_total",
			Help:      "Rate-limit responses by provider.",
		}, []string{"provider"}),

		ResolutionCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "resolution",
			Name:      "cost_usd_total",
			Help:      "Accumulated external spend in USD by provider.",
		}, []string{"provider"}),

		CachePromotions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "cache",
			Name:      "promotions_total",
			Help:      "Shared-tier hits promoted into a user tier.",
		}),

		CacheWriteConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "cache",
			Name:      "write_conflicts_total",
			Help:      "Shared-tier writes degraded to hit-counter increments.",
		}),

		CacheStoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "cache",
			Name:      "store_errors_total",
			Help:      "Cache persistence failures degraded to misses.",
		}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "citegenie",
			Subsystem: "batch",
			Name:      "citations",
			Help:      "Citations per resolve-batch call.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "citegenie",
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Resolve-batch wall time.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		CitationTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "citegenie",
			Subsystem: "batch",
			Name:      "citation_timeouts_total",
			Help:      "Per-citation timeouts converted to not-found results.",
		}),
	}
}
