package tracker

import (
	"context"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
)

// MetricsRecorder feeds resolution telemetry into the Prometheus
// collectors.
type MetricsRecorder struct {
	metrics *observability.Metrics
}

// NewMetricsRecorder creates a metrics-backed recorder.
func NewMetricsRecorder(metrics *observability.Metrics) *MetricsRecorder {
	return &MetricsRecorder{metrics: metrics}
}

// RecordAttempt implements Recorder.
func (r *MetricsRecorder) RecordAttempt(_ context.Context, attempt *domain.ResolutionAttempt) {
	r.metrics.ProviderCallsTotal.WithLabelValues(attempt.Provider, string(attempt.Outcome)).Inc()
	r.metrics.ProviderCallDuration.WithLabelValues(attempt.Provider).Observe(attempt.Latency.Seconds())
	if attempt.Cost > 0 {
		r.metrics.ResolutionCost.WithLabelValues(attempt.Provider).Add(attempt.Cost)
	}
}

// RecordResult implements Recorder.
func (r *MetricsRecorder) RecordResult(_ context.Context, _ *domain.CitationRequest, result *domain.ResolutionResult) {
	tier := string(result.Tier)
	r.metrics.LookupsTotal.WithLabelValues(tier).Inc()
	r.metrics.LookupDuration.WithLabelValues(tier).Observe(result.Latency.Seconds())
}
