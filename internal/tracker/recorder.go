// Package tracker records resolution attempts and outcomes for
// observability and analytics. Recording is strictly best-effort: no sink
// may block or fail a resolution, so the Recorder interface returns
// nothing and every implementation degrades to dropping data.
package tracker

import (
	"context"

	"github.com/citategenie/resolution-service/internal/domain"
)

// Recorder receives resolution telemetry. Implementations must be safe
// for concurrent use and must never block the calling resolution.
type Recorder interface {
	// RecordAttempt is called once per provider invocation.
	RecordAttempt(ctx context.Context, attempt *domain.ResolutionAttempt)

	// RecordResult is called once per citation with the final outcome.
	RecordResult(ctx context.Context, req *domain.CitationRequest, result *domain.ResolutionResult)
}

// NopRecorder discards everything.
type NopRecorder struct{}

// RecordAttempt implements Recorder.
func (NopRecorder) RecordAttempt(context.Context, *domain.ResolutionAttempt) {}

// RecordResult implements Recorder.
func (NopRecorder) RecordResult(context.Context, *domain.CitationRequest, *domain.ResolutionResult) {
}

// multiRecorder fans telemetry out to several sinks.
type multiRecorder struct {
	recorders []Recorder
}

// Multi combines recorders into one. Nil entries are skipped; an empty
// set behaves like NopRecorder.
func Multi(recorders ...Recorder) Recorder {
	kept := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			kept = append(kept, r)
		}
	}
	return &multiRecorder{recorders: kept}
}

// RecordAttempt implements Recorder.
func (m *multiRecorder) RecordAttempt(ctx context.Context, attempt *domain.ResolutionAttempt) {
	for _, r := range m.recorders {
		r.RecordAttempt(ctx, attempt)
	}
}

// RecordResult implements Recorder.
func (m *multiRecorder) RecordResult(ctx context.Context, req *domain.CitationRequest, result *domain.ResolutionResult) {
	for _, r := range m.recorders {
		r.RecordResult(ctx, req, result)
	}
}

// resultOutcome condenses a result into the outcome vocabulary shared by
// the lookup log and the event stream.
func resultOutcome(result *domain.ResolutionResult) string {
	switch {
	case result.Found:
		return "found"
	case result.Partial:
		return "partial"
	default:
		return "miss"
	}
}
