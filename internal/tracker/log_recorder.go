package tracker

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
)

// LogRecorder writes resolution telemetry to the structured log. Attempts
// log at debug so a noisy cascade does not flood production logs; final
// outcomes log at info.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder creates a log-backed recorder.
func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{
		logger: logger.With().Str("component", "tracker").Logger(),
	}
}

// RecordAttempt implements Recorder.
func (r *LogRecorder) RecordAttempt(_ context.Context, attempt *domain.ResolutionAttempt) {
	evt := r.logger.Debug().
		Str("provider", attempt.Provider).
		Str("cost_class", attempt.CostClass.String()).
		Str("outcome", string(attempt.Outcome)).
		Float64("cost_usd", attempt.Cost).
		Dur("latency", attempt.Latency)
	if attempt.DocumentID != (uuid.UUID{}) {
		evt = evt.Str("document_id", attempt.DocumentID.String())
	}
	if attempt.UserID != 0 {
		evt = evt.Int64("user_id", attempt.UserID)
	}
	if attempt.Err != "" {
		evt = evt.Str("error", attempt.Err)
	}
	evt.Msg("provider attempt")
}

// RecordResult implements Recorder.
func (r *LogRecorder) RecordResult(ctx context.Context, req *domain.CitationRequest, result *domain.ResolutionResult) {
	evt := r.logger.Info().
		Int("index", result.Index).
		Str("outcome", resultOutcome(result)).
		Str("tier", string(result.Tier)).
		Float64("cost_usd", result.Cost).
		Dur("latency", result.Latency)
	if id := observability.RequestIDFromContext(ctx); id != "" {
		evt = evt.Str("request_id", id)
	}
	if result.Provider != "" {
		evt = evt.Str("provider", result.Provider)
	}
	if req.DocumentID != (uuid.UUID{}) {
		evt = evt.Str("document_id", req.DocumentID.String())
	}
	if req.UserID != 0 {
		evt = evt.Int64("user_id", req.UserID)
	}
	evt.Msg("citation resolved")
}
