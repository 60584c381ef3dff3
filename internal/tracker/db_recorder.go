package tracker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/repository"
)

// DBRecorder persists one lookup_log row per resolved citation. Insert
// failures are logged and swallowed; the log is an analytics surface, not
// part of the resolution path.
type DBRecorder struct {
	repo   repository.CitationRepository
	logger zerolog.Logger
}

// NewDBRecorder creates a database-backed recorder.
func NewDBRecorder(repo repository.CitationRepository, logger zerolog.Logger) *DBRecorder {
	return &DBRecorder{
		repo:   repo,
		logger: logger.With().Str("component", "lookup_log").Logger(),
	}
}

// RecordAttempt implements Recorder. Individual provider attempts are not
// persisted; they flow to the log, metrics and event stream instead.
func (r *DBRecorder) RecordAttempt(context.Context, *domain.ResolutionAttempt) {}

// RecordResult implements Recorder.
func (r *DBRecorder) RecordResult(ctx context.Context, req *domain.CitationRequest, result *domain.ResolutionResult) {
	entry := &repository.LookupLogEntry{
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
		RawText:    req.RawText,
		Tier:       result.Tier,
		Provider:   result.Provider,
		Outcome:    domain.AttemptOutcome(resultOutcome(result)),
		Cost:       result.Cost,
		Latency:    result.Latency,
	}
	if result.Record != nil {
		entry.LookupKey = result.Record.LookupKey
	}

	if err := r.repo.InsertLookupLog(ctx, entry); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist lookup log entry")
	}
}
