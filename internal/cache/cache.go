// Package cache implements the two-tier citation cache: a per-user library
// consulted first, then the shared library built up by all resolutions.
// Both tiers are backed by Postgres through the repository layer. The cache
// degrades gracefully: a store failure is reported as a miss so the provider
// cascade can still answer, never as a resolution failure.
package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/citategenie/resolution-service/internal/config"
	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
	"github.com/citategenie/resolution-service/internal/repository"
)

// TieredCache answers lookups from the user tier, then the shared tier.
type TieredCache struct {
	repo    repository.CitationRepository
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     config.CacheConfig
}

// New creates a TieredCache over the given repository.
func New(repo repository.CitationRepository, metrics *observability.Metrics, logger zerolog.Logger, cfg config.CacheConfig) *TieredCache {
	return &TieredCache{
		repo:    repo,
		metrics: metrics,
		logger:  logger.With().Str("component", "cache").Logger(),
		cfg:     cfg,
	}
}

// Lookup consults the user tier (when userID is non-zero) and then the
// shared tier under any of the given lookup keys, earlier keys preferred.
//
// A user-tier hit is returned with confidence 1.0: the user has vouched for
// the record. A shared-tier hit bumps the record's hit counter and promotes
// a copy into the user's library so the next lookup is a user-tier hit.
//
// Persistence failures are logged and counted: a user-tier failure falls
// through to the shared tier, a shared-tier failure degrades to a miss.
// Lookup never returns an error; callers branch on hits alone.
func (c *TieredCache) Lookup(ctx context.Context, userID int64, keys []string) (*domain.Record, domain.Tier) {
	if len(keys) == 0 {
		return nil, domain.TierMiss
	}

	if userID != 0 {
		record, err := c.repo.GetUserByKeys(ctx, userID, keys)
		switch {
		case err == nil:
			record.Confidence = 1.0
			return record, domain.TierUser
		case errors.Is(err, domain.ErrNotFound):
			// fall through to shared tier
		default:
			c.storeError(err, "user tier lookup failed")
		}
	}

	record, err := c.repo.GetSharedByKeys(ctx, keys)
	switch {
	case err == nil:
		c.afterSharedHit(ctx, userID, record)
		return record, domain.TierShared
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.TierMiss
	default:
		c.storeError(err, "shared tier lookup failed")
		return nil, domain.TierMiss
	}
}

// afterSharedHit performs the bookkeeping writes that follow a shared-tier
// hit. Both writes are best-effort: a failed counter bump or promotion never
// turns a hit into a miss.
func (c *TieredCache) afterSharedHit(ctx context.Context, userID int64, record *domain.Record) {
	if err := c.repo.RecordSharedHit(ctx, record.ID); err != nil {
		c.logger.Warn().Err(err).Str("lookup_key", record.LookupKey).Msg("failed to record shared hit")
	} else {
		record.LookupCount++
	}

	if userID == 0 {
		return
	}

	if err := c.repo.PromoteToUser(ctx, userID, record.ID, record.LookupKey); err != nil {
		c.logger.Warn().Err(err).
			Int64("user_id", userID).
			Str("lookup_key", record.LookupKey).
			Msg("failed to promote shared record to user library")
		return
	}
	c.metrics.CachePromotions.Inc()
}

// Store writes a provider-resolved record into the shared tier under its
// lookup key and aliases. Concurrent identical stores converge on one row;
// the loser of the race lands on the increment path.
func (c *TieredCache) Store(ctx context.Context, record *domain.Record, aliases []string) error {
	if record == nil || record.LookupKey == "" {
		// Records without an author/year key are returned to the caller
		// but not cached; there is nothing to look them up by.
		return nil
	}

	stored, existed, err := c.repo.UpsertShared(ctx, record, aliases)
	if err != nil {
		c.storeError(err, "shared tier store failed")
		return domain.ErrStoreUnavailable
	}

	if existed {
		c.metrics.CacheWriteConflicts.Inc()
	}

	*record = *stored
	return nil
}

// SaveUserEdit records what the user actually kept. The saved text is
// compared against the recommendation to classify the edit; field overrides
// carry the user's corrections so future lookups return their version.
func (c *TieredCache) SaveUserEdit(ctx context.Context, userID int64, record *domain.Record, savedText, recommendedText string, overrides map[string]string) (domain.EditClassification, error) {
	class := c.ClassifyEdit(savedText, recommendedText)

	entry := &repository.UserEntry{
		UserID:     userID,
		CitationID: record.ID,
		LookupKey:  record.LookupKey,
		Overrides:  overrides,
		EditClass:  class,
		SavedText:  savedText,
	}
	if err := c.repo.SaveUserEntry(ctx, entry); err != nil {
		c.storeError(err, "user entry save failed")
		return class, domain.ErrStoreUnavailable
	}

	return class, nil
}

func (c *TieredCache) storeError(err error, msg string) {
	c.metrics.CacheStoreErrors.Inc()
	c.logger.Error().Err(err).Msg(msg)
}
