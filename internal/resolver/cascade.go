// Package resolver implements citation resolution: a cost-ordered cascade
// over the external providers, fronted by the two-tier cache, and a
// bounded-concurrency orchestrator for whole-document batches.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
	"github.com/citategenie/resolution-service/internal/providers"
	"github.com/citategenie/resolution-service/internal/tracker"
)

// Cache is the slice of the tiered cache the cascade depends on.
type Cache interface {
	Lookup(ctx context.Context, userID int64, keys []string) (*domain.Record, domain.Tier)
	Store(ctx context.Context, record *domain.Record, aliases []string) error
}

// Cascade resolves one citation by consulting the cache and then each
// enabled provider in ascending cost order, stopping at the first record
// that clears the completeness bar.
type Cascade struct {
	cache     Cache
	providers []providers.Provider
	recorder  tracker.Recorder
	logger    zerolog.Logger
}

// NewCascade creates a cascade over the given providers. Disabled
// providers are dropped; the rest are stable-sorted by cost class, so the
// caller's order breaks ties within a class.
func NewCascade(cache Cache, provs []providers.Provider, recorder tracker.Recorder, logger zerolog.Logger) *Cascade {
	enabled := make([]providers.Provider, 0, len(provs))
	for _, p := range provs {
		if p != nil && p.Enabled() {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].CostClass() < enabled[j].CostClass()
	})

	if recorder == nil {
		recorder = tracker.NopRecorder{}
	}

	return &Cascade{
		cache:     cache,
		providers: enabled,
		recorder:  recorder,
		logger:    logger.With().Str("component", "cascade").Logger(),
	}
}

// Providers returns the resolved provider order. Used by startup logging
// and tests.
func (c *Cascade) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Resolve runs the full resolution flow for one citation. It never returns
// an error: every failure mode degrades to a not-found result. The
// caller owns Index and final result recording.
func (c *Cascade) Resolve(ctx context.Context, req *domain.CitationRequest) *domain.ResolutionResult {
	start := time.Now()
	result := &domain.ResolutionResult{Tier: domain.TierMiss}
	defer func() { result.Latency = time.Since(start) }()

	hints := req.Hints
	if hints == (domain.CitationHints{}) {
		hints = domain.Detect(req.RawText)
	}
	if strings.TrimSpace(req.RawText) == "" && hints == (domain.CitationHints{}) {
		// Nothing to resolve and nothing to key a lookup by.
		return result
	}

	keys := domain.LookupKeys(hints)
	if record, tier := c.cache.Lookup(ctx, req.UserID, keys); record != nil {
		result.Found = true
		result.Record = record
		result.Tier = tier
		return result
	}

	enriched := *req
	enriched.Hints = hints

	var partial *domain.Record
	for _, p := range c.providers {
		if ctx.Err() != nil {
			break
		}

		record, cost, err := c.callProvider(ctx, p, &enriched)
		result.Cost += cost

		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				// empty answer, escalate
			case domain.IsTransient(err):
				c.logger.Warn().Err(err).Str("provider", p.Name()).Msg("provider unavailable, escalating")
			case domain.IsTerminal(err):
				c.logger.Error().Err(err).Str("provider", p.Name()).Msg("provider rejected request, escalating")
			default:
				c.logger.Error().Err(err).Str("provider", p.Name()).Msg("unclassified provider failure, escalating")
			}
			continue
		}

		if record.IsComplete() {
			c.finishRecord(ctx, record, hints, keys)
			result.Found = true
			result.Record = record
			result.Tier = domain.TierProvider
			result.Provider = p.Name()
			return result
		}

		// Below the completeness bar: remember the first partial answer
		// and keep escalating in the hope of a full record.
		if partial == nil {
			partial = record
		}
	}

	if partial != nil {
		result.Record = partial
		result.Partial = true
		result.Tier = domain.TierProvider
		result.Provider = partial.Provenance
	}
	return result
}

// finishRecord assigns the record its lookup key and writes it through to
// the shared cache. Records that still key to nothing are returned to the
// caller uncached.
func (c *Cascade) finishRecord(ctx context.Context, record *domain.Record, hints domain.CitationHints, keys []string) {
	if len(keys) > 0 {
		record.LookupKey = keys[0]
	} else {
		record.LookupKey = domain.PrimaryKey(record.Authors, record.Year)
	}

	aliases := keys
	if derived := domain.PrimaryKey(record.Authors, record.Year); derived != "" {
		aliases = append(append([]string(nil), keys...), derived)
	}

	if err := c.cache.Store(ctx, record, aliases); err != nil {
		// Already counted and logged by the cache; the record is still
		// served to the caller.
		c.logger.Warn().Err(err).Str("lookup_key", record.LookupKey).Msg("resolved record not cached")
	}
}

// callProvider invokes one provider with panic containment and attempt
// recording. A panicking provider is reported as a terminal failure of
// that provider only; the cascade continues.
func (c *Cascade) callProvider(ctx context.Context, p providers.Provider, req *domain.CitationRequest) (record *domain.Record, cost float64, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			record = nil
			err = &domain.TerminalError{Provider: p.Name(), Message: fmt.Sprintf("panic: %v", r)}
			c.logger.Error().Str("provider", p.Name()).Interface("panic", r).Msg("provider panicked")
		}

		if cost > 0 {
			observability.CostFromContext(ctx).Add(cost)
		}

		c.recorder.RecordAttempt(ctx, &domain.ResolutionAttempt{
			DocumentID: req.DocumentID,
			UserID:     req.UserID,
			Provider:   p.Name(),
			CostClass:  p.CostClass(),
			Query:      providers.SearchQuery(req),
			Outcome:    attemptOutcome(record, err),
			Cost:       cost,
			Latency:    time.Since(start),
			Err:        errString(err),
		})
	}()

	record, cost, err = p.Resolve(ctx, req)
	return record, cost, err
}

// attemptOutcome classifies one provider invocation for telemetry.
func attemptOutcome(record *domain.Record, err error) domain.AttemptOutcome {
	switch {
	case err == nil && record != nil:
		return domain.OutcomeSuccess
	case err == nil || errors.Is(err, domain.ErrNotFound):
		return domain.OutcomeEmpty
	case domain.IsTerminal(err):
		return domain.OutcomeTerminal
	default:
		return domain.OutcomeTransient
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
