package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/citategenie/resolution-service/internal/config"
	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
	"github.com/citategenie/resolution-service/internal/tracker"
)

// Service orchestrates citation resolution: single citations run the
// cascade directly, batches fan out over a bounded worker pool while
// preserving document order in the returned slice.
type Service struct {
	cascade  *Cascade
	recorder tracker.Recorder
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cfg      config.ResolverConfig
}

// NewService creates a resolution service around the given cascade.
func NewService(cascade *Cascade, recorder tracker.Recorder, metrics *observability.Metrics, logger zerolog.Logger, cfg config.ResolverConfig) *Service {
	if recorder == nil {
		recorder = tracker.NopRecorder{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.CitationTimeout <= 0 {
		cfg.CitationTimeout = 45 * time.Second
	}

	return &Service{
		cascade:  cascade,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger.With().Str("component", "resolver").Logger(),
		cfg:      cfg,
	}
}

// ResolveOne resolves a single citation under the per-citation timeout.
func (s *Service) ResolveOne(ctx context.Context, req *domain.CitationRequest) *domain.ResolutionResult {
	return s.resolveIndexed(ctx, 0, req)
}

// ResolveBatch resolves a document's citations concurrently and returns
// results in input order: results[i] always answers reqs[i]. Concurrency
// is bounded by the configured worker count; a document timeout, when
// configured, bounds the whole batch.
func (s *Service) ResolveBatch(ctx context.Context, reqs []*domain.CitationRequest) []*domain.ResolutionResult {
	if len(reqs) == 0 {
		return nil
	}

	if s.cfg.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DocumentTimeout)
		defer cancel()
	}

	// All workers of a batch share one cost accumulator so the total
	// spend can be reported even for citations that missed.
	ctx, costs := observability.WithCostAccumulator(ctx)

	start := time.Now()
	s.metrics.BatchSize.Observe(float64(len(reqs)))

	results := make([]*domain.ResolutionResult, len(reqs))
	jobs := make(chan int)

	workers := s.cfg.Workers
	if workers > len(reqs) {
		workers = len(reqs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.resolveIndexed(ctx, i, reqs[i])
			}
		}()
	}

	for i := range reqs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	s.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	spend, paidCalls := costs.Total()
	s.logger.Info().
		Int("citations", len(reqs)).
		Int("workers", workers).
		Float64("cost_usd", spend).
		Int64("paid_calls", paidCalls).
		Dur("duration", time.Since(start)).
		Msg("batch resolved")
	return results
}

// resolveIndexed runs the cascade for one citation under the per-citation
// timeout. A citation that exhausts its timeout becomes a not-found
// result; it never fails the batch.
func (s *Service) resolveIndexed(ctx context.Context, index int, req *domain.CitationRequest) *domain.ResolutionResult {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CitationTimeout)
	defer cancel()

	result := s.cascade.Resolve(cctx, req)
	result.Index = index

	if !result.Found && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		s.metrics.CitationTimeouts.Inc()
		s.logger.Warn().
			Int("index", index).
			Dur("timeout", s.cfg.CitationTimeout).
			Msg("citation resolution timed out")
	}

	s.recorder.RecordResult(ctx, req, result)
	return result
}
