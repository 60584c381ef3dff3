// Package main provides the entry point for the citation resolution service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/citategenie/resolution-service/internal/cache"
	"github.com/citategenie/resolution-service/internal/config"
	"github.com/citategenie/resolution-service/internal/database"
	"github.com/citategenie/resolution-service/internal/observability"
	"github.com/citategenie/resolution-service/internal/providers"
	"github.com/citategenie/resolution-service/internal/providers/anthropic"
	"github.com/citategenie/resolution-service/internal/providers/crossref"
	"github.com/citategenie/resolution-service/internal/providers/openalex"
	"github.com/citategenie/resolution-service/internal/providers/openai"
	"github.com/citategenie/resolution-service/internal/providers/serpapi"
	"github.com/citategenie/resolution-service/internal/repository"
	"github.com/citategenie/resolution-service/internal/resolver"
	"github.com/citategenie/resolution-service/internal/server"
	"github.com/citategenie/resolution-service/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("citation resolution service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Metrics live on the default registerer; the HTTP server exposes them
	// when metrics are enabled.
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	repo := repository.NewPgCitationRepository(db)
	tieredCache := cache.New(repo, metrics, logger, cfg.Cache)

	provs := buildProviders(cfg, metrics)

	// Outcome recorders: structured log, metrics and lookup log always;
	// the Kafka stream only when configured.
	recorders := []tracker.Recorder{
		tracker.NewLogRecorder(logger),
		tracker.NewMetricsRecorder(metrics),
		tracker.NewDBRecorder(repo, logger),
	}
	var kafkaRecorder *tracker.KafkaRecorder
	if cfg.Kafka.Enabled {
		kafkaRecorder = tracker.NewKafkaRecorder(tracker.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			BufferSize:   cfg.Kafka.BufferSize,
		}, logger)
		recorders = append(recorders, kafkaRecorder)
		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("kafka outcome stream enabled")
	}
	recorder := tracker.Multi(recorders...)

	cascade := resolver.NewCascade(tieredCache, provs, recorder, logger)
	service := resolver.NewService(cascade, recorder, metrics, logger, cfg.Resolver)
	logger.Info().
		Strs("providers", cascade.Providers()).
		Int("workers", cfg.Resolver.Workers).
		Msg("resolution cascade ready")

	srv := server.NewServer(cfg.Server, cfg.Metrics, service, tieredCache, repo, db, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	logger.Info().Str("address", cfg.Server.HTTPAddress()).Msg("citation resolution service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down citation resolution service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Flush any buffered outcome events before the process exits.
	if kafkaRecorder != nil {
		if err := kafkaRecorder.Close(); err != nil {
			logger.Error().Err(err).Msg("kafka recorder shutdown error")
		}
		if dropped := kafkaRecorder.Dropped(); dropped > 0 {
			logger.Warn().Int64("dropped", dropped).Msg("outcome events dropped during this run")
		}
	}

	logger.Info().Msg("citation resolution service shutdown complete")
	return nil
}

// buildProviders constructs every configured provider. The cascade drops
// disabled ones and orders the rest by cost class.
func buildProviders(cfg *config.Config, metrics *observability.Metrics) []providers.Provider {
	rateLimited := func(provider string) func() {
		return func() {
			metrics.ProviderRateLimited.WithLabelValues(provider).Inc()
		}
	}

	return []providers.Provider{
		crossref.New(crossref.Config{
			BaseURL:       cfg.Providers.CrossRef.BaseURL,
			Email:         cfg.Providers.ContactEmail,
			Timeout:       cfg.Providers.CrossRef.Timeout,
			RateLimit:     cfg.Providers.CrossRef.RateLimit,
			MaxRetries:    cfg.Providers.CrossRef.MaxRetries,
			RetryDelay:    cfg.Providers.CrossRef.RetryDelay,
			Enabled:       cfg.Providers.CrossRef.Enabled,
			OnRateLimited: rateLimited("crossref"),
		}),
		openalex.New(openalex.Config{
			BaseURL:       cfg.Providers.OpenAlex.BaseURL,
			Email:         cfg.Providers.ContactEmail,
			Timeout:       cfg.Providers.OpenAlex.Timeout,
			RateLimit:     cfg.Providers.OpenAlex.RateLimit,
			MaxRetries:    cfg.Providers.OpenAlex.MaxRetries,
			RetryDelay:    cfg.Providers.OpenAlex.RetryDelay,
			Enabled:       cfg.Providers.OpenAlex.Enabled,
			OnRateLimited: rateLimited("openalex"),
		}),
		serpapi.New(serpapi.Config{
			BaseURL:       cfg.Providers.SerpAPI.BaseURL,
			APIKey:        cfg.Providers.SerpAPI.APIKey,
			Timeout:       cfg.Providers.SerpAPI.Timeout,
			RateLimit:     cfg.Providers.SerpAPI.RateLimit,
			MaxRetries:    cfg.Providers.SerpAPI.MaxRetries,
			RetryDelay:    cfg.Providers.SerpAPI.RetryDelay,
			CostPerCall:   cfg.Providers.SerpAPI.CostPerCall,
			Enabled:       cfg.Providers.SerpAPI.Enabled,
			OnRateLimited: rateLimited("serpapi"),
		}),
		openai.New(openai.Config{
			BaseURL:           cfg.Providers.OpenAI.BaseURL,
			APIKey:            cfg.Providers.OpenAI.APIKey,
			Model:             cfg.Providers.OpenAI.Model,
			Timeout:           cfg.Providers.OpenAI.Timeout,
			RateLimit:         cfg.Providers.OpenAI.RateLimit,
			MaxRetries:        cfg.Providers.OpenAI.MaxRetries,
			RetryDelay:        cfg.Providers.OpenAI.RetryDelay,
			InputCostPerMTok:  cfg.Providers.OpenAI.InputCostPerMTok,
			OutputCostPerMTok: cfg.Providers.OpenAI.OutputCostPerMTok,
			Enabled:           cfg.Providers.OpenAI.Enabled,
			OnRateLimited:     rateLimited("openai"),
		}),
		anthropic.New(anthropic.Config{
			BaseURL:           cfg.Providers.Anthropic.BaseURL,
			APIKey:            cfg.Providers.Anthropic.APIKey,
			Model:             cfg.Providers.Anthropic.Model,
			Timeout:           cfg.Providers.Anthropic.Timeout,
			RateLimit:         cfg.Providers.Anthropic.RateLimit,
			MaxRetries:        cfg.Providers.Anthropic.MaxRetries,
			RetryDelay:        cfg.Providers.Anthropic.RetryDelay,
			InputCostPerMTok:  cfg.Providers.Anthropic.InputCostPerMTok,
			OutputCostPerMTok: cfg.Providers.Anthropic.OutputCostPerMTok,
			Enabled:           cfg.Providers.Anthropic.Enabled,
			OnRateLimited:     rateLimited("anthropic"),
		}),
	}
}
