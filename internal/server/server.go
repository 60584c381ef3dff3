// Package server provides the HTTP REST API for the citation resolution
// service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/citategenie/resolution-service/internal/cache"
	"github.com/citategenie/resolution-service/internal/config"
	"github.com/citategenie/resolution-service/internal/database"
	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/repository"
)

// Resolver is the slice of the resolution service the HTTP layer uses.
type Resolver interface {
	ResolveOne(ctx context.Context, req *domain.CitationRequest) *domain.ResolutionResult
	ResolveBatch(ctx context.Context, reqs []*domain.CitationRequest) []*domain.ResolutionResult
}

// EditSaver persists a user's kept citation text.
type EditSaver interface {
	SaveUserEdit(ctx context.Context, userID int64, record *domain.Record, savedText, recommendedText string, overrides map[string]string) (domain.EditClassification, error)
}

// HealthChecker reports persistence-layer health for the probe endpoints.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	resolver   Resolver
	edits      EditSaver
	repo       repository.CitationRepository
	health     HealthChecker
	validate   *validator.Validate
	logger     zerolog.Logger
	metricsCfg config.MetricsConfig
}

// Ensure the production implementations satisfy the server's interfaces.
var (
	_ EditSaver     = (*cache.TieredCache)(nil)
	_ HealthChecker = (*database.DB)(nil)
)

// NewServer creates the HTTP server with all dependencies wired.
func NewServer(
	cfg config.ServerConfig,
	metricsCfg config.MetricsConfig,
	res Resolver,
	edits EditSaver,
	repo repository.CitationRepository,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		resolver:   res,
		edits:      edits,
		repo:       repo,
		health:     health,
		validate:   validator.New(),
		logger:     logger.With().Str("component", "http-server").Logger(),
		metricsCfg: metricsCfg,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	if s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/resolve", s.resolveCitation)
		r.Post("/documents/{documentID}/resolve", s.resolveDocument)

		r.Route("/library", func(r chi.Router) {
			r.Get("/stats", s.libraryStats)
			r.Delete("/records/{lookupKey}", s.purgeRecord)
		})

		r.Post("/users/{userID}/edits", s.saveUserEdit)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports whether the service can answer resolutions.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
