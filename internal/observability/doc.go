// Package observability provides logging, metrics, and context propagation
// for the citation resolution service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger.Info().Str("document_id", docID).Msg("batch started")
//
// # Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.LookupsTotal.WithLabelValues("shared").Inc()
//	metrics.ResolutionCost.WithLabelValues("serpapi").Add(0.01)
//
// # Context Helpers
//
// Identifiers and the per-document cost accumulator travel in the request
// context instead of ambient state:
//
//	ctx = observability.WithDocumentSession(ctx, documentID, sessionID)
//	ctx, costs := observability.WithCostAccumulator(ctx)
//	...
//	total, calls := costs.Total()
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - document_id: document/session grouping for a batch
//   - user_id: requesting user (user-tier cache)
//   - provider: external source name (crossref, openalex, serpapi, ...)
//   - lookup_key: normalized citation key
//   - tier: answering cache tier (user, shared, provider, miss)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
