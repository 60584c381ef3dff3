// Package providers defines the uniform contract that every external
// citation source implements, plus the rate-limited HTTP transport they
// share.
//
// Each external database or API (CrossRef, OpenAlex, SerpAPI, the LLM
// extractors) provides its own implementation of the Provider interface in a
// subpackage, allowing the cascade to drive every source identically
// regardless of what protocol or vendor sits behind it.
//
// Example usage:
//
//	p := crossref.New(cfg)
//	record, cost, err := p.Resolve(ctx, req)
package providers

import (
	"context"
	"strings"

	"github.com/citategenie/resolution-service/internal/domain"
)

// Provider resolves one citation request against an external source.
type Provider interface {
	// Resolve attempts to resolve the request into a bibliographic record.
	// The second return value is the cost in USD incurred by this call,
	// charged whether or not a record was found.
	//
	// Error contract: Resolve returns domain.ErrNotFound when the source
	// had no answer, an error unwrapping to domain.ErrTransient after the
	// transport exhausted its retries, and an error unwrapping to
	// domain.ErrTerminal for failures that must not be retried within the
	// same cascade run. It never returns errors outside this taxonomy.
	Resolve(ctx context.Context, req *domain.CitationRequest) (*domain.Record, float64, error)

	// Name returns the provider identifier used for provenance, logging,
	// and metrics (crossref, openalex, serpapi, openai, anthropic).
	Name() string

	// CostClass returns the provider's expense bucket, which determines
	// its position in the cascade.
	CostClass() domain.CostClass

	// Enabled reports whether this provider participates in the cascade.
	// A provider may be disabled by configuration or a missing API key.
	Enabled() bool
}

// SearchQuery builds the minimal query text for a request: the DOI when one
// was detected, otherwise the known author surnames followed by the year.
// Bibliographic search APIs all accept this shape; it is also what the
// outcome recorder logs as the query.
func SearchQuery(req *domain.CitationRequest) string {
	if req.Hints.DOI != "" {
		return req.Hints.DOI
	}
	parts := req.Hints.Authors()
	if req.Hints.Year != "" {
		parts = append(parts, req.Hints.Year)
	}
	if len(parts) == 0 {
		return strings.TrimSpace(req.RawText)
	}
	return strings.Join(parts, " ")
}
