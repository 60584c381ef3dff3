// Package serpapi implements the paid Google Scholar provider via SerpAPI.
// Each call has a small fixed cost, so the cascade only reaches this
// adapter after every free provider came up empty. Scholar results carry
// less structure than the bibliographic APIs; fields are parsed out of the
// publication summary string and confidence is scored accordingly lower.
package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/providers"
)

const (
	// DefaultBaseURL is the default SerpAPI base URL.
	DefaultBaseURL = "https://serpapi.com"

	// DefaultRateLimit keeps paid calls serialized.
	DefaultRateLimit = 1.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 20 * time.Second

	// DefaultCostPerCall is the per-search cost in USD.
	DefaultCostPerCall = 0.01
)

// yearPattern extracts a four-digit year from a publication summary.
var yearPattern = regexp.MustCompile(`\b(1[6-9]\d{2}|20\d{2})\b`)

// Config holds configuration for the SerpAPI client.
type Config struct {
	// BaseURL is the SerpAPI base URL. Defaults to https://serpapi.com.
	BaseURL string

	// APIKey is the SerpAPI key. The provider is effectively disabled
	// without one.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxRetries is the maximum retry attempts per call.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// CostPerCall is the fixed USD cost charged per search, found or not.
	CostPerCall float64

	// Enabled indicates whether this provider participates in the cascade.
	Enabled bool

	// OnRateLimited feeds the rate-limit metric; optional.
	OnRateLimited func()
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.CostPerCall == 0 {
		c.CostPerCall = DefaultCostPerCall
	}
}

// Client implements the providers.Provider interface for SerpAPI.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

// Ensure Client implements the Provider interface.
var _ providers.Provider = (*Client)(nil)

// New creates a new SerpAPI client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:      "serpapi",
		Timeout:       cfg.Timeout,
		RateLimit:     cfg.RateLimit,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		OnRateLimited: cfg.OnRateLimited,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "serpapi" }

// CostClass returns the provider's expense bucket.
func (c *Client) CostClass() domain.CostClass { return domain.CostClassPaidCheap }

// Enabled reports whether this provider participates in the cascade.
// A missing API key disables the provider regardless of configuration.
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// Resolve searches Google Scholar for the citation. The per-call cost is
// charged whether or not a usable result came back: SerpAPI bills the
// search, not the answer.
func (c *Client) Resolve(ctx context.Context, req *domain.CitationRequest) (*domain.Record, float64, error) {
	searchURL, err := c.buildSearchURL(req)
	if err != nil {
		return nil, 0, &domain.TerminalError{Provider: c.Name(), Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, 0, &domain.TerminalError{Provider: c.Name(), Message: err.Error()}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// A failed request is not billed.
		return nil, 0, err
	}
	defer resp.Body.Close()

	cost := c.config.CostPerCall

	if resp.StatusCode == http.StatusNotFound {
		return nil, cost, domain.ErrNotFound
	}

	var search searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&search); err != nil {
		return nil, cost, &domain.TransientError{Provider: c.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}

	record := c.bestMatch(req, search.OrganicResults)
	if record == nil {
		return nil, cost, domain.ErrNotFound
	}

	return record, cost, nil
}

// buildSearchURL constructs the scholar search URL.
func (c *Client) buildSearchURL(req *domain.CitationRequest) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/search.json"

	query := url.Values{}
	query.Set("engine", "google_scholar")
	query.Set("q", providers.SearchQuery(req))
	query.Set("num", "5")
	query.Set("api_key", c.config.APIKey)

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// bestMatch selects the first scholar hit consistent with the request's
// hints and converts it into a Record.
func (c *Client) bestMatch(req *domain.CitationRequest, results []organicResult) *domain.Record {
	hint := domain.NormalizeSurname(req.Hints.Author)
	for i := range results {
		r := &results[i]
		if r.Title == "" {
			continue
		}
		if hint != "" && !mentionsAuthor(r, hint) {
			continue
		}
		if req.Hints.Year != "" && !strings.Contains(r.PublicationInfo.Summary, req.Hints.Year) {
			continue
		}
		return c.resultToRecord(req, r)
	}
	return nil
}

// mentionsAuthor checks the structured author list first, then falls back
// to the summary string.
func mentionsAuthor(r *organicResult, hint string) bool {
	for _, a := range r.PublicationInfo.Authors {
		if strings.Contains(domain.NormalizeSurname(a.Name), hint) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(r.PublicationInfo.Summary), hint)
}

// resultToRecord converts one scholar hit to the uniform Record shape.
// The summary string "authors - journal, year - publisher" supplies the
// loosely-structured fields.
func (c *Client) resultToRecord(req *domain.CitationRequest, r *organicResult) *domain.Record {
	authors := make([]string, 0, len(r.PublicationInfo.Authors))
	for _, a := range r.PublicationInfo.Authors {
		if s := lastToken(a.Name); s != "" {
			authors = append(authors, s)
		}
	}
	if len(authors) == 0 && req.Hints.Author != "" {
		authors = req.Hints.Authors()
	}

	journal, year, publisher := parseSummary(r.PublicationInfo.Summary)
	if year == "" {
		year = req.Hints.Year
	}

	return &domain.Record{
		CitationType: domain.CitationTypeUnknown,
		Title:        r.Title,
		Authors:      authors,
		Year:         year,
		Journal:      journal,
		Publisher:    publisher,
		URL:          r.Link,
		Confidence:   0.7,
		Provenance:   c.Name(),
	}
}

// parseSummary splits a scholar publication summary into its journal,
// year, and publisher components. Summaries are display strings, so every
// field is best-effort.
func parseSummary(summary string) (journal, year, publisher string) {
	if summary == "" {
		return "", "", ""
	}

	year = yearPattern.FindString(summary)

	parts := strings.Split(summary, " - ")
	if len(parts) >= 2 {
		// "Journal name, 1978" -> journal name without the year
		venue := parts[1]
		if idx := strings.LastIndex(venue, ","); idx > 0 {
			venue = venue[:idx]
		}
		journal = strings.TrimSpace(venue)
	}
	if len(parts) >= 3 {
		publisher = strings.TrimSpace(parts[2])
	}

	return journal, year, publisher
}

// lastToken returns the final whitespace-separated token of a name.
func lastToken(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
