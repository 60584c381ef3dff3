// Package crossref implements the free CrossRef bibliographic provider.
// CrossRef is the first stop in the cascade: zero marginal cost and the
// broadest DOI coverage for journal articles.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/providers"
)

const (
	// DefaultBaseURL is the default CrossRef REST API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the polite-pool request rate.
	DefaultRateLimit = 10.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// maxRows is how many candidates to fetch per query; the best match
	// among them is selected locally.
	maxRows = 5
)

// Config holds configuration for the CrossRef client.
type Config struct {
	// BaseURL is the CrossRef API base URL. Defaults to https://api.crossref.org.
	BaseURL string

	// Email is the contact email for the polite pool. Providing an email
	// grants access to more generous rate limits.
	Email string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxRetries is the maximum retry attempts per call.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

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
}

// Client implements the providers.Provider interface for CrossRef.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

// Ensure Client implements the Provider interface.
var _ providers.Provider = (*Client)(nil)

// New creates a new CrossRef client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:      "crossref",
		Timeout:       cfg.Timeout,
		RateLimit:     cfg.RateLimit,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		UserAgent:     "CitateGenie-ResolutionService/1.0 (mailto:" + cfg.Email + ")",
		OnRateLimited: cfg.OnRateLimited,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return "crossref" }

// CostClass returns the provider's expense bucket.
func (c *Client) CostClass() domain.CostClass { return domain.CostClassFree }

// Enabled reports whether this provider participates in the cascade.
func (c *Client) Enabled() bool { return c.config.Enabled }

// Resolve queries CrossRef for the citation and returns the best-matching
// record. A DOI hint goes straight to the works endpoint for that DOI;
// anything else runs a bibliographic search. CrossRef calls are free; the
// returned cost is always zero.
func (c *Client) Resolve(ctx context.Context, req *domain.CitationRequest) (*domain.Record, float64, error) {
	if req.Hints.DOI != "" {
		return c.resolveDOI(ctx, req)
	}

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
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, 0, domain.ErrNotFound
	}

	var works worksResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&works); err != nil {
		return nil, 0, &domain.TransientError{Provider: c.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}

	record := c.bestMatch(req, works.Message.Items)
	if record == nil {
		return nil, 0, domain.ErrNotFound
	}

	return record, 0, nil
}

// resolveDOI fetches the work registered under the request's DOI. The DOI
// is an exact identifier, so hint consistency checks are skipped and the
// answer carries near-certain confidence.
func (c *Client) resolveDOI(ctx context.Context, req *domain.CitationRequest) (*domain.Record, float64, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, 0, &domain.TerminalError{Provider: c.Name(), Message: err.Error()}
	}
	baseURL.Path = "/works/" + req.Hints.DOI

	query := url.Values{}
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}
	baseURL.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, 0, &domain.TerminalError{Provider: c.Name(), Message: err.Error()}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, 0, domain.ErrNotFound
	}

	var single workResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&single); err != nil {
		return nil, 0, &domain.TransientError{Provider: c.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}

	item := single.Message
	if len(item.Title) == 0 || item.Title[0] == "" {
		return nil, 0, domain.ErrNotFound
	}

	record := c.workToRecord(req, &item)
	record.Confidence = 0.99
	return record, 0, nil
}

// buildSearchURL constructs the works query URL.
func (c *Client) buildSearchURL(req *domain.CitationRequest) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := url.Values{}
	query.Set("query.bibliographic", providers.SearchQuery(req))
	query.Set("rows", strconv.Itoa(maxRows))
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// bestMatch selects the first candidate consistent with the request's
// author and year hints and converts it to a Record. Candidates that
// contradict a known hint are skipped entirely: a confidently wrong match
// is worse than a miss that escalates to the next provider.
func (c *Client) bestMatch(req *domain.CitationRequest, items []work) *domain.Record {
	for i := range items {
		item := &items[i]
		if len(item.Title) == 0 || item.Title[0] == "" {
			continue
		}
		if !authorMatches(req, item) {
			continue
		}
		if !yearMatches(req, item) {
			continue
		}
		return c.workToRecord(req, item)
	}
	return nil
}

// authorMatches reports whether the candidate's first author agrees with
// the request's author hint. A missing hint matches anything.
func authorMatches(req *domain.CitationRequest, item *work) bool {
	hint := domain.NormalizeSurname(req.Hints.Author)
	if hint == "" {
		return true
	}
	for _, a := range item.Author {
		if domain.NormalizeSurname(a.Family) == hint {
			return true
		}
	}
	return false
}

// yearMatches reports whether the candidate's publication year agrees with
// the request's year hint. A missing hint matches anything.
func yearMatches(req *domain.CitationRequest, item *work) bool {
	if req.Hints.Year == "" {
		return true
	}
	want, err := strconv.Atoi(req.Hints.Year)
	if err != nil {
		return true
	}
	got := item.Issued.year()
	return got == 0 || got == want
}

// workToRecord converts a CrossRef work to the uniform Record shape.
func (c *Client) workToRecord(req *domain.CitationRequest, item *work) *domain.Record {
	authors := make([]string, 0, len(item.Author))
	for _, a := range item.Author {
		if a.Family != "" {
			authors = append(authors, a.Family)
		}
	}

	year := req.Hints.Year
	if y := item.Issued.year(); y != 0 {
		year = strconv.Itoa(y)
	}

	var journal string
	if len(item.ContainerTitle) > 0 {
		journal = item.ContainerTitle[0]
	}

	confidence := 0.8
	if req.Hints.Author != "" && req.Hints.Year != "" {
		confidence = 0.95
	}

	return &domain.Record{
		CitationType: citationType(item.Type),
		Title:        item.Title[0],
		Authors:      authors,
		Year:         year,
		Journal:      journal,
		Volume:       item.Volume,
		Issue:        item.Issue,
		Pages:        item.Page,
		Publisher:    item.Publisher,
		DOI:          item.DOI,
		URL:          item.URL,
		Confidence:   confidence,
		Provenance:   c.Name(),
	}
}

// citationType maps CrossRef work types onto the citation taxonomy.
func citationType(t string) domain.CitationType {
	switch t {
	case "journal-article":
		return domain.CitationTypeJournal
	case "book", "monograph", "edited-book":
		return domain.CitationTypeBook
	case "book-chapter":
		return domain.CitationTypeChapter
	default:
		return domain.CitationTypeUnknown
	}
}
