// Package openalex implements the free OpenAlex bibliographic provider,
// tried after CrossRef within the free cost class. OpenAlex covers books
// and older works that CrossRef's DOI-centric index misses.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/providers"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the polite-pool request rate.
	DefaultRateLimit = 10.0

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// doiPrefix is the URL prefix that OpenAlex uses for DOIs.
	doiPrefix = "https://doi.org/"

	// maxResults is how many candidates to fetch per query.
	maxResults = 5
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the OpenAlex API base URL. Defaults to https://api.openalex.org.
	BaseURL string

	// Email is the contact email for the polite pool.
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

// Client implements the providers.Provider interface for OpenAlex.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

// Ensure Client implements the Provider interface.
var _ providers.Provider = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:      "openalex",
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
func (c *Client) Name() string { return "openalex" }

// CostClass returns the provider's expense bucket.
func (c *Client) CostClass() domain.CostClass { return domain.CostClassFree }

// Enabled reports whether this provider participates in the cascade.
func (c *Client) Enabled() bool { return c.config.Enabled }

// Resolve queries OpenAlex for the citation and returns the best-matching
// record. OpenAlex calls are free; the returned cost is always zero.
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
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, 0, domain.ErrNotFound
	}

	var search searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&search); err != nil {
		return nil, 0, &domain.TransientError{Provider: c.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}

	record := c.bestMatch(req, search.Results)
	if record == nil {
		return nil, 0, domain.ErrNotFound
	}

	return record, 0, nil
}

// buildSearchURL constructs the works search URL. A DOI hint becomes a doi
// filter, which is an exact identifier lookup; otherwise year hints become a
// publication_year filter so the index does the narrowing.
func (c *Client) buildSearchURL(req *domain.CitationRequest) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := url.Values{}
	if req.Hints.DOI != "" {
		query.Set("filter", "doi:"+req.Hints.DOI)
	} else {
		query.Set("search", providers.SearchQuery(req))
		if req.Hints.Year != "" {
			query.Set("filter", "publication_year:"+req.Hints.Year)
		}
	}
	query.Set("per_page", strconv.Itoa(maxResults))
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// bestMatch selects the first candidate consistent with the author hint.
// The year was already filtered server-side when a hint was present.
func (c *Client) bestMatch(req *domain.CitationRequest, results []work) *domain.Record {
	hint := domain.NormalizeSurname(req.Hints.Author)
	for i := range results {
		w := &results[i]
		title := w.DisplayName
		if title == "" {
			title = w.Title
		}
		if title == "" {
			continue
		}
		if hint != "" && !hasAuthor(w, hint) {
			continue
		}
		return c.workToRecord(w, title)
	}
	return nil
}

// hasAuthor reports whether any authorship surname matches the normalized hint.
func hasAuthor(w *work, hint string) bool {
	for _, a := range w.Authorships {
		if domain.NormalizeSurname(surname(a.Author.DisplayName)) == hint {
			return true
		}
	}
	return false
}

// surname extracts the last token of a display name. OpenAlex only exposes
// full display names, not structured family names.
func surname(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// workToRecord converts an OpenAlex work to the uniform Record shape.
func (c *Client) workToRecord(w *work, title string) *domain.Record {
	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if s := surname(a.Author.DisplayName); s != "" {
			authors = append(authors, s)
		}
	}

	var year string
	if w.PublicationYear != 0 {
		year = strconv.Itoa(w.PublicationYear)
	}

	var journal, publisher, pageURL string
	if w.PrimaryLocation != nil {
		pageURL = w.PrimaryLocation.LandingPageURL
		if w.PrimaryLocation.Source != nil {
			journal = w.PrimaryLocation.Source.DisplayName
			publisher = w.PrimaryLocation.Source.Publisher
		}
	}

	pages := w.Biblio.FirstPage
	if w.Biblio.LastPage != "" && w.Biblio.LastPage != w.Biblio.FirstPage {
		pages = w.Biblio.FirstPage + "-" + w.Biblio.LastPage
	}

	return &domain.Record{
		CitationType: citationType(w.Type),
		Title:        title,
		Authors:      authors,
		Year:         year,
		Journal:      journal,
		Volume:       w.Biblio.Volume,
		Issue:        w.Biblio.Issue,
		Pages:        pages,
		Publisher:    publisher,
		DOI:          normalizeDOI(w.DOI),
		URL:          pageURL,
		Confidence:   0.9,
		Provenance:   c.Name(),
	}
}

// citationType maps OpenAlex work types onto the citation taxonomy.
func citationType(t string) domain.CitationType {
	switch t {
	case "article":
		return domain.CitationTypeJournal
	case "book":
		return domain.CitationTypeBook
	case "book-chapter":
		return domain.CitationTypeChapter
	default:
		return domain.CitationTypeUnknown
	}
}

// normalizeDOI strips the https://doi.org/ prefix and lowercases the DOI.
func normalizeDOI(doi string) string {
	if doi == "" {
		return ""
	}
	doi = strings.TrimSpace(doi)
	doi = strings.TrimPrefix(doi, doiPrefix)
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimPrefix(doi, "doi:")
	return strings.ToLower(strings.TrimSpace(doi))
}
