// Package openai implements the LLM extraction provider backed by the
// OpenAI Chat Completions API. It is the most expensive tier of the
// cascade: instead of querying a bibliographic index it asks the model to
// read the raw citation fragment and extract structured fields, billed by
// token usage.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/providers"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the extraction model used when none is configured.
	DefaultModel = "gpt-4o"

	// DefaultRateLimit keeps token spend bounded.
	DefaultRateLimit = 5.0

	// DefaultTimeout is the default request timeout. Completions are
	// slower than index lookups.
	DefaultTimeout = 60 * time.Second

	// maxCompletionTokens bounds the response; extracted citations are small.
	maxCompletionTokens = 512
)

// Config holds configuration for the OpenAI extraction client.
type Config struct {
	// BaseURL is the API base URL. Defaults to https://api.openai.com/v1.
	BaseURL string

	// APIKey is the OpenAI API key. The provider is effectively disabled
	// without one.
	APIKey string

	// Model is the model identifier.
	Model string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxRetries is the maximum retry attempts per call.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// InputCostPerMTok is the USD price per million prompt tokens.
	InputCostPerMTok float64

	// OutputCostPerMTok is the USD price per million completion tokens.
	OutputCostPerMTok float64

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
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
}

// Client implements the providers.Provider interface for OpenAI.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

// Ensure Client implements the Provider interface.
var _ providers.Provider = (*Client)(nil)

// New creates a new OpenAI extraction client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:      "openai",
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
func (c *Client) Name() string { return "openai" }

// CostClass returns the provider's expense bucket.
func (c *Client) CostClass() domain.CostClass { return domain.CostClassPaidAI }

// Enabled reports whether this provider participates in the cascade.
// A missing API key disables the provider regardless of configuration.
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// Resolve asks the model to extract bibliographic fields from the raw
// citation text. Cost is computed from the token usage the API reports, so
// an answered request is billed even when the extraction is unusable;
// failed requests cost nothing.
func (c *Client) Resolve(ctx context.Context, req *domain.CitationRequest) (*domain.Record, float64, error) {
	system, user := providers.BuildExtractionPrompt(req)

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		MaxTokens:      maxCompletionTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, 0, &domain.TerminalError{Provider: c.Name(), Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, &domain.TerminalError{Provider: c.Name(), Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// A failed request consumed no tokens.
		return nil, 0, err
	}
	defer resp.Body.Close()

	var chat chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&chat); err != nil {
		return nil, 0, &domain.TransientError{Provider: c.Name(), Cause: fmt.Errorf("decoding response: %w", err)}
	}

	cost := providers.TokenCost(chat.Usage.PromptTokens, chat.Usage.CompletionTokens,
		c.config.InputCostPerMTok, c.config.OutputCostPerMTok)

	if len(chat.Choices) == 0 {
		return nil, cost, domain.ErrNotFound
	}

	var extracted providers.ExtractedCitation
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &extracted); err != nil {
		// Tokens were spent even when the model ignored the format.
		return nil, cost, domain.ErrNotFound
	}
	if extracted.Title == "" {
		return nil, cost, domain.ErrNotFound
	}

	return extracted.Record(c.Name()), cost, nil
}
