package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/citategenie/resolution-service/internal/domain"
)

// maxBackoff caps the exponential backoff delay for a single retry.
const maxBackoff = 30 * time.Second

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Provider is the provider name carried in classified errors.
	Provider string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff; attempt n
	// waits RetryDelay * 2^n unless the server supplied a Retry-After.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string

	// OnRateLimited, when set, is invoked once per observed rate-limit
	// response. Used to feed the rate-limit metric.
	OnRateLimited func()
}

// HTTPClient wraps http.Client with per-provider rate limiting, retries,
// and classification of failures into the transient/terminal taxonomy.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
// The client applies rate limiting before each request attempt and
// automatically retries on 429 (Too Many Requests), 5xx server errors,
// and network failures.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = int(cfg.RateLimit)
		if cfg.BurstSize < 1 {
			cfg.BurstSize = 1
		}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "CitateGenie-ResolutionService/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Do executes an HTTP request with rate limiting and retries.
//
// Retry policy, per attempt:
//   - 429: wait the server-supplied Retry-After when present, otherwise
//     exponential backoff, then retry
//   - 5xx and network errors: exponential backoff, then retry
//   - any other 4xx: return a terminal error immediately, no retry
//
// When retries are exhausted the failure is reported as transient so the
// cascade moves on to the next provider. Context cancellation always
// returns immediately with the context's error.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// The client's own fixed timeout also surfaces as
			// DeadlineExceeded; only the caller's context ending stops
			// the retry loop.
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			if attempt < c.config.MaxRetries {
				if err := c.waitForRetry(req.Context(), c.backoff(attempt)); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, &domain.TransientError{Provider: c.config.Provider, Cause: lastErr}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if c.config.OnRateLimited != nil {
				c.config.OnRateLimited()
			}
			retryAfter := c.retryAfter(resp)
			delay := retryAfter
			if delay == 0 {
				delay = c.backoff(attempt)
			}
			drainBody(resp)

			rlErr := &domain.RateLimitError{Provider: c.config.Provider, RetryAfter: retryAfter}
			if attempt < c.config.MaxRetries {
				lastErr = rlErr
				if err := c.waitForRetry(req.Context(), delay); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, &domain.TransientError{Provider: c.config.Provider, Cause: rlErr}

		case resp.StatusCode >= 500:
			drainBody(resp)
			if attempt < c.config.MaxRetries {
				lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
				if err := c.waitForRetry(req.Context(), c.backoff(attempt)); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, &domain.TransientError{
				Provider: c.config.Provider,
				Cause:    fmt.Errorf("max retries exhausted after %d attempts, last status: %d", c.config.MaxRetries+1, resp.StatusCode),
			}

		case resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &domain.TerminalError{
				Provider:   c.config.Provider,
				StatusCode: resp.StatusCode,
				Message:    string(body),
			}
		}

		// Success, or a 404 the adapter maps to its own not-found semantics.
		return resp, nil
	}

	if lastErr != nil {
		return nil, &domain.TransientError{Provider: c.config.Provider, Cause: lastErr}
	}
	return nil, errors.New("unexpected error: no response received")
}

// backoff computes the exponential delay for the given attempt number.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	delay := c.config.RetryDelay << uint(attempt)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

// retryAfter parses the Retry-After header, supporting both the seconds and
// HTTP-date forms. Returns 0 when absent or unparseable.
func (c *HTTPClient) retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}

// drainBody discards and closes a response body so the connection can be reused.
func drainBody(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
