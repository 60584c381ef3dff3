package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citategenie/resolution-service/internal/domain"
)

func testClient(t *testing.T, cfg HTTPClientConfig) *HTTPClient {
	t.Helper()
	if cfg.Provider == "" {
		cfg.Provider = "testprovider"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1000
	}
	return NewHTTPClient(cfg)
}

func TestHTTPClient_Do_Success(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "CitateGenie-ResolutionService/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_Do_APIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{
		APIKey:       "Bearer sk-test",
		APIKeyHeader: "Authorization",
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestHTTPClient_Do_RateLimitRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var rateLimited atomic.Int32
	client := testClient(t, HTTPClientConfig{
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
		OnRateLimited: func() { rateLimited.Add(1) },
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), rateLimited.Load())
	// Server asked for 1s; the transport must honor it over the tiny base delay.
	assert.GreaterOrEqual(t, elapsed, time.Second)
}

func TestHTTPClient_Do_RateLimitExponentialBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 429 without Retry-After, every time
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	base := 20 * time.Millisecond
	client := testClient(t, HTTPClientConfig{
		MaxRetries: 3,
		RetryDelay: base,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)

	start := time.Now()
	_, err := client.Do(req)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient, "exhausted rate-limit retries surface as transient")
	assert.Equal(t, int32(4), calls.Load(), "initial attempt plus three retries")
	// Delays of base, 2*base, 4*base between the four attempts.
	assert.GreaterOrEqual(t, elapsed, 7*base)
}

func TestHTTPClient_Do_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_Do_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_Do_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTerminal)
	assert.Equal(t, int32(1), calls.Load(), "terminal errors must not be retried")

	var terminal *domain.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, http.StatusBadRequest, terminal.StatusCode)
	assert.Equal(t, "testprovider", terminal.Provider)
}

func TestHTTPClient_Do_NotFoundPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err, "404 is the adapter's not-found signal, not a transport error")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPClient_Do_NetworkErrorIsTransient(t *testing.T) {
	client := testClient(t, HTTPClientConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})

	// Closed server: connection refused on every attempt.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	_, err := client.Do(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestHTTPClient_Do_RequestTimeoutRetriedAsTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient, "the transport's own timeout is a retryable network failure")
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestHTTPClient_Do_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(t, HTTPClientConfig{
		MaxRetries: 5,
		RetryDelay: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPClient_Backoff(t *testing.T) {
	client := testClient(t, HTTPClientConfig{RetryDelay: time.Second})

	assert.Equal(t, time.Second, client.backoff(0))
	assert.Equal(t, 2*time.Second, client.backoff(1))
	assert.Equal(t, 4*time.Second, client.backoff(2))
	assert.Equal(t, maxBackoff, client.backoff(10), "backoff is capped")
}

func TestHTTPClient_RetryAfter(t *testing.T) {
	client := testClient(t, HTTPClientConfig{RetryDelay: time.Second})

	t.Run("seconds form", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
		assert.Equal(t, 3*time.Second, client.retryAfter(resp))
	})

	t.Run("http date form", func(t *testing.T) {
		future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
		resp := &http.Response{Header: http.Header{"Retry-After": []string{future}}}
		delay := client.retryAfter(resp)
		assert.Greater(t, delay, 3*time.Second)
		assert.LessOrEqual(t, delay, 5*time.Second)
	})

	t.Run("missing header", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Equal(t, time.Duration(0), client.retryAfter(resp))
	})

	t.Run("garbage header", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"soon"}}}
		assert.Equal(t, time.Duration(0), client.retryAfter(resp))
	})
}
