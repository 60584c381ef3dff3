package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citategenie/resolution-service/internal/domain"
)

const messagePayload = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-5-sonnet-20241022",
	"stop_reason": "end_turn",
	"content": [
		{"type": "text", "text": "{\"type\":\"journal\",\"title\":\"Leaders of American psychology, 1879-1967\",\"authors\":[\"Simonton\"],\"year\":\"1992\",\"journal\":\"American Psychologist\",\"volume\":\"47\",\"pages\":\"5-17\",\"publisher\":\"\",\"doi\":\"\",\"url\":\"\"}"}
	],
	"usage": {"input_tokens": 500, "output_tokens": 100}
}`

func testRequest() *domain.CitationRequest {
	return &domain.CitationRequest{
		RawText: "(Simonton, 1992)",
		Hints: domain.CitationHints{
			Author: "Simonton",
			Year:   "1992",
		},
	}
}

func newTestClient(serverURL string) *Client {
	return New(Config{
		BaseURL:           serverURL,
		APIKey:            "test-key",
		Enabled:           true,
		MaxRetries:        1,
		RetryDelay:        time.Millisecond,
		InputCostPerMTok:  3.00,
		OutputCostPerMTok: 15.00,
	})
}

func TestClient_Enabled(t *testing.T) {
	t.Run("disabled without API key", func(t *testing.T) {
		client := New(Config{Enabled: true})
		assert.False(t, client.Enabled())
	})

	t.Run("enabled with key and flag", func(t *testing.T) {
		client := New(Config{Enabled: true, APIKey: "k"})
		assert.True(t, client.Enabled())
	})
}

func TestClient_Resolve(t *testing.T) {
	t.Run("extracts record and bills token usage", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
			_, _ = w.Write([]byte(messagePayload))
		}))
		defer server.Close()

		client := newTestClient(server.URL)

		record, cost, err := client.Resolve(context.Background(), testRequest())
		require.NoError(t, err)

		// 500 input tokens at $3/M plus 100 output tokens at $15/M.
		assert.InDelta(t, 0.003, cost, 1e-9)

		assert.Equal(t, domain.CitationTypeJournal, record.CitationType)
		assert.Equal(t, "Leaders of American psychology, 1879-1967", record.Title)
		assert.Equal(t, []string{"Simonton"}, record.Authors)
		assert.Equal(t, "1992", record.Year)
		assert.Equal(t, "47", record.Volume)
		assert.Equal(t, "anthropic", record.Provenance)
		assert.Equal(t, 0.6, record.Confidence)
	})

	t.Run("non-JSON text is billed and not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"content": [{"type": "text", "text": "Sorry, I cannot identify this citation."}],
				"usage": {"input_tokens": 500, "output_tokens": 14}
			}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)

		_, cost, err := client.Resolve(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Greater(t, cost, 0.0, "tokens were consumed regardless")
	})

	t.Run("missing text block is not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"content": [], "usage": {"input_tokens": 500, "output_tokens": 0}}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)

		_, _, err := client.Resolve(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("overloaded API surfaces as transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(server.URL)

		_, cost, err := client.Resolve(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrTransient)
		assert.Zero(t, cost)
	})

	t.Run("auth failure is terminal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
		}))
		defer server.Close()

		client := newTestClient(server.URL)

		_, _, err := client.Resolve(context.Background(), testRequest())
		assert.ErrorIs(t, err, domain.ErrTerminal)
	})
}
