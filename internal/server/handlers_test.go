package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citategenie/resolution-service/internal/config"
	"github.com/citategenie/resolution-service/internal/database"
	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/repository"
)

// stubResolver answers every citation with a canned record.
type stubResolver struct {
	calls int
}

func (s *stubResolver) ResolveOne(_ context.Context, req *domain.CitationRequest) *domain.ResolutionResult {
	s.calls++
	return &domain.ResolutionResult{
		Found:    true,
		Tier:     domain.TierProvider,
		Provider: "crossref",
		Record: &domain.Record{
			LookupKey: "endler_1978",
			Title:     "A predator's view of animal color patterns",
			Authors:   []string{"Endler"},
			Year:      "1978",
		},
		Cost:    0.0,
		Latency: 120 * time.Millisecond,
	}
}

func (s *stubResolver) ResolveBatch(ctx context.Context, reqs []*domain.CitationRequest) []*domain.ResolutionResult {
	results := make([]*domain.ResolutionResult, len(reqs))
	for i := range reqs {
		results[i] = s.ResolveOne(ctx, reqs[i])
		results[i].Index = i
	}
	return results
}

// stubEdits records SaveUserEdit calls.
type stubEdits struct {
	class domain.EditClassification
	err   error
}

func (s *stubEdits) SaveUserEdit(context.Context, int64, *domain.Record, string, string, map[string]string) (domain.EditClassification, error) {
	return s.class, s.err
}

// stubRepo stubs the repository surface the handlers touch.
type stubRepo struct {
	repository.CitationRepository

	shared   map[string]*domain.Record
	stats    *repository.LibraryStats
	statsErr error
	purged   int64
	purgeErr error
}

func (s *stubRepo) GetSharedByKeys(_ context.Context, keys []string) (*domain.Record, error) {
	for _, k := range keys {
		if r, ok := s.shared[k]; ok {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubRepo) Stats(context.Context, int) (*repository.LibraryStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return s.stats, nil
}

func (s *stubRepo) PurgeByKey(context.Context, string) (int64, error) {
	return s.purged, s.purgeErr
}

// stubHealth reports a fixed health status.
type stubHealth struct {
	status database.HealthStatus
}

func (s *stubHealth) Health(context.Context) database.HealthStatus { return s.status }

func newTestServer(resolver *stubResolver, edits *stubEdits, repo *stubRepo) *Server {
	if resolver == nil {
		resolver = &stubResolver{}
	}
	if edits == nil {
		edits = &stubEdits{class: domain.EditAcceptedOriginal}
	}
	if repo == nil {
		repo = &stubRepo{}
	}
	return NewServer(
		config.ServerConfig{Host: "127.0.0.1", HTTPPort: 0},
		config.MetricsConfig{Enabled: false},
		resolver,
		edits,
		repo,
		&stubHealth{status: database.HealthStatus{Status: "healthy"}},
		zerolog.Nop(),
	)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, srv.Router(), http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy database", func(t *testing.T) {
		srv := NewServer(
			config.ServerConfig{},
			config.MetricsConfig{},
			&stubResolver{},
			&stubEdits{},
			&stubRepo{},
			&stubHealth{status: database.HealthStatus{Status: "unhealthy", Error: "connection refused"}},
			zerolog.Nop(),
		)
		rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

func TestResolveCitation(t *testing.T) {
	t.Run("resolves one citation", func(t *testing.T) {
		resolver := &stubResolver{}
		srv := newTestServer(resolver, nil, nil)

		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/resolve",
			`{"raw_text": "(Endler, 1978)", "user_id": 7, "style": "apa"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, resolver.calls)

		var resp resolutionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Found)
		assert.Equal(t, "provider", resp.Tier)
		assert.Equal(t, "crossref", resp.Provider)
		require.NotNil(t, resp.Record)
		assert.Equal(t, "endler_1978", resp.Record.LookupKey)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/resolve", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty raw text", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/resolve", `{"raw_text": ""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown style", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/resolve",
			`{"raw_text": "(Endler, 1978)", "style": "vancouver"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("echoes correlation ID", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/resolve",
			strings.NewReader(`{"raw_text": "(Endler, 1978)"}`))
		req.Header.Set("X-Correlation-ID", "corr-123")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))
	})
}

func TestResolveDocument(t *testing.T) {
	documentID := "3e0170e3-ffac-4753-92f5-a33021a9ea8d"

	t.Run("resolves a batch in order", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)

		body := `{"user_id": 7, "citations": [
			{"raw_text": "(Endler, 1978)"},
			{"raw_text": "(Simonton, 1992)"},
			{"raw_text": "(Smith & Jones, 2020)"}
		]}`
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/documents/"+documentID+"/resolve", body)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp resolveDocumentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, documentID, resp.DocumentID)
		assert.Equal(t, 3, resp.Citations)
		assert.Equal(t, 3, resp.Resolved)
		require.Len(t, resp.Results, 3)
		for i, res := range resp.Results {
			assert.Equal(t, i, res.Index)
		}
	})

	t.Run("rejects invalid document ID", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/documents/not-a-uuid/resolve",
			`{"citations": [{"raw_text": "(Endler, 1978)"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty batch", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/documents/"+documentID+"/resolve",
			`{"citations": []}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects oversized batch", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)

		citations := make([]string, 501)
		for i := range citations {
			citations[i] = fmt.Sprintf(`{"raw_text": "(Smith, %d)"}`, 1500+i)
		}
		body := `{"citations": [` + strings.Join(citations, ",") + `]}`

		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/documents/"+documentID+"/resolve", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLibraryStats(t *testing.T) {
	t.Run("returns stats", func(t *testing.T) {
		repo := &stubRepo{stats: &repository.LibraryStats{
			SharedRecords: 1200,
			TotalLookups:  48000,
			UserEntries:   300,
			TopKeys: []repository.KeyCount{
				{LookupKey: "endler_1978", Count: 812},
			},
		}}
		srv := newTestServer(nil, nil, repo)

		rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/library/stats?top=5", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp statsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(1200), resp.SharedRecords)
		require.Len(t, resp.TopKeys, 1)
		assert.Equal(t, "endler_1978", resp.TopKeys[0].LookupKey)
	})

	t.Run("rejects bad top parameter", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/library/stats?top=lots", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure is 503", func(t *testing.T) {
		repo := &stubRepo{statsErr: errors.New("db down")}
		srv := newTestServer(nil, nil, repo)
		rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/library/stats", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestPurgeRecord(t *testing.T) {
	t.Run("purges matching records", func(t *testing.T) {
		repo := &stubRepo{purged: 2}
		srv := newTestServer(nil, nil, repo)

		rec := doJSON(t, srv.Router(), http.MethodDelete, "/api/v1/library/records/endler_1978", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"deleted": 2}`, rec.Body.String())
	})

	t.Run("missing key is 404", func(t *testing.T) {
		repo := &stubRepo{purged: 0}
		srv := newTestServer(nil, nil, repo)
		rec := doJSON(t, srv.Router(), http.MethodDelete, "/api/v1/library/records/nobody_1900", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSaveUserEdit(t *testing.T) {
	record := &domain.Record{LookupKey: "endler_1978", Title: "A predator's view"}

	t.Run("classifies and saves the edit", func(t *testing.T) {
		repo := &stubRepo{shared: map[string]*domain.Record{"endler_1978": record}}
		edits := &stubEdits{class: domain.EditMinor}
		srv := newTestServer(nil, edits, repo)

		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/users/7/edits",
			`{"lookup_key": "endler_1978", "saved_text": "Endler, J. A. (1978)...", "recommended_text": "Endler, J.A. (1978)..."}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"edit_class": "minor_edit"}`, rec.Body.String())
	})

	t.Run("unknown record is 404", func(t *testing.T) {
		srv := newTestServer(nil, nil, &stubRepo{})
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/users/7/edits",
			`{"lookup_key": "nobody_1900", "saved_text": "x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid user ID is 400", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/users/zero/edits",
			`{"lookup_key": "endler_1978", "saved_text": "x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("save failure is 503", func(t *testing.T) {
		repo := &stubRepo{shared: map[string]*domain.Record{"endler_1978": record}}
		edits := &stubEdits{err: domain.ErrStoreUnavailable}
		srv := newTestServer(nil, edits, repo)

		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/v1/users/7/edits",
			`{"lookup_key": "endler_1978", "saved_text": "x"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
