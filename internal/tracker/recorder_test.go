package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/observability"
	"github.com/citategenie/resolution-service/internal/repository"
)

func sampleAttempt() *domain.ResolutionAttempt {
	return &domain.ResolutionAttempt{
		DocumentID: uuid.New(),
		UserID:     42,
		Provider:   "crossref",
		CostClass:  domain.CostClassFree,
		Query:      "Endler 1978",
		Outcome:    domain.OutcomeSuccess,
		Cost:       0,
		Latency:    120 * time.Millisecond,
	}
}

func sampleResult() (*domain.CitationRequest, *domain.ResolutionResult) {
	req := &domain.CitationRequest{
		RawText:    "(Endler, 1978)",
		UserID:     42,
		DocumentID: uuid.New(),
	}
	res := &domain.ResolutionResult{
		Index:    3,
		Found:    true,
		Tier:     domain.TierProvider,
		Provider: "crossref",
		Record:   &domain.Record{LookupKey: "endler_1978", Title: "A predator's view"},
		Cost:     0.01,
		Latency:  250 * time.Millisecond,
	}
	return req, res
}

// countingRecorder counts calls for fan-out tests.
type countingRecorder struct {
	attempts int
	results  int
}

func (c *countingRecorder) RecordAttempt(context.Context, *domain.ResolutionAttempt) { c.attempts++ }
func (c *countingRecorder) RecordResult(context.Context, *domain.CitationRequest, *domain.ResolutionResult) {
	c.results++
}

func TestMulti(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	multi := Multi(a, nil, b)

	req, res := sampleResult()
	multi.RecordAttempt(context.Background(), sampleAttempt())
	multi.RecordResult(context.Background(), req, res)

	assert.Equal(t, 1, a.attempts)
	assert.Equal(t, 1, a.results)
	assert.Equal(t, 1, b.attempts)
	assert.Equal(t, 1, b.results)
}

func TestResultOutcome(t *testing.T) {
	assert.Equal(t, "found", resultOutcome(&domain.ResolutionResult{Found: true}))
	assert.Equal(t, "partial", resultOutcome(&domain.ResolutionResult{Partial: true}))
	assert.Equal(t, "miss", resultOutcome(&domain.ResolutionResult{}))
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	recorder := NewLogRecorder(zerolog.New(&buf))

	req, res := sampleResult()
	recorder.RecordResult(context.Background(), req, res)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "citation resolved", entry["message"])
	assert.Equal(t, "found", entry["outcome"])
	assert.Equal(t, "provider", entry["tier"])
	assert.Equal(t, "crossref", entry["provider"])
	assert.Equal(t, float64(42), entry["user_id"])
}

func TestMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	recorder := NewMetricsRecorder(metrics)

	attempt := sampleAttempt()
	attempt.Cost = 0.01
	recorder.RecordAttempt(context.Background(), attempt)
	recorder.RecordAttempt(context.Background(), attempt)

	req, res := sampleResult()
	recorder.RecordResult(context.Background(), req, res)

	calls := testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues("crossref", "success"))
	assert.Equal(t, 2.0, calls)

	spend := testutil.ToFloat64(metrics.ResolutionCost.WithLabelValues("crossref"))
	assert.InDelta(t, 0.02, spend, 1e-9)

	lookups := testutil.ToFloat64(metrics.LookupsTotal.WithLabelValues("provider"))
	assert.Equal(t, 1.0, lookups)
}

// logRepo stubs the repository with only InsertLookupLog observable.
type logRepo struct {
	repository.CitationRepository

	mu      sync.Mutex
	entries []*repository.LookupLogEntry
	fail    error
}

func (s *logRepo) InsertLookupLog(_ context.Context, entry *repository.LookupLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestDBRecorder(t *testing.T) {
	t.Run("persists one row per result", func(t *testing.T) {
		repo := &logRepo{}
		recorder := NewDBRecorder(repo, zerolog.Nop())

		req, res := sampleResult()
		recorder.RecordAttempt(context.Background(), sampleAttempt())
		recorder.RecordResult(context.Background(), req, res)

		require.Len(t, repo.entries, 1, "attempts are not persisted")
		entry := repo.entries[0]
		assert.Equal(t, int64(42), entry.UserID)
		assert.Equal(t, "endler_1978", entry.LookupKey)
		assert.Equal(t, "found", string(entry.Outcome))
		assert.Equal(t, "provider", string(entry.Tier))
		assert.InDelta(t, 0.01, entry.Cost, 1e-9)
	})

	t.Run("insert failure is swallowed", func(t *testing.T) {
		repo := &logRepo{fail: errors.New("db down")}
		recorder := NewDBRecorder(repo, zerolog.Nop())

		req, res := sampleResult()
		assert.NotPanics(t, func() {
			recorder.RecordResult(context.Background(), req, res)
		})
	})
}

// stubWriter captures published messages; an optional gate blocks writes.
type stubWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	gate     chan struct{}
	closed   bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *stubWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

func TestKafkaRecorder(t *testing.T) {
	t.Run("publishes attempt and result events", func(t *testing.T) {
		writer := &stubWriter{}
		recorder := newKafkaRecorder(writer, 16, zerolog.Nop())

		req, res := sampleResult()
		recorder.RecordAttempt(context.Background(), sampleAttempt())
		recorder.RecordResult(context.Background(), req, res)

		require.NoError(t, recorder.Close())
		assert.True(t, writer.closed)
		require.Equal(t, 2, writer.count())

		var attempt attemptEvent
		require.NoError(t, json.Unmarshal(writer.messages[0].Value, &attempt))
		assert.Equal(t, "resolution.attempt", attempt.Event)
		assert.Equal(t, "crossref", attempt.Provider)
		assert.Equal(t, "free", attempt.CostClass)

		var result resultEvent
		require.NoError(t, json.Unmarshal(writer.messages[1].Value, &result))
		assert.Equal(t, "resolution.result", result.Event)
		assert.Equal(t, "found", result.Outcome)
		assert.Equal(t, "endler_1978", result.LookupKey)
		assert.Equal(t, req.DocumentID.String(), string(writer.messages[1].Key))
	})

	t.Run("drops events instead of blocking", func(t *testing.T) {
		writer := &stubWriter{gate: make(chan struct{})}
		recorder := newKafkaRecorder(writer, 1, zerolog.Nop())

		req, res := sampleResult()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 50; i++ {
				recorder.RecordResult(context.Background(), req, res)
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("recording blocked on a stuck writer")
		}
		assert.Greater(t, recorder.Dropped(), int64(0))

		close(writer.gate)
		require.NoError(t, recorder.Close())
	})
}
