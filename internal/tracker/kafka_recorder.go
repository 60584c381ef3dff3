package tracker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/citategenie/resolution-service/internal/domain"
)

const (
	// defaultBufferSize bounds the in-memory event queue.
	defaultBufferSize = 1024

	// writeTimeout bounds one broker write from the publish loop.
	writeTimeout = 10 * time.Second
)

// attemptEvent is the wire shape of one provider attempt.
type attemptEvent struct {
	Event      string  `json:"event"`
	DocumentID string  `json:"document_id,omitempty"`
	UserID     int64   `json:"user_id,omitempty"`
	Provider   string  `json:"provider"`
	CostClass  string  `json:"cost_class"`
	Outcome    string  `json:"outcome"`
	CostUSD    float64 `json:"cost_usd"`
	LatencyMS  int64   `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// resultEvent is the wire shape of one final citation outcome.
type resultEvent struct {
	Event      string  `json:"event"`
	DocumentID string  `json:"document_id,omitempty"`
	UserID     int64   `json:"user_id,omitempty"`
	Index      int     `json:"index"`
	Outcome    string  `json:"outcome"`
	Tier       string  `json:"tier"`
	Provider   string  `json:"provider,omitempty"`
	LookupKey  string  `json:"lookup_key,omitempty"`
	CostUSD    float64 `json:"cost_usd"`
	LatencyMS  int64   `json:"latency_ms"`
	Timestamp  string  `json:"timestamp"`
}

// messageWriter is the subset of kafka.Writer the recorder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka recorder.
type KafkaConfig struct {
	// Brokers is the list of broker addresses.
	Brokers []string

	// Topic is the topic outcome events are published to.
	Topic string

	// BatchSize is the maximum number of events per broker write.
	BatchSize int

	// BatchTimeout is how long the writer waits for a batch to fill.
	BatchTimeout time.Duration

	// BufferSize bounds the in-memory queue between resolutions and the
	// publish loop. Events are dropped when the queue is full.
	BufferSize int
}

// applyDefaults sets default values for unset configuration fields.
func (c *KafkaConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
}

// KafkaRecorder publishes resolution events to a Kafka topic. Events pass
// through a bounded queue serviced by a single background goroutine, so a
// slow or dead broker costs resolutions nothing but dropped telemetry.
type KafkaRecorder struct {
	writer  messageWriter
	events  chan kafka.Message
	done    chan struct{}
	dropped atomic.Int64
	logger  zerolog.Logger
}

// NewKafkaRecorder creates a Kafka-backed recorder and starts its publish
// loop. Call Close to flush and stop it.
func NewKafkaRecorder(cfg KafkaConfig, logger zerolog.Logger) *KafkaRecorder {
	cfg.applyDefaults()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return newKafkaRecorder(writer, cfg.BufferSize, logger)
}

// newKafkaRecorder wires a recorder around any messageWriter.
func newKafkaRecorder(writer messageWriter, bufferSize int, logger zerolog.Logger) *KafkaRecorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	r := &KafkaRecorder{
		writer: writer,
		events: make(chan kafka.Message, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "kafka_recorder").Logger(),
	}
	go r.run()
	return r
}

// RecordAttempt implements Recorder.
func (r *KafkaRecorder) RecordAttempt(_ context.Context, attempt *domain.ResolutionAttempt) {
	r.enqueue(attempt.DocumentID, attemptEvent{
		Event:      "resolution.attempt",
		DocumentID: documentID(attempt.DocumentID),
		UserID:     attempt.UserID,
		Provider:   attempt.Provider,
		CostClass:  attempt.CostClass.String(),
		Outcome:    string(attempt.Outcome),
		CostUSD:    attempt.Cost,
		LatencyMS:  attempt.Latency.Milliseconds(),
		Error:      attempt.Err,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// RecordResult implements Recorder.
func (r *KafkaRecorder) RecordResult(_ context.Context, req *domain.CitationRequest, result *domain.ResolutionResult) {
	evt := resultEvent{
		Event:      "resolution.result",
		DocumentID: documentID(req.DocumentID),
		UserID:     req.UserID,
		Index:      result.Index,
		Outcome:    resultOutcome(result),
		Tier:       string(result.Tier),
		Provider:   result.Provider,
		CostUSD:    result.Cost,
		LatencyMS:  result.Latency.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result.Record != nil {
		evt.LookupKey = result.Record.LookupKey
	}
	r.enqueue(req.DocumentID, evt)
}

// Dropped returns the number of events discarded because the queue was full.
func (r *KafkaRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops the publish loop after draining queued events and closes the
// underlying writer.
func (r *KafkaRecorder) Close() error {
	close(r.events)
	<-r.done
	return r.writer.Close()
}

// enqueue serializes an event and offers it to the queue without blocking.
func (r *KafkaRecorder) enqueue(docID uuid.UUID, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal resolution event")
		return
	}

	msg := kafka.Message{Value: value}
	if docID != (uuid.UUID{}) {
		// Key by document so one document's events stay ordered.
		msg.Key = []byte(docID.String())
	}

	select {
	case r.events <- msg:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn().Int64("dropped", r.dropped.Load()).Msg("event buffer full, dropping resolution events")
		}
	}
}

// run is the publish loop. It greedily drains the queue into batches so a
// burst of resolutions becomes few broker writes.
func (r *KafkaRecorder) run() {
	defer close(r.done)

	batch := make([]kafka.Message, 0, 100)
	for {
		msg, ok := <-r.events
		if !ok {
			return
		}

		batch = append(batch[:0], msg)
	drain:
		for len(batch) < cap(batch) {
			select {
			case m, ok := <-r.events:
				if !ok {
					r.flush(batch)
					return
				}
				batch = append(batch, m)
			default:
				break drain
			}
		}
		r.flush(batch)
	}
}

// flush writes one batch, logging failures. Events in a failed batch are lost.
func (r *KafkaRecorder) flush(batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.writer.WriteMessages(ctx, batch...); err != nil {
		r.logger.Error().Err(err).Int("events", len(batch)).Msg("failed to publish resolution events")
	}
}

// documentID renders a document ID, or empty for the zero UUID.
func documentID(id uuid.UUID) string {
	if id == (uuid.UUID{}) {
		return ""
	}
	return id.String()
}
