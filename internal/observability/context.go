package observability

import (
	"context"
	"sync"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	documentIDKey contextKey = "document_id"
	userIDKey     contextKey = "user_id"
	sessionIDKey  contextKey = "session_id"
	costKey       contextKey = "cost_accumulator"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithDocumentSession adds the document and session identifiers to the context.
func WithDocumentSession(ctx context.Context, documentID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, documentIDKey, documentID)
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	}
	return ctx
}

// DocumentSessionFromContext retrieves the document and session identifiers.
// Returns empty strings if not present.
func DocumentSessionFromContext(ctx context.Context) (documentID, sessionID string) {
	if id, ok := ctx.Value(documentIDKey).(string); ok {
		documentID = id
	}
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		sessionID = id
	}
	return documentID, sessionID
}

// WithUserID adds the requesting user's ID to the context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the user ID from context. Returns zero if absent.
func UserIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(userIDKey).(int64); ok {
		return id
	}
	return 0
}

// CostAccumulator sums the external spend of one document's resolution run.
// It replaces ambient per-thread cost state: the accumulator travels in the
// context and is safe for concurrent use by all workers of a batch.
type CostAccumulator struct {
	mu    sync.Mutex
	total float64
	calls int64
}

// Add records the cost of one paid call.
func (a *CostAccumulator) Add(cost float64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.total += cost
	a.calls++
	a.mu.Unlock()
}

// Total returns the accumulated cost in USD and the number of paid calls.
func (a *CostAccumulator) Total() (float64, int64) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.calls
}

// WithCostAccumulator attaches a fresh cost accumulator to the context.
func WithCostAccumulator(ctx context.Context) (context.Context, *CostAccumulator) {
	acc := &CostAccumulator{}
	return context.WithValue(ctx, costKey, acc), acc
}

// CostFromContext retrieves the cost accumulator, or nil when absent.
// A nil accumulator accepts Add calls as no-ops, so callers never branch.
func CostFromContext(ctx context.Context) *CostAccumulator {
	if acc, ok := ctx.Value(costKey).(*CostAccumulator); ok {
		return acc
	}
	return nil
}
