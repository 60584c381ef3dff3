package observability

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestDocumentSessionRoundTrip(t *testing.T) {
	ctx := WithDocumentSession(context.Background(), "doc-1", "sess-9")
	doc, sess := DocumentSessionFromContext(ctx)
	assert.Equal(t, "doc-1", doc)
	assert.Equal(t, "sess-9", sess)

	ctx = WithDocumentSession(context.Background(), "doc-2", "")
	doc, sess = DocumentSessionFromContext(ctx)
	assert.Equal(t, "doc-2", doc)
	assert.Empty(t, sess)
}

func TestUserIDRoundTrip(t *testing.T) {
	assert.Zero(t, UserIDFromContext(context.Background()))

	ctx := WithUserID(context.Background(), 42)
	assert.Equal(t, int64(42), UserIDFromContext(ctx))
}

func TestCostAccumulator(t *testing.T) {
	t.Run("accumulates concurrently", func(t *testing.T) {
		ctx, acc := WithCostAccumulator(context.Background())

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				CostFromContext(ctx).Add(0.01)
			}()
		}
		wg.Wait()

		total, calls := acc.Total()
		assert.InDelta(t, 1.00, total, 1e-9)
		assert.Equal(t, int64(100), calls)
	})

	t.Run("nil accumulator is a no-op", func(t *testing.T) {
		acc := CostFromContext(context.Background())
		assert.Nil(t, acc)
		acc.Add(0.5) // must not panic
		total, calls := acc.Total()
		assert.Zero(t, total)
		assert.Zero(t, calls)
	})
}
