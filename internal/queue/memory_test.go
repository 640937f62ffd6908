package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "first"))
	require.NoError(t, q.Enqueue(ctx, "second"))
	require.NoError(t, q.Enqueue(ctx, "third"))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, length)

	items, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"first", "second", "third"}, items)
}

func TestMemoryQueue_DequeueRespectsMaxItems(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, i))
	}

	items, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, length)
}

func TestMemoryQueue_DequeueBlocksUntilItem(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, "late")
	}()

	items, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"late"}, items)
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	ctx := context.Background()

	start := time.Now()
	items, err := q.DequeueWithTimeout(ctx, 10, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMemoryQueue_CancelledContext(t *testing.T) {
	q := NewMemoryQueue(nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(nil)
	require.NoError(t, q.Close())

	ctx := context.Background()
	assert.ErrorIs(t, q.Enqueue(ctx, "x"), ErrQueueClosed)
	_, err := q.Dequeue(ctx, 1)
	assert.ErrorIs(t, err, ErrQueueClosed)
	_, err = q.Length(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Double close is safe.
	assert.NoError(t, q.Close())
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, "broken-record", errors.New("insert failed")))
	require.NoError(t, dlq.Add(ctx, "another", errors.New("insert failed")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "broken-record", items[0].Item)
	assert.Equal(t, "insert failed", items[0].Error)
	assert.NotEmpty(t, items[0].ID)
	assert.NotEqual(t, items[0].ID, items[1].ID)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))

	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	assert.ErrorIs(t, dlq.Remove(ctx, "no-such-id"), ErrItemNotFound)
}
