package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisQueue(t *testing.T) (*RedisQueue, *redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewRedisQueue(client, DefaultConfig("test"))
	require.NoError(t, err)

	return q, client, mr
}

type record struct {
	Model string `json:"model"`
	Cost  string `json:"cost"`
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	q, _, _ := setupRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, record{Model: "gpt-4o", Cost: "0.001234"}))
	require.NoError(t, q.Enqueue(ctx, record{Model: "gpt-4o-mini", Cost: "0.000012"}))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var first record
	raw, ok := items[0].(json.RawMessage)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(raw, &first))
	assert.Equal(t, "gpt-4o", first.Model)
	assert.Equal(t, "0.001234", first.Cost)
}

func TestRedisQueue_DequeueWithTimeoutEmpty(t *testing.T) {
	q, _, _ := setupRedisQueue(t)

	items, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisQueue_OrderIsFIFO(t *testing.T) {
	q, _, _ := setupRedisQueue(t)
	ctx := context.Background()

	for _, model := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, record{Model: model}))
	}

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 3)

	for i, want := range []string{"a", "b", "c"} {
		var got record
		require.NoError(t, json.Unmarshal(items[i].(json.RawMessage), &got))
		assert.Equal(t, want, got.Model)
	}
}

func TestRedisDeadLetterQueue(t *testing.T) {
	_, client, _ := setupRedisQueue(t)
	ctx := context.Background()

	dlq, err := NewRedisDeadLetterQueue(client, DefaultConfig("test"))
	require.NoError(t, err)

	require.NoError(t, dlq.Add(ctx, record{Model: "gpt-4o"}, errors.New("batch insert failed")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "batch insert failed", items[0].Error)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)

	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
