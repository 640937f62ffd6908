// Package queue buffers audit records between the request path and the
// recorder worker. Two backends share one interface:
//
//   - MemoryQueue: channel-based, no persistence, for standalone
//     deployments and tests.
//   - RedisQueue: Redis list-based, survives restarts and supports
//     distributed workers.
//
// Items that exhaust their retries land in a dead letter queue so an
// operator can inspect and replay them.
package queue

import (
	"context"
	"time"
)

// Queue is the transport between producers and the batch worker.
type Queue interface {
	// Enqueue adds an item to the queue.
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue retrieves up to maxItems, blocking until at least one item
	// is available or the context is cancelled.
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout retrieves up to maxItems, returning an empty
	// slice if nothing arrives before the timeout.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the current queue depth.
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue.
	Close() error
}

// DeadLetterQueue holds items that could not be processed.
type DeadLetterQueue interface {
	// Add stores a failed item together with its error.
	Add(ctx context.Context, item interface{}, err error) error

	// List retrieves up to maxItems dead letter items; maxItems <= 0
	// means all.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes an item by ID.
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue.
	Close() error
}

// DeadLetterItem is a failed item with its failure context.
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// Config holds queue tuning knobs.
type Config struct {
	// BatchSize caps how many items a worker drains per batch.
	BatchSize int

	// BatchTimeout is how long a worker waits before flushing a partial
	// batch.
	BatchTimeout time.Duration

	// MaxRetries is how many times a failed batch is retried before its
	// items move to the dead letter queue.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries; it doubles on
	// each attempt.
	RetryBackoff time.Duration

	// QueueName namespaces the Redis keys.
	QueueName string
}

// DefaultConfig returns sensible defaults for a named queue.
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		QueueName:    queueName,
	}
}
