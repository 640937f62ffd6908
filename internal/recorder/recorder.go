// Package recorder writes audit records asynchronously. The request path
// only enqueues; a background worker drains the queue in batches and
// persists them, so a slow database never blocks a proxied request.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auditgate/internal/metrics"
	"auditgate/internal/models"
	"auditgate/internal/queue"
	"auditgate/internal/utils"
)

// Store persists batches of audit records.
type Store interface {
	InsertBatch(ctx context.Context, records []*models.APIRequest) error
}

// Recorder accepts audit records and processes them in the background.
type Recorder struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	store       Store
	metrics     *metrics.Metrics
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// New creates a recorder. The dead letter queue and metrics are optional.
func New(q queue.Queue, dlq queue.DeadLetterQueue, store Store, m *metrics.Metrics, config *queue.Config) *Recorder {
	if config == nil {
		config = queue.DefaultConfig("audit")
	}

	return &Recorder{
		queue:       q,
		dlq:         dlq,
		store:       store,
		metrics:     m,
		config:      config,
		logger:      utils.NewLogger("recorder"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine.
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop drains the current batch and stops the worker.
func (r *Recorder) Stop() error {
	close(r.stopChan)
	<-r.stoppedChan
	return nil
}

// Record enqueues an audit record. Failures are counted but never returned
// to the request path as request failures; callers log and move on.
func (r *Recorder) Record(ctx context.Context, record *models.APIRequest) error {
	if err := r.queue.Enqueue(ctx, record); err != nil {
		r.countLost(record)
		return fmt.Errorf("failed to enqueue audit record: %w", err)
	}
	return nil
}

// countLost bumps the billed-unlogged metric when a lost record carried
// real cost. Zero-cost denials are lost audit detail, not lost billing.
func (r *Recorder) countLost(record *models.APIRequest) {
	if r.metrics != nil && record.TotalCost.IsPositive() {
		r.metrics.CountBilledUnlogged()
	}
}

// run is the main worker loop.
func (r *Recorder) run(ctx context.Context) {
	defer close(r.stoppedChan)

	for {
		select {
		case <-r.stopChan:
			r.logger.Info("Recorder worker stopping")
			return
		case <-ctx.Done():
			r.logger.Info("Recorder worker context cancelled")
			return
		default:
			r.processBatch(ctx)
		}
	}
}

// processBatch drains and persists one batch.
func (r *Recorder) processBatch(ctx context.Context) {
	items, err := r.queue.DequeueWithTimeout(ctx, r.config.BatchSize, r.config.BatchTimeout)
	if err != nil {
		r.logger.Error("Failed to dequeue audit records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(items) == 0 {
		return
	}

	r.logger.Debug("Processing audit batch", "count", len(items))

	records := make([]*models.APIRequest, 0, len(items))
	for _, item := range items {
		var record models.APIRequest
		if err := r.unmarshalItem(item, &record); err != nil {
			r.logger.Error("Failed to unmarshal audit record", "error", err)
			if r.metrics != nil {
				r.metrics.CountBilledUnlogged()
			}
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return
	}

	if err := r.store.InsertBatch(ctx, records); err != nil {
		r.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		for _, record := range records {
			if err := r.processItem(ctx, record); err != nil {
				r.logger.Error("Failed to process audit record", "error", err)
			}
		}
	}
}

// processItem persists one record with retries, moving it to the dead
// letter queue when retries are exhausted.
func (r *Recorder) processItem(ctx context.Context, record *models.APIRequest) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			r.logger.Debug("Retrying audit record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := r.store.InsertBatch(ctx, []*models.APIRequest{record}); err != nil {
			lastErr = err
			r.logger.Error("Failed to insert audit record", "attempt", attempt, "error", err)
			continue
		}

		r.logger.Debug("Audit record inserted", "request_id", record.RequestID)
		return nil
	}

	// Max retries exceeded.
	if r.dlq != nil {
		if err := r.dlq.Add(ctx, record, lastErr); err != nil {
			r.logger.Error("Failed to add to dead letter queue", "error", err)
			r.countLost(record)
		} else {
			r.logger.Warn("Audit record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
		}
	} else {
		r.countLost(record)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// unmarshalItem converts a queue item into an APIRequest. Memory queues
// hand back the original struct; Redis queues hand back raw JSON.
func (r *Recorder) unmarshalItem(item interface{}, record *models.APIRequest) error {
	switch v := item.(type) {
	case *models.APIRequest:
		*record = *v
		return nil
	case models.APIRequest:
		*record = v
		return nil
	case []byte:
		return json.Unmarshal(v, record)
	case json.RawMessage:
		return json.Unmarshal(v, record)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, record)
	}
}

// QueueLength returns the current queue depth.
func (r *Recorder) QueueLength(ctx context.Context) (int, error) {
	return r.queue.Length(ctx)
}

// DeadLetterItems returns items waiting in the dead letter queue.
func (r *Recorder) DeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if r.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return r.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead letter item by ID.
func (r *Recorder) RetryDeadLetterItem(ctx context.Context, id string) error {
	if r.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := r.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID == id {
			if err := r.queue.Enqueue(ctx, dlItem.Item); err != nil {
				return fmt.Errorf("failed to re-enqueue item: %w", err)
			}
			if err := r.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}
			return nil
		}
	}

	return queue.ErrItemNotFound
}
