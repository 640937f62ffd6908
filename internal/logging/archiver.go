package logging

import (
	"context"
	"sync"
	"time"

	"auditgate/internal/config"
	"auditgate/internal/models"
	"auditgate/internal/utils"
)

// BatchWriter uploads one batch of records somewhere durable.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.APIRequest) (string, error)
}

// Archiver buffers audit records in memory and flushes them to a
// BatchWriter when the batch is full or the flush interval passes.
// Enqueue never blocks: if the buffer is saturated the record is dropped
// with ErrBufferFull.
type Archiver struct {
	writer        BatchWriter
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	recordCh chan *models.APIRequest
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewArchiver starts the flush goroutine.
func NewArchiver(writer BatchWriter, cfg config.ArchiveConfig) *Archiver {
	a := &Archiver{
		writer:        writer,
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		logger:        utils.NewLogger("archiver"),
		recordCh:      make(chan *models.APIRequest, cfg.BufferSize),
		doneCh:        make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()
	return a
}

// Enqueue buffers one record for archival.
func (a *Archiver) Enqueue(record *models.APIRequest) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrBufferFull
	}
	a.mu.Unlock()

	select {
	case a.recordCh <- record:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close flushes the remaining buffer and stops the worker.
func (a *Archiver) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.doneCh)
	a.wg.Wait()
	return nil
}

func (a *Archiver) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.APIRequest, 0, a.flushSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := a.writer.WriteBatch(ctx, batch); err != nil {
			a.logger.Error("Failed to archive batch", "count", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case record := <-a.recordCh:
			batch = append(batch, record)
			if len(batch) >= a.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.doneCh:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case record := <-a.recordCh:
					batch = append(batch, record)
					if len(batch) >= a.flushSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
