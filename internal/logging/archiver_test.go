package logging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditgate/internal/config"
	"auditgate/internal/models"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]*models.APIRequest
}

func (w *fakeWriter) WriteBatch(ctx context.Context, records []*models.APIRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := make([]*models.APIRequest, len(records))
	copy(batch, records)
	w.batches = append(w.batches, batch)
	return "audit/test.jsonl", nil
}

func (w *fakeWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func archiveConfig(bufferSize, flushSize int, interval time.Duration) config.ArchiveConfig {
	return config.ArchiveConfig{
		BufferSize:    bufferSize,
		FlushSize:     flushSize,
		FlushInterval: interval,
	}
}

func TestArchiverFlushesOnBatchSize(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, archiveConfig(100, 3, time.Hour))
	defer a.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Enqueue(&models.APIRequest{RequestID: uuid.New()}))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && w.total() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 3, w.total())
}

func TestArchiverFlushesOnInterval(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, archiveConfig(100, 1000, 20*time.Millisecond))
	defer a.Close()

	require.NoError(t, a.Enqueue(&models.APIRequest{RequestID: uuid.New()}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && w.total() < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, w.total())
}

func TestArchiverDrainsOnClose(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, archiveConfig(100, 1000, time.Hour))

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Enqueue(&models.APIRequest{RequestID: uuid.New()}))
	}

	require.NoError(t, a.Close())
	assert.Equal(t, 5, w.total())

	// Close is idempotent and Enqueue after Close drops cleanly.
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Enqueue(&models.APIRequest{}), ErrBufferFull)
}

// blockingWriter parks every WriteBatch call until released.
type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) WriteBatch(ctx context.Context, records []*models.APIRequest) (string, error) {
	w.entered <- struct{}{}
	<-w.release
	return "", nil
}

func TestArchiverDropsWhenSaturated(t *testing.T) {
	w := &blockingWriter{entered: make(chan struct{}, 10), release: make(chan struct{})}
	a := NewArchiver(w, archiveConfig(1, 1, time.Hour))

	// First record reaches the worker, which blocks inside WriteBatch.
	require.NoError(t, a.Enqueue(&models.APIRequest{RequestID: uuid.New()}))
	<-w.entered

	// Second record fills the one-slot buffer; the third has nowhere to go.
	require.NoError(t, a.Enqueue(&models.APIRequest{RequestID: uuid.New()}))
	assert.ErrorIs(t, a.Enqueue(&models.APIRequest{RequestID: uuid.New()}), ErrBufferFull)

	close(w.release)
	require.NoError(t, a.Close())
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	require.NoError(t, sink.Enqueue(&models.APIRequest{RequestID: uuid.New()}))
	require.NoError(t, sink.Close())
}
