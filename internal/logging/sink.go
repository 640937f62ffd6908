// Package logging archives finished audit records to long-term storage.
// The database stays the source of truth; the archive is a cheap JSONL
// copy for offline analysis and retention beyond the table's horizon.
package logging

import (
	"errors"

	"auditgate/internal/models"
)

// ErrBufferFull means the archiver's buffer is saturated and the record
// was dropped. Archival is best effort; callers log and move on.
var ErrBufferFull = errors.New("archive buffer full")

// Sink receives finished audit records for archival.
type Sink interface {
	Enqueue(record *models.APIRequest) error
	Close() error
}

// NoopSink discards records; the default when archiving is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(record *models.APIRequest) error {
	return nil
}

func (s *NoopSink) Close() error {
	return nil
}
