package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider is an upstream API vendor. The credential is AES-GCM encrypted at
// rest and only ever used by the dispatcher; it is never exposed to callers.
type Provider struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	BaseURL     string    `db:"base_url"`

	// EncryptedAPIKey holds the base64 AES-GCM ciphertext of the vendor key.
	EncryptedAPIKey string `db:"encrypted_api_key"`

	// ExtraHeaders are merged into every upstream request.
	ExtraHeaders JSONB `db:"extra_headers"`

	TimeoutSeconds int `db:"timeout_seconds"`
	MaxRetries     int `db:"max_retries"`

	IsActive   bool       `db:"is_active"`
	LastSyncAt *time.Time `db:"last_sync_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Timeout returns the configured upstream timeout with a sane floor.
func (p *Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}
