package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AdminToken is a service account for management API access, authenticated
// by a long-lived token (stored hashed) instead of email/password.
type AdminToken struct {
	ID          uuid.UUID      `db:"id"`
	ServiceName string         `db:"service_name"`
	TokenHash   string         `db:"token_hash"` // SHA-256 hex digest
	Roles       pq.StringArray `db:"roles"`
	Enabled     bool           `db:"enabled"`
	ExpiresAt   *time.Time     `db:"expires_at"`
	LastUsedAt  *time.Time     `db:"last_used_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// HasAnyRole reports whether the token carries at least one of the roles.
func (t *AdminToken) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, func(role string) bool {
		return slices.Contains(t.Roles, role)
	})
}

// IsExpired reports whether the token's expiry has passed.
func (t *AdminToken) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

// IsValid reports whether the token may authenticate.
func (t *AdminToken) IsValid() bool {
	return t.Enabled && !t.IsExpired()
}
