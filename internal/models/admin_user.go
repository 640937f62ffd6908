package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AdminUser is an operator account for the management API.
// Authentication is email/password with argon2id password hashing.
type AdminUser struct {
	ID           uuid.UUID      `db:"id"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"` // argon2id encoded hash
	Roles        pq.StringArray `db:"roles"`         // e.g., ["admin", "viewer"]
	Enabled      bool           `db:"enabled"`
	LastLoginAt  *time.Time     `db:"last_login_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// HasRole reports whether the account carries the given role.
func (u *AdminUser) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the account carries at least one of the roles.
func (u *AdminUser) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, u.HasRole)
}

// IsValid reports whether the account may authenticate.
func (u *AdminUser) IsValid() bool {
	return u.Enabled
}
