package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a tenant that owns quotas. Users never authenticate against the
// gateway directly; their quotas' API keys do.
type User struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
