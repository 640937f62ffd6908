package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ModelGroup is a named bundle of AI models reachable under a single quota.
// Groups are shared by many quotas and read-only from the gateway's
// perspective.
type ModelGroup struct {
	ID          uuid.UUID `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`

	// DefaultQuota seeds new quotas created without an explicit amount.
	// NULL = no default.
	DefaultQuota *decimal.Decimal `db:"default_quota"`

	IsPublic  bool      `db:"is_public"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	// Populated from the model_group_members join table, not a DB column.
	ModelIDs []uuid.UUID `db:"-"`
}

// HasModel reports whether the given model belongs to this group.
func (g *ModelGroup) HasModel(modelID uuid.UUID) bool {
	for _, id := range g.ModelIDs {
		if id == modelID {
			return true
		}
	}
	return false
}
