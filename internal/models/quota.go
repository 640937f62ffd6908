package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// APIKeyPrefix is prepended to every generated quota key.
const APIKeyPrefix = "sk-audit-"

// Quota binds one API key to a user, a model group, a dollar balance and a
// set of rate limits. It is the only row mutated by concurrent requests for
// the same caller.
type Quota struct {
	ID           uuid.UUID `db:"id"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	UserID       uuid.UUID `db:"user_id"`
	ModelGroupID uuid.UUID `db:"model_group_id"`

	// KeyHash is the SHA-256 hex digest of the plaintext key. The plaintext
	// is returned exactly once, at creation or rotation; KeySuffix keeps the
	// last four characters for masked display.
	KeyHash   string `db:"key_hash"`
	KeySuffix string `db:"key_suffix"`

	TotalQuota decimal.Decimal `db:"total_quota"`
	UsedQuota  decimal.Decimal `db:"used_quota"`

	// 0 means unlimited for that window.
	RateLimitPerMinute int `db:"rate_limit_per_minute"`
	RateLimitPerHour   int `db:"rate_limit_per_hour"`
	RateLimitPerDay    int `db:"rate_limit_per_day"`

	IsActive  bool       `db:"is_active"`
	DeletedAt *time.Time `db:"deleted_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Remaining returns total minus used. It may be slightly negative after an
// in-flight overdraft commit; it is never clamped here.
func (q *Quota) Remaining() decimal.Decimal {
	return q.TotalQuota.Sub(q.UsedQuota)
}

// UsagePercent returns used/total as a percentage, 100 when total is zero.
func (q *Quota) UsagePercent() float64 {
	if q.TotalQuota.IsZero() {
		return 100.0
	}
	pct, _ := q.UsedQuota.Div(q.TotalQuota).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// IsDeleted reports whether the quota has been soft-deleted.
func (q *Quota) IsDeleted() bool {
	return q.DeletedAt != nil
}

// IsUsable reports whether the quota may authenticate requests.
func (q *Quota) IsUsable() bool {
	return q.IsActive && !q.IsDeleted()
}

// MaskedKey renders the key for display: prefix, stars, last four characters.
// The plaintext is not stored, so the star run length is fixed.
func (q *Quota) MaskedKey() string {
	if q.KeySuffix == "" {
		return ""
	}
	return APIKeyPrefix + strings.Repeat("*", 28) + q.KeySuffix
}
