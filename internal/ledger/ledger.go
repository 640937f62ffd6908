// Package ledger enforces dollar balances on quotas with a two-phase
// reserve/commit protocol. A reservation takes a conservative hold before
// the upstream call; the commit applies the real cost once usage is known.
//
// Overdraft policy: a commit backed by a live reservation is always applied
// in full, even when the real cost exceeds the remaining balance
// (allow-with-overage). used_quota is never clamped downward; the next
// reservation simply fails. Reservations hold their floor against the
// balance, so the overage is bounded by the in-flight requests' real costs
// beyond their floors.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrQuotaNotFound means the quota does not exist in the ledger.
	ErrQuotaNotFound = errors.New("quota not found in ledger")

	// ErrQuotaExceeded means the balance cannot cover the requested hold.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrReservationSettled means the reservation was already committed,
	// released, or swept.
	ErrReservationSettled = errors.New("reservation already settled")
)

// Reservation is a provisional hold on a quota's balance.
type Reservation struct {
	ID        uuid.UUID
	QuotaID   uuid.UUID
	Floor     decimal.Decimal
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Ledger serializes balance mutations per quota. Mutations on the same
// quota are linearizable; different quotas never block each other.
type Ledger interface {
	// Reserve takes a hold of at least floor dollars. Fails with
	// ErrQuotaExceeded when used + pending holds + floor > total.
	Reserve(ctx context.Context, quotaID uuid.UUID, floor decimal.Decimal) (*Reservation, error)

	// Commit settles a reservation with the real cost and returns the new
	// used_quota. The cost is applied in full per the overage policy.
	Commit(ctx context.Context, res *Reservation, realCost decimal.Decimal) (decimal.Decimal, error)

	// Release settles a reservation at zero cost (failed or cancelled
	// requests with no token usage).
	Release(ctx context.Context, res *Reservation) error
}
