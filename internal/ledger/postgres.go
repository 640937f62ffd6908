package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"auditgate/internal/utils"
)

// PostgresLedger enforces balances with guarded single-row updates, so
// mutations on one quota serialize on its row while different quotas
// proceed in parallel. Holds live in ledger_reservations with an expiry;
// the sweeper settles leaked holds at zero cost.
type PostgresLedger struct {
	db     *sqlx.DB
	ttl    time.Duration
	logger *utils.Logger
}

// NewPostgresLedger creates a database-backed ledger.
func NewPostgresLedger(db *sqlx.DB, ttl time.Duration) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		ttl:    ttl,
		logger: utils.NewLogger("ledger"),
	}
}

func (l *PostgresLedger) Reserve(ctx context.Context, quotaID uuid.UUID, floor decimal.Decimal) (*Reservation, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reserve tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// The guard in the WHERE clause makes the hold conditional and atomic:
	// zero rows means the balance cannot cover it.
	result, err := tx.ExecContext(ctx, `
		UPDATE user_quotas
		SET reserved_quota = reserved_quota + $2
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND used_quota + reserved_quota + $2 <= total_quota
	`, quotaID, floor)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read reserve result: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing quota from an exhausted one.
		var exists bool
		if err := l.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM user_quotas WHERE id = $1 AND deleted_at IS NULL)`, quotaID); err != nil {
			return nil, fmt.Errorf("failed to check quota existence: %w", err)
		}
		if !exists {
			return nil, ErrQuotaNotFound
		}
		return nil, ErrQuotaExceeded
	}

	now := time.Now()
	res := &Reservation{
		ID:        uuid.New(),
		QuotaID:   quotaID,
		Floor:     floor,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_reservations (id, quota_id, floor, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.QuotaID, res.Floor, res.CreatedAt, res.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to record reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reserve tx: %w", err)
	}
	return res, nil
}

func (l *PostgresLedger) Commit(ctx context.Context, res *Reservation, realCost decimal.Decimal) (decimal.Decimal, error) {
	if realCost.IsNegative() {
		realCost = decimal.Zero
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to begin commit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	settled, err := l.deleteReservation(ctx, tx, res.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if !settled {
		return decimal.Zero, ErrReservationSettled
	}

	var used decimal.Decimal
	err = tx.QueryRowxContext(ctx, `
		UPDATE user_quotas
		SET used_quota = used_quota + $2,
		    reserved_quota = GREATEST(reserved_quota - $3, 0)
		WHERE id = $1
		RETURNING used_quota
	`, res.QuotaID, realCost, res.Floor).Scan(&used)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, ErrQuotaNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to commit cost: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to commit tx: %w", err)
	}
	return used, nil
}

func (l *PostgresLedger) Release(ctx context.Context, res *Reservation) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin release tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	settled, err := l.deleteReservation(ctx, tx, res.ID)
	if err != nil {
		return err
	}
	if !settled {
		return ErrReservationSettled
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_quotas
		SET reserved_quota = GREATEST(reserved_quota - $2, 0)
		WHERE id = $1
	`, res.QuotaID, res.Floor); err != nil {
		return fmt.Errorf("failed to release hold: %w", err)
	}

	return tx.Commit()
}

func (l *PostgresLedger) deleteReservation(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	result, err := tx.ExecContext(ctx, `DELETE FROM ledger_reservations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to settle reservation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read settle result: %w", err)
	}
	return rows > 0, nil
}

// Sweep settles expired reservations at zero cost, returning their holds to
// the balance.
func (l *PostgresLedger) Sweep(ctx context.Context, now time.Time) (int, error) {
	rows, err := l.db.QueryxContext(ctx, `
		DELETE FROM ledger_reservations
		WHERE expires_at < $1
		RETURNING quota_id, floor
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep reservations: %w", err)
	}
	defer rows.Close()

	swept := 0
	for rows.Next() {
		var quotaID uuid.UUID
		var floor decimal.Decimal
		if err := rows.Scan(&quotaID, &floor); err != nil {
			return swept, fmt.Errorf("failed to scan swept reservation: %w", err)
		}
		if _, err := l.db.ExecContext(ctx, `
			UPDATE user_quotas
			SET reserved_quota = GREATEST(reserved_quota - $2, 0)
			WHERE id = $1
		`, quotaID, floor); err != nil {
			return swept, fmt.Errorf("failed to return swept hold: %w", err)
		}
		swept++
	}
	if swept > 0 {
		l.logger.Warn("Swept abandoned reservations", "count", swept)
	}
	return swept, rows.Err()
}

// StartSweeper runs Sweep on a ticker until the context is cancelled.
func (l *PostgresLedger) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.Sweep(ctx, time.Now()); err != nil {
					l.logger.Error("Reservation sweep failed", "error", err)
				}
			}
		}
	}()
}
