package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"auditgate/internal/models"
)

const quotaColumns = `
	id, name, description, user_id, model_group_id, key_hash, key_suffix,
	total_quota, used_quota,
	rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
	is_active, deleted_at, created_at, updated_at
`

// QuotaRepository handles quota database operations. Lookups by key hash
// sit on the hot path and go through the quota cache.
type QuotaRepository struct {
	db *DB
}

// NewQuotaRepository creates a new quota repository.
func NewQuotaRepository(db *DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

func quotaCacheKey(keyHash string) string {
	return "quota:hash:" + keyHash
}

// GetByKeyHash retrieves a quota by the SHA-256 digest of its API key.
// Soft-deleted rows are returned; the caller decides usability.
func (r *QuotaRepository) GetByKeyHash(ctx context.Context, keyHash string) (*models.Quota, error) {
	if cached, found := r.db.quotaCache.Get(quotaCacheKey(keyHash)); found {
		return cached.(*models.Quota), nil
	}

	var quota models.Quota
	query := fmt.Sprintf(`SELECT %s FROM user_quotas WHERE key_hash = $1`, quotaColumns)

	err := r.db.conn.GetContext(ctx, &quota, query, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuotaNotFound
		}
		return nil, fmt.Errorf("failed to get quota by key hash: %w", err)
	}

	r.db.quotaCache.Set(quotaCacheKey(keyHash), &quota)
	return &quota, nil
}

// GetByID retrieves a quota by ID, including soft-deleted rows.
func (r *QuotaRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Quota, error) {
	var quota models.Quota
	query := fmt.Sprintf(`SELECT %s FROM user_quotas WHERE id = $1`, quotaColumns)

	err := r.db.conn.GetContext(ctx, &quota, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuotaNotFound
		}
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	return &quota, nil
}

// QuotaListFilters contains filter parameters for listing quotas.
type QuotaListFilters struct {
	UserID         *uuid.UUID
	Search         string
	ActiveOnly     *bool
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// QuotaListResult contains a paginated quota listing.
type QuotaListResult struct {
	Quotas     []*models.Quota
	TotalCount int
	Page       int
	PageSize   int
}

// List returns quotas with filtering and pagination. Soft-deleted quotas
// are hidden unless IncludeDeleted is set.
func (r *QuotaRepository) List(ctx context.Context, filters QuotaListFilters) (*QuotaListResult, error) {
	var whereClauses []string
	var args []interface{}
	argCount := 1

	if !filters.IncludeDeleted {
		whereClauses = append(whereClauses, "deleted_at IS NULL")
	}

	if filters.UserID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("user_id = $%d", argCount))
		args = append(args, *filters.UserID)
		argCount++
	}

	if filters.Search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argCount, argCount))
		args = append(args, "%"+filters.Search+"%")
		argCount++
	}

	if filters.ActiveOnly != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("is_active = $%d", argCount))
		args = append(args, *filters.ActiveOnly)
		argCount++
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM user_quotas %s", whereClause)
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count quotas: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := fmt.Sprintf(`
		SELECT %s FROM user_quotas
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, quotaColumns, whereClause, argCount, argCount+1)
	args = append(args, filters.PageSize, offset)

	var quotas []*models.Quota
	if err := r.db.conn.SelectContext(ctx, &quotas, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list quotas: %w", err)
	}

	return &QuotaListResult{
		Quotas:     quotas,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// Create inserts a new quota.
func (r *QuotaRepository) Create(ctx context.Context, quota *models.Quota) error {
	query := `
		INSERT INTO user_quotas (id, name, description, user_id, model_group_id,
		                         key_hash, key_suffix, total_quota, used_quota,
		                         rate_limit_per_minute, rate_limit_per_hour,
		                         rate_limit_per_day, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	if quota.ID == uuid.Nil {
		quota.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		quota.ID, quota.Name, quota.Description, quota.UserID, quota.ModelGroupID,
		quota.KeyHash, quota.KeySuffix, quota.TotalQuota, quota.UsedQuota,
		quota.RateLimitPerMinute, quota.RateLimitPerHour, quota.RateLimitPerDay,
		quota.IsActive,
	).Scan(&quota.CreatedAt, &quota.UpdatedAt)

	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create quota: %w", err)
	}

	return nil
}

// Update modifies a quota's settings. used_quota is owned by the ledger and
// never written here.
func (r *QuotaRepository) Update(ctx context.Context, quota *models.Quota) error {
	query := `
		UPDATE user_quotas
		SET name = $2, description = $3, model_group_id = $4, total_quota = $5,
		    rate_limit_per_minute = $6, rate_limit_per_hour = $7,
		    rate_limit_per_day = $8, is_active = $9, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		quota.ID, quota.Name, quota.Description, quota.ModelGroupID,
		quota.TotalQuota, quota.RateLimitPerMinute, quota.RateLimitPerHour,
		quota.RateLimitPerDay, quota.IsActive,
	).Scan(&quota.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return ErrQuotaNotFound
		}
		return fmt.Errorf("failed to update quota: %w", err)
	}

	r.db.quotaCache.Delete(quotaCacheKey(quota.KeyHash))
	return nil
}

// RotateKey replaces a quota's key hash and suffix. The old key stops
// authenticating as soon as its cache entry drops.
func (r *QuotaRepository) RotateKey(ctx context.Context, id uuid.UUID, keyHash, keySuffix string) error {
	var oldHash string
	err := r.db.conn.GetContext(ctx, &oldHash,
		`SELECT key_hash FROM user_quotas WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrQuotaNotFound
		}
		return fmt.Errorf("failed to rotate quota key: %w", err)
	}

	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE user_quotas
		SET key_hash = $2, key_suffix = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, keyHash, keySuffix)
	if err != nil {
		return fmt.Errorf("failed to rotate quota key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrQuotaNotFound
	}

	r.db.quotaCache.Delete(quotaCacheKey(oldHash))
	return nil
}

// SoftDelete marks a quota as deleted. The row and its audit history stay.
func (r *QuotaRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	var keyHash string
	query := `
		UPDATE user_quotas
		SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING key_hash
	`

	err := r.db.conn.QueryRowxContext(ctx, query, id).Scan(&keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrQuotaNotFound
		}
		return fmt.Errorf("failed to delete quota: %w", err)
	}

	r.db.quotaCache.Delete(quotaCacheKey(keyHash))
	return nil
}

// Restore undoes a soft delete. The quota comes back disabled; reactivation
// is a separate, explicit update.
func (r *QuotaRepository) Restore(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE user_quotas
		SET deleted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NOT NULL
	`

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to restore quota: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrQuotaNotFound
	}
	return nil
}

// SyncUsedQuota refreshes used_quota from the ledger's committed value.
// Only the memory-ledger deployment needs this; the Postgres ledger writes
// the column directly.
func (r *QuotaRepository) SyncUsedQuota(ctx context.Context, id uuid.UUID, used decimal.Decimal) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE user_quotas SET used_quota = $2, updated_at = NOW() WHERE id = $1`, id, used)
	if err != nil {
		return fmt.Errorf("failed to sync used quota: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrQuotaNotFound
	}
	return nil
}

// InvalidateCache drops a quota's cache entry by key hash.
func (r *QuotaRepository) InvalidateCache(keyHash string) {
	r.db.quotaCache.Delete(quotaCacheKey(keyHash))
}

// isDuplicateKey reports whether err is a unique constraint violation.
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
