package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"auditgate/internal/models"
)

const providerColumns = `
	id, name, description, base_url, encrypted_api_key, extra_headers,
	timeout_seconds, max_retries, is_active, last_sync_at,
	created_at, updated_at
`

// ProviderRepository handles upstream vendor database operations.
type ProviderRepository struct {
	db *DB
}

// NewProviderRepository creates a new provider repository.
func NewProviderRepository(db *DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// GetByID retrieves a provider by ID.
func (r *ProviderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	query := fmt.Sprintf(`SELECT %s FROM api_providers WHERE id = $1`, providerColumns)

	err := r.db.conn.GetContext(ctx, &provider, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	return &provider, nil
}

// ProviderListFilters contains filter parameters for listing providers.
type ProviderListFilters struct {
	Search     string
	ActiveOnly *bool
	Page       int
	PageSize   int
}

// ProviderListResult contains a paginated provider listing.
type ProviderListResult struct {
	Providers  []*models.Provider
	TotalCount int
	Page       int
	PageSize   int
}

// List returns providers with filtering and pagination.
func (r *ProviderRepository) List(ctx context.Context, filters ProviderListFilters) (*ProviderListResult, error) {
	var whereClauses []string
	var args []interface{}
	argCount := 1

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

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM api_providers %s", whereClause)
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count providers: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := fmt.Sprintf(`
		SELECT %s FROM api_providers
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d
	`, providerColumns, whereClause, argCount, argCount+1)
	args = append(args, filters.PageSize, offset)

	var providers []*models.Provider
	if err := r.db.conn.SelectContext(ctx, &providers, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	return &ProviderListResult{
		Providers:  providers,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// ListActive returns all active providers, for the dispatcher registry.
func (r *ProviderRepository) ListActive(ctx context.Context) ([]*models.Provider, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM api_providers
		WHERE is_active = TRUE
		ORDER BY name
	`, providerColumns)

	var providers []*models.Provider
	if err := r.db.conn.SelectContext(ctx, &providers, query); err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}

	return providers, nil
}

// Create inserts a new provider. The API key must already be encrypted.
func (r *ProviderRepository) Create(ctx context.Context, provider *models.Provider) error {
	query := `
		INSERT INTO api_providers (id, name, description, base_url,
		                           encrypted_api_key, extra_headers,
		                           timeout_seconds, max_retries, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	if provider.ID == uuid.Nil {
		provider.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		provider.ID, provider.Name, provider.Description, provider.BaseURL,
		provider.EncryptedAPIKey, provider.ExtraHeaders,
		provider.TimeoutSeconds, provider.MaxRetries, provider.IsActive,
	).Scan(&provider.CreatedAt, &provider.UpdatedAt)

	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create provider: %w", err)
	}

	return nil
}

// Update modifies an existing provider.
func (r *ProviderRepository) Update(ctx context.Context, provider *models.Provider) error {
	query := `
		UPDATE api_providers
		SET name = $2, description = $3, base_url = $4, encrypted_api_key = $5,
		    extra_headers = $6, timeout_seconds = $7, max_retries = $8,
		    is_active = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		provider.ID, provider.Name, provider.Description, provider.BaseURL,
		provider.EncryptedAPIKey, provider.ExtraHeaders,
		provider.TimeoutSeconds, provider.MaxRetries, provider.IsActive,
	).Scan(&provider.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return ErrProviderNotFound
		}
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update provider: %w", err)
	}

	return nil
}

// TouchLastSync records a successful model sync.
func (r *ProviderRepository) TouchLastSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE api_providers SET last_sync_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch last sync: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrProviderNotFound
	}

	return nil
}

// Delete removes a provider. Fails while models still reference it.
func (r *ProviderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, "DELETE FROM api_providers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrProviderNotFound
	}

	return nil
}
