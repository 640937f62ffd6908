package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"auditgate/internal/models"
)

const adminTokenColumns = `
	id, service_name, token_hash, roles, enabled, expires_at, last_used_at,
	created_at, updated_at
`

// AdminTokenRepository handles service account database operations.
type AdminTokenRepository struct {
	db *DB
}

// NewAdminTokenRepository creates a new admin token repository.
func NewAdminTokenRepository(db *DB) *AdminTokenRepository {
	return &AdminTokenRepository{db: db}
}

// GetByServiceName retrieves an admin token by service name.
func (r *AdminTokenRepository) GetByServiceName(ctx context.Context, serviceName string) (*models.AdminToken, error) {
	var token models.AdminToken
	query := fmt.Sprintf(`SELECT %s FROM admin_tokens WHERE service_name = $1`, adminTokenColumns)

	err := r.db.conn.GetContext(ctx, &token, query, serviceName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAdminTokenNotFound
		}
		return nil, fmt.Errorf("failed to get admin token: %w", err)
	}

	return &token, nil
}

// GetByID retrieves an admin token by ID.
func (r *AdminTokenRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AdminToken, error) {
	var token models.AdminToken
	query := fmt.Sprintf(`SELECT %s FROM admin_tokens WHERE id = $1`, adminTokenColumns)

	err := r.db.conn.GetContext(ctx, &token, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAdminTokenNotFound
		}
		return nil, fmt.Errorf("failed to get admin token: %w", err)
	}

	return &token, nil
}

// Create inserts a new admin token. Only the SHA-256 hash is stored.
func (r *AdminTokenRepository) Create(ctx context.Context, token *models.AdminToken) error {
	query := `
		INSERT INTO admin_tokens (id, service_name, token_hash, roles, enabled, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		token.ID, token.ServiceName, token.TokenHash, token.Roles,
		token.Enabled, token.ExpiresAt,
	).Scan(&token.CreatedAt, &token.UpdatedAt)

	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create admin token: %w", err)
	}

	return nil
}

// UpdateLastUsed stamps a successful token authentication.
func (r *AdminTokenRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE admin_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAdminTokenNotFound
	}

	return nil
}

// Delete removes an admin token.
func (r *AdminTokenRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM admin_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete admin token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAdminTokenNotFound
	}

	return nil
}

// List retrieves admin tokens, optionally only live ones.
func (r *AdminTokenRepository) List(ctx context.Context, enabledOnly bool) ([]*models.AdminToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM admin_tokens`, adminTokenColumns)
	if enabledOnly {
		query += " WHERE enabled = TRUE AND (expires_at IS NULL OR expires_at > NOW())"
	}
	query += " ORDER BY created_at DESC"

	var tokens []*models.AdminToken
	if err := r.db.conn.SelectContext(ctx, &tokens, query); err != nil {
		return nil, fmt.Errorf("failed to list admin tokens: %w", err)
	}

	return tokens, nil
}
