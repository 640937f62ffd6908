package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"auditgate/internal/models"
)

const groupColumns = `
	id, name, description, default_quota, is_public, is_active,
	created_at, updated_at
`

// GroupRepository handles model group database operations, including the
// group-to-model membership table.
type GroupRepository struct {
	db *DB
}

// NewGroupRepository creates a new model group repository.
func NewGroupRepository(db *DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetByID retrieves a group with its member model IDs.
func (r *GroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ModelGroup, error) {
	var group models.ModelGroup
	query := fmt.Sprintf(`SELECT %s FROM model_groups WHERE id = $1`, groupColumns)

	err := r.db.conn.GetContext(ctx, &group, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelGroupNotFound
		}
		return nil, fmt.Errorf("failed to get model group: %w", err)
	}

	if err := r.loadMembers(ctx, &group); err != nil {
		return nil, err
	}

	return &group, nil
}

func (r *GroupRepository) loadMembers(ctx context.Context, group *models.ModelGroup) error {
	query := `SELECT model_id FROM model_group_members WHERE group_id = $1`
	if err := r.db.conn.SelectContext(ctx, &group.ModelIDs, query, group.ID); err != nil {
		return fmt.Errorf("failed to load group members: %w", err)
	}
	return nil
}

// GroupListFilters contains filter parameters for listing groups.
type GroupListFilters struct {
	Search     string
	PublicOnly *bool
	ActiveOnly *bool
	Page       int
	PageSize   int
}

// GroupListResult contains a paginated group listing.
type GroupListResult struct {
	Groups     []*models.ModelGroup
	TotalCount int
	Page       int
	PageSize   int
}

// List returns groups with filtering and pagination. Member IDs are loaded
// for every returned group.
func (r *GroupRepository) List(ctx context.Context, filters GroupListFilters) (*GroupListResult, error) {
	var whereClauses []string
	var args []interface{}
	argCount := 1

	if filters.Search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argCount, argCount))
		args = append(args, "%"+filters.Search+"%")
		argCount++
	}

	if filters.PublicOnly != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("is_public = $%d", argCount))
		args = append(args, *filters.PublicOnly)
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

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM model_groups %s", whereClause)
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count model groups: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := fmt.Sprintf(`
		SELECT %s FROM model_groups
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d
	`, groupColumns, whereClause, argCount, argCount+1)
	args = append(args, filters.PageSize, offset)

	var groups []*models.ModelGroup
	if err := r.db.conn.SelectContext(ctx, &groups, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list model groups: %w", err)
	}

	for _, group := range groups {
		if err := r.loadMembers(ctx, group); err != nil {
			return nil, err
		}
	}

	return &GroupListResult{
		Groups:     groups,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// Create inserts a group and its memberships in one transaction.
func (r *GroupRepository) Create(ctx context.Context, group *models.ModelGroup) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}

	query := `
		INSERT INTO model_groups (id, name, description, default_quota, is_public, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowxContext(
		ctx, query,
		group.ID, group.Name, group.Description, group.DefaultQuota,
		group.IsPublic, group.IsActive,
	).Scan(&group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create model group: %w", err)
	}

	if err := replaceMembers(ctx, tx, group.ID, group.ModelIDs); err != nil {
		return err
	}

	return tx.Commit()
}

// Update modifies a group and replaces its memberships.
func (r *GroupRepository) Update(ctx context.Context, group *models.ModelGroup) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		UPDATE model_groups
		SET name = $2, description = $3, default_quota = $4, is_public = $5,
		    is_active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = tx.QueryRowxContext(
		ctx, query,
		group.ID, group.Name, group.Description, group.DefaultQuota,
		group.IsPublic, group.IsActive,
	).Scan(&group.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrModelGroupNotFound
		}
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update model group: %w", err)
	}

	if err := replaceMembers(ctx, tx, group.ID, group.ModelIDs); err != nil {
		return err
	}

	return tx.Commit()
}

// replaceMembers rewrites a group's membership rows inside the caller's
// transaction.
func replaceMembers(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID, modelIDs []uuid.UUID) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM model_group_members WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to clear group members: %w", err)
	}

	for _, modelID := range modelIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO model_group_members (group_id, model_id) VALUES ($1, $2)`,
			groupID, modelID); err != nil {
			return fmt.Errorf("failed to add group member: %w", err)
		}
	}

	return nil
}

// Delete removes a group and its memberships. Fails while quotas still
// reference it.
func (r *GroupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn.ExecContext(ctx, "DELETE FROM model_groups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete model group: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrModelGroupNotFound
	}

	return nil
}

// GetGroupModels returns all member models of a group, servable or not.
// Callers filter on servability.
func (r *GroupRepository) GetGroupModels(ctx context.Context, groupID uuid.UUID) ([]*models.AIModel, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM ai_models m
		JOIN model_group_members gm ON gm.model_id = m.id
		WHERE gm.group_id = $1
		ORDER BY m.name
	`, prefixedModelColumns("m"))

	var members []*models.AIModel
	if err := r.db.conn.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to load group models: %w", err)
	}

	return members, nil
}
