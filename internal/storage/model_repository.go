package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"auditgate/internal/models"
)

var modelColumnList = []string{
	"id", "provider_id", "name", "display_name", "description", "external_id",
	"input_price_per_1m", "output_price_per_1m", "context_length",
	"max_output_tokens", "capabilities", "model_type", "is_active",
	"is_available", "last_synced_at", "created_at", "updated_at",
}

var modelColumns = strings.Join(modelColumnList, ", ")

// prefixedModelColumns qualifies every model column with a table alias for
// join queries.
func prefixedModelColumns(alias string) string {
	qualified := make([]string, len(modelColumnList))
	for i, col := range modelColumnList {
		qualified[i] = alias + "." + col
	}
	return strings.Join(qualified, ", ")
}

// ModelRepository handles catalog database operations. Lookups by name go
// through the model cache.
type ModelRepository struct {
	db *DB
}

// NewModelRepository creates a new model repository.
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func modelCacheKey(name string) string {
	return "model:name:" + name
}

// GetByID retrieves a model by ID.
func (r *ModelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AIModel, error) {
	var model models.AIModel
	query := fmt.Sprintf(`SELECT %s FROM ai_models WHERE id = $1`, modelColumns)

	err := r.db.conn.GetContext(ctx, &model, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	return &model, nil
}

// GetByName retrieves a model by its caller-facing name.
func (r *ModelRepository) GetByName(ctx context.Context, name string) (*models.AIModel, error) {
	if cached, found := r.db.modelCache.Get(modelCacheKey(name)); found {
		return cached.(*models.AIModel), nil
	}

	var model models.AIModel
	query := fmt.Sprintf(`SELECT %s FROM ai_models WHERE name = $1`, modelColumns)

	err := r.db.conn.GetContext(ctx, &model, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model by name: %w", err)
	}

	r.db.modelCache.Set(modelCacheKey(name), &model)
	return &model, nil
}

// ModelListFilters contains filter parameters for listing models.
type ModelListFilters struct {
	ProviderID   *uuid.UUID
	Search       string
	ModelType    string
	ServableOnly bool
	Page         int
	PageSize     int
}

// ModelListResult contains a paginated model listing.
type ModelListResult struct {
	Models     []*models.AIModel
	TotalCount int
	Page       int
	PageSize   int
}

// List returns models with filtering and pagination.
func (r *ModelRepository) List(ctx context.Context, filters ModelListFilters) (*ModelListResult, error) {
	var whereClauses []string
	var args []interface{}
	argCount := 1

	if filters.ProviderID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("provider_id = $%d", argCount))
		args = append(args, *filters.ProviderID)
		argCount++
	}

	if filters.Search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(name ILIKE $%d OR display_name ILIKE $%d)", argCount, argCount))
		args = append(args, "%"+filters.Search+"%")
		argCount++
	}

	if filters.ModelType != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("model_type = $%d", argCount))
		args = append(args, filters.ModelType)
		argCount++
	}

	if filters.ServableOnly {
		whereClauses = append(whereClauses, "is_active = TRUE AND is_available = TRUE")
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ai_models %s", whereClause)
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count models: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := fmt.Sprintf(`
		SELECT %s FROM ai_models
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d
	`, modelColumns, whereClause, argCount, argCount+1)
	args = append(args, filters.PageSize, offset)

	var list []*models.AIModel
	if err := r.db.conn.SelectContext(ctx, &list, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	return &ModelListResult{
		Models:     list,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// Create inserts a new model.
func (r *ModelRepository) Create(ctx context.Context, model *models.AIModel) error {
	query := `
		INSERT INTO ai_models (id, provider_id, name, display_name, description,
		                       external_id, input_price_per_1m, output_price_per_1m,
		                       context_length, max_output_tokens, capabilities,
		                       model_type, is_active, is_available, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`

	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		model.ID, model.ProviderID, model.Name, model.DisplayName, model.Description,
		model.ExternalID, model.InputPricePer1M, model.OutputPricePer1M,
		model.ContextLength, model.MaxOutputTokens, model.Capabilities,
		model.ModelType, model.IsActive, model.IsAvailable, model.LastSyncedAt,
	).Scan(&model.CreatedAt, &model.UpdatedAt)

	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create model: %w", err)
	}

	return nil
}

// Update modifies an existing model.
func (r *ModelRepository) Update(ctx context.Context, model *models.AIModel) error {
	query := `
		UPDATE ai_models
		SET provider_id = $2, name = $3, display_name = $4, description = $5,
		    external_id = $6, input_price_per_1m = $7, output_price_per_1m = $8,
		    context_length = $9, max_output_tokens = $10, capabilities = $11,
		    model_type = $12, is_active = $13, is_available = $14,
		    last_synced_at = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		model.ID, model.ProviderID, model.Name, model.DisplayName, model.Description,
		model.ExternalID, model.InputPricePer1M, model.OutputPricePer1M,
		model.ContextLength, model.MaxOutputTokens, model.Capabilities,
		model.ModelType, model.IsActive, model.IsAvailable, model.LastSyncedAt,
	).Scan(&model.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return ErrModelNotFound
		}
		if isDuplicateKey(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to update model: %w", err)
	}

	r.db.modelCache.Delete(modelCacheKey(model.Name))
	return nil
}

// Delete removes a model.
func (r *ModelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var name string
	err := r.db.conn.QueryRowxContext(ctx,
		"DELETE FROM ai_models WHERE id = $1 RETURNING name", id).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrModelNotFound
		}
		return fmt.Errorf("failed to delete model: %w", err)
	}

	r.db.modelCache.Delete(modelCacheKey(name))
	return nil
}

// SyncAvailability marks which of a provider's models the upstream still
// lists. Models present upstream become available; absent ones unavailable.
// Returns how many rows changed state.
func (r *ModelRepository) SyncAvailability(ctx context.Context, providerID uuid.UUID, upstreamIDs []string) (int, error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Models match on external_id, falling back to name when external_id
	// is empty.
	available, err := tx.ExecContext(ctx, `
		UPDATE ai_models
		SET is_available = TRUE, last_synced_at = NOW(), updated_at = NOW()
		WHERE provider_id = $1
		  AND is_available = FALSE
		  AND COALESCE(NULLIF(external_id, ''), name) = ANY($2)
	`, providerID, pq.Array(upstreamIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to mark models available: %w", err)
	}

	unavailable, err := tx.ExecContext(ctx, `
		UPDATE ai_models
		SET is_available = FALSE, last_synced_at = NOW(), updated_at = NOW()
		WHERE provider_id = $1
		  AND is_available = TRUE
		  AND COALESCE(NULLIF(external_id, ''), name) <> ALL($2)
	`, providerID, pq.Array(upstreamIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to mark models unavailable: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sync: %w", err)
	}

	// Availability changed out from under the name cache.
	r.db.modelCache.Clear()

	a, _ := available.RowsAffected()
	u, _ := unavailable.RowsAffected()
	return int(a + u), nil
}
