package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auditgate/internal/models"
)

const requestColumns = `
	id, request_id, quota_id, user_id, model_id, model_group_id,
	user_name, model_name, model_group_name, method, endpoint,
	input_tokens, output_tokens, total_tokens,
	input_cost, output_cost, total_cost,
	status_code, duration_ms, success, ip_address, user_agent,
	error_type, error_message, created_at
`

// RequestRepository handles the immutable audit log. Records are inserted
// in batches by the recorder worker and never updated.
type RequestRepository struct {
	db *DB
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// InsertBatch writes a batch of audit records in one transaction. All or
// nothing: a failed batch is retried by the worker, so partial writes would
// duplicate records.
func (r *RequestRepository) InsertBatch(ctx context.Context, records []*models.APIRequest) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO api_requests (id, request_id, quota_id, user_id, model_id,
		                          model_group_id, user_name, model_name,
		                          model_group_name, method, endpoint,
		                          input_tokens, output_tokens, total_tokens,
		                          input_cost, output_cost, total_cost,
		                          status_code, duration_ms, success,
		                          ip_address, user_agent, error_type,
		                          error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}

		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.RequestID, rec.QuotaID, rec.UserID, rec.ModelID,
			rec.ModelGroupID, rec.UserName, rec.ModelName, rec.ModelGroupName,
			rec.Method, rec.Endpoint,
			rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
			rec.InputCost, rec.OutputCost, rec.TotalCost,
			rec.StatusCode, rec.DurationMS, rec.Success,
			rec.IPAddress, rec.UserAgent, rec.ErrorType, rec.ErrorMessage,
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert request record: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a single audit record.
func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.APIRequest, error) {
	var rec models.APIRequest
	query := fmt.Sprintf(`SELECT %s FROM api_requests WHERE id = $1`, requestColumns)

	err := r.db.conn.GetContext(ctx, &rec, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request record: %w", err)
	}

	return &rec, nil
}

// RequestListFilters contains filter parameters for listing audit records.
type RequestListFilters struct {
	QuotaID   *uuid.UUID
	UserID    *uuid.UUID
	ModelID   *uuid.UUID
	Success   *bool
	ErrorType string
	Since     *time.Time
	Until     *time.Time
	Page      int
	PageSize  int
}

// RequestListResult contains a paginated audit record listing.
type RequestListResult struct {
	Requests   []*models.APIRequest
	TotalCount int
	Page       int
	PageSize   int
}

// List returns audit records newest first with filtering and pagination.
func (r *RequestRepository) List(ctx context.Context, filters RequestListFilters) (*RequestListResult, error) {
	var whereClauses []string
	var args []interface{}
	argCount := 1

	addFilter := func(clause string, value interface{}) {
		whereClauses = append(whereClauses, fmt.Sprintf(clause, argCount))
		args = append(args, value)
		argCount++
	}

	if filters.QuotaID != nil {
		addFilter("quota_id = $%d", *filters.QuotaID)
	}
	if filters.UserID != nil {
		addFilter("user_id = $%d", *filters.UserID)
	}
	if filters.ModelID != nil {
		addFilter("model_id = $%d", *filters.ModelID)
	}
	if filters.Success != nil {
		addFilter("success = $%d", *filters.Success)
	}
	if filters.ErrorType != "" {
		addFilter("error_type = $%d", filters.ErrorType)
	}
	if filters.Since != nil {
		addFilter("created_at >= $%d", *filters.Since)
	}
	if filters.Until != nil {
		addFilter("created_at < $%d", *filters.Until)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM api_requests %s", whereClause)
	var totalCount int
	if err := r.db.conn.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count request records: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	dataQuery := fmt.Sprintf(`
		SELECT %s FROM api_requests
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, requestColumns, whereClause, argCount, argCount+1)
	args = append(args, filters.PageSize, offset)

	var records []*models.APIRequest
	if err := r.db.conn.SelectContext(ctx, &records, dataQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list request records: %w", err)
	}

	return &RequestListResult{
		Requests:   records,
		TotalCount: totalCount,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
	}, nil
}

// UsageStatistics aggregates the audit log over a time range.
type UsageStatistics struct {
	TotalRequests   int             `db:"total_requests" json:"total_requests"`
	SuccessRequests int             `db:"success_requests" json:"success_requests"`
	FailedRequests  int             `db:"failed_requests" json:"failed_requests"`
	TotalTokens     int64           `db:"total_tokens" json:"total_tokens"`
	InputTokens     int64           `db:"input_tokens" json:"input_tokens"`
	OutputTokens    int64           `db:"output_tokens" json:"output_tokens"`
	TotalCost       decimal.Decimal `db:"total_cost" json:"total_cost"`
	AvgDurationMS   float64         `db:"avg_duration_ms" json:"avg_duration_ms"`
}

// ModelUsage aggregates usage for a single model within a time range.
type ModelUsage struct {
	ModelName     string          `db:"model_name" json:"model_name"`
	TotalRequests int             `db:"total_requests" json:"total_requests"`
	TotalTokens   int64           `db:"total_tokens" json:"total_tokens"`
	TotalCost     decimal.Decimal `db:"total_cost" json:"total_cost"`
}

// StatisticsFilters scopes an aggregation.
type StatisticsFilters struct {
	QuotaID *uuid.UUID
	UserID  *uuid.UUID
	Since   *time.Time
	Until   *time.Time
}

func statisticsWhere(filters StatisticsFilters) (string, []interface{}) {
	var whereClauses []string
	var args []interface{}
	argCount := 1

	if filters.QuotaID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("quota_id = $%d", argCount))
		args = append(args, *filters.QuotaID)
		argCount++
	}
	if filters.UserID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("user_id = $%d", argCount))
		args = append(args, *filters.UserID)
		argCount++
	}
	if filters.Since != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("created_at >= $%d", argCount))
		args = append(args, *filters.Since)
		argCount++
	}
	if filters.Until != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("created_at < $%d", argCount))
		args = append(args, *filters.Until)
		argCount++
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	return whereClause, args
}

// GetStatistics aggregates the audit log under the given filters.
func (r *RequestRepository) GetStatistics(ctx context.Context, filters StatisticsFilters) (*UsageStatistics, error) {
	whereClause, args := statisticsWhere(filters)

	query := fmt.Sprintf(`
		SELECT COUNT(*) AS total_requests,
		       COUNT(*) FILTER (WHERE success) AS success_requests,
		       COUNT(*) FILTER (WHERE NOT success) AS failed_requests,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(input_tokens), 0) AS input_tokens,
		       COALESCE(SUM(output_tokens), 0) AS output_tokens,
		       COALESCE(SUM(total_cost), 0) AS total_cost,
		       COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM api_requests
		%s
	`, whereClause)

	var stats UsageStatistics
	if err := r.db.conn.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}

	return &stats, nil
}

// DailyUsage aggregates usage for one calendar day.
type DailyUsage struct {
	Day           time.Time       `db:"day" json:"day"`
	TotalRequests int             `db:"total_requests" json:"total_requests"`
	TotalTokens   int64           `db:"total_tokens" json:"total_tokens"`
	TotalCost     decimal.Decimal `db:"total_cost" json:"total_cost"`
}

// GetDailyUsage buckets the audit log by day, most recent first.
func (r *RequestRepository) GetDailyUsage(ctx context.Context, filters StatisticsFilters, days int) ([]DailyUsage, error) {
	whereClause, args := statisticsWhere(filters)
	args = append(args, days)

	query := fmt.Sprintf(`
		SELECT date_trunc('day', created_at) AS day,
		       COUNT(*) AS total_requests,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(total_cost), 0) AS total_cost
		FROM api_requests
		%s
		GROUP BY day
		ORDER BY day DESC
		LIMIT $%d
	`, whereClause, len(args))

	var usage []DailyUsage
	if err := r.db.conn.SelectContext(ctx, &usage, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate daily usage: %w", err)
	}

	return usage, nil
}

// GetModelBreakdown aggregates usage per model name snapshot, costliest
// first.
func (r *RequestRepository) GetModelBreakdown(ctx context.Context, filters StatisticsFilters, limit int) ([]ModelUsage, error) {
	whereClause, args := statisticsWhere(filters)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT model_name,
		       COUNT(*) AS total_requests,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(total_cost), 0) AS total_cost
		FROM api_requests
		%s
		GROUP BY model_name
		ORDER BY total_cost DESC
		LIMIT $%d
	`, whereClause, len(args))

	var usage []ModelUsage
	if err := r.db.conn.SelectContext(ctx, &usage, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate model usage: %w", err)
	}

	return usage, nil
}
