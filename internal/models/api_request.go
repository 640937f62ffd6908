package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// APIRequest is the immutable audit record written once per attempt,
// success or failure. Besides live foreign keys it carries point-in-time
// name snapshots so later renames or deletions never corrupt history;
// display must prefer the snapshots.
type APIRequest struct {
	ID        uuid.UUID `json:"id" db:"id"`
	RequestID uuid.UUID `json:"request_id" db:"request_id"`

	QuotaID      uuid.UUID `json:"quota_id" db:"quota_id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	ModelID      uuid.UUID `json:"model_id" db:"model_id"`
	ModelGroupID uuid.UUID `json:"model_group_id" db:"model_group_id"`

	// Snapshot fields, captured at write time.
	UserName       string `json:"user_name" db:"user_name"`
	ModelName      string `json:"model_name" db:"model_name"`
	ModelGroupName string `json:"model_group_name" db:"model_group_name"`

	Method   string `json:"method" db:"method"`
	Endpoint string `json:"endpoint" db:"endpoint"`

	InputTokens  int `json:"input_tokens" db:"input_tokens"`
	OutputTokens int `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int `json:"total_tokens" db:"total_tokens"`

	InputCost  decimal.Decimal `json:"input_cost" db:"input_cost"`
	OutputCost decimal.Decimal `json:"output_cost" db:"output_cost"`
	TotalCost  decimal.Decimal `json:"total_cost" db:"total_cost"`

	StatusCode int  `json:"status_code" db:"status_code"`
	DurationMS int  `json:"duration_ms" db:"duration_ms"`
	Success    bool `json:"success" db:"success"`

	IPAddress string `json:"ip_address" db:"ip_address"`
	UserAgent string `json:"user_agent" db:"user_agent"`

	ErrorType    string `json:"error_type" db:"error_type"`
	ErrorMessage string `json:"error_message" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
