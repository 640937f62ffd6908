package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ModelType categorizes what a model produces.
type ModelType string

const (
	ModelTypeChat       ModelType = "chat"
	ModelTypeText       ModelType = "text"
	ModelTypeEmbedding  ModelType = "embedding"
	ModelTypeImage      ModelType = "image"
	ModelTypeMultimodal ModelType = "multimodal"
)

// IsValid checks if the model type is one of the known kinds.
func (t ModelType) IsValid() bool {
	switch t {
	case ModelTypeChat, ModelTypeText, ModelTypeEmbedding, ModelTypeImage, ModelTypeMultimodal:
		return true
	default:
		return false
	}
}

// AIModel is a single upstream model in the catalog. Name is the
// caller-facing identifier; ExternalID is what the provider expects on the
// wire (falls back to Name when empty).
type AIModel struct {
	ID         uuid.UUID `db:"id"`
	ProviderID uuid.UUID `db:"provider_id"`

	Name        string `db:"name"`
	DisplayName string `db:"display_name"`
	Description string `db:"description"`
	ExternalID  string `db:"external_id"`

	// Dollar price per 1,000,000 tokens.
	InputPricePer1M  decimal.Decimal `db:"input_price_per_1m"`
	OutputPricePer1M decimal.Decimal `db:"output_price_per_1m"`

	ContextLength   int  `db:"context_length"`
	MaxOutputTokens *int `db:"max_output_tokens"`

	Capabilities Capabilities `db:"capabilities"`
	ModelType    ModelType    `db:"model_type"`

	IsActive     bool       `db:"is_active"`
	IsAvailable  bool       `db:"is_available"`
	LastSyncedAt *time.Time `db:"last_synced_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UpstreamID returns the identifier to send to the provider.
func (m *AIModel) UpstreamID() string {
	if m.ExternalID != "" {
		return m.ExternalID
	}
	return m.Name
}

// IsServable reports whether the model may receive traffic.
func (m *AIModel) IsServable() bool {
	return m.IsActive && m.IsAvailable
}
