package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auditgate/internal/models"
	"auditgate/internal/providers"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// AdminModelsHandler manages the model catalog.
type AdminModelsHandler struct {
	db       *storage.DB
	registry *providers.Registry
	logger   *utils.Logger
}

func NewAdminModelsHandler(db *storage.DB, registry *providers.Registry) *AdminModelsHandler {
	return &AdminModelsHandler{
		db:       db,
		registry: registry,
		logger:   utils.NewLogger("admin-models"),
	}
}

type modelRequest struct {
	ProviderID       uuid.UUID           `json:"provider_id"`
	Name             string              `json:"name"`
	DisplayName      string              `json:"display_name"`
	Description      string              `json:"description"`
	ExternalID       string              `json:"external_id"`
	InputPricePer1M  decimal.Decimal     `json:"input_price_per_1m"`
	OutputPricePer1M decimal.Decimal     `json:"output_price_per_1m"`
	ContextLength    int                 `json:"context_length"`
	MaxOutputTokens  *int                `json:"max_output_tokens,omitempty"`
	Capabilities     models.Capabilities `json:"capabilities,omitempty"`
	ModelType        string              `json:"model_type"`
	IsActive         *bool               `json:"is_active,omitempty"`
}

type modelResponse struct {
	ID               uuid.UUID           `json:"id"`
	ProviderID       uuid.UUID           `json:"provider_id"`
	Name             string              `json:"name"`
	DisplayName      string              `json:"display_name"`
	Description      string              `json:"description"`
	ExternalID       string              `json:"external_id,omitempty"`
	InputPricePer1M  decimal.Decimal     `json:"input_price_per_1m"`
	OutputPricePer1M decimal.Decimal     `json:"output_price_per_1m"`
	ContextLength    int                 `json:"context_length"`
	MaxOutputTokens  *int                `json:"max_output_tokens,omitempty"`
	Capabilities     models.Capabilities `json:"capabilities,omitempty"`
	ModelType        models.ModelType    `json:"model_type"`
	IsActive         bool                `json:"is_active"`
	IsAvailable      bool                `json:"is_available"`
	LastSyncedAt     *time.Time          `json:"last_synced_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func toModelResponse(m *models.AIModel) modelResponse {
	return modelResponse{
		ID:               m.ID,
		ProviderID:       m.ProviderID,
		Name:             m.Name,
		DisplayName:      m.DisplayName,
		Description:      m.Description,
		ExternalID:       m.ExternalID,
		InputPricePer1M:  m.InputPricePer1M,
		OutputPricePer1M: m.OutputPricePer1M,
		ContextLength:    m.ContextLength,
		MaxOutputTokens:  m.MaxOutputTokens,
		Capabilities:     m.Capabilities,
		ModelType:        m.ModelType,
		IsActive:         m.IsActive,
		IsAvailable:      m.IsAvailable,
		LastSyncedAt:     m.LastSyncedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// List handles GET /admin/models.
func (h *AdminModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r, 50, 200)
	filters := storage.ModelListFilters{
		Search:       r.URL.Query().Get("search"),
		ModelType:    r.URL.Query().Get("model_type"),
		ServableOnly: r.URL.Query().Get("servable") == "true",
		Page:         page.Number,
		PageSize:     page.Size,
	}
	if pid := r.URL.Query().Get("provider_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider_id")
			return
		}
		filters.ProviderID = &id
	}

	repo := storage.NewModelRepository(h.db)
	result, err := repo.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list models", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}

	items := make([]modelResponse, 0, len(result.Models))
	for _, m := range result.Models {
		items = append(items, toModelResponse(m))
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.PagedResponse{
		Count:    result.TotalCount,
		Page:     result.Page,
		PageSize: result.PageSize,
		Results:  items,
	})
}

// Create handles POST /admin/models.
func (h *AdminModelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.ProviderID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Name and provider_id are required")
		return
	}
	modelType := models.ModelType(req.ModelType)
	if req.ModelType == "" {
		modelType = models.ModelTypeChat
	}
	if !modelType.IsValid() {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid model_type")
		return
	}
	if err := req.Capabilities.Validate(); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InputPricePer1M.IsNegative() || req.OutputPricePer1M.IsNegative() {
		utils.RespondWithError(w, http.StatusBadRequest, "Prices must not be negative")
		return
	}

	model := &models.AIModel{
		ProviderID:       req.ProviderID,
		Name:             req.Name,
		DisplayName:      req.DisplayName,
		Description:      req.Description,
		ExternalID:       req.ExternalID,
		InputPricePer1M:  req.InputPricePer1M,
		OutputPricePer1M: req.OutputPricePer1M,
		ContextLength:    req.ContextLength,
		MaxOutputTokens:  req.MaxOutputTokens,
		Capabilities:     req.Capabilities,
		ModelType:        modelType,
		IsActive:         true,
		IsAvailable:      true,
	}
	if req.IsActive != nil {
		model.IsActive = *req.IsActive
	}

	repo := storage.NewModelRepository(h.db)
	if err := repo.Create(r.Context(), model); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			utils.RespondWithError(w, http.StatusConflict, "Model name already exists")
			return
		}
		h.logger.Error("Failed to create model", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create model")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, toModelResponse(model))
}

// GetByID handles GET /admin/models/{id}.
func (h *AdminModelsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid model ID")
		return
	}

	repo := storage.NewModelRepository(h.db)
	model, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		h.logger.Error("Failed to get model", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toModelResponse(model))
}

// Update handles PUT /admin/models/{id}.
func (h *AdminModelsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid model ID")
		return
	}

	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	repo := storage.NewModelRepository(h.db)
	model, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		h.logger.Error("Failed to get model", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get model")
		return
	}

	if req.Name != "" {
		model.Name = req.Name
	}
	if req.DisplayName != "" {
		model.DisplayName = req.DisplayName
	}
	model.Description = req.Description
	model.ExternalID = req.ExternalID
	if !req.InputPricePer1M.IsNegative() {
		model.InputPricePer1M = req.InputPricePer1M
	}
	if !req.OutputPricePer1M.IsNegative() {
		model.OutputPricePer1M = req.OutputPricePer1M
	}
	if req.ContextLength > 0 {
		model.ContextLength = req.ContextLength
	}
	if req.MaxOutputTokens != nil {
		model.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.Capabilities != nil {
		if err := req.Capabilities.Validate(); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		model.Capabilities = req.Capabilities
	}
	if req.ModelType != "" {
		modelType := models.ModelType(req.ModelType)
		if !modelType.IsValid() {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid model_type")
			return
		}
		model.ModelType = modelType
	}
	if req.IsActive != nil {
		model.IsActive = *req.IsActive
	}

	if err := repo.Update(r.Context(), model); err != nil {
		h.logger.Error("Failed to update model", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update model")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toModelResponse(model))
}

// Delete handles DELETE /admin/models/{id}.
func (h *AdminModelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid model ID")
		return
	}

	repo := storage.NewModelRepository(h.db)
	if err := repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		h.logger.Error("Failed to delete model", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete model")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
