package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"auditgate/internal/models"
	"auditgate/internal/providers"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// AdminProvidersHandler manages upstream provider records. Vendor API keys
// are encrypted on write and never returned in responses.
type AdminProvidersHandler struct {
	db         *storage.DB
	encryption *storage.Encryption
	registry   *providers.Registry
	logger     *utils.Logger
}

func NewAdminProvidersHandler(db *storage.DB, enc *storage.Encryption, registry *providers.Registry) *AdminProvidersHandler {
	return &AdminProvidersHandler{
		db:         db,
		encryption: enc,
		registry:   registry,
		logger:     utils.NewLogger("admin-providers"),
	}
}

type providerRequest struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	BaseURL        string            `json:"base_url"`
	APIKey         string            `json:"api_key,omitempty"`
	ExtraHeaders   map[string]string `json:"extra_headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	MaxRetries     int               `json:"max_retries"`
	IsActive       *bool             `json:"is_active,omitempty"`
}

type providerResponse struct {
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	BaseURL        string            `json:"base_url"`
	HasAPIKey      bool              `json:"has_api_key"`
	ExtraHeaders   map[string]string `json:"extra_headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	MaxRetries     int               `json:"max_retries"`
	IsActive       bool              `json:"is_active"`
	LastSyncAt     *time.Time        `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toProviderResponse(p *models.Provider) providerResponse {
	headers := make(map[string]string, len(p.ExtraHeaders))
	for k, v := range p.ExtraHeaders {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return providerResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		BaseURL:        p.BaseURL,
		HasAPIKey:      p.EncryptedAPIKey != "",
		ExtraHeaders:   headers,
		TimeoutSeconds: p.TimeoutSeconds,
		MaxRetries:     p.MaxRetries,
		IsActive:       p.IsActive,
		LastSyncAt:     p.LastSyncAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// List handles GET /admin/providers.
func (h *AdminProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r, 50, 200)
	filters := storage.ProviderListFilters{
		Search:   r.URL.Query().Get("search"),
		Page:     page.Number,
		PageSize: page.Size,
	}
	if r.URL.Query().Get("active") == "true" {
		active := true
		filters.ActiveOnly = &active
	}

	repo := storage.NewProviderRepository(h.db)
	result, err := repo.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list providers", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list providers")
		return
	}

	items := make([]providerResponse, 0, len(result.Providers))
	for _, p := range result.Providers {
		items = append(items, toProviderResponse(p))
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.PagedResponse{
		Count:    result.TotalCount,
		Page:     result.Page,
		PageSize: result.PageSize,
		Results:  items,
	})
}

// Create handles POST /admin/providers.
func (h *AdminProvidersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Name and base_url are required")
		return
	}

	provider := &models.Provider{
		Name:           req.Name,
		Description:    req.Description,
		BaseURL:        req.BaseURL,
		TimeoutSeconds: req.TimeoutSeconds,
		MaxRetries:     req.MaxRetries,
		IsActive:       true,
	}
	if req.IsActive != nil {
		provider.IsActive = *req.IsActive
	}
	if req.APIKey != "" {
		encrypted, err := h.encryption.EncryptString(req.APIKey)
		if err != nil {
			h.logger.Error("Failed to encrypt provider key", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store credentials")
			return
		}
		provider.EncryptedAPIKey = encrypted
	}
	if len(req.ExtraHeaders) > 0 {
		provider.ExtraHeaders = make(models.JSONB, len(req.ExtraHeaders))
		for k, v := range req.ExtraHeaders {
			provider.ExtraHeaders[k] = v
		}
	}

	repo := storage.NewProviderRepository(h.db)
	if err := repo.Create(r.Context(), provider); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			utils.RespondWithError(w, http.StatusConflict, "Provider name already exists")
			return
		}
		h.logger.Error("Failed to create provider", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create provider")
		return
	}

	h.reloadRegistry(r)
	utils.RespondWithJSON(w, http.StatusCreated, toProviderResponse(provider))
}

// GetByID handles GET /admin/providers/{id}.
func (h *AdminProvidersHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}

	repo := storage.NewProviderRepository(h.db)
	provider, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrProviderNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Provider not found")
			return
		}
		h.logger.Error("Failed to get provider", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get provider")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toProviderResponse(provider))
}

// Update handles PUT /admin/providers/{id}. An empty api_key leaves the
// stored credential unchanged.
func (h *AdminProvidersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}

	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	repo := storage.NewProviderRepository(h.db)
	provider, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrProviderNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Provider not found")
			return
		}
		h.logger.Error("Failed to get provider", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get provider")
		return
	}

	if req.Name != "" {
		provider.Name = req.Name
	}
	provider.Description = req.Description
	if req.BaseURL != "" {
		provider.BaseURL = req.BaseURL
	}
	if req.TimeoutSeconds > 0 {
		provider.TimeoutSeconds = req.TimeoutSeconds
	}
	if req.MaxRetries >= 0 {
		provider.MaxRetries = req.MaxRetries
	}
	if req.IsActive != nil {
		provider.IsActive = *req.IsActive
	}
	if req.APIKey != "" {
		encrypted, err := h.encryption.EncryptString(req.APIKey)
		if err != nil {
			h.logger.Error("Failed to encrypt provider key", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to store credentials")
			return
		}
		provider.EncryptedAPIKey = encrypted
	}
	if req.ExtraHeaders != nil {
		provider.ExtraHeaders = make(models.JSONB, len(req.ExtraHeaders))
		for k, v := range req.ExtraHeaders {
			provider.ExtraHeaders[k] = v
		}
	}

	if err := repo.Update(r.Context(), provider); err != nil {
		h.logger.Error("Failed to update provider", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update provider")
		return
	}

	h.reloadRegistry(r)
	utils.RespondWithJSON(w, http.StatusOK, toProviderResponse(provider))
}

// Delete handles DELETE /admin/providers/{id}.
func (h *AdminProvidersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}

	repo := storage.NewProviderRepository(h.db)
	if err := repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrProviderNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Provider not found")
			return
		}
		h.logger.Error("Failed to delete provider", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete provider")
		return
	}

	h.reloadRegistry(r)
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Test handles POST /admin/providers/{id}/test: validates the stored
// credentials against the live upstream.
func (h *AdminProvidersHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}

	provider, err := h.registry.Get(id)
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "Provider not found or inactive")
		return
	}

	if err := provider.ValidateCredentials(r.Context()); err != nil {
		utils.RespondWithJSON(w, http.StatusOK, map[string]any{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// SyncModels handles POST /admin/providers/{id}/sync: pulls the upstream
// model list and reconciles availability flags.
func (h *AdminProvidersHandler) SyncModels(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid provider ID")
		return
	}

	provider, err := h.registry.Get(id)
	if err != nil {
		utils.RespondWithError(w, http.StatusNotFound, "Provider not found or inactive")
		return
	}

	upstreamIDs, err := provider.ListModels(r.Context())
	if err != nil {
		h.logger.Error("Model sync failed", "provider_id", id, "error", err)
		utils.RespondWithError(w, http.StatusBadGateway, "Failed to list upstream models")
		return
	}

	modelRepo := storage.NewModelRepository(h.db)
	updated, err := modelRepo.SyncAvailability(r.Context(), id, upstreamIDs)
	if err != nil {
		h.logger.Error("Failed to reconcile model availability", "provider_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update models")
		return
	}

	providerRepo := storage.NewProviderRepository(h.db)
	if err := providerRepo.TouchLastSync(r.Context(), id, time.Now().UTC()); err != nil {
		h.logger.Warn("Failed to record sync time", "provider_id", id, "error", err)
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"upstream_models": len(upstreamIDs),
		"updated":         updated,
	})
}

func (h *AdminProvidersHandler) reloadRegistry(r *http.Request) {
	if h.registry == nil {
		return
	}
	if err := h.registry.Reload(r.Context()); err != nil {
		h.logger.Warn("Registry reload failed", "error", err)
	}
}
