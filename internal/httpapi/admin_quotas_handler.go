package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auditgate/internal/auth"
	"auditgate/internal/models"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// AdminQuotasHandler manages quotas and their API keys. The plaintext key
// appears exactly once, in the creation or rotation response; afterwards
// only the masked form is returned.
type AdminQuotasHandler struct {
	db     *storage.DB
	logger *utils.Logger
}

func NewAdminQuotasHandler(db *storage.DB) *AdminQuotasHandler {
	return &AdminQuotasHandler{
		db:     db,
		logger: utils.NewLogger("admin-quotas"),
	}
}

type quotaRequest struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	UserID             uuid.UUID        `json:"user_id"`
	ModelGroupID       uuid.UUID        `json:"model_group_id"`
	TotalQuota         *decimal.Decimal `json:"total_quota,omitempty"`
	RateLimitPerMinute *int             `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerHour   *int             `json:"rate_limit_per_hour,omitempty"`
	RateLimitPerDay    *int             `json:"rate_limit_per_day,omitempty"`
	IsActive           *bool            `json:"is_active,omitempty"`
}

type quotaResponse struct {
	ID                 uuid.UUID       `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	UserID             uuid.UUID       `json:"user_id"`
	ModelGroupID       uuid.UUID       `json:"model_group_id"`
	MaskedKey          string          `json:"masked_key"`
	TotalQuota         decimal.Decimal `json:"total_quota"`
	UsedQuota          decimal.Decimal `json:"used_quota"`
	Remaining          decimal.Decimal `json:"remaining"`
	UsagePercent       float64         `json:"usage_percent"`
	RateLimitPerMinute int             `json:"rate_limit_per_minute"`
	RateLimitPerHour   int             `json:"rate_limit_per_hour"`
	RateLimitPerDay    int             `json:"rate_limit_per_day"`
	IsActive           bool            `json:"is_active"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// APIKey is only populated on creation and rotation.
	APIKey string `json:"api_key,omitempty"`
}

func toQuotaResponse(q *models.Quota) quotaResponse {
	return quotaResponse{
		ID:                 q.ID,
		Name:               q.Name,
		Description:        q.Description,
		UserID:             q.UserID,
		ModelGroupID:       q.ModelGroupID,
		MaskedKey:          q.MaskedKey(),
		TotalQuota:         q.TotalQuota,
		UsedQuota:          q.UsedQuota,
		Remaining:          q.Remaining(),
		UsagePercent:       q.UsagePercent(),
		RateLimitPerMinute: q.RateLimitPerMinute,
		RateLimitPerHour:   q.RateLimitPerHour,
		RateLimitPerDay:    q.RateLimitPerDay,
		IsActive:           q.IsActive,
		DeletedAt:          q.DeletedAt,
		CreatedAt:          q.CreatedAt,
		UpdatedAt:          q.UpdatedAt,
	}
}

// List handles GET /admin/quotas.
func (h *AdminQuotasHandler) List(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r, 50, 200)
	filters := storage.QuotaListFilters{
		Search:         r.URL.Query().Get("search"),
		IncludeDeleted: r.URL.Query().Get("include_deleted") == "true",
		Page:           page.Number,
		PageSize:       page.Size,
	}
	if uid := r.URL.Query().Get("user_id"); uid != "" {
		id, err := uuid.Parse(uid)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}
		filters.UserID = &id
	}
	if r.URL.Query().Get("active") == "true" {
		active := true
		filters.ActiveOnly = &active
	}

	repo := storage.NewQuotaRepository(h.db)
	result, err := repo.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list quotas", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list quotas")
		return
	}

	items := make([]quotaResponse, 0, len(result.Quotas))
	for _, q := range result.Quotas {
		items = append(items, toQuotaResponse(q))
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.PagedResponse{
		Count:    result.TotalCount,
		Page:     result.Page,
		PageSize: result.PageSize,
		Results:  items,
	})
}

// Create handles POST /admin/quotas. A fresh API key is generated and
// returned in plaintext in this response only.
func (h *AdminQuotasHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req quotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.UserID == uuid.Nil || req.ModelGroupID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Name, user_id and model_group_id are required")
		return
	}

	totalQuota := decimal.Zero
	if req.TotalQuota != nil {
		if req.TotalQuota.IsNegative() {
			utils.RespondWithError(w, http.StatusBadRequest, "Total quota must not be negative")
			return
		}
		totalQuota = *req.TotalQuota
	} else {
		// Fall back to the group's default allowance when the request
		// does not name an amount.
		groupRepo := storage.NewGroupRepository(h.db)
		group, err := groupRepo.GetByID(r.Context(), req.ModelGroupID)
		if err != nil {
			if errors.Is(err, storage.ErrModelGroupNotFound) {
				utils.RespondWithError(w, http.StatusBadRequest, "Model group not found")
				return
			}
			h.logger.Error("Failed to get group for quota default", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create quota")
			return
		}
		if group.DefaultQuota != nil {
			totalQuota = *group.DefaultQuota
		}
	}

	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("Failed to generate API key", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create quota")
		return
	}

	quota := &models.Quota{
		Name:         req.Name,
		Description:  req.Description,
		UserID:       req.UserID,
		ModelGroupID: req.ModelGroupID,
		KeyHash:      auth.HashAPIKey(plaintext),
		KeySuffix:    auth.KeySuffix(plaintext),
		TotalQuota:   totalQuota,
		IsActive:     true,
	}
	if req.RateLimitPerMinute != nil {
		quota.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.RateLimitPerHour != nil {
		quota.RateLimitPerHour = *req.RateLimitPerHour
	}
	if req.RateLimitPerDay != nil {
		quota.RateLimitPerDay = *req.RateLimitPerDay
	}
	if req.IsActive != nil {
		quota.IsActive = *req.IsActive
	}

	repo := storage.NewQuotaRepository(h.db)
	if err := repo.Create(r.Context(), quota); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			utils.RespondWithError(w, http.StatusConflict, "Quota name already exists")
			return
		}
		h.logger.Error("Failed to create quota", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create quota")
		return
	}

	resp := toQuotaResponse(quota)
	resp.APIKey = plaintext
	utils.RespondWithJSON(w, http.StatusCreated, resp)
}

// GetByID handles GET /admin/quotas/{id}.
func (h *AdminQuotasHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
		return
	}

	repo := storage.NewQuotaRepository(h.db)
	quota, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrQuotaNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		h.logger.Error("Failed to get quota", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toQuotaResponse(quota))
}

// Update handles PUT /admin/quotas/{id}. The API key cannot be changed
// here; use the rotation endpoint.
func (h *AdminQuotasHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
		return
	}

	var req quotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	repo := storage.NewQuotaRepository(h.db)
	quota, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrQuotaNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		h.logger.Error("Failed to get quota", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get quota")
		return
	}

	if req.Name != "" {
		quota.Name = req.Name
	}
	quota.Description = req.Description
	if req.ModelGroupID != uuid.Nil {
		quota.ModelGroupID = req.ModelGroupID
	}
	if req.TotalQuota != nil {
		if req.TotalQuota.IsNegative() {
			utils.RespondWithError(w, http.StatusBadRequest, "Total quota must not be negative")
			return
		}
		quota.TotalQuota = *req.TotalQuota
	}
	if req.RateLimitPerMinute != nil {
		quota.RateLimitPerMinute = *req.RateLimitPerMinute
	}
	if req.RateLimitPerHour != nil {
		quota.RateLimitPerHour = *req.RateLimitPerHour
	}
	if req.RateLimitPerDay != nil {
		quota.RateLimitPerDay = *req.RateLimitPerDay
	}
	if req.IsActive != nil {
		quota.IsActive = *req.IsActive
	}

	if err := repo.Update(r.Context(), quota); err != nil {
		h.logger.Error("Failed to update quota", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toQuotaResponse(quota))
}

// Delete handles DELETE /admin/quotas/{id}: soft delete, the key stops
// resolving immediately.
func (h *AdminQuotasHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
		return
	}

	repo := storage.NewQuotaRepository(h.db)
	if err := repo.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrQuotaNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		h.logger.Error("Failed to delete quota", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Restore handles POST /admin/quotas/{id}/restore: undoes a soft delete.
// The quota stays inactive until explicitly re-enabled.
func (h *AdminQuotasHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
		return
	}

	repo := storage.NewQuotaRepository(h.db)
	if err := repo.Restore(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrQuotaNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found or not deleted")
			return
		}
		h.logger.Error("Failed to restore quota", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to restore quota")
		return
	}

	quota, err := repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load restored quota", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to restore quota")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toQuotaResponse(quota))
}

// ResetAPIKey handles POST /admin/quotas/{id}/reset_api_key: rotates the key
// and returns the new plaintext once.
func (h *AdminQuotasHandler) ResetAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
		return
	}

	repo := storage.NewQuotaRepository(h.db)
	quota, err := h.rotateKey(r, repo, id)
	if err != nil {
		if errors.Is(err, storage.ErrQuotaNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Quota not found")
			return
		}
		h.logger.Error("Failed to rotate quota key", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to rotate key")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, quota)
}

// SelfServiceKey returns a handler for the quota-owner key endpoint:
// callers authenticate with their current API key and may inspect
// (reset=false) or rotate (reset=true) the key for their own quota ID.
func (h *AdminQuotasHandler) SelfServiceKey(resolver *auth.Resolver, reset bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid quota ID")
			return
		}

		apiKey, err := parseBearer(r.Header.Get("Authorization"))
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}

		qc, err := resolver.Resolve(r.Context(), apiKey)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		if qc.Quota.ID != id {
			utils.RespondWithError(w, http.StatusForbidden, "Key does not belong to this quota")
			return
		}

		repo := storage.NewQuotaRepository(h.db)
		if !reset {
			utils.RespondWithJSON(w, http.StatusOK, toQuotaResponse(qc.Quota))
			return
		}

		resp, err := h.rotateKey(r, repo, id)
		if err != nil {
			h.logger.Error("Failed to rotate quota key", "id", id, "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "Failed to rotate key")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, resp)
	}
}

// rotateKey generates a new key, persists the hash, and returns the quota
// response with the plaintext attached.
func (h *AdminQuotasHandler) rotateKey(r *http.Request, repo *storage.QuotaRepository, id uuid.UUID) (*quotaResponse, error) {
	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	if err := repo.RotateKey(r.Context(), id, auth.HashAPIKey(plaintext), auth.KeySuffix(plaintext)); err != nil {
		return nil, err
	}

	quota, err := repo.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}

	resp := toQuotaResponse(quota)
	resp.APIKey = plaintext
	return &resp, nil
}
