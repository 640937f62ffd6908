package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auditgate/internal/models"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// AdminGroupsHandler manages model groups and their memberships.
type AdminGroupsHandler struct {
	db     *storage.DB
	logger *utils.Logger
}

func NewAdminGroupsHandler(db *storage.DB) *AdminGroupsHandler {
	return &AdminGroupsHandler{
		db:     db,
		logger: utils.NewLogger("admin-groups"),
	}
}

type groupRequest struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	DefaultQuota *decimal.Decimal `json:"default_quota,omitempty"`
	IsPublic     *bool            `json:"is_public,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
	ModelIDs     []uuid.UUID      `json:"model_ids,omitempty"`
}

type groupResponse struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	DefaultQuota *decimal.Decimal `json:"default_quota,omitempty"`
	IsPublic     bool             `json:"is_public"`
	IsActive     bool             `json:"is_active"`
	ModelIDs     []uuid.UUID      `json:"model_ids"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func toGroupResponse(g *models.ModelGroup) groupResponse {
	ids := g.ModelIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return groupResponse{
		ID:           g.ID,
		Name:         g.Name,
		Description:  g.Description,
		DefaultQuota: g.DefaultQuota,
		IsPublic:     g.IsPublic,
		IsActive:     g.IsActive,
		ModelIDs:     ids,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

// List handles GET /admin/groups.
func (h *AdminGroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r, 50, 200)
	filters := storage.GroupListFilters{
		Search:   r.URL.Query().Get("search"),
		Page:     page.Number,
		PageSize: page.Size,
	}
	if r.URL.Query().Get("public") == "true" {
		public := true
		filters.PublicOnly = &public
	}
	if r.URL.Query().Get("active") == "true" {
		active := true
		filters.ActiveOnly = &active
	}

	repo := storage.NewGroupRepository(h.db)
	result, err := repo.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list groups", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}

	items := make([]groupResponse, 0, len(result.Groups))
	for _, g := range result.Groups {
		items = append(items, toGroupResponse(g))
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.PagedResponse{
		Count:    result.TotalCount,
		Page:     result.Page,
		PageSize: result.PageSize,
		Results:  items,
	})
}

// Create handles POST /admin/groups.
func (h *AdminGroupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.DefaultQuota != nil && req.DefaultQuota.IsNegative() {
		utils.RespondWithError(w, http.StatusBadRequest, "Default quota must not be negative")
		return
	}

	group := &models.ModelGroup{
		Name:         req.Name,
		Description:  req.Description,
		DefaultQuota: req.DefaultQuota,
		IsActive:     true,
		ModelIDs:     req.ModelIDs,
	}
	if req.IsPublic != nil {
		group.IsPublic = *req.IsPublic
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}

	repo := storage.NewGroupRepository(h.db)
	if err := repo.Create(r.Context(), group); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			utils.RespondWithError(w, http.StatusConflict, "Group name already exists")
			return
		}
		h.logger.Error("Failed to create group", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create group")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, toGroupResponse(group))
}

// GetByID handles GET /admin/groups/{id}.
func (h *AdminGroupsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid group ID")
		return
	}

	repo := storage.NewGroupRepository(h.db)
	group, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrModelGroupNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Group not found")
			return
		}
		h.logger.Error("Failed to get group", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get group")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toGroupResponse(group))
}

// Update handles PUT /admin/groups/{id}. A model_ids field, when present,
// replaces the membership wholesale.
func (h *AdminGroupsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid group ID")
		return
	}

	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	repo := storage.NewGroupRepository(h.db)
	group, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrModelGroupNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Group not found")
			return
		}
		h.logger.Error("Failed to get group", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get group")
		return
	}

	if req.Name != "" {
		group.Name = req.Name
	}
	group.Description = req.Description
	if req.DefaultQuota != nil {
		if req.DefaultQuota.IsNegative() {
			utils.RespondWithError(w, http.StatusBadRequest, "Default quota must not be negative")
			return
		}
		group.DefaultQuota = req.DefaultQuota
	}
	if req.IsPublic != nil {
		group.IsPublic = *req.IsPublic
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}
	if req.ModelIDs != nil {
		group.ModelIDs = req.ModelIDs
	}

	if err := repo.Update(r.Context(), group); err != nil {
		h.logger.Error("Failed to update group", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update group")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toGroupResponse(group))
}

// Delete handles DELETE /admin/groups/{id}.
func (h *AdminGroupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid group ID")
		return
	}

	repo := storage.NewGroupRepository(h.db)
	if err := repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrModelGroupNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "Group not found")
			return
		}
		h.logger.Error("Failed to delete group", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete group")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
