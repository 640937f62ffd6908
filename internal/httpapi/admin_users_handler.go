package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"auditgate/internal/models"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// AdminUsersHandler manages tenant users.
type AdminUsersHandler struct {
	db     *storage.DB
	logger *utils.Logger
}

func NewAdminUsersHandler(db *storage.DB) *AdminUsersHandler {
	return &AdminUsersHandler{
		db:     db,
		logger: utils.NewLogger("admin-users"),
	}
}

type userRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// List handles GET /admin/users.
func (h *AdminUsersHandler) List(w http.ResponseWriter, r *http.Request) {
	page := utils.ParsePage(r, 50, 200)
	filters := storage.UserListFilters{
		Search:   r.URL.Query().Get("search"),
		Page:     page.Number,
		PageSize: page.Size,
	}
	if r.URL.Query().Get("active") == "true" {
		active := true
		filters.ActiveOnly = &active
	}

	repo := storage.NewUserRepository(h.db)
	result, err := repo.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("Failed to list users", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	items := make([]userResponse, 0, len(result.Users))
	for _, u := range result.Users {
		items = append(items, toUserResponse(u))
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.PagedResponse{
		Count:    result.TotalCount,
		Page:     result.Page,
		PageSize: result.PageSize,
		Results:  items,
	})
}

// Create handles POST /admin/users.
func (h *AdminUsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Email == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Name and email are required")
		return
	}

	user := &models.User{
		Name:     req.Name,
		Email:    req.Email,
		IsActive: true,
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	repo := storage.NewUserRepository(h.db)
	if err := repo.Create(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			utils.RespondWithError(w, http.StatusConflict, "Email already in use")
			return
		}
		h.logger.Error("Failed to create user", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, toUserResponse(user))
}

// GetByID handles GET /admin/users/{id}.
func (h *AdminUsersHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	repo := storage.NewUserRepository(h.db)
	user, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to get user", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toUserResponse(user))
}

// Update handles PUT /admin/users/{id}.
func (h *AdminUsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	repo := storage.NewUserRepository(h.db)
	user, err := repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to get user", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := repo.Update(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			utils.RespondWithError(w, http.StatusConflict, "Email already in use")
			return
		}
		h.logger.Error("Failed to update user", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, toUserResponse(user))
}

// Delete handles DELETE /admin/users/{id}.
func (h *AdminUsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	repo := storage.NewUserRepository(h.db)
	if err := repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to delete user", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
