package httpapi

import (
	"encoding/json"
	"net/http"

	"auditgate/internal/auth"
	"auditgate/internal/config"
	"auditgate/internal/utils"
)

// AdminAuthHandler exchanges admin credentials for short-lived JWTs.
type AdminAuthHandler struct {
	store  auth.AdminStore
	config *config.Config
	logger *utils.Logger
}

func NewAdminAuthHandler(store auth.AdminStore, cfg *config.Config) *AdminAuthHandler {
	return &AdminAuthHandler{
		store:  store,
		config: cfg,
		logger: utils.NewLogger("admin-auth"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenAuthRequest struct {
	ServiceName string `json:"service_name"`
	Token       string `json:"token"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Login handles POST /admin/login with email/password credentials.
func (h *AdminAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, expiresAt, err := auth.GenerateAdminJWTWithPassword(r.Context(), req.Email, req.Password, h.store, h.config)
	if err != nil {
		h.logger.Warn("Admin login failed", "email", req.Email, "error", err)
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, authResponse{Token: token, ExpiresAt: expiresAt})
}

// TokenAuth handles POST /admin/token for service-to-service tokens.
func (h *AdminAuthHandler) TokenAuth(w http.ResponseWriter, r *http.Request) {
	var req tokenAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ServiceName == "" || req.Token == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Service name and token are required")
		return
	}

	token, expiresAt, err := auth.GenerateAdminJWTWithToken(r.Context(), req.ServiceName, req.Token, h.store, h.config)
	if err != nil {
		h.logger.Warn("Service token auth failed", "service", req.ServiceName, "error", err)
		utils.RespondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, authResponse{Token: token, ExpiresAt: expiresAt})
}
