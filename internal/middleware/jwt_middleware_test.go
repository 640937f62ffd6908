package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditgate/internal/auth"
	"auditgate/internal/config"
	"auditgate/internal/models"
	"auditgate/internal/utils"
)

type fakeAdminStore struct {
	user *models.AdminUser
}

func (s *fakeAdminStore) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	return s.user, nil
}

func (s *fakeAdminStore) GetAdminTokenByServiceName(ctx context.Context, serviceName string) (*models.AdminToken, error) {
	return nil, nil
}

func (s *fakeAdminStore) UpdateAdminUserLastLogin(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (s *fakeAdminStore) UpdateAdminTokenLastUsed(ctx context.Context, id uuid.UUID) error {
	return nil
}

func adminJWT(t *testing.T, cfg *config.Config, roles ...string) string {
	t.Helper()

	hash, err := utils.HashPasswordArgon2("hunter2hunter2")
	require.NoError(t, err)

	store := &fakeAdminStore{user: &models.AdminUser{
		ID:           uuid.New(),
		Email:        "ops@example.com",
		PasswordHash: hash,
		Roles:        pq.StringArray(roles),
		Enabled:      true,
	}}

	token, _, err := auth.GenerateAdminJWTWithPassword(context.Background(), "ops@example.com", "hunter2hunter2", store, cfg)
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminJWT(t *testing.T) {
	cfg := &config.Config{JWTSecret: []byte("test-secret")}

	t.Run("valid token passes and fills context", func(t *testing.T) {
		var gotID string
		handler := AdminJWT(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetAdminID(r.Context())
			require.True(t, ok)
			gotID = id
			claims, ok := GetAdminClaims(r.Context())
			require.True(t, ok)
			assert.Equal(t, "ops@example.com", claims.Subject)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/admin/quotas", nil)
		req.Header.Set("Authorization", "Bearer "+adminJWT(t, cfg, "admin"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, gotID)
	})

	t.Run("missing token", func(t *testing.T) {
		handler := AdminJWT(cfg)(okHandler())

		req := httptest.NewRequest("GET", "/admin/quotas", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		handler := AdminJWT(cfg)(okHandler())

		req := httptest.NewRequest("GET", "/admin/quotas", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		other := &config.Config{JWTSecret: []byte("other-secret")}
		handler := AdminJWT(cfg)(okHandler())

		req := httptest.NewRequest("GET", "/admin/quotas", nil)
		req.Header.Set("Authorization", "Bearer "+adminJWT(t, other, "admin"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("viewer blocked from admin-only endpoint", func(t *testing.T) {
		handler := AdminJWT(cfg, auth.RoleAdmin)(okHandler())

		req := httptest.NewRequest("POST", "/admin/quotas", nil)
		req.Header.Set("Authorization", "Bearer "+adminJWT(t, cfg, "viewer"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin reaches viewer endpoint", func(t *testing.T) {
		handler := AdminJWT(cfg, auth.RoleViewer)(okHandler())

		req := httptest.NewRequest("GET", "/admin/quotas", nil)
		req.Header.Set("Authorization", "Bearer "+adminJWT(t, cfg, "admin"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("X-API-Key header accepted", func(t *testing.T) {
		handler := AdminJWT(cfg)(okHandler())

		req := httptest.NewRequest("GET", "/admin/quotas", nil)
		req.Header.Set("X-API-Key", adminJWT(t, cfg, "admin"))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
