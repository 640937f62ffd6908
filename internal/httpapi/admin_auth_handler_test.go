package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditgate/internal/config"
	"auditgate/internal/models"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

type stubAdminStore struct {
	user  *models.AdminUser
	token *models.AdminToken
}

func (s *stubAdminStore) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	if s.user != nil && s.user.Email == email {
		return s.user, nil
	}
	return nil, storage.ErrAdminUserNotFound
}

func (s *stubAdminStore) GetAdminTokenByServiceName(ctx context.Context, serviceName string) (*models.AdminToken, error) {
	if s.token != nil && s.token.ServiceName == serviceName {
		return s.token, nil
	}
	return nil, storage.ErrAdminTokenNotFound
}

func (s *stubAdminStore) UpdateAdminUserLastLogin(ctx context.Context, id uuid.UUID) error { return nil }
func (s *stubAdminStore) UpdateAdminTokenLastUsed(ctx context.Context, id uuid.UUID) error { return nil }

func newAuthFixture(t *testing.T) (*AdminAuthHandler, *config.Config) {
	t.Helper()

	cfg := &config.Config{JWTSecret: []byte("test-secret")}

	hash, err := utils.HashPasswordArgon2("hunter2hunter2")
	require.NoError(t, err)

	store := &stubAdminStore{
		user: &models.AdminUser{
			ID:           uuid.New(),
			Email:        "ops@example.com",
			PasswordHash: hash,
			Roles:        pq.StringArray{"admin"},
			Enabled:      true,
		},
		token: &models.AdminToken{
			ID:          uuid.New(),
			ServiceName: "ci-reporter",
			TokenHash:   utils.HashString("svc-token-value"),
			Roles:       pq.StringArray{"viewer"},
			Enabled:     true,
		},
	}

	return NewAdminAuthHandler(store, cfg), cfg
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLoginSuccess(t *testing.T) {
	h, _ := newAuthFixture(t)

	rec := postJSON(t, h.Login, "/admin/login", loginRequest{
		Email:    "ops@example.com",
		Password: "hunter2hunter2",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Greater(t, resp.ExpiresAt, int64(0))
}

func TestLoginWrongPassword(t *testing.T) {
	h, _ := newAuthFixture(t)

	rec := postJSON(t, h.Login, "/admin/login", loginRequest{
		Email:    "ops@example.com",
		Password: "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnknownEmail(t *testing.T) {
	h, _ := newAuthFixture(t)

	rec := postJSON(t, h.Login, "/admin/login", loginRequest{
		Email:    "nobody@example.com",
		Password: "hunter2hunter2",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginMissingFields(t *testing.T) {
	h, _ := newAuthFixture(t)

	rec := postJSON(t, h.Login, "/admin/login", loginRequest{Email: "ops@example.com"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenAuthSuccess(t *testing.T) {
	h, _ := newAuthFixture(t)

	rec := postJSON(t, h.TokenAuth, "/admin/token", tokenAuthRequest{
		ServiceName: "ci-reporter",
		Token:       "svc-token-value",
	})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
}

func TestTokenAuthWrongToken(t *testing.T) {
	h, _ := newAuthFixture(t)

	rec := postJSON(t, h.TokenAuth, "/admin/token", tokenAuthRequest{
		ServiceName: "ci-reporter",
		Token:       "not-the-token",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
