package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"auditgate/internal/config"
	"auditgate/internal/models"
	"auditgate/internal/utils"
)

// Admin authentication types embedded in JWT claims.
const (
	AdminAuthTypeUser  = "user"
	AdminAuthTypeToken = "token"
)

const adminJWTLifetime = 12 * time.Hour

// AdminClaims is the decoded admin JWT payload.
type AdminClaims struct {
	AdminID  string   `json:"admin_id"`
	Subject  string   `json:"sub"`
	Roles    []string `json:"roles"`
	AuthType string   `json:"auth_type"`
	jwt.RegisteredClaims
}

// AdminStore resolves admin credentials. The storage package provides the
// database-backed implementation.
type AdminStore interface {
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	GetAdminTokenByServiceName(ctx context.Context, serviceName string) (*models.AdminToken, error)
	UpdateAdminUserLastLogin(ctx context.Context, id uuid.UUID) error
	UpdateAdminTokenLastUsed(ctx context.Context, id uuid.UUID) error
}

// GenerateAdminJWTWithPassword authenticates an operator by email/password
// and returns a signed session token plus its expiry (unix seconds).
func GenerateAdminJWTWithPassword(ctx context.Context, email, password string, store AdminStore, cfg *config.Config) (string, int64, error) {
	user, err := store.GetAdminUserByEmail(ctx, email)
	if err != nil {
		return "", 0, fmt.Errorf("invalid credentials")
	}
	if !user.IsValid() {
		return "", 0, fmt.Errorf("account disabled")
	}

	ok, err := utils.VerifyPasswordArgon2(password, user.PasswordHash)
	if err != nil || !ok {
		return "", 0, fmt.Errorf("invalid credentials")
	}

	_ = store.UpdateAdminUserLastLogin(ctx, user.ID)

	return signAdminJWT(user.ID.String(), user.Email, user.Roles, AdminAuthTypeUser, cfg)
}

// GenerateAdminJWTWithToken authenticates a service account by its
// long-lived token and returns a signed session token plus its expiry.
func GenerateAdminJWTWithToken(ctx context.Context, serviceName, token string, store AdminStore, cfg *config.Config) (string, int64, error) {
	rec, err := store.GetAdminTokenByServiceName(ctx, serviceName)
	if err != nil {
		return "", 0, fmt.Errorf("invalid credentials")
	}
	if !rec.IsValid() {
		return "", 0, fmt.Errorf("token disabled or expired")
	}
	if !utils.ConstantTimeEqual(utils.HashString(token), rec.TokenHash) {
		return "", 0, fmt.Errorf("invalid credentials")
	}

	_ = store.UpdateAdminTokenLastUsed(ctx, rec.ID)

	return signAdminJWT(rec.ID.String(), rec.ServiceName, rec.Roles, AdminAuthTypeToken, cfg)
}

func signAdminJWT(adminID, subject string, roles []string, authType string, cfg *config.Config) (string, int64, error) {
	expiresAt := time.Now().Add(adminJWTLifetime)

	claims := &AdminClaims{
		AdminID:  adminID,
		Subject:  subject,
		Roles:    roles,
		AuthType: authType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.JWTSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Unix(), nil
}

// ValidateAdminJWT verifies an admin session token and returns its claims.
func ValidateAdminJWT(tokenString string, cfg *config.Config) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
