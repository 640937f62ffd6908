package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"auditgate/internal/auth"
	"auditgate/internal/models"
)

// Directory adapts the repositories to the resolver's and the admin
// authenticator's interfaces, translating storage sentinels into the
// errors the auth package expects.
type Directory struct {
	quotas      *QuotaRepository
	users       *UserRepository
	groups      *GroupRepository
	adminUsers  *AdminUserRepository
	adminTokens *AdminTokenRepository
}

// NewDirectory creates a directory over the given database.
func NewDirectory(db *DB) *Directory {
	return &Directory{
		quotas:      NewQuotaRepository(db),
		users:       NewUserRepository(db),
		groups:      NewGroupRepository(db),
		adminUsers:  NewAdminUserRepository(db),
		adminTokens: NewAdminTokenRepository(db),
	}
}

// GetQuotaByKeyHash implements auth.Directory.
func (d *Directory) GetQuotaByKeyHash(ctx context.Context, keyHash string) (*models.Quota, error) {
	quota, err := d.quotas.GetByKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, ErrQuotaNotFound) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, err
	}
	return quota, nil
}

// GetUser implements auth.Directory.
func (d *Directory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return d.users.GetByID(ctx, id)
}

// GetModelGroup implements auth.Directory.
func (d *Directory) GetModelGroup(ctx context.Context, id uuid.UUID) (*models.ModelGroup, error) {
	return d.groups.GetByID(ctx, id)
}

// GetGroupModels implements auth.Directory.
func (d *Directory) GetGroupModels(ctx context.Context, groupID uuid.UUID) ([]*models.AIModel, error) {
	return d.groups.GetGroupModels(ctx, groupID)
}

// GetAdminUserByEmail implements auth.AdminStore.
func (d *Directory) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	return d.adminUsers.GetByEmail(ctx, email)
}

// GetAdminTokenByServiceName implements auth.AdminStore.
func (d *Directory) GetAdminTokenByServiceName(ctx context.Context, serviceName string) (*models.AdminToken, error) {
	return d.adminTokens.GetByServiceName(ctx, serviceName)
}

// UpdateAdminUserLastLogin implements auth.AdminStore.
func (d *Directory) UpdateAdminUserLastLogin(ctx context.Context, id uuid.UUID) error {
	return d.adminUsers.UpdateLastLogin(ctx, id)
}

// UpdateAdminTokenLastUsed implements auth.AdminStore.
func (d *Directory) UpdateAdminTokenLastUsed(ctx context.Context, id uuid.UUID) error {
	return d.adminTokens.UpdateLastUsed(ctx, id)
}

var (
	_ auth.Directory  = (*Directory)(nil)
	_ auth.AdminStore = (*Directory)(nil)
)
