package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"auditgate/internal/models"
)

// QuotaContext is the view of a caller needed at request time: the quota,
// its owner and group, and the servable models reachable under the key,
// indexed by their caller-facing name.
type QuotaContext struct {
	Quota  *models.Quota
	User   *models.User
	Group  *models.ModelGroup
	Models map[string]*models.AIModel

	ResolvedAt time.Time
}

// Model returns the servable model with the given caller-facing name.
func (qc *QuotaContext) Model(name string) (*models.AIModel, bool) {
	m, ok := qc.Models[name]
	return m, ok
}

// Directory is the read-only lookup surface the resolver needs. The storage
// package provides the database-backed implementation.
type Directory interface {
	GetQuotaByKeyHash(ctx context.Context, keyHash string) (*models.Quota, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetModelGroup(ctx context.Context, id uuid.UUID) (*models.ModelGroup, error)
	// GetGroupModels returns the servable members of a group.
	GetGroupModels(ctx context.Context, groupID uuid.UUID) ([]*models.AIModel, error)
}

// Resolver maps an inbound API key to a QuotaContext. Read-only; it never
// mutates any state.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve authenticates a plaintext API key. The key is hashed and the hash
// looked up, so no comparison ever runs against the plaintext and lookup
// time does not depend on how much of the key matches.
func (r *Resolver) Resolve(ctx context.Context, plaintextKey string) (*QuotaContext, error) {
	quota, err := r.dir.GetQuotaByKeyHash(ctx, HashAPIKey(plaintextKey))
	if err != nil {
		return nil, err
	}

	if !quota.IsUsable() {
		return nil, ErrQuotaDisabled
	}

	user, err := r.dir.GetUser(ctx, quota.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	group, err := r.dir.GetModelGroup(ctx, quota.ModelGroupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActive {
		return nil, ErrGroupDisabled
	}

	members, err := r.dir.GetGroupModels(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*models.AIModel, len(members))
	for _, m := range members {
		if m.IsServable() {
			byName[m.Name] = m
		}
	}

	return &QuotaContext{
		Quota:      quota,
		User:       user,
		Group:      group,
		Models:     byName,
		ResolvedAt: time.Now(),
	}, nil
}

// InMemoryDirectory is a Directory backed by maps, useful for tests and
// standalone mode.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	quotas map[string]*models.Quota // key hash -> quota
	users  map[uuid.UUID]*models.User
	groups map[uuid.UUID]*models.ModelGroup
	byGrp  map[uuid.UUID][]*models.AIModel
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		quotas: make(map[string]*models.Quota),
		users:  make(map[uuid.UUID]*models.User),
		groups: make(map[uuid.UUID]*models.ModelGroup),
		byGrp:  make(map[uuid.UUID][]*models.AIModel),
	}
}

// AddQuota registers a quota together with its owner, group and models.
func (d *InMemoryDirectory) AddQuota(q *models.Quota, u *models.User, g *models.ModelGroup, ms ...*models.AIModel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quotas[q.KeyHash] = q
	d.users[u.ID] = u
	d.groups[g.ID] = g
	d.byGrp[g.ID] = append(d.byGrp[g.ID], ms...)
}

func (d *InMemoryDirectory) GetQuotaByKeyHash(ctx context.Context, keyHash string) (*models.Quota, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	q, ok := d.quotas[keyHash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return q, nil
}

func (d *InMemoryDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return u, nil
}

func (d *InMemoryDirectory) GetModelGroup(ctx context.Context, id uuid.UUID) (*models.ModelGroup, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return g, nil
}

func (d *InMemoryDirectory) GetGroupModels(ctx context.Context, groupID uuid.UUID) ([]*models.AIModel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byGrp[groupID], nil
}
