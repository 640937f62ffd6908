package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"auditgate/internal/models"
	"auditgate/internal/storage"
	"auditgate/internal/utils"
)

// ErrProviderNotRegistered means no active provider matches the model's
// provider ID.
var ErrProviderNotRegistered = errors.New("provider not registered")

// Registry holds one live Provider per active database record, keyed by
// provider ID. Reload swaps the whole set after admin changes.
type Registry struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]Provider

	repo       *storage.ProviderRepository
	encryption *storage.Encryption
	logger     *utils.Logger
}

// NewRegistry creates an empty registry; call Reload to populate it.
func NewRegistry(repo *storage.ProviderRepository, encryption *storage.Encryption) *Registry {
	return &Registry{
		providers:  make(map[uuid.UUID]Provider),
		repo:       repo,
		encryption: encryption,
		logger:     utils.NewLogger("registry"),
	}
}

// Reload rebuilds the provider set from the database. Providers whose
// credentials fail to decrypt are skipped with a log line rather than
// taking down the rest.
func (r *Registry) Reload(ctx context.Context) error {
	records, err := r.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}

	next := make(map[uuid.UUID]Provider, len(records))
	for _, rec := range records {
		apiKey, err := r.encryption.DecryptString(rec.EncryptedAPIKey)
		if err != nil {
			r.logger.Error("Skipping provider with undecryptable credential",
				"provider", rec.Name, "error", err)
			continue
		}
		next[rec.ID] = NewOpenAIProvider(rec, apiKey)
	}

	r.mu.Lock()
	old := r.providers
	r.providers = next
	r.mu.Unlock()

	for _, p := range old {
		p.Close() //nolint:errcheck
	}

	r.logger.Info("Provider registry reloaded", "count", len(next))
	return nil
}

// Get returns the provider with the given ID.
func (r *Registry) Get(providerID uuid.UUID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerID]
	if !ok {
		return nil, ErrProviderNotRegistered
	}
	return p, nil
}

// ForModel returns the provider serving the given model.
func (r *Registry) ForModel(model *models.AIModel) (Provider, error) {
	return r.Get(model.ProviderID)
}

// Close shuts down every provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.providers {
		p.Close() //nolint:errcheck
	}
	r.providers = make(map[uuid.UUID]Provider)
	return nil
}
