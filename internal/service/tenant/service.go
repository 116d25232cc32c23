// Package tenant fronts the tenant configuration table with a short-lived
// cache so every dispatch sweep does not re-read limits and credentials for
// every tenant.
package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
)

const (
	defaultTTL      = 2 * time.Minute
	cleanupInterval = 10 * time.Minute
)

type Service struct {
	repo  repository.TenantRepository
	cache *cache.Cache
}

func NewService(repo repository.TenantRepository) *Service {
	return &Service{
		repo:  repo,
		cache: cache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns the tenant, nil when unknown.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	key := id.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Tenant), nil
	}

	tenant, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant != nil {
		s.cache.Set(key, tenant, cache.DefaultExpiration)
	}
	return tenant, nil
}

// Invalidate drops a tenant from the cache, for use after config updates.
func (s *Service) Invalidate(id uuid.UUID) {
	s.cache.Delete(id.String())
}
