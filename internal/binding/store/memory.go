package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/sentinel"
)

// InMemory stores bindings in memory for tests and the demo environment.
type InMemory struct {
	mu       sync.RWMutex
	bindings map[uuid.UUID]*models.TenantBinding
}

// NewInMemory creates an in-memory binding store.
func NewInMemory() *InMemory {
	return &InMemory{bindings: make(map[uuid.UUID]*models.TenantBinding)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Bind(_ context.Context, b *models.TenantBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ownRow *models.TenantBinding
	for _, existing := range s.bindings {
		if existing.Provider != b.Provider || existing.ExternalTenantID != b.ExternalTenantID {
			continue
		}
		if existing.Status == models.StatusActive && existing.OrgID != b.OrgID {
			return sentinel.ErrDuplicate
		}
		if existing.OrgID == b.OrgID {
			ownRow = existing
		}
	}

	if ownRow != nil {
		ownRow.Status = models.StatusActive
		ownRow.GrantID = b.GrantID
		ownRow.ExternalTenantName = b.ExternalTenantName
		ownRow.UpdatedAt = b.UpdatedAt
		*b = *ownRow.Clone()
		return nil
	}

	s.bindings[b.ID] = b.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.TenantBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *InMemory) FindActiveByExternalTenant(_ context.Context, provider, externalTenantID string) (*models.TenantBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bindings {
		if b.Provider == provider && b.ExternalTenantID == externalTenantID && b.Status == models.StatusActive {
			return b.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListByOrg(_ context.Context, orgID string) ([]*models.TenantBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TenantBinding
	for _, b := range s.bindings {
		if b.OrgID == orgID {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

func (s *InMemory) SetStatus(_ context.Context, id uuid.UUID, status models.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = now
	return nil
}

func (s *InMemory) CountActiveByGrant(_ context.Context, grantID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, b := range s.bindings {
		if b.GrantID == grantID && b.Status == models.StatusActive {
			count++
		}
	}
	return count, nil
}
