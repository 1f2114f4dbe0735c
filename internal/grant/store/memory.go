package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/grant/models"
	"ledgerbridge/internal/sentinel"
)

// InMemory stores grants in memory for tests and the demo environment.
type InMemory struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]*models.Grant
}

// NewInMemory creates an in-memory grant store.
func NewInMemory() *InMemory {
	return &InMemory{grants: make(map[uuid.UUID]*models.Grant)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Create(_ context.Context, g *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[g.ID]; exists {
		return sentinel.ErrDuplicate
	}
	s.grants[g.ID] = g.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *InMemory) ListRefreshCandidates(_ context.Context, orgID string, expiringBefore, issuedBefore time.Time) ([]*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Grant
	for _, g := range s.grants {
		if g.Status != models.StatusActive {
			continue
		}
		if orgID != "" && g.OrgID != orgID {
			continue
		}
		if g.ExpiresAt.Before(expiringBefore) || (!g.RefreshTokenIssuedAt.IsZero() && g.RefreshTokenIssuedAt.Before(issuedBefore)) {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (s *InMemory) UpdateTokens(_ context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt, refreshIssuedAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	g.AccessTokenEnc = accessEnc
	g.RefreshTokenEnc = refreshEnc
	g.ExpiresAt = expiresAt
	g.RefreshTokenIssuedAt = refreshIssuedAt
	g.Status = models.StatusActive
	g.RefreshLeaseUntil = time.Time{}
	g.UpdatedAt = now
	return nil
}

func (s *InMemory) SetStatus(_ context.Context, id uuid.UUID, status models.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	g.Status = status
	g.UpdatedAt = now
	return nil
}

func (s *InMemory) Tombstone(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	g.Status = models.StatusRevoked
	g.AccessTokenEnc = models.Tombstone
	g.RefreshTokenEnc = models.Tombstone
	g.RefreshLeaseUntil = time.Time{}
	g.UpdatedAt = now
	return nil
}

func (s *InMemory) TouchLastUsed(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	g.LastUsedAt = now
	return nil
}

func (s *InMemory) ClaimRefreshLease(_ context.Context, id uuid.UUID, until, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if !g.RefreshLeaseUntil.IsZero() && g.RefreshLeaseUntil.After(now) {
		return false, nil
	}
	g.RefreshLeaseUntil = until
	return true, nil
}

func (s *InMemory) ReleaseRefreshLease(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	g.RefreshLeaseUntil = time.Time{}
	return nil
}
