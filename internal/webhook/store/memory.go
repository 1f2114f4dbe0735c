package store

import (
	"context"
	"sync"

	"ledgerbridge/internal/sentinel"
	"ledgerbridge/internal/webhook/models"
)

// InMemory is a map-backed event store for tests and local runs.
type InMemory struct {
	mu   sync.Mutex
	seen map[string]*models.ReceivedEvent
}

// NewInMemory constructs an empty in-memory event store.
func NewInMemory() *InMemory {
	return &InMemory{seen: make(map[string]*models.ReceivedEvent)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Insert(_ context.Context, e *models.ReceivedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[e.EventID]; ok {
		return sentinel.ErrDuplicate
	}
	c := *e
	s.seen[e.EventID] = &c
	return nil
}
