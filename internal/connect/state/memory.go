package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/sentinel"
)

// InMemory is a TTL map for single-replica deployments and tests.
type InMemory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	auths map[string]authEntry
	conns map[uuid.UUID]connEntry
}

type authEntry struct {
	auth      PendingAuth
	expiresAt time.Time
}

type connEntry struct {
	conn      PendingConnection
	expiresAt time.Time
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*InMemory)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *InMemory) { s.ttl = ttl }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemory) { s.now = now }
}

// NewInMemory constructs an empty in-memory state store.
func NewInMemory(opts ...MemoryOption) *InMemory {
	s := &InMemory{
		ttl:   DefaultTTL,
		now:   time.Now,
		auths: make(map[string]authEntry),
		conns: make(map[uuid.UUID]connEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) SaveAuth(_ context.Context, stateToken string, a *PendingAuth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.auths[stateToken] = authEntry{auth: *a, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemory) ConsumeAuth(_ context.Context, stateToken string) (*PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.auths[stateToken]
	if !ok || s.now().After(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	delete(s.auths, stateToken)
	a := e.auth
	return &a, nil
}

func (s *InMemory) SaveConnection(_ context.Context, c *PendingConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.conns[c.ID] = connEntry{conn: *c, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemory) Connection(_ context.Context, id uuid.UUID) (*PendingConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conns[id]
	if !ok || s.now().After(e.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	c := e.conn
	return &c, nil
}

// sweep drops expired entries. Called under the lock on writes so the maps
// cannot grow unbounded from abandoned flows.
func (s *InMemory) sweep() {
	now := s.now()
	for k, e := range s.auths {
		if now.After(e.expiresAt) {
			delete(s.auths, k)
		}
	}
	for k, e := range s.conns {
		if now.After(e.expiresAt) {
			delete(s.conns, k)
		}
	}
}
