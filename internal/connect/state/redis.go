package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ledgerbridge/internal/sentinel"
)

// RedisStore keeps pending state in Redis so the callback can land on a
// different replica than the one that started the flow. Expiry is delegated
// to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures the Redis store.
type RedisOption func(*RedisStore)

// WithRedisTTL overrides the entry lifetime.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedis constructs a Redis-backed state store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*RedisStore)(nil)

func authKey(stateToken string) string {
	return "connect:auth:" + stateToken
}

func connKey(id uuid.UUID) string {
	return "connect:conn:" + id.String()
}

func (s *RedisStore) SaveAuth(ctx context.Context, stateToken string, a *PendingAuth) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal pending auth: %w", err)
	}
	if err := s.client.Set(ctx, authKey(stateToken), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save pending auth: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeAuth(ctx context.Context, stateToken string) (*PendingAuth, error) {
	// GETDEL makes consumption atomic: two callbacks racing on the same
	// state token can never both verify.
	payload, err := s.client.GetDel(ctx, authKey(stateToken)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume pending auth: %w", err)
	}
	var a PendingAuth
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("unmarshal pending auth: %w", err)
	}
	return &a, nil
}

func (s *RedisStore) SaveConnection(ctx context.Context, c *PendingConnection) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal pending connection: %w", err)
	}
	if err := s.client.Set(ctx, connKey(c.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save pending connection: %w", err)
	}
	return nil
}

func (s *RedisStore) Connection(ctx context.Context, id uuid.UUID) (*PendingConnection, error) {
	payload, err := s.client.Get(ctx, connKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending connection: %w", err)
	}
	var c PendingConnection
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal pending connection: %w", err)
	}
	return &c, nil
}
