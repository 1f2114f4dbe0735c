// Package state holds the short-lived artifacts of an in-flight OAuth
// connection: the anti-forgery state minted at the start of the flow and the
// pending connection (grant + offered tenants) between callback and tenant
// selection. Everything here expires; nothing is authoritative.
package state

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/provider/xero"
)

// DefaultTTL bounds how long a started flow stays claimable.
const DefaultTTL = 10 * time.Minute

// PendingAuth ties a minted state token to the organization that started
// the flow.
type PendingAuth struct {
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingConnection is a successful callback awaiting tenant selection.
type PendingConnection struct {
	ID        uuid.UUID     `json:"id"`
	OrgID     string        `json:"org_id"`
	GrantID   uuid.UUID     `json:"grant_id"`
	Tenants   []xero.Tenant `json:"tenants"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store keeps pending auth states and connections with a TTL.
// ConsumeAuth is one-shot: a state token never verifies twice. Both lookups
// return sentinel.ErrNotFound for missing or expired entries.
type Store interface {
	SaveAuth(ctx context.Context, stateToken string, a *PendingAuth) error
	ConsumeAuth(ctx context.Context, stateToken string) (*PendingAuth, error)
	SaveConnection(ctx context.Context, c *PendingConnection) error
	Connection(ctx context.Context, id uuid.UUID) (*PendingConnection, error)
}
