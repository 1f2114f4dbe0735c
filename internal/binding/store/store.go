// Package store persists tenant bindings. The one-owner invariant for a
// (provider, externalTenantId) pair is enforced at the storage layer with a
// true uniqueness constraint, never read-then-write application logic: two
// concurrent selections of the same tenant must not both win.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/binding/models"
)

// Store is the tenant binding persistence contract.
type Store interface {
	// Bind atomically creates an active binding, or reactivates/repoints an
	// existing binding owned by the same organization. Returns
	// sentinel.ErrDuplicate when the pair is actively bound to a different
	// organization.
	Bind(ctx context.Context, b *models.TenantBinding) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.TenantBinding, error)

	// FindActiveByExternalTenant resolves the active binding for a webhook's
	// external tenant id.
	FindActiveByExternalTenant(ctx context.Context, provider, externalTenantID string) (*models.TenantBinding, error)

	ListByOrg(ctx context.Context, orgID string) ([]*models.TenantBinding, error)

	SetStatus(ctx context.Context, id uuid.UUID, status models.Status, now time.Time) error

	// CountActiveByGrant reports how many active bindings still reference the
	// grant; zero after a disconnect means the grant is orphaned.
	CountActiveByGrant(ctx context.Context, grantID uuid.UUID) (int, error)
}
