// Package store persists grants. Memory and PostgreSQL implementations share
// the same contract; stores return sentinel errors and leave domain error
// translation to the service layer.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/grant/models"
)

// Store is the grant persistence contract. Only the token service mutates
// token material; binding flows go through Tombstone and SetStatus.
type Store interface {
	Create(ctx context.Context, g *models.Grant) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Grant, error)

	// ListRefreshCandidates returns active grants whose access token expires
	// before expiringBefore or whose refresh token was issued before
	// issuedBefore (rotation policy).
	ListRefreshCandidates(ctx context.Context, orgID string, expiringBefore, issuedBefore time.Time) ([]*models.Grant, error)

	// UpdateTokens persists a successful refresh: new envelopes, new expiry,
	// status back to active, lease cleared.
	UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt, refreshIssuedAt, now time.Time) error

	SetStatus(ctx context.Context, id uuid.UUID, status models.Status, now time.Time) error

	// Tombstone marks the grant revoked and overwrites token columns so the
	// secrets are unrecoverable at rest. The row remains for audit.
	Tombstone(ctx context.Context, id uuid.UUID, now time.Time) error

	TouchLastUsed(ctx context.Context, id uuid.UUID, now time.Time) error

	// ClaimRefreshLease atomically claims the per-grant refresh lease when it
	// is unclaimed or expired. Returns false when another caller holds it.
	ClaimRefreshLease(ctx context.Context, id uuid.UUID, until, now time.Time) (bool, error)

	// ReleaseRefreshLease clears the lease after a failed refresh so the next
	// caller may retry; successful refreshes clear it via UpdateTokens.
	ReleaseRefreshLease(ctx context.Context, id uuid.UUID) error
}
