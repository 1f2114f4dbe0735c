package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the grant lifecycle state.
type Status string

const (
	// StatusActive: tokens are usable (possibly pending a refresh).
	StatusActive Status = "active"
	// StatusRefreshFailed: the refresh token was rejected upstream; only a
	// new user authorization recovers the grant.
	StatusRefreshFailed Status = "refresh_failed"
	// StatusRevoked: disconnected; token material has been tombstoned.
	StatusRevoked Status = "revoked"
)

// Tombstone replaces token columns when a grant is revoked. The row is kept
// for audit but the secrets are unrecoverable.
const Tombstone = "revoked"

// Grant is one OAuth credential set obtained from an authorization. It is
// owned by the organization that authorized it and may back zero or more
// tenant bindings. Token columns hold cipher envelopes, never plaintext.
type Grant struct {
	ID     uuid.UUID
	OrgID  string
	Status Status

	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
	Scope           string
	AuthEventID     string

	// RefreshTokenIssuedAt drives the proactive rotation policy: refresh
	// tokens older than the configured ceiling are rotated even while the
	// access token is still fresh.
	RefreshTokenIssuedAt time.Time

	// RefreshLeaseUntil is the conditional-claim lease that serializes
	// refresh across replicas. Zero means unclaimed.
	RefreshLeaseUntil time.Time

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt time.Time
}

// NeedsRefresh reports whether the access token is within the skew window of
// expiry, or the refresh token has outlived the rotation ceiling.
func (g *Grant) NeedsRefresh(now time.Time, skew, refreshMaxAge time.Duration) bool {
	if !now.Before(g.ExpiresAt.Add(-skew)) {
		return true
	}
	if refreshMaxAge > 0 && !g.RefreshTokenIssuedAt.IsZero() && now.Sub(g.RefreshTokenIssuedAt) > refreshMaxAge {
		return true
	}
	return false
}

// Clone returns a deep copy; the memory store hands out clones so callers
// cannot mutate shared state.
func (g *Grant) Clone() *Grant {
	c := *g
	return &c
}
