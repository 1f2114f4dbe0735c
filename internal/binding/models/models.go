package models

import (
	"time"

	"github.com/google/uuid"

	grantmodels "ledgerbridge/internal/grant/models"
)

// Status is the stored binding state. needs_reauth is deliberately absent:
// it is computed from the backing grant at read time so the two rows cannot
// drift apart.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// EffectiveStatus is the read-time state surfaced to callers.
type EffectiveStatus string

const (
	EffectiveActive      EffectiveStatus = "active"
	EffectiveNeedsReauth EffectiveStatus = "needs_reauth"
	EffectiveRevoked     EffectiveStatus = "revoked"
)

// TenantBinding assigns one external accounting tenant to one owning
// organization, backed by a grant. A (provider, externalTenantId) pair
// belongs to at most one organization at a time; rows are never hard-deleted.
type TenantBinding struct {
	ID                 uuid.UUID
	OrgID              string
	Provider           string
	ExternalTenantID   string
	ExternalTenantName string
	GrantID            uuid.UUID
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Effective computes the surfaced status from the binding row and its grant.
func (b *TenantBinding) Effective(grantStatus grantmodels.Status) EffectiveStatus {
	if b.Status == StatusRevoked {
		return EffectiveRevoked
	}
	if grantStatus != grantmodels.StatusActive {
		return EffectiveNeedsReauth
	}
	return EffectiveActive
}

// Clone returns a deep copy for the memory store.
func (b *TenantBinding) Clone() *TenantBinding {
	c := *b
	return &c
}
