// Package service orchestrates the tenant binding lifecycle: selection after
// OAuth, read-time status computation, and disconnect with grant orphan
// handling. Only these flows mutate binding status.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/binding/store"
	grantmodels "ledgerbridge/internal/grant/models"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/sentinel"
	dErrors "ledgerbridge/pkg/domain-errors"
)

// GrantService is the slice of the token service the binding lifecycle needs.
type GrantService interface {
	Grant(ctx context.Context, grantID uuid.UUID) (*grantmodels.Grant, error)
	MarkRevoked(ctx context.Context, grantID uuid.UUID) error
	DecryptRefreshToken(g *grantmodels.Grant) (string, error)
}

// TokenRevoker revokes a refresh token upstream, best-effort.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, token string) error
}

// BindingService manages tenant binding state transitions.
type BindingService struct {
	bindings store.Store
	grants   GrantService
	revoker  TokenRevoker
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the BindingService.
type Option func(*BindingService)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BindingService) { s.logger = logger }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *BindingService) { s.now = now }
}

// New constructs a BindingService.
func New(bindings store.Store, grants GrantService, revoker TokenRevoker, opts ...Option) *BindingService {
	s := &BindingService{
		bindings: bindings,
		grants:   grants,
		revoker:  revoker,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Bind assigns an external tenant to the organization, backed by the given
// grant. The grant must belong to the same organization. A pair actively
// owned by a different organization yields a conflict with no mutation.
func (s *BindingService) Bind(ctx context.Context, orgID string, grantID uuid.UUID, tenant xero.Tenant) (*models.TenantBinding, error) {
	g, err := s.grants.Grant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.OrgID != orgID {
		return nil, dErrors.New(dErrors.CodeNotFound, "grant not found")
	}
	if g.Status != grantmodels.StatusActive {
		return nil, dErrors.New(dErrors.CodeNeedsReauth, "grant requires reauthorization")
	}

	now := s.now().UTC()
	b := &models.TenantBinding{
		ID:                 uuid.New(),
		OrgID:              orgID,
		Provider:           xero.Provider,
		ExternalTenantID:   tenant.TenantID,
		ExternalTenantName: tenant.TenantName,
		GrantID:            grantID,
		Status:             models.StatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.bindings.Bind(ctx, b); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.New(dErrors.CodeConflict, "tenant is already connected to another organization")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not bind tenant")
	}

	s.logger.InfoContext(ctx, "tenant bound",
		"binding_id", b.ID,
		"org_id", orgID,
		"external_tenant_id", tenant.TenantID,
	)
	return b, nil
}

// View is a binding with its read-time effective status.
type View struct {
	Binding *models.TenantBinding
	Status  models.EffectiveStatus
}

// List returns the organization's bindings with needs_reauth computed from
// each backing grant, so UI state never drifts from grant state.
func (s *BindingService) List(ctx context.Context, orgID string) ([]View, error) {
	bindings, err := s.bindings.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not list bindings")
	}

	views := make([]View, 0, len(bindings))
	for _, b := range bindings {
		status := models.EffectiveRevoked
		if b.Status == models.StatusActive {
			g, err := s.grants.Grant(ctx, b.GrantID)
			if err != nil {
				return nil, err
			}
			status = b.Effective(g.Status)
		}
		views = append(views, View{Binding: b, Status: status})
	}
	return views, nil
}

// Get loads one binding scoped to the organization.
func (s *BindingService) Get(ctx context.Context, orgID string, bindingID uuid.UUID) (*models.TenantBinding, error) {
	b, err := s.bindings.FindByID(ctx, bindingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "binding not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load binding")
	}
	if b.OrgID != orgID {
		return nil, dErrors.New(dErrors.CodeNotFound, "binding not found")
	}
	return b, nil
}

// ResolveActive resolves the active binding for an external tenant id, used
// by the webhook path. Missing bindings are a NotFound the caller skips over.
func (s *BindingService) ResolveActive(ctx context.Context, provider, externalTenantID string) (*models.TenantBinding, error) {
	b, err := s.bindings.FindActiveByExternalTenant(ctx, provider, externalTenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no active binding for tenant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not resolve binding")
	}
	return b, nil
}

// Disconnect revokes the binding. When it was the last active binding on its
// grant, the grant is revoked too: the upstream token best-effort revoked and
// the stored material tombstoned. Disconnecting an already revoked binding is
// a no-op.
func (s *BindingService) Disconnect(ctx context.Context, orgID string, bindingID uuid.UUID) error {
	b, err := s.Get(ctx, orgID, bindingID)
	if err != nil {
		return err
	}
	if b.Status == models.StatusRevoked {
		return nil
	}

	if err := s.bindings.SetStatus(ctx, bindingID, models.StatusRevoked, s.now().UTC()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not revoke binding")
	}
	s.logger.InfoContext(ctx, "binding revoked", "binding_id", bindingID, "org_id", orgID)

	remaining, err := s.bindings.CountActiveByGrant(ctx, b.GrantID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not count grant bindings")
	}
	if remaining > 0 {
		return nil
	}

	// Orphaned grant: revoke upstream before the tombstone erases the token.
	g, err := s.grants.Grant(ctx, b.GrantID)
	if err != nil {
		return err
	}
	if refreshToken, decErr := s.grants.DecryptRefreshToken(g); decErr != nil {
		s.logger.WarnContext(ctx, "could not decrypt refresh token for revocation",
			"grant_id", g.ID, "error", decErr)
	} else if revErr := s.revoker.RevokeToken(ctx, refreshToken); revErr != nil {
		// Best-effort by contract; local state still transitions.
		s.logger.WarnContext(ctx, "upstream token revocation failed",
			"grant_id", g.ID, "error", revErr)
	}

	if err := s.grants.MarkRevoked(ctx, g.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "orphaned grant revoked", "grant_id", g.ID)
	return nil
}
