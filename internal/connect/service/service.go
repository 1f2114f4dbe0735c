// Package service drives the OAuth connect flow: start, callback, and
// tenant selection. It owns no token material; grants are created through
// the token service and bindings through the binding service.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	bindingmodels "ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/connect/state"
	grantmodels "ledgerbridge/internal/grant/models"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/sentinel"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/secrets"
)

// OAuthAdapter is the slice of the provider adapter the connect flow needs.
type OAuthAdapter interface {
	AuthorizationURL(stateToken string, scopes []string) string
	ExchangeCode(ctx context.Context, code string) (*xero.TokenSet, error)
	ListTenants(ctx context.Context, accessToken string) ([]xero.Tenant, error)
}

// GrantCreator persists exchanged token sets.
type GrantCreator interface {
	CreateGrant(ctx context.Context, orgID string, ts *xero.TokenSet) (*grantmodels.Grant, error)
}

// Binder assigns a selected tenant to the organization.
type Binder interface {
	Bind(ctx context.Context, orgID string, grantID uuid.UUID, tenant xero.Tenant) (*bindingmodels.TenantBinding, error)
}

// ConnectService orchestrates the authorization flow.
type ConnectService struct {
	adapter  OAuthAdapter
	tokens   GrantCreator
	bindings Binder
	states   state.Store
	scopes   []string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the ConnectService.
type Option func(*ConnectService)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ConnectService) { s.logger = logger }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ConnectService) { s.now = now }
}

// New constructs a ConnectService requesting the given scopes.
func New(adapter OAuthAdapter, tokens GrantCreator, bindings Binder, states state.Store, scopes []string, opts ...Option) *ConnectService {
	s := &ConnectService{
		adapter:  adapter,
		tokens:   tokens,
		bindings: bindings,
		states:   states,
		scopes:   scopes,
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

// Start mints an unguessable state token for the organization and returns
// the provider authorize URL to redirect to.
func (s *ConnectService) Start(ctx context.Context, orgID string) (authorizeURL, stateToken string, err error) {
	stateToken, err = secrets.GenerateState()
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate state")
	}

	err = s.states.SaveAuth(ctx, stateToken, &state.PendingAuth{
		OrgID:     orgID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "could not save pending authorization")
	}

	s.logger.InfoContext(ctx, "oauth flow started", "org_id", orgID)
	return s.adapter.AuthorizationURL(stateToken, s.scopes), stateToken, nil
}

// Callback verifies the returned state, exchanges the code, persists the
// grant, and lists the tenants the authorization covers. The result is a
// pending connection the caller completes via Select.
func (s *ConnectService) Callback(ctx context.Context, stateToken, code string) (*state.PendingConnection, error) {
	auth, err := s.states.ConsumeAuth(ctx, stateToken)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired state")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not verify state")
	}

	ts, err := s.adapter.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	g, err := s.tokens.CreateGrant(ctx, auth.OrgID, ts)
	if err != nil {
		return nil, err
	}

	tenants, err := s.adapter.ListTenants(ctx, ts.AccessToken)
	if err != nil {
		return nil, err
	}

	conn := &state.PendingConnection{
		ID:        uuid.New(),
		OrgID:     auth.OrgID,
		GrantID:   g.ID,
		Tenants:   tenants,
		CreatedAt: s.now().UTC(),
	}
	if err := s.states.SaveConnection(ctx, conn); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not save pending connection")
	}

	s.logger.InfoContext(ctx, "oauth callback completed",
		"org_id", auth.OrgID,
		"grant_id", g.ID,
		"tenants", len(tenants),
	)
	return conn, nil
}

// Select binds one of the offered tenants to the organization. The pending
// connection stays valid until its TTL, so several tenants from the same
// authorization can be bound one by one.
func (s *ConnectService) Select(ctx context.Context, orgID string, connectionID uuid.UUID, tenantID string) (*bindingmodels.TenantBinding, error) {
	conn, err := s.states.Connection(ctx, connectionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "connection not found or expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load pending connection")
	}
	if conn.OrgID != orgID {
		return nil, dErrors.New(dErrors.CodeNotFound, "connection not found or expired")
	}

	var tenant *xero.Tenant
	for i := range conn.Tenants {
		if conn.Tenants[i].TenantID == tenantID {
			tenant = &conn.Tenants[i]
			break
		}
	}
	if tenant == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant was not part of this authorization")
	}

	return s.bindings.Bind(ctx, orgID, conn.GrantID, *tenant)
}
