// Package service implements the token service: the single choke point
// through which callers obtain a live, authenticated provider client for a
// tenant binding. Only this package mutates grant token material.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	grantmetrics "ledgerbridge/internal/grant/metrics"
	"ledgerbridge/internal/grant/models"
	"ledgerbridge/internal/grant/store"
	"ledgerbridge/internal/platform/tracer"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/sentinel"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/secrets"
)

// OAuthAdapter is the slice of the provider adapter the token service needs.
type OAuthAdapter interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*xero.TokenSet, error)
	Client(accessToken, tenantID string) *xero.Client
}

// TokenService refreshes and serves grant credentials.
type TokenService struct {
	grants  store.Store
	adapter OAuthAdapter
	cipher  *secrets.Cipher

	skew          time.Duration
	refreshMaxAge time.Duration
	leaseTTL      time.Duration

	// sf collapses concurrent refreshes of the same grant in-process; the
	// store lease covers concurrent replicas.
	sf      singleflight.Group
	logger  *slog.Logger
	metrics *grantmetrics.Metrics
	tracer  *tracer.Tracer
	now     func() time.Time
}

// New constructs a TokenService.
func New(grants store.Store, adapter OAuthAdapter, cipher *secrets.Cipher, opts ...Option) *TokenService {
	s := &TokenService{
		grants:        grants,
		adapter:       adapter,
		cipher:        cipher,
		skew:          10 * time.Minute,
		refreshMaxAge: 50 * 24 * time.Hour,
		leaseTTL:      30 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = tracer.New()
	}
	return s
}

// CreateGrant encrypts and persists a freshly exchanged token set. Used by
// the connect flow after a successful authorization-code exchange.
func (s *TokenService) CreateGrant(ctx context.Context, orgID string, ts *xero.TokenSet) (*models.Grant, error) {
	accessEnc, err := s.cipher.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not encrypt access token")
	}
	refreshEnc, err := s.cipher.Encrypt(ts.RefreshToken)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not encrypt refresh token")
	}

	now := s.now().UTC()
	g := &models.Grant{
		ID:                   uuid.New(),
		OrgID:                orgID,
		Status:               models.StatusActive,
		AccessTokenEnc:       accessEnc,
		RefreshTokenEnc:      refreshEnc,
		ExpiresAt:            ts.ExpiresAt(now),
		Scope:                ts.Scope,
		AuthEventID:          ts.AuthEventID,
		RefreshTokenIssuedAt: now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.grants.Create(ctx, g); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not persist grant")
	}
	return g, nil
}

// Grant loads a grant by id, translating store sentinels.
func (s *TokenService) Grant(ctx context.Context, grantID uuid.UUID) (*models.Grant, error) {
	g, err := s.grants.FindByID(ctx, grantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "grant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load grant")
	}
	return g, nil
}

// ClientFor returns an authenticated provider client for the given grant,
// scoped to the external tenant, refreshing the tokens first when the grant
// is near expiry or overdue for rotation.
func (s *TokenService) ClientFor(ctx context.Context, grantID uuid.UUID, externalTenantID string) (*xero.Client, error) {
	g, err := s.Grant(ctx, grantID)
	if err != nil {
		return nil, err
	}

	switch g.Status {
	case models.StatusRevoked:
		return nil, dErrors.New(dErrors.CodeNeedsReauth, "grant has been revoked")
	case models.StatusRefreshFailed:
		return nil, dErrors.New(dErrors.CodeNeedsReauth, "grant requires reauthorization")
	}

	now := s.now().UTC()
	if g.NeedsRefresh(now, s.skew, s.refreshMaxAge) {
		g, err = s.refresh(ctx, g.ID)
		if err != nil {
			return nil, err
		}
	}

	accessToken, err := s.cipher.Decrypt(g.AccessTokenEnc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not decrypt access token")
	}

	if err := s.grants.TouchLastUsed(ctx, g.ID, s.now().UTC()); err != nil {
		// Usage bookkeeping must not fail the caller.
		s.logger.WarnContext(ctx, "failed to record grant usage", "grant_id", g.ID, "error", err)
	}

	return s.adapter.Client(accessToken, externalTenantID), nil
}

// refresh rotates the grant's tokens. Exactly one caller per grant does the
// upstream round trip: in-process via singleflight, across replicas via the
// store lease.
func (s *TokenService) refresh(ctx context.Context, grantID uuid.UUID) (*models.Grant, error) {
	v, err, _ := s.sf.Do(grantID.String(), func() (any, error) {
		return s.refreshLocked(ctx, grantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Grant), nil
}

func (s *TokenService) refreshLocked(ctx context.Context, grantID uuid.UUID) (g *models.Grant, err error) {
	ctx, span := s.tracer.Start(ctx, "grant.refresh", "grant_id", grantID.String())
	defer func() { span.End(err) }()
	start := s.now()

	now := start.UTC()
	claimed, err := s.grants.ClaimRefreshLease(ctx, grantID, now.Add(s.leaseTTL), now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not claim refresh lease")
	}
	if !claimed {
		// Another replica is refreshing. Reload: if it already finished the
		// grant is fresh and usable; otherwise the caller retries shortly.
		g, err := s.Grant(ctx, grantID)
		if err != nil {
			return nil, err
		}
		if g.Status == models.StatusActive && !g.NeedsRefresh(now, s.skew, s.refreshMaxAge) {
			return g, nil
		}
		return nil, dErrors.New(dErrors.CodeUnavailable, "token refresh in progress")
	}

	// Reload under the lease; a concurrent refresh may have landed between
	// the caller's read and the claim.
	g, err = s.Grant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.Status == models.StatusActive && !g.NeedsRefresh(now, s.skew, s.refreshMaxAge) {
		if relErr := s.grants.ReleaseRefreshLease(ctx, grantID); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release refresh lease", "grant_id", grantID, "error", relErr)
		}
		return g, nil
	}

	refreshToken, err := s.cipher.Decrypt(g.RefreshTokenEnc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not decrypt refresh token")
	}

	ts, err := s.adapter.RefreshTokens(ctx, refreshToken)
	if err != nil {
		s.incRefreshFailures()
		if dErrors.HasCode(err, dErrors.CodeNeedsReauth) {
			// Terminal: the refresh token is dead. Every binding backed by
			// this grant now reads as needs_reauth.
			if stErr := s.grants.SetStatus(ctx, grantID, models.StatusRefreshFailed, s.now().UTC()); stErr != nil {
				s.logger.ErrorContext(ctx, "failed to mark grant refresh_failed", "grant_id", grantID, "error", stErr)
			}
			s.logger.WarnContext(ctx, "grant refresh rejected upstream", "grant_id", grantID)
			return nil, err
		}
		// Transient: release the lease so the next caller can retry.
		if relErr := s.grants.ReleaseRefreshLease(ctx, grantID); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release refresh lease", "grant_id", grantID, "error", relErr)
		}
		return nil, err
	}

	accessEnc, err := s.cipher.Encrypt(ts.AccessToken)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not encrypt access token")
	}

	// Providers may omit the refresh token when it is unchanged.
	refreshEnc := g.RefreshTokenEnc
	refreshIssuedAt := g.RefreshTokenIssuedAt
	if ts.RefreshToken != "" {
		refreshEnc, err = s.cipher.Encrypt(ts.RefreshToken)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not encrypt refresh token")
		}
		refreshIssuedAt = s.now().UTC()
	}

	now = s.now().UTC()
	if err := s.grants.UpdateTokens(ctx, grantID, accessEnc, refreshEnc, ts.ExpiresAt(now), refreshIssuedAt, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not persist refreshed tokens")
	}

	s.incRefreshes(start)
	s.logger.InfoContext(ctx, "grant refreshed", "grant_id", grantID, "expires_at", ts.ExpiresAt(now))

	return s.Grant(ctx, grantID)
}

// Report aggregates a proactive refresh sweep.
type Report struct {
	Scanned   int `json:"scanned"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// RefreshExpiring proactively refreshes every active grant nearing expiry or
// overdue for rotation. orgID narrows the sweep to one organization; empty
// scans all. Used by the background ticker and the admin trigger, never by a
// blocking user request.
func (s *TokenService) RefreshExpiring(ctx context.Context, orgID string) (Report, error) {
	now := s.now().UTC()
	candidates, err := s.grants.ListRefreshCandidates(ctx, orgID, now.Add(s.skew), now.Add(-s.refreshMaxAge))
	if err != nil {
		return Report{}, dErrors.Wrap(err, dErrors.CodeInternal, "could not list refresh candidates")
	}

	report := Report{Scanned: len(candidates)}
	for _, g := range candidates {
		if _, err := s.refresh(ctx, g.ID); err != nil {
			report.Failed++
			s.logger.WarnContext(ctx, "proactive refresh failed", "grant_id", g.ID, "error", err)
			continue
		}
		report.Refreshed++
	}
	return report, nil
}

// MarkRevoked tombstones a grant locally. The upstream revocation is the
// binding service's job; local state transitions regardless of its outcome.
func (s *TokenService) MarkRevoked(ctx context.Context, grantID uuid.UUID) error {
	if err := s.grants.Tombstone(ctx, grantID, s.now().UTC()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "grant not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "could not tombstone grant")
	}
	return nil
}

// DecryptRefreshToken exposes the plaintext refresh token for upstream
// revocation during disconnect. Callers must not persist the value.
func (s *TokenService) DecryptRefreshToken(g *models.Grant) (string, error) {
	if g.RefreshTokenEnc == models.Tombstone {
		return "", nil
	}
	return s.cipher.Decrypt(g.RefreshTokenEnc)
}

func (s *TokenService) incRefreshes(start time.Time) {
	if s.metrics != nil {
		s.metrics.IncRefreshes()
		s.metrics.ObserveRefresh(start)
	}
}

func (s *TokenService) incRefreshFailures() {
	if s.metrics != nil {
		s.metrics.IncRefreshFailures()
	}
}
