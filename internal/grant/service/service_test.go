package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/grant/models"
	"ledgerbridge/internal/grant/store"
	"ledgerbridge/internal/provider/xero"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/secrets"
)

// fakeAdapter implements OAuthAdapter and records what it was asked to do.
type fakeAdapter struct {
	mu            sync.Mutex
	refreshFn     func(refreshToken string) (*xero.TokenSet, error)
	refreshCalls  atomic.Int32
	clientTokens  []string
	clientTenants []string
}

func (f *fakeAdapter) RefreshTokens(_ context.Context, refreshToken string) (*xero.TokenSet, error) {
	f.refreshCalls.Add(1)
	return f.refreshFn(refreshToken)
}

func (f *fakeAdapter) Client(accessToken, tenantID string) *xero.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientTokens = append(f.clientTokens, accessToken)
	f.clientTenants = append(f.clientTenants, tenantID)
	return nil
}

func (f *fakeAdapter) lastClientToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clientTokens) == 0 {
		return ""
	}
	return f.clientTokens[len(f.clientTokens)-1]
}

type fixture struct {
	svc     *TokenService
	grants  *store.InMemory
	adapter *fakeAdapter
	cipher  *secrets.Cipher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cipher, err := secrets.NewCipher("token-service-test-secret")
	require.NoError(t, err)

	grants := store.NewInMemory()
	adapter := &fakeAdapter{
		refreshFn: func(string) (*xero.TokenSet, error) {
			return &xero.TokenSet{AccessToken: "new-at", RefreshToken: "new-rt", ExpiresIn: 1800}, nil
		},
	}

	svc := New(grants, adapter, cipher, opts...)
	return &fixture{svc: svc, grants: grants, adapter: adapter, cipher: cipher}
}

// seedGrant persists a grant with plaintext tokens encrypted by the fixture cipher.
func (f *fixture) seedGrant(t *testing.T, expiresIn time.Duration) *models.Grant {
	t.Helper()
	now := time.Now().UTC()
	atEnc, err := f.cipher.Encrypt("old-at")
	require.NoError(t, err)
	rtEnc, err := f.cipher.Encrypt("old-rt")
	require.NoError(t, err)

	g := &models.Grant{
		ID:                   uuid.New(),
		OrgID:                "org-1",
		Status:               models.StatusActive,
		AccessTokenEnc:       atEnc,
		RefreshTokenEnc:      rtEnc,
		ExpiresAt:            now.Add(expiresIn),
		RefreshTokenIssuedAt: now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, f.grants.Create(context.Background(), g))
	return g
}

func TestClientFor_FreshGrantSkipsRefresh(t *testing.T) {
	f := newFixture(t)
	g := f.seedGrant(t, time.Hour)

	_, err := f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, int32(0), f.adapter.refreshCalls.Load())
	assert.Equal(t, "old-at", f.adapter.lastClientToken())
	assert.Equal(t, "tenant-1", f.adapter.clientTenants[0])

	// Usage is recorded.
	stored, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.False(t, stored.LastUsedAt.IsZero())
}

func TestClientFor_ExpiringGrantRefreshes(t *testing.T) {
	f := newFixture(t)
	g := f.seedGrant(t, 5*time.Minute) // inside the 10 minute skew

	_, err := f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.adapter.refreshCalls.Load())
	assert.Equal(t, "new-at", f.adapter.lastClientToken(), "client must carry the refreshed token")

	stored, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.True(t, stored.RefreshLeaseUntil.IsZero(), "lease cleared after refresh")

	rt, err := f.cipher.Decrypt(stored.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "new-rt", rt)
}

func TestClientFor_TerminalRefreshMarksGrantFailed(t *testing.T) {
	f := newFixture(t)
	f.adapter.refreshFn = func(string) (*xero.TokenSet, error) {
		return nil, dErrors.New(dErrors.CodeNeedsReauth, "authorization no longer valid")
	}
	g := f.seedGrant(t, 5*time.Minute)

	_, err := f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNeedsReauth), "caller sees needs-reauthorization, not a generic error")

	stored, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefreshFailed, stored.Status)

	// Subsequent calls fail fast without touching the adapter again.
	calls := f.adapter.refreshCalls.Load()
	_, err = f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNeedsReauth))
	assert.Equal(t, calls, f.adapter.refreshCalls.Load())
}

func TestClientFor_TransientRefreshIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.adapter.refreshFn = func(string) (*xero.TokenSet, error) {
		return nil, dErrors.New(dErrors.CodeUnavailable, "token endpoint unreachable")
	}
	g := f.seedGrant(t, 5*time.Minute)

	_, err := f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.Error(t, err)
	assert.True(t, dErrors.Retryable(err))

	stored, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status, "transient failure must not poison the grant")
	assert.True(t, stored.RefreshLeaseUntil.IsZero(), "lease released so the next caller can retry")

	// Upstream recovers; the retry succeeds.
	f.adapter.refreshFn = func(string) (*xero.TokenSet, error) {
		return &xero.TokenSet{AccessToken: "new-at", RefreshToken: "new-rt", ExpiresIn: 1800}, nil
	}
	_, err = f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.NoError(t, err)
}

func TestClientFor_RotationPolicyRefreshesOldRefreshTokens(t *testing.T) {
	f := newFixture(t, WithRefreshTokenMaxAge(30*24*time.Hour))
	g := f.seedGrant(t, time.Hour) // access token fresh

	// Age the refresh token past the ceiling.
	require.NoError(t, f.grants.UpdateTokens(context.Background(), g.ID,
		g.AccessTokenEnc, g.RefreshTokenEnc, g.ExpiresAt,
		time.Now().UTC().Add(-40*24*time.Hour), time.Now().UTC()))

	_, err := f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.adapter.refreshCalls.Load(), "old refresh token rotated despite fresh access token")
}

func TestClientFor_RefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	f := newFixture(t)
	f.adapter.refreshFn = func(string) (*xero.TokenSet, error) {
		return &xero.TokenSet{AccessToken: "new-at", ExpiresIn: 1800}, nil
	}
	g := f.seedGrant(t, 5*time.Minute)

	_, err := f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.NoError(t, err)

	stored, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	rt, err := f.cipher.Decrypt(stored.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "old-rt", rt)
}

func TestClientFor_ConcurrentCallersRefreshOnce(t *testing.T) {
	f := newFixture(t)
	f.adapter.refreshFn = func(string) (*xero.TokenSet, error) {
		time.Sleep(50 * time.Millisecond) // widen the race window
		return &xero.TokenSet{AccessToken: "new-at", RefreshToken: "new-rt", ExpiresIn: 1800}, nil
	}
	g := f.seedGrant(t, 5*time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), f.adapter.refreshCalls.Load(), "refresh token must be spent exactly once")
}

func TestClientFor_LeaseHeldByAnotherReplica(t *testing.T) {
	f := newFixture(t)
	g := f.seedGrant(t, 5*time.Minute)

	// Simulate another replica mid-refresh.
	now := time.Now().UTC()
	claimed, err := f.grants.ClaimRefreshLease(context.Background(), g.ID, now.Add(time.Minute), now)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.svc.ClientFor(context.Background(), g.ID, "tenant-1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, int32(0), f.adapter.refreshCalls.Load())
}

func TestRefreshExpiring(t *testing.T) {
	f := newFixture(t)
	ok := f.seedGrant(t, 5*time.Minute)
	bad := f.seedGrant(t, 5*time.Minute)
	fresh := f.seedGrant(t, 2*time.Hour)

	// Give the doomed grant a distinguishable refresh token.
	badRtEnc, err := f.cipher.Encrypt("bad-rt")
	require.NoError(t, err)
	require.NoError(t, f.grants.UpdateTokens(context.Background(), bad.ID,
		bad.AccessTokenEnc, badRtEnc, bad.ExpiresAt, bad.RefreshTokenIssuedAt, time.Now().UTC()))

	f.adapter.refreshFn = func(rt string) (*xero.TokenSet, error) {
		if rt == "bad-rt" {
			return nil, dErrors.New(dErrors.CodeNeedsReauth, "authorization no longer valid")
		}
		return &xero.TokenSet{AccessToken: "new-at", RefreshToken: "new-rt", ExpiresIn: 1800}, nil
	}

	report, err := f.svc.RefreshExpiring(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Refreshed: 1, Failed: 1}, report)

	stored, err := f.grants.FindByID(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)

	stored, err = f.grants.FindByID(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefreshFailed, stored.Status)

	stored, err = f.grants.FindByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Status)
}

func TestCreateGrant_EncryptsAtRest(t *testing.T) {
	f := newFixture(t)

	g, err := f.svc.CreateGrant(context.Background(), "org-1", &xero.TokenSet{
		AccessToken:  "plain-at",
		RefreshToken: "plain-rt",
		ExpiresIn:    1800,
		Scope:        "offline_access accounting.transactions",
		AuthEventID:  "evt-1",
	})
	require.NoError(t, err)

	stored, err := f.grants.FindByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.AccessTokenEnc, "plain-at")
	assert.NotContains(t, stored.RefreshTokenEnc, "plain-rt")

	at, err := f.cipher.Decrypt(stored.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "plain-at", at)
	assert.Equal(t, "evt-1", stored.AuthEventID)
}
