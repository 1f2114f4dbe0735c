package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/sentinel"
)

func TestInMemory_ConsumeAuthIsOneShot(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveAuth(ctx, "state-1", &PendingAuth{OrgID: "org-a"}))

	a, err := s.ConsumeAuth(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "org-a", a.OrgID)

	_, err = s.ConsumeAuth(ctx, "state-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "a state token never verifies twice")
}

func TestInMemory_ExpiredAuthDoesNotVerify(t *testing.T) {
	now := time.Now()
	s := NewInMemory(WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.SaveAuth(ctx, "state-1", &PendingAuth{OrgID: "org-a"}))

	now = now.Add(2 * time.Minute)
	_, err := s.ConsumeAuth(ctx, "state-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemory_ConnectionLookupSurvivesUntilTTL(t *testing.T) {
	now := time.Now()
	s := NewInMemory(WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	conn := &PendingConnection{ID: uuid.New(), OrgID: "org-a", GrantID: uuid.New()}
	require.NoError(t, s.SaveConnection(ctx, conn))

	// Repeated reads work: selecting several tenants uses the same pending
	// connection.
	for range 2 {
		got, err := s.Connection(ctx, conn.ID)
		require.NoError(t, err)
		assert.Equal(t, "org-a", got.OrgID)
	}

	now = now.Add(2 * time.Minute)
	_, err := s.Connection(ctx, conn.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemory_SweepDropsExpiredEntries(t *testing.T) {
	now := time.Now()
	s := NewInMemory(WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.SaveAuth(ctx, "state-1", &PendingAuth{OrgID: "org-a"}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.SaveAuth(ctx, "state-2", &PendingAuth{OrgID: "org-a"}))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.auths, "state-1")
	assert.Contains(t, s.auths, "state-2")
}
