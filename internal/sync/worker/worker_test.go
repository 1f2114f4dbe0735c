package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/sync/models"
	"ledgerbridge/internal/sync/store"
	dErrors "ledgerbridge/pkg/domain-errors"
)

type fakeFetcher struct {
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, job *models.Job) ([]byte, error) {
	f.calls[job.ID]++
	if err, ok := f.errs[job.ID]; ok {
		return nil, err
	}
	return f.payloads[job.ID], nil
}

func pendingJob(t *testing.T, queue *store.InMemory) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:            ulid.Make().String(),
		BindingID:     uuid.New(),
		Entity:        models.EntityInvoice,
		ResourceID:    "res-1",
		SourceEventID: "evt-1",
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, queue.Enqueue(context.Background(), job))
	return job
}

func TestProcessBatch_SuccessfulJob(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher)

	job := pendingJob(t, queue)
	fetcher.payloads[job.ID] = []byte(`{"Invoices":[{}]}`)

	w.processBatch(context.Background())

	got, ok := queue.Find(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, int64(17), got.ResultBytes)
	assert.Empty(t, got.LastError)
}

func TestProcessBatch_NeedsReauthParksWithoutRetry(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher)

	job := pendingJob(t, queue)
	fetcher.errs[job.ID] = dErrors.New(dErrors.CodeNeedsReauth, "grant requires reauthorization")

	w.processBatch(context.Background())
	w.processBatch(context.Background())

	got, ok := queue.Find(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, fetcher.calls[job.ID], "parked jobs are never re-executed")
	assert.Contains(t, got.LastError, "reauthorization")
}

func TestProcessBatch_TransientFailureRetriesUpToBound(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher, WithMaxAttempts(3))

	job := pendingJob(t, queue)
	fetcher.errs[job.ID] = dErrors.New(dErrors.CodeUnavailable, "provider api returned 503")

	w.processBatch(context.Background())
	got, _ := queue.Find(job.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	w.processBatch(context.Background())
	got, _ = queue.Find(job.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 2, got.Attempts)

	// Third execution exhausts the attempt budget.
	w.processBatch(context.Background())
	got, _ = queue.Find(job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	w.processBatch(context.Background())
	assert.Equal(t, 3, fetcher.calls[job.ID])
}

func TestProcessBatch_TransientFailureThenRecovery(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher)

	job := pendingJob(t, queue)
	fetcher.errs[job.ID] = dErrors.New(dErrors.CodeRateLimited, "provider rate limit hit")

	w.processBatch(context.Background())
	delete(fetcher.errs, job.ID)
	fetcher.payloads[job.ID] = []byte(`{}`)
	w.processBatch(context.Background())

	got, ok := queue.Find(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestProcessBatch_NonRetryableFailureFailsImmediately(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher)

	job := pendingJob(t, queue)
	fetcher.errs[job.ID] = dErrors.New(dErrors.CodeExternalAPI, "provider api returned 400")

	w.processBatch(context.Background())

	got, ok := queue.Find(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestProcessBatch_BadJobDoesNotBlockSiblings(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher)

	bad := pendingJob(t, queue)
	good := pendingJob(t, queue)
	fetcher.errs[bad.ID] = dErrors.New(dErrors.CodeExternalAPI, "provider api returned 400")
	fetcher.payloads[good.ID] = []byte(`{}`)

	w.processBatch(context.Background())

	gotBad, _ := queue.Find(bad.ID)
	gotGood, _ := queue.Find(good.ID)
	assert.Equal(t, models.StatusFailed, gotBad.Status)
	assert.Equal(t, models.StatusDone, gotGood.Status)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	queue := store.NewInMemory()
	fetcher := newFakeFetcher()
	w := New(queue, fetcher, WithInterval(5*time.Millisecond))

	job := pendingJob(t, queue)
	fetcher.payloads[job.ID] = []byte(`{}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, ok := queue.Find(job.ID)
		return ok && got.Status == models.StatusDone
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
