package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/sentinel"
	"ledgerbridge/internal/sync/models"
)

func job(id string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:            id,
		BindingID:     uuid.New(),
		Entity:        models.EntityInvoice,
		ResourceID:    "res-1",
		SourceEventID: "evt-" + id,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInMemory_EnqueueRejectsDuplicateID(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, job("01A")))
	assert.ErrorIs(t, s.Enqueue(ctx, job("01A")), sentinel.ErrDuplicate)
}

func TestInMemory_FetchPendingOrderedAndLimited(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, job("01C")))
	require.NoError(t, s.Enqueue(ctx, job("01A")))
	require.NoError(t, s.Enqueue(ctx, job("01B")))

	jobs, err := s.FetchPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "01A", jobs[0].ID)
	assert.Equal(t, "01B", jobs[1].ID)
}

func TestInMemory_Transitions(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Enqueue(ctx, job("01A")))
	require.NoError(t, s.Enqueue(ctx, job("01B")))
	require.NoError(t, s.Enqueue(ctx, job("01C")))

	require.NoError(t, s.MarkDone(ctx, "01A", 128, now))
	require.NoError(t, s.MarkFailed(ctx, "01B", "provider api returned 400", now))
	require.NoError(t, s.RecordAttempt(ctx, "01C", "provider api returned 503", now))

	done, _ := s.Find("01A")
	assert.Equal(t, models.StatusDone, done.Status)
	assert.Equal(t, int64(128), done.ResultBytes)
	assert.Equal(t, 1, done.Attempts)

	failed, _ := s.Find("01B")
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "provider api returned 400", failed.LastError)

	retried, _ := s.Find("01C")
	assert.Equal(t, models.StatusPending, retried.Status)
	assert.Equal(t, 1, retried.Attempts)

	jobs, err := s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "01C", jobs[0].ID)
}

func TestInMemory_MarkUnknownJob(t *testing.T) {
	s := NewInMemory()
	assert.ErrorIs(t, s.MarkDone(context.Background(), "nope", 0, time.Now()), sentinel.ErrNotFound)
}

func newPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_EnqueueDuplicate(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec("INSERT INTO sync_jobs").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	assert.ErrorIs(t, s.Enqueue(context.Background(), job("01A")), sentinel.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FetchPendingScansRows(t *testing.T) {
	s, mock := newPostgresMock(t)
	bindingID := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "binding_id", "entity", "resource_id", "source_event_id",
		"status", "attempts", "last_error", "result_bytes", "created_at", "updated_at",
	}).AddRow("01A", bindingID, "invoice", "res-1", "evt-1", "pending", 2, "provider api returned 503", int64(0), now, now)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	jobs, err := s.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.EntityInvoice, jobs[0].Entity)
	assert.Equal(t, models.StatusPending, jobs[0].Status)
	assert.Equal(t, 2, jobs[0].Attempts)
	assert.Equal(t, bindingID, jobs[0].BindingID)
}

func TestPostgres_MarkDoneNotFound(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec("UPDATE sync_jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.MarkDone(context.Background(), "01A", 10, time.Now()), sentinel.ErrNotFound)
}
