package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/sentinel"
)

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_BindInsertsWhenNoOwnRow(t *testing.T) {
	s, mock := newMock(t)
	b := newBinding("org-a", "ext-1", uuid.New())

	mock.ExpectQuery("UPDATE tenant_bindings").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO tenant_bindings").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Bind(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BindUniqueViolationIsConflict(t *testing.T) {
	s, mock := newMock(t)
	b := newBinding("org-b", "ext-1", uuid.New())

	mock.ExpectQuery("UPDATE tenant_bindings").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO tenant_bindings").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Bind(context.Background(), b)
	assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_BindReactivationHitsIndexToo(t *testing.T) {
	s, mock := newMock(t)
	b := newBinding("org-a", "ext-1", uuid.New())

	// Reactivating while another org actively owns the pair trips the
	// partial unique index on the UPDATE itself.
	mock.ExpectQuery("UPDATE tenant_bindings").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Bind(context.Background(), b)
	assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetStatusNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("UPDATE tenant_bindings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetStatus(context.Background(), uuid.New(), models.StatusRevoked, time.Now())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgres_CountActiveByGrant(t *testing.T) {
	s, mock := newMock(t)
	grantID := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.CountActiveByGrant(context.Background(), grantID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
