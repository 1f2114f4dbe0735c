package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"ledgerbridge/internal/sentinel"
	"ledgerbridge/internal/sync/models"
)

// PostgresStore persists sync jobs in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed queue.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Enqueue(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO sync_jobs (
			id, binding_id, entity, resource_id, source_event_id,
			status, attempts, last_error, result_bytes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.BindingID, string(job.Entity), job.ResourceID, job.SourceEventID,
		string(job.Status), job.Attempts, job.LastError, job.ResultBytes,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("enqueue sync job: %w", err)
	}
	return nil
}

const jobColumns = `
	id, binding_id, entity, resource_id, source_event_id,
	status, attempts, last_error, result_bytes, created_at, updated_at
`

func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sync_jobs
		WHERE status = $1
		ORDER BY id
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(models.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		var j models.Job
		var entity, status string
		err := rows.Scan(
			&j.ID, &j.BindingID, &entity, &j.ResourceID, &j.SourceEventID,
			&status, &j.Attempts, &j.LastError, &j.ResultBytes,
			&j.CreatedAt, &j.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync job: %w", err)
		}
		j.Entity = models.EntityKind(entity)
		j.Status = models.Status(status)
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkDone(ctx context.Context, id string, resultBytes int64, now time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = $2, attempts = attempts + 1, result_bytes = $3, last_error = '', updated_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, query, id, string(models.StatusDone), resultBytes, now)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, lastError string, now time.Time) error {
	query := `
		UPDATE sync_jobs
		SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, query, id, string(models.StatusFailed), lastError, now)
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, id string, lastError string, now time.Time) error {
	query := `
		UPDATE sync_jobs
		SET attempts = attempts + 1, last_error = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	return s.exec(ctx, query, id, lastError, now, string(models.StatusPending))
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sync job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sync job rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
