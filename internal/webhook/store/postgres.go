package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"ledgerbridge/internal/sentinel"
	"ledgerbridge/internal/webhook/models"
)

// PostgresStore persists received events in PostgreSQL. Dedup rides on the
// unique constraint over event_id.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Insert(ctx context.Context, e *models.ReceivedEvent) error {
	query := `
		INSERT INTO webhook_events (
			event_id, provider, tenant_id, event_category, event_type,
			resource_id, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.EventID, e.Provider, e.TenantID, e.EventCategory, e.EventType,
		e.ResourceID, e.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}
