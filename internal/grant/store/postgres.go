package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"ledgerbridge/internal/grant/models"
	"ledgerbridge/internal/sentinel"
)

// PostgresStore persists grants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed grant store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Create(ctx context.Context, g *models.Grant) error {
	query := `
		INSERT INTO grants (
			id, org_id, status, access_token_enc, refresh_token_enc,
			expires_at, scope, auth_event_id, refresh_token_issued_at,
			created_at, updated_at, last_used_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		g.ID, g.OrgID, string(g.Status), g.AccessTokenEnc, g.RefreshTokenEnc,
		g.ExpiresAt, g.Scope, g.AuthEventID, g.RefreshTokenIssuedAt,
		g.CreatedAt, g.UpdatedAt, nullTime(g.LastUsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

const grantColumns = `
	id, org_id, status, access_token_enc, refresh_token_enc,
	expires_at, scope, auth_event_id, refresh_token_issued_at,
	refresh_lease_until, created_at, updated_at, last_used_at
`

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE id = $1`
	g, err := scanGrant(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find grant by id: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListRefreshCandidates(ctx context.Context, orgID string, expiringBefore, issuedBefore time.Time) ([]*models.Grant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM grants
		WHERE status = $1
		  AND ($2 = '' OR org_id = $2)
		  AND (expires_at < $3 OR refresh_token_issued_at < $4)
		ORDER BY expires_at
	`
	rows, err := s.db.QueryContext(ctx, query, string(models.StatusActive), orgID, expiringBefore, issuedBefore)
	if err != nil {
		return nil, fmt.Errorf("list refresh candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh candidate: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt, refreshIssuedAt, now time.Time) error {
	query := `
		UPDATE grants
		SET access_token_enc = $2,
		    refresh_token_enc = $3,
		    expires_at = $4,
		    refresh_token_issued_at = $5,
		    status = $6,
		    refresh_lease_until = NULL,
		    updated_at = $7
		WHERE id = $1
	`
	return s.execExpectingRow(ctx, "update grant tokens", query,
		id, accessEnc, refreshEnc, expiresAt, refreshIssuedAt, string(models.StatusActive), now)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status models.Status, now time.Time) error {
	query := `UPDATE grants SET status = $2, updated_at = $3 WHERE id = $1`
	return s.execExpectingRow(ctx, "set grant status", query, id, string(status), now)
}

func (s *PostgresStore) Tombstone(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE grants
		SET status = $2,
		    access_token_enc = $3,
		    refresh_token_enc = $3,
		    refresh_lease_until = NULL,
		    updated_at = $4
		WHERE id = $1
	`
	return s.execExpectingRow(ctx, "tombstone grant", query, id, string(models.StatusRevoked), models.Tombstone, now)
}

func (s *PostgresStore) TouchLastUsed(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `UPDATE grants SET last_used_at = $2 WHERE id = $1`
	return s.execExpectingRow(ctx, "touch grant", query, id, now)
}

// ClaimRefreshLease relies on a conditional UPDATE, not read-then-write, so
// two replicas racing on the same grant cannot both win.
func (s *PostgresStore) ClaimRefreshLease(ctx context.Context, id uuid.UUID, until, now time.Time) (bool, error) {
	query := `
		UPDATE grants
		SET refresh_lease_until = $2
		WHERE id = $1
		  AND (refresh_lease_until IS NULL OR refresh_lease_until < $3)
	`
	res, err := s.db.ExecContext(ctx, query, id, until, now)
	if err != nil {
		return false, fmt.Errorf("claim refresh lease: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim refresh lease rows: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) ReleaseRefreshLease(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE grants SET refresh_lease_until = NULL WHERE id = $1`
	return s.execExpectingRow(ctx, "release refresh lease", query, id)
}

func (s *PostgresStore) execExpectingRow(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*models.Grant, error) {
	var g models.Grant
	var status string
	var leaseUntil, lastUsed sql.NullTime
	err := row.Scan(
		&g.ID, &g.OrgID, &status, &g.AccessTokenEnc, &g.RefreshTokenEnc,
		&g.ExpiresAt, &g.Scope, &g.AuthEventID, &g.RefreshTokenIssuedAt,
		&leaseUntil, &g.CreatedAt, &g.UpdatedAt, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	g.Status = models.Status(status)
	if leaseUntil.Valid {
		g.RefreshLeaseUntil = leaseUntil.Time
	}
	if lastUsed.Valid {
		g.LastUsedAt = lastUsed.Time
	}
	return &g, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
