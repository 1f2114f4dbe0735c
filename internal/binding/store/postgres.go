package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/sentinel"
)

// PostgresStore persists tenant bindings in PostgreSQL. The one-owner
// invariant rides on the partial unique index over
// (provider, external_tenant_id) WHERE status = 'active'.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed binding store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Bind(ctx context.Context, b *models.TenantBinding) error {
	// Reactivate/repoint a row this organization already owns for the pair.
	// The partial unique index still fires if another organization holds the
	// pair actively, so the invariant cannot be raced around.
	updateQuery := `
		UPDATE tenant_bindings
		SET status = $4, grant_id = $5, external_tenant_name = $6, updated_at = $7
		WHERE provider = $1 AND external_tenant_id = $2 AND org_id = $3
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, updateQuery,
		b.Provider, b.ExternalTenantID, b.OrgID,
		string(models.StatusActive), b.GrantID, b.ExternalTenantName, b.UpdatedAt,
	).Scan(&b.ID, &b.CreatedAt)
	if err == nil {
		b.Status = models.StatusActive
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("rebind tenant: %w", err)
	}

	insertQuery := `
		INSERT INTO tenant_bindings (
			id, org_id, provider, external_tenant_id, external_tenant_name,
			grant_id, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, insertQuery,
		b.ID, b.OrgID, b.Provider, b.ExternalTenantID, b.ExternalTenantName,
		b.GrantID, string(b.Status), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("bind tenant: %w", err)
	}
	return nil
}

const bindingColumns = `
	id, org_id, provider, external_tenant_id, external_tenant_name,
	grant_id, status, created_at, updated_at
`

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.TenantBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM tenant_bindings WHERE id = $1`
	b, err := scanBinding(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find binding by id: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) FindActiveByExternalTenant(ctx context.Context, provider, externalTenantID string) (*models.TenantBinding, error) {
	query := `
		SELECT ` + bindingColumns + `
		FROM tenant_bindings
		WHERE provider = $1 AND external_tenant_id = $2 AND status = $3
	`
	b, err := scanBinding(s.db.QueryRowContext(ctx, query, provider, externalTenantID, string(models.StatusActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find binding by external tenant: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListByOrg(ctx context.Context, orgID string) ([]*models.TenantBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM tenant_bindings WHERE org_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []*models.TenantBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status models.Status, now time.Time) error {
	query := `UPDATE tenant_bindings SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, string(status), now)
	if err != nil {
		return fmt.Errorf("set binding status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set binding status rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountActiveByGrant(ctx context.Context, grantID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM tenant_bindings WHERE grant_id = $1 AND status = $2`
	var count int
	if err := s.db.QueryRowContext(ctx, query, grantID, string(models.StatusActive)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bindings by grant: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row rowScanner) (*models.TenantBinding, error) {
	var b models.TenantBinding
	var status string
	err := row.Scan(
		&b.ID, &b.OrgID, &b.Provider, &b.ExternalTenantID, &b.ExternalTenantName,
		&b.GrantID, &status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.Status(status)
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
