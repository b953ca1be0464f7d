package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type tenantRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &tenantRepoPG{pool: pool}
}

const tenantColumns = `id, identifier, name, description, email, phone, website,
	address, city, state, country, postal_code,
	is_active, is_on_trial, trial_ends_at, created_at, updated_at`

func (r *tenantRepoPG) Create(ctx context.Context, t *Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tenants (
			id, identifier, name, description, email, phone, website,
			address, city, state, country, postal_code,
			is_active, is_on_trial, trial_ends_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		t.ID, t.Identifier, t.Name, t.Description, t.Email, t.Phone, t.Website,
		t.Address, t.City, t.State, t.Country, t.PostalCode,
		t.IsActive, t.IsOnTrial, t.TrialEndsAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "tenants_identifier_key") {
			return apperr.ErrTenantExists
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (r *tenantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return r.get(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (r *tenantRepoPG) GetByIdentifier(ctx context.Context, identifier string) (*Tenant, error) {
	return r.get(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE identifier = $1`, identifier)
}

func (r *tenantRepoPG) get(ctx context.Context, query string, arg interface{}) (*Tenant, error) {
	t, err := scanTenant(db.Conn(ctx, r.pool).QueryRow(ctx, query, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (r *tenantRepoPG) Update(ctx context.Context, t *Tenant) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE tenants SET
			identifier = $2, name = $3, description = $4, email = $5, phone = $6,
			website = $7, address = $8, city = $9, state = $10, country = $11,
			postal_code = $12, is_active = $13, is_on_trial = $14, trial_ends_at = $15,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Identifier, t.Name, t.Description, t.Email, t.Phone,
		t.Website, t.Address, t.City, t.State, t.Country,
		t.PostalCode, t.IsActive, t.IsOnTrial, t.TrialEndsAt,
	).Scan(&t.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.ErrTenantNotFound
		}
		if db.IsUniqueViolation(err, "tenants_identifier_key") {
			return apperr.ErrTenantExists
		}
		return fmt.Errorf("update tenant %s: %w", t.ID, err)
	}
	return nil
}

func (r *tenantRepoPG) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenants: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, total, rows.Err()
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(
		&t.ID, &t.Identifier, &t.Name, &t.Description, &t.Email, &t.Phone, &t.Website,
		&t.Address, &t.City, &t.State, &t.Country, &t.PostalCode,
		&t.IsActive, &t.IsOnTrial, &t.TrialEndsAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
