package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientColumns = `id, tenant_id, mrn, first_name, last_name, birth_date, gender,
	phone, email, active, created_at, updated_at`

var errDuplicateMRN = apperr.New(apperr.KindConflict, "a patient with this MRN already exists")

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, tenant_id, mrn, first_name, last_name, birth_date, gender, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.TenantID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "patients_tenant_mrn_key") {
			return errDuplicateMRN
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Get(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patients SET
			mrn = $3, first_name = $4, last_name = $5, birth_date = $6, gender = $7,
			phone = $8, email = $9, active = $10, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at`,
		p.ID, p.TenantID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.Phone, p.Email, p.Active,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.ErrNotFound
		}
		if db.IsUniqueViolation(err, "patients_tenant_mrn_key") {
			return errDuplicateMRN
		}
		return fmt.Errorf("update patient %s: %w", p.ID, err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, tenantID uuid.UUID, query string, limit, offset int) ([]*Patient, int, error) {
	q := db.Conn(ctx, r.pool)
	where := "tenant_id = $1"
	args := []interface{}{tenantID}
	if s := strings.TrimSpace(query); s != "" {
		args = append(args, "%"+s+"%")
		where += " AND (first_name ILIKE $2 OR last_name ILIKE $2 OR mrn ILIKE $2)"
	}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM patients WHERE %s ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`,
		patientColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func (r *patientRepoPG) CountActive(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE tenant_id = $1 AND active`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count patients for tenant %s: %w", tenantID, err)
	}
	return n, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.TenantID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
