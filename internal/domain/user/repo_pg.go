package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, phone, avatar,
	role, permissions, status, last_login_at, is_email_verified, email_verified_at,
	password_reset_token, password_reset_expires, email_verification_token,
	must_change_password, profile, preferences, deleted_at, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Profile == nil {
		u.Profile = map[string]interface{}{}
	}
	if u.Preferences == nil {
		u.Preferences = map[string]interface{}{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (
			id, tenant_id, email, password_hash, first_name, last_name, phone, avatar,
			role, permissions, status, is_email_verified, email_verified_at,
			email_verification_token, must_change_password, profile, preferences
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`,
		u.ID, u.TenantID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Avatar,
		string(u.Role), u.Permissions, string(u.Status), u.IsEmailVerified, u.EmailVerifiedAt,
		u.EmailVerificationToken, u.MustChangePassword, u.Profile, u.Preferences,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "users_tenant_email_key") {
			return apperr.ErrDuplicateUser
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *userRepoPG) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL`, tenantID, email)
}

func (r *userRepoPG) GetByVerificationToken(ctx context.Context, tokenHash string) (*User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users
		WHERE email_verification_token = $1 AND deleted_at IS NULL`, tokenHash)
}

func (r *userRepoPG) GetByResetToken(ctx context.Context, tokenHash string) (*User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users
		WHERE password_reset_token = $1 AND deleted_at IS NULL`, tokenHash)
}

func (r *userRepoPG) get(ctx context.Context, query string, args ...interface{}) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET
			email = $2, password_hash = $3, first_name = $4, last_name = $5, phone = $6,
			avatar = $7, role = $8, permissions = $9, status = $10, is_email_verified = $11,
			email_verified_at = $12, password_reset_token = $13, password_reset_expires = $14,
			email_verification_token = $15, must_change_password = $16, profile = $17,
			preferences = $18, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		u.Avatar, string(u.Role), u.Permissions, string(u.Status), u.IsEmailVerified,
		u.EmailVerifiedAt, u.PasswordResetToken, u.PasswordResetExpires,
		u.EmailVerificationToken, u.MustChangePassword, u.Profile,
		u.Preferences,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.ErrUserNotFound
		}
		if db.IsUniqueViolation(err, "users_tenant_email_key") {
			return apperr.ErrDuplicateUser
		}
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

func (r *userRepoPG) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update last login %s: %w", id, err)
	}
	return nil
}

func (r *userRepoPG) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET deleted_at = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, at, string(StatusInactive))
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func listWhere(tenantID uuid.UUID, f ListFilter) (string, []interface{}) {
	conds := []string{"tenant_id = $1", "deleted_at IS NULL"}
	args := []interface{}{tenantID}
	if !f.IncludeInactive {
		args = append(args, string(StatusInactive))
		conds = append(conds, fmt.Sprintf("status <> $%d", len(args)))
	}
	if f.Role != "" {
		args = append(args, string(f.Role))
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}
	return strings.Join(conds, " AND "), args
}

func (r *userRepoPG) List(ctx context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]*User, int, error) {
	q := db.Conn(ctx, r.pool)
	where, args := listWhere(tenantID, f)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (r *userRepoPG) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users for tenant %s: %w", tenantID, err)
	}
	return n, nil
}

func (r *userRepoPG) CountByRole(ctx context.Context, tenantID uuid.UUID) (map[auth.Role]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT role, COUNT(*) FROM users
		WHERE tenant_id = $1 AND deleted_at IS NULL
		GROUP BY role`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	defer rows.Close()

	out := make(map[auth.Role]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[auth.Role(role)] = n
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role, status string
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &u.Avatar,
		&role, &u.Permissions, &status, &u.LastLoginAt, &u.IsEmailVerified, &u.EmailVerifiedAt,
		&u.PasswordResetToken, &u.PasswordResetExpires, &u.EmailVerificationToken,
		&u.MustChangePassword, &u.Profile, &u.Preferences, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	u.Status = Status(status)
	return &u, nil
}
