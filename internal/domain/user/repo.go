package user

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/auth"
)

// Repository persists users. Lookups skip soft-deleted rows and report a
// miss as apperr.ErrUserNotFound.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*User, error)
	GetByVerificationToken(ctx context.Context, tokenHash string) (*User, error)
	GetByResetToken(ctx context.Context, tokenHash string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]*User, int, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
	CountByRole(ctx context.Context, tenantID uuid.UUID) (map[auth.Role]int, error)
}
