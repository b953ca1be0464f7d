package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists tenants. Lookups return apperr.ErrTenantNotFound when
// no row matches; a taken identifier is apperr.ErrTenantExists.
type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByIdentifier(ctx context.Context, identifier string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
}
