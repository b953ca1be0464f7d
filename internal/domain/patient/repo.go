package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, tenantID uuid.UUID, query string, limit, offset int) ([]*Patient, int, error)
	CountActive(ctx context.Context, tenantID uuid.UUID) (int, error)
}
