package db

import (
	"context"

	"github.com/google/uuid"
)

const TenantIDKey contextKey = "tenant_id"

// WithTenantID returns a copy of ctx scoped to tenantID. Set by the tenant
// middleware once the tenant has been resolved.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantIDFromContext returns the resolved tenant id, if any.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(TenantIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
